// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abcxyz/webscript/logging"
	"github.com/abcxyz/webscript/testutil"
)

func TestClassName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		module string
		exp    string
	}{
		{module: "send_mail", exp: "SendMailCommand"},
		{module: "cleanup", exp: "CleanupCommand"},
		{module: "sync_v2_users", exp: "SyncV2UsersCommand"},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.module, func(t *testing.T) {
			t.Parallel()

			if got, want := ClassName(tc.module), tc.exp; got != want {
				t.Errorf("expected %q to be %q", got, want)
			}
		})
	}
}

func TestGenCommand_Run(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		existing string
		stdin    string
		values   Values
		expErr   string
		expFile  string
		expOut   string
		contains []string
	}{
		{
			name:    "creates",
			values:  Values{"module_name": "send_mail", "package": "commands"},
			expFile: "send_mail.go",
			expOut:  "created",
			contains: []string{
				"package commands\n",
				"type SendMailCommand struct {",
				`func (c *SendMailCommand) CommandName() string { return "send_mail" }`,
				`"send_mail (dry run: %t)\n"`,
			},
		},
		{
			name:   "invalid_module",
			values: Values{"module_name": "send-mail"},
			expErr: `invalid module name "send-mail"`,
		},
		{
			name:   "invalid_package",
			values: Values{"module_name": "x", "package": "Bad-Pkg"},
			expErr: `invalid package name "Bad-Pkg"`,
		},
		{
			name:     "declined",
			existing: "keep me",
			stdin:    "n\n",
			values:   Values{"module_name": "report", "package": "main"},
			expFile:  "report.go",
			expOut:   "skipped",
			contains: []string{"keep me"},
		},
		{
			name:     "accepted",
			existing: "replace me",
			stdin:    "yes\n",
			values:   Values{"module_name": "report", "package": "main"},
			expFile:  "report.go",
			expOut:   "created",
			contains: []string{"type ReportCommand struct {"},
		},
		{
			name:     "force",
			existing: "replace me",
			values:   Values{"module_name": "report", "package": "main", "force": true},
			expFile:  "report.go",
			expOut:   "created",
			contains: []string{"type ReportCommand struct {"},
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

			dir := t.TempDir()
			if tc.existing != "" {
				if err := os.WriteFile(filepath.Join(dir, tc.expFile), []byte(tc.existing), 0o600); err != nil {
					t.Fatal(err)
				}
			}

			values := Values{"dir": dir}
			for k, v := range tc.values {
				values[k] = v
			}

			c := NewGenCommand()
			stdin, stdout, _ := c.Pipe()
			stdin.WriteString(tc.stdin)

			result, err := c.Run(ctx, &Call{Values: values})
			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Fatal(diff)
			}
			if tc.expErr != "" {
				return
			}
			if exitCode(result, err) != 0 {
				t.Errorf("expected result %#v to exit 0", result)
			}

			if got, want := stdout.String(), tc.expOut; !strings.Contains(got, want) {
				t.Errorf("expected %q to contain %q", got, want)
			}

			b, err := os.ReadFile(filepath.Join(dir, tc.expFile))
			if err != nil {
				t.Fatal(err)
			}
			for _, want := range tc.contains {
				if got := string(b); !strings.Contains(got, want) {
					t.Errorf("expected\n\n%s\n\nto contain %q", got, want)
				}
			}
		})
	}
}

func TestGenCommand_packageFromDir(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

	dir := filepath.Join(t.TempDir(), "My-Tools")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, nil)
	m.AddDefaultCommands()

	res, err := m.Handle(ctx, "prog", []string{"gencommand", "cleanup", "--dir", dir})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res, filepath.Join(dir, "cleanup.go"); got != want {
		t.Errorf("expected %q to be %q", got, want)
	}

	b, err := os.ReadFile(filepath.Join(dir, "cleanup.go"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "package mytools\n"; !strings.HasPrefix(got, want) {
		t.Errorf("expected %q to start with %q", got, want)
	}
}
