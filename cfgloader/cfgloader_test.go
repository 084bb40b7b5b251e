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

package cfgloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sethvargo/go-envconfig"

	"github.com/abcxyz/webscript/testutil"
)

type serverCfg struct {
	Host    string   `yaml:"host,omitempty" env:"HOST,overwrite,default=127.0.0.1"`
	Port    int      `yaml:"port,omitempty" env:"PORT,overwrite,default=8000"`
	Watch   []string `yaml:"watch,omitempty" env:"WATCH,overwrite"`
	Verbose bool     `yaml:"verbose,omitempty" env:"VERBOSE,overwrite"`
}

func (c *serverCfg) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}
	return nil
}

type plainCfg struct {
	Name string `yaml:"name,omitempty" env:"NAME,overwrite,default=app"`
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "webscript.yaml")
	if err := os.WriteFile(yamlPath, []byte("host: 0.0.0.0\nwatch: [a, b]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	badPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(badPath, []byte("port: [nope"), 0o600); err != nil {
		t.Fatal(err)
	}

	empty := envconfig.MapLookuper(map[string]string{})

	cases := []struct {
		name    string
		opts    []Option
		input   any
		want    any
		wantErr string
	}{
		{
			name:  "defaults",
			opts:  []Option{WithLookuper(empty)},
			input: &serverCfg{},
			want:  &serverCfg{Host: "127.0.0.1", Port: 8000},
		},
		{
			name:  "yaml_bytes",
			opts:  []Option{WithLookuper(empty), WithYAML([]byte("host: example.com\nport: 9000"))},
			input: &serverCfg{},
			want:  &serverCfg{Host: "example.com", Port: 9000},
		},
		{
			name:  "yaml_file",
			opts:  []Option{WithLookuper(empty), WithYAMLFile(yamlPath)},
			input: &serverCfg{},
			want:  &serverCfg{Host: "0.0.0.0", Port: 8000, Watch: []string{"a", "b"}},
		},
		{
			name:  "missing_yaml_file",
			opts:  []Option{WithLookuper(empty), WithYAMLFile(filepath.Join(dir, "nope.yaml"))},
			input: &serverCfg{},
			want:  &serverCfg{Host: "127.0.0.1", Port: 8000},
		},
		{
			name:    "invalid_yaml_file",
			opts:    []Option{WithLookuper(empty), WithYAMLFile(badPath)},
			input:   &serverCfg{},
			wantErr: "failed to unmarshal yaml",
		},
		{
			name: "env_overrides_yaml",
			opts: []Option{
				WithYAMLFile(yamlPath),
				WithEnvPrefix("WEBSCRIPT_"),
				WithLookuper(envconfig.MapLookuper(map[string]string{
					"WEBSCRIPT_HOST":    "10.0.0.1",
					"WEBSCRIPT_VERBOSE": "true",
					"HOST":              "ignored",
				})),
			},
			input: &serverCfg{},
			want:  &serverCfg{Host: "10.0.0.1", Port: 8000, Watch: []string{"a", "b"}, Verbose: true},
		},
		{
			name:  "existing_values_kept",
			opts:  []Option{WithLookuper(empty)},
			input: &serverCfg{Port: 3000},
			want:  &serverCfg{Host: "127.0.0.1", Port: 3000},
		},
		{
			name: "invalid_env",
			opts: []Option{WithLookuper(envconfig.MapLookuper(map[string]string{
				"PORT": "eighty",
			}))},
			input:   &serverCfg{},
			wantErr: "failed to load config",
		},
		{
			name:    "validation_failure",
			opts:    []Option{WithLookuper(empty)},
			input:   &serverCfg{Port: 70000},
			wantErr: "config invalid: port 70000 is out of range",
		},
		{
			name:  "not_validatable",
			opts:  []Option{WithLookuper(empty)},
			input: &plainCfg{},
			want:  &plainCfg{Name: "app"},
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := tc.input
			err := Load(context.Background(), got, tc.opts...)
			if diff := testutil.DiffErrString(err, tc.wantErr); diff != "" {
				t.Errorf("Load got unexpected err: %s", diff)
			}
			if err != nil {
				return
			}

			if diff := cmp.Diff(tc.want, got, cmp.AllowUnexported()); diff != "" {
				t.Errorf("Loaded config (-want,+got):\n%s", diff)
			}
		})
	}
}
