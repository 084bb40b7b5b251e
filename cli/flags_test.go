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
	"errors"
	"flag"
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/abcxyz/webscript/testutil"
)

func TestNewFlagSet(t *testing.T) {
	t.Parallel()

	fs := NewFlagSet()

	if got, want := fs.flagSet.ErrorHandling(), flag.ContinueOnError; got != want {
		t.Errorf("expected %q to be %q", got, want)
	}
	if got, want := fs.flagSet.Output(), io.Discard; got != want {
		t.Errorf("expected %q to be %q", got, want)
	}
}

func TestFlagSet_NewSection(t *testing.T) {
	t.Parallel()

	fs := NewFlagSet()
	sec := fs.NewSection("child")

	if got, want := sec.name, "child"; got != want {
		t.Errorf("expected %q to be %q", got, want)
	}
	// object equality check
	if got, want := sec.flagSet, fs.flagSet; got != want {
		t.Errorf("expected %v to be %v", got, want)
	}
	if got, want := fs.sections, []*FlagSection{sec}; !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v to be %v", got, want)
	}
}

func mustOptionValue(tb testing.TB, o *Option, lookupEnv LookupEnvFunc) *OptionValue {
	tb.Helper()

	v, err := newOptionValue(o, lookupEnv)
	if err != nil {
		tb.Fatal(err)
	}
	return v
}

func TestFlagSet_Help(t *testing.T) {
	t.Parallel()

	fs := NewFlagSet(WithLookupEnv(MapLookuper(nil)))

	sec1 := fs.NewSection("OPTIONS")
	for _, o := range []*Option{
		{Names: []string{"-n", "--name"}, Usage: "Name to greet.", Default: "world"},
		{Names: []string{"-v", "--verbose"}, Action: ActionStoreTrue, Usage: "Log more."},
		{Names: []string{"--secret"}, Hidden: true, Usage: "Not shown."},
	} {
		if err := sec1.OptionVar(mustOptionValue(t, o, fs.lookupEnv)); err != nil {
			t.Fatal(err)
		}
	}

	sec2 := fs.NewSection("EMPTY")
	if err := sec2.OptionVar(mustOptionValue(t, &Option{Names: []string{"--hidden"}, Hidden: true}, fs.lookupEnv)); err != nil {
		t.Fatal(err)
	}

	sec3 := fs.NewSection("SERVER")
	sec3.description = "Where to listen."
	if err := sec3.OptionVar(mustOptionValue(t, &Option{
		Names:   []string{"--port"},
		Type:    TypeInt,
		Example: "PORT",
		EnvVar:  "PORT",
	}, fs.lookupEnv)); err != nil {
		t.Fatal(err)
	}

	exp := `
OPTIONS

    -n, --name=NAME
        Name to greet. The default value is "world".

    -v, --verbose
        Log more.

SERVER

  Where to listen.

    --port=PORT
        This option can also be specified with the PORT environment variable.
`

	if got, want := strings.TrimSpace(fs.Help()), strings.TrimSpace(exp); got != want {
		t.Errorf("expected\n\n%s\n\nto be\n\n%s\n\n", got, want)
	}
}

func TestFlagSection_OptionVar_conflict(t *testing.T) {
	t.Parallel()

	fs := NewFlagSet()
	sec := fs.NewSection("OPTIONS")

	if err := sec.OptionVar(mustOptionValue(t, &Option{Names: []string{"-n", "--name"}}, nil)); err != nil {
		t.Fatal(err)
	}

	err := sec.OptionVar(mustOptionValue(t, &Option{Names: []string{"-n", "--number"}}, nil))
	if diff := testutil.DiffErrString(err, "conflicting option string: -n"); diff != "" {
		t.Fatal(diff)
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected %v to wrap %v", err, ErrInvalidConfig)
	}
}

func TestOptionValue_Set(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		opt    *Option
		args   []string
		exp    any
		expErr string
	}{
		{
			name: "store_string",
			opt:  &Option{Names: []string{"--name"}},
			args: []string{"--name", "a", "--name=b"},
			exp:  "b",
		},
		{
			name: "store_int",
			opt:  &Option{Names: []string{"-p", "--port"}, Type: TypeInt},
			args: []string{"-p", "9000"},
			exp:  9000,
		},
		{
			name:   "store_int_invalid",
			opt:    &Option{Names: []string{"--port"}, Type: TypeInt},
			args:   []string{"--port", "x"},
			expErr: `invalid int value: "x"`,
		},
		{
			name: "store_float",
			opt:  &Option{Names: []string{"--ratio"}, Type: TypeFloat},
			args: []string{"--ratio", "0.5"},
			exp:  0.5,
		},
		{
			name: "store_true",
			opt:  &Option{Names: []string{"--reload"}, Action: ActionStoreTrue},
			args: []string{"--reload"},
			exp:  true,
		},
		{
			name: "store_true_absent",
			opt:  &Option{Names: []string{"--reload"}, Action: ActionStoreTrue},
			exp:  false,
		},
		{
			name: "store_false",
			opt:  &Option{Names: []string{"--no-color"}, Action: ActionStoreFalse},
			args: []string{"--no-color"},
			exp:  false,
		},
		{
			name: "store_const",
			opt:  &Option{Names: []string{"--json"}, Action: ActionStoreConst, Const: "json", Default: "text"},
			args: []string{"--json"},
			exp:  "json",
		},
		{
			name: "append",
			opt:  &Option{Names: []string{"-t", "--tag"}, Action: ActionAppend},
			args: []string{"-t", "a", "--tag", "b"},
			exp:  []any{"a", "b"},
		},
		{
			name: "append_to_default",
			opt:  &Option{Names: []string{"--tag"}, Action: ActionAppend, Default: []string{"base"}},
			args: []string{"--tag", "x"},
			exp:  []any{"base", "x"},
		},
		{
			name: "append_const",
			opt:  &Option{Names: []string{"--debug"}, Action: ActionAppendConst, Const: "debug"},
			args: []string{"--debug", "--debug"},
			exp:  []any{"debug", "debug"},
		},
		{
			name: "count",
			opt:  &Option{Names: []string{"-v"}, Action: ActionCount},
			args: []string{"-v", "-v", "-v"},
			exp:  3,
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fs := NewFlagSet()
			v := mustOptionValue(t, tc.opt, nil)
			if err := fs.NewSection("OPTIONS").OptionVar(v); err != nil {
				t.Fatal(err)
			}

			err := fs.Parse(tc.args)
			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Fatal(diff)
			}
			if err != nil {
				return
			}

			if diff := cmp.Diff(tc.exp, v.Get()); diff != "" {
				t.Errorf("value (-want, +got):\n%s", diff)
			}
			if got, want := v.set, len(tc.args) > 0; got != want {
				t.Errorf("expected set to be %t", want)
			}
		})
	}
}

func TestOptionValue_envVar(t *testing.T) {
	t.Parallel()

	lookup := MapLookuper(map[string]string{
		"PORT":   "9000",
		"RELOAD": "false",
		"BAD":    "nope",
	})

	port := mustOptionValue(t, &Option{Names: []string{"--port"}, Type: TypeInt, Default: 8000, EnvVar: "PORT"}, lookup)
	if got, want := port.Get(), any(9000); got != want {
		t.Errorf("expected %v to be %v", got, want)
	}
	if !port.fromEnv || port.set {
		t.Errorf("expected value from env, not from the command line")
	}

	reload := mustOptionValue(t, &Option{Names: []string{"--reload"}, Action: ActionStoreTrue, Default: true, EnvVar: "RELOAD"}, lookup)
	if got, want := reload.Get(), any(false); got != want {
		t.Errorf("expected %v to be %v", got, want)
	}

	bad := mustOptionValue(t, &Option{Names: []string{"--bad"}, Type: TypeInt, Default: 1, EnvVar: "BAD"}, lookup)
	if got, want := bad.Get(), any(1); got != want {
		t.Errorf("expected invalid env to be ignored, got %v", got)
	}
}

func TestFlagSet_ParseToEnd(t *testing.T) {
	t.Parallel()

	fs := NewFlagSet()
	name := mustOptionValue(t, &Option{Names: []string{"--name"}}, nil)
	if err := fs.NewSection("OPTIONS").OptionVar(name); err != nil {
		t.Fatal(err)
	}

	if err := fs.ParseToEnd([]string{"a", "--name", "x", "b"}); err != nil {
		t.Fatal(err)
	}

	if got, want := name.Get(), any("x"); got != want {
		t.Errorf("expected %v to be %v", got, want)
	}
	if diff := cmp.Diff([]string{"a", "b"}, fs.Args()); diff != "" {
		t.Errorf("args (-want, +got):\n%s", diff)
	}
}

func TestFlagSet_AfterParse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		fns    []AfterParseFunc
		args   []string
		expErr string
	}{
		{
			name: "no_funcs",
		},
		{
			name: "returns_error",
			fns: []AfterParseFunc{
				func(existingErr error) error {
					return fmt.Errorf("one")
				},
			},
			expErr: "one",
		},
		{
			name: "joins_errors",
			fns: []AfterParseFunc{
				func(existingErr error) error {
					return fmt.Errorf("one")
				},
				func(existingErr error) error {
					return fmt.Errorf("two")
				},
			},
			expErr: "one\ntwo",
		},
		{
			name: "receives_parse_error",
			args: []string{"--unknown"},
			fns: []AfterParseFunc{
				func(existingErr error) error {
					if existingErr == nil {
						return fmt.Errorf("expected parse error")
					}
					return nil
				},
			},
			expErr: "flag provided but not defined: -unknown",
		},
		{
			name: "recovers_panic",
			fns: []AfterParseFunc{
				func(existingErr error) error {
					panic("boom")
				},
			},
			expErr: "panic: boom",
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fs := NewFlagSet()
			for _, fn := range tc.fns {
				fs.AfterParse(fn)
			}

			err := fs.Parse(tc.args)
			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func ExampleFlagSet_AfterParse() {
	set := NewFlagSet()

	port := mustExampleValue(&Option{Names: []string{"--port"}, Type: TypeInt, Default: 8000})
	if err := set.NewSection("SERVER").OptionVar(port); err != nil {
		panic(err)
	}

	set.AfterParse(func(existingErr error) error {
		if p, _ := port.Get().(int); p > 65535 {
			return fmt.Errorf("port %d is out of range", p)
		}
		return nil
	})

	if err := set.Parse([]string{"--port", "70000"}); err != nil {
		fmt.Println(err)
	}

	// Output:
	// port 70000 is out of range
}

func mustExampleValue(o *Option) *OptionValue {
	v, err := newOptionValue(o, nil)
	if err != nil {
		panic(err)
	}
	return v
}
