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

package serving

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/abcxyz/webscript/logging"
	"github.com/abcxyz/webscript/testutil"
)

func TestIsReloadChild(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		env  map[string]string
		want bool
	}{
		{
			name: "unset",
			want: false,
		},
		{
			name: "set",
			env:  map[string]string{ReloadChildEnv: "1"},
			want: true,
		},
		{
			name: "other_value",
			env:  map[string]string{ReloadChildEnv: "true"},
			want: false,
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := IsReloadChild(func(k string) string { return tc.env[k] })
			if got != tc.want {
				t.Errorf("expected %t to be %t", got, tc.want)
			}
		})
	}
}

func TestReloader_watch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, d := range []string{"internal/app", ".git/hooks"} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	exeDir := t.TempDir()

	r := &Reloader{
		Dirs:       []string{dir, filepath.Join(dir, "missing")},
		Extensions: []string{".go"},
	}

	w, err := r.watch(filepath.Join(exeDir, "app"))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	want := []string{
		exeDir,
		dir,
		filepath.Join(dir, "internal"),
		filepath.Join(dir, "internal", "app"),
	}
	if diff := cmp.Diff(want, w.WatchList(), cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("watched dirs (-want, +got):\n%s", diff)
	}
}

func TestReloader_relevant(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	exeDir := t.TempDir()
	exe := filepath.Join(exeDir, "app")

	r := &Reloader{
		Dirs:       []string{dir},
		Extensions: []string{".go", ".tmpl"},
	}

	w, err := r.watch(exe)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	cases := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{
			name: "write_go",
			ev:   fsnotify.Event{Name: filepath.Join(dir, "main.go"), Op: fsnotify.Write},
			want: true,
		},
		{
			name: "remove_tmpl",
			ev:   fsnotify.Event{Name: filepath.Join(dir, "views", "index.tmpl"), Op: fsnotify.Remove},
			want: true,
		},
		{
			name: "other_extension",
			ev:   fsnotify.Event{Name: filepath.Join(dir, "README.md"), Op: fsnotify.Write},
			want: false,
		},
		{
			name: "chmod_only",
			ev:   fsnotify.Event{Name: filepath.Join(dir, "main.go"), Op: fsnotify.Chmod},
			want: false,
		},
		{
			name: "executable_replaced",
			ev:   fsnotify.Event{Name: exe, Op: fsnotify.Create},
			want: true,
		},
		{
			name: "executable_removed",
			ev:   fsnotify.Event{Name: exe, Op: fsnotify.Remove},
			want: false,
		},
		{
			name: "next_to_executable",
			ev:   fsnotify.Event{Name: filepath.Join(exeDir, "other.go"), Op: fsnotify.Write},
			want: false,
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := r.relevant(w, exe, tc.ev); got != tc.want {
				t.Errorf("expected %t to be %t", got, tc.want)
			}
		})
	}
}

func TestReloader_relevant_newDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := &Reloader{Dirs: []string{dir}, Extensions: []string{".go"}}

	w, err := r.watch(filepath.Join(t.TempDir(), "app"))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	sub := filepath.Join(dir, "pkg")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	if r.relevant(w, "", fsnotify.Event{Name: sub, Op: fsnotify.Create}) {
		t.Errorf("expected a new directory not to trigger a reload")
	}

	var found bool
	for _, p := range w.WatchList() {
		if p == sub {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s to be watched, got %v", sub, w.WatchList())
	}
}

func TestReloader_collect(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

	dir := t.TempDir()
	exe := filepath.Join(t.TempDir(), "app")
	r := &Reloader{
		Dirs:       []string{dir},
		Extensions: []string{".go"},
		Interval:   200 * time.Millisecond,
	}

	w, err := r.watch(exe)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	for _, name := range []string{"a.go", "b.go", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	var first fsnotify.Event
	timeout := time.After(5 * time.Second)
	for first.Name == "" {
		select {
		case ev := <-w.Events:
			if r.relevant(w, exe, ev) {
				first = ev
			}
		case err := <-w.Errors:
			t.Fatal(err)
		case <-timeout:
			t.Fatal("no file events")
		}
	}

	got := r.collect(ctx, w, exe, first)
	want := []string{filepath.Join(dir, "a.go"), filepath.Join(dir, "b.go")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("changed files (-want, +got):\n%s", diff)
	}
}

func TestReloader_build(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

	cases := []struct {
		name    string
		build   []string
		wantOut string
		wantErr string
	}{
		{
			name:    "success",
			build:   []string{"echo", "built"},
			wantOut: "built\n",
		},
		{
			name:    "failure",
			build:   []string{"sh", "-c", "exit 2"},
			wantErr: "failed to run sh -c exit 2",
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			r := &Reloader{Build: tc.build, Stdout: &stdout, Stderr: &stderr}

			err := r.build(ctx)
			if diff := testutil.DiffErrString(err, tc.wantErr); diff != "" {
				t.Error(diff)
			}
			if got, want := stdout.String(), tc.wantOut; got != want {
				t.Errorf("expected %q to be %q", got, want)
			}
		})
	}
}
