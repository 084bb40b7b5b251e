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
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/abcxyz/webscript/logging"
	"github.com/abcxyz/webscript/run"
)

// ReloadChildEnv is set to "1" in the environment of processes started by a
// [Reloader].
const ReloadChildEnv = "WEBSCRIPT_RELOAD_CHILD"

// inheritedFD is the descriptor of the first entry of exec.Cmd.ExtraFiles.
const inheritedFD = 3

// IsReloadChild reports whether the process was started by a [Reloader].
func IsReloadChild(getenv func(string) string) bool {
	if getenv == nil {
		getenv = os.Getenv
	}
	return getenv(ReloadChildEnv) == "1"
}

// InheritedListener returns the listener handed down by the [Reloader].
func InheritedListener() (net.Listener, error) {
	f := os.NewFile(uintptr(inheritedFD), "listener")
	if f == nil {
		return nil, fmt.Errorf("no inherited listener")
	}
	defer f.Close()

	l, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("failed to use inherited listener: %w", err)
	}
	return l, nil
}

// Reloader supervises a child copy of the running program. The child
// inherits the server's listener and is restarted whenever a watched file
// changes. The executable itself is always watched, so rebuilding the binary
// reloads it.
type Reloader struct {
	// Server owns the listener handed to every child.
	Server *Server

	// Dirs are watched recursively for files with one of Extensions. Hidden
	// directories are skipped. An empty Extensions watches every file.
	Dirs       []string
	Extensions []string

	// Interval is how long changes are collected before the child restarts,
	// so that a burst of writes causes a single reload. It defaults to 500ms.
	Interval time.Duration

	// Build, when set, is run before every restart, e.g. "go build -o app .".
	Build []string

	// Args is the child's argv. It defaults to [os.Args].
	Args []string

	// StopTimeout bounds how long a child may take to exit after an
	// interrupt. It defaults to 10s.
	StopTimeout time.Duration

	Stdout io.Writer
	Stderr io.Writer
}

// Run starts the child and blocks until ctx is done, restarting the child on
// every change. The child is stopped before Run returns.
func (r *Reloader) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	lf, err := r.Server.File()
	if err != nil {
		return err
	}
	defer lf.Close()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find executable: %w", err)
	}

	w, err := r.watch(exe)
	if err != nil {
		return err
	}
	defer w.Close()

	for {
		child, err := r.spawn(ctx, exe, lf)
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "started server process", "pid", child.Process.Pid, "addr", r.Server.Addr())

		exited := make(chan error, 1)
		go func() { exited <- child.Wait() }()

	watch:
		for {
			select {
			case <-ctx.Done():
				if exited != nil {
					r.stop(ctx, child, exited)
				}
				return nil
			case err := <-exited:
				logger.WarnContext(ctx, "server process exited, waiting for changes", "error", err)
				exited = nil
			case err, ok := <-w.Errors:
				if !ok {
					return fmt.Errorf("file watcher closed")
				}
				logger.WarnContext(ctx, "file watcher error", "error", err)
			case ev, ok := <-w.Events:
				if !ok {
					return fmt.Errorf("file watcher closed")
				}
				if !r.relevant(w, exe, ev) {
					continue
				}
				changed := r.collect(ctx, w, exe, ev)
				logger.InfoContext(ctx, "detected file changes, reloading", "files", changed)
				break watch
			}
		}

		if exited != nil {
			r.stop(ctx, child, exited)
		}

		if len(r.Build) > 0 {
			if err := r.build(ctx); err != nil {
				logger.ErrorContext(ctx, "build failed", "error", err)
			}
		}
	}
}

func (r *Reloader) spawn(ctx context.Context, exe string, lf *os.File) (*exec.Cmd, error) {
	args := r.Args
	if len(args) == 0 {
		args = os.Args
	}

	cmd, err := run.Start(ctx, []*run.Option{
		run.WithAdditionalEnv(ReloadChildEnv + "=1"),
		run.WithExtraFiles(lf),
		run.WithStdout(r.Stdout),
		run.WithStderr(r.Stderr),
	}, append([]string{exe}, args[1:]...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to start server process: %w", err)
	}
	return cmd, nil
}

// stop interrupts the child and kills it if it does not exit in time.
func (r *Reloader) stop(ctx context.Context, child *exec.Cmd, exited <-chan error) {
	logger := logging.FromContext(ctx)

	timeout := r.StopTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	if err := child.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.WarnContext(ctx, "failed to interrupt server process", "error", err)
	}

	select {
	case <-exited:
	case <-time.After(timeout):
		logger.WarnContext(ctx, "server process did not stop, killing", "pid", child.Process.Pid)
		_ = child.Process.Kill()
		<-exited
	}
}

func (r *Reloader) build(ctx context.Context) error {
	if _, err := run.Run(ctx, []*run.Option{
		run.WithStdout(r.Stdout),
		run.WithStderr(r.Stderr),
	}, r.Build...); err != nil {
		return fmt.Errorf("failed to run %s: %w", strings.Join(r.Build, " "), err)
	}
	return nil
}

// watch creates a watcher on every directory below Dirs and on the
// directory of the executable. Executables are usually replaced rather than
// rewritten, which drops a watch on the file itself.
func (r *Reloader) watch(exe string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := w.Add(filepath.Dir(exe)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", exe, err)
	}
	for _, dir := range r.Dirs {
		if err := addTree(w, dir); err != nil {
			w.Close()
			return nil, err
		}
	}
	return w, nil
}

// addTree watches dir and its subdirectories. A missing dir is ignored.
func addTree(w *fsnotify.Watcher, dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return nil
}

// relevant reports whether ev should trigger a reload. New directories are
// added to the watcher as a side effect.
func (r *Reloader) relevant(w *fsnotify.Watcher, exe string, ev fsnotify.Event) bool {
	if ev.Name == exe {
		return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)
	}
	if ev.Op == fsnotify.Chmod {
		return false
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !strings.HasPrefix(filepath.Base(ev.Name), ".") {
				_ = addTree(w, ev.Name)
			}
			return false
		}
	}

	// Only files inside the watched dirs count. The executable's directory
	// may hold unrelated files.
	if !r.inDirs(ev.Name) {
		return false
	}
	return r.matches(ev.Name)
}

func (r *Reloader) inDirs(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, dir := range r.Dirs {
		d, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if rel, err := filepath.Rel(d, abs); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// matches reports whether path has one of the watched extensions.
func (r *Reloader) matches(path string) bool {
	if len(r.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, e := range r.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// collect gathers the relevant events that arrive within Interval of first
// and returns the sorted, distinct paths.
func (r *Reloader) collect(ctx context.Context, w *fsnotify.Watcher, exe string, first fsnotify.Event) []string {
	interval := r.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	seen := map[string]struct{}{first.Name: {}}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return sortedKeys(seen)
		case <-timer.C:
			return sortedKeys(seen)
		case ev, ok := <-w.Events:
			if !ok {
				return sortedKeys(seen)
			}
			if r.relevant(w, exe, ev) {
				seen[ev.Name] = struct{}{}
			}
		}
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
