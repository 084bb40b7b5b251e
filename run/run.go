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

// Package run executes the external processes of the development server: the
// build step that precedes a reload and the supervised server process itself.
package run

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/abcxyz/webscript/logging"
)

// DefaultTimeout bounds [Run] when the context has no deadline. Builds of
// large programs can be slow, so it is generous.
const DefaultTimeout = 5 * time.Minute

// DefaultWaitDelay is how long after context cancellation a process is killed
// when no other value is set. See exec.Cmd.WaitDelay.
const DefaultWaitDelay = time.Second

// Simple is a wrapper around [Run] that captures stdout and stderr as strings.
func Simple(ctx context.Context, args ...string) (stdout, stderr string, _ error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	_, err := Run(ctx, []*Option{
		WithStdout(&stdoutBuf),
		WithStderr(&stderrBuf),
	}, args...)
	return stdoutBuf.String(), stderrBuf.String(), err
}

// Run executes args and waits for it to exit. A non-zero exit is an error
// unless [AllowNonzeroExit] is given. Output captured in a [bytes.Buffer] is
// included in the error.
//
// This doesn't execute a shell (unless args[0] is the name of a shell binary).
func Run(ctx context.Context, opts []*Option, args ...string) (exitCode int, _ error) {
	logger := logging.FromContext(ctx)

	if len(args) == 0 {
		return -1, errors.New("run: must provide at least one argument (the command)")
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	o := compileOpts(opts)

	// #nosec G204 -- Running the configured command is the purpose of this package.
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	o.apply(cmd)

	logger.DebugContext(ctx, "running command", "args", args, "dir", cmd.Dir)
	err := cmd.Run()

	exitCode = -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if err == nil {
		logger.DebugContext(ctx, "command finished", "args", args)
		return exitCode, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if o.allowNonZeroExit {
			logger.DebugContext(ctx, "command exited non-zero", "exit_code", exitCode)
			return exitCode, nil
		}
		return exitCode, fmt.Errorf("command %v exited non-zero (%d): %w%s",
			args, exitCode, err, o.captured())
	}
	return exitCode, fmt.Errorf("command %v failed: %w (context error: %v)%s",
		args, err, ctx.Err(), o.captured())
}

// Start starts args without waiting for it. The process is not tied to a
// context; the caller signals and waits for it.
func Start(ctx context.Context, opts []*Option, args ...string) (*exec.Cmd, error) {
	if len(args) == 0 {
		return nil, errors.New("run: must provide at least one argument (the command)")
	}

	// #nosec G204 -- Running the configured command is the purpose of this package.
	cmd := exec.Command(args[0], args[1:]...)
	compileOpts(opts).apply(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %v: %w", args, err)
	}
	logging.FromContext(ctx).DebugContext(ctx, "started command",
		"args", args,
		"pid", cmd.Process.Pid)
	return cmd, nil
}

// Option configures [Run] and [Start].
type Option struct {
	allowNonZeroExit bool
	cwd              string
	stdin            io.Reader
	stdout           io.Writer
	stderr           io.Writer
	waitDelay        *time.Duration
	additionalEnv    []string
	extraFiles       []*os.File
}

// AllowNonzeroExit prevents Run from returning an error when the command
// exits with a non-zero status code.
func AllowNonzeroExit() *Option {
	return &Option{allowNonZeroExit: true}
}

// WithStdin provides the given reader as the command's standard input.
func WithStdin(stdin io.Reader) *Option {
	return &Option{stdin: stdin}
}

// WithStdout directs the command's standard output to the given writer.
// It defaults to [os.Stdout].
func WithStdout(stdout io.Writer) *Option {
	return &Option{stdout: stdout}
}

// WithStderr directs the command's standard error to the given writer.
// It defaults to [os.Stderr].
func WithStderr(stderr io.Writer) *Option {
	return &Option{stderr: stderr}
}

// WithCwd runs the command in the given working directory.
func WithCwd(cwd string) *Option {
	return &Option{cwd: cwd}
}

// WithAdditionalEnv adds or overrides environment variables in "KEY=VALUE"
// form on top of the inherited environment. It can be given multiple times.
func WithAdditionalEnv(vars ...string) *Option {
	return &Option{additionalEnv: vars}
}

// WithExtraFiles passes open files to the process. The first one becomes
// descriptor 3.
func WithExtraFiles(files ...*os.File) *Option {
	return &Option{extraFiles: files}
}

// WithWaitDelay sets how long a cancelled command may take to exit before
// it is killed. It defaults to [DefaultWaitDelay].
func WithWaitDelay(d time.Duration) *Option {
	return &Option{waitDelay: &d}
}

// compileOpts merges opts. The last value wins, except for the environment
// and extra files, which accumulate.
func compileOpts(opts []*Option) *Option {
	var out Option
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if opt.allowNonZeroExit {
			out.allowNonZeroExit = true
		}
		if opt.cwd != "" {
			out.cwd = opt.cwd
		}
		if opt.stdin != nil {
			out.stdin = opt.stdin
		}
		if opt.stdout != nil {
			out.stdout = opt.stdout
		}
		if opt.stderr != nil {
			out.stderr = opt.stderr
		}
		if opt.waitDelay != nil {
			out.waitDelay = opt.waitDelay
		}
		out.additionalEnv = append(out.additionalEnv, opt.additionalEnv...)
		out.extraFiles = append(out.extraFiles, opt.extraFiles...)
	}
	return &out
}

func (o *Option) apply(cmd *exec.Cmd) {
	cmd.Dir = o.cwd
	cmd.Stdin = o.stdin

	cmd.Stdout = o.stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = o.stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	// os/exec has "last wins" semantics, so appending overrides.
	if len(o.additionalEnv) > 0 {
		cmd.Env = append(os.Environ(), o.additionalEnv...)
	}
	cmd.ExtraFiles = o.extraFiles

	cmd.WaitDelay = DefaultWaitDelay
	if o.waitDelay != nil {
		cmd.WaitDelay = *o.waitDelay
	}
}

// captured formats output that was captured in buffers for error messages.
func (o *Option) captured() string {
	stdout, stderr := "[stdout not captured]", "[stderr not captured]"
	if bb, ok := o.stdout.(*bytes.Buffer); ok {
		stdout = bb.String()
	}
	if bb, ok := o.stderr.(*bytes.Buffer); ok {
		stderr = bb.String()
	}
	return fmt.Sprintf("\nstdout:\n%s\nstderr:\n%s", stdout, stderr)
}
