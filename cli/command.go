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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/mattn/go-isatty"
)

// Command is the interface for a command or namespace in the tree. Most
// commands embed [BaseCommand], which provides defaults for the optional
// interfaces below.
type Command interface {
	// Options returns the command's option list. It is read once per parser
	// build.
	Options() []Entry

	// Run executes the command's action.
	Run(ctx context.Context, call *Call) (any, error)
}

// ActionFunc is the signature of a command action.
type ActionFunc func(ctx context.Context, call *Call) (any, error)

// Call carries the arguments a dispatched node is invoked with.
type Call struct {
	// Args holds the previous node's result, if there was a previous node,
	// followed by the trailing tokens of a command that captures all arguments.
	Args []any

	// Values holds the option values claimed by this node.
	Values Values

	hasPrev  bool
	trailing []string
}

// Prev returns the previous node's result and whether there was a previous
// node.
func (c *Call) Prev() (any, bool) {
	if !c.hasPrev || len(c.Args) == 0 {
		return nil, false
	}
	return c.Args[0], true
}

// Trailing returns the tokens captured by a command that captures all
// arguments.
func (c *Call) Trailing() []string {
	return c.trailing
}

// Namer is implemented by commands that declare their own name.
type Namer interface {
	CommandName() string
}

// Namespacer is implemented by commands that register under a namespace.
type Namespacer interface {
	CommandNamespace() string
}

// Describer is implemented by commands that provide a one-line description
// for their parent's command list.
type Describer interface {
	Desc() string
}

// Helper is implemented by commands with a long-form description.
type Helper interface {
	Help() string
}

// Usager is implemented by commands that override the generated usage line.
type Usager interface {
	Usage() string
}

// HelpArgser is implemented by commands that configure their help flag
// spellings. When ok is false the spellings are inherited from the parent. An
// empty list disables help.
type HelpArgser interface {
	HelpArgs() (args []string, ok bool)
}

// ArgsCapturer is implemented by commands that receive unconsumed trailing
// tokens instead of failing with "too many arguments".
type ArgsCapturer interface {
	CaptureAllArgs() bool
}

// Streamer is implemented by commands with configurable standard streams.
type Streamer interface {
	Stdin() io.Reader
	SetStdin(r io.Reader)
	Stdout() io.Writer
	SetStdout(w io.Writer)
	Stderr() io.Writer
	SetStderr(w io.Writer)
}

// BaseCommand is the default command structure. Commands should embed this
// structure.
type BaseCommand struct {
	stdout, stderr io.Writer
	stdin          io.Reader
}

// Options returns no options.
func (c *BaseCommand) Options() []Entry {
	return nil
}

// Run returns [ErrNotImplemented]. Embedding commands override it.
func (c *BaseCommand) Run(_ context.Context, _ *Call) (any, error) {
	return nil, ErrNotImplemented
}

// Prompt prompts the user for a value. If stdin is a tty, it prompts. Otherwise
// it reads from the reader.
func (c *BaseCommand) Prompt(msg string) (string, error) {
	scanner := bufio.NewScanner(io.LimitReader(c.Stdin(), 64*1_000))

	if c.Stdin() == os.Stdin && isatty.IsTerminal(os.Stdin.Fd()) {
		fmt.Fprint(c.Stdout(), msg)
	}

	scanner.Scan()

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return scanner.Text(), nil
}

// Stdout returns the stdout stream.
func (c *BaseCommand) Stdout() io.Writer {
	if v := c.stdout; v != nil {
		return v
	}
	return os.Stdout
}

// SetStdout sets the standard out.
func (c *BaseCommand) SetStdout(w io.Writer) {
	c.stdout = w
}

// Stderr returns the stderr stream.
func (c *BaseCommand) Stderr() io.Writer {
	if v := c.stderr; v != nil {
		return v
	}
	return os.Stderr
}

// SetStderr sets the standard error.
func (c *BaseCommand) SetStderr(w io.Writer) {
	c.stderr = w
}

// Stdin returns the stdin stream.
func (c *BaseCommand) Stdin() io.Reader {
	if v := c.stdin; v != nil {
		return v
	}
	return os.Stdin
}

// SetStdin sets the standard input.
func (c *BaseCommand) SetStdin(r io.Reader) {
	c.stdin = r
}

// Pipe creates new unique stdin, stdout, and stderr buffers, sets them on the
// command, and returns them. This is most useful for testing where callers want
// to simulate inputs or assert certain command outputs.
func (c *BaseCommand) Pipe() (stdin, stdout, stderr *bytes.Buffer) {
	stdin = bytes.NewBuffer(nil)
	stdout = bytes.NewBuffer(nil)
	stderr = bytes.NewBuffer(nil)
	c.stdin = stdin
	c.stdout = stdout
	c.stderr = stderr
	return
}

// inheritStreams copies the raw streams of parent onto child. Unset streams
// stay unset so the child keeps resolving to the process streams.
func (c *BaseCommand) inheritStreams(child Command) {
	s, ok := child.(Streamer)
	if !ok {
		return
	}
	if c.stdin != nil {
		s.SetStdin(c.stdin)
	}
	if c.stdout != nil {
		s.SetStdout(c.stdout)
	}
	if c.stderr != nil {
		s.SetStderr(c.stderr)
	}
}

// meta is the declarative part shared by [FuncCommand] and [Manager].
type meta struct {
	name        string
	namespace   string
	usage       string
	desc        string
	description string
	version     string

	helpArgs []string
	helpSet  bool

	captureAll bool
	options    []Entry
	action     ActionFunc
}

// CommandOption configures a [FuncCommand] or [Manager].
type CommandOption func(m *meta)

// WithName sets the name the command registers under.
func WithName(name string) CommandOption {
	return func(m *meta) { m.name = name }
}

// WithNamespace registers the command one level below its parent, under the
// given namespace.
func WithNamespace(ns string) CommandOption {
	return func(m *meta) { m.namespace = ns }
}

// WithUsage overrides the generated usage line.
func WithUsage(usage string) CommandOption {
	return func(m *meta) { m.usage = usage }
}

// WithDesc sets the one-line description shown in the parent's command list.
func WithDesc(desc string) CommandOption {
	return func(m *meta) { m.desc = desc }
}

// WithDescription sets the long-form description shown in the command's own
// help.
func WithDescription(description string) CommandOption {
	return func(m *meta) { m.description = description }
}

// WithVersion sets the version printed by -v/--version on a root manager.
func WithVersion(version string) CommandOption {
	return func(m *meta) { m.version = version }
}

// WithHelpArgs overrides the help flag spellings for the command and the
// descendants that inherit them.
func WithHelpArgs(args ...string) CommandOption {
	return func(m *meta) {
		m.helpArgs = args
		m.helpSet = true
	}
}

// WithoutHelp disables the help flag.
func WithoutHelp() CommandOption {
	return func(m *meta) {
		m.helpArgs = []string{}
		m.helpSet = true
	}
}

// WithCaptureAllArgs makes the command receive unconsumed trailing tokens.
func WithCaptureAllArgs() CommandOption {
	return func(m *meta) { m.captureAll = true }
}

// WithOptions appends entries to the command's option list.
func WithOptions(entries ...Entry) CommandOption {
	return func(m *meta) { m.options = append(m.options, entries...) }
}

// WithAction sets the command's action.
func WithAction(fn ActionFunc) CommandOption {
	return func(m *meta) { m.action = fn }
}

func (m *meta) apply(opts []CommandOption) {
	for _, opt := range opts {
		opt(m)
	}
}

var _ Command = (*FuncCommand)(nil)

// FuncCommand is a command built from an action and a declared option list.
type FuncCommand struct {
	BaseCommand
	meta

	sealed bool
}

// NewCommand creates a command that runs action.
func NewCommand(name string, action ActionFunc, opts ...CommandOption) *FuncCommand {
	c := &FuncCommand{}
	c.name = name
	c.action = action
	c.apply(opts)
	return c
}

// Options returns the declared option list.
func (c *FuncCommand) Options() []Entry { return c.options }

// Run calls the command's action.
func (c *FuncCommand) Run(ctx context.Context, call *Call) (any, error) {
	if c.action == nil {
		return nil, ErrNotImplemented
	}
	return c.action(ctx, call)
}

func (c *FuncCommand) CommandName() string      { return c.name }
func (c *FuncCommand) CommandNamespace() string { return c.namespace }
func (c *FuncCommand) Usage() string            { return c.usage }
func (c *FuncCommand) Desc() string             { return c.desc }
func (c *FuncCommand) Help() string             { return c.description }
func (c *FuncCommand) CaptureAllArgs() bool     { return c.captureAll }

func (c *FuncCommand) HelpArgs() ([]string, bool) {
	return c.helpArgs, c.helpSet
}

func (c *FuncCommand) seal() { c.sealed = true }

// Builder accumulates options on a command declared with [Manager.Define].
// The command is sealed when a parser is first built from the tree; adding
// options after that panics.
type Builder struct {
	cmd *FuncCommand
}

// Option appends an option.
func (b *Builder) Option(o *Option) *Builder {
	if b.cmd.sealed {
		panic(fmt.Sprintf("command %q is sealed", b.cmd.name))
	}
	b.cmd.options = append(b.cmd.options, o)
	return b
}

// Group appends a group of options.
func (b *Builder) Group(g *Group) *Builder {
	if b.cmd.sealed {
		panic(fmt.Sprintf("command %q is sealed", b.cmd.name))
	}
	b.cmd.options = append(b.cmd.options, g)
	return b
}

// Apply applies command options such as [WithDesc].
func (b *Builder) Apply(opts ...CommandOption) *Builder {
	if b.cmd.sealed {
		panic(fmt.Sprintf("command %q is sealed", b.cmd.name))
	}
	b.cmd.apply(opts)
	return b
}

// Command returns the command being built.
func (b *Builder) Command() *FuncCommand {
	return b.cmd
}

// commandName returns the name a command registers under when none is given:
// its declared name, or its type name without a "command" suffix, lowercased.
func commandName(cmd Command) string {
	if n, ok := cmd.(Namer); ok {
		if name := n.CommandName(); name != "" {
			return name
		}
	}

	t := reflect.TypeOf(cmd)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name := strings.ToLower(t.Name())
	return strings.TrimSuffix(name, "command")
}

// commandNamespace returns the namespace a command declares for itself.
func commandNamespace(cmd Command) string {
	if n, ok := cmd.(Namespacer); ok {
		return n.CommandNamespace()
	}
	return ""
}

// shortDesc returns the one-line description of cmd for its parent's command
// list. It falls back to the first line of the long description.
func shortDesc(cmd Command) string {
	if d, ok := cmd.(Describer); ok {
		if v := d.Desc(); v != "" {
			return v
		}
	}
	if h, ok := cmd.(Helper); ok {
		v := strings.TrimSpace(h.Help())
		if i := strings.IndexByte(v, '\n'); i >= 0 {
			v = v[:i]
		}
		return v
	}
	return ""
}
