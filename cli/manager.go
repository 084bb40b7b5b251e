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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/shlex"
	orderedmap "github.com/wk8/go-ordered-map"

	"github.com/abcxyz/webscript/lifecycle"
	"github.com/abcxyz/webscript/logging"
)

// defaultHelpArgs are the help spellings of a manager created by
// [NewManager].
var defaultHelpArgs = []string{"-?", "--help"}

var _ Command = (*Manager)(nil)

// Manager is a branch of the command tree. It owns named children, which are
// commands or nested managers, and global options. The root manager builds
// the parser, dispatches command lines and brackets them with the
// application's lifecycle hooks.
type Manager struct {
	BaseCommand
	meta

	app       *lifecycle.App
	parent    *Manager
	children  *orderedmap.OrderedMap
	lookupEnv LookupEnvFunc
	parser    *Parser
}

// NewManager creates a manager for app. The help flag is spelled -? and
// --help unless configured with [WithHelpArgs] or [WithoutHelp].
func NewManager(app *lifecycle.App, opts ...CommandOption) *Manager {
	m := newManager(app)
	m.helpArgs = defaultHelpArgs
	m.helpSet = true
	m.apply(opts)
	return m
}

func newManager(app *lifecycle.App) *Manager {
	return &Manager{
		app:       app,
		children:  orderedmap.New(),
		lookupEnv: os.LookupEnv,
	}
}

// SetLookupEnv overrides how option environment variables and completion
// requests are looked up. This is mostly useful for testing.
func (m *Manager) SetLookupEnv(fn LookupEnvFunc) {
	if fn != nil {
		m.lookupEnv = fn
	}
}

// App returns the application the manager was created for.
func (m *Manager) App() *lifecycle.App { return m.app }

// Parent returns the manager this manager is registered under, or nil.
func (m *Manager) Parent() *Manager { return m.parent }

// Parser returns the parser built by the last call to [Manager.CreateParser].
func (m *Manager) Parser() *Parser { return m.parser }

// Options returns the manager's global options.
func (m *Manager) Options() []Entry { return m.options }

// Run is the manager's action when it is dispatched as a namespace. Unless
// configured with [WithAction], it returns the values it claimed, so the
// next node receives them as its first positional argument.
func (m *Manager) Run(ctx context.Context, call *Call) (any, error) {
	if m.action != nil {
		return m.action(ctx, call)
	}
	return call.Values, nil
}

func (m *Manager) CommandName() string      { return m.name }
func (m *Manager) CommandNamespace() string { return m.namespace }
func (m *Manager) Usage() string            { return m.usage }
func (m *Manager) Desc() string             { return m.desc }
func (m *Manager) Help() string             { return m.description }
func (m *Manager) Version() string          { return m.version }

func (m *Manager) HelpArgs() ([]string, bool) {
	return m.helpArgs, m.helpSet
}

// Apply applies command options such as [WithDesc]. It is mostly useful for
// namespaces created by [Manager.EnsureNamespace].
func (m *Manager) Apply(opts ...CommandOption) *Manager {
	m.apply(opts)
	return m
}

// AddOption appends a global option.
func (m *Manager) AddOption(entries ...Entry) *Manager {
	m.options = append(m.options, entries...)
	return m
}

// Commands returns the names of the children in registration order.
func (m *Manager) Commands() []string {
	names := make([]string, 0, m.children.Len())
	for pair := m.children.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key.(string)) //nolint:forcetypeassert // Only strings are stored.
	}
	return names
}

// Lookup returns the child registered under name.
func (m *Manager) Lookup(name string) (Command, bool) {
	v, ok := m.children.Get(name)
	if !ok {
		return nil, false
	}
	return v.(Command), true //nolint:forcetypeassert // Only commands are stored.
}

// AddCommand registers cmd under name. An empty name defaults to the
// command's declared name, or to its type name without a "command" suffix,
// lowercased. Commands that declare a namespace are registered under it.
func (m *Manager) AddCommand(name string, cmd Command) error {
	return m.AddNamespaced("", name, cmd)
}

// AddNamespaced registers cmd under name, one level below the namespace ns.
// An empty ns falls back to the namespace the command declares.
func (m *Manager) AddNamespaced(ns, name string, cmd Command) error {
	if cmd == nil {
		return fmt.Errorf("%w: nil command", ErrInvalidConfig)
	}

	if name == "" {
		name = commandName(cmd)
	}
	if err := validName(name); err != nil {
		return err
	}

	if ns == "" {
		ns = commandNamespace(cmd)
	}

	target := m
	if ns != "" {
		t, err := m.EnsureNamespace(ns)
		if err != nil {
			return err
		}
		target = t
	}

	target.set(name, cmd)
	return nil
}

// set stores cmd under name, replacing any existing child.
func (m *Manager) set(name string, cmd Command) {
	if sub, ok := cmd.(*Manager); ok {
		sub.parent = m
	}
	m.children.Set(name, cmd)
}

// EnsureNamespace returns the child manager registered under name, creating
// it when absent. Created namespaces inherit their help spellings. It returns
// an error when name is taken by a command that is not a manager.
func (m *Manager) EnsureNamespace(name string) (*Manager, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	if existing, ok := m.Lookup(name); ok {
		sub, ok := existing.(*Manager)
		if !ok {
			return nil, fmt.Errorf("%w: %q is already registered as a command", ErrInvalidConfig, name)
		}
		return sub, nil
	}

	sub := newManager(m.app)
	sub.name = name
	m.set(name, sub)
	return sub, nil
}

// Define registers a command named name that runs action and returns a
// builder for its options. Options keep the order they are added in. Calling
// Define again for the same name returns a builder for the same command; a
// different kind of command registered under name is replaced.
func (m *Manager) Define(name string, action ActionFunc, opts ...CommandOption) *Builder {
	if err := validName(name); err != nil {
		panic(err)
	}

	if existing, ok := m.Lookup(name); ok {
		if c, ok := existing.(*FuncCommand); ok {
			if c.action == nil {
				c.action = action
			}
			b := &Builder{cmd: c}
			return b.Apply(opts...)
		}
	}

	c := NewCommand(name, action, opts...)
	m.set(name, c)
	return &Builder{cmd: c}
}

// Func derives a command from fn with [Derive] and registers it under its
// name.
func (m *Manager) Func(fn any, opts ...CommandOption) error {
	var md meta
	md.apply(opts)

	c, err := Derive(md.name, fn, opts...)
	if err != nil {
		return err
	}
	return m.AddCommand(c.name, c)
}

// AddDefaultCommands registers the built-in runserver and gencommand commands
// unless a child already uses their name. It is safe to call repeatedly.
func (m *Manager) AddDefaultCommands() {
	if _, ok := m.Lookup(RunServerName); !ok {
		m.set(RunServerName, NewRunServerCommand(m.app, WithConfigLookuper(envLookuper(m.lookupEnv))))
	}
	if _, ok := m.Lookup(GenCommandName); !ok {
		m.set(GenCommandName, NewGenCommand())
	}
}

// CreateParser builds the parser tree for the manager and its descendants
// and stores it on the manager. Commands declared with [Manager.Define] can
// no longer be extended afterwards.
func (m *Manager) CreateParser(prog string) (*Parser, error) {
	cfg := &parserConfig{
		lookupEnv: m.lookupEnv,
		version:   m.version,
	}

	p, err := newParser(filepath.Base(prog), m, nil, make(map[string]string), cfg)
	if err != nil {
		return nil, err
	}
	m.parser = p
	return p, nil
}

// Handle parses args and dispatches the matched stack. It returns the result
// of the last node.
func (m *Manager) Handle(ctx context.Context, prog string, args []string) (any, error) {
	m.AddDefaultCommands()

	p, err := m.CreateParser(prog)
	if err != nil {
		return nil, err
	}

	res, err := p.Parse(args)
	if err != nil {
		return nil, err
	}

	terminal := res.Terminal()
	if len(res.Stack) < 2 || terminal.parser.branch {
		return nil, newUsageError(terminal.parser, "too few arguments")
	}
	if len(res.Remaining) > 0 && !terminal.parser.captureAll {
		return nil, newUsageError(terminal.parser, "too many arguments")
	}

	return Dispatch(ctx, res)
}

type runConfig struct {
	args           []string
	commands       map[string]Command
	defaultCommand string
}

// RunOption is an option to [Manager.Execute].
type RunOption func(c *runConfig) *runConfig

// WithArgs sets the full command line, including the program name. It
// defaults to [os.Args].
func WithArgs(argv []string) RunOption {
	return func(c *runConfig) *runConfig {
		c.args = argv
		return c
	}
}

// WithCommands registers additional children before parsing, replacing
// children with the same name.
func WithCommands(cmds map[string]Command) RunOption {
	return func(c *runConfig) *runConfig {
		c.commands = cmds
		return c
	}
}

// WithDefaultCommand sets the command line used when the program is invoked
// without arguments. It is split with shell quoting rules.
func WithDefaultCommand(cmd string) RunOption {
	return func(c *runConfig) *runConfig {
		c.defaultCommand = cmd
		return c
	}
}

// Execute runs the program: it enters the application scope, which awaits
// the startup hook, handles the command line, and leaves the scope, which
// awaits the shutdown hook, on every exit path. It returns the exit code.
func (m *Manager) Execute(ctx context.Context, opts ...RunOption) int {
	cfg := &runConfig{args: os.Args}
	for _, opt := range opts {
		cfg = opt(cfg)
	}

	logger := logging.FromContext(ctx)

	names := make([]string, 0, len(cfg.commands))
	for name := range cfg.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if cmd := cfg.commands[name]; cmd != nil {
			m.set(name, cmd)
		}
	}

	prog := "webscript"
	var args []string
	if len(cfg.args) > 0 {
		prog = filepath.Base(cfg.args[0])
		args = cfg.args[1:]
	}

	if len(args) == 0 && cfg.defaultCommand != "" {
		split, err := shlex.Split(cfg.defaultCommand)
		if err != nil {
			return m.report(ctx, prog, nil, fmt.Errorf("invalid default command %q: %w", cfg.defaultCommand, err))
		}
		args = split
	}

	if m.completionRequested() {
		m.AddDefaultCommands()
		p, err := m.CreateParser(prog)
		if err != nil {
			return m.report(ctx, prog, nil, err)
		}
		p.Completer().Complete(prog)
		return 0
	}

	return m.execute(ctx, logger.With("prog", prog), prog, args)
}

func (m *Manager) execute(ctx context.Context, logger *slog.Logger, prog string, args []string) (code int) {
	scope, err := lifecycle.Enter(ctx, m.app)
	if err != nil {
		return m.report(ctx, prog, nil, err)
	}
	defer func() {
		if err := scope.Close(); err != nil {
			logger.ErrorContext(ctx, "teardown failed", "error", err)
			fmt.Fprintf(m.Stderr(), "%s: error: %s\n", prog, err)
			if code == 0 {
				code = 1
			}
		}
	}()

	logger.DebugContext(ctx, "handling command line", "args", args)
	result, err := m.Handle(ctx, prog, args)
	return m.report(ctx, prog, result, err)
}

// Main calls [Manager.Execute] and exits the process with its code.
func (m *Manager) Main(ctx context.Context, opts ...RunOption) {
	os.Exit(m.Execute(ctx, opts...))
}

// report prints err and maps the outcome to an exit code.
func (m *Manager) report(ctx context.Context, prog string, result any, err error) int {
	if err != nil {
		var exitErr *ExitError
		var usageErr *UsageError
		switch {
		case errors.As(err, &exitErr):
		case errors.As(err, &usageErr):
			fmt.Fprintf(m.Stderr(), "Usage: %s\n%s: error: %s\n", usageErr.Usage, usageErr.Prog, usageErr.Message)
		default:
			logging.FromContext(ctx).ErrorContext(ctx, "command failed", "error", err)
			fmt.Fprintf(m.Stderr(), "%s: error: %s\n", prog, err)
		}
	}
	return exitCode(result, err)
}

func (m *Manager) completionRequested() bool {
	if v, ok := m.lookupEnv("COMP_LINE"); ok && v != "" {
		return true
	}
	for _, k := range []string{"COMP_INSTALL", "COMP_UNINSTALL"} {
		if v, _ := m.lookupEnv(k); v == "1" {
			return true
		}
	}
	return false
}

// envLookuper adapts a [LookupEnvFunc] to an envconfig lookuper, so the
// built-in commands read the same environment as the parser.
type envLookuper LookupEnvFunc

func (l envLookuper) Lookup(key string) (string, bool) {
	return l(key)
}

func validName(name string) error {
	if name == "" || strings.HasPrefix(name, "-") || strings.ContainsAny(name, " \t\n") {
		return fmt.Errorf("%w: invalid command name %q", ErrInvalidConfig, name)
	}
	return nil
}
