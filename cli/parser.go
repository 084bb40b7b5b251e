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
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ef-ds/deque"
	"github.com/posener/complete/v2"
	orderedmap "github.com/wk8/go-ordered-map"
)

// negativeNumberRe matches tokens such as -5 or -.5 that are positional values
// unless a flag is spelled like a number.
var negativeNumberRe = regexp.MustCompile(`^-\d+$|^-\d*\.\d+$`)

// Parser parses a command line against one node of the command tree and its
// descendants. Parsers hold the parsed state, so each one parses a single
// command line; [Manager.Handle] builds a fresh tree for every call.
type Parser struct {
	prog string
	cmd  Command

	flags       *FlagSet
	options     []*OptionValue
	positionals []*OptionValue
	dests       []string
	exclusive   []*exclusiveGroup

	helpArgs    []string
	showHelp    bool
	version     string
	showVersion bool

	captureAll bool
	branch     bool
	subs       *orderedmap.OrderedMap
}

type exclusiveGroup struct {
	required bool
	members  []*OptionValue
}

// Node is one entry of the function stack: a command matched while parsing.
type Node struct {
	// Path is the space separated command path, starting with the program name.
	Path    string
	Command Command

	parser *Parser
}

// Dests returns the destinations declared directly by the node.
func (n *Node) Dests() []string {
	return append([]string(nil), n.parser.dests...)
}

// ParseResult is the outcome of parsing a command line.
type ParseResult struct {
	// Values holds the value of every option along the stack.
	Values Values

	// Stack is the chain of matched nodes from the root to the selected
	// command.
	Stack []*Node

	// Remaining holds tokens beyond the selected command's positionals.
	Remaining []string
}

// Terminal returns the last node of the stack, or nil.
func (r *ParseResult) Terminal() *Node {
	if len(r.Stack) == 0 {
		return nil
	}
	return r.Stack[len(r.Stack)-1]
}

type parserConfig struct {
	lookupEnv LookupEnvFunc
	version   string
}

// newParser builds the parser for cmd and, when cmd is a [Manager], for all
// of its children. helpArgs are the spellings inherited from the parent and
// taken holds the destinations declared by the ancestors, mapped to the
// declaring path.
func newParser(path string, cmd Command, helpArgs []string, taken map[string]string, cfg *parserConfig) (*Parser, error) {
	if h, ok := cmd.(HelpArgser); ok {
		if args, set := h.HelpArgs(); set {
			helpArgs = args
		}
	}

	p := &Parser{
		prog:     path,
		cmd:      cmd,
		flags:    NewFlagSet(WithLookupEnv(cfg.lookupEnv)),
		helpArgs: helpArgs,
		version:  cfg.version,
	}
	if c, ok := cmd.(ArgsCapturer); ok {
		p.captureAll = c.CaptureAllArgs()
	}
	if c, ok := cmd.(*FuncCommand); ok {
		c.seal()
	}

	def := p.flags.NewSection("OPTIONS")
	if err := p.addHelp(def); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dests := make(map[string]string, len(taken))
	for k, v := range taken {
		dests[k] = v
	}

	for _, entry := range cmd.Options() {
		switch e := entry.(type) {
		case *Option:
			if _, err := p.addOption(def, e, dests); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		case *Group:
			section := def
			if e.title != "" || e.description != "" {
				name := e.title
				if name == "" {
					name = "OPTIONS"
				}
				section = p.flags.NewSection(name)
				section.description = e.description
			}

			members := make([]*OptionValue, 0, len(e.options))
			for _, o := range e.options {
				v, err := p.addOption(section, o, dests)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", path, err)
				}
				members = append(members, v)
			}
			if e.exclusive {
				p.exclusive = append(p.exclusive, &exclusiveGroup{
					required: e.required,
					members:  members,
				})
			}
		default:
			return nil, fmt.Errorf("%s: %w: unsupported option entry %T", path, ErrInvalidConfig, entry)
		}
	}

	// Version only applies to the root.
	if p.version != "" {
		p.addVersion(def)
		cfg = &parserConfig{lookupEnv: cfg.lookupEnv}
	}

	p.flags.AfterParse(p.checkFlags)

	m, ok := cmd.(*Manager)
	if !ok {
		return p, nil
	}

	p.branch = true
	p.subs = orderedmap.New()
	for pair := m.children.Oldest(); pair != nil; pair = pair.Next() {
		name := pair.Key.(string)     //nolint:forcetypeassert // Only strings are stored.
		child := pair.Value.(Command) //nolint:forcetypeassert // Only commands are stored.

		m.inheritStreams(child)
		sub, err := newParser(path+" "+name, child, helpArgs, dests, cfg)
		if err != nil {
			return nil, err
		}
		p.subs.Set(name, sub)
	}
	return p, nil
}

func (p *Parser) addHelp(section *FlagSection) error {
	names := flagNames(p.helpArgs)
	if len(names) == 0 {
		return nil
	}

	primary, aliases := splitPrimary(names)
	for _, name := range names {
		if section.flagSet.Lookup(name) != nil {
			return fmt.Errorf("%w: conflicting help spelling %s", ErrInvalidConfig, dashed(name))
		}
	}

	section.BoolVar(&BoolVar{
		Name:    primary,
		Aliases: aliases,
		Usage:   "Show this help message and exit.",
		Target:  &p.showHelp,
	})
	return nil
}

func (p *Parser) addVersion(section *FlagSection) {
	var free []string
	for _, name := range []string{"v", "version"} {
		if section.flagSet.Lookup(name) == nil {
			free = append(free, name)
		}
	}
	if len(free) == 0 {
		return
	}

	primary, aliases := splitPrimary(free)
	section.BoolVar(&BoolVar{
		Name:    primary,
		Aliases: aliases,
		Usage:   "Print the version and exit.",
		Target:  &p.showVersion,
	})
}

func (p *Parser) addOption(section *FlagSection, o *Option, dests map[string]string) (*OptionValue, error) {
	if o == nil {
		return nil, fmt.Errorf("%w: nil option", ErrInvalidConfig)
	}

	v, err := newOptionValue(o, p.flags.lookupEnv)
	if err != nil {
		return nil, err
	}

	dest := o.DestName()
	if owner, ok := dests[dest]; ok {
		return nil, fmt.Errorf("%w: destination %q of %s is already used by %q",
			ErrInvalidConfig, dest, o.displayName(), owner)
	}

	if o.IsPositional() {
		p.positionals = append(p.positionals, v)
	} else {
		if err := section.OptionVar(v); err != nil {
			return nil, err
		}
		p.options = append(p.options, v)
	}

	dests[dest] = p.prog
	p.dests = append(p.dests, dest)
	return v, nil
}

// Parse parses args and returns the flat values and the matched stack.
func (p *Parser) Parse(args []string) (*ParseResult, error) {
	tokens := deque.New()
	for _, arg := range args {
		tokens.PushBack(arg)
	}

	res := &ParseResult{Values: make(Values)}
	if err := p.parse(tokens, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Parser) parse(tokens *deque.Deque, res *ParseResult) error {
	res.Stack = append(res.Stack, &Node{Path: p.prog, Command: p.cmd, parser: p})
	if p.branch {
		return p.parseBranch(tokens, res)
	}
	return p.parseLeaf(tokens, res)
}

// parseBranch consumes the branch's own flags up to the first positional
// token, which selects the child to descend into.
func (p *Parser) parseBranch(tokens *deque.Deque, res *ParseResult) error {
	var flagArgs []string
	for tokens.Len() > 0 {
		tok := front(tokens)
		if tok == "--" {
			tokens.PopFront()
			break
		}
		if !isFlagToken(tok) {
			break
		}

		tokens.PopFront()
		flagArgs = append(flagArgs, tok)
		if p.flagTakesValue(tok) && tokens.Len() > 0 {
			flagArgs = append(flagArgs, front(tokens))
			tokens.PopFront()
		}
	}

	if err := p.flags.Parse(flagArgs); err != nil {
		return p.flagError(err, flagArgs)
	}
	if err := p.earlyExit(); err != nil {
		return err
	}
	p.collect(res)

	if tokens.Len() == 0 {
		return nil
	}

	name := front(tokens)
	tokens.PopFront()

	sub, ok := p.subs.Get(name)
	if !ok {
		return newUsageError(p, "argument command: invalid choice: %q (choose from %s)", name, p.choices())
	}
	return sub.(*Parser).parse(tokens, res) //nolint:forcetypeassert // Only parsers are stored.
}

// parseLeaf consumes every remaining token. Declared flags may appear
// anywhere. Unknown flags are errors unless the command captures all
// arguments, in which case they join the surplus positionals in Remaining.
func (p *Parser) parseLeaf(tokens *deque.Deque, res *ParseResult) error {
	rest := make([]string, 0, tokens.Len())
	for tokens.Len() > 0 {
		rest = append(rest, front(tokens))
		tokens.PopFront()
	}

	flagArgs, others := p.splitLeafArgs(rest)
	if err := p.flags.ParseToEnd(flagArgs); err != nil {
		return p.flagError(err, flagArgs)
	}
	if err := p.earlyExit(); err != nil {
		return err
	}

	next := 0
	for _, a := range others {
		if !a.positional || next >= len(p.positionals) {
			res.Remaining = append(res.Remaining, a.token)
			continue
		}

		pos := p.positionals[next]
		if err := pos.Set(a.token); err != nil {
			return newUsageError(p, "argument %s: %s", pos.opt.Names[0], err)
		}
		next++
	}

	var missing []string
	for _, pos := range p.positionals[next:] {
		if pos.opt.isRequired() {
			missing = append(missing, pos.opt.Names[0])
		}
	}
	if len(missing) > 0 {
		return newUsageError(p, "the following arguments are required: %s", strings.Join(missing, ", "))
	}

	p.collect(res)
	return nil
}

// leafArg is a token that is not handed to the flag set.
type leafArg struct {
	token      string
	positional bool
}

// splitLeafArgs separates the tokens for the flag set from the rest, which
// keep their order. A flag's value is kept with its flag. Everything after
// "--" is positional.
func (p *Parser) splitLeafArgs(args []string) ([]string, []leafArg) {
	numericFlags := p.hasNumericFlags()

	var flagArgs []string
	var others []leafArg
	for i := 0; i < len(args); i++ {
		tok := args[i]
		if tok == "--" {
			for _, t := range args[i+1:] {
				others = append(others, leafArg{token: t, positional: true})
			}
			break
		}

		if !isFlagToken(tok) || (!numericFlags && negativeNumberRe.MatchString(tok)) {
			others = append(others, leafArg{token: tok, positional: true})
			continue
		}

		if p.captureAll && p.flags.Lookup(flagName(tok)) == nil {
			others = append(others, leafArg{token: tok})
			continue
		}

		flagArgs = append(flagArgs, tok)
		if p.flagTakesValue(tok) && i+1 < len(args) {
			i++
			flagArgs = append(flagArgs, args[i])
		}
	}
	return flagArgs, others
}

// hasNumericFlags reports whether a flag is spelled like a negative number,
// in which case such tokens are flags rather than positionals.
func (p *Parser) hasNumericFlags() bool {
	var found bool
	p.flags.VisitAll(func(f *flag.Flag) {
		if negativeNumberRe.MatchString("-" + f.Name) {
			found = true
		}
	})
	return found
}

// checkFlags enforces required flags and exclusive groups once the flags are
// parsed.
func (p *Parser) checkFlags(existing error) error {
	if existing != nil || p.showHelp || p.showVersion {
		return nil
	}

	var missing []string
	for _, v := range p.options {
		if v.opt.Required && !v.set && !v.fromEnv {
			missing = append(missing, v.opt.displayName())
		}
	}
	if len(missing) > 0 {
		return newUsageError(p, "the following arguments are required: %s", strings.Join(missing, ", "))
	}

	for _, g := range p.exclusive {
		var given *OptionValue
		for _, v := range g.members {
			if !v.set {
				continue
			}
			if given != nil {
				return newUsageError(p, "argument %s: not allowed with argument %s",
					v.opt.displayName(), given.opt.displayName())
			}
			given = v
		}

		if given == nil && g.required {
			names := make([]string, 0, len(g.members))
			for _, v := range g.members {
				names = append(names, v.opt.displayName())
			}
			return newUsageError(p, "one of the arguments %s is required", strings.Join(names, " "))
		}
	}
	return nil
}

// flagError converts a flag set error into a usage error. args are the
// tokens that were parsed.
func (p *Parser) flagError(err error, args []string) error {
	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return usageErr
	}

	// The flag package reports -h and -help as ErrHelp when they are not
	// defined; they are only help spellings when configured.
	if errors.Is(err, flag.ErrHelp) {
		tok := "-h"
		for _, a := range args {
			if name := flagName(a); isFlagToken(a) && (name == "h" || name == "help") {
				tok = a
				break
			}
		}
		return newUsageError(p, "unrecognized arguments: %s", tok)
	}
	return newUsageError(p, "%s", err)
}

// earlyExit prints help or the version when requested and returns an
// [*ExitError] with status 0.
func (p *Parser) earlyExit() error {
	switch {
	case p.showHelp:
		fmt.Fprintln(stdoutOf(p.cmd), p.Help())
	case p.showVersion:
		fmt.Fprintln(stdoutOf(p.cmd), p.version)
	default:
		return nil
	}
	return &ExitError{Code: 0}
}

func (p *Parser) collect(res *ParseResult) {
	for _, v := range p.options {
		res.Values[v.opt.DestName()] = v.Get()
	}
	for _, v := range p.positionals {
		res.Values[v.opt.DestName()] = v.Get()
	}
}

func (p *Parser) flagTakesValue(tok string) bool {
	if strings.Contains(tok, "=") {
		return false
	}

	f := p.flags.Lookup(flagName(tok))
	if f == nil {
		return false
	}
	if bv, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bv.IsBoolFlag() {
		return false
	}
	return true
}

func (p *Parser) choices() string {
	names := make([]string, 0, p.subs.Len())
	for pair := p.subs.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, strconv.Quote(pair.Key.(string))) //nolint:forcetypeassert // Only strings are stored.
	}
	return strings.Join(names, ", ")
}

// Prog returns the command path of the parser.
func (p *Parser) Prog() string {
	return p.prog
}

// HelpArgs returns the resolved help spellings of the node.
func (p *Parser) HelpArgs() []string {
	return append([]string(nil), p.helpArgs...)
}

// Sub returns the parser of the named child.
func (p *Parser) Sub(name string) (*Parser, bool) {
	if !p.branch {
		return nil, false
	}
	v, ok := p.subs.Get(name)
	if !ok {
		return nil, false
	}
	return v.(*Parser), true //nolint:forcetypeassert // Only parsers are stored.
}

// Help returns the formatted help output of the node.
func (p *Parser) Help() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Usage: %s\n", p.usageLine())

	if desc := longDesc(p.cmd); desc != "" {
		fmt.Fprintf(&b, "\n%s\n", wrapAtLengthWithPadding(desc, 2))
	}

	if p.branch && p.subs.Len() > 0 {
		longest := 0
		for pair := p.subs.Oldest(); pair != nil; pair = pair.Next() {
			if l := len(pair.Key.(string)); l > longest { //nolint:forcetypeassert // Only strings are stored.
				longest = l
			}
		}

		fmt.Fprint(&b, "\nCOMMANDS\n\n")
		for pair := p.subs.Oldest(); pair != nil; pair = pair.Next() {
			sub := pair.Value.(*Parser) //nolint:forcetypeassert // Only parsers are stored.
			fmt.Fprintf(&b, "    %-*s%s\n", longest+4, pair.Key, shortDesc(sub.cmd))
		}
	}

	if len(p.positionals) > 0 {
		fmt.Fprint(&b, "\nARGUMENTS\n")
		for _, v := range p.positionals {
			fmt.Fprintf(&b, "\n    %s\n", v.opt.Names[0])
			if v.opt.Usage != "" {
				fmt.Fprintf(&b, "%s\n", wrapAtLengthWithPadding(v.opt.Usage, 8))
			}
		}
	}

	if h := p.flags.Help(); h != "" {
		fmt.Fprintf(&b, "\n%s\n", h)
	}

	return strings.TrimRight(b.String(), "\n")
}

// usageLine is the one-line synopsis of the node.
func (p *Parser) usageLine() string {
	if u, ok := p.cmd.(Usager); ok {
		if v := u.Usage(); v != "" {
			return strings.ReplaceAll(v, "{{ COMMAND }}", p.prog)
		}
	}

	parts := []string{p.prog}

	hasFlags := false
	p.flags.VisitAll(func(f *flag.Flag) {
		if v, ok := f.Value.(Value); ok && !v.Hidden() {
			hasFlags = true
		}
	})
	if hasFlags {
		parts = append(parts, "[options]")
	}

	for _, v := range p.positionals {
		if v.opt.isRequired() {
			parts = append(parts, v.opt.Names[0])
		} else {
			parts = append(parts, "["+v.opt.Names[0]+"]")
		}
	}
	if p.branch {
		parts = append(parts, "COMMAND ...")
	}
	if p.captureAll {
		parts = append(parts, "[ARGS ...]")
	}
	return strings.Join(parts, " ")
}

// Completer converts the parser tree into a shell completion command.
func (p *Parser) Completer() *complete.Command {
	cmd := &complete.Command{
		Flags: make(map[string]complete.Predictor),
	}

	p.flags.VisitAll(func(f *flag.Flag) {
		v, ok := f.Value.(Value)
		if !ok || v.Hidden() {
			return
		}
		cmd.Flags[f.Name] = v.Predictor()
	})

	if len(p.positionals) > 0 {
		cmd.Args = p.positionals[0].Predictor()
	}

	if p.branch {
		cmd.Sub = make(map[string]*complete.Command, p.subs.Len())
		for pair := p.subs.Oldest(); pair != nil; pair = pair.Next() {
			cmd.Sub[pair.Key.(string)] = pair.Value.(*Parser).Completer() //nolint:forcetypeassert // Only parsers are stored.
		}
	}
	return cmd
}

// longDesc is the description shown in a command's own help.
func longDesc(cmd Command) string {
	if h, ok := cmd.(Helper); ok {
		if v := strings.TrimSpace(h.Help()); v != "" {
			return v
		}
	}
	if d, ok := cmd.(Describer); ok {
		return d.Desc()
	}
	return ""
}

func stdoutOf(cmd Command) io.Writer {
	if s, ok := cmd.(Streamer); ok {
		return s.Stdout()
	}
	return os.Stdout
}

func front(d *deque.Deque) string {
	v, _ := d.Front()
	s, _ := v.(string)
	return s
}

func isFlagToken(tok string) bool {
	return len(tok) > 1 && tok[0] == '-'
}

// flagName returns the flag name of tok without dashes or an inline value.
func flagName(tok string) string {
	name, _, _ := strings.Cut(strings.TrimLeft(tok, "-"), "=")
	return name
}

// flagNames strips the dashes off spellings, dropping duplicates.
func flagNames(spellings []string) []string {
	seen := make(map[string]struct{}, len(spellings))
	names := make([]string, 0, len(spellings))
	for _, s := range spellings {
		name := strings.TrimLeft(s, "-")
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// splitPrimary returns the longest name and the others.
func splitPrimary(names []string) (string, []string) {
	primary := names[0]
	for _, n := range names[1:] {
		if len(n) > len(primary) {
			primary = n
		}
	}

	aliases := make([]string, 0, len(names)-1)
	for _, n := range names {
		if n != primary {
			aliases = append(aliases, n)
		}
	}
	return primary, aliases
}
