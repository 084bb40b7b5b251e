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

//nolint:wrapcheck // These functions intentionally just wrap flag.Flag.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/kr/text"
	"github.com/mfridman/xflag"
	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/predict"
)

const maxLineLength = 80

// LookupEnvFunc is the signature of a function for looking up environment
// variables. It makes that of [os.LookupEnv].
type LookupEnvFunc = func(string) (string, bool)

// MapLookuper returns a LookupEnvFunc that reads from a map instead of the
// environment. This is mostly used for testing.
func MapLookuper(m map[string]string) LookupEnvFunc {
	return func(s string) (string, bool) {
		if m == nil {
			return "", false
		}

		v, ok := m[s]
		return v, ok
	}
}

// AfterParseFunc is the type signature for functions that are called after
// flags have been parsed.
type AfterParseFunc func(existingErr error) error

// FlagSet is the root flag set for creating and managing flag sections.
type FlagSet struct {
	flagSet         *flag.FlagSet
	sections        []*FlagSection
	lookupEnv       LookupEnvFunc
	afterParseFuncs []AfterParseFunc
}

// FlagSetOption is an option to the flagset.
type FlagSetOption func(fs *FlagSet) *FlagSet

// WithLookupEnv defines a custom function for looking up environment variables.
// This is mostly useful for testing.
func WithLookupEnv(fn LookupEnvFunc) FlagSetOption {
	return func(fs *FlagSet) *FlagSet {
		if fn != nil {
			fs.lookupEnv = fn
		}
		return fs
	}
}

// NewFlagSet creates a new root flag set.
func NewFlagSet(opts ...FlagSetOption) *FlagSet {
	f := flag.NewFlagSet("", flag.ContinueOnError)

	// Errors and usage are controlled by the writer.
	f.Usage = func() {}
	f.SetOutput(io.Discard)

	fs := &FlagSet{
		flagSet:   f,
		lookupEnv: os.LookupEnv,
	}

	for _, opt := range opts {
		fs = opt(fs)
	}

	return fs
}

// FlagSection represents a group section of flags. The flags are actually
// "flat" in memory, but maintain a structure for better help output and alias
// matching.
type FlagSection struct {
	name        string
	description string
	flagNames   []string

	// fields inherited from the parent
	flagSet   *flag.FlagSet
	lookupEnv LookupEnvFunc
}

// NewSection creates a new flag section. By convention, section names should be
// all capital letters (e.g. "MY SECTION"), but this is not strictly enforced.
func (f *FlagSet) NewSection(name string) *FlagSection {
	fs := &FlagSection{
		name:      name,
		flagSet:   f.flagSet,
		lookupEnv: f.lookupEnv,
	}
	f.sections = append(f.sections, fs)
	return fs
}

// AfterParse defines a post-parse function. These functions are called after
// flags have been parsed by the flag library, but before [Parse] returns.
func (f *FlagSet) AfterParse(fn AfterParseFunc) {
	if fn == nil {
		return
	}

	f.afterParseFuncs = append(f.afterParseFuncs, fn)
}

// Args implements flag.FlagSet#Args.
func (f *FlagSet) Args() []string {
	return f.flagSet.Args()
}

// Lookup implements flag.FlagSet#Lookup.
func (f *FlagSet) Lookup(name string) *flag.Flag {
	return f.flagSet.Lookup(name)
}

// Parse implements flag.FlagSet#Parse. Parsing stops at the first positional
// argument.
func (f *FlagSet) Parse(args []string) error {
	// Call the normal parse function first, so that Args and everything are
	// properly set for any after functions.
	return f.afterParse(f.flagSet.Parse(args))
}

// ParseToEnd is like [FlagSet.Parse], but flags may follow positional
// arguments. Everything after "--" is positional.
func (f *FlagSet) ParseToEnd(args []string) error {
	return f.afterParse(xflag.ParseToEnd(f.flagSet, args))
}

func (f *FlagSet) afterParse(merr error) error {
	for _, fn := range f.afterParseFuncs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					merr = errors.Join(merr, fmt.Errorf("panic: %v", r))
				}
			}()

			merr = errors.Join(merr, fn(merr))
		}()
	}

	return merr
}

// Visit implements flag.FlagSet#Visit.
func (f *FlagSet) Visit(fn func(*flag.Flag)) {
	f.flagSet.Visit(fn)
}

// VisitAll implements flag.FlagSet#VisitAll.
func (f *FlagSet) VisitAll(fn func(*flag.Flag)) {
	f.flagSet.VisitAll(fn)
}

// Help returns formatted help output. Sections without visible flags are
// omitted.
func (f *FlagSet) Help() string {
	var b strings.Builder

	for _, set := range f.sections {
		var sb strings.Builder
		for _, name := range set.flagNames {
			sub := set.flagSet.Lookup(name)
			if sub == nil {
				panic("inconsistency between flag structure and help")
			}

			typ, ok := sub.Value.(Value)
			if !ok {
				panic(fmt.Sprintf("flag is incorrect type %T", sub.Value))
			}

			// Do not process hidden flags.
			if typ.Hidden() {
				continue
			}

			// Incorporate aliases.
			aliases := append([]string(nil), typ.Aliases()...)
			sort.SliceStable(aliases, func(i, j int) bool {
				return len(aliases[i]) < len(aliases[j])
			})
			all := make([]string, 0, len(aliases)+1)
			for _, v := range aliases {
				all = append(all, dashed(v))
			}
			all = append(all, dashed(sub.Name))

			// Handle boolean flags
			if typ.IsBoolFlag() {
				fmt.Fprintf(&sb, "    %s\n", strings.Join(all, ", "))
			} else {
				fmt.Fprintf(&sb, "    %s=%s\n", strings.Join(all, ", "), typ.Example())
			}

			if sub.Usage != "" {
				fmt.Fprint(&sb, wrapAtLengthWithPadding(sub.Usage, 8))
				fmt.Fprint(&sb, "\n")
			}
			fmt.Fprint(&sb, "\n")
		}

		if sb.Len() == 0 {
			continue
		}

		fmt.Fprint(&b, set.name)
		fmt.Fprint(&b, "\n\n")
		if set.description != "" {
			fmt.Fprint(&b, wrapAtLengthWithPadding(set.description, 2))
			fmt.Fprint(&b, "\n\n")
		}
		fmt.Fprint(&b, sb.String())
	}

	return strings.TrimRight(b.String(), "\n")
}

// LookupEnv is a convenience function for looking up an environment variable.
// By default, it is the same as [os.LookupEnv], but the lookup function can be
// overridden.
func (f *FlagSet) LookupEnv(k string) (string, bool) {
	return f.lookupEnv(k)
}

// Value is an extension of [flag.Value] which adds additional fields for
// setting examples and defining aliases. All flags with this package must
// statisfy this interface.
type Value interface {
	flag.Value

	// Get returns the value. Even though we know the concrete type with generics,
	// this returns [any] to match the standard library.
	Get() any

	// Aliases returns any defined aliases of the flag.
	Aliases() []string

	// Example returns an example input for the flag. This is largely meant as a
	// hint to the CLI user and only affects help output.
	Example() string

	// Hidden returns true if the flag is hidden, false otherwise.
	Hidden() bool

	// IsBoolFlag returns true if the flag accepts no arguments, false otherwise.
	IsBoolFlag() bool

	// Predictor returns a completion predictor.
	Predictor() complete.Predictor
}

// ParserFunc is a function that parses a value into T, or returns an error.
type ParserFunc[T any] func(val string) (T, error)

// PrinterFunc is a function that pretty-prints T.
type PrinterFunc[T any] func(cur T) string

// SetterFunc is a function that sets *T to T.
type SetterFunc[T any] func(cur *T, val T)

type Var[T any] struct {
	Name    string
	Aliases []string
	Usage   string
	Example string
	Default T
	Hidden  bool
	IsBool  bool
	EnvVar  string
	Target  *T

	// Parser and Printer are the generic functions for converting string values
	// to/from the target value.
	Parser  ParserFunc[T]
	Printer PrinterFunc[T]

	// Predict is the completion predictor. If no predictor is defined, it
	// defaults to predicting something (waiting for a value) for all flags except
	// boolean flags (which have no value).
	Predict complete.Predictor

	// Setter defines the function that sets the variable into the target. If nil,
	// it uses a default setter which overwrites the entire value of the Target.
	Setter SetterFunc[T]
}

// Flag is a lower-level API for creating a flag on a flag section. It is used
// for the flags the parser adds itself, such as help and version.
//
// It panics if any of the target, parser, or printer are nil.
func Flag[T any](f *FlagSection, i *Var[T]) {
	if i.Target == nil {
		panic("missing target")
	}

	parser := i.Parser
	if parser == nil {
		panic("missing parser func")
	}

	printer := i.Printer
	if printer == nil {
		panic("missing printer func")
	}

	predictor := i.Predict
	if predictor == nil {
		if i.IsBool {
			predictor = predict.Nothing
		} else {
			predictor = predict.Something
		}
	}

	setter := i.Setter
	if setter == nil {
		setter = func(cur *T, val T) { *cur = val }
	}

	initial := i.Default
	if v, ok := f.lookupEnv(i.EnvVar); ok {
		if t, err := parser(v); err == nil {
			initial = t
		}
	}

	// Set a default value.
	setter(i.Target, initial)

	// Compute a sane default if one was not given.
	example := i.Example
	if example == "" {
		example = fmt.Sprintf("%T", *new(T))
	}

	fv := &flagValue[T]{
		target:    i.Target,
		hidden:    i.Hidden,
		isBool:    i.IsBool,
		example:   example,
		parser:    parser,
		printer:   printer,
		predictor: predictor,
		setter:    setter,
		aliases:   i.Aliases,
	}
	f.flagNames = append(f.flagNames, i.Name)
	f.flagSet.Var(fv, i.Name, i.Usage)

	// Since aliases are not added as a flag name, we can safely add them to the
	// main flag set. Our custom help will skip them.
	for _, alias := range i.Aliases {
		f.flagSet.Var(fv, alias, "")
	}
}

var _ Value = (*flagValue[any])(nil)

type flagValue[T any] struct {
	target  *T
	hidden  bool
	isBool  bool
	example string

	parser    ParserFunc[T]
	printer   PrinterFunc[T]
	setter    SetterFunc[T]
	predictor complete.Predictor
	aliases   []string
}

func (f *flagValue[T]) Set(s string) error {
	v, err := f.parser(s)
	if err != nil {
		return err
	}
	f.setter(f.target, v)
	return nil
}

func (f *flagValue[T]) Get() any                      { return *f.target }
func (f *flagValue[T]) Aliases() []string             { return f.aliases }
func (f *flagValue[T]) String() string                { return f.printer(*f.target) }
func (f *flagValue[T]) Example() string               { return f.example }
func (f *flagValue[T]) Hidden() bool                  { return f.hidden }
func (f *flagValue[T]) IsBoolFlag() bool              { return f.isBool }
func (f *flagValue[T]) Predictor() complete.Predictor { return f.predictor }

type BoolVar struct {
	Name    string
	Aliases []string
	Usage   string
	Example string
	Default bool
	Hidden  bool
	EnvVar  string
	Predict complete.Predictor
	Target  *bool
}

// BoolVar creates a new boolean variable (true/false).
func (f *FlagSection) BoolVar(i *BoolVar) {
	Flag(f, &Var[bool]{
		Name:    i.Name,
		Aliases: i.Aliases,
		Usage:   i.Usage,
		Example: i.Example,
		IsBool:  true,
		Default: i.Default,
		Hidden:  i.Hidden,
		EnvVar:  i.EnvVar,
		Predict: i.Predict,
		Target:  i.Target,
		Parser:  strconv.ParseBool,
		Printer: strconv.FormatBool,
	})
}

// OptionVar registers a declared option on the section. Every spelling is
// registered without its dashes, so "-n" and "--name" become "n" and "name".
// It returns an error wrapping [ErrInvalidConfig] when a spelling is already
// taken.
func (f *FlagSection) OptionVar(v *OptionValue) error {
	for _, name := range v.names {
		if f.flagSet.Lookup(name) != nil {
			return fmt.Errorf("%w: conflicting option string: %s", ErrInvalidConfig, dashed(name))
		}
	}

	usage := v.opt.Usage
	if d := v.opt.Default; d != nil && d != "" {
		usage = strings.TrimSpace(usage + fmt.Sprintf(" The default value is %q.", fmt.Sprint(d)))
	}
	if e := v.opt.EnvVar; e != "" {
		usage = strings.TrimSpace(usage + fmt.Sprintf(" This option can also be specified with the %s "+
			"environment variable.", e))
	}

	primary := v.primary()
	f.flagNames = append(f.flagNames, primary)
	f.flagSet.Var(v, primary, usage)
	for _, alias := range v.Aliases() {
		f.flagSet.Var(v, alias, "")
	}
	return nil
}

var _ Value = (*OptionValue)(nil)

// OptionValue holds the parsed value of one declared [Option].
type OptionValue struct {
	opt   *Option
	names []string
	value any

	// set is true once the option was given on the command line.
	set bool

	// fromEnv is true when the value was read from the option's EnvVar.
	fromEnv bool
}

func newOptionValue(o *Option, lookupEnv LookupEnvFunc) (*OptionValue, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}

	initial, err := o.initialValue()
	if err != nil {
		return nil, err
	}

	v := &OptionValue{opt: o, value: initial}
	if !o.IsPositional() {
		seen := make(map[string]struct{}, len(o.Names))
		for _, name := range o.Names {
			trimmed := strings.TrimLeft(name, "-")
			if _, ok := seen[trimmed]; ok {
				continue
			}
			seen[trimmed] = struct{}{}
			v.names = append(v.names, trimmed)
		}
	}

	if o.EnvVar != "" && lookupEnv != nil {
		if s, ok := lookupEnv(o.EnvVar); ok {
			// Invalid environment values are ignored, like they are for flags.
			if err := v.Set(s); err == nil {
				v.set = false
				v.fromEnv = true
			}
		}
	}
	return v, nil
}

// primary is the longest spelling; the others are aliases.
func (v *OptionValue) primary() string {
	primary := ""
	for _, name := range v.names {
		if len(name) > len(primary) {
			primary = name
		}
	}
	return primary
}

// Set applies one occurrence of the option.
func (v *OptionValue) Set(s string) error {
	o := v.opt
	switch o.Action {
	case ActionStore:
		x, err := o.Type.parse(s)
		if err != nil {
			return err
		}
		v.value = x
	case ActionAppend:
		x, err := o.Type.parse(s)
		if err != nil {
			return err
		}
		v.value = append(toAnySlice(v.value), x)
	case ActionStoreTrue, ActionStoreFalse, ActionStoreConst, ActionAppendConst, ActionCount:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid bool value: %q", s)
		}

		switch o.Action {
		case ActionStoreTrue:
			v.value = b
		case ActionStoreFalse:
			v.value = !b
		case ActionStoreConst:
			if b {
				v.value = o.Const
			}
		case ActionAppendConst:
			if b {
				v.value = append(toAnySlice(v.value), o.Const)
			}
		case ActionCount:
			if b {
				n, _ := v.value.(int)
				v.value = n + 1
			}
		case ActionStore, ActionAppend:
		}
	default:
		return fmt.Errorf("unknown action %s", o.Action)
	}
	v.set = true
	return nil
}

func (v *OptionValue) String() string {
	if v == nil || v.value == nil {
		return ""
	}
	return fmt.Sprint(v.value)
}

// Get returns the current value.
func (v *OptionValue) Get() any { return v.value }

// Option returns the declared option.
func (v *OptionValue) Option() *Option { return v.opt }

func (v *OptionValue) Aliases() []string {
	primary := v.primary()
	aliases := make([]string, 0, len(v.names))
	for _, name := range v.names {
		if name != primary {
			aliases = append(aliases, name)
		}
	}
	return aliases
}

func (v *OptionValue) Example() string {
	if v.opt.Example != "" {
		return v.opt.Example
	}
	return strings.ToUpper(v.opt.DestName())
}

func (v *OptionValue) Hidden() bool     { return v.opt.Hidden }
func (v *OptionValue) IsBoolFlag() bool { return !v.opt.Action.takesValue() }

func (v *OptionValue) Predictor() complete.Predictor {
	if p := v.opt.Predict; p != nil {
		return p
	}
	if v.IsBoolFlag() {
		return predict.Nothing
	}
	return predict.Something
}

func toAnySlice(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return append([]any(nil), t...)
	case []string:
		out := make([]any, 0, len(t))
		for _, s := range t {
			out = append(out, s)
		}
		return out
	default:
		return []any{t}
	}
}

// dashed renders a flag name the way users type it.
func dashed(name string) string {
	if len(name) == 1 {
		return "-" + name
	}
	return "--" + name
}

// wrapAtLengthWithPadding wraps the given text at the maxLineLength, taking
// into account any provided left padding.
func wrapAtLengthWithPadding(s string, pad int) string {
	wrapped := text.Wrap(s, maxLineLength-pad)
	lines := strings.Split(wrapped, "\n")
	for i, line := range lines {
		lines[i] = strings.Repeat(" ", pad) + line
	}
	return strings.Join(lines, "\n")
}
