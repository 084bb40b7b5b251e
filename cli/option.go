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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/posener/complete/v2"
)

// ValueType is the type a string token is coerced into.
type ValueType int

const (
	TypeString ValueType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeDuration
)

func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeDuration:
		return "duration"
	default:
		return "ValueType(" + strconv.Itoa(int(t)) + ")"
	}
}

func (t ValueType) parse(s string) (any, error) {
	switch t {
	case TypeString:
		return s, nil
	case TypeInt:
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid int value: %q", s)
		}
		return v, nil
	case TypeFloat:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float value: %q", s)
		}
		return v, nil
	case TypeBool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bool value: %q", s)
		}
		return v, nil
	case TypeDuration:
		v, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid duration value: %q", s)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown value type %s", t)
	}
}

// Action is how an option stores what it was given.
type Action int

const (
	// ActionStore stores the token, coerced by the option's type.
	ActionStore Action = iota

	// ActionStoreTrue stores true when present. The default is false.
	ActionStoreTrue

	// ActionStoreFalse stores false when present. The default is true.
	ActionStoreFalse

	// ActionStoreConst stores the option's Const when present.
	ActionStoreConst

	// ActionAppend appends each coerced token to a list.
	ActionAppend

	// ActionAppendConst appends the option's Const each time it is present.
	ActionAppendConst

	// ActionCount counts how many times the option is present.
	ActionCount
)

func (a Action) String() string {
	switch a {
	case ActionStore:
		return "store"
	case ActionStoreTrue:
		return "store_true"
	case ActionStoreFalse:
		return "store_false"
	case ActionStoreConst:
		return "store_const"
	case ActionAppend:
		return "append"
	case ActionAppendConst:
		return "append_const"
	case ActionCount:
		return "count"
	default:
		return "Action(" + strconv.Itoa(int(a)) + ")"
	}
}

// takesValue reports whether the action consumes a token.
func (a Action) takesValue() bool {
	return a == ActionStore || a == ActionAppend
}

// Entry is an element of a command's option list: an [*Option] or a [*Group].
type Entry interface {
	entryOptions() []*Option
}

var (
	_ Entry = (*Option)(nil)
	_ Entry = (*Group)(nil)
)

// Option declares one flag or positional argument. Names holding a single
// spelling without a leading dash declare a positional argument; otherwise
// every name is a flag spelling such as "-n" or "--name".
type Option struct {
	Names []string

	// Dest is the key the parsed value is stored under. It defaults to the
	// longest flag spelling without dashes, with inner dashes replaced by
	// underscores, or to the positional name.
	Dest string

	Usage   string
	Example string
	Type    ValueType
	Action  Action

	// Default is the value stored when the option is absent. String defaults
	// are coerced by Type. A positional with a Default is optional.
	Default any

	// Const is the value stored by [ActionStoreConst] and [ActionAppendConst].
	Const any

	// Required marks a flag that must be given.
	Required bool

	Hidden bool

	// EnvVar names an environment variable that supplies the value when the
	// flag is absent.
	EnvVar string

	// Predict is the completion predictor for the option's value.
	Predict complete.Predictor
}

func (o *Option) entryOptions() []*Option {
	return []*Option{o}
}

// IsPositional reports whether the option is a positional argument.
func (o *Option) IsPositional() bool {
	return len(o.Names) == 1 && !strings.HasPrefix(o.Names[0], "-")
}

// DestName returns the key the option's value is stored under.
func (o *Option) DestName() string {
	if o.Dest != "" {
		return o.Dest
	}
	if o.IsPositional() {
		return o.Names[0]
	}

	longest := ""
	for _, name := range o.Names {
		trimmed := strings.TrimLeft(name, "-")
		if len(trimmed) > len(longest) {
			longest = trimmed
		}
	}
	return strings.ReplaceAll(longest, "-", "_")
}

// isRequired reports whether the option must be present on the command line.
func (o *Option) isRequired() bool {
	if o.IsPositional() {
		return o.Default == nil
	}
	return o.Required
}

// displayName is how the option is referred to in error messages.
func (o *Option) displayName() string {
	if o.IsPositional() {
		return o.Names[0]
	}
	return strings.Join(o.Names, "/")
}

func (o *Option) validate() error {
	if len(o.Names) == 0 {
		return fmt.Errorf("%w: option has no names", ErrInvalidConfig)
	}

	if o.IsPositional() {
		if o.Action != ActionStore {
			return fmt.Errorf("%w: positional %q cannot use action %s",
				ErrInvalidConfig, o.Names[0], o.Action)
		}
		return nil
	}

	for _, name := range o.Names {
		trimmed := strings.TrimLeft(name, "-")
		if !strings.HasPrefix(name, "-") || trimmed == "" || strings.Contains(trimmed, "=") {
			return fmt.Errorf("%w: invalid flag spelling %q", ErrInvalidConfig, name)
		}
	}

	if o.Action < ActionStore || o.Action > ActionCount {
		return fmt.Errorf("%w: option %s has unknown action %s",
			ErrInvalidConfig, o.displayName(), o.Action)
	}
	return nil
}

// initialValue is the value stored before any token is applied.
func (o *Option) initialValue() (any, error) {
	switch o.Action {
	case ActionStoreTrue:
		if o.Default == nil {
			return false, nil
		}
	case ActionStoreFalse:
		if o.Default == nil {
			return true, nil
		}
	case ActionStore:
		if s, ok := o.Default.(string); ok && o.Type != TypeString {
			v, err := o.Type.parse(s)
			if err != nil {
				return nil, fmt.Errorf("%w: default for %s: %w", ErrInvalidConfig, o.displayName(), err)
			}
			return v, nil
		}
	case ActionStoreConst, ActionAppend, ActionAppendConst, ActionCount:
	}
	return o.Default, nil
}

// Group clusters options. A group either documents its options under a title
// and description, or constrains them as mutually exclusive, never both.
type Group struct {
	title       string
	description string
	exclusive   bool
	required    bool
	options     []*Option
}

// GroupOption is an option to [NewGroup].
type GroupOption func(g *Group) *Group

// WithTitle sets the help section title of the group.
func WithTitle(title string) GroupOption {
	return func(g *Group) *Group {
		g.title = title
		return g
	}
}

// WithGroupDescription sets the help section description of the group.
func WithGroupDescription(desc string) GroupOption {
	return func(g *Group) *Group {
		g.description = desc
		return g
	}
}

// WithExclusive makes the group's options mutually exclusive.
func WithExclusive() GroupOption {
	return func(g *Group) *Group {
		g.exclusive = true
		return g
	}
}

// WithRequired requires one of the group's options. It only has an effect on
// exclusive groups.
func WithRequired() GroupOption {
	return func(g *Group) *Group {
		g.required = true
		return g
	}
}

// NewGroup creates a group of the given options. It returns an error wrapping
// [ErrInvalidConfig] when a title or description is combined with the
// required or exclusive constraints.
func NewGroup(opts []*Option, gopts ...GroupOption) (*Group, error) {
	g := &Group{options: opts}
	for _, opt := range gopts {
		g = opt(g)
	}

	if (g.title != "" || g.description != "") && (g.required || g.exclusive) {
		return nil, fmt.Errorf("%w: title and/or description cannot be used with required and/or exclusive",
			ErrInvalidConfig)
	}

	if g.exclusive {
		for _, o := range opts {
			if o.IsPositional() {
				return nil, fmt.Errorf("%w: positional %q cannot be in an exclusive group",
					ErrInvalidConfig, o.Names[0])
			}
		}
	}
	return g, nil
}

// MustGroup is like [NewGroup], but panics on error.
func MustGroup(opts []*Option, gopts ...GroupOption) *Group {
	g, err := NewGroup(opts, gopts...)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Group) entryOptions() []*Option {
	return g.options
}

// Title returns the group's help section title.
func (g *Group) Title() string { return g.title }

// Description returns the group's help section description.
func (g *Group) Description() string { return g.description }

// Exclusive reports whether the group's options are mutually exclusive.
func (g *Group) Exclusive() bool { return g.exclusive }

// Required reports whether one of the group's options is required.
func (g *Group) Required() bool { return g.required }

// Options returns the group's options in declaration order.
func (g *Group) Options() []*Option { return g.options }
