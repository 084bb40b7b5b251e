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
	"fmt"
	"reflect"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
)

var (
	contextType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	durationType = reflect.TypeOf(time.Duration(0))
	valuesType   = reflect.TypeOf(Values(nil))

	closureName = regexp.MustCompile(`^func\d+(\.\d+)*$`)
)

// param binds one parameter struct field to an option destination.
type param struct {
	dest  string
	index []int
}

// Derive builds a command from fn. The options are inferred once from fn's
// parameter struct and never inspected again. Accepted signatures are:
//
//	func(ctx context.Context) error
//	func(ctx context.Context) (R, error)
//	func(ctx context.Context, params P) error
//	func(ctx context.Context, params P) (R, error)
//	func(ctx context.Context, call *Call) (any, error)
//
// where P is a struct or a pointer to a struct. Each exported field becomes
// a parameter named by its `arg` tag, or its name in snake_case. Fields with
// a `default` tag become optional flags spelled -<first letter> and
// --<name>; bool fields become presence flags and every other field a string
// flag carrying the default. Fields without a default become required
// positional arguments. A `help` tag sets the usage text and `arg:"-"` skips
// the field.
//
// The command receives every value its node claims, which for a terminal
// includes the global options of its ancestors. A field of type [Values]
// collects the values no other field binds; without one, such values fail
// the call with [ErrArgumentMismatch]. Functions without a parameter struct
// ignore the values.
//
// When name is empty it is derived from fn's function name in snake_case.
func Derive(name string, fn any, opts ...CommandOption) (*FuncCommand, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil function", ErrInvalidConfig)
	}

	if name == "" {
		n, err := funcName(fn)
		if err != nil {
			return nil, err
		}
		name = n
	}

	switch typ := fn.(type) {
	case ActionFunc:
		return NewCommand(name, typ, opts...), nil
	case func(context.Context, *Call) (any, error):
		return NewCommand(name, typ, opts...), nil
	}

	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %s: expected a function, got %T", ErrInvalidConfig, name, fn)
	}

	if t.IsVariadic() || t.NumIn() < 1 || t.NumIn() > 2 || t.In(0) != contextType {
		return nil, fmt.Errorf("%w: %s: first and only parameters must be a context and an optional struct",
			ErrInvalidConfig, name)
	}
	if t.NumOut() < 1 || t.NumOut() > 2 || t.Out(t.NumOut()-1) != errorType {
		return nil, fmt.Errorf("%w: %s: must return error or (result, error)", ErrInvalidConfig, name)
	}

	var (
		paramsType reflect.Type
		isPtr      bool
		params     []param
		extras     []int
		options    []Entry
	)
	if t.NumIn() == 2 {
		paramsType = t.In(1)
		if paramsType.Kind() == reflect.Pointer {
			paramsType = paramsType.Elem()
			isPtr = true
		}
		if paramsType.Kind() != reflect.Struct {
			return nil, fmt.Errorf("%w: %s: parameters must be a struct, got %s",
				ErrInvalidConfig, name, t.In(1))
		}

		var err error
		params, extras, options, err = deriveOptions(paramsType)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	action := func(ctx context.Context, call *Call) (any, error) {
		in := []reflect.Value{reflect.ValueOf(ctx)}
		if paramsType != nil {
			pv := reflect.New(paramsType)
			if err := bindParams(pv.Elem(), params, extras, call.Values); err != nil {
				return nil, err
			}
			if isPtr {
				in = append(in, pv)
			} else {
				in = append(in, pv.Elem())
			}
		}

		out := v.Call(in)
		errV := out[len(out)-1]
		var err error
		if !errV.IsNil() {
			err = errV.Interface().(error) //nolint:forcetypeassert // Checked by signature.
		}

		if len(out) == 1 {
			return nil, err
		}
		return out[0].Interface(), err
	}

	c := NewCommand(name, action)
	c.options = options
	c.apply(opts)
	return c, nil
}

// MustDerive is like [Derive], but panics on error.
func MustDerive(name string, fn any, opts ...CommandOption) *FuncCommand {
	c, err := Derive(name, fn, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// deriveOptions returns the bound fields, the index of the [Values] field
// collecting the rest (nil without one) and the options.
func deriveOptions(t reflect.Type) ([]param, []int, []Entry, error) {
	params := make([]param, 0, t.NumField())
	options := make([]Entry, 0, t.NumField())
	shorts := make(map[string]struct{})
	var extras []int

	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() || f.Anonymous {
			continue
		}

		if f.Type == valuesType {
			if extras != nil {
				return nil, nil, nil, fmt.Errorf("%w: more than one Values field", ErrInvalidConfig)
			}
			extras = f.Index
			continue
		}

		dest := f.Tag.Get("arg")
		if dest == "-" {
			continue
		}
		if dest == "" {
			dest = strcase.ToSnake(f.Name)
		}

		if !settable(f.Type) {
			return nil, nil, nil, fmt.Errorf("%w: field %s has unsupported type %s",
				ErrInvalidConfig, f.Name, f.Type)
		}

		params = append(params, param{dest: dest, index: f.Index})

		def, hasDefault := f.Tag.Lookup("default")
		if !hasDefault {
			options = append(options, &Option{
				Names: []string{dest},
				Usage: f.Tag.Get("help"),
			})
			continue
		}

		names := make([]string, 0, 2)
		short := dest[:1]
		if _, ok := shorts[short]; !ok {
			shorts[short] = struct{}{}
			names = append(names, "-"+short)
		}
		names = append(names, "--"+dest)

		opt := &Option{
			Names: names,
			Dest:  dest,
			Usage: f.Tag.Get("help"),
		}
		if f.Type.Kind() == reflect.Bool {
			b := false
			if def != "" {
				v, err := strconv.ParseBool(def)
				if err != nil {
					return nil, nil, nil, fmt.Errorf("%w: field %s has invalid default %q",
						ErrInvalidConfig, f.Name, def)
				}
				b = v
			}
			opt.Action = ActionStoreTrue
			opt.Default = b
		} else {
			opt.Default = def
		}
		options = append(options, opt)
	}
	return params, extras, options, nil
}

func settable(t reflect.Type) bool {
	if t == durationType {
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Interface:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.String || t.Elem().Kind() == reflect.Interface
	default:
		return false
	}
}

// bindParams copies values into the parameter struct. Values without a
// matching field go to the field at extras, or are an error when there is
// none.
func bindParams(dst reflect.Value, params []param, extras []int, values Values) error {
	bound := make(map[string]struct{}, len(params))
	for _, p := range params {
		bound[p.dest] = struct{}{}

		raw, ok := values[p.dest]
		if !ok || raw == nil {
			continue
		}

		field := dst.FieldByIndex(p.index)
		if err := assign(field, raw); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrArgumentMismatch, p.dest, err)
		}
	}

	var rest Values
	for k, v := range values {
		if _, ok := bound[k]; ok {
			continue
		}
		if rest == nil {
			rest = make(Values)
		}
		rest[k] = v
	}
	if rest == nil {
		return nil
	}

	if extras == nil {
		return fmt.Errorf("%w: unexpected arguments: %s",
			ErrArgumentMismatch, strings.Join(rest.Keys(), ", "))
	}
	dst.FieldByIndex(extras).Set(reflect.ValueOf(rest))
	return nil
}

func assign(field reflect.Value, raw any) error {
	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(field.Type()) {
		field.Set(rv)
		return nil
	}

	s, isString := raw.(string)
	if !isString {
		if field.Kind() == reflect.Slice && rv.Kind() == reflect.Slice {
			out := reflect.MakeSlice(field.Type(), 0, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				e := reflect.New(field.Type().Elem()).Elem()
				if err := assign(e, rv.Index(i).Interface()); err != nil {
					return err
				}
				out = reflect.Append(out, e)
			}
			field.Set(out)
			return nil
		}
		if rv.Type().ConvertibleTo(field.Type()) && field.Kind() != reflect.String {
			field.Set(rv.Convert(field.Type()))
			return nil
		}
		s = fmt.Sprint(raw)
	}

	if field.Type() == durationType {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q", s)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid bool %q", s)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(s, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer %q", s)
		}
		field.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(s, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid unsigned integer %q", s)
		}
		field.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid number %q", s)
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("cannot assign %T to %s", raw, field.Type())
		}
		field.Set(reflect.ValueOf([]string{s}).Convert(field.Type()))
	default:
		return fmt.Errorf("cannot assign %T to %s", raw, field.Type())
	}
	return nil
}

// funcName derives a command name from the function's symbol name.
func funcName(fn any) (string, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return "", fmt.Errorf("%w: expected a function, got %T", ErrInvalidConfig, fn)
	}

	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return "", fmt.Errorf("%w: cannot resolve function name", ErrInvalidConfig)
	}

	full := strings.TrimSuffix(rf.Name(), "-fm")
	if i := strings.LastIndexByte(full, '/'); i >= 0 {
		full = full[i+1:]
	}

	// Anonymous functions are named pkg.outer.func1 and carry no usable name.
	parts := strings.Split(full, ".")
	last := parts[len(parts)-1]
	if closureName.MatchString(last) || (len(parts) > 1 && closureName.MatchString(strings.Join(parts[len(parts)-2:], "."))) {
		return "", fmt.Errorf("%w: anonymous function needs an explicit name", ErrInvalidConfig)
	}
	return strcase.ToSnake(last), nil
}
