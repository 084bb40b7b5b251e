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
	"fmt"
	"reflect"
)

var (
	// ErrInvalidConfig is wrapped by every error caused by an invalid command or
	// option declaration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotImplemented is returned by commands that do not define an action.
	ErrNotImplemented = errors.New("not implemented")

	// ErrArgumentMismatch is returned when parsed values cannot be bound to an
	// action's parameters.
	ErrArgumentMismatch = errors.New("argument mismatch")
)

// UsageError is a command line the parser rejected. Runners print the usage
// line followed by the message and exit with status 2.
type UsageError struct {
	Prog    string
	Usage   string
	Message string
}

func newUsageError(p *Parser, format string, args ...any) *UsageError {
	return &UsageError{
		Prog:    p.prog,
		Usage:   p.usageLine(),
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *UsageError) Error() string {
	return e.Message
}

// ExitError requests an early exit with the given code, such as after
// printing help.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// DispatchError is an error returned by a node's action, annotated with the
// node's command path.
type DispatchError struct {
	Path string
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// exitCode maps the outcome of a dispatch to a process exit code. An int
// result is the code itself. Any other result exits 1 when it is truthy and 0
// when it is nil, false, zero, or empty.
func exitCode(result any, err error) int {
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}

		var usageErr *UsageError
		if errors.As(err, &usageErr) {
			return 2
		}
		return 1
	}

	switch v := result.(type) {
	case int:
		return v
	case *ExitError:
		return v.Code
	default:
		if truthy(v) {
			return 1
		}
		return 0
	}
}

func truthy(v any) bool {
	if v == nil {
		return false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array, reflect.Chan:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface, reflect.Func:
		return !rv.IsNil()
	default:
		return !rv.IsZero()
	}
}
