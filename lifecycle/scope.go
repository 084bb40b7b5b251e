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

package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/abcxyz/webscript/logging"
)

// Func is the type signature for a release function. It accepts a function
// that returns an error or a void function.
type Func interface {
	func() error | func()
}

// Scope is an acquired application scope. Release functions run in reverse
// order of registration when the scope is closed.
//
// It is not safe to use concurrently without locking.
type Scope struct {
	fns    []func() error
	closed bool
}

// Enter acquires the scope for app: it awaits the first startup hook named
// [StartupHookName] and registers the first shutdown hook named
// [ShutdownHookName] to run on [Scope.Close]. A nil app yields an empty scope.
//
// If the startup hook fails, no release function is registered and the error
// is returned.
func Enter(ctx context.Context, app *App) (*Scope, error) {
	s := new(Scope)
	if app == nil {
		return s, nil
	}

	logger := logging.FromContext(ctx)

	if h, ok := FindHook(app.OnStartup, StartupHookName); ok {
		logger.DebugContext(ctx, "running startup hook", "hook", h.Name, "app", app.Name)
		if err := h.Fn(ctx); err != nil {
			return nil, fmt.Errorf("startup hook %s: %w", h.Name, err)
		}
	}

	if h, ok := FindHook(app.OnShutdown, ShutdownHookName); ok {
		Defer(s, func() error {
			logger.DebugContext(ctx, "running shutdown hook", "hook", h.Name, "app", app.Name)
			if err := h.Fn(ctx); err != nil {
				return fmt.Errorf("shutdown hook %s: %w", h.Name, err)
			}
			return nil
		})
	}

	return s, nil
}

// Defer adds release functions to the scope. It handles void and error
// signatures. Nil functions are skipped.
func Defer[T Func](s *Scope, fns ...T) *Scope {
	if s == nil {
		s = new(Scope)
	}

	for _, fn := range fns {
		if fn == nil {
			continue
		}

		switch typ := any(fn).(type) {
		case func() error:
			s.fns = append(s.fns, typ)
		case func():
			s.fns = append(s.fns, func() error {
				typ()
				return nil
			})
		default:
			panic("impossible")
		}
	}

	return s
}

// Close runs all release functions, most recently deferred first. All of them
// are guaranteed to run, even if some panic; after they run, panics propagate
// up the stack. Closing twice is a no-op.
func (s *Scope) Close() (err error) {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true

	for i := 0; i < len(s.fns); i++ {
		fn := s.fns[i]
		// Deferred calls run last-in first-out, so the loop registers them in
		// insertion order.
		defer func() {
			err = errors.Join(err, fn())
		}()
	}
	return
}
