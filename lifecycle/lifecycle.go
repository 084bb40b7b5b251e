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

// Package lifecycle describes the web application that commands run next to:
// its HTTP handler or gRPC server and the ordered startup and shutdown hooks.
// A [Scope] brackets a single CLI invocation with the reserved hooks so that
// teardown runs on every exit path.
package lifecycle

import (
	"context"
	"net/http"

	"google.golang.org/grpc"
)

// Reserved hook names. Only the first hook with each name is awaited by a
// [Scope]; all other hooks are ignored.
const (
	StartupHookName  = "init_orm"
	ShutdownHookName = "close_orm"
)

// HookFunc is the signature of a startup or shutdown hook.
type HookFunc func(ctx context.Context) error

// Hook is a named lifecycle callback.
type Hook struct {
	Name string
	Fn   HookFunc
}

// App is the application object commands are registered alongside.
type App struct {
	// Name is used in log lines.
	Name string

	// Handler serves HTTP traffic for the runserver command.
	Handler http.Handler

	// GRPC, when set, is served by the runserver command instead of Handler.
	GRPC *grpc.Server

	// OnStartup and OnShutdown are the ordered hook collections.
	OnStartup  []Hook
	OnShutdown []Hook
}

// AddStartup appends a startup hook and returns the app for chaining.
func (a *App) AddStartup(name string, fn HookFunc) *App {
	a.OnStartup = append(a.OnStartup, Hook{Name: name, Fn: fn})
	return a
}

// AddShutdown appends a shutdown hook and returns the app for chaining.
func (a *App) AddShutdown(name string, fn HookFunc) *App {
	a.OnShutdown = append(a.OnShutdown, Hook{Name: name, Fn: fn})
	return a
}

// FindHook returns the first hook with the given name.
func FindHook(hooks []Hook, name string) (Hook, bool) {
	for _, h := range hooks {
		if h.Name == name && h.Fn != nil {
			return h, true
		}
	}
	return Hook{}, false
}
