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

package serving_test

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"github.com/abcxyz/webscript/serving"
)

func ExampleServer_StartHTTPHandler() {
	// Any cancellable context will work.
	ctx, done := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer done()

	mux := http.NewServeMux()
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))

	server, err := serving.New(ctx, "127.0.0.1", 8000)
	if err != nil {
		panic(err) // TODO: handle error
	}

	// This will block until the provided context is cancelled.
	if err := server.StartHTTPHandler(ctx, serving.Mux(mux, serving.DefaultHealthPath)); err != nil {
		panic(err) // TODO: handle error
	}
}

func ExampleServer_StartGRPC() {
	// Any cancellable context will work.
	ctx, done := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer done()

	grpcServer := grpc.NewServer()
	serving.RegisterGRPCHealthCheck(grpcServer)

	server, err := serving.New(ctx, "", 0)
	if err != nil {
		panic(err) // TODO: handle error
	}

	// This will block until the provided context is cancelled.
	if err := server.StartGRPC(ctx, grpcServer); err != nil {
		panic(err) // TODO: handle error
	}
}

func ExampleReloader() {
	ctx, done := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer done()

	if serving.IsReloadChild(nil) {
		// The child serves on the listener bound by the parent.
		listener, err := serving.InheritedListener()
		if err != nil {
			panic(err) // TODO: handle error
		}
		server, err := serving.NewFromListener(listener)
		if err != nil {
			panic(err) // TODO: handle error
		}
		if err := server.StartHTTPHandler(ctx, serving.Mux(nil, "")); err != nil {
			panic(err) // TODO: handle error
		}
		return
	}

	server, err := serving.New(ctx, "127.0.0.1", 8000)
	if err != nil {
		panic(err) // TODO: handle error
	}

	reloader := &serving.Reloader{
		Server:     server,
		Dirs:       []string{"."},
		Extensions: []string{".go"},
		Build:      []string{"go", "build", "-o", "app", "."},
	}
	if err := reloader.Run(ctx); err != nil {
		panic(err) // TODO: handle error
	}
}
