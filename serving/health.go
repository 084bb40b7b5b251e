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

package serving

import (
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultHealthPath is where [Mux] mounts the health check by default.
const DefaultHealthPath = "/healthz"

const (
	jsonContentType = `application/json; charset=utf-8`
	jsonResponse    = `{"status":"ok"}`

	genericContentType = `text/plain`
	genericResponse    = `ok`
)

// HandleHTTPHealthCheck is a basic HTTP health check implementation. It
// answers JSON clients with a JSON document and everyone else with "ok".
func HandleHTTPHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		val := r.Header.Get("Accept")
		if val == "" {
			val = r.Header.Get("Content-Type")
		}

		if strings.HasPrefix(val, "application/json") {
			w.Header().Set("Content-Type", jsonContentType)
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, jsonResponse)
			return
		}

		w.Header().Set("Content-Type", genericContentType)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, genericResponse)
	})
}

// Mux serves the health check at path next to handler, which receives every
// other request. A nil handler answers 404. An empty path uses
// [DefaultHealthPath].
func Mux(handler http.Handler, path string) http.Handler {
	if path == "" {
		path = DefaultHealthPath
	}
	if handler == nil {
		handler = http.NotFoundHandler()
	}

	mux := http.NewServeMux()
	mux.Handle(path, HandleHTTPHealthCheck())
	mux.Handle("/", handler)
	return mux
}

// RegisterGRPCHealthCheck registers a basic health check service to the given
// server, unless one is already registered.
func RegisterGRPCHealthCheck(grpcServer *grpc.Server) *health.Server {
	if _, ok := grpcServer.GetServiceInfo()[healthpb.Health_ServiceDesc.ServiceName]; ok {
		return nil
	}

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)
	return hs
}
