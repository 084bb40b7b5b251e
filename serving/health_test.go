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
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHandleHTTPHealthCheck(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header string

		expContentType string
		expBody        string
	}{
		{
			name:           "no_headers",
			expContentType: genericContentType,
			expBody:        genericResponse,
		},
		{
			name:           "application_json",
			header:         "application/json; charset=utf-8",
			expContentType: jsonContentType,
			expBody:        jsonResponse,
		},
		{
			name:           "html_gets_plain",
			header:         "text/html",
			expContentType: genericContentType,
			expBody:        genericResponse,
		},
	}

	for _, header := range []string{"Accept", "Content-Type"} {
		header := header

		for _, tc := range cases {
			tc := tc

			t.Run(header+"/"+tc.name, func(t *testing.T) {
				t.Parallel()

				r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
				r.Header.Set(header, tc.header)
				w := httptest.NewRecorder()

				HandleHTTPHealthCheck().ServeHTTP(w, r)

				if got, want := w.Code, http.StatusOK; got != want {
					t.Errorf("expected %d to be %d", got, want)
				}
				if got, want := w.Header().Get("Content-Type"), tc.expContentType; got != want {
					t.Errorf("expected %q to be %q", got, want)
				}
				if got, want := w.Body.String(), tc.expBody; got != want {
					t.Errorf("expected %q to be %q", got, want)
				}
			})
		}
	}
}

func TestMux(t *testing.T) {
	t.Parallel()

	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	cases := []struct {
		name     string
		handler  http.Handler
		path     string
		request  string
		wantCode int
	}{
		{
			name:     "default_health_path",
			handler:  app,
			request:  "/healthz",
			wantCode: http.StatusOK,
		},
		{
			name:     "custom_health_path",
			handler:  app,
			path:     "/-/ready",
			request:  "/-/ready",
			wantCode: http.StatusOK,
		},
		{
			name:     "app_route",
			handler:  app,
			request:  "/orders",
			wantCode: http.StatusAccepted,
		},
		{
			name:     "nil_handler",
			request:  "/orders",
			wantCode: http.StatusNotFound,
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			Mux(tc.handler, tc.path).ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.request, nil))

			if got, want := w.Code, tc.wantCode; got != want {
				t.Errorf("expected %d to be %d", got, want)
			}
		})
	}
}

func TestRegisterGRPCHealthCheck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	s := grpc.NewServer()
	if hs := RegisterGRPCHealthCheck(s); hs == nil {
		t.Fatal("expected health server to be registered")
	}
	if hs := RegisterGRPCHealthCheck(s); hs != nil {
		t.Error("expected second registration to be skipped")
	}

	t.Cleanup(func() { s.GracefulStop() })

	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("net.Listen(tcp, localhost:0) failed: %v", err)
	}

	go func() {
		if err := s.Serve(lis); err != nil {
			t.Logf("serve failed: %v", err)
		}
	}()

	addr := lis.Addr().String()
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to dial %q: %s", addr, err)
	}
	t.Cleanup(func() { conn.Close() })

	res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.GetStatus(), healthpb.HealthCheckResponse_SERVING; got != want {
		t.Errorf("expected status %v to be %v", got, want)
	}
}
