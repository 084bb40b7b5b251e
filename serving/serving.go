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

// Package serving provides the serving infrastructure behind the runserver
// command, with support for [net/http.Server] and
// [google.golang.org/grpc.Server].
//
// It supports listening on specific ports or randomly-available ports, and
// reports the corresponding bind addresses. The server also gracefully stops
// requests when the provided context is closed. A [Reloader] re-executes the
// program whenever watched files change, handing the bound listener to each
// new process.
package serving

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/abcxyz/webscript/logging"
)

// Server provides a gracefully-stoppable http server implementation.
type Server struct {
	ip       string
	port     string
	listener net.Listener
}

// New creates a new server listening on host and port. It starts the
// listener, but does not start the server. If port is 0, the server randomly
// chooses one. An empty host binds to all interfaces.
//
// Binding is retried with exponential backoff while the address is in use,
// which happens briefly when a previous process is still releasing it.
func New(ctx context.Context, host string, port int) (*Server, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	logger := logging.FromContext(ctx)

	backoff := retry.WithMaxRetries(5, retry.NewExponential(100*time.Millisecond))

	var listener net.Listener
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			if errors.Is(err, syscall.EADDRINUSE) {
				logger.DebugContext(ctx, "address in use, retrying", "addr", addr)
				return retry.RetryableError(err)
			}
			return err
		}
		listener = l
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to create listener on %s: %w", addr, err)
	}

	return NewFromListener(listener)
}

// NewFromListener creates a new server on the given listener. This is useful if
// you want to customize the listener type or bind custom networks more than
// [New] allows.
func NewFromListener(listener net.Listener) (*Server, error) {
	netAddr := listener.Addr()
	addr, ok := netAddr.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("listener is not tcp (got %T)", netAddr)
	}

	return &Server{
		ip:       addr.IP.String(),
		port:     strconv.Itoa(addr.Port),
		listener: listener,
	}, nil
}

// Addr returns the server's listening address (ip + port).
func (s *Server) Addr() string {
	return net.JoinHostPort(s.ip, s.port)
}

// IP returns the server's listening IP.
func (s *Server) IP() string {
	return s.ip
}

// Port returns the server's listening port.
func (s *Server) Port() string {
	return s.port
}

// File returns a duplicate of the listener's file descriptor, for handing
// the listener to a child process.
func (s *Server) File() (*os.File, error) {
	tl, ok := s.listener.(*net.TCPListener)
	if !ok {
		return nil, fmt.Errorf("listener is not tcp (got %T)", s.listener)
	}

	f, err := tl.File()
	if err != nil {
		return nil, fmt.Errorf("failed to get listener file: %w", err)
	}
	return f, nil
}

// Close closes the listener.
func (s *Server) Close() error {
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close listener: %w", err)
	}
	return nil
}

// StartHTTP starts the given [net/http.Server] and blocks until the provided
// context is closed. When the provided context is closed, the HTTP server is
// gracefully stopped with a timeout of 10 seconds; once a server has been
// stopped, it is NOT safe for reuse.
//
// Note that the incoming [net/http.Server]'s address is ignored over the
// listener's configuration.
func (s *Server) StartHTTP(ctx context.Context, srv *http.Server) error {
	return s.startHTTP(ctx, srv, s.listener)
}

func (s *Server) startHTTP(ctx context.Context, srv *http.Server, listener net.Listener) error {
	logger := logging.FromContext(ctx)

	// Start the server in a background goroutine so we can listen for cancellation
	// in the main process.
	errCh := make(chan error, 1)
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)

		logger.InfoContext(ctx, "server is starting", "ip", s.ip, "port", s.port)
		defer logger.InfoContext(ctx, "server is stopped")

		// Another worker sharing the listener may close it first.
		if err := srv.Serve(listener); err != nil &&
			!errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			select {
			case errCh <- err:
			default:
			}
		}
	}()

	// Wait for the provided context to finish or an error to occur.
	select {
	case err := <-errCh:
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
		logger.DebugContext(ctx, "provided context is done")
	}

	// Shutdown the server.
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()

	logger.DebugContext(ctx, "server is shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	close(errCh)

	// Wait for the goroutine to finish so we don't leak
	<-doneCh

	return nil
}

// StartHTTPHandler creates and starts a [net/http.Server] with the given
// handler. See [Server.StartHTTP] for more details.
func (s *Server) StartHTTPHandler(ctx context.Context, handler http.Handler) error {
	return s.StartHTTP(ctx, newHTTPServer(handler))
}

// StartHTTPWorkers starts workers HTTP servers with the given handler, all
// accepting on the server's listener, and blocks until the provided context
// is closed or one of them fails. Fewer than two workers behaves like
// [Server.StartHTTPHandler].
func (s *Server) StartHTTPWorkers(ctx context.Context, handler http.Handler, workers int) error {
	if workers < 2 {
		return s.StartHTTPHandler(ctx, handler)
	}

	logger := logging.FromContext(ctx)
	shared := &onceCloseListener{Listener: s.listener}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		i := i
		srv := newHTTPServer(handler)
		wctx := logging.WithLogger(gctx, logger.With("worker", i))
		g.Go(func() error {
			return s.startHTTP(wctx, srv, shared)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker failed: %w", err)
	}
	return nil
}

func newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		// Note: Addr is explicitly ignored because the [Server] has a listener
		// attached.
		Addr: "",

		// Allow custom responses to OPTIONS.
		DisableGeneralOptionsHandler: true,

		// Configure default timeouts.
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,

		// Use the provided handler.
		Handler: handler,
	}
}

// onceCloseListener lets several servers shut down the same listener.
type onceCloseListener struct {
	net.Listener

	once     sync.Once
	closeErr error
}

func (l *onceCloseListener) Close() error {
	l.once.Do(func() {
		l.closeErr = l.Listener.Close()
	})
	return l.closeErr
}

// StartGRPC starts the given GRPC service and blocks until the provided context
// is closed. When the provided context is closed, the server is gracefully
// stopped.
//
// Once a server has been stopped, it is NOT safe for reuse.
func (s *Server) StartGRPC(ctx context.Context, srv *grpc.Server) error {
	logger := logging.FromContext(ctx)

	// Start the server in a background goroutine so we can listen for cancellation
	// in the main process.
	errCh := make(chan error, 1)
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)

		logger.InfoContext(ctx, "server is starting", "ip", s.ip, "port", s.port)
		defer logger.InfoContext(ctx, "server is stopped")

		if err := srv.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			select {
			case errCh <- err:
			default:
			}
		}
	}()

	// Wait for the provided context to finish or an error to occur.
	select {
	case err := <-errCh:
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
		logger.DebugContext(ctx, "provided context is done")
	}

	logger.DebugContext(ctx, "server is shutting down")
	srv.GracefulStop()
	close(errCh)

	// Wait for the goroutine to finish so we don't leak
	<-doneCh

	return nil
}
