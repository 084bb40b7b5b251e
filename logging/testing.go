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

package logging

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"testing"
)

// TestLogger creates a new logger for use in tests. It will only log messages
// when tests fail and the tests were run with verbose (-v).
func TestLogger(tb testing.TB) *slog.Logger {
	tb.Helper()

	w := &testingWriter{tb}
	return slog.New(NewLevelHandler(LevelDebug, slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource:   true,
		ReplaceAttr: dropTime,
	})))
}

// BufferLogger creates a logger that records text output into the returned
// buffer. It is used by tests that assert on log lines.
func BufferLogger(tb testing.TB) (*slog.Logger, *SyncBuffer) {
	tb.Helper()

	var buf SyncBuffer
	return slog.New(NewLevelHandler(LevelDebug, slog.NewTextHandler(&buf, &slog.HandlerOptions{
		ReplaceAttr: dropTime,
	}))), &buf
}

// SyncBuffer is a [bytes.Buffer] guarded by a mutex, since servers log from
// multiple goroutines.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p) //nolint:wrapcheck // Pass-through.
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// dropTime removes the time key since test failures include timestamps.
func dropTime(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 {
		return slog.Attr{}
	}
	return a
}

var _ io.Writer = (*testingWriter)(nil)

type testingWriter struct {
	tb testing.TB
}

func (t *testingWriter) Write(b []byte) (int, error) {
	if !testing.Verbose() {
		return 0, nil
	}

	t.tb.Log(string(b))
	return len(b), nil
}
