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
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// Levels understood by this package. They extend the [log/slog] levels with
// NOTICE and EMERGENCY.
const (
	LevelDebug     = slog.LevelDebug
	LevelInfo      = slog.LevelInfo
	LevelNotice    = slog.Level(2)
	LevelWarning   = slog.LevelWarn
	LevelError     = slog.LevelError
	LevelEmergency = slog.Level(12)
)

var levelNames = map[slog.Level]string{
	LevelDebug:     "DEBUG",
	LevelInfo:      "INFO",
	LevelNotice:    "NOTICE",
	LevelWarning:   "WARNING",
	LevelError:     "ERROR",
	LevelEmergency: "EMERGENCY",
}

// LevelNames returns the lowercase names of all known levels, sorted by
// severity.
func LevelNames() []string {
	levels := make([]slog.Level, 0, len(levelNames))
	for l := range levelNames {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	names := make([]string, 0, len(levels))
	for _, l := range levels {
		names = append(names, strings.ToLower(levelNames[l]))
	}
	return names
}

// LevelString returns the name of the level. Unknown levels are printed
// relative to the closest known level below them (e.g. "INFO+1").
func LevelString(l slog.Level) string {
	if name, ok := levelNames[l]; ok {
		return name
	}

	closest := LevelDebug
	for known := range levelNames {
		if known <= l && known > closest {
			closest = known
		}
	}
	return fmt.Sprintf("%s%+d", levelNames[closest], l-closest)
}

// LookupLevel parses the level name, ignoring case. "warn" is accepted as an
// alias for "warning".
func LookupLevel(name string) (slog.Level, error) {
	want := strings.ToUpper(strings.TrimSpace(name))
	if want == "WARN" {
		want = "WARNING"
	}

	for l, n := range levelNames {
		if n == want {
			return l, nil
		}
	}
	return 0, fmt.Errorf("no such log level %q, valid levels are %q", name, LevelNames())
}

// Format is the output format of the logger.
type Format string

const (
	FormatJSON Format = "JSON"
	FormatText Format = "TEXT"
)

// LookupFormat parses the format name, ignoring case.
func LookupFormat(name string) (Format, error) {
	switch v := Format(strings.ToUpper(strings.TrimSpace(name))); v {
	case FormatJSON, FormatText:
		return v, nil
	default:
		return "", fmt.Errorf("no such log format %q, valid formats are %q", name, []Format{FormatJSON, FormatText})
	}
}

// LookupTarget resolves "stdout" or "stderr" to the corresponding file.
func LookupTarget(name string) (*os.File, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		return nil, fmt.Errorf("no such log target %q, valid targets are \"stdout\" and \"stderr\"", name)
	}
}

// LevelableHandler is a handler whose level can be changed after creation.
type LevelableHandler interface {
	slog.Handler
	SetLevel(level slog.Level)
}

var _ LevelableHandler = (*LevelHandler)(nil)

// LevelHandler wraps a handler and filters records below a dynamically
// adjustable level. It is safe for concurrent use.
type LevelHandler struct {
	level   *slog.LevelVar
	handler slog.Handler
}

// NewLevelHandler wraps the handler at the given level.
func NewLevelHandler(level slog.Level, h slog.Handler) *LevelHandler {
	var lv slog.LevelVar
	lv.Set(level)
	return &LevelHandler{level: &lv, handler: h}
}

// Enabled implements [slog.Handler].
func (h *LevelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements [slog.Handler].
func (h *LevelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r) //nolint:wrapcheck // Pass-through.
}

// WithAttrs implements [slog.Handler]. The returned handler shares the level.
func (h *LevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

// WithGroup implements [slog.Handler]. The returned handler shares the level.
func (h *LevelHandler) WithGroup(name string) slog.Handler {
	return &LevelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// SetLevel changes the level of this handler and every handler derived from it.
func (h *LevelHandler) SetLevel(level slog.Level) {
	h.level.Set(level)
}
