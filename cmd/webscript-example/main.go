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

// Package main is a small web application that manages its auxiliary
// commands with webscript.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/abcxyz/webscript/cli"
	"github.com/abcxyz/webscript/internal/version"
	"github.com/abcxyz/webscript/lifecycle"
	"github.com/abcxyz/webscript/logging"
)

// store stands in for the application's database.
type store struct {
	mu    sync.Mutex
	users map[string]string
}

func (s *store) open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = map[string]string{"admin": "admin@example.com"}
	logging.FromContext(ctx).DebugContext(ctx, "store opened")
	return nil
}

func (s *store) close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = nil
	logging.FromContext(ctx).DebugContext(ctx, "store closed")
	return nil
}

func (s *store) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.users))
	for n := range s.users {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type sendMailParams struct {
	To      string
	Subject string `default:"hello" help:"The message subject."`
	Verbose bool   `default:"false" help:"Print the message."`

	// Globals receives the root options, such as quiet.
	Globals cli.Values
}

func main() {
	ctx := context.Background()

	logger := logging.NewFromEnv("WEBSCRIPT_")
	ctx = logging.WithLogger(ctx, logger)

	m, err := newManager()
	if err != nil {
		logger.ErrorContext(ctx, "failed to configure commands", "error", err)
		os.Exit(1)
	}
	m.Main(ctx)
}

func newManager() (*cli.Manager, error) {
	db := new(store)

	mux := http.NewServeMux()
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, strings.Join(db.names(), "\n"))
	})

	app := &lifecycle.App{Name: version.Name, Handler: mux}
	app.AddStartup(lifecycle.StartupHookName, db.open).
		AddShutdown(lifecycle.ShutdownHookName, db.close)

	m := cli.NewManager(app,
		cli.WithDesc("Example application commands"),
		cli.WithVersion(version.HumanVersion))

	m.AddOption(&cli.Option{
		Names:  []string{"-q", "--quiet"},
		Action: cli.ActionStoreTrue,
		Usage:  "Suppress informational output.",
	})

	if err := m.Func(func(ctx context.Context, p *sendMailParams) error {
		logging.FromContext(ctx).InfoContext(ctx, "sending mail", "to", p.To)
		quiet, err := p.Globals.Bool("quiet")
		if err != nil {
			return err
		}
		if p.Verbose && !quiet {
			fmt.Printf("To: %s\nSubject: %s\n", p.To, p.Subject)
		}
		return nil
	}, cli.WithName("send_mail"), cli.WithDesc("Send a test message")); err != nil {
		return nil, err
	}

	users, err := m.EnsureNamespace("users")
	if err != nil {
		return nil, err
	}
	users.Apply(cli.WithDesc("User management"))
	users.Define("list", func(ctx context.Context, call *cli.Call) (any, error) {
		for _, n := range db.names() {
			if !strings.HasPrefix(n, call.Values.String("prefix")) {
				continue
			}
			fmt.Println(n)
		}
		return nil, nil
	}, cli.WithDesc("List users")).
		Option(&cli.Option{
			Names:   []string{"--prefix"},
			Example: "PREFIX",
			Usage:   "Only list users starting with PREFIX.",
		})

	m.AddDefaultCommands()
	return m, nil
}
