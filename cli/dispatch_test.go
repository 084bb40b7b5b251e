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
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/abcxyz/webscript/logging"
	"github.com/abcxyz/webscript/testutil"
)

// chainTree builds prog [--root R] a [--a-opt X] b [--b-opt Y] c [--c-opt Z] [ARGS ...],
// where every node records its call.
func chainTree(tb testing.TB, order *[]string, calls map[string]*Call) *Manager {
	tb.Helper()

	record := func(name string, result any) ActionFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			*order = append(*order, name)
			calls[name] = call
			return result, nil
		}
	}

	m := newTestManager(tb, nil)
	m.AddOption(&Option{Names: []string{"--root"}, Default: "r"})

	a, err := m.EnsureNamespace("a")
	if err != nil {
		tb.Fatal(err)
	}
	a.Apply(WithAction(record("a", "from-a"))).
		AddOption(&Option{Names: []string{"--a-opt"}, Default: "x"})

	b, err := a.EnsureNamespace("b")
	if err != nil {
		tb.Fatal(err)
	}
	b.Apply(WithAction(record("b", 2))).
		AddOption(&Option{Names: []string{"--b-opt"}, Action: ActionCount})

	b.Define("c", record("c", "done"), WithCaptureAllArgs()).
		Option(&Option{Names: []string{"--c-opt"}, Action: ActionAppend})
	return m
}

func TestDispatch(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

	var order []string
	calls := make(map[string]*Call)
	m := chainTree(t, &order, calls)

	got, err := m.Handle(ctx, "prog", []string{
		"--root", "R", "a", "--a-opt", "X", "b", "--b-opt", "--b-opt", "c", "--c-opt", "1", "rest", "--c-opt", "2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := got, any("done"); got != want {
		t.Errorf("expected %v to be %v", got, want)
	}

	// n nodes, n-1 calls, root to leaf.
	if diff := cmp.Diff([]string{"a", "b", "c"}, order); diff != "" {
		t.Errorf("order (-want, +got):\n%s", diff)
	}

	if diff := cmp.Diff(Values{"a_opt": "X"}, calls["a"].Values); diff != "" {
		t.Errorf("a values (-want, +got):\n%s", diff)
	}
	if _, ok := calls["a"].Prev(); ok {
		t.Errorf("expected first node to have no previous result")
	}

	if diff := cmp.Diff(Values{"b_opt": 2}, calls["b"].Values); diff != "" {
		t.Errorf("b values (-want, +got):\n%s", diff)
	}
	if prev, _ := calls["b"].Prev(); prev != "from-a" {
		t.Errorf("expected b to receive %q, got %v", "from-a", prev)
	}

	// The terminal claims everything left, including the root's options.
	// Declared flags are applied wherever they appear among the trailing
	// tokens.
	if diff := cmp.Diff(Values{"root": "R", "c_opt": []any{"1", "2"}}, calls["c"].Values); diff != "" {
		t.Errorf("c values (-want, +got):\n%s", diff)
	}
	if prev, _ := calls["c"].Prev(); prev != 2 {
		t.Errorf("expected c to receive 2, got %v", prev)
	}
	if diff := cmp.Diff([]string{"rest"}, calls["c"].Trailing()); diff != "" {
		t.Errorf("trailing (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff([]any{2, []string{"rest"}}, calls["c"].Args); diff != "" {
		t.Errorf("args (-want, +got):\n%s", diff)
	}
}

func TestDispatch_partition(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

	argv := [][]string{
		{"a", "b", "c"},
		{"--root", "1", "a", "b", "c", "--c-opt", "v"},
		{"a", "--a-opt", "o", "b", "--b-opt", "c"},
	}

	for _, args := range argv {
		var order []string
		calls := make(map[string]*Call)
		m := chainTree(t, &order, calls)

		p, err := m.CreateParser("prog")
		if err != nil {
			t.Fatal(err)
		}
		res, err := p.Parse(args)
		if err != nil {
			t.Fatal(err)
		}

		if _, err := Dispatch(ctx, res); err != nil {
			t.Fatal(err)
		}

		// Every key is claimed by exactly one node.
		seen := make(map[string]string)
		for _, name := range order {
			for k := range calls[name].Values {
				if owner, ok := seen[k]; ok {
					t.Errorf("%v: key %q claimed by %s and %s", args, k, owner, name)
				}
				seen[k] = name
			}
		}
		if got, want := len(seen), len(res.Values); got != want {
			t.Errorf("%v: expected %d claimed keys, got %d", args, want, got)
		}
		if got, want := len(order), len(res.Stack)-1; got != want {
			t.Errorf("%v: expected %d calls, got %d", args, want, got)
		}
	}
}

func TestDispatch_errors(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

	errBoom := errors.New("boom")

	m := newTestManager(t, nil)
	ns, err := m.EnsureNamespace("ns")
	if err != nil {
		t.Fatal(err)
	}
	ns.Apply(WithAction(func(ctx context.Context, call *Call) (any, error) {
		return nil, errBoom
	}))
	called := false
	ns.Define("leaf", func(ctx context.Context, call *Call) (any, error) {
		called = true
		return nil, nil
	})

	_, err = m.Handle(ctx, "prog", []string{"ns", "leaf"})
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected dispatch error, got %T: %v", err, err)
	}
	if got, want := dispatchErr.Path, "prog ns"; got != want {
		t.Errorf("expected %q to be %q", got, want)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("expected %v to wrap %v", err, errBoom)
	}
	if called {
		t.Errorf("expected dispatch to stop at the failing node")
	}

	_, err = Dispatch(ctx, &ParseResult{Values: Values{}})
	if diff := testutil.DiffErrString(err, "nothing to dispatch"); diff != "" {
		t.Error(diff)
	}
}
