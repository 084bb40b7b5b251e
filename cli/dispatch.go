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
	"fmt"
	"sort"

	"github.com/abcxyz/webscript/logging"
)

// Dispatch calls every node of the stack after the root, in order. A node
// claims the values of the options it declared; the last node claims every
// value left. Each node after the first receives the previous result as its
// first positional argument, and a last node that captures all arguments
// also receives the remaining tokens. It returns the last node's result.
//
// Errors returned by an action are wrapped in a [*DispatchError]. Dispatch
// panics if a value is left unclaimed.
func Dispatch(ctx context.Context, res *ParseResult) (any, error) {
	if len(res.Stack) < 2 {
		return nil, fmt.Errorf("nothing to dispatch")
	}

	logger := logging.FromContext(ctx)

	pool := make(Values, len(res.Values))
	for k, v := range res.Values {
		pool[k] = v
	}

	terminal := res.Terminal()

	var (
		result any
		args   []any
		first  = true
	)
	for _, node := range res.Stack[1:] {
		call := &Call{
			Args:    args,
			Values:  make(Values),
			hasPrev: !first,
		}

		if node == terminal {
			for k, v := range pool {
				call.Values[k] = v
				delete(pool, k)
			}

			if node.parser.captureAll {
				trailing := append([]string{}, res.Remaining...)
				call.trailing = trailing
				call.Args = append(call.Args, trailing)
			}
		} else {
			for _, dest := range node.parser.dests {
				if v, ok := pool[dest]; ok {
					call.Values[dest] = v
					delete(pool, dest)
				}
			}
		}

		logger.DebugContext(ctx, "dispatching",
			"path", node.Path,
			"values", call.Values.Keys(),
			"args", len(call.Args))

		var err error
		result, err = node.Command.Run(ctx, call)
		if err != nil {
			return nil, &DispatchError{Path: node.Path, Err: err}
		}

		args = []any{result}
		first = false
	}

	if len(pool) > 0 {
		keys := make([]string, 0, len(pool))
		for k := range pool {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		panic(fmt.Sprintf("unclaimed values after dispatch: %v", keys))
	}
	return result, nil
}
