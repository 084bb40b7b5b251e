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

// Package cli registers auxiliary commands next to a web application and
// dispatches command lines to them. A [Manager] is the root of a command tree.
// Children are plain commands, derived functions, or nested managers that act
// as namespaces:
//
//	app := &lifecycle.App{Name: "shop", Handler: mux}
//	manager := cli.NewManager(app)
//
//	manager.Define("greet", greet).
//		Option(&cli.Option{Names: []string{"-n", "--name"}, Usage: "Who to greet."}).
//		Option(&cli.Option{Names: []string{"-s", "--score"}, Type: cli.TypeInt})
//
//	if err := manager.Func(testManyParams); err != nil {
//		panic(err)
//	}
//
//	manager.Main(ctx, cli.WithDefaultCommand("runserver"))
//
// This CLI could be invoked via:
//
//	$ shop greet -n Alice -s 99
//	$ shop test_many_params Alice --age 5
//	$ shop runserver --port 9000
//
// Parsing walks the tree from the root, recording one node per matched
// command. Dispatch then calls every node after the root in order. Each node
// receives the values of the options it declared (the last node receives all
// remaining values) and the result of the previous node as its first
// positional argument.
package cli
