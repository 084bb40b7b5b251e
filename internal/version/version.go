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

// Package version holds the build information of the example binary.
package version

import "github.com/abcxyz/webscript/buildinfo"

var (
	// Name is the name of the binary. This can be overridden by the build
	// process.
	Name = "webscript-example"

	// Version is the main package version. This can be overridden by the build
	// process.
	Version = buildinfo.Version()

	// HumanVersion is the compiled version.
	HumanVersion = buildinfo.Human(Name, Version)
)
