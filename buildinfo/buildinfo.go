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

// Package buildinfo reads build information for command managers. A binary
// can be compiled from source, downloaded, or installed with `go install`,
// and each path records different details, so the helpers fall back to
// stable placeholders when nothing is recorded.
//
// Programs usually collect the values in an "internal/version" package:
//
//	var (
//	  Name = "my-app"
//	  Version = buildinfo.Version()
//	  HumanVersion = buildinfo.Human(Name, Version)
//	)
//
// and hand HumanVersion to the root manager with cli.WithVersion. LDFLAGS
// still take precedence over anything read here.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version returns the main module version recorded by the compiler, or
// "source".
func Version() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return "source"
}

// Commit returns the recorded VCS revision, or "HEAD". A "-dirty" suffix is
// added when the working tree had local modifications.
func Commit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "HEAD"
	}
	return commit(info.Settings)
}

func commit(settings []debug.BuildSetting) string {
	var rev string
	var dirty bool
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}

	if rev == "" {
		return "HEAD"
	}
	if dirty {
		rev += "-dirty"
	}
	return rev
}

// OSArch returns the operating system and architecture, e.g. "linux/amd64".
func OSArch() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

// Human formats the line printed for -v/--version.
func Human(name, version string) string {
	return fmt.Sprintf("%s %s (%s, %s)", name, version, Commit(), OSArch())
}
