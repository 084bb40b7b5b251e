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

package renderer

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/iancoleman/strcase"
)

// FuncMap maps function names to string transformations usable as
// ${name|func}.
type FuncMap map[string]func(string) string

// builtinFuncs returns the built-in template functions.
func builtinFuncs() FuncMap {
	return FuncMap{
		"toLower":      strings.ToLower,
		"toUpper":      strings.ToUpper,
		"trimSpace":    strings.TrimSpace,
		"toCamel":      strcase.ToCamel,
		"toLowerCamel": strcase.ToLowerCamel,
		"toSnake":      strcase.ToSnake,
		"toKebab":      strcase.ToKebab,
	}
}

// Expand replaces ${name} and ${name|func} placeholders in s. It returns an
// error listing every placeholder that references a missing variable or an
// unknown function.
func Expand(s string, vars map[string]string, funcs FuncMap) (string, error) {
	missing := make(map[string]struct{})

	out := os.Expand(s, func(key string) string {
		// "$$" is an escaped dollar sign.
		if key == "$" {
			return "$"
		}

		name, fn, piped := strings.Cut(key, "|")
		name = strings.TrimSpace(name)

		v, ok := vars[name]
		if !ok {
			missing[fmt.Sprintf("missing variable %q", name)] = struct{}{}
			return ""
		}

		if piped {
			fn = strings.TrimSpace(fn)
			f, ok := funcs[fn]
			if !ok || f == nil {
				missing[fmt.Sprintf("unknown function %q", fn)] = struct{}{}
				return ""
			}
			v = f(v)
		}
		return v
	})

	if len(missing) > 0 {
		msgs := make([]string, 0, len(missing))
		for m := range missing {
			msgs = append(msgs, m)
		}
		sort.Strings(msgs)
		return "", errors.New(strings.Join(msgs, ", "))
	}
	return out, nil
}
