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
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Values maps option destinations to parsed values.
type Values map[string]any

// Has reports whether key is present, even if its value is nil.
func (v Values) Has(key string) bool {
	_, ok := v[key]
	return ok
}

// Get returns the raw value for key.
func (v Values) Get(key string) any {
	return v[key]
}

// Keys returns the sorted keys.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the value for key formatted as a string. Missing and nil
// values yield "".
func (v Values) String(key string) string {
	switch t := v[key].(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Int returns the value for key as an int. String values are parsed.
func (v Values) Int(key string) (int, error) {
	switch t := v[key].(type) {
	case nil:
		return 0, nil
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		i, err := strconv.Atoi(t)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%s: %T is not an int", key, t)
	}
}

// Bool returns the value for key as a bool. String values are parsed.
func (v Values) Bool(key string) (bool, error) {
	switch t := v[key].(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, fmt.Errorf("%s: %w", key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%s: %T is not a bool", key, t)
	}
}

// Duration returns the value for key as a duration. String values are parsed.
func (v Values) Duration(key string) (time.Duration, error) {
	switch t := v[key].(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return t, nil
	case string:
		d, err := time.ParseDuration(t)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("%s: %T is not a duration", key, t)
	}
}

// Strings returns the value for key as a list of strings. Appended values
// are formatted one by one; a scalar yields a single element list.
func (v Values) Strings(key string) []string {
	switch t := v[key].(type) {
	case nil:
		return nil
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}
