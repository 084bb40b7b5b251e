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

package timeutil

import (
	"testing"
	"time"
)

func TestHumanDuration(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input time.Duration
		exp   string
	}{
		{
			name:  "build_step",
			input: 12400 * time.Millisecond,
			exp:   "12s",
		},
		{
			name:  "half_second_rounds_up",
			input: 1500 * time.Millisecond,
			exp:   "2s",
		},
		{
			name:  "stop_timeout",
			input: 10 * time.Second,
			exp:   "10s",
		},
		{
			name:  "rounds_into_minute",
			input: 59600 * time.Millisecond,
			exp:   "1m",
		},
		{
			name:  "session_minutes",
			input: 25 * time.Minute,
			exp:   "25m",
		},
		{
			name:  "uptime_hours_seconds",
			input: 2*time.Hour + 30*time.Second,
			exp:   "2h30s",
		},
		{
			name:  "uptime_whole_hours",
			input: 3 * time.Hour,
			exp:   "3h",
		},
		{
			name:  "uptime_mixed",
			input: 26*time.Hour + 5*time.Minute + 7*time.Second,
			exp:   "26h5m7s",
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got, want := HumanDuration(tc.input), tc.exp; got != want {
				t.Errorf("expected %q to be %q", got, want)
			}
		})
	}
}
