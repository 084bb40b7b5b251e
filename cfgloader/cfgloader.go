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

// Package cfgloader loads command configuration from an optional YAML file
// and the environment. Built-in commands use it to source their option
// defaults, so a project can pin e.g. the dev server port without repeating
// flags on every invocation.
package cfgloader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Validatable is the interface to validate a config.
type Validatable interface {
	Validate() error
}

type options struct {
	yamlBytes []byte
	yamlPath  string
	envPrefix string
	lookuper  envconfig.Lookuper
}

// Option is the config loading option type.
type Option func(*options) *options

// WithYAML instructs the loader to load config from the given yaml bytes.
func WithYAML(b []byte) Option {
	return func(o *options) *options {
		o.yamlBytes = b
		return o
	}
}

// WithYAMLFile instructs the loader to read yaml from the file at path. A
// missing file is not an error. It is ignored when [WithYAML] is also given.
func WithYAMLFile(path string) Option {
	return func(o *options) *options {
		o.yamlPath = path
		return o
	}
}

// WithEnvPrefix instructs the loader to load config from env vars with the
// given prefix.
func WithEnvPrefix(prefix string) Option {
	return func(o *options) *options {
		o.envPrefix = prefix
		return o
	}
}

// WithLookuper instructs the loader to use the given lookuper to find config
// values. A nil lookuper keeps the OS environment.
func WithLookuper(lookuper envconfig.Lookuper) Option {
	return func(o *options) *options {
		if lookuper != nil {
			o.lookuper = lookuper
		}
		return o
	}
}

// Load loads config into the given config value. The loading order is:
//
//  1. The existing values in the given config.
//  2. Unmarshaled yaml bytes (or the yaml file)
//  3. Env vars
//
// The values loaded later overwrite previously loaded values. Defaults from
// the env tag only apply to fields that are still zero. E.g.
//
//	type Cfg struct {
//		Host string `yaml:"host,omitempty" env:"HOST,overwrite,default=127.0.0.1"`
//		Port int    `yaml:"port,omitempty" env:"PORT,overwrite,default=8000"`
//	}
func Load(ctx context.Context, cfg any, opt ...Option) error {
	opts := &options{
		lookuper: envconfig.OsLookuper(),
	}
	for _, o := range opt {
		opts = o(opts)
	}

	b := opts.yamlBytes
	if b == nil && opts.yamlPath != "" {
		data, err := os.ReadFile(opts.yamlPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read %s: %w", opts.yamlPath, err)
		}
		b = data
	}

	if len(b) > 0 {
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("failed to unmarshal yaml: %w", err)
		}
	}

	lookuper := opts.lookuper
	if opts.envPrefix != "" {
		lookuper = envconfig.PrefixLookuper(opts.envPrefix, lookuper)
	}

	if err := envconfig.ProcessWith(ctx, cfg, lookuper); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if v, ok := cfg.(Validatable); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
	}

	return nil
}
