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
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/shlex"
	"github.com/posener/complete/v2/predict"
	"github.com/sethvargo/go-envconfig"

	"github.com/abcxyz/webscript/cfgloader"
	"github.com/abcxyz/webscript/lifecycle"
	"github.com/abcxyz/webscript/logging"
	"github.com/abcxyz/webscript/serving"
)

// RunServerName is the name the development server command is registered
// under by [Manager.AddDefaultCommands].
const RunServerName = "runserver"

const (
	// ConfigEnvPrefix prefixes every environment variable read into a
	// [RunServerConfig], e.g. WEBSCRIPT_PORT.
	ConfigEnvPrefix = "WEBSCRIPT_"

	// DefaultConfigFile is the optional YAML file read into a
	// [RunServerConfig] from the working directory.
	DefaultConfigFile = "webscript.yaml"
)

// RunServerConfig holds the development server settings. Command line flags
// take precedence over the environment, which takes precedence over the
// config file.
type RunServerConfig struct {
	Host       string `yaml:"host,omitempty" env:"HOST,overwrite,default=127.0.0.1"`
	Port       int    `yaml:"port,omitempty" env:"PORT,overwrite,default=8000"`
	NoReload   bool   `yaml:"no_reload,omitempty" env:"NO_RELOAD,overwrite"`
	Workers    int    `yaml:"workers,omitempty" env:"WORKERS,overwrite"`
	HealthPath string `yaml:"health_path,omitempty" env:"HEALTH_PATH,overwrite,default=/healthz"`

	// WatchDirs and WatchExtensions select the files that trigger a reload.
	WatchDirs       []string `yaml:"watch_dirs,omitempty" env:"WATCH_DIRS,overwrite"`
	WatchExtensions []string `yaml:"watch_extensions,omitempty" env:"WATCH_EXTENSIONS,overwrite"`

	// Build is run before every reload, e.g. "go build -o ./bin/app .".
	Build string `yaml:"build,omitempty" env:"BUILD,overwrite"`

	// ReloadInterval is how long file changes are collected before a reload.
	ReloadInterval time.Duration `yaml:"reload_interval,omitempty" env:"RELOAD_INTERVAL,overwrite,default=500ms"`
}

// Validate implements [cfgloader.Validatable].
func (c *RunServerConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if _, err := shlex.Split(c.Build); err != nil {
		return fmt.Errorf("invalid build command %q: %w", c.Build, err)
	}
	return nil
}

// LoadRunServerConfig loads the development server settings.
func LoadRunServerConfig(ctx context.Context, opts ...cfgloader.Option) (*RunServerConfig, error) {
	cfg := new(RunServerConfig)
	opts = append([]cfgloader.Option{
		cfgloader.WithYAMLFile(DefaultConfigFile),
		cfgloader.WithEnvPrefix(ConfigEnvPrefix),
	}, opts...)
	if err := cfgloader.Load(ctx, cfg, opts...); err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}

	if len(cfg.WatchDirs) == 0 {
		cfg.WatchDirs = []string{"."}
	}
	if len(cfg.WatchExtensions) == 0 {
		cfg.WatchExtensions = []string{".go", ".tmpl", ".html", ".yaml"}
	}
	return cfg, nil
}

// RunServerOption configures a [RunServerCommand].
type RunServerOption func(c *RunServerCommand) *RunServerCommand

// WithConfigLookuper sets the environment the server configuration is read
// from. This is mostly useful for testing.
func WithConfigLookuper(l envconfig.Lookuper) RunServerOption {
	return func(c *RunServerCommand) *RunServerCommand {
		c.lookuper = l
		return c
	}
}

// WithConfigFile sets the YAML config file. A missing file is ignored.
func WithConfigFile(pth string) RunServerOption {
	return func(c *RunServerCommand) *RunServerCommand {
		c.configFile = pth
		return c
	}
}

var _ Command = (*RunServerCommand)(nil)

// RunServerCommand serves the application's HTTP handler, or its gRPC server
// when it has one, in the foreground. With --reload, a supervisor holds the
// socket and restarts a copy of the program whenever a watched file changes.
type RunServerCommand struct {
	BaseCommand

	app        *lifecycle.App
	lookuper   envconfig.Lookuper
	configFile string

	cfgOnce sync.Once
	cfg     *RunServerConfig
	cfgErr  error

	// onListen is called with the bound server before serving.
	onListen func(*serving.Server)
}

// NewRunServerCommand creates the development server command for app.
func NewRunServerCommand(app *lifecycle.App, opts ...RunServerOption) *RunServerCommand {
	c := &RunServerCommand{
		app:        app,
		configFile: DefaultConfigFile,
	}
	for _, opt := range opts {
		c = opt(c)
	}
	return c
}

func (c *RunServerCommand) CommandName() string { return RunServerName }

func (c *RunServerCommand) Desc() string {
	return "Run the development server"
}

func (c *RunServerCommand) Help() string {
	return `
Serves the application on the given address until interrupted. Unless
reloading is disabled, the server restarts whenever a watched source file
changes.

Defaults are read from webscript.yaml and WEBSCRIPT_* environment variables.
`
}

// config loads the configuration once. Options have no context, so loading
// uses a background context.
func (c *RunServerCommand) config() (*RunServerConfig, error) {
	c.cfgOnce.Do(func() {
		opts := []cfgloader.Option{cfgloader.WithYAMLFile(c.configFile)}
		if c.lookuper != nil {
			opts = append(opts, cfgloader.WithLookuper(c.lookuper))
		}
		c.cfg, c.cfgErr = LoadRunServerConfig(context.Background(), opts...)
	})
	return c.cfg, c.cfgErr
}

func (c *RunServerCommand) Options() []Entry {
	cfg, err := c.config()
	if err != nil {
		// Run reports the error.
		cfg = &RunServerConfig{Host: "127.0.0.1", Port: 8000}
	}

	var workers any
	if cfg.Workers > 0 {
		workers = cfg.Workers
	}

	return []Entry{
		&Option{
			Names:   []string{"-h", "--host"},
			Example: "HOST",
			Default: cfg.Host,
			Usage:   "The host to bind to.",
			Predict: predict.Set{"127.0.0.1", "0.0.0.0", "localhost"},
		},
		&Option{
			Names:   []string{"-p", "--port"},
			Type:    TypeInt,
			Example: "PORT",
			Default: cfg.Port,
			Usage:   "The port to bind to.",
			Predict: predict.Something,
		},
		&Option{
			Names:   []string{"--reload"},
			Action:  ActionStoreTrue,
			Default: !cfg.NoReload,
			Usage:   "Restart the server when source files change.",
		},
		&Option{
			Names:   []string{"--workers"},
			Type:    TypeInt,
			Example: "N",
			Default: workers,
			Usage:   "The number of worker accept loops.",
			Predict: predict.Something,
		},
	}
}

// settings merges the parsed values into the loaded configuration.
func (c *RunServerCommand) settings(values Values) (*RunServerConfig, error) {
	loaded, err := c.config()
	if err != nil {
		return nil, err
	}
	cfg := *loaded

	if values.Has("host") {
		cfg.Host = values.String("host")
	}
	if values.Has("port") {
		port, err := values.Int("port")
		if err != nil {
			return nil, err
		}
		cfg.Port = port
	}
	if values.Has("reload") {
		reload, err := values.Bool("reload")
		if err != nil {
			return nil, err
		}
		cfg.NoReload = !reload
	}
	if values.Get("workers") != nil {
		workers, err := values.Int("workers")
		if err != nil {
			return nil, err
		}
		cfg.Workers = workers
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server settings: %w", err)
	}
	return &cfg, nil
}

func (c *RunServerCommand) Run(ctx context.Context, call *Call) (any, error) {
	cfg, err := c.settings(call.Values)
	if err != nil {
		return nil, err
	}

	if c.app == nil || (c.app.Handler == nil && c.app.GRPC == nil) {
		return nil, fmt.Errorf("application has no HTTP handler or gRPC server to serve")
	}

	ctx, done := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer done()

	logger := logging.FromContext(ctx).With("app", c.app.Name)
	ctx = logging.WithLogger(ctx, logger)

	if !cfg.NoReload && !serving.IsReloadChild(nil) {
		return nil, c.supervise(ctx, cfg)
	}

	server, err := c.listen(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer server.Close()

	if c.onListen != nil {
		c.onListen(server)
	}

	if c.app.GRPC != nil {
		serving.RegisterGRPCHealthCheck(c.app.GRPC)
		logger.InfoContext(ctx, "serving gRPC", "addr", server.Addr())
		if err := server.StartGRPC(ctx, c.app.GRPC); err != nil {
			return nil, fmt.Errorf("failed to serve: %w", err)
		}
		return nil, nil
	}

	handler := serving.Mux(c.app.Handler, cfg.HealthPath)
	handler = logging.HTTPInterceptor(logger)(handler)

	logger.InfoContext(ctx, "serving HTTP", "addr", server.Addr(), "workers", cfg.Workers)
	if err := server.StartHTTPWorkers(ctx, handler, cfg.Workers); err != nil {
		return nil, fmt.Errorf("failed to serve: %w", err)
	}
	return nil, nil
}

// listen binds the configured address, or adopts the listener handed down by
// the reload supervisor.
func (c *RunServerCommand) listen(ctx context.Context, cfg *RunServerConfig) (*serving.Server, error) {
	if serving.IsReloadChild(nil) {
		l, err := serving.InheritedListener()
		if err != nil {
			return nil, err
		}
		s, err := serving.NewFromListener(l)
		if err != nil {
			return nil, fmt.Errorf("failed to create server: %w", err)
		}
		return s, nil
	}

	s, err := serving.New(ctx, cfg.Host, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	return s, nil
}

// supervise binds the socket and runs the reload supervisor until ctx is
// done.
func (c *RunServerCommand) supervise(ctx context.Context, cfg *RunServerConfig) error {
	server, err := serving.New(ctx, cfg.Host, cfg.Port)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer server.Close()

	build, err := shlex.Split(cfg.Build)
	if err != nil {
		return fmt.Errorf("invalid build command %q: %w", cfg.Build, err)
	}

	logging.FromContext(ctx).InfoContext(ctx, "watching for changes",
		"dirs", cfg.WatchDirs,
		"addr", server.Addr())

	r := &serving.Reloader{
		Server:     server,
		Dirs:       cfg.WatchDirs,
		Extensions: cfg.WatchExtensions,
		Interval:   cfg.ReloadInterval,
		Build:      build,
		Args:       os.Args,
		Stdout:     c.Stdout(),
		Stderr:     c.Stderr(),
	}
	if err := r.Run(ctx); err != nil {
		return fmt.Errorf("reloader failed: %w", err)
	}
	return nil
}
