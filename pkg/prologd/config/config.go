package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/prologd/pkg/prologd/internalerr"
)

// Config is the service configuration file
type Config struct {
	Prolog    Prolog    `yaml:"prolog"`
	Server    Server    `yaml:"server"`
	Store     Store     `yaml:"store"`
	Knowledge Knowledge `yaml:"knowledge"`
	Logging   Logging   `yaml:"logging"`
}

// Stacks holds stack sizes in megabytes
type Stacks struct {
	Global uint64 `yaml:"global_stack"`
	Local  uint64 `yaml:"local_stack"`
	Trail  uint64 `yaml:"trail_stack"`
}

// Prolog configures the runtime and the engine pool
type Prolog struct {
	Executable string `yaml:"executable"`
	Stacks     `yaml:",inline"`
	NumEngines int `yaml:"num_engines"`
	// Engines overrides the stacks of pooled engines by name
	Engines map[string]Stacks `yaml:"engines"`
}

// Server configures the HTTP endpoint
type Server struct {
	Listen         string `yaml:"listen"`
	MaxConnections int    `yaml:"max_connections"`
	// RequestTimeout bounds one blocking read. A read that runs out answers
	// with a timeout status and leaves the query running; zero waits for
	// the query.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Store configures persistence. An empty path keeps everything in memory.
type Store struct {
	Path string `yaml:"path"`
}

// Knowledge lists the program files consulted at start
type Knowledge struct {
	Files []string `yaml:"files"`
	Watch bool     `yaml:"watch"`
}

// Logging configures the logger
type Logging struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used for unset fields
func Default() Config {
	return Config{
		Prolog: Prolog{
			Stacks:     Stacks{Global: 256, Local: 256, Trail: 256},
			NumEngines: 4,
		},
		Server: Server{
			Listen:         "127.0.0.1:8642",
			MaxConnections: 64,
		},
		Logging: Logging{Level: "info"},
	}
}

// Load reads a YAML configuration file over the defaults. Relative
// knowledge file paths are resolved against the file's directory.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i, f := range cfg.Knowledge.Files {
		if !filepath.IsAbs(f) {
			cfg.Knowledge.Files[i] = filepath.Join(dir, f)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Prolog.NumEngines <= 0 {
		return fmt.Errorf("prolog.num_engines must be positive, got %d: %w", c.Prolog.NumEngines, internalerr.ErrInvalidConfig)
	}
	for name := range c.Prolog.Engines {
		if !c.isPooledEngine(name) {
			return fmt.Errorf("prolog.engines: no pooled engine named %q: %w", name, internalerr.ErrInvalidConfig)
		}
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is empty: %w", internalerr.ErrInvalidConfig)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections is negative: %w", internalerr.ErrInvalidConfig)
	}
	if c.Server.RequestTimeout < 0 {
		return fmt.Errorf("server.request_timeout is negative: %w", internalerr.ErrInvalidConfig)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q: %w", c.Logging.Level, internalerr.ErrInvalidConfig)
	}
	return nil
}

func (c *Config) isPooledEngine(name string) bool {
	for i := 0; i < c.Prolog.NumEngines; i++ {
		if name == fmt.Sprintf("pooled_engine_%d", i) {
			return true
		}
	}
	return false
}
