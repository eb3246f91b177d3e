package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cognicore/prologd/pkg/prologd/internalerr"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prologd.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `prolog:
  executable: /usr/bin/prologd
  global_stack: 128
  local_stack: 64
  trail_stack: 32
  num_engines: 2
  engines:
    pooled_engine_1:
      global_stack: 512
server:
  listen: 0.0.0.0:9000
  max_connections: 8
  request_timeout: 5s
store:
  path: /var/lib/prologd/journal.db
knowledge:
  files:
    - family.pl
    - /etc/prologd/graph.json
  watch: true
logging:
  level: debug
  json: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Prolog.Executable != "/usr/bin/prologd" {
		t.Errorf("Executable = %q", cfg.Prolog.Executable)
	}
	if cfg.Prolog.Stacks != (Stacks{Global: 128, Local: 64, Trail: 32}) {
		t.Errorf("Stacks = %+v", cfg.Prolog.Stacks)
	}
	if cfg.Prolog.NumEngines != 2 {
		t.Errorf("NumEngines = %d", cfg.Prolog.NumEngines)
	}
	if got := cfg.Prolog.Engines["pooled_engine_1"]; got.Global != 512 || got.Local != 0 {
		t.Errorf("override = %+v", got)
	}
	if cfg.Server.Listen != "0.0.0.0:9000" || cfg.Server.MaxConnections != 8 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Server.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.Server.RequestTimeout)
	}
	if cfg.Store.Path != "/var/lib/prologd/journal.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	wantFirst := filepath.Join(filepath.Dir(path), "family.pl")
	if len(cfg.Knowledge.Files) != 2 || cfg.Knowledge.Files[0] != wantFirst || cfg.Knowledge.Files[1] != "/etc/prologd/graph.json" {
		t.Errorf("Knowledge.Files = %v", cfg.Knowledge.Files)
	}
	if !cfg.Knowledge.Watch {
		t.Error("Knowledge.Watch should be true")
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.JSON {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: warn\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.Prolog.NumEngines != def.Prolog.NumEngines {
		t.Errorf("NumEngines = %d, want default %d", cfg.Prolog.NumEngines, def.Prolog.NumEngines)
	}
	if cfg.Prolog.Stacks != def.Prolog.Stacks {
		t.Errorf("Stacks = %+v, want default", cfg.Prolog.Stacks)
	}
	if cfg.Server != def.Server {
		t.Errorf("Server = %+v, want default", cfg.Server)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load("/nonexistent/prologd.yaml"); err == nil {
		t.Error("Should error on nonexistent file")
	}
	if _, err := Load(writeConfig(t, "prolog: [unclosed")); err == nil {
		t.Error("Should error on malformed YAML")
	}

	tests := []struct {
		name    string
		content string
	}{
		{"zero engines", "prolog:\n  num_engines: 0\n"},
		{"unknown engine override", "prolog:\n  num_engines: 1\n  engines:\n    pooled_engine_3:\n      global_stack: 1\n"},
		{"empty listen", "server:\n  listen: \"\"\n"},
		{"negative connections", "server:\n  max_connections: -1\n"},
		{"bad level", "logging:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if !errors.Is(err, internalerr.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	// reads wait for the query unless a timeout is configured
	if cfg.Server.RequestTimeout != 0 {
		t.Errorf("default RequestTimeout = %v, want 0", cfg.Server.RequestTimeout)
	}
}
