// Package config provides configuration loading and path management.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/switchboard-ai/switchboard/internal/transport"
)

// Config is the top-level configuration.
type Config struct {
	Servers []transport.ServerConfig `json:"servers" yaml:"servers"`
	HTTP    HTTPConfig               `json:"http" yaml:"http"`
	Log     LogConfig                `json:"log" yaml:"log"`
	// DataDir holds the preference blob store. Defaults to the XDG data
	// directory.
	DataDir string `json:"dataDir,omitempty" yaml:"dataDir,omitempty"`
	// ReconcileInterval is the period of the background reconciliation
	// push, in seconds. Zero disables it.
	ReconcileInterval int `json:"reconcileInterval,omitempty" yaml:"reconcileInterval,omitempty"`
	// DisconnectGrace is the delay between the disconnect and connect
	// phases of a reconnect, in milliseconds.
	DisconnectGrace int `json:"disconnectGrace,omitempty" yaml:"disconnectGrace,omitempty"`
	// ConnectRetries is the number of extra connect attempts per server.
	ConnectRetries uint64 `json:"connectRetries,omitempty" yaml:"connectRetries,omitempty"`
}

// HTTPConfig configures the status HTTP server.
type HTTPConfig struct {
	Port       int  `json:"port,omitempty" yaml:"port,omitempty"`
	EnableCORS bool `json:"enableCors,omitempty" yaml:"enableCors,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Pretty bool   `json:"pretty,omitempty" yaml:"pretty,omitempty"`
}

// Default returns a config with defaults applied.
func Default() *Config {
	return &Config{
		HTTP:              HTTPConfig{Port: 8080, EnableCORS: true},
		Log:               LogConfig{Level: "INFO"},
		DataDir:           GetPaths().Data,
		ReconcileInterval: 300,
	}
}

// Load reads a config file. JSON, JSONC, and YAML are supported, chosen by
// file extension. Environment variables SWITCHBOARD_DATA_DIR and
// SWITCHBOARD_LOG_LEVEL override the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SWITCHBOARD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SWITCHBOARD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks server entries for the mistakes that would otherwise
// surface as confusing transport errors.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, srv := range c.Servers {
		if srv.Name == "" {
			return fmt.Errorf("server with empty name")
		}
		if seen[srv.Name] {
			return fmt.Errorf("duplicate server name: %s", srv.Name)
		}
		seen[srv.Name] = true

		switch srv.Kind {
		case transport.KindStdio, transport.KindSSE, transport.KindStreamable:
		default:
			return fmt.Errorf("server %s: unknown transport kind %q", srv.Name, srv.Kind)
		}

		if srv.Address == "" {
			return fmt.Errorf("server %s: address is required", srv.Name)
		}
	}
	return nil
}
