// Package config loads the server and client configuration. Defaults are
// layered with an optional YAML file and then environment variables, file
// first, then env, so deployments can override individual fields without
// maintaining a full config file.
package config

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds everything needed to start a chatspace-server or
// chatspace-client process.
type Config struct {
	Host string `yaml:"host" env:"CHATSPACE_HOST,overwrite,default=0.0.0.0"`
	Port int    `yaml:"port" env:"CHATSPACE_PORT,overwrite,default=9999"`

	ServerName string `yaml:"server_name" env:"CHATSPACE_SERVER_NAME,overwrite,default=ChatSpace Server"`

	// HistoryLimit caps how many past messages a room replays to a client
	// that just joined.
	HistoryLimit int `yaml:"history_limit" env:"CHATSPACE_HISTORY_LIMIT,overwrite,default=100"`

	// MetricsAddr, if non-empty, is the address the Prometheus metrics
	// endpoint listens on (e.g. ":9090"). Empty disables it.
	MetricsAddr string `yaml:"metrics_addr" env:"CHATSPACE_METRICS_ADDR,overwrite,default="`

	LogLevel string `yaml:"log_level" env:"CHATSPACE_LOG_LEVEL,overwrite,default=info"`
}

// Default returns the built-in configuration, before any file or
// environment overrides are applied.
func Default() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         9999,
		ServerName:   "ChatSpace Server",
		HistoryLimit: 100,
		LogLevel:     "info",
	}
}

// Load builds a Config starting from Default, overlaying path (if non-empty
// and present on disk) as YAML, then overlaying environment variables, so
// the environment takes precedence over the file. No command-line flag is
// layered onto the result.
func Load(ctx context.Context, path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadYAMLFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	// Every env tag carries "overwrite", so envconfig replaces a field that
	// already holds a value only when the corresponding variable is actually
	// set; tag defaults fill only fields that are still zero. This layers on
	// top of the YAML pass above instead of clobbering it.
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: processing environment overrides")
	}
	return cfg, nil
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "config: reading %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "config: parsing %s", path)
	}
	return nil
}
