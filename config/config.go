// Package config loads the connopt configuration from a YAML or JSON file
// with K_ prefixed environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/creasty/defaults"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/connopt/core/metrics"
	"github.com/kilianp07/connopt/core/model"
	"github.com/kilianp07/connopt/core/runlog"
	"github.com/kilianp07/connopt/core/window"
	"github.com/kilianp07/connopt/infra/mqtt"
)

// Config is the complete application configuration.
type Config struct {
	Optimization model.OptimizationConstraints `json:"optimization"`
	// Windows overrides the window table of a connection type, keyed by type
	// name (bus_route, rail, college_class, school_bell).
	Windows map[string]window.Table `json:"windows"`
	RunLog  runlog.Config           `json:"run_log"`
	Metrics metrics.Config          `json:"metrics"`
	MQTT    mqtt.Config             `json:"mqtt"`
	Logging LoggingConfig           `json:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("config defaults: %w", err)
	}
	return c.Optimization.ApplyDefaults()
}

// Load reads path and applies environment overrides such as
// K_OPTIMIZATION__MAX_TRIP_DEVIATION=12. An empty path loads the defaults
// plus the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := model.ValidateConstraints(c.Optimization); err != nil {
		return fmt.Errorf("optimization: %w", err)
	}
	if _, err := c.WindowTables(); err != nil {
		return err
	}
	v := model.Validator()
	if err := v.Struct(c.RunLog); err != nil {
		return fmt.Errorf("run_log: %w", err)
	}
	if err := v.Struct(c.MQTT); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	return c.Logging.Validate()
}

// WindowTables converts the window overrides into tables keyed by
// connection type.
func (c *Config) WindowTables() (map[model.ConnectionType]window.Table, error) {
	if len(c.Windows) == 0 {
		return nil, nil
	}
	out := make(map[model.ConnectionType]window.Table, len(c.Windows))
	for name, t := range c.Windows {
		typ, err := model.ParseConnectionType(name)
		if err != nil {
			return nil, fmt.Errorf("windows: %w", err)
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("windows.%s: %w", name, err)
		}
		out[typ] = t
	}
	return out, nil
}
