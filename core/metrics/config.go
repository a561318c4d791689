package metrics

import "github.com/kilianp07/connopt/core/factory"

// Config lists the metrics sinks to build.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks" yaml:"sinks" koanf:"sinks"`
}
