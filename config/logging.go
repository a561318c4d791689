package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// LoggingConfig selects the level and output format of the component
// loggers.
type LoggingConfig struct {
	// Level is a zerolog level name.
	Level string `json:"level" default:"info"`
	// Console switches to the human readable console writer.
	Console bool `json:"console"`
}

// Validate checks the level name.
func (c LoggingConfig) Validate() error {
	if _, err := zerolog.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// Apply exports the settings to the environment read by infra/logger.
// Variables already set by the operator win.
func (c LoggingConfig) Apply() {
	if os.Getenv("LOG_LEVEL") == "" && c.Level != "" {
		_ = os.Setenv("LOG_LEVEL", c.Level)
	}
	if os.Getenv("APP_ENV") == "" && c.Console {
		_ = os.Setenv("APP_ENV", "dev")
	}
}
