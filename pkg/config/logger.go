package config

import "fmt"

// LoggerConfig configures logging. CLI flags override it.
//
//	logger:
//	  level: info
//	  format: simple
//	  file: finrag.log
type LoggerConfig struct {
	Level  string `yaml:"level,omitempty"`
	File   string `yaml:"file,omitempty"`
	Format string `yaml:"format,omitempty"`
}

func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LoggerConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid level %q (valid: debug, info, warn, error)", c.Level)
	}
	switch c.Format {
	case "simple", "verbose", "json":
	default:
		return fmt.Errorf("invalid format %q (valid: simple, verbose, json)", c.Format)
	}
	return nil
}
