package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ConfigError reports a config file that cannot be parsed or a config key
// that cannot be addressed.
type ConfigError struct {
	Source  string // file path or dotted key
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := "config"
	if e.Source != "" {
		msg += " " + e.Source
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// parseError wraps a YAML decoding failure, keeping the line number when
// the decoder reports one.
func parseError(path string, err error) error {
	if te, ok := err.(*yaml.TypeError); ok && len(te.Errors) > 0 {
		return &ConfigError{Source: path, Message: fmt.Sprintf("invalid value (%s)", te.Errors[0])}
	}
	return &ConfigError{Source: path, Message: "failed to parse", Err: err}
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Trace: TraceConfig{
			Store: "log",
		},
	}
}
