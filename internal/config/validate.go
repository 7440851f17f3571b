package config

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/soyeahso/netplug/internal/hooks"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Plugin validation
	for i, name := range cfg.Plugins.Activate {
		if strings.TrimSpace(name) == "" {
			issues = append(issues, ValidationIssue{
				Path:    fmt.Sprintf("plugins.activate[%d]", i),
				Message: "plugin name is empty",
			})
		}
	}
	for _, dir := range strings.Split(cfg.Plugins.Path, ":") {
		if strings.ContainsAny(dir, ",;") {
			issues = append(issues, ValidationIssue{
				Path:    "plugins.path",
				Message: fmt.Sprintf("entries are separated by ':', got %q", dir),
			})
		}
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	// Trace validation
	validStores := []string{"log", "sqlite"}
	if cfg.Trace.Store != "" && !slices.Contains(validStores, cfg.Trace.Store) {
		issues = append(issues, ValidationIssue{
			Path:    "trace.store",
			Message: fmt.Sprintf("must be one of %v, got %q", validStores, cfg.Trace.Store),
		})
	}
	for i, name := range cfg.Trace.Hooks {
		if _, ok := hooks.ParseType(name); !ok {
			issues = append(issues, ValidationIssue{
				Path:    fmt.Sprintf("trace.hooks[%d]", i),
				Message: fmt.Sprintf("unknown hook %q", name),
			})
		}
	}

	// Gateway validation
	if cfg.Gateway.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Gateway.Listen); err != nil {
			issues = append(issues, ValidationIssue{
				Path:    "gateway.listen",
				Message: fmt.Sprintf("must be host:port, got %q", cfg.Gateway.Listen),
			})
		}
	}

	// IRC relay validation (only if configured)
	if cfg.Relay.IRC != nil {
		irc := cfg.Relay.IRC
		if irc.Server == "" {
			issues = append(issues, ValidationIssue{
				Path:    "relay.irc.server",
				Message: "server is required",
			})
		}
		if irc.Nick == "" {
			issues = append(issues, ValidationIssue{
				Path:    "relay.irc.nick",
				Message: "nick is required",
			})
		}
		if irc.Port < 0 || irc.Port > 65535 {
			issues = append(issues, ValidationIssue{
				Path:    "relay.irc.port",
				Message: fmt.Sprintf("port must be 0-65535, got %d", irc.Port),
			})
		}
		if irc.SASL && irc.Password == "" {
			issues = append(issues, ValidationIssue{
				Path:    "relay.irc.sasl",
				Message: "SASL requires a password to be set",
			})
		}
		if len(irc.Channels) == 0 {
			issues = append(issues, ValidationIssue{
				Path:    "relay.irc.channels",
				Message: "at least one channel is required",
			})
		}
	}

	return issues
}

// TraceHooks resolves trace.hooks to hook types, skipping unknown names.
func (c *Config) TraceHooks() []hooks.Type {
	var out []hooks.Type
	for _, name := range c.Trace.Hooks {
		if t, ok := hooks.ParseType(name); ok {
			out = append(out, t)
		}
	}
	return out
}
