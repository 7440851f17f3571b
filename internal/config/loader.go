package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the config file.
const (
	EnvPluginPath     = "NETPLUG_PLUGIN_PATH"
	EnvPluginActivate = "NETPLUG_PLUGIN_ACTIVATE"
	EnvBare           = "NETPLUG_BARE"
	EnvLogLevel       = "NETPLUG_LOG_LEVEL"
	EnvTrace          = "NETPLUG_TRACE"
	EnvHome           = "NETPLUG_HOME"
	EnvGatewayToken   = "NETPLUG_GATEWAY_TOKEN"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandPathFields processes environment variable references in path
// settings, e.g. "${HOME}/netplug/plugins".
func expandPathFields(cfg *Config) {
	cfg.Plugins.Path = expandEnvVars(cfg.Plugins.Path)
	cfg.Trace.Path = expandEnvVars(cfg.Trace.Path)
	cfg.Gateway.Token = expandEnvVars(cfg.Gateway.Token)
	if cfg.Relay.IRC != nil {
		cfg.Relay.IRC.Password = expandEnvVars(cfg.Relay.IRC.Password)
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, parseError(path, err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandPathFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, parseError(path, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// FromRaw decodes a raw config map the way Load decodes the file, without
// environment overrides.
func FromRaw(raw map[string]any) (Config, error) {
	cfg := Defaults()
	data, err := yaml.Marshal(raw)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, parseError("", err)
	}
	applyDefaults(&cfg)
	expandPathFields(&cfg)
	return cfg, nil
}

// ToRaw renders cfg as a raw config map, the shape LoadRaw returns.
func ToRaw(cfg Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
	if cfg.Trace.Store == "" {
		cfg.Trace.Store = "log"
	}
}

// applyEnvOverrides reads NETPLUG_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPluginPath); v != "" {
		cfg.Plugins.Path = v
	}
	if v := os.Getenv(EnvPluginActivate); v != "" {
		cfg.Plugins.Activate = SplitList(v)
	}
	if v := os.Getenv(EnvBare); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Plugins.Bare = b
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvGatewayToken); v != "" {
		cfg.Gateway.Token = v
	}
	if v := os.Getenv(EnvTrace); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Trace.Enabled = b
		}
	}
}

// SplitList splits a comma-separated list, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
