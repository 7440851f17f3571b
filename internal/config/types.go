package config

// Config is the root configuration for netplug.
type Config struct {
	Plugins PluginsConfig `yaml:"plugins,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Trace   TraceConfig   `yaml:"trace,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
	Relay   RelayConfig   `yaml:"relay,omitempty"`
}

// PluginsConfig controls dynamic plugin discovery and activation.
type PluginsConfig struct {
	Path     string   `yaml:"path,omitempty"`     // colon-separated search roots
	Activate []string `yaml:"activate,omitempty"` // always activated, even in bare mode
	Bare     bool     `yaml:"bare,omitempty"`     // activate only requested plugins
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// TraceConfig configures the hooktrace plugin.
type TraceConfig struct {
	Enabled bool     `yaml:"enabled,omitempty"`
	Store   string   `yaml:"store,omitempty"` // "log" | "sqlite"
	Path    string   `yaml:"path,omitempty"`  // sqlite database; defaults under the data dir
	Hooks   []string `yaml:"hooks,omitempty"` // hook names to trace; empty traces all
}

// MetricsConfig controls hook dispatch metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}

// GatewayConfig configures the run monitor server.
type GatewayConfig struct {
	Listen         string   `yaml:"listen,omitempty"` // "host:port"; empty disables the server
	Token          string   `yaml:"token,omitempty"`  // WebSocket clients must present it when set
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// RelayConfig configures where reporter messages are relayed.
type RelayConfig struct {
	IRC *IRCConfig `yaml:"irc,omitempty"`
}

// IRCConfig configures the IRC reporter relay.
type IRCConfig struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port,omitempty"`
	Nick     string   `yaml:"nick"`
	Password string   `yaml:"password,omitempty"`
	Channels []string `yaml:"channels"`
	UseTLS   bool     `yaml:"useTLS,omitempty"`
	SASL     bool     `yaml:"sasl,omitempty"`
	Events   []string `yaml:"events,omitempty"` // reporter events to relay, e.g. "reporter_error"; empty relays all
}
