package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/soyeahso/netplug/internal/config"
	"github.com/soyeahso/netplug/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show NetPlug status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "NetPlug %s (commit %s)\n\n", version.Version, version.Commit)

			// Show paths
			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "         not found (using defaults)")
			}
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			// Plugins
			fmt.Fprintf(out, "Plugins: path=%s bare=%v\n", paths.PluginPath(&cfg), cfg.Plugins.Bare)
			if len(cfg.Plugins.Activate) > 0 {
				fmt.Fprintf(out, "         activate=%s\n", strings.Join(cfg.Plugins.Activate, ","))
			}

			// Tracing
			if cfg.Trace.Enabled {
				where := "log"
				if cfg.Trace.Store == "sqlite" {
					where = paths.TracePath(&cfg)
				}
				hooks := "all"
				if len(cfg.Trace.Hooks) > 0 {
					hooks = strings.Join(cfg.Trace.Hooks, ",")
				}
				fmt.Fprintf(out, "Trace:   store=%s hooks=%s\n", where, hooks)
			} else {
				fmt.Fprintln(out, "Trace:   (disabled)")
			}

			fmt.Fprintf(out, "Metrics: enabled=%v\n", cfg.Metrics.Enabled)
			if cfg.Gateway.Listen != "" {
				auth := "none"
				if cfg.Gateway.Token != "" {
					auth = "token"
				}
				fmt.Fprintf(out, "Gateway: listen=%s auth=%s\n", cfg.Gateway.Listen, auth)
			} else {
				fmt.Fprintln(out, "Gateway: (disabled)")
			}
			if irc := cfg.Relay.IRC; irc != nil {
				fmt.Fprintf(out, "Relay:   irc://%s/%s\n", irc.Server, strings.Join(irc.Channels, ","))
			} else {
				fmt.Fprintln(out, "Relay:   (disabled)")
			}
			fmt.Fprintf(out, "Logging: level=%s style=%s\n", cfg.Logging.Level, cfg.Logging.ConsoleStyle)

			// Validation
			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}

			return nil
		},
	}

	return cmd
}
