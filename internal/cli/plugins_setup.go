package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/soyeahso/netplug/internal/config"
	"github.com/soyeahso/netplug/internal/plugin"
	"github.com/spf13/cobra"
)

// pluginFlags are the discovery flags shared by commands that load plugins.
type pluginFlags struct {
	path      string
	bare      bool
	requested []string
}

func (f *pluginFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "plugin-path", "", "colon-separated plugin search path (overrides plugins.path)")
	cmd.Flags().BoolVarP(&f.bare, "bare", "b", false, "activate only requested and always-activated plugins")
	cmd.Flags().StringSliceVarP(&f.requested, "plugin", "p", nil, "request a dynamic plugin by name (repeatable)")
}

// apply folds explicitly set flags into the loaded config.
func (f *pluginFlags) apply(cmd *cobra.Command) {
	if cmd.Flags().Changed("plugin-path") {
		cfg.Plugins.Path = f.path
	}
	if cmd.Flags().Changed("bare") {
		cfg.Plugins.Bare = f.bare
	}
}

func validateConfig() error {
	issues := config.Validate(&cfg)
	if len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return nil
}

// loadPlugins creates a manager over the compiled-in plugins, then
// searches for and activates dynamic ones. reg may be nil.
func loadPlugins(ctx context.Context, f *pluginFlags, reg prometheus.Registerer) (*plugin.Manager, error) {
	opts := []plugin.Option{plugin.WithActivateList(cfg.Plugins.Activate)}
	if reg != nil {
		opts = append(opts, plugin.WithMetrics(reg))
	}
	m := plugin.NewManager(log, opts...)

	dirs := paths.PluginPath(&cfg)
	if err := m.SearchDynamicPlugins(dirs); err != nil {
		return nil, fmt.Errorf("searching plugins in %s: %w", dirs, err)
	}
	for _, name := range f.requested {
		m.RequestPlugin(name)
	}
	if err := m.ActivateDynamicPlugins(ctx, !cfg.Plugins.Bare); err != nil {
		return nil, err
	}
	return m, nil
}

func pluginNames(m *plugin.Manager) []string {
	var out []string
	for _, p := range m.ActivePlugins() {
		out = append(out, p.Name())
	}
	return out
}
