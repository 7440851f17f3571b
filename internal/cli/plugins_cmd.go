package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/soyeahso/netplug/internal/plugin"
	"github.com/spf13/cobra"
)

func newPluginsCmd() *cobra.Command {
	var (
		pf      pluginFlags
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List active and available plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pf.apply(cmd)
			if err := validateConfig(); err != nil {
				return err
			}

			m, err := loadPlugins(cmd.Context(), &pf, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, info := range m.Info() {
				printPluginInfo(out, info, verbose)
			}
			for _, c := range m.InactivePlugins() {
				fmt.Fprintf(out, "%s (%s, %s)\n", c.Name, c.State, c.Dir)
			}
			return nil
		},
	}

	pf.register(cmd)
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show components, hooks and script items")

	return cmd
}

func printPluginInfo(w io.Writer, info plugin.PluginInfo, verbose bool) {
	kind := "built-in"
	if info.Dynamic {
		kind = "dynamic, " + info.Dir
	}
	version := ""
	if info.Version != "" {
		version = ", version " + info.Version
	}
	desc := ""
	if info.Description != "" {
		desc = " - " + info.Description
	}
	fmt.Fprintf(w, "%s%s (%s%s)\n", info.Name, desc, kind, version)

	if !verbose {
		return
	}
	for _, c := range info.Components {
		fmt.Fprintf(w, "    %s\n", c)
	}
	for _, b := range info.Bifs {
		fmt.Fprintf(w, "    [%s] %s\n", b.Kind, b.ID)
	}
	if len(info.Hooks) > 0 {
		hs := make([]string, len(info.Hooks))
		for i, h := range info.Hooks {
			hs[i] = fmt.Sprintf("%s (priority %d)", h.Type, h.Priority)
		}
		fmt.Fprintf(w, "    Implements %s\n", strings.Join(hs, ", "))
	}
}
