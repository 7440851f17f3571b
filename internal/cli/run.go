package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/soyeahso/netplug/internal/engine"
	"github.com/soyeahso/netplug/internal/gateway"
	"github.com/soyeahso/netplug/internal/plugin"
	"github.com/soyeahso/netplug/internal/plugins/hooktrace"
	"github.com/soyeahso/netplug/internal/plugins/ircrelay"
	"github.com/soyeahso/netplug/internal/store"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		pf          pluginFlags
		events      []string
		conns       []string
		networkTime float64
		trace       bool
		listen      string
	)

	cmd := &cobra.Command{
		Use:   "run [scripts...]",
		Short: "Drive the active plugins through one analysis run",
		Long: "Run loads the given scripts and the scripts of activated plugin bundles,\n" +
			"then takes every plugin through its lifecycle.\n\n" +
			"With --listen (or gateway.listen) the run is served to monitor clients\n" +
			"and the command keeps serving the final state until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pf.apply(cmd)
			if cmd.Flags().Changed("trace") {
				cfg.Trace.Enabled = trace
			}
			if cmd.Flags().Changed("listen") {
				cfg.Gateway.Listen = listen
			}
			if err := validateConfig(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var (
				metrics *prometheus.Registry
				reg     prometheus.Registerer
			)
			if cfg.Metrics.Enabled {
				metrics = prometheus.NewRegistry()
				reg = metrics
			}

			m, err := loadPlugins(ctx, &pf, reg)
			if err != nil {
				return err
			}

			ts, closeStore, err := openTraceStore()
			if err != nil {
				return err
			}
			defer closeStore()

			var (
				gw   *gateway.Server
				done chan struct{}
			)
			if cfg.Gateway.Listen != "" {
				gw, done, err = startGateway(ctx, metrics, ts)
				if err != nil {
					return err
				}
				defer func() {
					stop()
					<-done
				}()
				gw.Publish(snapshotOf(m, nil))
			}

			if err := configureTrace(m, ts, gw); err != nil {
				return err
			}
			closeRelay, err := configureRelay(ctx)
			if err != nil {
				return err
			}
			defer closeRelay()

			opts := engine.Options{
				Scripts:     args,
				NetworkTime: networkTime,
				Events:      events,
				Connections: conns,
			}
			if gw != nil {
				opts.OnRunning = func() { gw.Publish(snapshotOf(m, nil)) }
			}
			rep, err := engine.New(m, log).Run(ctx, opts)
			if gw != nil {
				gw.Publish(snapshotOf(m, rep))
			}

			out := cmd.OutOrStdout()
			if rep != nil {
				printReport(out, rep)
			}
			if err != nil {
				return err
			}
			if metrics != nil {
				if err := printMetrics(out, metrics); err != nil {
					return err
				}
			}

			if gw != nil {
				fmt.Fprintf(out, "Serving run state on %s, interrupt to exit.\n", cfg.Gateway.Listen)
				select {
				case <-ctx.Done():
				case <-done:
				}
			}
			return nil
		},
	}

	pf.register(cmd)
	cmd.Flags().StringSliceVarP(&events, "event", "e", nil, "queue an event once plugins are running (repeatable)")
	cmd.Flags().StringSliceVar(&conns, "conn", nil, "set up an analyzer tree for a connection uid (repeatable)")
	cmd.Flags().Float64Var(&networkTime, "network-time", 0, "initial network time in seconds")
	cmd.Flags().BoolVar(&trace, "trace", false, "record hook dispatches (overrides trace.enabled)")
	cmd.Flags().StringVar(&listen, "listen", "", "serve the run to monitor clients on host:port (overrides gateway.listen)")

	return cmd
}

// openTraceStore opens the SQLite trace database when tracing to it is
// enabled. The store is nil otherwise.
func openTraceStore() (*store.TraceStore, func(), error) {
	noop := func() {}
	if !cfg.Trace.Enabled || cfg.Trace.Store != "sqlite" {
		return nil, noop, nil
	}
	if err := paths.EnsureDirs(); err != nil {
		return nil, nil, fmt.Errorf("creating data directories: %w", err)
	}
	dbPath := paths.TracePath(&cfg)
	db, err := store.Open(dbPath, log)
	if err != nil {
		return nil, nil, fmt.Errorf("opening trace database: %w", err)
	}
	log.Debug().Str("path", dbPath).Msg("trace database opened")
	return store.NewTraceStore(db), func() { db.Close() }, nil
}

// configureTrace points the hook tracer at the configured recorder. A
// running gateway always receives the records, so monitor clients can
// stream them even when trace.enabled is off.
func configureTrace(m *plugin.Manager, ts *store.TraceStore, gw *gateway.Server) error {
	var tee hooktrace.Tee
	if gw != nil {
		tee = append(tee, gw.TraceRecorder())
	}

	switch {
	case !cfg.Trace.Enabled:
	case ts != nil:
		rec, err := hooktrace.NewStoreRecorder(ts, pluginNames(m))
		if err != nil {
			return fmt.Errorf("starting trace run: %w", err)
		}
		log.Info().Str("path", paths.TracePath(&cfg)).Str("run", rec.RunID()).Msg("tracing hooks to SQLite")
		tee = append(tee, rec)
	default:
		tee = append(tee, hooktrace.NewLogRecorder(log))
	}

	switch len(tee) {
	case 0:
		hooktrace.Default.Configure(nil, nil)
	case 1:
		hooktrace.Default.Configure(tee[0], log, cfg.TraceHooks()...)
	default:
		hooktrace.Default.Configure(tee, log, cfg.TraceHooks()...)
	}
	return nil
}

// configureRelay connects the IRC reporter relay when one is configured.
// The returned func disconnects it.
func configureRelay(ctx context.Context) (func(), error) {
	irc := cfg.Relay.IRC
	if irc == nil {
		ircrelay.Default.Configure(nil, nil, nil, nil)
		return func() {}, nil
	}
	conn, err := ircrelay.Dial(ctx, *irc, log)
	if err != nil {
		return nil, fmt.Errorf("connecting reporter relay: %w", err)
	}
	ircrelay.Default.Configure(conn, irc.Channels, irc.Events, log)
	return func() { conn.Close() }, nil
}

// startGateway binds the monitor endpoint and serves it until ctx ends.
// done is closed once the server has shut down.
func startGateway(ctx context.Context, metrics *prometheus.Registry, ts *store.TraceStore) (*gateway.Server, chan struct{}, error) {
	var opts []gateway.ServerOption
	if metrics != nil {
		runtime := prometheus.NewRegistry()
		runtime.MustRegister(collectors.NewGoCollector())
		opts = append(opts, gateway.WithGatherer(prometheus.Gatherers{metrics, runtime}))
	}
	if ts != nil {
		opts = append(opts, gateway.WithTraceStore(ts))
	}
	gw := gateway.New(cfg.Gateway, log, opts...)

	ln, err := gw.Listen()
	if err != nil {
		return nil, nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := gw.Serve(ctx, ln); err != nil {
			log.Error().Err(err).Msg("gateway server stopped")
		}
	}()
	return gw, done, nil
}

func snapshotOf(m *plugin.Manager, rep *engine.Report) gateway.Snapshot {
	return gateway.Snapshot{
		State:    m.State().String(),
		Plugins:  m.Info(),
		Inactive: m.InactivePlugins(),
		Report:   rep,
	}
}

func printReport(w io.Writer, rep *engine.Report) {
	fmt.Fprintf(w, "Loaded:      %s\n", joinOrNone(rep.Loaded))
	if len(rep.Handled) > 0 {
		fmt.Fprintf(w, "Handled:     %s\n", strings.Join(rep.Handled, ", "))
	}
	if len(rep.Failed) > 0 {
		fmt.Fprintf(w, "Failed:      %s\n", strings.Join(rep.Failed, ", "))
	}
	fmt.Fprintf(w, "Queued:      %s\n", joinOrNone(rep.Queued))
	if len(rep.Claimed) > 0 {
		fmt.Fprintf(w, "Claimed:     %s\n", strings.Join(rep.Claimed, ", "))
	}
	fmt.Fprintf(w, "Init:        handled=%v\n", rep.InitHandled)
	fmt.Fprintf(w, "Log lines:   %d (%d suppressed)\n", rep.LogLines, rep.Suppressed)
	for _, c := range rep.Connections {
		fmt.Fprintf(w, "Connection:  %s analyzers=%s\n", c.UID, joinOrNone(c.Analyzers))
	}
	fmt.Fprintf(w, "Duration:    %s\n", rep.Duration)
}

func joinOrNone(s []string) string {
	if len(s) == 0 {
		return "(none)"
	}
	return strings.Join(s, ", ")
}
