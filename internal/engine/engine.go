// Package engine drives a plugin manager through one analysis run. It owns
// the engine-side call sites of every hook: each site checks for
// subscribers before building arguments, so an engine without plugins does
// no hook work at all.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/soyeahso/netplug/internal/hooks"
	"github.com/soyeahso/netplug/internal/logging"
	"github.com/soyeahso/netplug/internal/plugin"
)

// Names the engine uses for its own call sites.
const (
	InitFunction  = "netplug_init"
	LoadLogWriter = "ascii"
	LoadLogStream = "loaded_scripts"
)

// Function is a script function the engine calls.
type Function struct{ name string }

// Name implements plugin.Func.
func (f *Function) Name() string { return f.name }

// Event is a queued script event.
type Event struct{ name string }

// NewEvent creates an event.
func NewEvent(name string) *Event { return &Event{name: name} }

// Name implements plugin.Event.
func (e *Event) Name() string { return e.name }

// Connection is a connection whose analyzer tree the engine builds.
type Connection struct {
	UID       string
	Analyzers []string
}

// Options describes one run.
type Options struct {
	// Scripts are loaded before bundle scripts, in order.
	Scripts []string
	// NetworkTime is the initial network time, in seconds.
	NetworkTime float64
	// Events are queued once the plugins are running.
	Events []string
	// Connections get an analyzer tree each.
	Connections []string
	// OnRunning, if set, is called once the plugins are running and
	// before any traffic-side hook fires.
	OnRunning func()
}

// Report is the outcome of a run.
type Report struct {
	Loaded      []string      `json:"loaded,omitempty"`
	Handled     []string      `json:"handled,omitempty"`
	Failed      []string      `json:"failed,omitempty"`
	Queued      []string      `json:"queued,omitempty"`
	Claimed     []string      `json:"claimed,omitempty"`
	InitHandled bool          `json:"initHandled"`
	LogLines    int           `json:"logLines"`
	Suppressed  int           `json:"suppressed"`
	Connections []*Connection `json:"connections,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Engine is the call-site side of the plugin system.
type Engine struct {
	plugins *plugin.Manager
	log     *logging.Logger
}

// New creates an engine over an initialized manager. Dynamic plugins must
// already be searched and activated.
func New(m *plugin.Manager, log *logging.Logger) *Engine {
	return &Engine{plugins: m, log: log.Sub("engine")}
}

// Run takes the plugins through their lifecycle around one analysis run.
// Plugins are always finished, even when start-up fails.
func (e *Engine) Run(ctx context.Context, opts Options) (rep *Report, err error) {
	start := time.Now()
	rep = &Report{}
	defer func() {
		if ferr := e.plugins.FinishPlugins(ctx); ferr != nil {
			err = errors.Join(err, ferr)
		}
		rep.Duration = time.Since(start)
	}()

	if err := e.plugins.InitPreScript(ctx); err != nil {
		return rep, err
	}

	e.initLog()
	for _, file := range opts.Scripts {
		e.loadScript(rep, file)
	}
	for _, file := range e.plugins.ScriptsToLoad() {
		e.loadScript(rep, file)
	}

	if err := e.plugins.InitBifs(ctx); err != nil {
		return rep, err
	}
	if err := e.plugins.InitPostScript(ctx); err != nil {
		return rep, err
	}
	if opts.OnRunning != nil {
		opts.OnRunning()
	}

	if e.plugins.HavePluginForHook(hooks.CallFunction) {
		args := plugin.Args{}
		rep.InitHandled, _ = e.plugins.HookCallFunction(&Function{name: InitFunction}, nil, &args)
	}

	if e.plugins.HavePluginForHook(hooks.UpdateNetworkTime) {
		e.plugins.HookUpdateNetworkTime(opts.NetworkTime)
	}

	for _, uid := range opts.Connections {
		rep.Connections = append(rep.Connections, e.setupConnection(uid))
	}

	for _, name := range opts.Events {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		ev := NewEvent(name)
		if e.plugins.HavePluginForHook(hooks.QueueEvent) && e.plugins.HookQueueEvent(ev) {
			rep.Claimed = append(rep.Claimed, name)
			continue
		}
		rep.Queued = append(rep.Queued, name)
	}
	if e.plugins.HavePluginForHook(hooks.DrainEvents) {
		e.plugins.HookDrainEvents()
	}

	for _, c := range rep.Connections {
		if e.plugins.HavePluginForHook(hooks.ObjectDestroy) && e.plugins.ObjectDestroyRequested(c) {
			e.plugins.HookObjectDestroy(c)
		}
	}

	e.log.Info().
		Int("loaded", len(rep.Loaded)).
		Int("handled", len(rep.Handled)).
		Int("failed", len(rep.Failed)).
		Int("queued", len(rep.Queued)).
		Int("claimed", len(rep.Claimed)).
		Msg("run complete")
	return rep, nil
}

func (e *Engine) loadScript(rep *Report, file string) {
	resolved, err := filepath.Abs(file)
	if err != nil {
		resolved = file
	}

	if e.plugins.HavePluginForHook(hooks.LoadFile) {
		switch res := e.plugins.HookLoadFile(plugin.LoadScript, file, resolved); res {
		case plugin.LoadOK:
			rep.Handled = append(rep.Handled, file)
			e.logLoaded(rep, file)
			return
		case plugin.LoadFailed:
			rep.Failed = append(rep.Failed, file)
			e.report("error", fmt.Sprintf("plugin failed to load %s", file))
			return
		}
	}

	if _, err := os.Stat(resolved); err != nil {
		rep.Failed = append(rep.Failed, file)
		e.report("error", fmt.Sprintf("cannot load %s: %v", file, err))
		return
	}
	rep.Loaded = append(rep.Loaded, file)
	e.logLoaded(rep, file)
}

func loadLogFields() []plugin.Field {
	return []plugin.Field{{Name: "name", Type: "string"}}
}

func (e *Engine) initLog() {
	if e.plugins.HavePluginForHook(hooks.LogInit) {
		e.plugins.HookLogInit(LoadLogWriter, LoadLogStream, true, false, nil, loadLogFields())
	}
}

func (e *Engine) logLoaded(rep *Report, file string) {
	vals := []plugin.Value{file}
	if e.plugins.HavePluginForHook(hooks.LogWrite) &&
		!e.plugins.HookLogWrite(LoadLogWriter, LoadLogStream, nil, loadLogFields(), vals) {
		rep.Suppressed++
		return
	}
	rep.LogLines++
	e.log.Debug().Str("stream", LoadLogStream).Interface("name", vals[0]).Msg("log line")
}

// report sends a diagnostic through the Reporter hook and logs it unless a
// plugin suppressed it.
func (e *Engine) report(prefix, msg string) {
	if e.plugins.HavePluginForHook(hooks.Reporter) &&
		!e.plugins.HookReporter(plugin.Report{Prefix: prefix, Event: "reporter_" + prefix, Message: msg}) {
		return
	}
	e.log.Warn().Str("prefix", prefix).Msg(msg)
}

func (e *Engine) setupConnection(uid string) *Connection {
	c := &Connection{UID: uid}
	if e.plugins.HavePluginForHook(hooks.SetupAnalyzerTree) {
		e.plugins.HookSetupAnalyzerTree(c)
	}
	return c
}
