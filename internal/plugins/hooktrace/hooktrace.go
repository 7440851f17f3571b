// Package hooktrace is a compiled-in plugin that records every hook
// dispatch through the meta-hooks.
//
// It registers itself on import. Tracing stays off until Configure gives
// it a Recorder, so linking it in costs nothing.
package hooktrace

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/netplug/internal/hooks"
	"github.com/soyeahso/netplug/internal/logging"
	"github.com/soyeahso/netplug/internal/plugin"
)

// Name is the plugin's registered name.
const Name = "NetPlug::HookTrace"

// Priority is low so tracing observes the dispatch after anyone else's
// meta-hooks.
const Priority = -1000

// Record phases.
const (
	PhasePre  = "pre"
	PhasePost = "post"
)

// Plugin traces hook dispatches.
type Plugin struct {
	plugin.Base

	log  *logging.Logger
	rec  Recorder
	only map[hooks.Type]bool

	seq      int
	failures int
}

// Default is the instance registered with the process registry.
var Default = New()

func init() {
	plugin.Register(Default)
	plugin.RegisterBif(Name, initBifs)
}

// New creates an unconfigured tracer.
func New() *Plugin {
	p := &Plugin{
		Base: plugin.Base{
			PluginName:        Name,
			PluginDescription: "Records hook dispatches through the meta-hooks",
			PluginVersion:     plugin.Version{Major: 1, Minor: 0},
		},
		log: logging.Nop(),
	}
	p.AddComponent(plugin.NewComponent(plugin.ComponentBifSet, "HookTrace"))
	return p
}

func initBifs(_ plugin.Plugin, r plugin.BifRegistrar) {
	r.AddBifItem("HookTrace::enabled", plugin.BifFunction)
	r.AddBifItem("HookTrace::records", plugin.BifFunction)
	r.AddBifItem("HookTrace::hook_traced", plugin.BifEvent)
}

// Configure turns tracing on. only restricts tracing to the given hook
// types; empty traces everything. It must be called before the manager's
// pre-script stage.
func (p *Plugin) Configure(rec Recorder, log *logging.Logger, only ...hooks.Type) {
	p.rec = rec
	p.seq, p.failures = 0, 0
	if log != nil {
		p.log = log.Sub("hooktrace")
	}
	p.only = nil
	if len(only) > 0 {
		p.only = make(map[hooks.Type]bool, len(only))
		for _, t := range only {
			p.only[t] = true
		}
	}
}

// Enabled reports whether a recorder is configured.
func (p *Plugin) Enabled() bool { return p.rec != nil }

// Records returns how many records were written.
func (p *Plugin) Records() int { return p.seq - p.failures }

// InitPreScript enables the meta-hooks when tracing is configured.
func (p *Plugin) InitPreScript(_ context.Context, m *plugin.Manager) error {
	if p.rec == nil {
		return nil
	}
	for _, t := range []hooks.Type{hooks.MetaHookPre, hooks.MetaHookPost} {
		if err := m.EnableHook(t, p, Priority); err != nil {
			return fmt.Errorf("enable %s: %w", t, err)
		}
	}
	p.log.Info().Int("hooks", len(p.only)).Msg("hook tracing enabled")
	return nil
}

// MetaHookPre implements plugin.MetaHook.
func (p *Plugin) MetaHookPre(t hooks.Type, args plugin.Arguments) {
	p.write(PhasePre, t, args, "")
}

// MetaHookPost implements plugin.MetaHook.
func (p *Plugin) MetaHookPost(t hooks.Type, args plugin.Arguments, result plugin.Argument) {
	p.write(PhasePost, t, args, result.Describe())
}

func (p *Plugin) write(phase string, t hooks.Type, args plugin.Arguments, result string) {
	if p.rec == nil || (p.only != nil && !p.only[t]) {
		return
	}
	p.seq++
	err := p.rec.Record(Record{
		Seq:    p.seq,
		Phase:  phase,
		Hook:   t.String(),
		Args:   args.Describe(),
		Result: result,
		At:     time.Now(),
	})
	if err != nil {
		p.failures++
		if p.failures == 1 {
			p.log.Warn().Err(err).Msg("trace record dropped")
		}
	}
}

// Done closes the recorder.
func (p *Plugin) Done(context.Context) error {
	if p.rec == nil {
		return nil
	}
	p.log.Info().Int("records", p.Records()).Int("dropped", p.failures).Msg("hook tracing finished")
	if c, ok := p.rec.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close trace recorder: %w", err)
		}
	}
	return nil
}
