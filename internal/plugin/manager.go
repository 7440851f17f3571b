package plugin

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/soyeahso/netplug/internal/hooks"
	"github.com/soyeahso/netplug/internal/logging"
)

const tracerName = "github.com/soyeahso/netplug/internal/plugin"

// Handle is a plugin's stable index in the manager. Hook registrations and
// the path index refer to plugins by handle, never by owning reference.
type Handle int

// slot is the manager's record of one registration. The plugin itself is
// owned by whoever constructed it; a dead slot is never dispatched to.
type slot struct {
	plugin  Plugin
	alive   bool
	dynamic bool
	dir     string
	module  string
	bifs    []BifItem
}

// Manager owns the hook table, the dynamic candidate table and the path
// index, and drives every plugin through the lifecycle. One Manager exists
// per process; it is built once at start-up and passed to the engine's
// call sites.
//
// Manager is not safe for concurrent use. Tables are mutated during
// start-up and only read while dispatching.
type Manager struct {
	reg   *Registry
	log   *logging.Logger
	state State

	slots    []*slot
	byPlugin map[Plugin]Handle
	hooks    *hooks.Table[Handle]

	opener     Opener
	requested  map[string]struct{}
	activate   []string
	candidates map[string]*Candidate
	byPath     map[string]Handle
	scripts    []string

	events  map[string]struct{}
	objects map[any]struct{}

	metrics *hookMetrics
	tracer  trace.Tracer
}

// Option configures a Manager.
type Option func(*Manager)

// WithRegistry makes the manager adopt reg instead of the process registry.
func WithRegistry(reg *Registry) Option {
	return func(m *Manager) { m.reg = reg }
}

// WithOpener replaces the shared-module opener used for dynamic plugins.
func WithOpener(o Opener) Option {
	return func(m *Manager) { m.opener = o }
}

// WithActivateList names dynamic plugins that are always activated, even
// in restricted start-up.
func WithActivateList(names []string) Option {
	return func(m *Manager) { m.activate = append(m.activate, names...) }
}

// WithMetrics registers the hook dispatch counters with reg. A nil reg
// leaves the counters unregistered.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		if v := reflect.ValueOf(reg); !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
			return
		}
		if err := m.metrics.register(reg); err != nil {
			m.log.Warn().Err(err).Msg("hook metrics not registered")
		}
	}
}

// WithTracer sets the tracer used for lifecycle spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// NewManager creates a manager that adopts the process registry, so every
// plugin registered so far, and any registered later by a dynamic module,
// becomes part of its plugin set.
func NewManager(log *logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		reg:        DefaultRegistry(),
		log:        log.Sub("plugins"),
		byPlugin:   make(map[Plugin]Handle),
		hooks:      hooks.NewTable[Handle](),
		opener:     OpenModule,
		requested:  make(map[string]struct{}),
		candidates: make(map[string]*Candidate),
		byPath:     make(map[string]Handle),
		events:     make(map[string]struct{}),
		objects:    make(map[any]struct{}),
		metrics:    newHookMetrics(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.adopt()
	return m
}

// adopt picks up registrations made since the last call.
func (m *Manager) adopt() {
	for _, p := range m.reg.since(len(m.slots)) {
		h := Handle(len(m.slots))
		if !hashable(p) {
			// keep the slot so handles stay aligned with the registry
			m.slots = append(m.slots, &slot{plugin: p})
			m.log.Error().Str("type", fmt.Sprintf("%T", p)).Msg("ignoring plugin that is not comparable, register a pointer")
			continue
		}
		m.slots = append(m.slots, &slot{plugin: p, alive: true})
		if _, dup := m.byPlugin[p]; !dup {
			m.byPlugin[p] = h
		}
		m.log.Debug().
			Str("plugin", p.Name()).
			Str("version", p.Version().String()).
			Msg("plugin registered")
	}
}

// hashable reports whether p can key the manager's plugin index.
func hashable(p Plugin) bool {
	return p != nil && reflect.TypeOf(p).Comparable()
}

// plugin resolves a handle, returning nil for dead or unknown handles.
func (m *Manager) plugin(h Handle) Plugin {
	if h < 0 || int(h) >= len(m.slots) {
		return nil
	}
	s := m.slots[h]
	if !s.alive {
		return nil
	}
	return s.plugin
}

func (m *Manager) handleOf(p Plugin) (Handle, bool) {
	m.adopt()
	if !hashable(p) {
		return 0, false
	}
	h, ok := m.byPlugin[p]
	if !ok || m.plugin(h) == nil {
		return 0, false
	}
	return h, true
}

// live returns the live slots in registration order.
func (m *Manager) live() []*slot {
	out := make([]*slot, 0, len(m.slots))
	for _, s := range m.slots {
		if s.alive {
			out = append(out, s)
		}
	}
	return out
}

// retire kills a slot and drops every reference the tables hold to it.
func (m *Manager) retire(h Handle) {
	s := m.slots[h]
	s.alive = false
	m.hooks.DisableAll(h)
	if hashable(s.plugin) && m.byPlugin[s.plugin] == h {
		delete(m.byPlugin, s.plugin)
	}
	for dir, ph := range m.byPath {
		if ph == h {
			delete(m.byPath, dir)
		}
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State { return m.state }

// ActivePlugins returns every active plugin, compiled-in and dynamic, in
// registration order.
func (m *Manager) ActivePlugins() []Plugin {
	m.adopt()
	live := m.live()
	out := make([]Plugin, len(live))
	for i, s := range live {
		out[i] = s.plugin
	}
	return out
}

// InactivePlugins returns the dynamic plugins found by search but not
// activated, sorted by name.
func (m *Manager) InactivePlugins() []Candidate {
	var out []Candidate
	for _, c := range m.candidates {
		if c.State == CandidateDiscovered {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ScriptsToLoad returns the bundle scripts of activated dynamic plugins in
// activation order.
func (m *Manager) ScriptsToLoad() []string {
	out := make([]string, len(m.scripts))
	copy(out, m.scripts)
	return out
}

// PluginInfo summarizes one active plugin.
type PluginInfo struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Version     string               `json:"version"`
	Dynamic     bool                 `json:"dynamic"`
	Dir         string               `json:"dir,omitempty"`
	Module      string               `json:"module,omitempty"`
	Components  []string             `json:"components,omitempty"`
	Hooks       []hooks.TypePriority `json:"hooks,omitempty"`
	Bifs        []BifItem            `json:"bifs,omitempty"`
}

// Info returns summary information about all active plugins.
func (m *Manager) Info() []PluginInfo {
	m.adopt()
	var infos []PluginInfo
	for h, s := range m.slots {
		if !s.alive {
			continue
		}
		p := s.plugin
		info := PluginInfo{
			Name:        p.Name(),
			Description: p.Description(),
			Dynamic:     s.dynamic,
			Dir:         s.dir,
			Module:      s.module,
			Hooks:       m.hooks.HooksFor(Handle(h)),
			Bifs:        append([]BifItem(nil), s.bifs...),
		}
		if v := p.Version(); v.IsSet() {
			info.Version = v.String()
		}
		for _, c := range p.Components() {
			info.Components = append(info.Components, Describe(c))
		}
		infos = append(infos, info)
	}
	return infos
}
