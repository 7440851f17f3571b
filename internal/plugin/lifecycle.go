package plugin

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is the manager's lifecycle stage. Stages only move forward.
type State int

// Lifecycle states.
const (
	StateUninitialized State = iota
	StatePreScriptInit
	StateBifsInit
	StatePostScriptInit
	StateRunning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StatePreScriptInit:
		return "pre-script-init"
	case StateBifsInit:
		return "bifs-init"
	case StatePostScriptInit:
		return "post-script-init"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (m *Manager) expect(op string, want State) error {
	if m.state != want {
		return fmt.Errorf("%w: %s called in state %s, want %s", ErrLifecycleOrder, op, m.state, want)
	}
	return nil
}

func (m *Manager) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(attribute.Int("plugins", len(m.slots))))
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// InitPreScript runs before any script is parsed and forwards to every
// PreScriptIniter in plugin order. An error aborts start-up.
func (m *Manager) InitPreScript(ctx context.Context) error {
	if err := m.expect("InitPreScript", StateUninitialized); err != nil {
		return err
	}
	m.adopt()
	ctx, span := m.startSpan(ctx, "plugin.InitPreScript")
	defer span.End()

	m.state = StatePreScriptInit
	for _, s := range m.live() {
		i, ok := s.plugin.(PreScriptIniter)
		if !ok {
			continue
		}
		m.log.Debug().Str("plugin", s.plugin.Name()).Msg("pre-script init")
		if err := i.InitPreScript(ctx, m); err != nil {
			err = fmt.Errorf("init plugin %s: %w", s.plugin.Name(), err)
			failSpan(span, err)
			return err
		}
	}
	return nil
}

// InitBifs runs every queued bif initializer of every active plugin.
func (m *Manager) InitBifs(ctx context.Context) error {
	if err := m.expect("InitBifs", StatePreScriptInit); err != nil {
		return err
	}
	m.adopt()
	_, span := m.startSpan(ctx, "plugin.InitBifs")
	defer span.End()

	m.state = StateBifsInit
	for _, s := range m.live() {
		fns := m.reg.BifInits(s.plugin.Name())
		if len(fns) == 0 {
			continue
		}
		m.log.Debug().Str("plugin", s.plugin.Name()).Int("initializers", len(fns)).Msg("initializing bifs")
		r := &slotRegistrar{s: s}
		for _, fn := range fns {
			fn(s.plugin, r)
		}
	}
	return nil
}

type slotRegistrar struct{ s *slot }

func (r *slotRegistrar) AddBifItem(id string, kind BifItemKind) {
	r.s.bifs = append(r.s.bifs, BifItem{ID: id, Kind: kind})
}

// InitPostScript runs after all scripts are parsed and forwards to every
// PostScriptIniter. On success the manager enters StateRunning.
func (m *Manager) InitPostScript(ctx context.Context) error {
	if err := m.expect("InitPostScript", StateBifsInit); err != nil {
		return err
	}
	ctx, span := m.startSpan(ctx, "plugin.InitPostScript")
	defer span.End()

	m.state = StatePostScriptInit
	for _, s := range m.live() {
		i, ok := s.plugin.(PostScriptIniter)
		if !ok {
			continue
		}
		m.log.Debug().Str("plugin", s.plugin.Name()).Msg("post-script init")
		if err := i.InitPostScript(ctx, m); err != nil {
			err = fmt.Errorf("init plugin %s: %w", s.plugin.Name(), err)
			failSpan(span, err)
			return err
		}
	}

	m.state = StateRunning
	m.log.Info().Int("plugins", len(m.live())).Msg("plugins running")
	return nil
}

// FinishPlugins shuts every plugin down. It may be called from any state
// except StateFinished so that a failed start-up still releases resources.
// Every Finisher runs even if an earlier one fails; failures are joined.
func (m *Manager) FinishPlugins(ctx context.Context) error {
	if m.state == StateFinished {
		return fmt.Errorf("%w: FinishPlugins called twice", ErrLifecycleOrder)
	}
	ctx, span := m.startSpan(ctx, "plugin.FinishPlugins")
	defer span.End()

	m.state = StateFinished
	var errs []error
	for _, s := range m.live() {
		f, ok := s.plugin.(Finisher)
		if !ok {
			continue
		}
		m.log.Debug().Str("plugin", s.plugin.Name()).Msg("finishing plugin")
		if err := f.Done(ctx); err != nil {
			m.log.Error().Err(err).Str("plugin", s.plugin.Name()).Msg("plugin done error")
			errs = append(errs, fmt.Errorf("finish plugin %s: %w", s.plugin.Name(), err))
		}
	}

	m.hooks.Reset()
	for h := range m.slots {
		m.retire(Handle(h))
	}
	clear(m.events)
	clear(m.objects)

	err := errors.Join(errs...)
	if err != nil {
		failSpan(span, err)
	}
	return err
}
