package plugin

import (
	"fmt"

	"github.com/soyeahso/netplug/internal/hooks"
)

// EnableHook subscribes p to t at the given priority. Higher priorities run
// first; ties keep enable order. Enabling a hook that is already enabled
// moves it to the new priority.
func (m *Manager) EnableHook(t hooks.Type, p Plugin, priority int) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownHook, t)
	}
	if p == nil {
		return fmt.Errorf("%w: <nil>", ErrUnknownPlugin)
	}
	h, ok := m.handleOf(p)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, p.Name())
	}
	if !implementsHook(p, t) {
		return fmt.Errorf("%w: %s does not handle %s", ErrHookNotImplemented, p.Name(), t)
	}
	m.hooks.Enable(t, h, priority)
	m.log.Debug().
		Str("plugin", p.Name()).
		Str("hook", t.String()).
		Int("priority", priority).
		Msg("hook enabled")
	return nil
}

// DisableHook unsubscribes p from t. It is a no-op if p was not subscribed.
func (m *Manager) DisableHook(t hooks.Type, p Plugin) {
	if p == nil {
		return
	}
	h, ok := m.handleOf(p)
	if !ok {
		return
	}
	if m.hooks.Disable(t, h) {
		m.log.Debug().Str("plugin", p.Name()).Str("hook", t.String()).Msg("hook disabled")
	}
}

// HavePluginForHook reports whether anyone subscribed to t. Call sites
// check it before building hook arguments.
func (m *Manager) HavePluginForHook(t hooks.Type) bool {
	return m.hooks.Has(t)
}

// HooksEnabledForPlugin lists the hooks p subscribed to.
func (m *Manager) HooksEnabledForPlugin(p Plugin) []hooks.TypePriority {
	if p == nil {
		return nil
	}
	h, ok := m.handleOf(p)
	if !ok {
		return nil
	}
	return m.hooks.HooksFor(h)
}

// visit calls fn for each live subscriber of t in priority order until fn
// returns false. The list is a snapshot, so fn may enable or disable
// hooks without affecting the current dispatch.
func visit[H any](m *Manager, t hooks.Type, fn func(H) bool) {
	m.metrics.dispatch(t)
	for _, r := range m.hooks.Subscribers(t) {
		p := m.plugin(r.Key)
		if p == nil {
			continue
		}
		h, ok := p.(H)
		if !ok {
			continue
		}
		m.metrics.call(t)
		if !fn(h) {
			return
		}
	}
}

func (m *Manager) metaEnabled() bool {
	return m.hooks.Has(hooks.MetaHookPre) || m.hooks.Has(hooks.MetaHookPost)
}

func (m *Manager) metaPre(t hooks.Type, args Arguments) {
	if !m.hooks.Has(hooks.MetaHookPre) {
		return
	}
	visit(m, hooks.MetaHookPre, func(h MetaHook) bool {
		h.MetaHookPre(t, args)
		return true
	})
}

func (m *Manager) metaPost(t hooks.Type, args Arguments, result Argument) {
	if !m.hooks.Has(hooks.MetaHookPost) {
		return
	}
	visit(m, hooks.MetaHookPost, func(h MetaHook) bool {
		h.MetaHookPost(t, args, result)
		return true
	})
}

// HookLoadFile offers a file to subscribers before the engine loads it.
// The first result >= LoadFailed wins. LoadNotHandled means the engine
// loads the file itself.
func (m *Manager) HookLoadFile(typ LoadType, file, resolved string) LoadResult {
	if !m.hooks.Has(hooks.LoadFile) {
		return LoadNotHandled
	}
	meta := m.metaEnabled()
	var args Arguments
	if meta {
		args = Arguments{StringArg(typ.String()), StringArg(file), StringArg(resolved)}
		m.metaPre(hooks.LoadFile, args)
	}

	result := LoadNotHandled
	visit(m, hooks.LoadFile, func(h LoadFileHook) bool {
		result = h.HookLoadFile(typ, file, resolved)
		return !result.Claimed()
	})

	if meta {
		m.metaPost(hooks.LoadFile, args, IntArg(int(result)))
	}
	return result
}

// HookCallFunction offers a script call to subscribers. The first one to
// report handled supplies the result.
func (m *Manager) HookCallFunction(f Func, parent Frame, args *Args) (bool, Val) {
	if !m.hooks.Has(hooks.CallFunction) {
		return false, nil
	}
	meta := m.metaEnabled()
	var margs Arguments
	if meta {
		margs = Arguments{FuncArg(f), FrameArg(parent), ArgsArg(args)}
		m.metaPre(hooks.CallFunction, margs)
	}

	var (
		handled bool
		result  Val
	)
	visit(m, hooks.CallFunction, func(h CallFunctionHook) bool {
		handled, result = h.HookCallFunction(f, parent, args)
		return !handled
	})

	if meta {
		m.metaPost(hooks.CallFunction, margs, FuncResultArg(handled, result))
	}
	return handled, result
}

// HookQueueEvent offers an event to subscribers. It returns true if one of
// them took it over, in which case the engine must not queue it.
func (m *Manager) HookQueueEvent(ev Event) bool {
	if !m.hooks.Has(hooks.QueueEvent) {
		return false
	}
	meta := m.metaEnabled()
	var args Arguments
	if meta {
		args = Arguments{EventArg(ev)}
		m.metaPre(hooks.QueueEvent, args)
	}

	claimed := false
	visit(m, hooks.QueueEvent, func(h QueueEventHook) bool {
		claimed = h.HookQueueEvent(ev)
		return !claimed
	})

	if meta {
		m.metaPost(hooks.QueueEvent, args, BoolArg(claimed))
	}
	return claimed
}

// HookDrainEvents tells every subscriber the event queue was drained.
func (m *Manager) HookDrainEvents() {
	if !m.hooks.Has(hooks.DrainEvents) {
		return
	}
	m.broadcast(hooks.DrainEvents, func() Arguments { return Arguments{} }, func() {
		visit(m, hooks.DrainEvents, func(h DrainEventsHook) bool {
			h.HookDrainEvents()
			return true
		})
	})
}

// HookUpdateNetworkTime tells every subscriber network time advanced.
func (m *Manager) HookUpdateNetworkTime(networkTime float64) {
	if !m.hooks.Has(hooks.UpdateNetworkTime) {
		return
	}
	m.broadcast(hooks.UpdateNetworkTime, func() Arguments {
		return Arguments{DoubleArg(networkTime)}
	}, func() {
		visit(m, hooks.UpdateNetworkTime, func(h UpdateNetworkTimeHook) bool {
			h.HookUpdateNetworkTime(networkTime)
			return true
		})
	})
}

// HookObjectDestroy tells every subscriber obj is being destroyed.
func (m *Manager) HookObjectDestroy(obj any) {
	if !m.hooks.Has(hooks.ObjectDestroy) {
		return
	}
	m.broadcast(hooks.ObjectDestroy, func() Arguments {
		return Arguments{ObjectArg(obj)}
	}, func() {
		visit(m, hooks.ObjectDestroy, func(h ObjectDestroyHook) bool {
			h.HookObjectDestroy(obj)
			return true
		})
	})
}

// HookSetupAnalyzerTree lets every subscriber extend conn's analyzer tree.
func (m *Manager) HookSetupAnalyzerTree(conn Connection) {
	if !m.hooks.Has(hooks.SetupAnalyzerTree) {
		return
	}
	m.broadcast(hooks.SetupAnalyzerTree, func() Arguments {
		return Arguments{ConnArg(conn)}
	}, func() {
		visit(m, hooks.SetupAnalyzerTree, func(h SetupAnalyzerTreeHook) bool {
			h.HookSetupAnalyzerTree(conn)
			return true
		})
	})
}

// HookLogInit tells every subscriber a log writer was instantiated.
func (m *Manager) HookLogInit(writer, filter string, local, remote bool, info WriterInfo, fields []Field) {
	if !m.hooks.Has(hooks.LogInit) {
		return
	}
	m.broadcast(hooks.LogInit, func() Arguments {
		return Arguments{
			StringArg(writer), StringArg(filter),
			BoolArg(local), BoolArg(remote),
			WriterInfoArg(info), FieldsArg(fields),
		}
	}, func() {
		visit(m, hooks.LogInit, func(h LogInitHook) bool {
			h.HookLogInit(writer, filter, local, remote, info, fields)
			return true
		})
	})
}

// broadcast wraps a void dispatch in the meta-hooks.
func (m *Manager) broadcast(t hooks.Type, args func() Arguments, run func()) {
	if !m.metaEnabled() {
		run()
		return
	}
	a := args()
	m.metaPre(t, a)
	run()
	m.metaPost(t, a, VoidArg())
}

// HookLogWrite passes a log line through subscribers, which may modify
// vals in place. It returns false if any of them suppressed the line;
// later subscribers do not see a suppressed line.
func (m *Manager) HookLogWrite(writer, filter string, info WriterInfo, fields []Field, vals []Value) bool {
	if !m.hooks.Has(hooks.LogWrite) {
		return true
	}
	meta := m.metaEnabled()
	var args Arguments
	if meta {
		args = Arguments{StringArg(writer), StringArg(filter), WriterInfoArg(info), FieldsArg(fields), ValuesArg(vals)}
		m.metaPre(hooks.LogWrite, args)
	}

	proceed := true
	visit(m, hooks.LogWrite, func(h LogWriteHook) bool {
		proceed = h.HookLogWrite(writer, filter, info, fields, vals)
		return proceed
	})

	if meta {
		m.metaPost(hooks.LogWrite, args, BoolArg(proceed))
	}
	return proceed
}

// HookReporter passes a reporter call through subscribers. It returns
// false if one of them suppressed the script-level event.
func (m *Manager) HookReporter(r Report) bool {
	if !m.hooks.Has(hooks.Reporter) {
		return true
	}
	meta := m.metaEnabled()
	var args Arguments
	if meta {
		args = Arguments{
			StringArg(r.Prefix), StringArg(r.Event), ConnArg(r.Conn), ObjectArg(r.Addl),
			BoolArg(r.Location), LocationArg(r.Location1), LocationArg(r.Location2),
			BoolArg(r.Time), StringArg(r.Message),
		}
		m.metaPre(hooks.Reporter, args)
	}

	proceed := true
	visit(m, hooks.Reporter, func(h ReporterHook) bool {
		proceed = h.HookReporter(r)
		return proceed
	})

	if meta {
		m.metaPost(hooks.Reporter, args, BoolArg(proceed))
	}
	return proceed
}
