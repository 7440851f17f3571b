package plugin

// RequestEvent records that p handles the named script event, so the
// engine generates it even when no script does. Requests last until
// FinishPlugins.
func (m *Manager) RequestEvent(name string, p Plugin) {
	m.events[name] = struct{}{}
	if p != nil {
		m.log.Debug().Str("plugin", p.Name()).Str("event", name).Msg("event requested")
	}
}

// EventRequested reports whether any plugin requested the named event.
func (m *Manager) EventRequested(name string) bool {
	_, ok := m.events[name]
	return ok
}

// RequestObjectDestroy asks the engine to run the ObjectDestroy hook when
// obj is destroyed. obj must be comparable, in practice a pointer.
func (m *Manager) RequestObjectDestroy(obj any, p Plugin) {
	m.objects[obj] = struct{}{}
	if p != nil {
		m.log.Trace().Str("plugin", p.Name()).Msgf("object destroy requested for %T", obj)
	}
}

// ObjectDestroyRequested reports whether a plugin asked about obj.
func (m *Manager) ObjectDestroyRequested(obj any) bool {
	_, ok := m.objects[obj]
	return ok
}
