package plugin

import "path/filepath"

// ComponentsOfKind returns the components of the given kind across all
// active plugins, in plugin order. Nothing is cached.
func (m *Manager) ComponentsOfKind(kind ComponentKind) []Component {
	var out []Component
	for _, p := range m.ActivePlugins() {
		for _, c := range p.Components() {
			if c.Kind() == kind {
				out = append(out, c)
			}
		}
	}
	return out
}

// Components is ComponentsOfKind narrowed to a concrete component type.
// Components of the right kind but another type are skipped.
func Components[T Component](m *Manager, kind ComponentKind) []T {
	var out []T
	for _, c := range m.ComponentsOfKind(kind) {
		if t, ok := c.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// LookupPluginByPath returns the dynamic plugin whose bundle directory is
// the closest ancestor of path, or nil.
func (m *Manager) LookupPluginByPath(path string) Plugin {
	if len(m.byPath) == 0 {
		return nil
	}
	dir := canonicalPath(path)
	for {
		if h, ok := m.byPath[dir]; ok {
			return m.plugin(h)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}
