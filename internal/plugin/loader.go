package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	goplugin "plugin"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const (
	// MagicFile marks a directory as a plugin bundle. Its content is the
	// plugin name.
	MagicFile = "__netplug_plugin__"

	// BundleScript is the script a bundle asks the engine to load.
	BundleScript = "__load__.script"

	// PathSeparator separates roots in a plugin search path.
	PathSeparator = ":"
)

// Opener loads one shared module. Loading runs the module's init
// functions, which register its plugins.
type Opener func(path string) error

// OpenModule opens a module built with -buildmode=plugin.
func OpenModule(path string) error {
	_, err := goplugin.Open(path)
	return err
}

// CandidateState is the activation state of a dynamic plugin.
type CandidateState int

// Candidate states.
const (
	CandidateDiscovered CandidateState = iota
	CandidateActive
)

func (s CandidateState) String() string {
	if s == CandidateActive {
		return "active"
	}
	return "discovered"
}

// MarshalText renders s by name.
func (s CandidateState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Candidate is a dynamic plugin bundle found by search.
type Candidate struct {
	Name  string         `json:"name"`
	Dir   string         `json:"dir"`
	State CandidateState `json:"state"`
}

// ModulePattern returns the glob, relative to a bundle, that matches the
// shared modules built for this platform.
func ModulePattern() string {
	return filepath.Join("lib", "*."+runtime.GOOS+"-"+runtime.GOARCH+".so")
}

// RequestPlugin schedules a dynamic plugin for activation. Activation
// itself happens in ActivateDynamicPlugins.
func (m *Manager) RequestPlugin(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	m.requested[strings.ToLower(name)] = struct{}{}
}

// SearchDynamicPlugins records the plugin bundles found under dirs, a
// PathSeparator-separated list. A root that is a bundle is recorded
// directly; otherwise each immediate subdirectory is checked. It must be
// called before InitPreScript.
func (m *Manager) SearchDynamicPlugins(dirs string) error {
	if err := m.expect("SearchDynamicPlugins", StateUninitialized); err != nil {
		return err
	}
	for _, root := range strings.Split(dirs, PathSeparator) {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		if err := m.searchRoot(root); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) searchRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.log.Debug().Str("dir", root).Msg("plugin directory does not exist")
			return nil
		}
		return fmt.Errorf("stat plugin directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil
	}

	found, err := m.probe(root)
	if err != nil || found {
		return err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read plugin directory %s: %w", root, err)
	}
	for _, e := range entries {
		sub := filepath.Join(root, e.Name())
		if st, err := os.Stat(sub); err != nil || !st.IsDir() {
			continue
		}
		if _, err := m.probe(sub); err != nil {
			return err
		}
	}
	return nil
}

// probe records dir as a candidate if it is a plugin bundle.
func (m *Manager) probe(dir string) (bool, error) {
	magic := filepath.Join(dir, MagicFile)
	data, err := os.ReadFile(magic)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read plugin magic file %s: %w", magic, err)
	}

	name := strings.TrimSpace(string(data))
	if name == "" {
		return false, fmt.Errorf("empty plugin magic file %s", magic)
	}

	abs := canonicalPath(dir)
	key := strings.ToLower(name)
	if c, ok := m.candidates[key]; ok {
		if c.Dir != abs {
			m.log.Warn().
				Str("plugin", name).
				Str("dir", abs).
				Str("existing", c.Dir).
				Msg("ignoring dynamic plugin, already found")
		}
		return true, nil
	}

	m.candidates[key] = &Candidate{Name: name, Dir: abs, State: CandidateDiscovered}
	m.log.Debug().Str("plugin", name).Str("dir", abs).Msg("found dynamic plugin")
	return true, nil
}

// canonicalPath makes path absolute and resolves symlinks in its deepest
// existing ancestor, so paths that do not exist yet still map onto the
// resolved bundle directories.
func canonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	dir, rest := abs, ""
	for {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, rest)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
	}
}

// ActivateDynamicPlugins activates the requested plugins and those on the
// activate list; with all set it also activates every discovered one.
// Activate-list names that search did not find are skipped with a warning.
// Plugins are activated in name order. The first failure stops the pass
// and returns an *ActivationError; the caller is expected to abort
// start-up.
func (m *Manager) ActivateDynamicPlugins(ctx context.Context, all bool) error {
	if err := m.expect("ActivateDynamicPlugins", StateUninitialized); err != nil {
		return err
	}
	_, span := m.startSpan(ctx, "plugin.ActivateDynamicPlugins")
	defer span.End()
	span.SetAttributes(attribute.Bool("all", all))

	// want maps each name to whether it must be found. Names only on the
	// activate list may be missing.
	want := make(map[string]bool, len(m.requested))
	for _, name := range m.activate {
		if name = strings.TrimSpace(name); name != "" {
			want[strings.ToLower(name)] = false
		}
	}
	for name := range m.requested {
		want[name] = true
	}
	if all {
		for key := range m.candidates {
			if _, ok := want[key]; !ok {
				want[key] = true
			}
		}
	}

	names := make([]string, 0, len(want))
	for name := range want {
		names = append(names, name)
	}
	sort.Strings(names)

	activated := 0
	for _, key := range names {
		if _, found := m.candidates[key]; !found && !want[key] {
			m.log.Warn().Str("plugin", key).Msg("plugin on activate list not found, skipping")
			continue
		}
		errs, did := m.activateOne(key)
		if len(errs) > 0 {
			err := &ActivationError{Plugin: key, Errors: errs}
			for _, e := range errs {
				m.log.Error().Str("plugin", key).Msg(e)
			}
			failSpan(span, err)
			return err
		}
		if did {
			activated++
		}
	}

	span.SetAttributes(attribute.Int("activated", activated))
	m.log.Info().Int("activated", activated).Int("inactive", len(m.InactivePlugins())).Msg("dynamic plugins activated")
	return nil
}

// activateOne loads one candidate. It reports whether anything was
// activated. On failure the candidate and every plugin its modules
// registered are removed, so nothing is left half-active.
func (m *Manager) activateOne(key string) ([]string, bool) {
	c, ok := m.candidates[key]
	if !ok {
		return []string{fmt.Sprintf("plugin %s is not available", key)}, false
	}
	if c.State == CandidateActive {
		return nil, false
	}

	log := m.log.Sub("loader").With("plugin", c.Name)
	log.Debug().Str("dir", c.Dir).Msg("activating dynamic plugin")

	script := filepath.Join(c.Dir, "scripts", BundleScript)
	_, err := os.Stat(script)
	hasScript := err == nil

	modules, err := filepath.Glob(filepath.Join(c.Dir, ModulePattern()))
	if err != nil {
		return []string{fmt.Sprintf("bad module pattern for %s: %v", c.Dir, err)}, false
	}
	sort.Strings(modules)
	if len(modules) == 0 && !hasScript {
		delete(m.candidates, key)
		return []string{fmt.Sprintf("no loadable module or scripts for plugin %s in %s", c.Name, c.Dir)}, false
	}

	m.adopt()
	first := len(m.slots)
	fail := func(msg string) ([]string, bool) {
		for h := first; h < len(m.slots); h++ {
			m.retire(Handle(h))
		}
		delete(m.candidates, key)
		return []string{msg}, false
	}

	for _, mod := range modules {
		got, err := m.reg.capture(func() error { return m.opener(mod) })
		m.adopt()
		if err != nil {
			return fail(fmt.Sprintf("cannot load plugin library %s: %v", mod, err))
		}
		if len(got) == 0 {
			return fail(fmt.Sprintf("load plugin library %s did not instantiate a plugin", mod))
		}
		for _, p := range got {
			if !hashable(p) {
				return fail(fmt.Sprintf("plugin library %s registered a %T, plugins must be comparable", mod, p))
			}
			if !strings.EqualFold(p.Name(), c.Name) {
				return fail(fmt.Sprintf("inconsistent plugin name: %s vs %s", p.Name(), c.Name))
			}
		}
		for h := len(m.slots) - len(got); h < len(m.slots); h++ {
			m.slots[h].dynamic = true
			m.slots[h].dir = c.Dir
			m.slots[h].module = mod
		}
		log.Info().Str("module", mod).Msg("loaded plugin library")
	}

	if first < len(m.slots) {
		m.byPath[c.Dir] = Handle(first)
	}
	if hasScript {
		m.scripts = append(m.scripts, script)
	}
	c.State = CandidateActive
	return nil, true
}
