package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bundle struct {
	name    string
	modules int
	script  bool
}

// writeBundle lays out a plugin bundle under dir.
func writeBundle(t *testing.T, dir string, b bundle) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MagicFile), []byte(b.name+"\n"), 0o644))
	if b.modules > 0 {
		lib := filepath.Join(dir, "lib")
		require.NoError(t, os.MkdirAll(lib, 0o755))
		for i := 0; i < b.modules; i++ {
			mod := filepath.Join(lib, string(rune('a'+i))+"."+runtime.GOOS+"-"+runtime.GOARCH+".so")
			require.NoError(t, os.WriteFile(mod, nil, 0o644))
		}
	}
	if b.script {
		scripts := filepath.Join(dir, "scripts")
		require.NoError(t, os.MkdirAll(scripts, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(scripts, BundleScript), []byte("# load\n"), 0o644))
	}
	return dir
}

// bundleOpener registers, for each opened module, a plugin named by the
// bundle's magic file, or by names[bundle dir] when set.
func bundleOpener(reg *Registry, names map[string]string, opened *[]string) Opener {
	return func(path string) error {
		*opened = append(*opened, path)
		dir := filepath.Dir(filepath.Dir(path))
		name, ok := names[filepath.Base(dir)]
		if !ok {
			data, err := os.ReadFile(filepath.Join(dir, MagicFile))
			if err != nil {
				return err
			}
			name = string(data[:len(data)-1])
		}
		if name == "" {
			return nil
		}
		reg.Register(&Base{PluginName: name})
		return nil
	}
}

func names(ps []Plugin) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name()
	}
	return out
}

func TestSearchDynamicPlugins(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, filepath.Join(root, "alpha"), bundle{name: "Demo::Alpha", modules: 1})
	writeBundle(t, filepath.Join(root, "beta"), bundle{name: "Demo::Beta", script: true})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	// Two levels down is not searched.
	writeBundle(t, filepath.Join(root, "empty", "deep"), bundle{name: "Demo::Deep", modules: 1})

	m := newTestManager(t, NewRegistry())
	require.NoError(t, m.SearchDynamicPlugins(root+":"+filepath.Join(root, "missing")+"::"))

	inactive := m.InactivePlugins()
	require.Len(t, inactive, 2)
	assert.Equal(t, "Demo::Alpha", inactive[0].Name)
	assert.Equal(t, canonicalPath(filepath.Join(root, "alpha")), inactive[0].Dir)
	assert.Equal(t, CandidateDiscovered, inactive[0].State)
	assert.Equal(t, "Demo::Beta", inactive[1].Name)
}

func TestSearchDynamicPlugins_RootIsBundle(t *testing.T) {
	root := writeBundle(t, t.TempDir(), bundle{name: "Demo::Root", modules: 1})
	writeBundle(t, filepath.Join(root, "child"), bundle{name: "Demo::Child", modules: 1})

	m := newTestManager(t, NewRegistry())
	require.NoError(t, m.SearchDynamicPlugins(root))

	inactive := m.InactivePlugins()
	require.Len(t, inactive, 1)
	assert.Equal(t, "Demo::Root", inactive[0].Name)
}

func TestSearchDynamicPlugins_FirstFoundWins(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeBundle(t, filepath.Join(first, "a"), bundle{name: "Demo::Same", modules: 1})
	writeBundle(t, filepath.Join(second, "b"), bundle{name: "demo::same", modules: 1})

	m := newTestManager(t, NewRegistry())
	require.NoError(t, m.SearchDynamicPlugins(first+PathSeparator+second))

	inactive := m.InactivePlugins()
	require.Len(t, inactive, 1)
	assert.Equal(t, canonicalPath(filepath.Join(first, "a")), inactive[0].Dir)
}

func TestSearchDynamicPlugins_EmptyMagicFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "broken")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MagicFile), []byte(" \n"), 0o644))

	m := newTestManager(t, NewRegistry())
	err := m.SearchDynamicPlugins(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty plugin magic file")
}

func TestActivateDynamicPlugins_RequestedOnly(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, filepath.Join(root, "alpha"), bundle{name: "Demo::Alpha", modules: 1})
	writeBundle(t, filepath.Join(root, "beta"), bundle{name: "Demo::Beta", modules: 1})

	reg := NewRegistry()
	var opened []string
	m := newTestManager(t, reg, WithOpener(bundleOpener(reg, nil, &opened)))
	require.NoError(t, m.SearchDynamicPlugins(root))
	m.RequestPlugin("demo::beta")

	require.NoError(t, m.ActivateDynamicPlugins(context.Background(), false))

	assert.Equal(t, []string{"Demo::Beta"}, names(m.ActivePlugins()))
	require.Len(t, opened, 1)
	inactive := m.InactivePlugins()
	require.Len(t, inactive, 1)
	assert.Equal(t, "Demo::Alpha", inactive[0].Name)

	infos := m.Info()
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Dynamic)
	assert.Equal(t, canonicalPath(filepath.Join(root, "beta")), infos[0].Dir)
	assert.Equal(t, opened[0], infos[0].Module)
}

func TestActivateDynamicPlugins_All(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, filepath.Join(root, "beta"), bundle{name: "Demo::Beta", modules: 1, script: true})
	writeBundle(t, filepath.Join(root, "alpha"), bundle{name: "Demo::Alpha", modules: 2})
	writeBundle(t, filepath.Join(root, "gamma"), bundle{name: "Demo::Gamma", script: true})

	reg := NewRegistry()
	compiled := &Base{PluginName: "Core::Builtin"}
	reg.Register(compiled)
	var opened []string
	m := newTestManager(t, reg, WithOpener(bundleOpener(reg, nil, &opened)))
	require.NoError(t, m.SearchDynamicPlugins(root))

	require.NoError(t, m.ActivateDynamicPlugins(context.Background(), true))

	assert.Equal(t, []string{"Core::Builtin", "Demo::Alpha", "Demo::Alpha", "Demo::Beta"}, names(m.ActivePlugins()))
	assert.Empty(t, m.InactivePlugins())
	assert.Equal(t, []string{
		filepath.Join(canonicalPath(filepath.Join(root, "beta")), "scripts", BundleScript),
		filepath.Join(canonicalPath(filepath.Join(root, "gamma")), "scripts", BundleScript),
	}, m.ScriptsToLoad())

	// A second pass does not reload active plugins.
	require.NoError(t, m.ActivateDynamicPlugins(context.Background(), true))
	assert.Len(t, opened, 3)
}

func TestActivateDynamicPlugins_ActivateList(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, filepath.Join(root, "alpha"), bundle{name: "Demo::Alpha", modules: 1})
	writeBundle(t, filepath.Join(root, "beta"), bundle{name: "Demo::Beta", modules: 1})

	reg := NewRegistry()
	var opened []string
	m := newTestManager(t, reg,
		WithOpener(bundleOpener(reg, nil, &opened)),
		WithActivateList([]string{" Demo::Alpha ", ""}),
	)
	require.NoError(t, m.SearchDynamicPlugins(root))
	require.NoError(t, m.ActivateDynamicPlugins(context.Background(), false))

	assert.Equal(t, []string{"Demo::Alpha"}, names(m.ActivePlugins()))
}

func TestActivateDynamicPlugins_NotAvailable(t *testing.T) {
	m := newTestManager(t, NewRegistry())
	m.RequestPlugin("Demo::Ghost")

	err := m.ActivateDynamicPlugins(context.Background(), false)
	var ae *ActivationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, []string{"plugin demo::ghost is not available"}, ae.Errors)
}

func TestActivateDynamicPlugins_Failures(t *testing.T) {
	tests := []struct {
		name    string
		bundle  bundle
		opener  func(reg *Registry) Opener
		wantErr string
	}{
		{
			name:   "open fails",
			bundle: bundle{name: "Demo::Bad", modules: 1},
			opener: func(*Registry) Opener {
				return func(string) error { return errors.New("undefined symbol") }
			},
			wantErr: "cannot load plugin library",
		},
		{
			name:   "no plugin registered",
			bundle: bundle{name: "Demo::Bad", modules: 1},
			opener: func(*Registry) Opener {
				return func(string) error { return nil }
			},
			wantErr: "did not instantiate a plugin",
		},
		{
			name:   "name mismatch",
			bundle: bundle{name: "Demo::Bad", modules: 1},
			opener: func(reg *Registry) Opener {
				return func(string) error {
					reg.Register(&Base{PluginName: "Demo::Other"})
					return nil
				}
			},
			wantErr: "inconsistent plugin name",
		},
		{
			name:    "nothing to load",
			bundle:  bundle{name: "Demo::Bad"},
			opener:  func(*Registry) Opener { return func(string) error { return nil } },
			wantErr: "no loadable module or scripts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeBundle(t, filepath.Join(root, "bad"), tt.bundle)

			reg := NewRegistry()
			m := newTestManager(t, reg, WithOpener(tt.opener(reg)))
			require.NoError(t, m.SearchDynamicPlugins(root))

			err := m.ActivateDynamicPlugins(context.Background(), true)
			var ae *ActivationError
			require.ErrorAs(t, err, &ae)
			require.Len(t, ae.Errors, 1)
			assert.Contains(t, ae.Errors[0], tt.wantErr)

			assert.Empty(t, m.ActivePlugins())
			assert.Empty(t, m.InactivePlugins())
			assert.Empty(t, m.ScriptsToLoad())
			assert.Nil(t, m.LookupPluginByPath(filepath.Join(root, "bad", "lib")))
		})
	}
}

func TestActivateDynamicPlugins_FirstFailureStopsPass(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, filepath.Join(root, "a"), bundle{name: "Demo::A", modules: 1})
	writeBundle(t, filepath.Join(root, "b"), bundle{name: "Demo::B", modules: 1})

	reg := NewRegistry()
	var opened []string
	m := newTestManager(t, reg, WithOpener(bundleOpener(reg, map[string]string{"a": "Demo::Wrong"}, &opened)))
	require.NoError(t, m.SearchDynamicPlugins(root))

	require.Error(t, m.ActivateDynamicPlugins(context.Background(), true))
	assert.Len(t, opened, 1)
	assert.Empty(t, m.ActivePlugins())

	inactive := m.InactivePlugins()
	require.Len(t, inactive, 1)
	assert.Equal(t, "Demo::B", inactive[0].Name)
}

func TestCandidateState_String(t *testing.T) {
	assert.Equal(t, "discovered", CandidateDiscovered.String())
	assert.Equal(t, "active", CandidateActive.String())
}

func TestActivateDynamicPlugins_ActivateListMissing(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, filepath.Join(root, "alpha"), bundle{name: "Demo::Alpha", modules: 1})

	reg := NewRegistry()
	var opened []string
	m := newTestManager(t, reg,
		WithOpener(bundleOpener(reg, nil, &opened)),
		WithActivateList([]string{"Not::There"}),
	)
	require.NoError(t, m.SearchDynamicPlugins(root))
	require.NoError(t, m.ActivateDynamicPlugins(context.Background(), true))
	assert.Equal(t, []string{"Demo::Alpha"}, names(m.ActivePlugins()))

	// an explicit request for the same name is still fatal
	m = newTestManager(t, NewRegistry(), WithActivateList([]string{"Not::There"}))
	m.RequestPlugin("Not::There")
	var ae *ActivationError
	require.ErrorAs(t, m.ActivateDynamicPlugins(context.Background(), false), &ae)
	assert.Equal(t, []string{"plugin not::there is not available"}, ae.Errors)
}
