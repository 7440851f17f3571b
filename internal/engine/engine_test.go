package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/netplug/internal/hooks"
	"github.com/soyeahso/netplug/internal/logging"
	"github.com/soyeahso/netplug/internal/plugin"
)

// analyzerPlugin subscribes to everything the engine calls.
type analyzerPlugin struct {
	plugin.Base
	m *plugin.Manager

	netTime   float64
	drained   int
	destroyed []string
	reports   []string
	logInits  int
	preErr    error
}

func (p *analyzerPlugin) InitPreScript(_ context.Context, m *plugin.Manager) error {
	if p.preErr != nil {
		return p.preErr
	}
	p.m = m
	for _, t := range []hooks.Type{
		hooks.LoadFile, hooks.CallFunction, hooks.QueueEvent, hooks.DrainEvents,
		hooks.UpdateNetworkTime, hooks.ObjectDestroy, hooks.SetupAnalyzerTree,
		hooks.LogInit, hooks.LogWrite, hooks.Reporter,
	} {
		if err := m.EnableHook(t, p, 0); err != nil {
			return err
		}
	}
	return nil
}

func (p *analyzerPlugin) HookLoadFile(_ plugin.LoadType, file, _ string) plugin.LoadResult {
	switch filepath.Base(file) {
	case "handled.script":
		return plugin.LoadOK
	case "broken.script":
		return plugin.LoadFailed
	}
	return plugin.LoadNotHandled
}

func (p *analyzerPlugin) HookCallFunction(f plugin.Func, _ plugin.Frame, _ *plugin.Args) (bool, plugin.Val) {
	return f.Name() == InitFunction, nil
}

func (p *analyzerPlugin) HookQueueEvent(ev plugin.Event) bool {
	return ev.Name() == "plugin_event"
}

func (p *analyzerPlugin) HookDrainEvents() { p.drained++ }

func (p *analyzerPlugin) HookUpdateNetworkTime(t float64) { p.netTime = t }

func (p *analyzerPlugin) HookObjectDestroy(obj any) {
	p.destroyed = append(p.destroyed, obj.(*Connection).UID)
}

func (p *analyzerPlugin) HookSetupAnalyzerTree(conn plugin.Connection) {
	c := conn.(*Connection)
	c.Analyzers = append(c.Analyzers, "HTTP")
	if c.UID == "C1" {
		p.m.RequestObjectDestroy(c, p)
	}
}

func (p *analyzerPlugin) HookLogInit(string, string, bool, bool, plugin.WriterInfo, []plugin.Field) {
	p.logInits++
}

func (p *analyzerPlugin) HookLogWrite(_, _ string, _ plugin.WriterInfo, _ []plugin.Field, vals []plugin.Value) bool {
	return filepath.Base(vals[0].(string)) != "quiet.script"
}

func (p *analyzerPlugin) HookReporter(r plugin.Report) bool {
	p.reports = append(p.reports, r.Message)
	return false
}

func newEngine(t *testing.T, plugins ...plugin.Plugin) (*Engine, *plugin.Manager) {
	t.Helper()
	reg := plugin.NewRegistry()
	for _, p := range plugins {
		reg.Register(p)
	}
	log := logging.New(io.Discard, "silent")
	m := plugin.NewManager(log, plugin.WithRegistry(reg))
	return New(m, log), m
}

func writeScripts(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	var out []string
	for _, n := range names {
		path := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(path, []byte("event zero() {}\n"), 0o644))
		out = append(out, path)
	}
	return out
}

func TestRun_WithoutPlugins(t *testing.T) {
	e, m := newEngine(t)
	scripts := writeScripts(t, "a.script")
	scripts = append(scripts, filepath.Join(t.TempDir(), "missing.script"))

	rep, err := e.Run(context.Background(), Options{Scripts: scripts, Events: []string{"zero"}})
	require.NoError(t, err)

	assert.Equal(t, scripts[:1], rep.Loaded)
	assert.Equal(t, scripts[1:], rep.Failed)
	assert.Equal(t, []string{"zero"}, rep.Queued)
	assert.False(t, rep.InitHandled)
	assert.Equal(t, 1, rep.LogLines)
	assert.Equal(t, plugin.StateFinished, m.State())
}

func TestRun_ExercisesEveryHook(t *testing.T) {
	p := &analyzerPlugin{Base: plugin.Base{PluginName: "Test::Analyzer"}}
	e, m := newEngine(t, p)
	scripts := writeScripts(t, "a.script", "quiet.script")
	scripts = append(scripts, "handled.script", "broken.script")

	rep, err := e.Run(context.Background(), Options{
		Scripts:     scripts,
		NetworkTime: 1700000000.5,
		Events:      []string{"plugin_event", "engine_event"},
		Connections: []string{"C1", "C2"},
	})
	require.NoError(t, err)

	assert.Equal(t, scripts[:2], rep.Loaded)
	assert.Equal(t, []string{"handled.script"}, rep.Handled)
	assert.Equal(t, []string{"broken.script"}, rep.Failed)
	assert.Equal(t, []string{"plugin_event"}, rep.Claimed)
	assert.Equal(t, []string{"engine_event"}, rep.Queued)
	assert.True(t, rep.InitHandled)
	assert.Equal(t, 2, rep.LogLines)
	assert.Equal(t, 1, rep.Suppressed)
	require.Len(t, rep.Connections, 2)
	assert.Equal(t, []string{"HTTP"}, rep.Connections[0].Analyzers)

	assert.Equal(t, 1700000000.5, p.netTime)
	assert.Equal(t, 1, p.drained)
	assert.Equal(t, 1, p.logInits)
	assert.Equal(t, []string{"C1"}, p.destroyed)
	assert.Equal(t, []string{"plugin failed to load broken.script"}, p.reports)
	assert.Equal(t, plugin.StateFinished, m.State())
}

func TestRun_LoadsBundleScriptsAfterUserScripts(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "bundle")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, plugin.MagicFile), []byte("Demo::Scripts"), 0o644))
	bundleScript := filepath.Join(dir, "scripts", plugin.BundleScript)
	require.NoError(t, os.WriteFile(bundleScript, []byte("# load\n"), 0o644))

	e, m := newEngine(t)
	require.NoError(t, m.SearchDynamicPlugins(root))
	require.NoError(t, m.ActivateDynamicPlugins(context.Background(), true))

	scripts := writeScripts(t, "user.script")
	rep, err := e.Run(context.Background(), Options{Scripts: scripts})
	require.NoError(t, err)
	require.Len(t, rep.Loaded, 2)
	assert.Equal(t, scripts[0], rep.Loaded[0])
	assert.Equal(t, "__load__.script", filepath.Base(rep.Loaded[1]))
}

func TestRun_StartupFailureStillFinishes(t *testing.T) {
	p := &analyzerPlugin{Base: plugin.Base{PluginName: "Test::Broken"}, preErr: errors.New("bad config")}
	e, m := newEngine(t, p)

	_, err := e.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, p.preErr)
	assert.Equal(t, plugin.StateFinished, m.State())
}

func TestRun_Canceled(t *testing.T) {
	e, _ := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := e.Run(ctx, Options{Events: []string{"a"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rep.Queued)
}

func TestRun_OnRunningSeesRunningState(t *testing.T) {
	e, m := newEngine(t)
	var seen plugin.State
	calls := 0

	_, err := e.Run(context.Background(), Options{OnRunning: func() {
		calls++
		seen = m.State()
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, plugin.StateRunning, seen)
}
