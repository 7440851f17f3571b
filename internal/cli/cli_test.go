package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/netplug/internal/hooks"
	"github.com/soyeahso/netplug/internal/plugin"
)

// loadWatcher is a compiled-in plugin that observes script loads.
type loadWatcher struct {
	plugin.Base
}

func (w *loadWatcher) InitPreScript(_ context.Context, m *plugin.Manager) error {
	return m.EnableHook(hooks.LoadFile, w, 0)
}

func (w *loadWatcher) HookLoadFile(plugin.LoadType, string, string) plugin.LoadResult {
	return plugin.LoadNotHandled
}

func init() {
	plugin.Register(&loadWatcher{Base: plugin.Base{
		PluginName:        "Test::LoadWatcher",
		PluginDescription: "watches script loads",
	}})
}

// execute runs the root command against a private home directory.
func execute(t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	return executeContext(context.Background(), t, home, args...)
}

func executeContext(ctx context.Context, t *testing.T, home string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("NETPLUG_HOME", home)
	t.Setenv("NETPLUG_LOG_LEVEL", "silent")
	t.Setenv("NETPLUG_PLUGIN_PATH", "")
	t.Setenv("NETPLUG_TRACE", "")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func writeScript(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("event netplug_init() {}\n"), 0o644))
	return path
}

// writeConfig stores a config file without going through validation.
func writeConfig(t *testing.T, home, yaml string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(yaml), 0o600))
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "netplug")
}

func TestConfigSetGetShow(t *testing.T) {
	home := t.TempDir()

	out, err := execute(t, home, "config", "set", "trace.store", "sqlite")
	require.NoError(t, err)
	assert.Contains(t, out, "Set trace.store = sqlite")

	out, err = execute(t, home, "config", "get", "trace.store")
	require.NoError(t, err)
	assert.Equal(t, "sqlite\n", out)

	out, err = execute(t, home, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "store: sqlite")

	out, err = execute(t, home, "config", "unset", "trace.store")
	require.NoError(t, err)
	assert.Contains(t, out, "Unset trace.store")

	_, err = execute(t, home, "config", "get", "trace.store")
	assert.Error(t, err)

	out, err = execute(t, home, "config", "get", "--effective", "trace.store")
	require.NoError(t, err)
	assert.Equal(t, "log\n", out)
}

func TestConfigSetLists(t *testing.T) {
	home := t.TempDir()

	_, err := execute(t, home, "config", "set", "plugins.activate", "Demo::A,Demo::B")
	require.NoError(t, err)

	out, err := execute(t, home, "config", "get", "plugins.activate")
	require.NoError(t, err)
	assert.Equal(t, "- Demo::A\n- Demo::B\n", out)
}

func TestConfigSetRejectsInvalid(t *testing.T) {
	home := t.TempDir()

	_, err := execute(t, home, "config", "set", "trace.store", "kafka")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trace.store")

	_, err = execute(t, home, "config", "get", "trace.store")
	assert.Error(t, err)
}

func TestStatusCmd(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "trace:\n  store: kafka\n")

	out, err := execute(t, home, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Plugins: path="+filepath.Join(home, "plugins"))
	assert.Contains(t, out, "Trace:   (disabled)")
	assert.Contains(t, out, "Gateway: (disabled)")
	assert.Contains(t, out, "Relay:   (disabled)")
	assert.Contains(t, out, "trace.store")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "trace:\n  store: kafka\n")

	_, err := execute(t, home, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestRunCmd(t *testing.T) {
	home := t.TempDir()
	script := writeScript(t, t.TempDir(), "site.script")

	out, err := execute(t, home, "run", script, "--event", "connection_established", "--conn", "C1")
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded:      "+script)
	assert.Contains(t, out, "Queued:      connection_established")
	assert.Contains(t, out, "Connection:  C1")
	assert.NotContains(t, out, "Metrics:")
}

func TestRunCmd_Metrics(t *testing.T) {
	home := t.TempDir()
	_, err := execute(t, home, "config", "set", "metrics.enabled", "true")
	require.NoError(t, err)
	script := writeScript(t, t.TempDir(), "site.script")

	out, err := execute(t, home, "run", script)
	require.NoError(t, err)
	assert.Contains(t, out, "Metrics:")
	assert.Contains(t, out, `netplug_hook_dispatch_total{hook="LoadFile"} 1`)
	assert.Contains(t, out, `netplug_hook_calls_total{hook="LoadFile"} 1`)
}

func TestRunCmd_TraceToSQLite(t *testing.T) {
	home := t.TempDir()
	_, err := execute(t, home, "config", "set", "trace.store", "sqlite")
	require.NoError(t, err)
	script := writeScript(t, t.TempDir(), "site.script")

	_, err = execute(t, home, "run", "--trace", script)
	require.NoError(t, err)

	out, err := execute(t, home, "trace", "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "Test::LoadWatcher")
	assert.Contains(t, out, "2 records")

	out, err = execute(t, home, "trace", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "pre  LoadFile(")
	assert.Contains(t, out, "site.script")

	out, err = execute(t, home, "trace", "search", "LoadFile")
	require.NoError(t, err)
	assert.Contains(t, out, "LoadFile")

	_, err = execute(t, home, "trace", "delete", "no-such-run")
	assert.Error(t, err)
}

func TestTraceShow_NoRuns(t *testing.T) {
	_, err := execute(t, t.TempDir(), "trace", "show")
	require.Error(t, err)
}

func TestPluginsCmd(t *testing.T) {
	home := t.TempDir()
	bundle := filepath.Join(home, "plugins", "demo")
	require.NoError(t, os.MkdirAll(filepath.Join(bundle, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bundle, plugin.MagicFile), []byte("Demo::Hello\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(bundle, "scripts", plugin.BundleScript), nil, 0o644))

	out, err := execute(t, home, "plugins", "--bare", "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "Test::LoadWatcher - watches script loads (built-in)")
	assert.Contains(t, out, "NetPlug::HookTrace")
	assert.Contains(t, out, "Demo::Hello (discovered, ")
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, false, parseValue("FALSE"))
	assert.Equal(t, 42, parseValue("42"))
	assert.Equal(t, 1.5, parseValue("1.5"))
	assert.Equal(t, "sqlite", parseValue("sqlite"))
	assert.Equal(t, []any{"Demo::A", 2}, parseValue("Demo::A, 2,"))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestRunCmd_Gateway(t *testing.T) {
	home := t.TempDir()
	script := writeScript(t, t.TempDir(), "site.script")
	addr := freeAddr(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop the command once the gateway reports the finished run.
	states := make(chan string, 1)
	go func() {
		defer cancel()
		for ctx.Err() == nil {
			resp, err := http.Get("http://" + addr + "/health")
			if err == nil {
				var h struct {
					State string `json:"state"`
				}
				_ = json.NewDecoder(resp.Body).Decode(&h)
				resp.Body.Close()
				if h.State == "finished" {
					states <- h.State
					return
				}
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	out, err := executeContext(ctx, t, home, "run", script, "--listen", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded:      "+script)
	assert.Contains(t, out, "Serving run state on "+addr)

	select {
	case state := <-states:
		assert.Equal(t, "finished", state)
	default:
		t.Fatal("gateway never reported the finished run")
	}
}
