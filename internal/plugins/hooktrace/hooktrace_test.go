package hooktrace

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/netplug/internal/hooks"
	"github.com/soyeahso/netplug/internal/logging"
	"github.com/soyeahso/netplug/internal/plugin"
	"github.com/soyeahso/netplug/internal/store"
)

type memRecorder struct {
	recs   []Record
	err    error
	closed bool
}

func (r *memRecorder) Record(rec Record) error {
	if r.err != nil {
		return r.err
	}
	r.recs = append(r.recs, rec)
	return nil
}

func (r *memRecorder) Close() error {
	r.closed = true
	return nil
}

type event string

func (e event) Name() string { return string(e) }

// queuer claims every event.
type queuer struct{ plugin.Base }

func (q *queuer) HookQueueEvent(plugin.Event) bool { return true }

func (q *queuer) HookDrainEvents() {}

func setup(t *testing.T, rec Recorder, only ...hooks.Type) (*plugin.Manager, *Plugin) {
	t.Helper()
	log := logging.New(io.Discard, "silent")
	reg := plugin.NewRegistry()
	p := New()
	p.Configure(rec, log, only...)
	q := &queuer{Base: plugin.Base{PluginName: "Test::Queuer"}}
	reg.Register(p)
	reg.Register(q)
	reg.RegisterBif(Name, initBifs)

	m := plugin.NewManager(log, plugin.WithRegistry(reg))
	require.NoError(t, m.EnableHook(hooks.QueueEvent, q, 0))
	require.NoError(t, m.EnableHook(hooks.DrainEvents, q, 0))
	require.NoError(t, m.InitPreScript(context.Background()))
	return m, p
}

func TestDefaultIsRegistered(t *testing.T) {
	assert.Contains(t, plugin.DefaultRegistry().Plugins(), plugin.Plugin(Default))
	assert.Len(t, plugin.DefaultRegistry().BifInits(Name), 1)
}

func TestUnconfiguredDoesNotSubscribe(t *testing.T) {
	reg := plugin.NewRegistry()
	p := New()
	reg.Register(p)
	m := plugin.NewManager(logging.Nop(), plugin.WithRegistry(reg))

	require.NoError(t, m.InitPreScript(context.Background()))
	assert.False(t, p.Enabled())
	assert.False(t, m.HavePluginForHook(hooks.MetaHookPre))
	assert.NoError(t, p.Done(context.Background()))
}

func TestTracesDispatch(t *testing.T) {
	rec := &memRecorder{}
	m, p := setup(t, rec)

	assert.Equal(t, []hooks.TypePriority{
		{Type: hooks.MetaHookPre, Priority: Priority},
		{Type: hooks.MetaHookPost, Priority: Priority},
	}, m.HooksEnabledForPlugin(p))

	assert.True(t, m.HookQueueEvent(event("http_request")))

	require.Len(t, rec.recs, 2)
	pre, post := rec.recs[0], rec.recs[1]
	assert.Equal(t, 1, pre.Seq)
	assert.Equal(t, PhasePre, pre.Phase)
	assert.Equal(t, "QueueEvent", pre.Hook)
	assert.Equal(t, "(http_request)", pre.Args)
	assert.Empty(t, pre.Result)
	assert.Equal(t, 2, post.Seq)
	assert.Equal(t, PhasePost, post.Phase)
	assert.Equal(t, "true", post.Result)
	assert.Equal(t, 2, p.Records())

	require.NoError(t, m.FinishPlugins(context.Background()))
	assert.True(t, rec.closed)
}

func TestTracesOnlySelectedHooks(t *testing.T) {
	rec := &memRecorder{}
	m, _ := setup(t, rec, hooks.DrainEvents)

	m.HookQueueEvent(event("ignored"))
	m.HookDrainEvents()

	require.Len(t, rec.recs, 2)
	assert.Equal(t, "DrainEvents", rec.recs[0].Hook)
	assert.Equal(t, "()", rec.recs[0].Args)
	assert.Equal(t, "<void>", rec.recs[1].Result)
}

func TestRecorderFailuresAreCounted(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	m, p := setup(t, rec)

	m.HookDrainEvents()
	m.HookDrainEvents()
	assert.Equal(t, 0, p.Records())
	assert.Equal(t, 4, p.failures)
}

func TestBifItems(t *testing.T) {
	m, _ := setup(t, &memRecorder{})
	require.NoError(t, m.InitBifs(context.Background()))

	for _, info := range m.Info() {
		if info.Name != Name {
			continue
		}
		assert.Equal(t, []string{"[bif set] HookTrace"}, info.Components)
		assert.Contains(t, info.Bifs, plugin.BifItem{ID: "HookTrace::hook_traced", Kind: plugin.BifEvent})
		assert.Len(t, info.Bifs, 3)
		return
	}
	t.Fatal("hooktrace missing from plugin info")
}

func TestStoreRecorder(t *testing.T) {
	db, err := store.Open(":memory:", logging.New(io.Discard, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ts := store.NewTraceStore(db)

	rec, err := NewStoreRecorder(ts, []string{Name})
	require.NoError(t, err)
	require.NotEmpty(t, rec.RunID())

	m, _ := setup(t, rec)
	m.HookQueueEvent(event("dns_reply"))
	require.NoError(t, m.FinishPlugins(context.Background()))

	recs, err := ts.Records(rec.RunID())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "QueueEvent", recs[0].Hook)
	assert.Equal(t, "(dns_reply)", recs[0].Args)

	runs, err := ts.Runs(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].FinishedAt.IsZero())
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec := NewLogRecorder(logging.New(&buf, "debug"))
	require.NoError(t, rec.Record(Record{Seq: 3, Phase: PhasePost, Hook: "LoadFile", Args: "()", Result: "1"}))

	assert.Contains(t, buf.String(), `"subsystem":"trace"`)
	assert.Contains(t, buf.String(), `"hook":"LoadFile"`)
	assert.Contains(t, buf.String(), `"result":"1"`)
}

func TestTee(t *testing.T) {
	failing := &memRecorder{err: errors.New("disk full")}
	ok := &memRecorder{}
	tee := Tee{failing, ok}

	err := tee.Record(Record{Seq: 1, Phase: PhasePre, Hook: "DrainEvents"})
	assert.ErrorContains(t, err, "disk full")
	require.Len(t, ok.recs, 1)

	require.NoError(t, tee.Close())
	assert.True(t, failing.closed)
	assert.True(t, ok.closed)
}

func TestConfigureResetsCounters(t *testing.T) {
	rec := &memRecorder{}
	m, p := setup(t, rec)
	m.HookQueueEvent(event("x"))
	require.Equal(t, 2, p.Records())

	p.Configure(&memRecorder{}, nil)
	assert.Equal(t, 0, p.Records())
}
