package ircrelay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/netplug/internal/hooks"
	"github.com/soyeahso/netplug/internal/logging"
	"github.com/soyeahso/netplug/internal/plugin"
)

type sent struct{ target, text string }

type fakeSender struct {
	mu    sync.Mutex
	lines []sent
	err   error
	block chan struct{}
}

func (s *fakeSender) Message(target, text string) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, sent{target, text})
	return s.err
}

func (s *fakeSender) sent() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.lines...)
}

// muter suppresses every report.
type muter struct{ plugin.Base }

func (m *muter) HookReporter(plugin.Report) bool { return false }

func setup(t *testing.T, s Sender, events ...string) (*plugin.Manager, *Plugin) {
	t.Helper()
	reg := plugin.NewRegistry()
	p := New()
	p.Configure(s, []string{"#ops", "#noc"}, events, logging.Nop())
	reg.Register(p)

	m := plugin.NewManager(logging.Nop(), plugin.WithRegistry(reg))
	require.NoError(t, m.InitPreScript(context.Background()))
	return m, p
}

func TestDefaultIsRegistered(t *testing.T) {
	assert.Contains(t, plugin.DefaultRegistry().Plugins(), plugin.Plugin(Default))
}

func TestUnconfiguredDoesNotSubscribe(t *testing.T) {
	reg := plugin.NewRegistry()
	p := New()
	reg.Register(p)
	m := plugin.NewManager(logging.Nop(), plugin.WithRegistry(reg))

	require.NoError(t, m.InitPreScript(context.Background()))
	assert.False(t, p.Enabled())
	assert.False(t, m.HavePluginForHook(hooks.Reporter))
	assert.True(t, p.HookReporter(plugin.Report{Message: "ignored"}))
	assert.NoError(t, p.Done(context.Background()))
}

func TestRelaysToEveryChannel(t *testing.T) {
	s := &fakeSender{}
	m, p := setup(t, s)

	assert.Equal(t, []hooks.TypePriority{{Type: hooks.Reporter, Priority: Priority}}, m.HooksEnabledForPlugin(p))
	assert.True(t, m.HookReporter(plugin.Report{Prefix: "error", Event: "reporter_error", Message: "cannot load x.script"}))

	require.NoError(t, m.FinishPlugins(context.Background()))
	assert.Equal(t, []sent{
		{"#ops", "[reporter_error] error: cannot load x.script"},
		{"#noc", "[reporter_error] error: cannot load x.script"},
	}, s.sent())
	assert.Equal(t, 1, p.Relayed())
}

func TestEventFilter(t *testing.T) {
	s := &fakeSender{}
	m, p := setup(t, s, "reporter_error")

	m.HookReporter(plugin.Report{Event: "reporter_info", Message: "fine"})
	m.HookReporter(plugin.Report{Event: "reporter_error", Message: "broken"})

	require.NoError(t, m.FinishPlugins(context.Background()))
	require.Len(t, s.sent(), 2)
	assert.Equal(t, "[reporter_error] broken", s.sent()[0].text)
	assert.Equal(t, 1, p.Relayed())
}

func TestSuppressedReportsAreNotRelayed(t *testing.T) {
	s := &fakeSender{}
	reg := plugin.NewRegistry()
	p := New()
	p.Configure(s, []string{"#ops"}, nil, logging.Nop())
	mu := &muter{Base: plugin.Base{PluginName: "Test::Muter"}}
	reg.Register(p)
	reg.Register(mu)

	m := plugin.NewManager(logging.Nop(), plugin.WithRegistry(reg))
	require.NoError(t, m.EnableHook(hooks.Reporter, mu, 0))
	require.NoError(t, m.InitPreScript(context.Background()))

	assert.False(t, m.HookReporter(plugin.Report{Event: "reporter_warning", Message: "noise"}))
	require.NoError(t, m.FinishPlugins(context.Background()))
	assert.Empty(t, s.sent())
	assert.Zero(t, p.Relayed())
}

func TestFullQueueDrops(t *testing.T) {
	s := &fakeSender{block: make(chan struct{})}
	m, p := setup(t, s)

	// The sender goroutine holds at most one report while blocked.
	for range queueSize + 10 {
		assert.True(t, m.HookReporter(plugin.Report{Message: "flood"}))
	}
	assert.GreaterOrEqual(t, p.Dropped(), 9)
	assert.Equal(t, queueSize+10, p.Relayed()+p.Dropped())

	close(s.block)
	require.NoError(t, m.FinishPlugins(context.Background()))
	assert.Len(t, s.sent(), 2*p.Relayed())
}

func TestSendFailuresDoNotStopRelay(t *testing.T) {
	s := &fakeSender{err: errors.New("irc: not connected")}
	m, _ := setup(t, s)

	m.HookReporter(plugin.Report{Message: "one"})
	m.HookReporter(plugin.Report{Message: "two"})

	require.NoError(t, m.FinishPlugins(context.Background()))
	assert.Len(t, s.sent(), 4)
}

func TestDoneGivesUpOnCancelledContext(t *testing.T) {
	s := &fakeSender{block: make(chan struct{})}
	defer close(s.block)
	_, p := setup(t, s)

	p.HookReporter(plugin.Report{Message: "stuck"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Done(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFormatReport(t *testing.T) {
	assert.Equal(t, "plain", formatReport(plugin.Report{Message: "plain"}))
	assert.Equal(t, "[reporter_warning] warning: a b",
		formatReport(plugin.Report{Prefix: "warning", Event: "reporter_warning", Message: "a\nb"}))
}
