// Package ircrelay is a compiled-in plugin that relays reporter messages
// to IRC channels.
//
// Like hooktrace it registers itself on import and stays passive until
// Configure gives it a Sender.
package ircrelay

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/soyeahso/netplug/internal/hooks"
	"github.com/soyeahso/netplug/internal/logging"
	"github.com/soyeahso/netplug/internal/plugin"
)

// Name is the plugin's registered name.
const Name = "NetPlug::IRCRelay"

// Priority runs the relay after plugins that may suppress a report, so
// suppressed reports are never relayed.
const Priority = -100

// queueSize bounds the reports waiting to be sent.
const queueSize = 64

// Sender delivers one line to an IRC target.
type Sender interface {
	Message(target, text string) error
}

// Plugin relays reporter calls to IRC.
type Plugin struct {
	plugin.Base

	log      *logging.Logger
	sender   Sender
	channels []string
	events   []string

	queue   chan string
	wg      sync.WaitGroup
	relayed int
	dropped int
}

// Default is the instance registered with the process registry.
var Default = New()

func init() {
	plugin.Register(Default)
}

// New creates an unconfigured relay.
func New() *Plugin {
	return &Plugin{
		Base: plugin.Base{
			PluginName:        Name,
			PluginDescription: "Relays reporter messages to IRC",
			PluginVersion:     plugin.Version{Major: 1, Minor: 0},
		},
		log: logging.Nop(),
	}
}

// Configure turns the relay on. events restricts relaying to the named
// reporter events; empty relays everything. A nil sender turns it off.
// It must be called before the manager's pre-script stage.
func (p *Plugin) Configure(s Sender, channels, events []string, log *logging.Logger) {
	p.sender = s
	p.channels = channels
	p.events = events
	p.relayed, p.dropped = 0, 0
	if log != nil {
		p.log = log.Sub("ircrelay")
	}
}

// Enabled reports whether a sender is configured.
func (p *Plugin) Enabled() bool { return p.sender != nil && len(p.channels) > 0 }

// Relayed returns how many reports were handed to the sender.
func (p *Plugin) Relayed() int { return p.relayed }

// Dropped returns how many reports were discarded because the queue was full.
func (p *Plugin) Dropped() int { return p.dropped }

// InitPreScript subscribes to the Reporter hook and starts the sender
// goroutine when the relay is configured.
func (p *Plugin) InitPreScript(_ context.Context, m *plugin.Manager) error {
	if !p.Enabled() {
		return nil
	}
	if err := m.EnableHook(hooks.Reporter, p, Priority); err != nil {
		return fmt.Errorf("enable %s: %w", hooks.Reporter, err)
	}

	p.queue = make(chan string, queueSize)
	p.wg.Add(1)
	go p.run(p.queue)

	p.log.Info().Strs("channels", p.channels).Msg("reporter relay enabled")
	return nil
}

// HookReporter implements plugin.ReporterHook. It never suppresses a report.
func (p *Plugin) HookReporter(r plugin.Report) bool {
	if p.queue == nil || !p.wants(r.Event) {
		return true
	}
	select {
	case p.queue <- formatReport(r):
		p.relayed++
	default:
		p.dropped++
	}
	return true
}

func (p *Plugin) wants(event string) bool {
	return len(p.events) == 0 || slices.Contains(p.events, event)
}

func (p *Plugin) run(queue <-chan string) {
	defer p.wg.Done()
	failed := false
	for line := range queue {
		for _, target := range p.channels {
			if err := p.sender.Message(target, line); err != nil && !failed {
				failed = true
				p.log.Warn().Err(err).Str("to", target).Msg("relay message failed")
			}
		}
	}
}

// Done flushes queued reports. It gives up when ctx ends.
func (p *Plugin) Done(ctx context.Context) error {
	if p.queue == nil {
		return nil
	}
	close(p.queue)
	p.queue = nil

	flushed := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-ctx.Done():
		select {
		case <-flushed:
		default:
			return fmt.Errorf("flush reporter relay: %w", ctx.Err())
		}
	}

	p.log.Info().Int("relayed", p.relayed).Int("dropped", p.dropped).Msg("reporter relay finished")
	return nil
}

// formatReport renders r as a single IRC line.
func formatReport(r plugin.Report) string {
	var b strings.Builder
	if r.Event != "" {
		b.WriteString("[" + r.Event + "] ")
	}
	if r.Prefix != "" {
		b.WriteString(r.Prefix + ": ")
	}
	b.WriteString(strings.ReplaceAll(r.Message, "\n", " "))
	return b.String()
}
