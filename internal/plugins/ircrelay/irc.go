package ircrelay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/girc"
	"github.com/soyeahso/netplug/internal/config"
	"github.com/soyeahso/netplug/internal/logging"
	"github.com/soyeahso/netplug/internal/version"
)

// ErrNotConnected is returned when sending before the connection is up.
var ErrNotConnected = errors.New("irc: not connected")

// connectTimeout bounds how long Dial waits for registration.
const connectTimeout = 15 * time.Second

// maxLineLen keeps PRIVMSG lines under the 512 byte IRC limit.
const maxLineLen = 400

// Conn is an outbound-only IRC connection that joins the configured
// channels. It implements Sender.
type Conn struct {
	cfg    config.IRCConfig
	client *girc.Client
	log    *logging.Logger

	mu      sync.RWMutex
	ready   chan struct{}
	joined  bool
	lastErr string
}

// NewConn creates an unconnected Conn.
func NewConn(cfg config.IRCConfig, log *logging.Logger) *Conn {
	c := &Conn{
		cfg:   cfg,
		log:   log.Sub("irc"),
		ready: make(chan struct{}),
	}
	c.client = girc.New(c.clientConfig())
	c.client.Handlers.Add(girc.CONNECTED, c.onConnected)
	c.client.Handlers.Add(girc.DISCONNECTED, c.onDisconnected)
	return c
}

// Dial connects to the server and waits until the channels are joined.
func Dial(ctx context.Context, cfg config.IRCConfig, log *logging.Logger) (*Conn, error) {
	c := NewConn(cfg, log)
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) port() int {
	if c.cfg.Port != 0 {
		return c.cfg.Port
	}
	if c.cfg.UseTLS {
		return 6697
	}
	return 6667
}

func (c *Conn) clientConfig() girc.Config {
	gc := girc.Config{
		Server:  c.cfg.Server,
		Port:    c.port(),
		Nick:    c.cfg.Nick,
		User:    c.cfg.Nick,
		Name:    "netplug reporter relay",
		SSL:     c.cfg.UseTLS,
		Version: version.UserAgent(),
	}
	if c.cfg.UseTLS {
		gc.TLSConfig = &tls.Config{ServerName: c.cfg.Server}
	}
	if c.cfg.SASL && c.cfg.Password != "" {
		gc.SASL = &girc.SASLPlain{User: c.cfg.Nick, Pass: c.cfg.Password}
	} else if c.cfg.Password != "" {
		gc.ServerPass = c.cfg.Password
	}
	return gc
}

// Start connects in the background and returns once registration
// completed, the connection failed, or ctx ended.
func (c *Conn) Start(ctx context.Context) error {
	c.log.Info().
		Str("server", c.cfg.Server).
		Int("port", c.port()).
		Str("nick", c.cfg.Nick).
		Strs("channels", c.cfg.Channels).
		Bool("tls", c.cfg.UseTLS).
		Msg("connecting to IRC")

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.client.Connect()
	}()

	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()

	select {
	case <-c.ready:
		return nil
	case err := <-errCh:
		if err == nil {
			err = errors.New("connection closed during registration")
		}
		c.setErr(err)
		return fmt.Errorf("irc connect: %w", err)
	case <-timer.C:
		c.client.Close()
		return fmt.Errorf("irc connect: no registration after %s", connectTimeout)
	case <-ctx.Done():
		c.client.Close()
		return ctx.Err()
	}
}

// Connected reports whether the channels were joined and the connection
// is still up.
func (c *Conn) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.joined && c.client.IsConnected()
}

// LastError returns the last connection error, if any.
func (c *Conn) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Message sends text to target, one PRIVMSG per line.
func (c *Conn) Message(target, text string) error {
	if target == "" {
		return errors.New("irc: no target specified")
	}
	if !c.Connected() {
		return ErrNotConnected
	}
	for _, line := range splitMessage(text, maxLineLen) {
		c.client.Cmd.Message(target, line)
	}
	return nil
}

// Close quits the server.
func (c *Conn) Close() error {
	if c.client.IsConnected() {
		c.log.Info().Msg("disconnecting from IRC")
		c.client.Quit("netplug finished")
	}
	c.client.Close()
	return nil
}

func (c *Conn) onConnected(_ *girc.Client, _ girc.Event) {
	c.log.Info().Str("nick", c.client.GetNick()).Msg("connected to IRC")
	for _, ch := range c.cfg.Channels {
		c.client.Cmd.Join(ch)
		c.log.Debug().Str("channel", ch).Msg("joined channel")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined {
		c.joined = true
		close(c.ready)
	}
}

func (c *Conn) onDisconnected(_ *girc.Client, _ girc.Event) {
	c.log.Warn().Msg("disconnected from IRC")
}

func (c *Conn) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

// splitMessage breaks text into IRC-sized lines. Each newline starts a new
// line and lines longer than maxLen are cut at maxLen bytes. Empty lines
// are dropped.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		for len(line) > maxLen {
			chunks = append(chunks, line[:maxLen])
			line = line[maxLen:]
		}
		if line != "" {
			chunks = append(chunks, line)
		}
	}
	return chunks
}
