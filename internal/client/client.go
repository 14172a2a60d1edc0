// Package client implements provider.Provider over a framed transport: it
// keeps the server link alive, multiplexes channel subscriptions and feeds
// updates into per-monitor queues.
package client

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pvmon/pvmon/internal/bus"
	"github.com/pvmon/pvmon/internal/events"
	"github.com/pvmon/pvmon/internal/protocol"
	"github.com/pvmon/pvmon/internal/provider"
	"github.com/pvmon/pvmon/internal/transport"
)

var ErrOutboxFull = errors.New("outbox full")

type Config struct {
	QueueSize        int
	OutboxSize       int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	KeepAlive        time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:        provider.DefaultQueueSize,
		OutboxSize:       128,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     6 * time.Second,
		HandshakeTimeout: 6 * time.Second,
		KeepAlive:        10 * time.Second,
		MinBackoff:       time.Second,
		MaxBackoff:       15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = def.OutboxSize
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = def.KeepAlive
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = def.MinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = c.MinBackoff
	}
	return c
}

type outbound struct {
	kind    protocol.MessageType
	name    string
	payload []byte
}

type Client struct {
	logger    *slog.Logger
	transport transport.Transport
	codec     protocol.Codec
	bus       bus.MessageBus
	cfg       Config
	clientID  string

	outbox chan outbound
	nextID atomic.Uint32
	wg     sync.WaitGroup

	mu       sync.Mutex
	channels map[string]*channel
	byID     map[uint32]*channel
	linkUp   bool
}

func New(logger *slog.Logger, b bus.MessageBus, tr transport.Transport, codec protocol.Codec, cfg Config) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Client{
		logger:    logger.With("component", "client"),
		transport: tr,
		codec:     codec,
		bus:       b,
		cfg:       cfg,
		clientID:  uuid.NewString(),
		outbox:    make(chan outbound, cfg.OutboxSize),
		channels:  make(map[string]*channel),
		byID:      make(map[uint32]*channel),
	}
}

func (c *Client) ClientID() string { return c.clientID }

// Start runs the connector and outbox loops until ctx is done.
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.runOutbox(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.runConnector(ctx)
	}()
}

// Wait blocks until the loops started by Start have returned.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) LinkUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.linkUp
}

// Channel returns the channel for name, subscribing on first use.
func (c *Client) Channel(name string) (provider.Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("channel name is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channels[name]; ok {
		return ch, nil
	}
	ch := &channel{client: c, name: name, id: c.nextID.Add(1)}
	c.channels[name] = ch
	c.byID[ch.id] = ch
	if c.linkUp {
		c.enqueueSubscribe(ch)
	}
	return ch, nil
}

// release drops ch once its last monitor is gone.
func (c *Client) release(ch *channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channels[ch.name] != ch {
		return
	}
	delete(c.channels, ch.name)
	delete(c.byID, ch.id)
	if !c.linkUp {
		return
	}
	payload, err := c.codec.EncodeUnsubscribe(ch.id, ch.name)
	if err != nil {
		c.logger.Warn("encode unsubscribe failed", "pv", ch.name, "error", err)
		return
	}
	_ = c.enqueue(outbound{kind: protocol.TypeUnsubscribe, name: ch.name, payload: payload})
}

// enqueueSubscribe must be called with c.mu held.
func (c *Client) enqueueSubscribe(ch *channel) {
	payload, err := c.codec.EncodeSubscribe(ch.id, ch.name)
	if err != nil {
		c.logger.Warn("encode subscribe failed", "pv", ch.name, "error", err)
		return
	}
	if err := c.enqueue(outbound{kind: protocol.TypeSubscribe, name: ch.name, payload: payload}); err != nil {
		c.logger.Warn("subscribe dropped", "pv", ch.name, "error", err)
	}
}

func (c *Client) put(ch *channel, field string, value any) error {
	payload, err := c.codec.EncodePut(ch.id, ch.name, field, value)
	if err != nil {
		return fmt.Errorf("encode put: %w", err)
	}
	return c.enqueue(outbound{kind: protocol.TypePut, name: ch.name, payload: payload})
}

func (c *Client) enqueue(msg outbound) error {
	select {
	case c.outbox <- msg:
		return nil
	default:
		return ErrOutboxFull
	}
}

func (c *Client) runOutbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.outbox:
			if err := c.writeFrame(ctx, msg.payload); err != nil {
				c.logger.Warn("outbound frame dropped", "type", msg.kind, "pv", msg.name, "error", err)
			}
		}
	}
}

func (c *Client) writeFrame(ctx context.Context, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	if err := c.transport.WriteFrame(writeCtx, payload); err != nil {
		return err
	}
	c.publish(events.TopicRawFrameOut, rawFrame(payload))
	return nil
}

func (c *Client) runConnector(ctx context.Context) {
	backoff := c.cfg.MinBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		c.publishConnStatus(events.ConnectionStateConnecting, nil)
		if err := c.connect(ctx); err != nil {
			c.logger.Error("connect failed", "error", err)
			c.publishConnStatus(events.ConnectionStateReconnecting, err)
			if !sleepWithContext(ctx, backoff) {
				return
			}
			backoff = c.nextBackoff(backoff)
			continue
		}

		backoff = c.cfg.MinBackoff
		c.setLink(true)
		c.publishConnStatus(events.ConnectionStateConnected, nil)

		keepAliveCtx, cancelKeepAlive := context.WithCancel(ctx)
		go c.runKeepAlive(keepAliveCtx)
		err := c.runReader(ctx)
		cancelKeepAlive()

		c.setLink(false)
		_ = c.transport.Close()
		if ctx.Err() != nil {
			c.publishConnStatus(events.ConnectionStateDisconnected, nil)
			return
		}
		c.logger.Warn("link lost", "error", err)
		c.publishConnStatus(events.ConnectionStateReconnecting, err)
		if !sleepWithContext(ctx, backoff) {
			return
		}
		backoff = c.nextBackoff(backoff)
	}
}

func (c *Client) nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	return d
}

// connect opens the transport and performs the hello/welcome exchange.
func (c *Client) connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	if err := c.handshake(ctx); err != nil {
		_ = c.transport.Close()
		return fmt.Errorf("handshake: %w", err)
	}
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	hello, err := c.codec.EncodeHello(c.clientID)
	if err != nil {
		return err
	}
	if err := c.writeFrame(ctx, hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	hsCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()
	for {
		payload, err := c.transport.ReadFrame(hsCtx)
		if err != nil {
			return fmt.Errorf("await welcome: %w", err)
		}
		c.publish(events.TopicRawFrameIn, rawFrame(payload))
		msg, err := c.codec.Decode(payload)
		if err != nil {
			c.logger.Warn("decode failed during handshake", "error", err)
			continue
		}
		switch msg.Type {
		case protocol.TypeWelcome:
			if err := protocol.CheckVersion(msg.Version); err != nil {
				return err
			}
			c.logger.Info("server accepted session", "server_version", msg.Version)
			return nil
		case protocol.TypeError:
			return fmt.Errorf("server refused session: %s", msg.Error)
		default:
			c.logger.Debug("ignoring message before welcome", "type", msg.Type)
		}
	}
}

func (c *Client) runReader(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		readCtx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
		payload, err := c.transport.ReadFrame(readCtx)
		cancel()
		if err != nil {
			return err
		}

		c.publish(events.TopicRawFrameIn, rawFrame(payload))
		msg, err := c.codec.Decode(payload)
		if err != nil {
			c.logger.Warn("decode failed", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeUpdate:
		if ch := c.lookup(msg); ch != nil {
			ch.deliver(msg.Structure())
		}
	case protocol.TypeConn:
		if ch := c.lookup(msg); ch != nil {
			ch.setConnected(msg.Connected)
		}
	case protocol.TypeError:
		c.logger.Warn("server error", "pv", msg.Name, "error", msg.Error)
		if ch := c.lookup(msg); ch != nil {
			ch.notify(provider.EventFail)
		}
	case protocol.TypePong:
		c.logger.Debug("pong")
	default:
		c.logger.Debug("ignoring message", "type", msg.Type)
	}
}

func (c *Client) lookup(msg protocol.Message) *channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.byID[msg.ID]; ok {
		return ch
	}
	if ch, ok := c.channels[msg.Name]; ok {
		return ch
	}
	c.logger.Debug("message for unknown channel", "id", msg.ID, "pv", msg.Name)
	return nil
}

// setLink records the link state. Going up resubscribes every channel;
// going down disconnects them.
func (c *Client) setLink(up bool) {
	c.mu.Lock()
	c.linkUp = up
	channels := make([]*channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
		if up {
			c.enqueueSubscribe(ch)
		}
	}
	c.mu.Unlock()

	if up {
		return
	}
	for _, ch := range channels {
		ch.setConnected(false)
	}
}

func (c *Client) runKeepAlive(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := c.codec.EncodePing()
			if err != nil {
				c.logger.Debug("encode ping failed", "error", err)
				continue
			}
			if err := c.enqueue(outbound{kind: protocol.TypePing, payload: payload}); err != nil {
				c.logger.Debug("ping dropped", "error", err)
			}
		}
	}
}

func (c *Client) publishConnStatus(state events.ConnectionState, err error) {
	status := events.ConnectionStatus{
		State:         state,
		TransportName: c.transport.Name(),
		Timestamp:     time.Now(),
	}
	if resolver, ok := c.transport.(transport.StatusTargetResolver); ok {
		status.Target = resolver.StatusTarget()
	}
	if err != nil {
		status.Err = err.Error()
	}
	c.publish(events.TopicConnStatus, status)
}

func (c *Client) publish(topic string, msg any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(topic, msg)
}

func rawFrame(payload []byte) events.RawFrame {
	return events.RawFrame{Hex: strings.ToUpper(hex.EncodeToString(payload)), Len: len(payload)}
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
