package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pvmon/pvmon/internal/pvdata"
)

type PutRecord struct {
	Name  string
	Field string
	Value any
}

// Loopback is an in-process provider. Published values fan out to every
// monitor of the channel and writes are echoed back as updates.
type Loopback struct {
	QueueSize int

	mu       sync.Mutex
	channels map[string]*loopChannel
	puts     []PutRecord
}

func NewLoopback() *Loopback {
	return &Loopback{channels: make(map[string]*loopChannel)}
}

func (l *Loopback) Channel(name string) (Channel, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("loopback: empty channel name")
	}
	return l.channel(name), nil
}

func (l *Loopback) channel(name string) *loopChannel {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.channels[name]
	if !ok {
		ch = &loopChannel{owner: l, name: name, connected: true}
		l.channels[name] = ch
	}
	return ch
}

// Publish delivers m to every monitor of name and keeps it as the current value.
func (l *Loopback) Publish(name string, m pvdata.Map) {
	l.channel(name).publish(m)
}

func (l *Loopback) SetConnected(name string, connected bool) {
	l.channel(name).setConnected(connected)
}

func (l *Loopback) Puts() []PutRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]PutRecord(nil), l.puts...)
}

// Monitors reports how many live monitors name has.
func (l *Loopback) Monitors(name string) int {
	ch := l.channel(name)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.monitors)
}

type loopChannel struct {
	owner *Loopback
	name  string

	mu        sync.Mutex
	connected bool
	current   pvdata.Map
	monitors  []*Queue
	listeners []func(bool)
}

func (c *loopChannel) Name() string { return c.name }

func (c *loopChannel) Monitor(cb func(EventKind)) (Monitor, error) {
	var q *Queue
	q = NewQueue(c.owner.QueueSize, cb, func() { c.remove(q) })

	c.mu.Lock()
	c.monitors = append(c.monitors, q)
	current := c.current
	connected := c.connected
	c.mu.Unlock()

	if current != nil && connected {
		q.Push(current)
	}
	return q, nil
}

func (c *loopChannel) remove(q *Queue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.monitors {
		if m == q {
			c.monitors = append(c.monitors[:i], c.monitors[i+1:]...)
			return
		}
	}
}

func (c *loopChannel) OnConnect(cb func(bool)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, cb)
	connected := c.connected
	c.mu.Unlock()
	cb(connected)
}

func (c *loopChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *loopChannel) Put(ctx context.Context, field string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.owner.mu.Lock()
	c.owner.puts = append(c.owner.puts, PutRecord{Name: c.name, Field: field, Value: v})
	c.owner.mu.Unlock()

	c.mu.Lock()
	next := withField(c.current, field, v)
	c.mu.Unlock()
	c.publish(next)
	return nil
}

func (c *loopChannel) publish(m pvdata.Map) {
	c.mu.Lock()
	c.current = m
	monitors := append([]*Queue(nil), c.monitors...)
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return
	}
	for _, q := range monitors {
		q.Push(m)
	}
}

func (c *loopChannel) setConnected(connected bool) {
	c.mu.Lock()
	if c.connected == connected {
		c.mu.Unlock()
		return
	}
	c.connected = connected
	listeners := append([]func(bool){}, c.listeners...)
	monitors := append([]*Queue(nil), c.monitors...)
	current := c.current
	c.mu.Unlock()

	for _, cb := range listeners {
		cb(connected)
	}
	for _, q := range monitors {
		if !connected {
			q.Notify(EventDisconnect)
			continue
		}
		if current != nil {
			q.Push(current)
		}
	}
}

// withField returns a copy of base with the dotted field set to v.
func withField(base pvdata.Map, field string, v any) pvdata.Map {
	out := copyMap(base)
	parts := strings.Split(field, ".")
	cur := out
	for _, part := range parts[:len(parts)-1] {
		var next map[string]any
		switch typed := cur[part].(type) {
		case pvdata.Map:
			next = copyMap(typed)
		case map[string]any:
			next = copyMap(typed)
		default:
			next = map[string]any{}
		}
		cur[part] = next
		cur = next
	}
	cur[parts[len(parts)-1]] = v
	return out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
