package client

import (
	"context"
	"sync"
	"time"

	"github.com/pvmon/pvmon/internal/events"
	"github.com/pvmon/pvmon/internal/provider"
	"github.com/pvmon/pvmon/internal/pvdata"
)

type channel struct {
	client *Client
	name   string
	id     uint32

	mu        sync.Mutex
	connected bool
	last      pvdata.Structure
	listeners []func(bool)
	monitors  []*provider.Queue
}

func (ch *channel) Name() string { return ch.name }

func (ch *channel) Monitor(cb func(provider.EventKind)) (provider.Monitor, error) {
	var q *provider.Queue
	q = provider.NewQueue(ch.client.cfg.QueueSize, cb, func() { ch.removeMonitor(q) })

	ch.mu.Lock()
	ch.monitors = append(ch.monitors, q)
	last := ch.last
	if !ch.connected {
		last = nil
	}
	ch.mu.Unlock()

	if last != nil {
		q.Push(last)
	}
	return q, nil
}

func (ch *channel) removeMonitor(q *provider.Queue) {
	ch.mu.Lock()
	for i, m := range ch.monitors {
		if m == q {
			ch.monitors = append(ch.monitors[:i], ch.monitors[i+1:]...)
			break
		}
	}
	empty := len(ch.monitors) == 0
	ch.mu.Unlock()

	if empty {
		ch.client.release(ch)
	}
}

func (ch *channel) OnConnect(cb func(bool)) {
	ch.mu.Lock()
	ch.listeners = append(ch.listeners, cb)
	connected := ch.connected
	ch.mu.Unlock()
	cb(connected)
}

func (ch *channel) Connected() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.connected
}

func (ch *channel) Put(ctx context.Context, field string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ch.client.put(ch, field, value)
}

func (ch *channel) deliver(s pvdata.Structure) {
	ch.mu.Lock()
	ch.last = s
	monitors := append([]*provider.Queue(nil), ch.monitors...)
	ch.mu.Unlock()

	for _, q := range monitors {
		q.Push(s)
	}
}

func (ch *channel) setConnected(connected bool) {
	ch.mu.Lock()
	if ch.connected == connected {
		ch.mu.Unlock()
		return
	}
	ch.connected = connected
	if !connected {
		ch.last = nil
	}
	listeners := append([]func(bool){}, ch.listeners...)
	monitors := append([]*provider.Queue(nil), ch.monitors...)
	ch.mu.Unlock()

	for _, cb := range listeners {
		cb(connected)
	}
	if !connected {
		for _, q := range monitors {
			q.Notify(provider.EventDisconnect)
		}
	}
	ch.client.publish(events.TopicChannelStatus, events.ChannelStatus{
		Name:      ch.name,
		Connected: connected,
		Timestamp: time.Now(),
	})
}

func (ch *channel) notify(ev provider.EventKind) {
	ch.mu.Lock()
	monitors := append([]*provider.Queue(nil), ch.monitors...)
	ch.mu.Unlock()
	for _, q := range monitors {
		q.Notify(ev)
	}
}
