package persistence

import (
	"context"

	"github.com/pvmon/pvmon/internal/bus"
	"github.com/pvmon/pvmon/internal/events"
)

// WriteQueue serializes persistence writes from async bus events.
type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error)
}

// StartArchiveProjection records every published sample and channel status
// change. The subscriptions are taken before it returns, so nothing
// published afterwards is missed.
func StartArchiveProjection(ctx context.Context, b bus.MessageBus, queue WriteQueue, samples *SampleRepo, channelEvents *ChannelEventRepo) {
	sampleSub := b.Subscribe(events.TopicSample)
	statusSub := b.Subscribe(events.TopicChannelStatus)

	go func() {
		defer b.Unsubscribe(sampleSub, events.TopicSample)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sampleSub:
				if !ok {
					return
				}
				s, ok := raw.(events.Sample)
				if !ok {
					continue
				}
				queue.Enqueue("insert_sample", func(writeCtx context.Context) error {
					return samples.Insert(writeCtx, s)
				})
			}
		}
	}()

	go func() {
		defer b.Unsubscribe(statusSub, events.TopicChannelStatus)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-statusSub:
				if !ok {
					return
				}
				st, ok := raw.(events.ChannelStatus)
				if !ok {
					continue
				}
				queue.Enqueue("insert_channel_event", func(writeCtx context.Context) error {
					return channelEvents.Insert(writeCtx, st)
				})
			}
		}
	}()
}
