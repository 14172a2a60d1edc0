package app

import (
	"time"

	"github.com/pvmon/pvmon/internal/bus"
	"github.com/pvmon/pvmon/internal/events"
	"github.com/pvmon/pvmon/internal/pv"
)

// PublishSamples turns every value h hands out on Sync into a Sample event.
func PublishSamples(h *pv.Handle, b bus.MessageBus, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	name := h.Name()
	h.Observe(func(v pv.Value) {
		b.Publish(events.TopicSample, events.Sample{
			Name:      name,
			Kind:      v.Kind().String(),
			Text:      v.String(),
			Timestamp: now(),
		})
	})
}

// MismatchPublisher returns a registry hook that reports mismatches on the bus.
func MismatchPublisher(b bus.MessageBus) func(*pv.MismatchError) {
	return func(err *pv.MismatchError) {
		b.Publish(events.TopicMismatch, events.Mismatch{
			Name:      err.Name,
			Kind:      err.Kind.String(),
			Err:       err.Error(),
			Timestamp: time.Now(),
		})
	}
}
