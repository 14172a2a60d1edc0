// Package provider defines the contract between PV handles and a protocol
// client: channels, monitors and asynchronous writes.
package provider

import (
	"context"
	"errors"

	"github.com/pvmon/pvmon/internal/pvdata"
)

var ErrClosed = errors.New("provider closed")

type EventKind uint8

const (
	EventData EventKind = iota
	EventDisconnect
	EventFail
	EventCancel
)

func (k EventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventDisconnect:
		return "disconnect"
	case EventFail:
		return "fail"
	case EventCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Monitor buffers updates for one channel. The event callback passed to
// Channel.Monitor only signals; updates are pulled with Poll in arrival order.
type Monitor interface {
	Poll() (pvdata.Structure, bool)
	Cancel()
}

type Channel interface {
	Name() string
	// Monitor subscribes to updates. cb may be invoked from any goroutine.
	Monitor(cb func(EventKind)) (Monitor, error)
	// OnConnect registers a connection listener. It is invoked with the
	// current state right away and on every transition.
	OnConnect(cb func(connected bool))
	Connected() bool
	// Put sets field to v. It returns once the request is queued.
	Put(ctx context.Context, field string, v any) error
}

type Provider interface {
	Channel(name string) (Channel, error)
}
