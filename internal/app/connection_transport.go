package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pvmon/pvmon/internal/config"
	"github.com/pvmon/pvmon/internal/transport"
)

var errNoTransport = errors.New("transport is not configured")

type transportBuilder func(cfg config.ConnectionConfig) transport.Transport

// transportBuilders maps every frame-based connector to its constructor.
// The loopback connector has no entry: it serves PVs in-process.
var transportBuilders = map[config.ConnectorType]transportBuilder{
	config.ConnectorIP: func(cfg config.ConnectionConfig) transport.Transport {
		port := cfg.Port
		if port <= 0 {
			port = transport.DefaultIPPort
		}
		return transport.NewIPTransport(cfg.Host, port)
	},
	config.ConnectorSerial: func(cfg config.ConnectionConfig) transport.Transport {
		return transport.NewSerialTransport(cfg.SerialPort, cfg.SerialBaud)
	},
	config.ConnectorWebSocket: func(cfg config.ConnectionConfig) transport.Transport {
		return transport.NewWebSocketTransport(cfg.URL)
	},
	config.ConnectorMQTT: func(cfg config.ConnectionConfig) transport.Transport {
		return transport.NewMQTTTransport(transport.MQTTConfig{
			Broker:   cfg.Broker,
			Username: cfg.Username,
			Password: cfg.Password,
			Prefix:   cfg.Prefix,
		})
	},
}

// NewTransportForConnection builds the transport for cfg.Connector.
func NewTransportForConnection(cfg config.ConnectionConfig) (transport.Transport, error) {
	if cfg.Connector == config.ConnectorLoopback {
		return nil, fmt.Errorf("loopback connector has no transport")
	}
	build, ok := transportBuilders[cfg.Connector]
	if !ok {
		return nil, fmt.Errorf("unknown connector: %q", cfg.Connector)
	}
	return build(cfg), nil
}

// SwitchableTransport is the transport handed to the PV client. Apply replaces
// the active connector while the client keeps the same Transport value.
type SwitchableTransport struct {
	mu     sync.RWMutex
	cfg    config.ConnectionConfig
	active transport.Transport
}

func NewConnectionTransport(cfg config.ConnectionConfig) (*SwitchableTransport, error) {
	tr, err := NewTransportForConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &SwitchableTransport{cfg: cfg, active: tr}, nil
}

// Apply installs a transport for cfg. Closing the previous one fails the
// client's pending read, and the connector loop then dials through the new one.
// On error the active transport is left untouched.
func (t *SwitchableTransport) Apply(cfg config.ConnectionConfig) error {
	next, err := NewTransportForConnection(cfg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	prev := t.active
	t.cfg, t.active = cfg, next
	t.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

func (t *SwitchableTransport) Config() config.ConnectionConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

func (t *SwitchableTransport) snapshot() (transport.Transport, config.ConnectionConfig) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active, t.cfg
}

func (t *SwitchableTransport) Name() string {
	if tr, _ := t.snapshot(); tr != nil {
		return tr.Name()
	}
	return "unknown"
}

// StatusTarget prefers the endpoint reported by the transport and falls back
// to the configured one.
func (t *SwitchableTransport) StatusTarget() string {
	tr, cfg := t.snapshot()
	if r, ok := tr.(transport.StatusTargetResolver); ok {
		if target := strings.TrimSpace(r.StatusTarget()); target != "" {
			return target
		}
	}
	return ConnectionTarget(cfg)
}

func (t *SwitchableTransport) Connect(ctx context.Context) error {
	tr, _ := t.snapshot()
	if tr == nil {
		return errNoTransport
	}
	return tr.Connect(ctx)
}

func (t *SwitchableTransport) Close() error {
	if tr, _ := t.snapshot(); tr != nil {
		return tr.Close()
	}
	return nil
}

func (t *SwitchableTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	tr, _ := t.snapshot()
	if tr == nil {
		return nil, errNoTransport
	}
	return tr.ReadFrame(ctx)
}

func (t *SwitchableTransport) WriteFrame(ctx context.Context, payload []byte) error {
	tr, _ := t.snapshot()
	if tr == nil {
		return errNoTransport
	}
	return tr.WriteFrame(ctx, payload)
}
