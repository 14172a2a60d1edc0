package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	mqttTimeout   = 6 * time.Second
	mqttInboxSize = 256
)

const mqttQoS byte = 1

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topics are relative to Prefix: requests go to <prefix>/request and
	// the server answers on <prefix>/response.
	Prefix string
}

// MQTTTransport tunnels protocol frames through a broker, one frame per
// message.
type MQTTTransport struct {
	mu     sync.Mutex
	cfg    MQTTConfig
	client mqtt.Client
	inbox  chan []byte
	lost   chan struct{}
}

func NewMQTTTransport(cfg MQTTConfig) *MQTTTransport {
	if cfg.ClientID == "" {
		cfg.ClientID = "pvmon-" + uuid.NewString()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "pvmon"
	}
	return &MQTTTransport{cfg: cfg}
}

func (t *MQTTTransport) Name() string { return "mqtt" }

func (t *MQTTTransport) SetConfig(cfg MQTTConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cfg.ClientID == "" {
		cfg.ClientID = t.cfg.ClientID
	}
	t.cfg = cfg
}

func (t *MQTTTransport) StatusTarget() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cfg.Broker == "" {
		return ""
	}
	return t.cfg.Broker + "/" + t.cfg.Prefix
}

func (t *MQTTTransport) requestTopic() string  { return t.cfg.Prefix + "/request" }
func (t *MQTTTransport) responseTopic() string { return t.cfg.Prefix + "/response" }

func (t *MQTTTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return nil
	}
	if t.cfg.Broker == "" {
		return errors.New("mqtt broker is empty")
	}

	logger := transportLogger("mqtt", "broker", t.cfg.Broker, "client_id", t.cfg.ClientID)
	inbox := make(chan []byte, mqttInboxSize)
	lost := make(chan struct{})
	var lostOnce sync.Once

	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.cfg.Broker)
	opts.SetClientID(t.cfg.ClientID)
	opts.SetUsername(t.cfg.Username)
	opts.SetPassword(t.cfg.Password)
	opts.SetConnectTimeout(mqttTimeout)
	// Reconnects are driven by the client's connector loop.
	opts.SetAutoReconnect(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("connection lost", "error", err)
		lostOnce.Do(func() { close(lost) })
	})

	client := mqtt.NewClient(opts)
	logger.Info("connecting")
	if err := waitToken(ctx, client.Connect()); err != nil {
		logger.Warn("connect failed", "error", err)
		return fmt.Errorf("mqtt connect: %w", err)
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		payload := append([]byte(nil), msg.Payload()...)
		select {
		case inbox <- payload:
		default:
			logger.Warn("inbox full, dropping frame", "len", len(payload))
		}
	}
	if err := waitToken(ctx, client.Subscribe(t.responseTopic(), mqttQoS, handler)); err != nil {
		client.Disconnect(250)
		return fmt.Errorf("mqtt subscribe %s: %w", t.responseTopic(), err)
	}

	t.client = client
	t.inbox = inbox
	t.lost = lost
	logger.Info("connected", "topic", t.responseTopic())
	return nil
}

func (t *MQTTTransport) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()
	if client == nil {
		return nil
	}
	client.Disconnect(250)
	return nil
}

func (t *MQTTTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	client, inbox, lost := t.client, t.inbox, t.lost
	t.mu.Unlock()
	if client == nil {
		return nil, ErrNotConnected
	}

	select {
	case payload := <-inbox:
		return payload, nil
	case <-lost:
		return nil, errors.New("mqtt connection lost")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *MQTTTransport) WriteFrame(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	client := t.client
	topic := t.requestTopic()
	t.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}
	if err := waitToken(ctx, client.Publish(topic, mqttQoS, false, payload)); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	timeout := mqttTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return errors.New("timed out")
	}
	return token.Error()
}
