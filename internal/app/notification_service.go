package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pvmon/pvmon/internal/bus"
	"github.com/pvmon/pvmon/internal/config"
	"github.com/pvmon/pvmon/internal/events"
	"github.com/pvmon/pvmon/internal/notifications"
)

const (
	notificationTitleMismatch = "Incompatible PV update"
)

// NotificationService listens to bus events and emits user-facing notifications.
type NotificationService struct {
	bus           bus.MessageBus
	currentConfig func() config.AppConfig
	sender        notifications.Sender
	logger        *slog.Logger

	mu               sync.Mutex
	lastConnState    events.ConnectionState
	lastConnStateSet bool
	pvConnected      map[string]bool
	// mismatched holds PVs already reported since they last connected.
	mismatched map[string]bool
}

func NewNotificationService(
	messageBus bus.MessageBus,
	currentConfig func() config.AppConfig,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}

	return &NotificationService{
		bus:           messageBus,
		currentConfig: currentConfig,
		sender:        sender,
		logger:        logger,
		pvConnected:   make(map[string]bool),
		mismatched:    make(map[string]bool),
	}
}

func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	// One subscription keeps events of different topics in publish order.
	topics := []string{events.TopicConnStatus, events.TopicChannelStatus, events.TopicMismatch}
	sub := s.bus.Subscribe(topics...)

	go func() {
		defer s.bus.Unsubscribe(sub, topics...)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				switch ev := raw.(type) {
				case events.ConnectionStatus:
					s.handleConnectionStatus(ev)
				case events.ChannelStatus:
					s.handleChannelStatus(ev)
				case events.Mismatch:
					s.handleMismatch(ev)
				}
			}
		}
	}()
}

func (s *NotificationService) handleConnectionStatus(status events.ConnectionStatus) {
	prefs := s.notificationPrefs()
	if status.State == "" {
		return
	}

	s.mu.Lock()
	if s.lastConnStateSet && s.lastConnState == status.State {
		s.mu.Unlock()

		return
	}
	s.lastConnState = status.State
	s.lastConnStateSet = true
	s.mu.Unlock()

	if status.State != events.ConnectionStateConnected &&
		status.State != events.ConnectionStateDisconnected &&
		status.State != events.ConnectionStateReconnecting {
		return
	}
	if !s.shouldNotify(prefs, prefs.Events.ConnectionStatus) {
		return
	}

	transport := notificationTransportName(status.TransportName)
	if transport == "" {
		transport = "Unknown"
	}
	details := strings.TrimSpace(status.Target)
	if details == "" {
		details = "No connection details"
	}
	if status.State != events.ConnectionStateConnected {
		if errText := strings.TrimSpace(status.Err); errText != "" {
			details = fmt.Sprintf("%s (error: %s)", details, errText)
		}
	}

	s.send(notifications.Payload{
		Title:   fmt.Sprintf("%s - %s", transport, status.State),
		Content: details,
	})
}

// handleChannelStatus notifies only on a connected to disconnected
// transition so the initial "not yet connected" state stays quiet.
func (s *NotificationService) handleChannelStatus(status events.ChannelStatus) {
	prefs := s.notificationPrefs()
	name := strings.TrimSpace(status.Name)
	if name == "" {
		return
	}

	s.mu.Lock()
	wasConnected := s.pvConnected[name]
	s.pvConnected[name] = status.Connected
	if status.Connected {
		delete(s.mismatched, name)
	}
	s.mu.Unlock()

	if status.Connected || !wasConnected {
		return
	}
	if !s.shouldNotify(prefs, prefs.Events.PVDisconnect) {
		return
	}

	s.send(notifications.Payload{
		Title:   name,
		Content: "PV disconnected",
	})
}

func (s *NotificationService) handleMismatch(m events.Mismatch) {
	prefs := s.notificationPrefs()

	s.mu.Lock()
	if s.mismatched[m.Name] {
		s.mu.Unlock()
		return
	}
	s.mismatched[m.Name] = true
	s.mu.Unlock()

	if !s.shouldNotify(prefs, prefs.Events.TypeMismatch) {
		return
	}
	s.send(notifications.Payload{
		Title:   notificationTitleMismatch,
		Content: fmt.Sprintf("%s is bound as %s: %s", m.Name, m.Kind, m.Err),
	})
}

func (s *NotificationService) shouldNotify(prefs config.NotificationConfig, kindEnabled bool) bool {
	return prefs.Enabled && kindEnabled
}

func (s *NotificationService) notificationPrefs() config.NotificationConfig {
	cfg := config.Default()
	if s.currentConfig != nil {
		cfg = s.currentConfig()
		cfg.FillMissingDefaults()
	}

	return cfg.Notifications
}

func (s *NotificationService) send(notification notifications.Payload) {
	title := strings.TrimSpace(notification.Title)
	content := strings.TrimSpace(notification.Content)
	if title == "" && content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", title)
	s.sender.Send(notifications.Payload{
		Title:   title,
		Content: content,
	})
}

func notificationTransportName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ip":
		return "IP"
	case "serial":
		return "Serial"
	case "websocket":
		return "WebSocket"
	case "mqtt":
		return "MQTT"
	case "loopback":
		return "Simulator"
	default:
		return strings.TrimSpace(name)
	}
}
