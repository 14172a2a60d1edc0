package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pvmon/pvmon/internal/config"
	"github.com/pvmon/pvmon/internal/events"
)

func TransportNameFromConnector(connector config.ConnectorType) string {
	switch connector {
	case config.ConnectorIP:
		return "ip"
	case config.ConnectorSerial:
		return "serial"
	case config.ConnectorWebSocket:
		return "websocket"
	case config.ConnectorMQTT:
		return "mqtt"
	case config.ConnectorLoopback:
		return "loopback"
	default:
		if value := strings.TrimSpace(string(connector)); value != "" {
			return value
		}
		return "unknown"
	}
}

func ConnectionTarget(cfg config.ConnectionConfig) string {
	switch cfg.Connector {
	case config.ConnectorIP:
		host := strings.TrimSpace(cfg.Host)
		if host == "" || cfg.Port <= 0 {
			return host
		}
		return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
	case config.ConnectorSerial:
		return strings.TrimSpace(cfg.SerialPort)
	case config.ConnectorWebSocket:
		return strings.TrimSpace(cfg.URL)
	case config.ConnectorMQTT:
		return strings.TrimSpace(cfg.Broker)
	case config.ConnectorLoopback:
		return "simulator"
	default:
		return ""
	}
}

func ConnectionStatusFromConfig(cfg config.ConnectionConfig) events.ConnectionStatus {
	status := events.ConnectionStatus{
		State:         events.ConnectionStateDisconnected,
		TransportName: TransportNameFromConnector(cfg.Connector),
		Target:        ConnectionTarget(cfg),
	}
	if cfg.Connector == config.ConnectorLoopback {
		status.State = events.ConnectionStateConnected
	} else if status.Target != "" {
		status.State = events.ConnectionStateConnecting
	}

	return status
}

// ApplyTarget sets the connector-specific endpoint from a single command
// line value: host[:port] for ip, device path for serial, URL for
// websocket and broker URL for mqtt.
func ApplyTarget(cfg *config.ConnectionConfig, target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil
	}

	switch cfg.Connector {
	case config.ConnectorIP:
		host, port, err := net.SplitHostPort(target)
		if err != nil {
			cfg.Host = target
			return nil
		}
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("invalid port in target %q", target)
		}
		cfg.Host = host
		cfg.Port = p
	case config.ConnectorSerial:
		cfg.SerialPort = target
	case config.ConnectorWebSocket:
		cfg.URL = target
	case config.ConnectorMQTT:
		cfg.Broker = target
	case config.ConnectorLoopback:
		return fmt.Errorf("loopback connector takes no target")
	default:
		return fmt.Errorf("unknown connector: %s", cfg.Connector)
	}
	return nil
}
