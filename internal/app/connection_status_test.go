package app

import (
	"testing"

	"github.com/pvmon/pvmon/internal/config"
	"github.com/pvmon/pvmon/internal/events"
)

func TestTransportNameFromConnector(t *testing.T) {
	tests := []struct {
		name      string
		connector config.ConnectorType
		want      string
	}{
		{name: "ip", connector: config.ConnectorIP, want: "ip"},
		{name: "serial", connector: config.ConnectorSerial, want: "serial"},
		{name: "websocket", connector: config.ConnectorWebSocket, want: "websocket"},
		{name: "mqtt", connector: config.ConnectorMQTT, want: "mqtt"},
		{name: "loopback", connector: config.ConnectorLoopback, want: "loopback"},
		{name: "custom", connector: config.ConnectorType("usb"), want: "usb"},
		{name: "empty", connector: config.ConnectorType(""), want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TransportNameFromConnector(tt.connector); got != tt.want {
				t.Fatalf("TransportNameFromConnector(%q) = %q, want %q", tt.connector, got, tt.want)
			}
		})
	}
}

func TestConnectionStatusFromConfig(t *testing.T) {
	status := ConnectionStatusFromConfig(config.ConnectionConfig{
		Connector: config.ConnectorIP,
		Host:      "ioc.local",
		Port:      5075,
	})
	if status.State != events.ConnectionStateConnecting {
		t.Fatalf("expected connecting, got %q", status.State)
	}
	if status.Target != "ioc.local:5075" {
		t.Fatalf("unexpected target %q", status.Target)
	}

	status = ConnectionStatusFromConfig(config.ConnectionConfig{Connector: config.ConnectorSerial})
	if status.State != events.ConnectionStateDisconnected {
		t.Fatalf("expected disconnected without target, got %q", status.State)
	}

	status = ConnectionStatusFromConfig(config.ConnectionConfig{Connector: config.ConnectorLoopback})
	if status.State != events.ConnectionStateConnected {
		t.Fatalf("expected loopback to be connected, got %q", status.State)
	}
}

func TestApplyTarget(t *testing.T) {
	tests := []struct {
		name      string
		connector config.ConnectorType
		target    string
		check     func(config.ConnectionConfig) bool
		wantErr   bool
	}{
		{
			name: "ip host only", connector: config.ConnectorIP, target: "ioc.local",
			check: func(c config.ConnectionConfig) bool { return c.Host == "ioc.local" && c.Port == 5075 },
		},
		{
			name: "ip host and port", connector: config.ConnectorIP, target: "10.0.0.5:6000",
			check: func(c config.ConnectionConfig) bool { return c.Host == "10.0.0.5" && c.Port == 6000 },
		},
		{name: "ip bad port", connector: config.ConnectorIP, target: "h:0", wantErr: true},
		{
			name: "serial", connector: config.ConnectorSerial, target: "/dev/ttyUSB0",
			check: func(c config.ConnectionConfig) bool { return c.SerialPort == "/dev/ttyUSB0" },
		},
		{
			name: "websocket", connector: config.ConnectorWebSocket, target: "ws://gw/pv",
			check: func(c config.ConnectionConfig) bool { return c.URL == "ws://gw/pv" },
		},
		{
			name: "mqtt", connector: config.ConnectorMQTT, target: "tcp://broker:1883",
			check: func(c config.ConnectionConfig) bool { return c.Broker == "tcp://broker:1883" },
		},
		{name: "loopback", connector: config.ConnectorLoopback, target: "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.ConnectionConfig{Connector: tt.connector, Port: 5075}
			err := ApplyTarget(&cfg, tt.target)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.check(cfg) {
				t.Fatalf("unexpected config %+v", cfg)
			}
		})
	}
}
