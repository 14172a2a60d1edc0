package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pvmon/pvmon/internal/pv"
)

// ConnectorType identifies which transport backend should be used.
type ConnectorType string

const (
	ConnectorIP        ConnectorType = "ip"
	ConnectorSerial    ConnectorType = "serial"
	ConnectorWebSocket ConnectorType = "websocket"
	ConnectorMQTT      ConnectorType = "mqtt"
	// ConnectorLoopback serves PVs from an in-process simulator.
	ConnectorLoopback ConnectorType = "loopback"
)

const (
	DefaultIPPort       = 5075
	DefaultSerialBaud   = 115200
	DefaultMQTTPrefix   = "pvmon"
	DefaultPollInterval = 100 * time.Millisecond
	DefaultQueueSize    = 16
	DefaultRetention    = 7 * 24 * time.Hour
)

// Duration is a time.Duration written as text ("250ms", "1h").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	LogToFile bool   `yaml:"log_to_file"`
}

// ConnectionConfig contains connector-specific connection parameters.
type ConnectionConfig struct {
	Connector  ConnectorType `yaml:"connector"`
	Host       string        `yaml:"host,omitempty"`
	Port       int           `yaml:"port,omitempty"`
	SerialPort string        `yaml:"serial_port,omitempty"`
	SerialBaud int           `yaml:"serial_baud,omitempty"`
	URL        string        `yaml:"url,omitempty"`
	Broker     string        `yaml:"broker,omitempty"`
	Prefix     string        `yaml:"prefix,omitempty"`
	Username   string        `yaml:"username,omitempty"`
	Password   string        `yaml:"password,omitempty"`
}

// SyncConfig controls the poll loop and update handling.
type SyncConfig struct {
	PollInterval   Duration `yaml:"poll_interval"`
	MismatchPolicy string   `yaml:"mismatch_policy"`
	QueueSize      int      `yaml:"queue_size"`
}

// ArchiveConfig controls the local sample archive.
type ArchiveConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Retention Duration `yaml:"retention"`
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	Enabled bool                     `yaml:"enabled"`
	Events  NotificationEventsConfig `yaml:"events"`
}

// NotificationEventsConfig stores per-event notification toggles.
type NotificationEventsConfig struct {
	ConnectionStatus bool `yaml:"connection_status"`
	PVDisconnect     bool `yaml:"pv_disconnect"`
	TypeMismatch     bool `yaml:"type_mismatch"`
}

// PVConfig names a PV to watch and the type it is bound as.
type PVConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type,omitempty"`
}

func (p PVConfig) Kind() (pv.Kind, error) {
	return pv.ParseKind(p.Type)
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection    ConnectionConfig   `yaml:"connection"`
	Logging       LoggingConfig      `yaml:"logging"`
	Sync          SyncConfig         `yaml:"sync"`
	Archive       ArchiveConfig      `yaml:"archive"`
	Notifications NotificationConfig `yaml:"notifications"`
	PVs           []PVConfig         `yaml:"pvs"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Connector:  ConnectorLoopback,
			Port:       DefaultIPPort,
			SerialBaud: DefaultSerialBaud,
			Prefix:     DefaultMQTTPrefix,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Sync: SyncConfig{
			PollInterval:   Duration(DefaultPollInterval),
			MismatchPolicy: pv.MismatchSkip.String(),
			QueueSize:      DefaultQueueSize,
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Retention: Duration(DefaultRetention),
		},
		Notifications: NotificationConfig{
			Enabled: false,
			Events: NotificationEventsConfig{
				ConnectionStatus: true,
				PVDisconnect:     true,
				TypeMismatch:     true,
			},
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path comes from the resolved user config dir or an explicit flag.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config yaml: %w", err)
	}
	cfg.FillMissingDefaults()
	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Connection.Connector == "" {
		c.Connection.Connector = ConnectorLoopback
	}
	if c.Connection.Port <= 0 {
		c.Connection.Port = DefaultIPPort
	}
	if c.Connection.SerialBaud <= 0 {
		c.Connection.SerialBaud = DefaultSerialBaud
	}
	if c.Connection.Prefix == "" {
		c.Connection.Prefix = DefaultMQTTPrefix
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Sync.PollInterval <= 0 {
		c.Sync.PollInterval = Duration(DefaultPollInterval)
	}
	if c.Sync.MismatchPolicy == "" {
		c.Sync.MismatchPolicy = pv.MismatchSkip.String()
	}
	if c.Sync.QueueSize <= 0 {
		c.Sync.QueueSize = DefaultQueueSize
	}
	if c.Archive.Retention <= 0 {
		c.Archive.Retention = Duration(DefaultRetention)
	}
	for i := range c.PVs {
		c.PVs[i].Name = strings.TrimSpace(c.PVs[i].Name)
		if c.PVs[i].Type == "" {
			c.PVs[i].Type = pv.KindString.String()
		}
	}
}

func (c AppConfig) Validate() error {
	switch c.Connection.Connector {
	case ConnectorIP:
		if strings.TrimSpace(c.Connection.Host) == "" {
			return errors.New("ip host is required")
		}
	case ConnectorSerial:
		if strings.TrimSpace(c.Connection.SerialPort) == "" {
			return errors.New("serial port is required")
		}
		if c.Connection.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	case ConnectorWebSocket:
		url := strings.TrimSpace(c.Connection.URL)
		if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
			return fmt.Errorf("websocket url must start with ws:// or wss://, got %q", url)
		}
	case ConnectorMQTT:
		if strings.TrimSpace(c.Connection.Broker) == "" {
			return errors.New("mqtt broker is required")
		}
	case ConnectorLoopback:
	default:
		return fmt.Errorf("unknown connector: %s", c.Connection.Connector)
	}

	if c.Sync.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if _, err := pv.ParseMismatchPolicy(c.Sync.MismatchPolicy); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.PVs))
	for i, p := range c.PVs {
		if p.Name == "" {
			return fmt.Errorf("pvs[%d]: name is required", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("pvs[%d]: duplicate pv %q", i, p.Name)
		}
		seen[p.Name] = struct{}{}
		if _, err := p.Kind(); err != nil {
			return fmt.Errorf("pvs[%d]: %w", i, err)
		}
	}
	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}
	return nil
}
