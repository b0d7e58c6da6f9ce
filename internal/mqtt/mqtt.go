// mqtt.go: Package mqtt forwards timeline notifications to an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/tphakala/arstream/internal/conf"
)

// ComponentMQTT identifies errors and logs from this package
const ComponentMQTT = "mqtt"

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error

	// Publish sends payload to topic. It returns an error if the client is
	// not connected or the broker does not acknowledge within the publish timeout.
	Publish(ctx context.Context, topic string, payload []byte) error

	// IsConnected returns true if the client is currently connected to the MQTT broker.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string // topics are <prefix>/<source>/<event>
	QoS         byte
	Retain      bool // true to retain messages at the broker
	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
	ReconnectCooldown time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ClientID:          "arstream",
		TopicPrefix:       "arstream",
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
		ReconnectCooldown: 5 * time.Second,
	}
}

// ConfigFromSettings builds a client config from the mqtt section of the settings
func ConfigFromSettings(s *conf.MQTTSettings) Config {
	cfg := DefaultConfig()
	cfg.Broker = s.Broker
	if s.ClientID != "" {
		cfg.ClientID = s.ClientID
	}
	cfg.Username = s.Username
	cfg.Password = s.Password
	if s.TopicPrefix != "" {
		cfg.TopicPrefix = s.TopicPrefix
	}
	cfg.QoS = s.QoS
	cfg.Retain = s.Retain
	if s.Timeout > 0 {
		cfg.ConnectTimeout = s.Timeout
		cfg.PublishTimeout = s.Timeout
	}
	return cfg
}
