// client.go: paho backed implementation of Client.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/arstream/internal/errors"
	"github.com/tphakala/arstream/internal/logging"
	"github.com/tphakala/arstream/internal/observability/metrics"
)

// client implements the Client interface.
type client struct {
	config          Config
	internalClient  mqtt.Client
	newPaho         func(*mqtt.ClientOptions) mqtt.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	metrics         *metrics.MQTTMetrics
	logger          *slog.Logger
}

// NewClient creates a new MQTT client with the provided configuration.
// m may be nil.
func NewClient(config Config, m *metrics.MQTTMetrics, logger *slog.Logger) Client {
	if logger == nil {
		logger = logging.ForService(ComponentMQTT)
	}
	return &client{
		config:  config,
		newPaho: mqtt.NewClient,
		metrics: m,
		logger:  logger.With("broker", config.Broker),
	}
}

func (c *client) mqttError(err error, operation string) error {
	if c.metrics != nil {
		c.metrics.RecordError(operation)
	}
	return errors.New(err).
		Component(ComponentMQTT).
		Category(errors.CategoryMQTTConnection).
		Context("broker", c.config.Broker).
		Context("operation", operation).
		Build()
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return c.mqttError(fmt.Errorf("connection attempt too recent, last attempt was %v ago", since), "connect")
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return c.mqttError(err, "parse-broker")
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return c.mqttError(err, "resolve")
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.internalClient = c.newPaho(opts)

	token := c.internalClient.Connect()
	if !waitToken(ctx, token, c.config.ConnectTimeout) {
		return c.mqttError(errors.NewStd("connection timeout"), "connect")
	}
	if err := token.Error(); err != nil {
		return c.mqttError(err, "connect")
	}

	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(true)
	}
	return nil
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected() {
		return c.mqttError(errors.NewStd("not connected to MQTT broker"), "publish")
	}

	if c.metrics != nil {
		timer := c.metrics.StartPublishTimer()
		defer timer.ObserveDuration()
	}

	token := c.internalClient.Publish(topic, c.config.QoS, c.config.Retain, payload)
	if !waitToken(ctx, token, c.config.PublishTimeout) {
		c.logger.Warn("publish timeout", "topic", topic)
		return errors.Newf("publish to %s timed out", topic).
			Component(ComponentMQTT).
			Category(errors.CategoryTimeout).
			Context("operation", "publish").
			Build()
	}
	if err := token.Error(); err != nil {
		if c.metrics != nil {
			c.metrics.RecordError("publish")
		}
		return errors.New(err).
			Component(ComponentMQTT).
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected()
}

func (c *client) isConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		if c.metrics != nil {
			c.metrics.UpdateConnectionStatus(false)
		}
	}
}

func (c *client) onConnect(mqtt.Client) {
	c.logger.Info("connected to MQTT broker")
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(true)
	}
}

// onConnectionLost runs on a paho goroutine; paho reconnects on its own
func (c *client) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("connection to MQTT broker lost", "error", err)
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(false)
		c.metrics.RecordError("connection-lost")
	}
}

// waitToken waits for token completion, the timeout or ctx, whichever comes first
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
