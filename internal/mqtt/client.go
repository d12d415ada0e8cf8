package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/printfarm/enclosure-cam/internal/errors"
	"github.com/printfarm/enclosure-cam/internal/logger"
	"github.com/printfarm/enclosure-cam/internal/observability/metrics"
)

// client implements Client on top of paho.
type client struct {
	config  Config
	log     logger.Logger
	metrics *metrics.MQTTMetrics

	mu             sync.Mutex
	internalClient paho.Client
}

// NewClient creates a paho-backed client. Zero timeouts take the values of
// DefaultConfig. m may be nil.
func NewClient(cfg Config, m *metrics.MQTTMetrics, log logger.Logger) (Client, error) {
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt broker is not configured").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if _, err := url.Parse(cfg.Broker); err != nil {
		return nil, errors.New(err).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Context("broker", cfg.Broker).
			Build()
	}

	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = def.DisconnectTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if log == nil {
		log = GetLogger()
	}
	return &client{config: cfg, log: log.With(logger.String("broker", cfg.Broker)), metrics: m}, nil
}

// Connect resolves the broker host and opens the connection. paho keeps
// reconnecting in the background after a connection loss.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return errors.New(err).Component("mqtt").Category(errors.CategoryConfiguration).Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(err).
				Component("mqtt").
				Category(errors.CategoryMQTTConnection).
				Context("host", host).
				Build()
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(c.config.ReconnectDelay)
	opts.SetMaxReconnectInterval(c.config.MaxReconnectDelay)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.internalClient = paho.NewClient(opts)

	start := time.Now()
	token := c.internalClient.Connect()
	if !waitToken(ctx, token, c.config.ConnectTimeout) {
		return errors.Newf("mqtt connection timeout").
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Timing("connect", time.Since(start)).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).Component("mqtt").Category(errors.CategoryMQTTConnection).Build()
	}

	c.updateConnectionStatus(true)
	return nil
}

// Publish sends one message with QoS 0.
func (c *client) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	c.mu.Lock()
	internal := c.internalClient
	c.mu.Unlock()

	if internal == nil || !internal.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("topic", topic).
			Build()
	}

	start := time.Now()
	token := internal.Publish(topic, 0, retain, payload)
	if !waitToken(ctx, token, c.config.PublishTimeout) {
		return errors.Newf("mqtt publish timeout").
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Timing("publish", time.Since(start)).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).Component("mqtt").Category(errors.CategoryMQTTPublish).Context("topic", topic).Build()
	}
	return nil
}

// IsConnected returns true if the client is currently connected to the broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the broker and stops reconnecting.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internalClient == nil {
		return
	}
	c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
	c.internalClient = nil
	c.updateConnectionStatus(false)
}

func (c *client) onConnect(paho.Client) {
	c.log.Info("connected to MQTT broker")
	c.updateConnectionStatus(true)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to MQTT broker lost", logger.Error(err))
	c.updateConnectionStatus(false)
}

func (c *client) onReconnecting(paho.Client, *paho.ClientOptions) {
	c.log.Debug("reconnecting to MQTT broker")
	if c.metrics != nil {
		c.metrics.IncrementReconnectAttempts()
	}
}

func (c *client) updateConnectionStatus(connected bool) {
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(connected)
	}
}

// waitToken waits for token until timeout or ctx is done. It returns false
// when the token did not complete.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) bool {
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
