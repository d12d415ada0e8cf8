// Package mqtt publishes enclosure, light and snapshot state to an MQTT
// broker for home automation.
package mqtt

import (
	"context"
	"time"

	"github.com/printfarm/enclosure-cam/internal/logger"
)

// Client defines the broker operations the publisher needs.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error

	// Publish sends payload to topic. It returns when the broker acknowledges
	// the message, the publish timeout elapses or ctx is done.
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error

	// IsConnected reports whether the client currently holds a connection.
	IsConnected() bool

	// Disconnect closes the connection to the broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// DefaultConfig returns a Config with reasonable default values.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    5 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 5 * time.Minute,
	}
}

// GetLogger returns the module logger for MQTT events.
func GetLogger() logger.Logger {
	return logger.Global().Module("mqtt")
}
