// Package natsclient connects the motion core to the arm driver over NATS.
//
// This package handles:
//   - Connection management with automatic reconnection
//   - Feedback subscriptions (pose, force, joints, goal echo) into the state mirror
//   - Goal, joint configuration and stiffness publishing
//   - Goal requests from remote operators
package natsclient

import (
	"errors"
	"fmt"
	"time"
)

// Config holds NATS client configuration.
type Config struct {
	// URL is the NATS server URL.
	// Examples: "nats://localhost:4222", "nats://192.168.68.83:4222"
	URL string `koanf:"url" json:"url"`

	// Name identifies this connection on the server.
	Name string `koanf:"name" json:"name"`

	// Prefix is the subject prefix for all subjects.
	// Default: "franka"
	Prefix string `koanf:"prefix" json:"prefix"`

	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration `koanf:"connect_timeout" json:"connect_timeout"`

	// ReconnectInterval is how often to attempt reconnection on failure.
	ReconnectInterval time.Duration `koanf:"reconnect_interval" json:"reconnect_interval"`

	// MaxReconnectAttempts is the maximum number of reconnection attempts.
	// 0 means unlimited.
	MaxReconnectAttempts int `koanf:"max_reconnect_attempts" json:"max_reconnect_attempts"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:                  "nats://localhost:4222",
		Name:                 "go-franka",
		Prefix:               "franka",
		ConnectTimeout:       2 * time.Second,
		ReconnectInterval:    2 * time.Second,
		MaxReconnectAttempts: 0, // Unlimited
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	if c.Prefix == "" {
		return errors.New("prefix is required")
	}
	if c.ReconnectInterval < 0 {
		return fmt.Errorf("reconnect interval must be non-negative, got %v", c.ReconnectInterval)
	}
	return nil
}
