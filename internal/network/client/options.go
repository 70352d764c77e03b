package client

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lanchat/internal/network"
)

// Option configures a Client.
type Option func(c *Client) error

func setup(c *Client, options ...Option) error {
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(c); err != nil {
			return err
		}
	}
	return nil
}

// WithEvents attaches the channel that receives the Client's notifications.
// The owner must drain it while the Client is connected, including during Disconnect.
func WithEvents(events chan<- network.Event) Option {
	return func(c *Client) error {
		if events == nil {
			return errors.New("client.WithEvents: channel is nil")
		}
		c.events = network.NewEmitter(events)
		return nil
	}
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return errors.New("client.WithLogger: logger is nil")
		}
		c.log = logger.Named("client")
		return nil
	}
}

// WithDialTimeout bounds the connection attempt. Zero means no limit.
func WithDialTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout < 0 {
			return fmt.Errorf("client.WithDialTimeout: invalid timeout (%v)", timeout)
		}
		c.dialTimeout = timeout
		return nil
	}
}

// WithOutboxSize sets how many outgoing lines may wait for the writer.
func WithOutboxSize(size int) Option {
	return func(c *Client) error {
		if size <= 0 {
			return fmt.Errorf("client.WithOutboxSize: invalid size (%d)", size)
		}
		c.outboxSize = size
		return nil
	}
}
