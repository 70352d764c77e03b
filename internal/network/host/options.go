package host

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"lanchat/internal/network"
)

// Option configures a Host.
type Option func(h *Host) error

func setup(h *Host, options ...Option) error {
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(h); err != nil {
			return err
		}
	}
	return nil
}

// WithEvents attaches the channel that receives the Host's notifications.
// The owner must drain it for as long as the Host runs, including during Stop.
func WithEvents(events chan<- network.Event) Option {
	return func(h *Host) error {
		if events == nil {
			return errors.New("host.WithEvents: channel is nil")
		}
		h.events = network.NewEmitter(events)
		return nil
	}
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Host) error {
		if logger == nil {
			return errors.New("host.WithLogger: logger is nil")
		}
		h.log = logger.Named("host")
		return nil
	}
}

// WithAddress sets the listen address. Empty means all interfaces.
func WithAddress(address string) Option {
	return func(h *Host) error {
		h.address = address
		return nil
	}
}

// WithIdleTimeout disconnects peers that stay silent for longer than timeout.
// Zero disables the check, which is the default.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(h *Host) error {
		if timeout < 0 {
			return fmt.Errorf("host.WithIdleTimeout: invalid timeout (%v)", timeout)
		}
		h.idleTimeout = timeout
		return nil
	}
}

// WithWriteTimeout bounds every write to a peer. Zero means no deadline.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(h *Host) error {
		if timeout < 0 {
			return fmt.Errorf("host.WithWriteTimeout: invalid timeout (%v)", timeout)
		}
		h.writeTimeout = timeout
		return nil
	}
}

// WithOutboxSize sets how many lines may queue for a single peer before new ones are dropped.
func WithOutboxSize(size int) Option {
	return func(h *Host) error {
		if size <= 0 {
			return fmt.Errorf("host.WithOutboxSize: invalid size (%d)", size)
		}
		h.outboxSize = size
		return nil
	}
}

// WithAcceptBackOff replaces the policy used to pause after accept errors.
func WithAcceptBackOff(newBackOff func() backoff.BackOff) Option {
	return func(h *Host) error {
		if newBackOff == nil {
			return errors.New("host.WithAcceptBackOff: factory is nil")
		}
		h.newBackOff = newBackOff
		return nil
	}
}

func defaultAcceptBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
