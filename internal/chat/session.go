// Package chat ties the host, client and discovery pieces together behind the
// small surface a user interface needs: host, join, send and teardown.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"lanchat/internal/config"
	"lanchat/internal/discovery"
	"lanchat/internal/network"
	"lanchat/internal/network/client"
	"lanchat/internal/network/host"
)

// Role is what a Session is currently doing.
type Role int

const (
	RoleNone Role = iota
	RoleHosting
	RoleJoining
)

func (r Role) String() string {
	switch r {
	case RoleHosting:
		return "hosting"
	case RoleJoining:
		return "joining"
	default:
		return "none"
	}
}

// ErrBusy is returned by Host and Join when the Session already has a role.
var ErrBusy = errors.New("session already hosting or joined")

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("session closed")

// Session owns one Host, one Client, one Publisher and one Resolver. Every
// notification from them, plus the Session's own status lines, comes out of
// Events in order.
type Session struct {
	cfg *config.Config
	log *zap.Logger

	raw  chan network.Event
	out  chan network.Event
	emit *network.Emitter

	host      *host.Host
	client    *client.Client
	publisher *discovery.Publisher
	resolver  *discovery.Resolver
	found     chan discovery.Service

	mu         sync.Mutex
	role       Role
	closed     bool
	joinCancel context.CancelFunc
	joinDone   chan struct{}
}

// NewSession wires the chat components to registrar and browser.
func NewSession(cfg *config.Config, registrar discovery.Registrar, browser discovery.Browser, logger *zap.Logger) (*Session, error) {
	if cfg == nil {
		return nil, errors.New("chat.NewSession: config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		cfg:   cfg,
		log:   logger.Named("chat"),
		raw:   make(chan network.Event, 64),
		out:   make(chan network.Event),
		found: make(chan discovery.Service, 1),
	}
	s.emit = network.NewEmitter(s.raw)

	var err error
	s.host, err = host.New(
		host.WithEvents(s.raw),
		host.WithLogger(logger),
		host.WithAddress(cfg.Host.Address),
		host.WithIdleTimeout(cfg.Host.IdleTimeout),
		host.WithWriteTimeout(cfg.Host.WriteTimeout),
		host.WithOutboxSize(cfg.Host.OutboxSize),
	)
	if err != nil {
		return nil, fmt.Errorf("host: %w", err)
	}
	s.client, err = client.New(
		client.WithEvents(s.raw),
		client.WithLogger(logger),
		client.WithDialTimeout(cfg.Client.DialTimeout),
		client.WithOutboxSize(cfg.Host.OutboxSize),
	)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	s.publisher, err = discovery.NewPublisher(registrar,
		discovery.WithPublisherLogger(logger),
		discovery.WithPublisherServiceType(cfg.Discovery.ServiceType),
	)
	if err != nil {
		return nil, fmt.Errorf("publisher: %w", err)
	}
	s.resolver, err = discovery.NewResolver(browser, s.found,
		discovery.WithSelf(s.publisher),
		discovery.WithResolverLogger(logger),
		discovery.WithResolverServiceType(cfg.Discovery.ServiceType),
	)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}

	go s.pump()
	return s, nil
}

// Events returns the notification stream. It is closed after Close once
// every pending event has been delivered.
func (s *Session) Events() <-chan network.Event {
	return s.out
}

// pump decouples emitters from the reader so that Teardown may be called
// from the goroutine that consumes Events.
func (s *Session) pump() {
	var queue []network.Event
	for {
		var out chan<- network.Event
		var head network.Event
		if len(queue) > 0 {
			out = s.out
			head = queue[0]
		}
		select {
		case ev, ok := <-s.raw:
			if !ok {
				for _, ev := range queue {
					s.out <- ev
				}
				close(s.out)
				return
			}
			queue = append(queue, ev)
		case out <- head:
			queue[0] = network.Event{}
			queue = queue[1:]
		}
	}
}

// Role returns what the Session is doing.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Peers lists the peers connected to the local host.
func (s *Session) Peers() []network.PeerInfo {
	return s.host.Peers()
}

// ServiceName returns the advertised name while hosting.
func (s *Session) ServiceName() string {
	return s.publisher.Name()
}

// Server returns "host:port" of the host this Session joined, if any.
func (s *Session) Server() string {
	return s.client.RemoteAddr()
}

// claim gives the Session role. A joining Session whose last attempt has
// ended may claim RoleJoining again. cancel and done describe the new join
// attempt, if any.
func (s *Session) claim(role Role, cancel context.CancelFunc, done chan struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	retry := role == RoleJoining && s.role == RoleJoining && s.joinSettled() && s.client.State() == network.StateIdle
	if !retry && s.role != RoleNone {
		return ErrBusy
	}
	if s.joinCancel != nil {
		s.joinCancel()
	}
	s.role = role
	s.joinCancel, s.joinDone = cancel, done
	return nil
}

// joinSettled reports whether no discovery is waiting for a host. Callers hold s.mu.
func (s *Session) joinSettled() bool {
	if s.joinDone == nil {
		return true
	}
	select {
	case <-s.joinDone:
		return true
	default:
		return false
	}
}

// reportBusy tells the user what the Session is already doing when claim
// refused a new role.
func (s *Session) reportBusy(err error) {
	if !errors.Is(err, ErrBusy) {
		return
	}
	switch s.Role() {
	case RoleHosting:
		s.emit.Error("", "Server already running.", err)
	case RoleJoining:
		s.emit.Error("", "Already connected.", err)
	}
}

func (s *Session) release() {
	s.mu.Lock()
	if s.joinCancel != nil {
		s.joinCancel()
	}
	s.role = RoleNone
	s.joinCancel, s.joinDone = nil, nil
	s.mu.Unlock()
}

// Host starts the chat host on port (0 picks a free one) and advertises it.
// If advertising fails the host keeps running and the error is returned with
// the bound port.
func (s *Session) Host(ctx context.Context, port int) (int, error) {
	if err := s.claim(RoleHosting, nil, nil); err != nil {
		s.reportBusy(err)
		return 0, err
	}

	bound, err := s.host.Start(ctx, port)
	if err != nil {
		s.release()
		return 0, err
	}

	name, err := s.publisher.Publish(ctx, bound, s.cfg.Discovery.NamePrefix)
	if err != nil {
		s.log.Warn("hosting without advertisement", zap.Int("port", bound), zap.Error(err))
		s.emit.Error("", "Service registration failed: "+err.Error(), err)
		return bound, err
	}
	s.log.Info("hosting", zap.Int("port", bound), zap.String("service", name))
	s.emit.Status("", fmt.Sprintf("Hosting on port %d. Service registered.", bound))
	return bound, nil
}

// Join browses for a host and connects to the first one resolved. It returns
// once browsing has started; progress is reported on Events.
func (s *Session) Join(ctx context.Context) error {
	joinCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	if err := s.claim(RoleJoining, cancel, done); err != nil {
		cancel()
		s.reportBusy(err)
		return err
	}

	// drop a service left over from an earlier attempt
	select {
	case <-s.found:
	default:
	}

	s.emit.Status("", "Discovering services...")
	if err := s.resolver.Discover(joinCtx); err != nil {
		close(done)
		s.release()
		s.emit.Error("", "Discovery failed: "+err.Error(), err)
		return err
	}

	go s.awaitHost(joinCtx, done)
	return nil
}

// JoinAddress connects straight to address:port, skipping discovery.
func (s *Session) JoinAddress(ctx context.Context, address string, port int) error {
	if err := s.claim(RoleJoining, nil, nil); err != nil {
		s.reportBusy(err)
		return err
	}
	s.emit.Status("", fmt.Sprintf("Connecting to %s:%d...", address, port))
	s.client.Connect(ctx, address, port)
	return nil
}

func (s *Session) awaitHost(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	select {
	case <-ctx.Done():
		s.resolver.StopDiscovery()
	case svc := <-s.found:
		s.resolver.StopDiscovery()
		s.log.Info("joining", zap.Stringer("service", svc))
		s.emit.Status("", fmt.Sprintf("Connecting to %s at %s:%d...", svc.Name, svc.Address, svc.Port))
		s.client.Connect(ctx, svc.Address, svc.Port)
	}
}

// Send delivers text to the chat: broadcast when hosting, to the host when joined.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	role, closed := s.role, s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if role == RoleHosting {
		return s.host.SendMessage(text)
	}
	return s.client.SendMessage(text)
}

// Teardown stops the host, withdraws the advertisement, stops discovery and
// disconnects the client, in that order. Every step runs even if an earlier
// one fails; the failures are combined.
func (s *Session) Teardown(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.joinCancel, s.joinDone
	s.joinCancel, s.joinDone = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	var err error
	err = multierr.Append(err, s.host.Stop())
	err = multierr.Append(err, s.publisher.Unpublish(ctx))
	s.resolver.StopDiscovery()
	err = multierr.Append(err, s.client.Disconnect())

	// a service resolved just before StopDiscovery may still be buffered
	select {
	case <-s.found:
	default:
	}

	s.release()
	if err != nil {
		s.log.Warn("teardown finished with errors", zap.Error(err))
	}
	return err
}

// Close tears the Session down and closes Events after the remaining
// notifications have been read.
func (s *Session) Close(ctx context.Context) error {
	err := s.Teardown(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.raw)
	}
	return err
}
