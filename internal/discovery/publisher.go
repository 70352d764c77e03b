package discovery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Publisher advertises this process's host under a unique, timestamped name.
type Publisher struct {
	registrar   Registrar
	serviceType string
	log         *zap.Logger
	now         func() time.Time

	mu      sync.Mutex
	reg     Registration
	name    string
	pending bool
	last    int64
}

// PublisherOption configures a Publisher.
type PublisherOption func(p *Publisher) error

// WithPublisherLogger sets the structured logger.
func WithPublisherLogger(logger *zap.Logger) PublisherOption {
	return func(p *Publisher) error {
		if logger == nil {
			return errors.New("discovery.WithPublisherLogger: logger is nil")
		}
		p.log = logger.Named("discovery")
		return nil
	}
}

// WithPublisherServiceType overrides DefaultServiceType.
func WithPublisherServiceType(serviceType string) PublisherOption {
	return func(p *Publisher) error {
		if err := ValidateServiceType(serviceType); err != nil {
			return err
		}
		p.serviceType = CanonicalServiceType(serviceType)
		return nil
	}
}

// WithClock replaces time.Now for name generation.
func WithClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) error {
		if now == nil {
			return errors.New("discovery.WithClock: clock is nil")
		}
		p.now = now
		return nil
	}
}

// NewPublisher returns an idle Publisher backed by registrar.
func NewPublisher(registrar Registrar, options ...PublisherOption) (*Publisher, error) {
	if registrar == nil {
		return nil, errors.New("discovery.NewPublisher: registrar is nil")
	}
	p := &Publisher{
		registrar:   registrar,
		serviceType: CanonicalServiceType(DefaultServiceType),
		log:         zap.NewNop(),
		now:         time.Now,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Name returns the advertised name, or "" when nothing is published.
// While a registration is in flight it returns the requested name.
func (p *Publisher) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// ServiceType returns the fully qualified type this Publisher registers under.
func (p *Publisher) ServiceType() string {
	return p.serviceType
}

// nextName returns prefix followed by a millisecond timestamp that never
// repeats for this Publisher. Callers hold p.mu.
func (p *Publisher) nextName(prefix string) string {
	ms := p.now().UnixMilli()
	if ms <= p.last {
		ms = p.last + 1
	}
	p.last = ms
	return prefix + strconv.FormatInt(ms, 10)
}

// Publish registers port under a fresh name and returns the name the
// registrar actually assigned. It fails with CodeAlreadyActive while a
// registration is live or in flight.
func (p *Publisher) Publish(ctx context.Context, port int, prefix string) (string, error) {
	if port <= 0 || port > 65535 {
		return "", NewError("publish", CodeBadParameters, fmt.Errorf("invalid port %d", port))
	}

	p.mu.Lock()
	if p.reg != nil || p.pending {
		p.mu.Unlock()
		return "", NewError("publish", CodeAlreadyActive, ErrAlreadyActive)
	}
	name := p.nextName(prefix)
	p.name = name
	p.pending = true
	p.mu.Unlock()

	reg, err := p.registrar.Register(ctx, name, p.serviceType, port)

	p.mu.Lock()
	p.pending = false
	if err != nil {
		p.name = ""
		p.mu.Unlock()
		de := asDiscoveryError("publish", err)
		p.log.Error("registration failed", zap.String("name", name), zap.Int("code", de.Code), zap.Error(err))
		return "", de
	}
	p.reg = reg
	p.name = reg.Name()
	name = p.name
	p.mu.Unlock()

	p.log.Info("service registered", zap.String("name", name), zap.String("type", p.serviceType), zap.Int("port", port))
	return name, nil
}

// Unpublish withdraws the advertisement. State is cleared even when the
// registrar fails; the failure is returned.
func (p *Publisher) Unpublish(ctx context.Context) error {
	p.mu.Lock()
	reg := p.reg
	p.reg = nil
	p.name = ""
	p.mu.Unlock()

	if reg == nil {
		return nil
	}
	if err := reg.Shutdown(ctx); err != nil {
		de := asDiscoveryError("unpublish", err)
		p.log.Error("unregistration failed", zap.String("name", reg.Name()), zap.Int("code", de.Code), zap.Error(err))
		return de
	}
	p.log.Info("service unregistered", zap.String("name", reg.Name()))
	return nil
}
