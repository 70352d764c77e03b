package discovery

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Resolver browses for chat hosts and delivers each resolved one on its
// output channel.
type Resolver struct {
	browser     Browser
	out         chan<- Service
	serviceType string
	self        Namer
	log         *zap.Logger
	eventBuffer int

	mu        sync.Mutex
	cancel    context.CancelFunc
	tasks     *errgroup.Group
	resolving map[string]struct{}
}

// ResolverOption configures a Resolver.
type ResolverOption func(r *Resolver) error

// WithSelf excludes the name currently advertised by namer. The name is read
// each time a service is found, so publishing after Discover still works.
func WithSelf(namer Namer) ResolverOption {
	return func(r *Resolver) error {
		if namer == nil {
			return errors.New("discovery.WithSelf: namer is nil")
		}
		r.self = namer
		return nil
	}
}

// WithResolverLogger sets the structured logger.
func WithResolverLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) error {
		if logger == nil {
			return errors.New("discovery.WithResolverLogger: logger is nil")
		}
		r.log = logger.Named("discovery")
		return nil
	}
}

// WithResolverServiceType overrides DefaultServiceType.
func WithResolverServiceType(serviceType string) ResolverOption {
	return func(r *Resolver) error {
		if err := ValidateServiceType(serviceType); err != nil {
			return err
		}
		r.serviceType = CanonicalServiceType(serviceType)
		return nil
	}
}

// NewResolver returns an idle Resolver. Resolved services are sent on out,
// which the caller must drain while discovery is active.
func NewResolver(browser Browser, out chan<- Service, options ...ResolverOption) (*Resolver, error) {
	if browser == nil {
		return nil, errors.New("discovery.NewResolver: browser is nil")
	}
	if out == nil {
		return nil, errors.New("discovery.NewResolver: output channel is nil")
	}
	r := &Resolver{
		browser:     browser,
		out:         out,
		serviceType: CanonicalServiceType(DefaultServiceType),
		log:         zap.NewNop(),
		eventBuffer: 16,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Active reports whether Discover has been called without a matching StopDiscovery.
func (r *Resolver) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Discover starts browsing. It returns once the browser is watching.
func (r *Resolver) Discover(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return NewError("discover", CodeAlreadyActive, ErrAlreadyActive)
	}

	runCtx, cancel := context.WithCancel(ctx)
	events := make(chan BrowseEvent, r.eventBuffer)
	if err := r.browser.Browse(runCtx, r.serviceType, events); err != nil {
		cancel()
		de := asDiscoveryError("discover", err)
		r.log.Error("discovery start failed", zap.Int("code", de.Code), zap.Error(err))
		return de
	}

	tasks := &errgroup.Group{}
	r.cancel = cancel
	r.tasks = tasks
	r.resolving = make(map[string]struct{})
	r.log.Info("discovery started", zap.String("type", r.serviceType))

	tasks.Go(func() error {
		r.consume(runCtx, tasks, events)
		return nil
	})
	return nil
}

func (r *Resolver) consume(ctx context.Context, tasks *errgroup.Group, events <-chan BrowseEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			r.handle(ctx, tasks, ev)
		}
	}
}

func (r *Resolver) handle(ctx context.Context, tasks *errgroup.Group, ev BrowseEvent) {
	log := r.log.With(zap.String("name", ev.Name), zap.String("type", ev.Type))
	if !SameServiceType(ev.Type, r.serviceType) {
		log.Debug("ignoring foreign service type")
		return
	}
	if ev.Kind == ServiceLost {
		log.Info("service lost")
		return
	}
	if r.self != nil {
		if own := r.self.Name(); own != "" && own == ev.Name {
			log.Debug("ignoring own service")
			return
		}
	}

	r.mu.Lock()
	if r.resolving == nil {
		r.mu.Unlock()
		return
	}
	if _, busy := r.resolving[ev.Name]; busy {
		r.mu.Unlock()
		return
	}
	r.resolving[ev.Name] = struct{}{}
	r.mu.Unlock()

	log.Info("service found")
	tasks.Go(func() error {
		r.resolve(ctx, ev.Name)
		return nil
	})
}

func (r *Resolver) resolve(ctx context.Context, name string) {
	ep, err := r.browser.Resolve(ctx, name, r.serviceType)

	r.mu.Lock()
	if r.resolving != nil {
		delete(r.resolving, name)
	}
	r.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		de := asDiscoveryError("resolve", err)
		r.log.Error("resolve failed", zap.String("name", name), zap.Int("code", de.Code), zap.Error(err))
		return
	}

	svc := Service{Name: name, Type: r.serviceType, Address: ep.Address, Port: ep.Port}
	r.log.Info("service resolved", zap.Stringer("service", svc))
	select {
	case r.out <- svc:
	case <-ctx.Done():
	}
}

// StopDiscovery cancels browsing and in-flight resolves and waits for them.
// Calling it when discovery is not active does nothing.
func (r *Resolver) StopDiscovery() {
	r.mu.Lock()
	cancel, tasks := r.cancel, r.tasks
	r.cancel, r.tasks, r.resolving = nil, nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	tasks.Wait()
	r.log.Info("discovery stopped")
}
