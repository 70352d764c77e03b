package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

// Zeroconf is the multicast DNS backend built on github.com/grandcat/zeroconf.
type Zeroconf struct {
	domain         string
	resolveTimeout time.Duration
	ifaces         []net.Interface
	log            *zap.Logger

	mutex sync.Mutex
	seen  map[string]Endpoint
}

// ZeroconfOption configures a Zeroconf backend.
type ZeroconfOption func(z *Zeroconf) error

// WithZeroconfDomain overrides DefaultDomain.
func WithZeroconfDomain(domain string) ZeroconfOption {
	return func(z *Zeroconf) error {
		if domain == "" {
			return errors.New("discovery.WithZeroconfDomain: empty domain")
		}
		z.domain = domain
		return nil
	}
}

// WithZeroconfResolveTimeout bounds a single Resolve lookup.
func WithZeroconfResolveTimeout(timeout time.Duration) ZeroconfOption {
	return func(z *Zeroconf) error {
		if timeout <= 0 {
			return fmt.Errorf("discovery.WithZeroconfResolveTimeout: invalid timeout (%v)", timeout)
		}
		z.resolveTimeout = timeout
		return nil
	}
}

// WithZeroconfInterfaces restricts advertising to ifaces. Default is all.
func WithZeroconfInterfaces(ifaces []net.Interface) ZeroconfOption {
	return func(z *Zeroconf) error {
		z.ifaces = ifaces
		return nil
	}
}

// WithZeroconfLogger sets the structured logger.
func WithZeroconfLogger(logger *zap.Logger) ZeroconfOption {
	return func(z *Zeroconf) error {
		if logger == nil {
			return errors.New("discovery.WithZeroconfLogger: logger is nil")
		}
		z.log = logger.Named("zeroconf")
		return nil
	}
}

// NewZeroconf returns a backend that advertises and browses on all interfaces.
func NewZeroconf(options ...ZeroconfOption) (*Zeroconf, error) {
	z := &Zeroconf{
		domain:         DefaultDomain,
		resolveTimeout: 5 * time.Second,
		log:            zap.NewNop(),
		seen:           make(map[string]Endpoint),
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(z); err != nil {
			return nil, err
		}
	}
	return z, nil
}

type zeroconfRegistration struct {
	name   string
	server *zeroconf.Server
	log    *zap.Logger
}

func (r *zeroconfRegistration) Name() string {
	return r.name
}

func (r *zeroconfRegistration) Shutdown(context.Context) error {
	r.log.Debug("stopping advertisement", zap.String("name", r.name))
	r.server.Shutdown()
	return nil
}

// Register advertises name on port. zeroconf does not rename on conflict, so
// the registered name is always the requested one.
func (z *Zeroconf) Register(_ context.Context, name, serviceType string, port int) (Registration, error) {
	if err := ValidateServiceType(serviceType); err != nil {
		return nil, NewError("register", CodeBadParameters, err)
	}
	server, err := zeroconf.Register(name, bareServiceType(serviceType), z.domain, port, []string{"txtv=1"}, z.ifaces)
	if err != nil {
		return nil, NewError("register", CodeInternal, fmt.Errorf("failed to register mDNS service: %w", err))
	}
	z.log.Debug("advertisement started", zap.String("name", name), zap.Int("port", port))
	return &zeroconfRegistration{name: name, server: server, log: z.log}, nil
}

// Browse watches for serviceType until ctx is canceled. Entries carry
// addresses, which are cached so Resolve can usually skip a second lookup.
// zeroconf does not surface goodbye packets, so no ServiceLost events are produced.
func (z *Zeroconf) Browse(ctx context.Context, serviceType string, events chan<- BrowseEvent) error {
	if err := ValidateServiceType(serviceType); err != nil {
		return NewError("browse", CodeBadParameters, err)
	}
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return NewError("browse", CodeInternal, fmt.Errorf("failed to create resolver: %w", err))
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, bareServiceType(serviceType), z.domain, entries); err != nil {
		return NewError("browse", CodeInternal, fmt.Errorf("failed to browse: %w", err))
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					z.log.Debug("browse channel closed")
					return
				}
				if ep, ok := endpointOf(entry); ok {
					z.remember(entry.Instance, ep)
				}
				ev := BrowseEvent{Kind: ServiceFound, Name: entry.Instance, Type: CanonicalServiceType(entry.Service)}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

// Resolve returns the endpoint of name, from the browse cache or a fresh lookup.
func (z *Zeroconf) Resolve(ctx context.Context, name, serviceType string) (Endpoint, error) {
	if ep, ok := z.cached(name); ok {
		return ep, nil
	}

	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return Endpoint{}, NewError("resolve", CodeInternal, fmt.Errorf("failed to create resolver: %w", err))
	}
	ctx, cancel := context.WithTimeout(ctx, z.resolveTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := resolver.Lookup(ctx, name, bareServiceType(serviceType), z.domain, entries); err != nil {
		return Endpoint{}, NewError("resolve", CodeInternal, fmt.Errorf("lookup %q: %w", name, err))
	}
	for {
		select {
		case <-ctx.Done():
			return Endpoint{}, NewError("resolve", CodeInternal, fmt.Errorf("lookup %q: %w", name, ErrNotFound))
		case entry, ok := <-entries:
			if !ok {
				return Endpoint{}, NewError("resolve", CodeInternal, fmt.Errorf("lookup %q: %w", name, ErrNotFound))
			}
			if ep, ok := endpointOf(entry); ok {
				z.remember(name, ep)
				return ep, nil
			}
		}
	}
}

func (z *Zeroconf) remember(name string, ep Endpoint) {
	z.mutex.Lock()
	defer z.mutex.Unlock()
	z.seen[name] = ep
}

func (z *Zeroconf) cached(name string) (Endpoint, bool) {
	z.mutex.Lock()
	defer z.mutex.Unlock()
	ep, ok := z.seen[name]
	return ep, ok
}

// endpointOf prefers IPv4, like the chat client expects.
func endpointOf(entry *zeroconf.ServiceEntry) (Endpoint, bool) {
	if entry == nil || entry.Port == 0 {
		return Endpoint{}, false
	}
	switch {
	case len(entry.AddrIPv4) > 0:
		return Endpoint{Address: entry.AddrIPv4[0].String(), Port: entry.Port}, true
	case len(entry.AddrIPv6) > 0:
		return Endpoint{Address: entry.AddrIPv6[0].String(), Port: entry.Port}, true
	}
	return Endpoint{}, false
}
