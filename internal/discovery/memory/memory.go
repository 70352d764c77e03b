// Package memory is an in-process discovery backend. It is useful for tests
// and for running several chat peers inside one process.
package memory

import (
	"context"
	"fmt"
	"sync"

	"lanchat/internal/discovery"
)

type service struct {
	name     string
	typ      string
	endpoint discovery.Endpoint
}

type watcher struct {
	ctx    context.Context
	typ    string
	events chan<- discovery.BrowseEvent
}

// Network is a shared registry of advertised services.
type Network struct {
	address string

	mu       sync.RWMutex
	services map[string]service
	watchers map[int]*watcher
	nextID   int
}

// New returns an empty Network whose services resolve to 127.0.0.1.
func New() *Network {
	return NewWithAddress("127.0.0.1")
}

// NewWithAddress returns an empty Network whose services resolve to address.
func NewWithAddress(address string) *Network {
	return &Network{
		address:  address,
		services: map[string]service{},
		watchers: map[int]*watcher{},
	}
}

func key(name, typ string) string {
	return discovery.CanonicalServiceType(typ) + "/" + name
}

// Register advertises name. A name already taken for the same type is
// renamed "name (2)", "name (3)" and so on, as mDNS responders do.
func (n *Network) Register(_ context.Context, name, serviceType string, port int) (discovery.Registration, error) {
	if err := discovery.ValidateServiceType(serviceType); err != nil {
		return nil, discovery.NewError("register", discovery.CodeBadParameters, err)
	}

	n.mu.Lock()
	assigned := name
	for i := 2; ; i++ {
		if _, taken := n.services[key(assigned, serviceType)]; !taken {
			break
		}
		assigned = fmt.Sprintf("%s (%d)", name, i)
	}
	svc := service{
		name:     assigned,
		typ:      discovery.CanonicalServiceType(serviceType),
		endpoint: discovery.Endpoint{Address: n.address, Port: port},
	}
	n.services[key(assigned, serviceType)] = svc
	targets := n.watching(svc.typ)
	n.mu.Unlock()

	notify(targets, discovery.BrowseEvent{Kind: discovery.ServiceFound, Name: svc.name, Type: svc.typ})
	return &registration{network: n, svc: svc}, nil
}

// Browse reports every service of serviceType already registered, then
// every later registration and withdrawal, until ctx is canceled.
func (n *Network) Browse(ctx context.Context, serviceType string, events chan<- discovery.BrowseEvent) error {
	if err := discovery.ValidateServiceType(serviceType); err != nil {
		return discovery.NewError("browse", discovery.CodeBadParameters, err)
	}
	w := &watcher{ctx: ctx, typ: discovery.CanonicalServiceType(serviceType), events: events}

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.watchers[id] = w
	var existing []discovery.BrowseEvent
	for _, svc := range n.services {
		if svc.typ == w.typ {
			existing = append(existing, discovery.BrowseEvent{Kind: discovery.ServiceFound, Name: svc.name, Type: svc.typ})
		}
	}
	n.mu.Unlock()

	go func() {
		for _, ev := range existing {
			notify([]*watcher{w}, ev)
		}
		<-ctx.Done()
		n.mu.Lock()
		delete(n.watchers, id)
		n.mu.Unlock()
	}()
	return nil
}

// Resolve returns the endpoint registered under name.
func (n *Network) Resolve(_ context.Context, name, serviceType string) (discovery.Endpoint, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	svc, ok := n.services[key(name, serviceType)]
	if !ok {
		return discovery.Endpoint{}, discovery.NewError("resolve", discovery.CodeInternal, fmt.Errorf("%q: %w", name, discovery.ErrNotFound))
	}
	return svc.endpoint, nil
}

// Services returns the names currently registered for serviceType.
func (n *Network) Services(serviceType string) []string {
	typ := discovery.CanonicalServiceType(serviceType)
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.services))
	for _, svc := range n.services {
		if svc.typ == typ {
			out = append(out, svc.name)
		}
	}
	return out
}

// watching returns the live watchers for typ. Callers hold n.mu.
func (n *Network) watching(typ string) []*watcher {
	var out []*watcher
	for _, w := range n.watchers {
		if w.typ == typ && w.ctx.Err() == nil {
			out = append(out, w)
		}
	}
	return out
}

func (n *Network) withdraw(svc service) bool {
	n.mu.Lock()
	k := key(svc.name, svc.typ)
	if _, ok := n.services[k]; !ok {
		n.mu.Unlock()
		return false
	}
	delete(n.services, k)
	targets := n.watching(svc.typ)
	n.mu.Unlock()

	notify(targets, discovery.BrowseEvent{Kind: discovery.ServiceLost, Name: svc.name, Type: svc.typ})
	return true
}

// notify delivers ev outside the lock, giving up on watchers that went away.
func notify(targets []*watcher, ev discovery.BrowseEvent) {
	for _, w := range targets {
		select {
		case w.events <- ev:
		case <-w.ctx.Done():
		}
	}
}

type registration struct {
	network *Network
	svc     service
}

func (r *registration) Name() string {
	return r.svc.name
}

func (r *registration) Shutdown(context.Context) error {
	if !r.network.withdraw(r.svc) {
		return discovery.NewError("unregister", discovery.CodeNotRunning, fmt.Errorf("%q: %w", r.svc.name, discovery.ErrNotFound))
	}
	return nil
}
