package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"
)

// Hashicorp is the multicast DNS backend built on github.com/hashicorp/mdns.
// It browses by repeating one-shot queries, and reports a service lost once
// it has been missing from two consecutive rounds.
type Hashicorp struct {
	domain         string
	queryTimeout   time.Duration
	browseInterval time.Duration
	log            *zap.Logger

	mu   sync.Mutex
	seen map[string]Endpoint
}

// HashicorpOption configures a Hashicorp backend.
type HashicorpOption func(h *Hashicorp) error

// WithHashicorpDomain overrides DefaultDomain.
func WithHashicorpDomain(domain string) HashicorpOption {
	return func(h *Hashicorp) error {
		if domain == "" {
			return errors.New("discovery.WithHashicorpDomain: empty domain")
		}
		h.domain = domain
		return nil
	}
}

// WithHashicorpQueryTimeout bounds one query round, and therefore one Resolve.
func WithHashicorpQueryTimeout(timeout time.Duration) HashicorpOption {
	return func(h *Hashicorp) error {
		if timeout <= 0 {
			return fmt.Errorf("discovery.WithHashicorpQueryTimeout: invalid timeout (%v)", timeout)
		}
		h.queryTimeout = timeout
		return nil
	}
}

// WithHashicorpBrowseInterval sets the pause between browse rounds.
func WithHashicorpBrowseInterval(interval time.Duration) HashicorpOption {
	return func(h *Hashicorp) error {
		if interval <= 0 {
			return fmt.Errorf("discovery.WithHashicorpBrowseInterval: invalid interval (%v)", interval)
		}
		h.browseInterval = interval
		return nil
	}
}

// WithHashicorpLogger sets the structured logger.
func WithHashicorpLogger(logger *zap.Logger) HashicorpOption {
	return func(h *Hashicorp) error {
		if logger == nil {
			return errors.New("discovery.WithHashicorpLogger: logger is nil")
		}
		h.log = logger.Named("mdns")
		return nil
	}
}

// NewHashicorp returns a hashicorp/mdns backed Registrar and Browser.
func NewHashicorp(options ...HashicorpOption) (*Hashicorp, error) {
	h := &Hashicorp{
		domain:         DefaultDomain,
		queryTimeout:   2 * time.Second,
		browseInterval: 10 * time.Second,
		log:            zap.NewNop(),
		seen:           make(map[string]Endpoint),
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(h); err != nil {
			return nil, err
		}
	}
	return h, nil
}

type hashicorpRegistration struct {
	name   string
	server *mdns.Server
}

func (r *hashicorpRegistration) Name() string {
	return r.name
}

func (r *hashicorpRegistration) Shutdown(context.Context) error {
	return r.server.Shutdown()
}

// Register starts an mDNS responder for name.
func (h *Hashicorp) Register(_ context.Context, name, serviceType string, port int) (Registration, error) {
	if err := ValidateServiceType(serviceType); err != nil {
		return nil, NewError("register", CodeBadParameters, err)
	}
	service, err := mdns.NewMDNSService(name, bareServiceType(serviceType), h.domain, "", port, nil, []string{"txtv=1"})
	if err != nil {
		return nil, NewError("register", CodeBadParameters, fmt.Errorf("failed to create mDNS service: %w", err))
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, NewError("register", CodeInternal, fmt.Errorf("failed to start mDNS server: %w", err))
	}
	h.log.Debug("advertisement started", zap.String("name", name), zap.Int("port", port))
	return &hashicorpRegistration{name: name, server: server}, nil
}

// Browse runs query rounds until ctx is canceled.
func (h *Hashicorp) Browse(ctx context.Context, serviceType string, events chan<- BrowseEvent) error {
	if err := ValidateServiceType(serviceType); err != nil {
		return NewError("browse", CodeBadParameters, err)
	}
	canonical := CanonicalServiceType(serviceType)

	go func() {
		missed := make(map[string]int)
		ticker := time.NewTicker(h.browseInterval)
		defer ticker.Stop()

		for {
			found, err := h.query(ctx, serviceType)
			if err != nil {
				h.log.Debug("mDNS query failed", zap.Error(err))
			}

			var out []BrowseEvent
			for name := range found {
				if _, known := missed[name]; !known {
					out = append(out, BrowseEvent{Kind: ServiceFound, Name: name, Type: canonical})
				}
				missed[name] = 0
			}
			for name := range missed {
				if _, ok := found[name]; ok {
					continue
				}
				missed[name]++
				if missed[name] >= 2 {
					delete(missed, name)
					h.forget(name)
					out = append(out, BrowseEvent{Kind: ServiceLost, Name: name, Type: canonical})
				}
			}

			for _, ev := range out {
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

// Resolve returns the endpoint of name, from the browse cache or a fresh query.
func (h *Hashicorp) Resolve(ctx context.Context, name, serviceType string) (Endpoint, error) {
	if ep, ok := h.cached(name); ok {
		return ep, nil
	}
	found, err := h.query(ctx, serviceType)
	if ep, ok := found[name]; ok {
		return ep, nil
	}
	if err != nil {
		return Endpoint{}, NewError("resolve", CodeInternal, fmt.Errorf("query %q: %w", name, err))
	}
	if ctx.Err() != nil {
		return Endpoint{}, NewError("resolve", CodeInternal, ctx.Err())
	}
	return Endpoint{}, NewError("resolve", CodeInternal, fmt.Errorf("query %q: %w", name, ErrNotFound))
}

// query runs one round and returns the instances that answered.
func (h *Hashicorp) query(ctx context.Context, serviceType string) (map[string]Endpoint, error) {
	service := bareServiceType(serviceType)
	suffix := "." + service + "." + strings.TrimSuffix(h.domain, ".") + "."

	entries := make(chan *mdns.ServiceEntry, 16)
	found := make(map[string]Endpoint)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for entry := range entries {
			name, ok := instanceName(entry.Name, suffix)
			if !ok || entry.Port == 0 {
				continue
			}
			ep := Endpoint{Port: entry.Port}
			switch {
			case entry.AddrV4 != nil:
				ep.Address = entry.AddrV4.String()
			case entry.AddrV6 != nil:
				ep.Address = entry.AddrV6.String()
			default:
				continue
			}
			found[name] = ep
			h.remember(name, ep)
		}
	}()

	timeout := h.queryTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	var err error
	if timeout > 0 && ctx.Err() == nil {
		err = mdns.Query(&mdns.QueryParam{
			Service:     service,
			Domain:      strings.TrimSuffix(h.domain, "."),
			Timeout:     timeout,
			Entries:     entries,
			DisableIPv6: true,
		})
	}
	close(entries)
	<-collected
	return found, err
}

func instanceName(fqdn, suffix string) (string, bool) {
	if len(fqdn) <= len(suffix) || !strings.EqualFold(fqdn[len(fqdn)-len(suffix):], suffix) {
		return "", false
	}
	return strings.ReplaceAll(fqdn[:len(fqdn)-len(suffix)], `\ `, " "), true
}

func (h *Hashicorp) remember(name string, ep Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen[name] = ep
}

func (h *Hashicorp) forget(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.seen, name)
}

func (h *Hashicorp) cached(name string) (Endpoint, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ep, ok := h.seen[name]
	return ep, ok
}
