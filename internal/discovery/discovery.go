// Package discovery lets a chat host advertise itself on the local network and
// lets clients find it, using DNS-SD service records.
//
// The platform side (mDNS responder, browser) is reached only through the
// Registrar and Browser interfaces, so Publisher and Resolver work the same on
// top of zeroconf, hashicorp/mdns or the in-memory backend.
package discovery

import (
	"context"
	"fmt"
)

const (
	// DefaultServiceType is the DNS-SD type under which chat hosts are advertised.
	DefaultServiceType = "_lanchat._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
)

// Service is one resolved chat host.
type Service struct {
	Name    string
	Type    string
	Address string
	Port    int
}

func (s Service) String() string {
	return fmt.Sprintf("%s (%s:%d)", s.Name, s.Address, s.Port)
}

// Endpoint is the address a service name resolves to.
type Endpoint struct {
	Address string
	Port    int
}

// BrowseEventKind tells whether a service appeared or went away.
type BrowseEventKind int

const (
	ServiceFound BrowseEventKind = iota
	ServiceLost
)

func (k BrowseEventKind) String() string {
	if k == ServiceLost {
		return "lost"
	}
	return "found"
}

// BrowseEvent is produced by a Browser for every change it observes.
type BrowseEvent struct {
	Kind BrowseEventKind
	Name string
	Type string
}

// Registration is a live advertisement.
type Registration interface {
	// Name is the instance name actually registered, which may differ from the requested one.
	Name() string
	Shutdown(ctx context.Context) error
}

// Registrar advertises services.
type Registrar interface {
	Register(ctx context.Context, name, serviceType string, port int) (Registration, error)
}

// Browser watches for services and resolves them.
//
// Browse must not block: it starts watching and returns. Events are sent on
// events until ctx is canceled; the channel is never closed by the Browser.
type Browser interface {
	Browse(ctx context.Context, serviceType string, events chan<- BrowseEvent) error
	Resolve(ctx context.Context, name, serviceType string) (Endpoint, error)
}

// Namer reports the name currently advertised by this process. *Publisher implements it.
type Namer interface {
	Name() string
}
