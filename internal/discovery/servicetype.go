package discovery

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// ValidateServiceType checks that t looks like "_name._tcp" or "_name._udp",
// with or without the trailing dot.
func ValidateServiceType(t string) error {
	fq := dns.Fqdn(strings.TrimSpace(t))
	if _, ok := dns.IsDomainName(fq); !ok {
		return fmt.Errorf("%w: %q is not a domain name", ErrInvalidServiceType, t)
	}
	labels := dns.SplitDomainName(fq)
	if len(labels) != 2 {
		return fmt.Errorf("%w: %q must have exactly two labels", ErrInvalidServiceType, t)
	}
	name, proto := labels[0], labels[1]
	// RFC 6335: service names are 1-15 characters.
	if !strings.HasPrefix(name, "_") || len(name) < 2 || len(name) > 16 {
		return fmt.Errorf("%w: bad service label %q", ErrInvalidServiceType, name)
	}
	if proto != "_tcp" && proto != "_udp" {
		return fmt.Errorf("%w: protocol label must be _tcp or _udp, got %q", ErrInvalidServiceType, proto)
	}
	return nil
}

// CanonicalServiceType returns t in fully qualified form ("_lanchat._tcp.").
func CanonicalServiceType(t string) string {
	return dns.Fqdn(strings.TrimSpace(t))
}

// SameServiceType compares two service types ignoring the trailing dot.
func SameServiceType(a, b string) bool {
	return CanonicalServiceType(a) == CanonicalServiceType(b)
}

// bareServiceType strips the trailing dot, the form mDNS libraries expect.
func bareServiceType(t string) string {
	return strings.TrimSuffix(CanonicalServiceType(t), ".")
}
