package chat

import (
	"fmt"

	"go.uber.org/zap"

	"lanchat/internal/config"
	"lanchat/internal/discovery"
	"lanchat/internal/discovery/memory"
)

// NewBackend builds the discovery backend named by cfg.Backend.
func NewBackend(cfg config.DiscoveryConfig, logger *zap.Logger) (discovery.Registrar, discovery.Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case config.BackendZeroconf, "":
		z, err := discovery.NewZeroconf(
			discovery.WithZeroconfDomain(cfg.Domain),
			discovery.WithZeroconfResolveTimeout(cfg.ResolveTimeout),
			discovery.WithZeroconfLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		return z, z, nil
	case config.BackendHashicorp:
		h, err := discovery.NewHashicorp(
			discovery.WithHashicorpDomain(cfg.Domain),
			discovery.WithHashicorpQueryTimeout(cfg.ResolveTimeout),
			discovery.WithHashicorpLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		return h, h, nil
	case config.BackendMemory:
		n := memory.New()
		return n, n, nil
	default:
		return nil, nil, fmt.Errorf("unknown discovery backend %q", cfg.Backend)
	}
}
