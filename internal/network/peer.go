package network

import (
	"time"

	"github.com/google/uuid"
)

// PeerInfo describes one connection accepted by a Host.
type PeerInfo struct {
	ID          string
	Address     string
	ConnectedAt time.Time
}

// NewPeerInfo creates a PeerInfo with a fresh unique ID.
func NewPeerInfo(address string) PeerInfo {
	return PeerInfo{
		ID:          uuid.New().String(),
		Address:     address,
		ConnectedAt: time.Now().UTC(),
	}
}
