package host

import (
	"errors"
	"sync"

	"lanchat/internal/network"
)

var errOutboxFull = errors.New("outbox full")

// peer is one accepted connection together with its outbound queue.
type peer struct {
	info   network.PeerInfo
	conn   *network.Conn
	outbox chan string
	done   <-chan struct{}
}

// enqueue hands line to the peer's writer without blocking the caller.
func (p *peer) enqueue(line string) error {
	select {
	case <-p.done:
		return errors.New("connection closed")
	default:
	}
	select {
	case p.outbox <- line:
		return nil
	case <-p.done:
		return errors.New("connection closed")
	default:
		return errOutboxFull
	}
}

// registry is the set of connected peers, safe for concurrent use.
// Iteration always works on a snapshot so removals during a broadcast are harmless.
type registry struct {
	mu   sync.RWMutex
	list map[string]*peer
}

func newRegistry() *registry {
	return &registry{
		list: make(map[string]*peer),
	}
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.list)
}

func (r *registry) add(p *peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.list[p.info.ID]; ok {
		return false
	}
	r.list[p.info.ID] = p
	return true
}

func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.list[id]; !ok {
		return false
	}
	delete(r.list, id)
	return true
}

func (r *registry) snapshot() []*peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*peer, 0, len(r.list))
	for _, p := range r.list {
		out = append(out, p)
	}
	return out
}

// drain empties the registry and returns what it held.
func (r *registry) drain() []*peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*peer, 0, len(r.list))
	for id, p := range r.list {
		out = append(out, p)
		delete(r.list, id)
	}
	return out
}
