// Package host implements the broadcasting side of the chat: it listens for
// peers and relays every line it receives to all other connected peers.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lanchat/internal/network"
)

// Host accepts chat peers on a TCP listener and relays messages between them.
type Host struct {
	log          *zap.Logger
	events       *network.Emitter
	address      string
	idleTimeout  time.Duration
	writeTimeout time.Duration
	outboxSize   int
	newBackOff   func() backoff.BackOff

	life network.Lifecycle

	mu       sync.Mutex
	listener net.Listener
	port     int
	cancel   context.CancelFunc
	tasks    *errgroup.Group
	// done is closed once the current run has fully stopped.
	done chan struct{}

	peers *registry
}

// New builds a Host with the given options.
func New(options ...Option) (*Host, error) {
	h := &Host{
		log:        zap.NewNop(),
		outboxSize: 32,
		newBackOff: defaultAcceptBackOff,
		peers:      newRegistry(),
	}
	if err := setup(h, options...); err != nil {
		return nil, err
	}
	return h, nil
}

// Port returns the bound port, or 0 when the Host is not listening.
func (h *Host) Port() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.port
}

// State returns the current lifecycle state.
func (h *Host) State() network.State {
	return h.life.Get()
}

// Peers returns a snapshot of the connected peers.
func (h *Host) Peers() []network.PeerInfo {
	snapshot := h.peers.snapshot()
	out := make([]network.PeerInfo, 0, h.peers.len())
	for _, p := range snapshot {
		out = append(out, p.info)
	}
	return out
}

// Start binds requestedPort (0 picks any free port) and begins accepting peers
// in the background. It returns the port actually bound.
func (h *Host) Start(ctx context.Context, requestedPort int) (int, error) {
	done := make(chan struct{})
	h.mu.Lock()
	if !h.life.Transition(network.StateIdle, network.StateStarting) {
		h.mu.Unlock()
		err := &network.StateError{Op: "start", State: h.life.Get()}
		h.events.Error("", "Server already running.", &network.BindError{Port: requestedPort, Err: err})
		return 0, &network.BindError{Port: requestedPort, Err: err}
	}
	h.done = done
	h.mu.Unlock()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(h.address, strconv.Itoa(requestedPort)))
	if err != nil {
		bindErr := &network.BindError{Port: requestedPort, Err: err}
		h.log.Error("listen failed", zap.Int("port", requestedPort), zap.Error(err))
		h.events.Error("", "Server error: "+err.Error(), bindErr)
		h.mu.Lock()
		if h.life.Transition(network.StateStarting, network.StateIdle) {
			close(done)
		}
		h.mu.Unlock()
		return 0, bindErr
	}
	return h.serve(ln, done, requestedPort)
}

// serve takes over ln for the run identified by done. If Stop has ended that
// run in the meantime, ln is closed and nothing is recorded.
func (h *Host) serve(ln net.Listener, done chan struct{}, requestedPort int) (int, error) {
	port := ln.Addr().(*net.TCPAddr).Port

	runCtx, cancel := context.WithCancel(context.Background())
	tasks := &errgroup.Group{}

	h.mu.Lock()
	if h.done != done || !h.life.Transition(network.StateStarting, network.StateRunning) {
		// Stop ran while we were binding.
		h.mu.Unlock()
		cancel()
		ln.Close()
		return 0, &network.BindError{Port: requestedPort, Err: &network.StateError{Op: "start", State: h.life.Get()}}
	}
	h.listener = ln
	h.port = port
	h.cancel = cancel
	h.tasks = tasks
	h.mu.Unlock()

	h.log.Info("listening", zap.String("addr", ln.Addr().String()))
	h.events.Status("", fmt.Sprintf("Server started on port %d", port))

	tasks.Go(func() error {
		h.acceptLoop(runCtx, ln, tasks)
		return nil
	})
	return port, nil
}

func (h *Host) acceptLoop(ctx context.Context, ln net.Listener, tasks *errgroup.Group) {
	policy := h.newBackOff()
	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				h.log.Error("listener closed while running", zap.Error(err))
				h.events.Error("", "Server error: "+err.Error(), err)
				go h.Stop()
				return
			}
			h.log.Warn("accept failed", zap.Error(err))
			h.events.Error("", "Error accepting client: "+err.Error(), err)

			delay := policy.NextBackOff()
			if delay == backoff.Stop {
				delay = time.Second
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}
		policy.Reset()
		h.admit(ctx, raw, tasks)
	}
}

// admit registers a freshly accepted connection and starts its reader and writer.
func (h *Host) admit(ctx context.Context, raw net.Conn, tasks *errgroup.Group) {
	conn := network.NewConn(raw)
	if ctx.Err() != nil {
		conn.Close()
		return
	}

	peerCtx, cancel := context.WithCancel(ctx)
	p := &peer{
		info:   network.NewPeerInfo(conn.RemoteHost()),
		conn:   conn,
		outbox: make(chan string, h.outboxSize),
		done:   peerCtx.Done(),
	}
	h.peers.add(p)

	h.log.Info("peer connected", zap.String("peer", p.info.ID), zap.String("addr", conn.RemoteAddr().String()))
	h.events.Status(p.info.Address, "Client connected: "+p.info.Address)

	tasks.Go(func() error {
		h.writeLoop(peerCtx, p)
		return nil
	})
	tasks.Go(func() error {
		defer cancel()
		h.readLoop(peerCtx, p)
		return nil
	})
}

// readLoop relays every line from p until the peer goes away.
func (h *Host) readLoop(ctx context.Context, p *peer) {
	addr := p.info.Address
	defer func() {
		h.peers.remove(p.info.ID)
		if err := p.conn.Close(); err != nil {
			h.log.Debug("close peer", zap.String("peer", p.info.ID), zap.Error(err))
		}
		h.log.Info("peer disconnected", zap.String("peer", p.info.ID))
		h.events.Status(addr, "Client disconnected: "+addr)
	}()

	for {
		if h.idleTimeout > 0 {
			p.conn.SetReadDeadline(time.Now().Add(h.idleTimeout))
		}
		line, err := p.conn.ReadLine()
		if err != nil {
			var netErr net.Error
			switch {
			case h.idleTimeout > 0 && errors.As(err, &netErr) && netErr.Timeout():
				h.events.Status(addr, "Client timed out: "+addr)
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), ctx.Err() != nil:
			default:
				h.log.Debug("read failed", zap.String("peer", p.info.ID),
					zap.Error(&network.IOError{Op: "read", Peer: addr, Err: err}))
			}
			return
		}
		h.events.Message(addr, fmt.Sprintf("Client (%s): %s", addr, line))
		h.broadcast(line, p.info.ID)
	}
}

// writeLoop drains p's outbox onto the socket in order.
// A failed write is reported; the peer stays registered until its reader stops.
func (h *Host) writeLoop(ctx context.Context, p *peer) {
	addr := p.info.Address
	for {
		select {
		case <-ctx.Done():
			p.conn.Close()
			return
		case line := <-p.outbox:
			if err := p.conn.WriteLine(line, h.writeTimeout); err != nil {
				ioErr := &network.IOError{Op: "write", Peer: addr, Err: err}
				h.log.Warn("write failed", zap.String("peer", p.info.ID), zap.Error(err))
				h.events.Error(addr, fmt.Sprintf("Error sending to %s: %v", addr, err), ioErr)
			}
		}
	}
}

// broadcast queues line for every peer except the one with ID exclude.
func (h *Host) broadcast(line, exclude string) {
	for _, p := range h.peers.snapshot() {
		if p.info.ID == exclude {
			continue
		}
		if err := p.enqueue(line); err != nil {
			addr := p.info.Address
			ioErr := &network.IOError{Op: "write", Peer: addr, Err: err}
			h.log.Warn("drop message", zap.String("peer", p.info.ID), zap.Error(err))
			h.events.Error(addr, fmt.Sprintf("Error sending to %s: %v", addr, err), ioErr)
		}
	}
}

// SendMessage shows "You: text" locally and sends the same line to every peer.
func (h *Host) SendMessage(text string) error {
	if h.life.Get() != network.StateRunning {
		err := &network.StateError{Op: "send", State: h.life.Get()}
		h.events.Error("", "Server not running.", err)
		return err
	}
	display := "You: " + text
	h.events.Message("", display)
	h.broadcast(display, "")
	return nil
}

// Stop closes the listener and every peer, waits for all background work and
// reports "Server stopped.". Calling Stop on a stopped Host does nothing; a
// Stop that finds the Host already stopping waits for it to finish.
func (h *Host) Stop() error {
	h.mu.Lock()
	prev, ok := h.life.BeginStop()
	ln, cancel, tasks, done := h.listener, h.cancel, h.tasks, h.done
	if ok {
		h.listener, h.cancel, h.tasks = nil, nil, nil
		h.port = 0
	}
	h.mu.Unlock()
	if !ok {
		if prev == network.StateStopping && done != nil {
			<-done
		}
		return nil
	}

	var errs error
	if cancel != nil {
		cancel()
	}
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, fmt.Errorf("close listener: %w", err))
		}
	}
	for _, p := range h.peers.drain() {
		if err := p.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, fmt.Errorf("close peer %s: %w", p.info.Address, err))
		}
	}
	if tasks != nil {
		tasks.Wait()
	}

	if errs != nil {
		h.log.Warn("stop finished with errors", zap.Error(errs))
		h.events.Error("", "Error stopping server: "+errs.Error(), errs)
	}
	h.log.Info("stopped")
	h.events.Status("", "Server stopped.")
	h.life.Transition(network.StateStopping, network.StateIdle)
	close(done)
	return errs
}
