// Package client implements the joining side of the chat: a single outbound
// connection to a host.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lanchat/internal/network"
)

var errOutboxFull = errors.New("outbox full")

// Client holds at most one live connection to a host.
type Client struct {
	log         *zap.Logger
	events      *network.Emitter
	dialTimeout time.Duration
	outboxSize  int

	life network.Lifecycle

	mu     sync.Mutex
	conn   *network.Conn
	outbox chan string
	target string
	cancel context.CancelFunc
	tasks  *errgroup.Group
	// done is closed once the current connection attempt has fully wound down.
	done chan struct{}
}

// New builds a Client with the given options.
func New(options ...Option) (*Client, error) {
	c := &Client{
		log:        zap.NewNop(),
		outboxSize: 32,
	}
	if err := setup(c, options...); err != nil {
		return nil, err
	}
	return c, nil
}

// State returns the current lifecycle state.
func (c *Client) State() network.State {
	return c.life.Get()
}

// RemoteAddr returns "host:port" of the current or pending connection, or "".
func (c *Client) RemoteAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Connect dials address:port in the background. The outcome is reported as an
// event: "Connected to server ..." or "Error connecting to server: ...".
func (c *Client) Connect(ctx context.Context, address string, port int) {
	runCtx, cancel := context.WithCancel(context.Background())
	tasks := &errgroup.Group{}
	target := net.JoinHostPort(address, strconv.Itoa(port))
	done := make(chan struct{})

	c.mu.Lock()
	if !c.life.Transition(network.StateIdle, network.StateStarting) {
		c.mu.Unlock()
		cancel()
		c.events.Status("", "Already connected.")
		return
	}
	c.cancel = cancel
	c.tasks = tasks
	c.target = target
	c.done = done
	c.mu.Unlock()

	tasks.Go(func() error {
		c.dial(ctx, runCtx, tasks, done, target, fmt.Sprintf("%s:%d", address, port))
		return nil
	})
}

func (c *Client) dial(ctx, runCtx context.Context, tasks *errgroup.Group, done chan struct{}, target, display string) {
	dialCtx, stop := context.WithCancel(runCtx)
	defer stop()
	defer context.AfterFunc(ctx, stop)()
	if c.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(dialCtx, c.dialTimeout)
		defer cancel()
	}

	var d net.Dialer
	raw, err := d.DialContext(dialCtx, "tcp", target)
	if err != nil {
		if runCtx.Err() != nil {
			// Disconnect aborted the attempt and reports on its own.
			return
		}
		c.log.Warn("dial failed", zap.String("addr", target), zap.Error(err))
		c.events.Error("", "Error connecting to server: "+err.Error(), &network.ConnectError{Addr: target, Err: err})
		c.abortStart(done)
		return
	}

	conn := network.NewConn(raw)
	outbox := make(chan string, c.outboxSize)
	c.mu.Lock()
	c.conn = conn
	c.outbox = outbox
	c.mu.Unlock()

	if !c.life.Transition(network.StateStarting, network.StateRunning) {
		c.mu.Lock()
		if c.conn == conn {
			c.conn, c.outbox = nil, nil
		}
		c.mu.Unlock()
		conn.Close()
		return
	}

	c.log.Info("connected", zap.String("addr", target))
	c.events.Status(target, "Connected to server "+display)

	written := make(chan struct{})
	tasks.Go(func() error {
		defer close(written)
		c.writeLoop(runCtx, conn, outbox)
		return nil
	})
	c.readLoop(conn, written, done)
}

// abortStart releases what Connect prepared after a failed dial. It does
// nothing if Disconnect has already taken over the attempt.
func (c *Client) abortStart(done chan struct{}) {
	c.mu.Lock()
	if !c.life.Transition(network.StateStarting, network.StateIdle) {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.cancel, c.tasks, c.target = nil, nil, ""
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	close(done)
}

// readLoop delivers lines until the connection ends. When the host goes away
// it winds the connection down itself; written is closed when the writer exits
// and done is closed last.
func (c *Client) readLoop(conn *network.Conn, written <-chan struct{}, done chan struct{}) {
	server := conn.RemoteHost()
	for {
		line, err := conn.ReadLine()
		if err == nil {
			c.events.Message(server, line)
			continue
		}

		// An explicit Disconnect already moved us to Stopping.
		if _, ok := c.life.BeginStop(); !ok {
			return
		}
		if !errors.Is(err, io.EOF) {
			ioErr := &network.IOError{Op: "read", Peer: server, Err: err}
			c.log.Warn("read failed", zap.Error(ioErr))
			c.events.Error(server, "Error receiving message: "+err.Error(), ioErr)
		}
		if err := c.release(); err != nil {
			c.log.Debug("release after disconnect", zap.Error(err))
		}
		<-written
		c.events.Status(server, "Disconnected from server.")
		c.life.Transition(network.StateStopping, network.StateIdle)
		close(done)
		return
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *network.Conn, outbox <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-outbox:
			if err := conn.WriteLine(line, 0); err != nil {
				ioErr := &network.IOError{Op: "write", Peer: conn.RemoteHost(), Err: err}
				c.log.Warn("write failed", zap.Error(ioErr))
				c.events.Error(conn.RemoteHost(), "Error sending message: "+err.Error(), ioErr)
			}
		}
	}
}

// SendMessage queues text for the host. It never blocks on the network.
func (c *Client) SendMessage(text string) error {
	c.mu.Lock()
	outbox := c.outbox
	c.mu.Unlock()

	if c.life.Get() != network.StateRunning || outbox == nil {
		err := &network.StateError{Op: "send", State: c.life.Get()}
		c.events.Error("", "Not connected to server.", err)
		return err
	}
	select {
	case outbox <- text:
		return nil
	default:
		err := &network.IOError{Op: "write", Peer: c.RemoteAddr(), Err: errOutboxFull}
		c.events.Error("", "Error sending message: "+errOutboxFull.Error(), err)
		return err
	}
}

// release cancels background work and closes the connection without waiting.
func (c *Client) release() error {
	c.mu.Lock()
	conn, cancel := c.conn, c.cancel
	c.conn, c.outbox, c.cancel, c.tasks, c.target = nil, nil, nil, nil, ""
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Disconnect closes the connection and waits for the reader and writer to stop.
// It reports "Disconnected." unless the Client was already idle. If the
// connection is already winding down because the host went away, Disconnect
// waits for that to finish instead.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	prev, ok := c.life.BeginStop()
	tasks, done := c.tasks, c.done
	c.mu.Unlock()
	if !ok {
		if prev == network.StateStopping && done != nil {
			<-done
		}
		return nil
	}

	err := c.release()
	if err != nil {
		c.log.Warn("close failed", zap.Error(err))
		c.events.Error("", "Error disconnecting: "+err.Error(), err)
	}
	if tasks != nil {
		tasks.Wait()
	}

	c.log.Info("disconnected")
	c.events.Status("", "Disconnected.")
	c.life.Transition(network.StateStopping, network.StateIdle)
	if done != nil {
		close(done)
	}
	return err
}
