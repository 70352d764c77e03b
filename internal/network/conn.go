package network

import (
	"bufio"
	"net"
	"sync"
	"time"
)

// Conn is a line-oriented wrapper over one live socket.
// Reads must come from a single goroutine; writes are serialized internally.
type Conn struct {
	raw  net.Conn
	addr string

	br *bufio.Reader

	wmu sync.Mutex
	bw  *bufio.Writer

	closeOnce sync.Once
	closeErr  error
	mu        sync.RWMutex
	open      bool
}

// NewConn takes ownership of raw.
func NewConn(raw net.Conn) *Conn {
	return &Conn{
		raw:  raw,
		addr: HostAddress(raw.RemoteAddr()),
		br:   bufio.NewReader(raw),
		bw:   bufio.NewWriter(raw),
		open: true,
	}
}

// RemoteHost returns the peer IP (no port), as shown in notifications.
func (c *Conn) RemoteHost() string {
	return c.addr
}

// RemoteAddr returns the full remote address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// IsOpen reports whether Close has not been called yet.
func (c *Conn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// ReadLine blocks until a full line arrives.
func (c *Conn) ReadLine() (string, error) {
	if !c.IsOpen() {
		return "", net.ErrClosed
	}
	line, err := ReadLine(c.br)
	if err != nil {
		return "", err
	}
	return line, nil
}

// SetReadDeadline sets the deadline for the next ReadLine.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.raw.SetReadDeadline(t)
}

// WriteLine writes one line. A zero timeout means no write deadline.
func (c *Conn) WriteLine(text string, timeout time.Duration) error {
	if !c.IsOpen() {
		return net.ErrClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if timeout > 0 {
		c.raw.SetWriteDeadline(time.Now().Add(timeout))
		defer c.raw.SetWriteDeadline(time.Time{})
	}
	return WriteLine(c.bw, text)
}

// Close closes the socket. Only the first call does any work; later calls return nil.
func (c *Conn) Close() error {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.mu.Lock()
		c.open = false
		c.mu.Unlock()
		c.closeErr = c.raw.Close()
	})
	if !first {
		return nil
	}
	return c.closeErr
}

// HostAddress returns the IP part of addr, or addr.String() if it has no port.
func HostAddress(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
