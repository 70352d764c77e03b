package network

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnReadWrite(t *testing.T) {
	a, b := net.Pipe()
	left, right := NewConn(a), NewConn(b)
	defer left.Close()
	defer right.Close()

	go func() {
		left.WriteLine("ping", time.Second)
		left.WriteLine("pong", 0)
	}()

	line, err := right.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "ping", line)
	line, err = right.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "pong", line)
}

func TestConnCloseIsIdempotent(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := NewConn(a)

	assert.True(t, c.IsOpen())
	require.NoError(t, c.Close())
	assert.False(t, c.IsOpen())
	assert.NoError(t, c.Close())

	_, err := c.ReadLine()
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.ErrorIs(t, c.WriteLine("late", 0), net.ErrClosed)
}

func TestConnWriteTimeout(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := NewConn(a)
	defer c.Close()

	// nobody reads from b, so the pipe write blocks until the deadline
	err := c.WriteLine("stuck", 20*time.Millisecond)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}

func TestConnPeerClose(t *testing.T) {
	a, b := net.Pipe()
	c := NewConn(a)
	defer c.Close()

	b.Close()
	_, err := c.ReadLine()
	assert.Error(t, err)
}

func TestHostAddress(t *testing.T) {
	assert.Equal(t, "192.168.1.7", HostAddress(&net.TCPAddr{IP: net.ParseIP("192.168.1.7"), Port: 4000}))
	assert.Equal(t, "::1", HostAddress(&net.TCPAddr{IP: net.ParseIP("::1"), Port: 4000}))
	assert.Equal(t, "pipe", HostAddress(pipeAddr{}))
	assert.Equal(t, "", HostAddress(nil))
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }
