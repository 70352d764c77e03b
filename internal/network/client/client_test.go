package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanchat/internal/network"
	"lanchat/internal/network/host"
)

func newClient(t *testing.T, options ...Option) (*Client, chan network.Event) {
	t.Helper()
	events := make(chan network.Event, 1024)
	c, err := New(append([]Option{WithEvents(events), WithDialTimeout(2 * time.Second)}, options...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Disconnect() })
	return c, events
}

func newHost(t *testing.T) (*host.Host, int, chan network.Event) {
	t.Helper()
	events := make(chan network.Event, 1024)
	h, err := host.New(host.WithEvents(events), host.WithAddress("127.0.0.1"))
	require.NoError(t, err)
	port, err := h.Start(context.Background(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { h.Stop() })
	return h, port, events
}

func waitEvent(t *testing.T, events <-chan network.Event, text string) network.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	var seen []string
	for {
		select {
		case ev := <-events:
			if ev.Text == text {
				return ev
			}
			seen = append(seen, ev.Text)
		case <-timeout:
			t.Fatalf("timed out waiting for %q; saw %q", text, seen)
			return network.Event{}
		}
	}
}

func nextEvent(t *testing.T, events <-chan network.Event) network.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no event")
		return network.Event{}
	}
}

func connect(t *testing.T, c *Client, events <-chan network.Event, port int) {
	t.Helper()
	c.Connect(context.Background(), "127.0.0.1", port)
	waitEvent(t, events, fmt.Sprintf("Connected to server 127.0.0.1:%d", port))
	require.Equal(t, network.StateRunning, c.State())
}

func TestConnectToHost(t *testing.T) {
	_, port, hostEvents := newHost(t)
	c, events := newClient(t)

	connect(t, c, events, port)
	waitEvent(t, hostEvents, "Client connected: 127.0.0.1")
	assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", port), c.RemoteAddr())
}

func TestRelayBetweenClients(t *testing.T) {
	h, port, hostEvents := newHost(t)
	a, aEvents := newClient(t)
	b, bEvents := newClient(t)

	connect(t, a, aEvents, port)
	waitEvent(t, hostEvents, "Client connected: 127.0.0.1")
	connect(t, b, bEvents, port)
	waitEvent(t, hostEvents, "Client connected: 127.0.0.1")

	require.NoError(t, a.SendMessage("hello"))
	waitEvent(t, hostEvents, "Client (127.0.0.1): hello")
	ev := waitEvent(t, bEvents, "hello")
	assert.Equal(t, network.EventMessage, ev.Kind)

	require.NoError(t, h.SendMessage("hi"))
	waitEvent(t, aEvents, "You: hi")
	waitEvent(t, bEvents, "You: hi")
}

func TestDisconnect(t *testing.T) {
	_, port, hostEvents := newHost(t)
	c, events := newClient(t)
	connect(t, c, events, port)
	waitEvent(t, hostEvents, "Client connected: 127.0.0.1")

	require.NoError(t, c.Disconnect())
	waitEvent(t, events, "Disconnected.")
	waitEvent(t, hostEvents, "Client disconnected: 127.0.0.1")
	assert.Equal(t, network.StateIdle, c.State())
	assert.Empty(t, c.RemoteAddr())

	require.NoError(t, c.Disconnect())
	select {
	case ev := <-events:
		t.Fatalf("second Disconnect emitted %q", ev.Text)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectRefused(t *testing.T) {
	// grab a free port and release it so nothing listens there
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c, events := newClient(t)
	c.Connect(context.Background(), "127.0.0.1", port)

	ev := nextEvent(t, events)
	assert.Equal(t, network.EventError, ev.Kind)
	assert.Contains(t, ev.Text, "Error connecting to server: ")
	assert.Contains(t, ev.Text, "refused")
	var connErr *network.ConnectError
	require.ErrorAs(t, ev.Err, &connErr)

	require.Eventually(t, func() bool { return c.State() == network.StateIdle }, time.Second, 10*time.Millisecond)
	err = c.SendMessage("anyone?")
	var stateErr *network.StateError
	require.ErrorAs(t, err, &stateErr)
	waitEvent(t, events, "Not connected to server.")

	// no "Disconnected." for a connection that never existed
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %q", ev.Text)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectTwice(t *testing.T) {
	_, port, _ := newHost(t)
	c, events := newClient(t)
	connect(t, c, events, port)

	c.Connect(context.Background(), "127.0.0.1", port)
	waitEvent(t, events, "Already connected.")
	assert.Equal(t, network.StateRunning, c.State())
}

func TestHostGoesAway(t *testing.T) {
	h, port, _ := newHost(t)
	c, events := newClient(t)
	connect(t, c, events, port)

	require.NoError(t, h.Stop())
	waitEvent(t, events, "Disconnected from server.")
	require.Eventually(t, func() bool { return c.State() == network.StateIdle }, time.Second, 10*time.Millisecond)

	// ready to connect again
	_, port2, _ := newHost(t)
	connect(t, c, events, port2)
}

func TestDisconnectWaitsForHostGoingAway(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	// unbuffered, so the reader holds Stopping until we take its last event
	events := make(chan network.Event)
	c, err := New(WithEvents(events), WithDialTimeout(2*time.Second))
	require.NoError(t, err)

	c.Connect(context.Background(), "127.0.0.1", port)
	waitEvent(t, events, fmt.Sprintf("Connected to server 127.0.0.1:%d", port))
	server := <-accepted
	server.Close()

	require.Eventually(t, func() bool { return c.State() == network.StateStopping }, 2*time.Second, 5*time.Millisecond)

	returned := make(chan error, 1)
	go func() { returned <- c.Disconnect() }()
	select {
	case <-returned:
		t.Fatal("Disconnect returned while the connection was still winding down")
	case <-time.After(100 * time.Millisecond):
	}

	ev := nextEvent(t, events)
	assert.Equal(t, "Disconnected from server.", ev.Text)
	select {
	case err := <-returned:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect did not return")
	}
	assert.Equal(t, network.StateIdle, c.State())

	// nothing may be sent after Disconnect returns
	close(events)
	require.NoError(t, c.Disconnect())
}

func TestReadErrorIsReported(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	c, events := newClient(t)
	connect(t, c, events, port)
	server := <-accepted

	w := bufio.NewWriter(server)
	require.NoError(t, network.WriteLine(w, "welcome"))
	waitEvent(t, events, "welcome")

	// reset the connection under the client
	require.NoError(t, server.(*net.TCPConn).SetLinger(0))
	server.Close()

	ev := nextEvent(t, events)
	assert.Equal(t, network.EventError, ev.Kind)
	assert.Contains(t, ev.Text, "Error receiving message: ")
	waitEvent(t, events, "Disconnected from server.")
}

func TestConnectCanceledByDisconnect(t *testing.T) {
	c, events := newClient(t, WithDialTimeout(0))

	// 192.0.2.0/24 is reserved for documentation and never answers
	c.Connect(context.Background(), "192.0.2.1", 9)
	require.NoError(t, c.Disconnect())
	require.Eventually(t, func() bool { return c.State() == network.StateIdle }, time.Second, 10*time.Millisecond)

	// the aborted dial never reports success
	for {
		select {
		case ev := <-events:
			assert.NotContains(t, ev.Text, "Connected to server")
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}

func TestOptionsValidate(t *testing.T) {
	_, err := New(WithEvents(nil))
	assert.Error(t, err)
	_, err = New(WithDialTimeout(-time.Second))
	assert.Error(t, err)
	_, err = New(WithOutboxSize(0))
	assert.Error(t, err)
	_, err = New(WithLogger(nil))
	assert.Error(t, err)
}
