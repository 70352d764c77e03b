package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanchat/internal/discovery"
)

func next(t *testing.T, events <-chan discovery.BrowseEvent) discovery.BrowseEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no browse event")
		return discovery.BrowseEvent{}
	}
}

func TestRegisterResolve(t *testing.T) {
	n := NewWithAddress("192.168.1.20")
	ctx := context.Background()

	reg, err := n.Register(ctx, "ChatApp1", "_lanchat._tcp", 4000)
	require.NoError(t, err)
	assert.Equal(t, "ChatApp1", reg.Name())

	ep, err := n.Resolve(ctx, "ChatApp1", "_lanchat._tcp.")
	require.NoError(t, err)
	assert.Equal(t, discovery.Endpoint{Address: "192.168.1.20", Port: 4000}, ep)

	require.NoError(t, reg.Shutdown(ctx))
	_, err = n.Resolve(ctx, "ChatApp1", "_lanchat._tcp")
	assert.ErrorIs(t, err, discovery.ErrNotFound)

	err = reg.Shutdown(ctx)
	var de *discovery.DiscoveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, discovery.CodeNotRunning, de.Code)
}

func TestRegisterRenamesDuplicates(t *testing.T) {
	n := New()
	ctx := context.Background()

	a, err := n.Register(ctx, "ChatApp", "_lanchat._tcp", 1)
	require.NoError(t, err)
	b, err := n.Register(ctx, "ChatApp", "_lanchat._tcp", 2)
	require.NoError(t, err)
	c, err := n.Register(ctx, "ChatApp", "_lanchat._tcp", 3)
	require.NoError(t, err)
	other, err := n.Register(ctx, "ChatApp", "_ghchat._tcp", 4)
	require.NoError(t, err)

	assert.Equal(t, "ChatApp", a.Name())
	assert.Equal(t, "ChatApp (2)", b.Name())
	assert.Equal(t, "ChatApp (3)", c.Name())
	assert.Equal(t, "ChatApp", other.Name())
	assert.ElementsMatch(t, []string{"ChatApp", "ChatApp (2)", "ChatApp (3)"}, n.Services("_lanchat._tcp"))
}

func TestRegisterRejectsBadType(t *testing.T) {
	_, err := New().Register(context.Background(), "x", "http", 80)
	var de *discovery.DiscoveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, discovery.CodeBadParameters, de.Code)
}

func TestBrowseFoundAndLost(t *testing.T) {
	n := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	existing, err := n.Register(ctx, "Early", "_lanchat._tcp", 1)
	require.NoError(t, err)

	events := make(chan discovery.BrowseEvent, 8)
	require.NoError(t, n.Browse(ctx, "_lanchat._tcp", events))

	ev := next(t, events)
	assert.Equal(t, discovery.BrowseEvent{Kind: discovery.ServiceFound, Name: "Early", Type: "_lanchat._tcp."}, ev)

	_, err = n.Register(ctx, "Printer", "_ipp._tcp", 631)
	require.NoError(t, err)
	late, err := n.Register(ctx, "Late", "_lanchat._tcp", 2)
	require.NoError(t, err)
	assert.Equal(t, "Late", next(t, events).Name)

	require.NoError(t, existing.Shutdown(ctx))
	ev = next(t, events)
	assert.Equal(t, discovery.ServiceLost, ev.Kind)
	assert.Equal(t, "Early", ev.Name)

	cancel()
	require.Eventually(t, func() bool {
		n.mu.RLock()
		defer n.mu.RUnlock()
		return len(n.watchers) == 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, late.Shutdown(context.Background()))
	assert.Empty(t, events)
}
