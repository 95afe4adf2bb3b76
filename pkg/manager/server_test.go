package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sbnet/pkg/event"
	"sbnet/pkg/netid"
	"sbnet/pkg/packet"
	"sbnet/pkg/protocol"
	"sbnet/pkg/request"
	"sbnet/pkg/transport"
	"sbnet/pkg/transport/mem"
)

func TestServerLifecycle(t *testing.T) {
	dir := mem.NewDirectory()
	s := NewServer(serverID, WithNetwork(dir))
	assert.Equal(t, ServerInitialized, s.State())

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, ServerRunning, s.State())
	assert.ErrorIs(t, s.Start(context.Background()), ErrServerState)

	require.NoError(t, s.Stop())
	assert.Equal(t, ServerStopped, s.State())
	require.NoError(t, s.Stop(), "stop is idempotent")
	assert.ErrorIs(t, s.Start(context.Background()), ErrServerState, "a stopped server stays stopped")

	_, err := dir.Dial(context.Background(), clientID, serverID)
	assert.ErrorIs(t, err, transport.ErrNoRoute)
}

func TestServerStartErrors(t *testing.T) {
	assert.ErrorIs(t, NewServer(serverID).Start(context.Background()), ErrNoNetwork)

	bound := NewServer(netid.MustBind("tcp-only", "127.0.0.1:7777"), WithNetwork(mem.NewDirectory()))
	err := bound.Start(context.Background())
	assert.ErrorIs(t, err, netid.ErrUnsupportedCapability)
	assert.Equal(t, ServerStopped, bound.State())

	idle := NewServer(serverID)
	require.NoError(t, idle.Stop())
	assert.Equal(t, ServerStopped, idle.State())
}

func TestDuplicateConnectionRefused(t *testing.T) {
	f := newFixture(t)
	f.raw(t, clientID)
	first := f.serverConn(t, clientID)

	_, err := f.dir.Dial(context.Background(), clientID, serverID)
	var dup *DuplicateConnectionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, clientID, dup.Remote)
	assert.ErrorIs(t, err, ErrDuplicateConnection)

	got, ok := f.srv.Connection(clientID)
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Equal(t, StateOpen, got.State())
	assert.Equal(t, 1, f.srv.Len())
}

func TestStopServerCancelsPendingRequests(t *testing.T) {
	// neither side answers logins
	f := newFixture(t)
	cli := f.client(t, clientID)
	f.serverConn(t, clientID)

	toServer := cli.Request(&loginRequest{User: "alice"})
	toClient := f.srv.Request(clientID, &loginRequest{User: "bob"})
	require.Eventually(t, func() bool { return f.srv.Table().Len() == 1 }, waitFor, time.Millisecond)

	require.NoError(t, f.srv.Stop())
	assert.Equal(t, ServerStopped, f.srv.State())
	assert.Zero(t, f.srv.Len())

	for _, call := range []*request.Call{toServer, toClient} {
		select {
		case <-call.Done():
			assert.ErrorIs(t, call.Err(), request.ErrCancelled)
		case <-time.After(waitFor):
			t.Fatalf("call %s still pending after stop", call.ID())
		}
	}

	require.Eventually(t, func() bool { return cli.Connection().State() == StateClosed }, waitFor, time.Millisecond)
	reason, _ := cli.Connection().CloseReason()
	assert.Equal(t, ReasonRemote, reason)
}

func TestStopServerClosesEveryConnection(t *testing.T) {
	f := newFixture(t)
	closed := record[*ConnectionClosed](t, f.srv.Bus())

	ids := []netid.ID{netid.NewInternal("a"), netid.NewInternal("b"), netid.NewInternal("c")}
	sinks := make([]*sink, len(ids))
	for i, id := range ids {
		_, sinks[i] = f.raw(t, id)
	}
	require.Eventually(t, func() bool { return f.srv.Len() == len(ids) }, waitFor, time.Millisecond)
	conns := f.srv.Connections()
	require.Len(t, conns, 3)
	assert.Equal(t, ids[0], conns[0].Remote(), "connections are ordered")

	require.NoError(t, f.srv.Stop())
	for _, c := range conns {
		assert.Equal(t, StateClosed, c.State())
		reason, _ := c.CloseReason()
		assert.Equal(t, ReasonServer, reason)
	}
	require.Len(t, closed.all(), len(ids))
	for _, ev := range closed.all() {
		assert.True(t, ev.Server)
		assert.Equal(t, ReasonServer, ev.Reason)
	}
	for _, s := range sinks {
		require.Eventually(t, func() bool { return s.failure() != nil }, waitFor, time.Millisecond)
	}
}

func TestSendToAll(t *testing.T) {
	f := newFixture(t)
	_, a := f.raw(t, netid.NewInternal("a"))
	_, b := f.raw(t, netid.NewInternal("b"))
	require.Eventually(t, func() bool { return f.srv.Len() == 2 }, waitFor, time.Millisecond)

	assert.Equal(t, 2, f.srv.SendToAll(&note{Text: "all"}))
	assert.True(t, f.srv.SendTo(netid.NewInternal("a"), &note{Text: "only a"}))
	assert.False(t, f.srv.SendTo(netid.NewInternal("nobody"), &note{Text: "lost"}))

	require.Eventually(t, func() bool { return len(a.packets()) == 2 && len(b.packets()) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, &note{Text: "only a"}, a.packets()[1])
}

func TestRemoteCloseRemovesConnection(t *testing.T) {
	f := newFixture(t)
	closed := record[*ConnectionClosed](t, f.srv.Bus())
	l, _ := f.raw(t, clientID)
	c := f.serverConn(t, clientID)

	require.NoError(t, l.Close())
	require.Eventually(t, func() bool { return f.srv.Len() == 0 }, waitFor, time.Millisecond)
	reason, err := c.CloseReason()
	assert.Equal(t, ReasonRemote, reason)
	assert.NoError(t, err)
	require.Len(t, closed.all(), 1)
	assert.Equal(t, clientID, closed.all()[0].Remote)

	// the identity may connect again
	f.raw(t, clientID)
	assert.NotSame(t, c, f.serverConn(t, clientID))
}

func TestConfigureConnectionContext(t *testing.T) {
	type session struct{ user string }
	var (
		mu   sync.Mutex
		seen []any
	)
	f := newFixture(t, WithHandler(func(c *Connection, p packet.Packet) {
		mu.Lock()
		seen = append(seen, c.Context())
		mu.Unlock()
	}))
	t.Cleanup(event.On(f.srv.Bus(), func(ev *ConfigureConnection) {
		assert.True(t, ev.Server)
		ev.Context = &session{user: ev.Remote.Label()}
	}))

	l, _ := f.raw(t, clientID)
	require.NoError(t, l.Send(&note{Text: "hello"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, waitFor, time.Millisecond)
	assert.Equal(t, &session{user: "client-1"}, seen[0])
}

func TestCheckTimeoutClosesConnection(t *testing.T) {
	f := newFixture(t, WithCheck(5*time.Second, 2*time.Second), WithSweepInterval(time.Second))
	_, far := f.raw(t, clientID)
	c := f.serverConn(t, clientID)

	f.advanceUntil(t, time.Second, func() bool { return c.State() == StateChecking })
	require.Eventually(t, func() bool { return len(far.packets()) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, protocol.CheckProbe{}, far.packets()[0])

	f.advanceUntil(t, time.Second, func() bool { return c.State() == StateClosed })
	reason, err := c.CloseReason()
	assert.Equal(t, ReasonTimeout, reason)
	assert.ErrorIs(t, err, ErrCheckTimeout)
	assert.Zero(t, f.srv.Len())
}

func TestCheckAnsweredKeepsConnection(t *testing.T) {
	f := newFixture(t, WithCheck(5*time.Second, 2*time.Second), WithSweepInterval(time.Second))
	ok := record[*CheckSucceeded](t, f.srv.Bus())
	f.client(t, clientID, WithSweepInterval(0))
	c := f.serverConn(t, clientID)

	f.advanceUntil(t, time.Second, func() bool { return ok.len() > 0 })
	assert.Equal(t, clientID, ok.all()[0].Remote)
	assert.Contains(t, []State{StateOpen, StateChecking}, c.State())
}

func TestRequestTimeout(t *testing.T) {
	f := newFixture(t, WithRequestTimeout(3*time.Second), WithSweepInterval(time.Second))
	f.raw(t, clientID)
	f.serverConn(t, clientID)

	call := f.srv.Request(clientID, &loginRequest{User: "alice"})
	f.advanceUntil(t, time.Second, func() bool {
		select {
		case <-call.Done():
			return true
		default:
			return false
		}
	})
	assert.ErrorIs(t, call.Err(), request.ErrTimeout)
	assert.Zero(t, f.srv.Table().Len())
}

func TestRequestWithoutConnection(t *testing.T) {
	f := newFixture(t)
	call := f.srv.Request(clientID, &loginRequest{User: "alice"})
	<-call.Done()
	assert.ErrorIs(t, call.Err(), request.ErrNotSent)
	assert.True(t, errors.Is(call.Err(), request.ErrCancelled))
}
