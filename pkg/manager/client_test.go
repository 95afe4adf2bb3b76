package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sbnet/pkg/event"
	"sbnet/pkg/memkv"
	"sbnet/pkg/packet"
	"sbnet/pkg/peers"
	"sbnet/pkg/request"
	"sbnet/pkg/transport"
	"sbnet/pkg/transport/mem"
)

func TestRequestRoundTrip(t *testing.T) {
	f := newFixture(t, WithHandler(answerLogin))

	kv := memkv.New(memkv.Options{Clock: f.clk, SweepInterval: -1})
	t.Cleanup(kv.Close)
	stats := peers.NewStore(kv, peers.WithClock(f.clk))

	cli := NewClient(clientID, serverID, f.options(WithPeers(stats))...)
	t.Cleanup(event.On(cli.Bus(), func(ev *ConfigureConnection) {
		assert.False(t, ev.Server)
		ev.Context = "client-ctx"
	}))
	require.NoError(t, cli.Open(context.Background()))
	t.Cleanup(func() { _ = cli.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	resp, cx, err := request.Await[*loginResponse](ctx, cli.Request(&loginRequest{User: "alice"}))
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, "client-ctx", cx)

	resp, _, err = request.Await[*loginResponse](ctx, cli.Request(&loginRequest{User: "mallory"}))
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Zero(t, cli.Table().Len())

	st, ok := stats.Get(serverID)
	require.True(t, ok)
	assert.EqualValues(t, 1, st.Opens)
	assert.EqualValues(t, 2, st.PacketsOut)
	assert.EqualValues(t, 2, st.PacketsIn)
	assert.Equal(t, transport.KindMem.String(), st.Transport)
	assert.True(t, st.Open())

	require.NoError(t, cli.Close())
	st, _ = stats.Get(serverID)
	assert.False(t, st.Open())
	assert.Equal(t, ReasonExpected.String(), st.CloseReason)
}

func TestMismatchedResponseRejected(t *testing.T) {
	f := newFixture(t, WithHandler(func(c *Connection, p packet.Packet) {
		if req, ok := p.(*loginRequest); ok {
			c.Send(request.Reply(req, &wrongResponse{}))
		}
	}))
	cli := f.client(t, clientID)
	rejected := record[*ReceiveRejected](t, cli.Bus())

	call := cli.Request(&loginRequest{User: "alice"})
	require.Eventually(t, func() bool { return rejected.len() == 1 }, waitFor, time.Millisecond)
	assert.ErrorIs(t, rejected.all()[0].Err, request.ErrTypeMismatch)
	assert.Equal(t, packet.TypeFor[*wrongResponse](), rejected.all()[0].Type)

	// the call keeps waiting for the real answer
	assert.NoError(t, call.Err())
	assert.Equal(t, 1, cli.Table().Len())
	assert.True(t, call.Cancel())
}

func TestClientCloseReasons(t *testing.T) {
	f := newFixture(t)
	closed := record[*ConnectionClosed](t, f.srv.Bus())
	cli := f.client(t, clientID)
	sc := f.serverConn(t, clientID)

	require.NoError(t, cli.Close())
	reason, _ := cli.Connection().CloseReason()
	assert.Equal(t, ReasonExpected, reason)

	require.Eventually(t, func() bool { return sc.State() == StateClosed }, waitFor, time.Millisecond)
	reason, _ = sc.CloseReason()
	assert.Equal(t, ReasonRemote, reason)
	require.Eventually(t, func() bool { return closed.len() == 1 }, waitFor, time.Millisecond)
	assert.True(t, closed.all()[0].Server)
	assert.False(t, cli.Send(&note{Text: "after close"}))
}

func TestClientReopen(t *testing.T) {
	f := newFixture(t)
	cli := f.client(t, clientID)
	assert.ErrorIs(t, cli.Open(context.Background()), ErrAlreadyOpen)

	first := cli.Connection()
	require.NoError(t, cli.Close())
	require.Eventually(t, func() bool { return f.srv.Len() == 0 }, waitFor, time.Millisecond)

	require.NoError(t, cli.Open(context.Background()))
	assert.NotSame(t, first, cli.Connection())
	assert.Equal(t, StateOpen, cli.Connection().State())
	assert.True(t, cli.Send(&note{Text: "again"}))
}

func TestClientDialGivesUp(t *testing.T) {
	cli := NewClient(clientID, serverID,
		WithNetwork(mem.NewDirectory()),
		WithLogger(zap.NewNop()),
		WithSweepInterval(0),
		WithDialBackoff(time.Millisecond, 2*time.Millisecond, time.Millisecond),
		WithDialAttempts(3),
	)
	err := cli.Open(context.Background())
	assert.ErrorIs(t, err, transport.ErrNoRoute)
	assert.ErrorContains(t, err, "3 attempts")
	reason, _ := cli.Connection().CloseReason()
	assert.Equal(t, ReasonIOException, reason)
	require.NoError(t, cli.Close())
}

func TestClientDialInterrupted(t *testing.T) {
	cli := NewClient(clientID, serverID,
		WithNetwork(mem.NewDirectory()),
		WithLogger(zap.NewNop()),
		WithSweepInterval(0),
		WithDialBackoff(time.Millisecond, 5*time.Millisecond, 0),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, cli.Open(ctx), context.DeadlineExceeded)
	reason, _ := cli.Connection().CloseReason()
	assert.Equal(t, ReasonInterrupted, reason)
	require.NoError(t, cli.Close())
}

func TestClientCloseStopsDialing(t *testing.T) {
	cli := NewClient(clientID, serverID,
		WithNetwork(mem.NewDirectory()),
		WithLogger(zap.NewNop()),
		WithSweepInterval(0),
		WithDialBackoff(time.Millisecond, time.Millisecond, 0),
	)
	opened := make(chan error, 1)
	go func() { opened <- cli.Open(context.Background()) }()

	require.Eventually(t, func() bool {
		c := cli.Connection()
		return c != nil && c.State() == StateOpening
	}, waitFor, time.Millisecond)
	require.NoError(t, cli.Close())

	select {
	case err := <-opened:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(waitFor):
		t.Fatal("Open kept dialing after Close")
	}
	reason, _ := cli.Connection().CloseReason()
	assert.Equal(t, ReasonExpected, reason)
	assert.Equal(t, StateClosed, cli.Connection().State())
}

func TestClientConfiguredBeforeConnectionExists(t *testing.T) {
	f := newFixture(t)
	cli := NewClient(clientID, serverID, f.options()...)
	t.Cleanup(func() { _ = cli.Close() })

	var seen []*Connection
	event.On(cli.Bus(), func(e *ConfigureConnection) {
		seen = append(seen, cli.Connection())
		e.Context = "configured"
	})
	require.NoError(t, cli.Open(context.Background()))
	assert.Equal(t, []*Connection{nil}, seen)
	assert.Equal(t, "configured", cli.Connection().Context())
}

func TestClientDialRetriesUntilServed(t *testing.T) {
	dir := mem.NewDirectory()
	cli := NewClient(clientID, serverID,
		WithNetwork(dir),
		WithLogger(zap.NewNop()),
		WithSweepInterval(0),
		WithDialBackoff(time.Millisecond, 4*time.Millisecond, 0),
	)
	defer cli.Close()

	srv := NewServer(serverID, WithNetwork(dir), WithLogger(zap.NewNop()), WithSweepInterval(0))
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	opened := make(chan error, 1)
	go func() { opened <- cli.Open(ctx) }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, srv.Start(context.Background()))
	require.NoError(t, <-opened)
	assert.Equal(t, StateOpen, cli.Connection().State())
}

func TestClientWithoutNetwork(t *testing.T) {
	cli := NewClient(clientID, serverID)
	assert.ErrorIs(t, cli.Open(context.Background()), ErrNoNetwork)
	assert.Nil(t, cli.Connection())
	assert.False(t, cli.Send(&note{}))
	call := cli.Request(&loginRequest{})
	assert.ErrorIs(t, call.Err(), request.ErrNotSent)
	require.NoError(t, cli.Close())
}
