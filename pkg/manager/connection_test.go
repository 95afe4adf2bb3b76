package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sbnet/pkg/event"
	"sbnet/pkg/netid"
	"sbnet/pkg/protocol"
	"sbnet/pkg/transport"
	"sbnet/pkg/transport/mem"
)

func testBase(t *testing.T, opts ...Option) *base {
	opts = append([]Option{WithClock(clock.NewMock()), WithLogger(zap.NewNop())}, opts...)
	return newBase("test", opts)
}

// piped returns an unopened connection and the far end of the link it
// will open with.
func piped(t *testing.T, b *base) (*Connection, Opener, *sink) {
	t.Helper()
	near, far := mem.Pipe(0, "near", "far")
	s := &sink{}
	far.Start(s)
	t.Cleanup(func() {
		_ = near.Close()
		_ = far.Close()
	})
	c := newConnection(b, netid.NewInternal("far"), false)
	return c, func(context.Context) (transport.Link, error) { return near, nil }, s
}

func TestConnectionLifecycle(t *testing.T) {
	b := testBase(t)
	closed := record[*ConnectionClosed](t, b.bus)
	c, open, far := piped(t, b)

	assert.Equal(t, StateInitialized, c.State())
	assert.False(t, c.Send(&note{Text: "early"}), "send before open")
	assert.False(t, c.CheckAlive(), "check before open")

	require.NoError(t, c.Open(context.Background(), open))
	assert.Equal(t, StateOpen, c.State())
	assert.Equal(t, transport.KindMem, c.Transport())
	assert.ErrorIs(t, c.Open(context.Background(), open), ErrInvalidState)

	assert.True(t, c.Send(&note{Text: "hi"}))
	assert.True(t, c.CheckAlive())
	assert.Equal(t, StateChecking, c.State())
	assert.False(t, c.Send(&note{Text: "while checking"}))
	assert.False(t, c.CheckAlive(), "second check while checking")

	require.Eventually(t, func() bool { return len(far.packets()) == 2 }, waitFor, time.Millisecond)
	// the probe may overtake the note
	assert.ElementsMatch(t, []any{&note{Text: "hi"}, protocol.CheckProbe{}}, far.packets())

	assert.True(t, c.Close(ReasonExternal, nil))
	assert.False(t, c.Close(ReasonTimeout, errors.New("late")), "close is idempotent")
	assert.Equal(t, StateClosed, c.State())
	reason, err := c.CloseReason()
	assert.Equal(t, ReasonExternal, reason)
	assert.NoError(t, err)

	assert.False(t, c.Send(&note{Text: "after close"}))
	assert.ErrorIs(t, c.Open(context.Background(), open), ErrConnectionClosed)

	require.Len(t, closed.all(), 1)
	ev := closed.all()[0]
	assert.Equal(t, c.Remote(), ev.Remote)
	assert.Equal(t, ReasonExternal, ev.Reason)
	assert.False(t, ev.Server)

	require.Eventually(t, func() bool { return far.failure() != nil }, waitFor, time.Millisecond)
}

func TestCheckReplyReturnsToOpen(t *testing.T) {
	b := testBase(t)
	ok := record[*CheckSucceeded](t, b.bus)
	c, open, _ := piped(t, b)
	require.NoError(t, c.Open(context.Background(), open))
	defer c.Close(ReasonExpected, nil)

	// a reply with no outstanding probe changes nothing
	c.receive(protocol.CheckReply{})
	assert.Equal(t, StateOpen, c.State())
	assert.Zero(t, ok.len())

	require.True(t, c.CheckAlive())
	b.clock.(*clock.Mock).Add(30 * time.Millisecond)
	c.receive(protocol.CheckReply{})
	assert.Equal(t, StateOpen, c.State())
	require.Len(t, ok.all(), 1)
	assert.Equal(t, 30*time.Millisecond, ok.all()[0].RTT)
}

func TestProbeIsAnswered(t *testing.T) {
	b := testBase(t)
	c, open, far := piped(t, b)
	require.NoError(t, c.Open(context.Background(), open))
	defer c.Close(ReasonExpected, nil)

	c.receive(protocol.CheckProbe{})
	require.Eventually(t, func() bool { return len(far.packets()) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, protocol.CheckReply{}, far.packets()[0])
}

func TestOpenFailure(t *testing.T) {
	boom := errors.New("refused")

	c := newConnection(testBase(t), netid.NewInternal("far"), false)
	err := c.Open(context.Background(), func(context.Context) (transport.Link, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	reason, cerr := c.CloseReason()
	assert.Equal(t, ReasonIOException, reason)
	assert.ErrorIs(t, cerr, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c = newConnection(testBase(t), netid.NewInternal("far"), false)
	err = c.Open(ctx, func(ctx context.Context) (transport.Link, error) { return nil, ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	reason, _ = c.CloseReason()
	assert.Equal(t, ReasonInterrupted, reason)
	assert.Equal(t, StateClosed, c.State())
}

func TestCloseWhileOpening(t *testing.T) {
	b := testBase(t)
	c, open, far := piped(t, b)
	err := c.Open(context.Background(), func(ctx context.Context) (transport.Link, error) {
		c.Close(ReasonExternal, nil)
		return open(ctx)
	})
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, StateClosed, c.State())
	require.Eventually(t, func() bool { return far.failure() != nil }, waitFor, time.Millisecond)
}

func TestUnknownPacketReported(t *testing.T) {
	b := testBase(t)
	unknown := record[*UnknownPacket](t, b.bus)
	c, open, _ := piped(t, b)
	require.NoError(t, c.Open(context.Background(), open))
	defer c.Close(ReasonExpected, nil)

	c.receive(&protocol.Unknown{ID: 99, Body: []byte{1, 2, 3}})
	require.Len(t, unknown.all(), 1)
	assert.EqualValues(t, 99, unknown.all()[0].ID)
	assert.Equal(t, 3, unknown.all()[0].Size)
	assert.Equal(t, StateOpen, c.State(), "unknown packets do not close the connection")
}

func TestRejectedFrameReported(t *testing.T) {
	b := testBase(t)
	rejected := record[*ReceiveRejected](t, b.bus)
	c, open, _ := piped(t, b)
	require.NoError(t, c.Open(context.Background(), open))
	defer c.Close(ReasonExpected, nil)

	cause := &protocol.DecodeError{ID: 2, Err: errors.New("short body")}
	receiver{c}.Reject(cause)
	require.Len(t, rejected.all(), 1)
	assert.ErrorIs(t, rejected.all()[0].Err, cause)
	assert.Equal(t, StateOpen, c.State())
}

func TestLinkFailureReasons(t *testing.T) {
	b := testBase(t)
	c, open, _ := piped(t, b)
	require.NoError(t, c.Open(context.Background(), open))
	receiver{c}.LinkFailed(errors.New("broken pipe"))
	reason, err := c.CloseReason()
	assert.Equal(t, ReasonIOException, reason)
	assert.EqualError(t, err, "broken pipe")
}

func TestCancelledCloseEventStillCloses(t *testing.T) {
	b := testBase(t)
	t.Cleanup(event.On(b.bus, func(ev *ConnectionClosed) { ev.Cancel() }))

	c, open, _ := piped(t, b)
	require.NoError(t, c.Open(context.Background(), open))
	assert.True(t, c.Close(ReasonTimeout, ErrCheckTimeout))
	assert.Equal(t, StateClosed, c.State())
	reason, err := c.CloseReason()
	assert.Equal(t, ReasonTimeout, reason)
	assert.ErrorIs(t, err, ErrCheckTimeout)
}
