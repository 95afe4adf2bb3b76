package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"sbnet/pkg/netid"
	"sbnet/pkg/packet"
	"sbnet/pkg/protocol"
	"sbnet/pkg/transport"
)

// State is a connection lifecycle state. States only move forward, except
// that Checking returns to Open when a probe is answered.
type State int32

const (
	StateInitialized State = iota
	StateOpening
	StateOpen
	StateChecking
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "INITIALIZED"
	case StateOpening:
		return "OPENING"
	case StateOpen:
		return "OPEN"
	case StateChecking:
		return "CHECKING"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var (
	// ErrConnectionClosed is returned when opening a closed connection.
	ErrConnectionClosed = errors.New("manager: connection closed")
	// ErrInvalidState is returned by an operation not allowed in the current state.
	ErrInvalidState = errors.New("manager: invalid connection state")
	// ErrCheckTimeout is the close error of a connection whose probe went unanswered.
	ErrCheckTimeout = errors.New("manager: liveness check timed out")
)

// Opener produces the link of a connection being opened.
type Opener func(ctx context.Context) (transport.Link, error)

// Connection is one logical channel to a remote identity, owned by a Server
// or a Client.
type Connection struct {
	m      *base
	remote netid.ID
	server bool
	log    *zap.Logger

	mu           sync.Mutex
	state        State
	link         transport.Link
	value        any
	reason       CloseReason
	closeErr     error
	lastActivity time.Time
	checkStart   time.Time
	onClosed     func(*Connection)
}

func newConnection(m *base, remote netid.ID, server bool) *Connection {
	return &Connection{
		m:      m,
		remote: remote,
		server: server,
		log:    m.log.With(zap.Stringer("remote", remote)),
	}
}

// Remote returns the identity of the other side.
func (c *Connection) Remote() netid.ID { return c.remote }

// Server reports whether the connection was accepted by a server.
func (c *Connection) Server() bool { return c.server }

// Context returns the object attached through ConfigureConnection.
func (c *Connection) Context() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CloseReason returns why the connection closed, or ReasonNone while it is
// not closing.
func (c *Connection) CloseReason() (CloseReason, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason, c.closeErr
}

// LastActivity is when the connection opened or last received a packet.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Transport returns the kind of link the connection runs on.
func (c *Connection) Transport() transport.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return transport.KindUnknown
	}
	return c.link.Kind()
}

// Open moves an Initialized connection to Open using the link produced by
// open. When open fails the connection closes with IOException, or with
// Interrupted if ctx ended.
func (c *Connection) Open(ctx context.Context, open Opener) error {
	c.mu.Lock()
	switch st := c.state; st {
	case StateInitialized:
	case StateClosing, StateClosed:
		c.mu.Unlock()
		return ErrConnectionClosed
	default:
		c.mu.Unlock()
		return fmt.Errorf("%w: open in %s", ErrInvalidState, st)
	}
	c.state = StateOpening
	c.mu.Unlock()

	link, err := open(ctx)
	if err != nil {
		reason := ReasonIOException
		if ctx.Err() != nil {
			reason = ReasonInterrupted
		}
		c.Close(reason, err)
		return err
	}

	c.mu.Lock()
	if c.state != StateOpening {
		// closed while the link was being set up
		c.mu.Unlock()
		_ = link.Close()
		return ErrConnectionClosed
	}
	c.link = link
	c.state = StateOpen
	c.lastActivity = c.m.clock.Now()
	c.mu.Unlock()

	link.Start(receiver{c})
	if c.m.peers != nil {
		c.m.peers.Opened(c.remote, link.Kind().String(), link.RemoteAddr())
	}
	c.log.Info("connection open",
		zap.Stringer("transport", link.Kind()),
		zap.String("addr", link.RemoteAddr()),
		zap.Bool("server", c.server))
	return nil
}

// Close closes the connection with reason. Only the first call has an
// effect; it reports whether this call closed the connection.
func (c *Connection) Close(reason CloseReason, err error) bool {
	onClosed, ok := c.shutdown(reason, err)
	if !ok {
		return false
	}
	c.finish(onClosed)
	return true
}

// shutdown performs the state transition to Closed and returns the owner's
// removal callback for finish.
func (c *Connection) shutdown(reason CloseReason, err error) (func(*Connection), bool) {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return nil, false
	}
	c.state = StateClosing
	c.reason, c.closeErr = reason, err
	link := c.link
	onClosed := c.onClosed
	c.onClosed = nil
	c.mu.Unlock()

	if link != nil {
		if cerr := link.Close(); cerr != nil {
			c.log.Debug("link close", zap.Error(cerr))
		}
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	return onClosed, true
}

// finish runs everything that follows a close outside the connection lock.
func (c *Connection) finish(onClosed func(*Connection)) {
	if onClosed != nil {
		onClosed(c)
	}
	cancelled := c.m.table.CancelTarget(c.remote)

	c.mu.Lock()
	reason, err := c.reason, c.closeErr
	c.mu.Unlock()
	if c.m.peers != nil {
		c.m.peers.Closed(c.remote, reason.String(), err)
	}

	ev := &ConnectionClosed{Remote: c.remote, Server: c.server, Reason: reason, Err: err}
	level := zap.WarnLevel
	if reason == ReasonExpected || reason == ReasonServer || reason == ReasonRemote {
		level = zap.InfoLevel
	}
	if c.m.bus.Publish(ev) {
		level = zap.DebugLevel
	}
	if ce := c.log.Check(level, "connection closed"); ce != nil {
		ce.Write(zap.Stringer("reason", reason), zap.Error(err), zap.Int("cancelled_requests", cancelled))
	}
}

// Send queues p. It returns false without side effects unless the
// connection is Open, and false with a SendRejected event when the link
// refuses the packet.
func (c *Connection) Send(p packet.Packet) bool {
	c.mu.Lock()
	if c.state != StateOpen {
		st := c.state
		c.mu.Unlock()
		c.log.Debug("send refused", zap.Stringer("state", st), zap.Stringer("type", packet.TypeOf(p)))
		return false
	}
	link := c.link
	c.mu.Unlock()
	return c.transmit(link, p)
}

func (c *Connection) transmit(link transport.Link, p packet.Packet) bool {
	err := link.Send(p)
	if c.m.peers != nil {
		c.m.peers.Sent(c.remote, err == nil)
	}
	if err == nil {
		return true
	}
	ev := &SendRejected{Remote: c.remote, Type: packet.TypeOf(p), Err: err}
	level := zap.WarnLevel
	if c.m.bus.Publish(ev) || errors.Is(err, transport.ErrLinkClosed) {
		level = zap.DebugLevel
	}
	if ce := c.log.Check(level, "send rejected"); ce != nil {
		ce.Write(zap.Stringer("type", ev.Type), zap.Error(err))
	}
	return false
}

// CheckAlive sends a liveness probe and moves an Open connection to
// Checking. It returns false in any other state.
func (c *Connection) CheckAlive() bool {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return false
	}
	c.state = StateChecking
	c.checkStart = c.m.clock.Now()
	link := c.link
	c.mu.Unlock()

	// an unsent probe is caught by the check timeout
	c.transmit(link, protocol.CheckProbe{})
	return true
}

// tick applies the periodic liveness rules at now.
func (c *Connection) tick(now time.Time) {
	c.mu.Lock()
	st, idle, checking := c.state, now.Sub(c.lastActivity), now.Sub(c.checkStart)
	c.mu.Unlock()

	switch {
	case st == StateOpen && c.m.checkInterval > 0 && idle >= c.m.checkInterval:
		c.CheckAlive()
	case st == StateChecking && c.m.checkTimeout > 0 && checking >= c.m.checkTimeout:
		c.Close(ReasonTimeout, ErrCheckTimeout)
	}
}

func (c *Connection) receive(p packet.Packet) {
	now := c.m.clock.Now()
	c.mu.Lock()
	if c.state != StateOpen && c.state != StateChecking {
		c.mu.Unlock()
		return
	}
	c.lastActivity = now
	link := c.link
	value := c.value
	c.mu.Unlock()
	if c.m.peers != nil {
		c.m.peers.Received(c.remote)
	}

	switch v := p.(type) {
	case protocol.CheckProbe:
		c.transmit(link, protocol.CheckReply{})
	case protocol.CheckReply:
		c.checkAnswered(now)
	case *protocol.Unknown:
		ev := &UnknownPacket{Remote: c.remote, ID: v.ID, Size: len(v.Body)}
		level := zap.WarnLevel
		if c.m.bus.Publish(ev) {
			level = zap.DebugLevel
		}
		if ce := c.log.Check(level, "unknown packet"); ce != nil {
			ce.Write(zap.Int32("id", v.ID), zap.Int("size", len(v.Body)))
		}
	default:
		handled, err := c.m.table.Complete(c.remote, p, value)
		if err != nil {
			c.rejected(packet.TypeOf(p), err)
		}
		if handled {
			return
		}
		if c.m.handler == nil {
			c.log.Debug("no handler for packet", zap.Stringer("type", packet.TypeOf(p)))
			return
		}
		c.m.handler(c, p)
	}
}

func (c *Connection) checkAnswered(now time.Time) {
	c.mu.Lock()
	if c.state != StateChecking {
		c.mu.Unlock()
		return
	}
	c.state = StateOpen
	rtt := now.Sub(c.checkStart)
	c.mu.Unlock()

	if c.m.peers != nil {
		c.m.peers.CheckRTT(c.remote, rtt)
	}
	c.m.bus.Publish(&CheckSucceeded{Remote: c.remote, RTT: rtt})
	c.log.Debug("check succeeded", zap.Duration("rtt", rtt))
}

func (c *Connection) rejected(t packet.Type, err error) {
	if c.m.peers != nil {
		c.m.peers.Rejected(c.remote)
	}
	ev := &ReceiveRejected{Remote: c.remote, Type: t, Err: err}
	level := zap.WarnLevel
	if c.m.bus.Publish(ev) {
		level = zap.DebugLevel
	}
	if ce := c.log.Check(level, "receive rejected"); ce != nil {
		ce.Write(zap.Stringer("type", t), zap.Error(err))
	}
}

func (c *Connection) linkFailed(err error) {
	if errors.Is(err, io.EOF) {
		c.Close(ReasonRemote, nil)
		return
	}
	c.Close(ReasonIOException, err)
}

// receiver keeps the transport callbacks off the Connection's exported
// method set.
type receiver struct{ c *Connection }

func (r receiver) Receive(p packet.Packet) { r.c.receive(p) }
func (r receiver) LinkFailed(err error)    { r.c.linkFailed(err) }

func (r receiver) Reject(err error) {
	var t packet.Type
	var de *protocol.DecodeError
	if errors.As(err, &de) {
		t = de.Type
	}
	r.c.rejected(t, err)
}
