package request

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"sbnet/pkg/netid"
	"sbnet/pkg/packet"
)

// Call is the awaitable side of one pending request.
type Call struct {
	table  *Table
	id     uuid.UUID
	target netid.ID
	want   packet.Type
	sentAt time.Time

	done      chan struct{}
	completed atomic.Bool
	resp      packet.Packet
	context   any
	err       error
}

// ID returns the correlation ID.
func (c *Call) ID() uuid.UUID { return c.id }

// Target returns the identity the request was sent to.
func (c *Call) Target() netid.ID { return c.target }

// Done is closed once the call has a result.
func (c *Call) Done() <-chan struct{} { return c.done }

// Err returns the failure of a finished call, or nil while it is pending or
// after it succeeded.
func (c *Call) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the call finishes or ctx ends. When ctx ends first the
// call is cancelled and ctx's error is returned. The second result is the
// context object of the connection the response arrived on.
func (c *Call) Wait(ctx context.Context) (packet.Packet, any, error) {
	select {
	case <-c.done:
		return c.resp, c.context, c.err
	case <-ctx.Done():
	}
	if !c.Cancel() {
		// completed while we were giving up
		<-c.done
		return c.resp, c.context, c.err
	}
	return nil, nil, ctx.Err()
}

// Cancel removes a pending call and completes it with ErrCancelled. It
// reports whether the call was still pending.
func (c *Call) Cancel() bool {
	if c.table == nil {
		return false
	}
	return c.table.finish(c.id, c, nil, nil, ErrCancelled)
}

// complete fills the single-assignment result slot.
func (c *Call) complete(resp packet.Packet, cx any, err error) {
	if !c.completed.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("request: call %s completed twice", c.id))
	}
	c.resp, c.context, c.err = resp, cx, err
	close(c.done)
}

// Table tracks pending calls by correlation ID.
type Table struct {
	clock clock.Clock
	log   *zap.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]*Call
}

// Option configures a Table.
type Option func(*Table)

// WithClock sets the clock used to stamp calls for ExpireOlder.
func WithClock(c clock.Clock) Option { return func(t *Table) { t.clock = c } }

// WithLogger sets the logger for rejected responses.
func WithLogger(l *zap.Logger) Option { return func(t *Table) { t.log = l } }

// NewTable returns an empty table.
func NewTable(opts ...Option) *Table {
	t := &Table{pending: make(map[uuid.UUID]*Call)}
	for _, o := range opts {
		o(t)
	}
	if t.clock == nil {
		t.clock = clock.New()
	}
	if t.log == nil {
		t.log = zap.L().Named("request")
	}
	return t
}

// Send registers req for target and hands it to send. A request without a
// correlation ID gets a fresh random one. Reusing the ID of a pending call
// panics.
//
// The call is registered before send runs, so a response delivered from
// inside send still completes it. While send runs the call counts in Len
// and is reached by CancelAll and CancelTarget. If send reports failure the
// call is removed again and returned already finished with ErrNotSent;
// nothing stays registered.
func (t *Table) Send(target netid.ID, req Request, send func(packet.Packet) bool) *Call {
	id := req.CorrelationID()
	if id == uuid.Nil {
		id = uuid.New()
		req.SetCorrelationID(id)
	}
	c := &Call{
		table:  t,
		id:     id,
		target: target,
		want:   req.ResponseType(),
		done:   make(chan struct{}),
	}

	t.mu.Lock()
	if _, dup := t.pending[id]; dup {
		t.mu.Unlock()
		panic(&DuplicateCorrelationError{ID: id})
	}
	c.sentAt = t.clock.Now()
	t.pending[id] = c
	t.mu.Unlock()

	// Registered before sending so an immediate response finds it. The lock
	// is released because delivery may loop back into Complete.
	if !send(req) {
		t.finish(id, c, nil, nil, ErrNotSent)
	}
	return c
}

// Complete hands an inbound packet to the table. handled is false when p is
// a request or not a response to any pending call, in which case the caller should treat
// it as ordinary traffic. A response failing the sender or type check is
// dropped: handled is true, err says why, and the call stays pending.
func (t *Table) Complete(from netid.ID, p packet.Packet, connContext any) (handled bool, err error) {
	if _, isReq := p.(Request); isReq {
		return false, nil
	}
	resp, ok := p.(Response)
	if !ok {
		return false, nil
	}
	id := resp.CorrelationID()

	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.pending[id]
	if !ok {
		return false, nil
	}
	switch got := packet.TypeOf(p); {
	case c.target != from:
		err = fmt.Errorf("%w: call %s targets %s, response from %s", ErrSenderMismatch, id, c.target, from)
	case got != c.want:
		err = fmt.Errorf("%w: call %s wants %s, got %s", ErrTypeMismatch, id, c.want, got)
	}
	if err != nil {
		t.log.Warn("dropping mismatched response",
			zap.Stringer("correlation", id),
			zap.Stringer("from", from),
			zap.Error(err))
		return true, err
	}
	delete(t.pending, id)
	c.complete(p, connContext, nil)
	return true, nil
}

// finish removes c if it is still the call registered under id and
// completes it. It reports whether it did so.
func (t *Table) finish(id uuid.UUID, c *Call, resp packet.Packet, cx any, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.pending[id]; !ok || cur != c {
		return false
	}
	delete(t.pending, id)
	c.complete(resp, cx, err)
	return true
}

// drain removes every call accepted by match and completes it with err.
func (t *Table) drain(match func(*Call) bool, err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int
	for id, c := range t.pending {
		if match(c) {
			delete(t.pending, id)
			c.complete(nil, nil, err)
			n++
		}
	}
	return n
}

// CancelAll completes every pending call with ErrCancelled and empties the
// table. It returns the number of calls cancelled.
func (t *Table) CancelAll() int {
	return t.drain(func(*Call) bool { return true }, ErrCancelled)
}

// CancelTarget cancels the pending calls sent to target.
func (t *Table) CancelTarget(target netid.ID) int {
	return t.drain(func(c *Call) bool { return c.target == target }, ErrCancelled)
}

// ExpireOlder completes calls pending for longer than age with ErrTimeout.
func (t *Table) ExpireOlder(age time.Duration) int {
	if age <= 0 {
		return 0
	}
	deadline := t.clock.Now().Add(-age)
	return t.drain(func(c *Call) bool { return c.sentAt.Before(deadline) }, ErrTimeout)
}

// Len returns the number of pending calls.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
