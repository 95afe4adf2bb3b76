package manager

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"sbnet/pkg/netid"
	"sbnet/pkg/packet"
	"sbnet/pkg/request"
	"sbnet/pkg/transport"
)

// ErrAlreadyOpen is returned by Client.Open while a connection is live.
var ErrAlreadyOpen = errors.New("manager: client already open")

// Client holds a single connection from local to remote.
type Client struct {
	*base
	local  netid.ID
	remote netid.ID

	mu    sync.Mutex
	conn  *Connection
	sweep *sweeper
	// abort ends the dial of the Open in progress.
	abort context.CancelCauseFunc
}

// NewClient returns a client that connects local to remote when opened.
func NewClient(local, remote netid.ID, opts ...Option) *Client {
	return &Client{
		base:   newBase("client", opts),
		local:  local,
		remote: remote,
	}
}

func (c *Client) Local() netid.ID  { return c.local }
func (c *Client) Remote() netid.ID { return c.remote }

// Connection returns the current connection, which may be closed, or nil
// before the first Open.
func (c *Client) Connection() *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Open dials the remote, retrying with exponential backoff, and blocks until
// the connection is open or dialing gave up. A closed client can be opened
// again. Close while dialing makes Open return ErrConnectionClosed.
func (c *Client) Open(ctx context.Context) error {
	if c.network == nil {
		return ErrNoNetwork
	}
	if c.live() {
		return ErrAlreadyOpen
	}

	ev := &ConfigureConnection{Remote: c.remote}
	c.bus.Publish(ev)

	c.mu.Lock()
	if c.conn != nil && c.conn.State() != StateClosed {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	conn := newConnection(c.base, c.remote, false)
	conn.value = ev.Context
	c.conn = conn
	ctx, abort := context.WithCancelCause(ctx)
	c.abort = abort
	if c.sweep == nil {
		c.sweep = c.startSweep(c.connections)
	}
	c.mu.Unlock()
	defer abort(nil)

	return conn.Open(ctx, c.dial)
}

func (c *Client) live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.State() != StateClosed
}

func (c *Client) connections() []*Connection {
	if conn := c.Connection(); conn != nil {
		return []*Connection{conn}
	}
	return nil
}

// dial retries network.Dial until it succeeds, the attempts run out or ctx
// ends, returning the cause of the cancellation. Delays double from the initial backoff up to the maximum, each
// with random jitter added.
func (c *Client) dial(ctx context.Context) (transport.Link, error) {
	delay := c.backoffInitial
	for attempt := 1; ; attempt++ {
		l, err := c.network.Dial(ctx, c.local, c.remote)
		if err == nil {
			return l, nil
		}
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		if c.dialAttempts > 0 && attempt >= c.dialAttempts {
			return nil, fmt.Errorf("dial %s: %d attempts: %w", c.remote, attempt, err)
		}

		wait := delay
		if c.backoffJitter > 0 {
			wait += time.Duration(rand.Int63n(int64(c.backoffJitter)))
		}
		c.log.Debug("dial failed, retrying",
			zap.Stringer("remote", c.remote),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))

		t := c.clock.Timer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, context.Cause(ctx)
		case <-t.C:
		}
		delay = min(delay*2, c.backoffMax)
	}
}

// Close closes the connection with ReasonExpected, stops a dial in
// progress and the sweep, and cancels every pending request.
func (c *Client) Close() error {
	c.mu.Lock()
	conn, sw, abort := c.conn, c.sweep, c.abort
	c.sweep, c.abort = nil, nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close(ReasonExpected, nil)
	}
	if abort != nil {
		abort(ErrConnectionClosed)
	}
	sw.Stop()
	c.table.CancelAll()
	return nil
}

// Send sends p on the connection. It returns false unless the connection is
// open and the link accepted p.
func (c *Client) Send(p packet.Packet) bool {
	conn := c.Connection()
	if conn == nil {
		return false
	}
	return conn.Send(p)
}

// Request sends req to the remote and returns its pending call.
func (c *Client) Request(req request.Request) *request.Call {
	return c.table.Send(c.remote, req, c.Send)
}
