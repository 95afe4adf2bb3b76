// Package mem connects endpoints living in the same process. Packets cross
// a mem link by reference; nothing is encoded.
package mem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"sbnet/pkg/core/priocq"
	"sbnet/pkg/netid"
	"sbnet/pkg/packet"
	"sbnet/pkg/protocol"
	"sbnet/pkg/transport"
)

// ErrAddrInUse is returned by Serve when the identity is already served.
var ErrAddrInUse = errors.New("mem: identity already served")

// Directory is an in-process registry of served INTERNAL identities. Each
// Directory is an isolated namespace; pass the same one to every endpoint
// that should see the others.
type Directory struct {
	queueLimit int
	log        *zap.Logger

	mu      sync.Mutex
	next    uint64
	servers map[netid.ID]entry
}

type entry struct {
	token  uint64
	accept transport.AcceptFunc
}

// Option configures a Directory.
type Option func(*Directory)

// WithQueueLimit bounds each link's outbound queue per priority class.
func WithQueueLimit(n int) Option { return func(d *Directory) { d.queueLimit = n } }

// WithLogger sets the directory logger.
func WithLogger(l *zap.Logger) Option { return func(d *Directory) { d.log = l } }

// NewDirectory returns an empty directory.
func NewDirectory(opts ...Option) *Directory {
	d := &Directory{servers: make(map[netid.ID]entry)}
	for _, o := range opts {
		o(d)
	}
	if d.log == nil {
		d.log = zap.L().Named("mem")
	}
	return d
}

var _ transport.Network = (*Directory)(nil)

// Serve registers local, which must have the INTERNAL capability, until stop
// is called or ctx ends.
func (d *Directory) Serve(ctx context.Context, local netid.ID, accept transport.AcceptFunc) (func() error, error) {
	if !local.Has(netid.Internal) {
		return nil, &netid.UnsupportedCapabilityError{ID: local, Want: netid.Internal}
	}
	d.mu.Lock()
	if _, ok := d.servers[local]; ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAddrInUse, local)
	}
	d.next++
	token := d.next
	d.servers[local] = entry{token: token, accept: accept}
	d.mu.Unlock()
	d.log.Debug("serving", zap.Stringer("id", local))

	var once sync.Once
	done := make(chan struct{})
	stop := func() error {
		once.Do(func() {
			close(done)
			d.mu.Lock()
			if e, ok := d.servers[local]; ok && e.token == token {
				delete(d.servers, local)
			}
			d.mu.Unlock()
		})
		return nil
	}
	go func() {
		select {
		case <-ctx.Done():
			_ = stop()
		case <-done:
		}
	}()
	return stop, nil
}

// Dial connects local to the served identity remote. The served side sees
// the connection as coming from local.
func (d *Directory) Dial(ctx context.Context, local, remote netid.ID) (transport.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	e, ok := d.servers[remote]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", transport.ErrNoRoute, remote)
	}
	client, server := Pipe(d.queueLimit, local.Label(), remote.Label())
	if err := e.accept(local, server); err != nil {
		_ = client.Close()
		_ = server.Close()
		return nil, err
	}
	return client, nil
}

// Pipe returns two connected links. Names are what each side reports as its
// remote address.
func Pipe(queueLimit int, nameA, nameB string) (a, b transport.Link) {
	la := newLink(queueLimit, nameB)
	lb := newLink(queueLimit, nameA)
	la.peer, lb.peer = lb, la
	go la.pump()
	go lb.pump()
	return la, lb
}

type link struct {
	peer   *link
	remote string
	queue  *priocq.Queue[packet.Packet]

	ctx     context.Context
	cancel  context.CancelFunc
	started chan struct{}

	startOnce sync.Once
	recv      transport.Receiver
	closed    atomic.Bool
	failOnce  sync.Once
}

func newLink(queueLimit int, remote string) *link {
	ctx, cancel := context.WithCancel(context.Background())
	return &link{
		remote:  remote,
		queue:   priocq.New[packet.Packet](queueLimit),
		ctx:     ctx,
		cancel:  cancel,
		started: make(chan struct{}),
	}
}

func (l *link) Kind() transport.Kind { return transport.KindMem }
func (l *link) RemoteAddr() string   { return "mem:" + l.remote }

func (l *link) Start(r transport.Receiver) {
	l.startOnce.Do(func() {
		l.recv = r
		close(l.started)
	})
}

func (l *link) Send(p packet.Packet) error {
	if l.closed.Load() {
		return transport.ErrLinkClosed
	}
	class := priocq.Data
	if protocol.IsSignal(p) {
		class = priocq.Signal
	}
	switch err := l.queue.Push(class, p); {
	case errors.Is(err, priocq.ErrFull):
		return transport.ErrQueueFull
	case errors.Is(err, priocq.ErrClosed):
		return transport.ErrLinkClosed
	default:
		return err
	}
}

func (l *link) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.cancel()
	l.queue.Close()
	return nil
}

// pump delivers this side's sends to the peer's receiver. When it stops the
// peer learns that the link is gone.
func (l *link) pump() {
	defer l.peer.fail(io.EOF)
	select {
	case <-l.peer.started:
	case <-l.ctx.Done():
		return
	}
	for {
		p, err := l.queue.Pop(l.ctx)
		if err != nil {
			return
		}
		l.peer.recv.Receive(p)
	}
}

func (l *link) fail(err error) {
	select {
	case <-l.started:
	case <-l.ctx.Done():
		return
	}
	if l.closed.Load() {
		return
	}
	l.failOnce.Do(func() { l.recv.LinkFailed(err) })
}
