// Package stream runs packet links over byte-stream transports.
package stream

import (
	"bufio"
	"context"
	"errors"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"sbnet/pkg/core/priocq"
	"sbnet/pkg/packet"
	"sbnet/pkg/protocol"
	"sbnet/pkg/transport"
)

const defaultReadBuffer = 32 << 10

// Options configures a Link.
type Options struct {
	Kind     transport.Kind
	Registry *packet.Registry
	// Format defaults to protocol.LengthPrefixed{}.
	Format protocol.Format
	// QueueLimit bounds queued frames per priority class; zero means unbounded.
	QueueLimit int
	// Shaper, when set, limits outbound bytes per second.
	Shaper     *priocq.TokenBucket
	ReadBuffer int
	Logger     *zap.Logger
}

// Link frames packets onto a transport.Conn. Sends are encoded on the
// caller's goroutine and written by a single writer goroutine; a reader
// goroutine feeds a protocol.Framer.
type Link struct {
	conn  transport.Conn
	opts  Options
	log   *zap.Logger
	queue *priocq.Queue[[]byte]

	ctx    context.Context
	cancel context.CancelFunc

	recv     transport.Receiver
	started  atomic.Bool
	closed   atomic.Bool
	failOnce sync.Once
}

var _ transport.Link = (*Link)(nil)

// New wraps conn. Nothing is read or written before Start.
func New(conn transport.Conn, opts Options) *Link {
	if opts.Format == nil {
		opts.Format = protocol.LengthPrefixed{}
	}
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = defaultReadBuffer
	}
	log := opts.Logger
	if log == nil {
		log = zap.L().Named("stream")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		conn:   conn,
		opts:   opts,
		log:    log.With(zap.String("remote", conn.RemoteAddr().String())),
		queue:  priocq.New[[]byte](opts.QueueLimit),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (l *Link) Kind() transport.Kind { return l.opts.Kind }
func (l *Link) RemoteAddr() string   { return l.conn.RemoteAddr().String() }

func (l *Link) Start(r transport.Receiver) {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	l.recv = r
	go l.readLoop()
	go l.writeLoop()
}

func (l *Link) Send(p packet.Packet) error {
	if l.closed.Load() {
		return transport.ErrLinkClosed
	}
	b, err := l.opts.Format.Encode(l.opts.Registry, p)
	if err != nil {
		return err
	}
	class := priocq.Data
	if protocol.IsSignal(p) {
		class = priocq.Signal
	}
	switch err := l.queue.Push(class, b); {
	case errors.Is(err, priocq.ErrFull):
		return transport.ErrQueueFull
	case errors.Is(err, priocq.ErrClosed):
		return transport.ErrLinkClosed
	default:
		return err
	}
}

func (l *Link) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.cancel()
	if n := len(l.queue.Close()); n > 0 {
		l.log.Debug("dropping unsent frames", zap.Int("frames", n))
	}
	return l.conn.Close()
}

// fail reports a failure the link ran into by itself.
func (l *Link) fail(err error) {
	if l.closed.Load() {
		return
	}
	l.failOnce.Do(func() { l.recv.LinkFailed(err) })
}

type publisher struct{ r transport.Receiver }

func (p publisher) Publish(pk packet.Packet) { p.r.Receive(pk) }
func (p publisher) Reject(err error)         { p.r.Reject(err) }

func (l *Link) readLoop() {
	framer := protocol.NewFramer(l.opts.Format, l.opts.Registry, publisher{l.recv})
	buf := make([]byte, l.opts.ReadBuffer)
	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			if ferr := framer.Feed(buf[:n]); ferr != nil {
				l.fail(ferr)
				return
			}
		}
		if err != nil {
			l.fail(err)
			return
		}
	}
}

func (l *Link) writeLoop() {
	bw := bufio.NewWriter(l.conn)
	for {
		b, err := l.queue.Pop(l.ctx)
		if err != nil {
			return
		}
		if l.opts.Shaper != nil {
			if err := l.opts.Shaper.Wait(l.ctx, int64(len(b))); err != nil {
				return
			}
		}
		if _, err := bw.Write(b); err != nil {
			l.fail(err)
			return
		}
		// batch writes that are already queued into one flush
		if l.queue.Len() == 0 {
			if err := bw.Flush(); err != nil {
				l.fail(err)
				return
			}
		}
	}
}
