package manager

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"sbnet/pkg/config"
	"sbnet/pkg/event"
	"sbnet/pkg/packet"
	"sbnet/pkg/peers"
	"sbnet/pkg/request"
	"sbnet/pkg/transport"
)

// Handler receives inbound packets that are neither framework signals nor
// responses to pending requests. It runs on the connection's receive
// goroutine.
type Handler func(c *Connection, p packet.Packet)

// Option configures a Server or Client.
type Option func(*base)

// WithNetwork sets how connections are dialed and served. It is required.
func WithNetwork(n transport.Network) Option { return func(b *base) { b.network = n } }

// WithRegistry sets the packet registry shared with the network.
func WithRegistry(r *packet.Registry) Option { return func(b *base) { b.registry = r } }

// WithBus sets the event bus; by default each manager has its own.
func WithBus(bus *event.Bus) Option { return func(b *base) { b.bus = bus } }

// WithTable sets the request table; by default each manager has its own.
func WithTable(t *request.Table) Option { return func(b *base) { b.table = t } }

// WithHandler sets the application packet handler.
func WithHandler(h Handler) Option { return func(b *base) { b.handler = h } }

// WithPeers records connection statistics in s.
func WithPeers(s *peers.Store) Option { return func(b *base) { b.peers = s } }

func WithClock(c clock.Clock) Option  { return func(b *base) { b.clock = c } }
func WithLogger(l *zap.Logger) Option { return func(b *base) { b.log = l } }

// WithCheck sets how long a connection may stay quiet before it is probed
// and how long the probe may stay unanswered. Zero interval disables probes.
func WithCheck(interval, timeout time.Duration) Option {
	return func(b *base) { b.checkInterval, b.checkTimeout = interval, timeout }
}

// WithRequestTimeout expires pending requests older than d; zero disables.
func WithRequestTimeout(d time.Duration) Option { return func(b *base) { b.requestTimeout = d } }

// WithSweepInterval sets how often checks and timeouts are evaluated; zero
// disables the sweep.
func WithSweepInterval(d time.Duration) Option { return func(b *base) { b.sweepInterval = d } }

// WithDialBackoff sets the client's retry delays.
func WithDialBackoff(initial, max, jitter time.Duration) Option {
	return func(b *base) { b.backoffInitial, b.backoffMax, b.backoffJitter = initial, max, jitter }
}

// WithDialAttempts caps client dial attempts; zero retries until the
// context ends.
func WithDialAttempts(n int) Option { return func(b *base) { b.dialAttempts = n } }

// FromConfig applies the timing options of n.
func FromConfig(n config.NetConfig) Option {
	return func(b *base) {
		WithCheck(n.CheckInterval(), n.CheckTimeout())(b)
		WithRequestTimeout(n.RequestTimeout())(b)
		WithSweepInterval(n.SweepInterval())(b)
		WithDialBackoff(n.DialBackoffInitial(), n.DialBackoffMax(), n.DialBackoffJitter())(b)
		WithDialAttempts(n.DialAttempts)(b)
	}
}

// base is what servers and clients share.
type base struct {
	network  transport.Network
	registry *packet.Registry
	bus      *event.Bus
	table    *request.Table
	handler  Handler
	peers    *peers.Store
	clock    clock.Clock
	log      *zap.Logger

	checkInterval  time.Duration
	checkTimeout   time.Duration
	requestTimeout time.Duration
	sweepInterval  time.Duration

	backoffInitial time.Duration
	backoffMax     time.Duration
	backoffJitter  time.Duration
	dialAttempts   int
}

func newBase(name string, opts []Option) *base {
	n := config.DefaultNet()
	b := &base{}
	FromConfig(n)(b)
	for _, o := range opts {
		o(b)
	}
	if b.clock == nil {
		b.clock = clock.New()
	}
	if b.log == nil {
		b.log = zap.L().Named(name)
	}
	if b.registry == nil {
		b.registry = packet.MustRegistry()
	}
	if b.bus == nil {
		b.bus = event.NewBus(b.log)
	}
	if b.table == nil {
		b.table = request.NewTable(request.WithClock(b.clock), request.WithLogger(b.log.Named("request")))
	}
	if b.backoffInitial <= 0 {
		b.backoffInitial = n.DialBackoffInitial()
	}
	if b.backoffMax < b.backoffInitial {
		b.backoffMax = b.backoffInitial
	}
	return b
}

// Registry returns the packet registry.
func (b *base) Registry() *packet.Registry { return b.registry }

// Bus returns the event bus.
func (b *base) Bus() *event.Bus { return b.bus }

// Table returns the request table.
func (b *base) Table() *request.Table { return b.table }
