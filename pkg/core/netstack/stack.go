// Package netstack turns a byte transport into a transport.Network: every
// stream starts with the signed hello and then carries framed packets.
package netstack

import (
	"crypto/ed25519"
	"net"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"sbnet/pkg/config"
	"sbnet/pkg/core/priocq"
	"sbnet/pkg/netid"
	"sbnet/pkg/packet"
	"sbnet/pkg/protocol"
	"sbnet/pkg/transport"
	"sbnet/pkg/transport/stream"
)

// Stack dials and serves identities over one Transport.
type Stack struct {
	tr       transport.Transport
	registry *packet.Registry
	key      ed25519.PrivateKey
	net      config.NetConfig
	clock    clock.Clock
	log      *zap.Logger

	mu    sync.Mutex
	addrs map[netid.ID]net.Addr
}

var _ transport.Network = (*Stack)(nil)

// Option configures a Stack.
type Option func(*Stack)

// WithKey signs outgoing hellos with key.
func WithKey(key ed25519.PrivateKey) Option { return func(s *Stack) { s.key = key } }

// WithNet sets timing, queue and frame limits.
func WithNet(n config.NetConfig) Option { return func(s *Stack) { s.net = n } }

func WithClock(c clock.Clock) Option  { return func(s *Stack) { s.clock = c } }
func WithLogger(l *zap.Logger) Option { return func(s *Stack) { s.log = l } }

// New returns a Stack sending packets mapped in reg over tr.
func New(tr transport.Transport, reg *packet.Registry, opts ...Option) *Stack {
	s := &Stack{
		tr:       tr,
		registry: reg,
		net:      config.DefaultNet(),
		addrs:    make(map[netid.ID]net.Addr),
	}
	for _, o := range opts {
		o(s)
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.log == nil {
		s.log = zap.L().Named("netstack")
	}
	return s
}

// Kind returns the transport kind.
func (s *Stack) Kind() transport.Kind { return s.tr.Kind() }

// Addr returns the listen address of a served identity, which differs from
// the bind address when that asked for an ephemeral port.
func (s *Stack) Addr(local netid.ID) (net.Addr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.addrs[local]
	return a, ok
}

// link wraps an authenticated stream.
func (s *Stack) link(conn transport.Conn) *stream.Link {
	var shaper *priocq.TokenBucket
	if rate := s.net.ShapeBytesPerSec; rate > 0 {
		shaper = priocq.NewTokenBucket(s.clock, rate, max(rate, int64(s.net.MaxFrameBytes)))
	}
	return stream.New(conn, stream.Options{
		Kind:       s.tr.Kind(),
		Registry:   s.registry,
		Format:     protocol.LengthPrefixed{MaxFrame: s.net.MaxFrameBytes},
		QueueLimit: s.net.SendQueueDepth,
		Shaper:     shaper,
		Logger:     s.log.Named("link"),
	})
}
