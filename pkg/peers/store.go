// Package peers keeps per-remote connection statistics in a memkv store.
package peers

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"sbnet/pkg/memkv"
	"sbnet/pkg/netid"
	"sbnet/pkg/protocol/codec"
)

// DefaultTTL is how long a record survives after its last update.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "peer:"

// Stats is what is known about one remote identity.
type Stats struct {
	Remote    string `cbor:"1,keyasint"`
	Label     string `cbor:"2,keyasint"`
	Transport string `cbor:"3,keyasint,omitempty"`
	Addr      string `cbor:"4,keyasint,omitempty"`

	Opens       uint64 `cbor:"5,keyasint"`
	Closes      uint64 `cbor:"6,keyasint"`
	LastOpen    int64  `cbor:"7,keyasint,omitempty"`
	LastClose   int64  `cbor:"8,keyasint,omitempty"`
	CloseReason string `cbor:"9,keyasint,omitempty"`
	CloseError  string `cbor:"10,keyasint,omitempty"`

	PacketsIn  uint64 `cbor:"11,keyasint"`
	PacketsOut uint64 `cbor:"12,keyasint"`
	SendFailed uint64 `cbor:"13,keyasint"`
	Rejected   uint64 `cbor:"14,keyasint"`
	// LastRTT is the round trip of the last answered check, in microseconds.
	LastRTT  int64 `cbor:"15,keyasint,omitempty"`
	LastSeen int64 `cbor:"16,keyasint,omitempty"`
}

// Open reports whether the remote has a connection recorded as open.
func (s Stats) Open() bool { return s.Opens > s.Closes }

// Store records Stats keyed by remote identity.
type Store struct {
	kv    *memkv.Store
	ttl   time.Duration
	clock clock.Clock
	codec codec.Codec
	log   *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

func WithTTL(d time.Duration) Option  { return func(s *Store) { s.ttl = d } }
func WithClock(c clock.Clock) Option  { return func(s *Store) { s.clock = c } }
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// NewStore keeps records in kv.
func NewStore(kv *memkv.Store, opts ...Option) *Store {
	s := &Store{kv: kv, ttl: DefaultTTL, codec: codec.MustCBOR()}
	for _, o := range opts {
		o(s)
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.log == nil {
		s.log = zap.L().Named("peers")
	}
	return s
}

func key(remote netid.ID) string { return keyPrefix + remote.String() }

func (s *Store) update(remote netid.ID, fn func(*Stats)) {
	k := key(remote)
	ok := s.kv.Update(k, func(old []byte) []byte {
		var st Stats
		if old != nil {
			if err := s.codec.Unmarshal(old, &st); err != nil {
				s.log.Warn("discarding unreadable peer record", zap.String("key", k), zap.Error(err))
				st = Stats{}
			}
		}
		st.Remote = remote.String()
		st.Label = remote.Label()
		st.LastSeen = s.clock.Now().UnixMilli()
		fn(&st)
		b, err := s.codec.Marshal(st)
		if err != nil {
			s.log.Error("encode peer record", zap.String("key", k), zap.Error(err))
			return old
		}
		return b
	})
	if !ok {
		s.log.Warn("peer record refused by store", zap.String("key", k))
		return
	}
	s.kv.Expire(k, s.ttl)
}

// Opened records a connection reaching the open state.
func (s *Store) Opened(remote netid.ID, transport, addr string) {
	now := s.clock.Now().UnixMilli()
	s.update(remote, func(st *Stats) {
		st.Opens++
		st.LastOpen = now
		st.Transport = transport
		st.Addr = addr
	})
}

// Closed records a connection close.
func (s *Store) Closed(remote netid.ID, reason string, err error) {
	now := s.clock.Now().UnixMilli()
	s.update(remote, func(st *Stats) {
		st.Closes++
		st.LastClose = now
		st.CloseReason = reason
		st.CloseError = ""
		if err != nil {
			st.CloseError = err.Error()
		}
	})
}

// Received counts an inbound packet.
func (s *Store) Received(remote netid.ID) { s.update(remote, func(st *Stats) { st.PacketsIn++ }) }

// Sent counts an outbound packet, or a failed send when ok is false.
func (s *Store) Sent(remote netid.ID, ok bool) {
	s.update(remote, func(st *Stats) {
		if ok {
			st.PacketsOut++
		} else {
			st.SendFailed++
		}
	})
}

// Rejected counts an inbound frame or response that was refused.
func (s *Store) Rejected(remote netid.ID) { s.update(remote, func(st *Stats) { st.Rejected++ }) }

// CheckRTT records the round trip of an answered liveness check.
func (s *Store) CheckRTT(remote netid.ID, rtt time.Duration) {
	s.update(remote, func(st *Stats) { st.LastRTT = rtt.Microseconds() })
}

// Get returns the record for remote.
func (s *Store) Get(remote netid.ID) (Stats, bool) {
	b, ok := s.kv.Get(key(remote))
	if !ok {
		return Stats{}, false
	}
	var st Stats
	if err := s.codec.Unmarshal(b, &st); err != nil {
		return Stats{}, false
	}
	return st, true
}

// All returns every live record ordered by key.
func (s *Store) All() []Stats {
	keys := s.kv.Keys(keyPrefix)
	out := make([]Stats, 0, len(keys))
	for _, k := range keys {
		b, ok := s.kv.Get(k)
		if !ok {
			continue
		}
		var st Stats
		if err := s.codec.Unmarshal(b, &st); err == nil {
			out = append(out, st)
		}
	}
	return out
}
