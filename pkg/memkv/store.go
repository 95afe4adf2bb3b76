package memkv

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
)

// Options configures a Store.
type Options struct {
	// Shards defaults to 64.
	Shards int
	// MaxBytes limits the total size of stored values; zero is unlimited.
	MaxBytes uint64
	// SweepInterval is how often expired keys are removed; zero means one
	// second, negative disables the sweep.
	SweepInterval time.Duration
	Clock         clock.Clock
}

// Stats is a snapshot of store counters.
type Stats struct {
	Keys    uint64
	Bytes   uint64
	Sets    uint64
	Gets    uint64
	Hits    uint64
	Misses  uint64
	Deletes uint64
	Expired uint64
	Updates uint64
	Refused uint64
}

type entry struct {
	val      []byte
	expireAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*entry
}

// Store is safe for concurrent use. Values are copied on the way in and out.
type Store struct {
	opts   Options
	clock  clock.Clock
	shards []shard

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	keys, bytes                          atomic.Uint64
	sets, gets, hits, misses             atomic.Uint64
	deletes, expiredN, updates, refusedN atomic.Uint64
}

// New returns a running store. Call Close to stop its sweeper.
func New(opts Options) *Store {
	if opts.Shards <= 0 {
		opts.Shards = 64
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	s := &Store{
		opts:   opts,
		clock:  opts.Clock,
		shards: make([]shard, opts.Shards),
		stop:   make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i].m = make(map[string]*entry)
	}
	if opts.SweepInterval > 0 {
		s.wg.Add(1)
		go s.sweeper(opts.SweepInterval)
	}
	return s
}

// Close stops the sweeper. The store stays readable.
func (s *Store) Close() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Store) shardFor(key string) *shard {
	// FNV-1a
	h := uint64(14695981039346656037)
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return &s.shards[h%uint64(len(s.shards))]
}

func clone(b []byte) []byte { return append([]byte(nil), b...) }

func (s *Store) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock.Now().Add(ttl)
}

// reserve accounts for a value growing by delta bytes, refusing growth past
// MaxBytes.
func (s *Store) reserve(delta int) bool {
	if delta <= 0 {
		s.bytes.Sub(uint64(-delta))
		return true
	}
	for {
		cur := s.bytes.Load()
		next := cur + uint64(delta)
		if s.opts.MaxBytes > 0 && next > s.opts.MaxBytes {
			s.refusedN.Inc()
			return false
		}
		if s.bytes.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// dropLocked removes key from sh, which must be write-locked.
func (s *Store) dropLocked(sh *shard, key string, e *entry) {
	delete(sh.m, key)
	s.keys.Dec()
	s.bytes.Sub(uint64(len(e.val)))
}

// Set stores val under key and reports whether the key was created. A
// zero ttl never expires. It returns false without storing when MaxBytes
// would be exceeded.
func (s *Store) Set(key string, val []byte, ttl time.Duration) (created bool) {
	s.sets.Inc()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.clock.Now()
	prev, ok := sh.m[key]
	if ok && prev.expired(now) {
		s.dropLocked(sh, key, prev)
		s.expiredN.Inc()
		prev, ok = nil, false
	}
	old := 0
	if ok {
		old = len(prev.val)
	}
	if !s.reserve(len(val) - old) {
		return false
	}
	sh.m[key] = &entry{val: clone(val), expireAt: s.deadline(ttl)}
	if !ok {
		s.keys.Inc()
	}
	return !ok
}

// Get returns a copy of the value under key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.gets.Inc()
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.m[key]
	if ok && e.expired(s.clock.Now()) {
		ok = false
	}
	var v []byte
	if ok {
		v = clone(e.val)
	}
	sh.mu.RUnlock()
	if ok {
		s.hits.Inc()
	} else {
		s.misses.Inc()
	}
	return v, ok
}

// GetDel returns the value under key and removes it.
func (s *Store) GetDel(key string) ([]byte, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if !ok {
		return nil, false
	}
	s.dropLocked(sh, key, e)
	if e.expired(s.clock.Now()) {
		s.expiredN.Inc()
		return nil, false
	}
	s.deletes.Inc()
	return e.val, true
}

// Update replaces the value under key with fn(old) while holding the key's
// shard. old is nil for a missing key, which Update then creates without a
// TTL. An existing TTL is kept. It reports false when MaxBytes refused the
// new value.
func (s *Store) Update(key string, fn func(old []byte) []byte) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.clock.Now()
	e, ok := sh.m[key]
	if ok && e.expired(now) {
		s.dropLocked(sh, key, e)
		s.expiredN.Inc()
		e, ok = nil, false
	}
	var old []byte
	if ok {
		old = clone(e.val)
	}
	next := fn(old)
	if !s.reserve(len(next) - len(old)) {
		return false
	}
	s.updates.Inc()
	if ok {
		e.val = clone(next)
		return true
	}
	sh.m[key] = &entry{val: clone(next)}
	s.keys.Inc()
	return true
}

// Exists reports whether key holds a live value.
func (s *Store) Exists(key string) bool {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.m[key]
	return ok && !e.expired(s.clock.Now())
}

// Delete removes key and reports whether it held a live value.
func (s *Store) Delete(key string) bool {
	_, ok := s.GetDel(key)
	return ok
}

// Expire sets a new TTL on key; a non-positive ttl removes the expiry.
func (s *Store) Expire(key string, ttl time.Duration) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if !ok || e.expired(s.clock.Now()) {
		return false
	}
	e.expireAt = s.deadline(ttl)
	return true
}

// TTL returns the time left on key. A key without expiry reports zero.
func (s *Store) TTL(key string) (time.Duration, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	now := s.clock.Now()
	e, ok := sh.m[key]
	if !ok || e.expired(now) {
		return 0, false
	}
	if e.expireAt.IsZero() {
		return 0, true
	}
	return e.expireAt.Sub(now), true
}

// Keys returns the live keys starting with prefix, sorted.
func (s *Store) Keys(prefix string) []string {
	now := s.clock.Now()
	var out []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, e := range sh.m {
			if strings.HasPrefix(k, prefix) && !e.expired(now) {
				out = append(out, k)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// Metrics returns a snapshot of the counters.
func (s *Store) Metrics() Stats {
	return Stats{
		Keys:    s.keys.Load(),
		Bytes:   s.bytes.Load(),
		Sets:    s.sets.Load(),
		Gets:    s.gets.Load(),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
		Deletes: s.deletes.Load(),
		Expired: s.expiredN.Load(),
		Updates: s.updates.Load(),
		Refused: s.refusedN.Load(),
	}
}

// Sweep removes expired keys now and returns how many it removed.
func (s *Store) Sweep() int {
	now := s.clock.Now()
	var n int
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, e := range sh.m {
			if e.expired(now) {
				s.dropLocked(sh, k, e)
				n++
			}
		}
		sh.mu.Unlock()
	}
	s.expiredN.Add(uint64(n))
	return n
}

func (s *Store) sweeper(every time.Duration) {
	defer s.wg.Done()
	t := s.clock.Ticker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.Sweep()
		}
	}
}
