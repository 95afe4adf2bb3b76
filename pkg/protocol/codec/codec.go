// Package codec holds the content-type codecs used for structured packet bodies.
package codec

import (
	"sync"
)

// Codec marshals values for cross-node exchange. Implementations must be
// deterministic.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]Codec
}

// NewRegistry returns a registry preloaded with JSON, canonical CBOR and Protobuf.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(MustCBOR())
	r.Register(Proto())
	return r
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns a shared registry holding the built-in codecs.
func Default() *Registry {
	defaultOnce.Do(func() { defaultReg = NewRegistry() })
	return defaultReg
}

// Register adds or replaces the codec for c's content type.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[c.ContentType()] = c
}

// Get returns the codec for contentType.
func (r *Registry) Get(contentType string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byType[contentType]
	return c, ok
}
