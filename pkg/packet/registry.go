package packet

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDuplicateMapping is matched by DuplicateMappingError.
	ErrDuplicateMapping = errors.New("packet: duplicate mapping")
	// ErrViewExpired is the panic value when a View is used outside its callback.
	ErrViewExpired = errors.New("packet: registry view used without holding the registry lock")
)

// DuplicateMappingError reports a mapping that collides with a registered one
// by wire ID or by type.
type DuplicateMappingError struct {
	New      Mapping
	Existing Mapping
}

func (e *DuplicateMappingError) Error() string {
	return fmt.Sprintf("packet: mapping %s conflicts with registered %s", e.New, e.Existing)
}

func (e *DuplicateMappingError) Is(target error) bool { return target == ErrDuplicateMapping }

// Registry is a thread-safe set of mappings. IDs and types are unique within
// a registry. Mappings can be added but never removed.
type Registry struct {
	mu     sync.Mutex
	byID   map[int32]Mapping
	byType map[Type]Mapping
}

// NewRegistry returns a registry holding ms. It fails like AddAll.
func NewRegistry(ms ...Mapping) (*Registry, error) {
	r := &Registry{byID: make(map[int32]Mapping), byType: make(map[Type]Mapping)}
	if err := r.AddAll(ms...); err != nil {
		return nil, err
	}
	return r, nil
}

// MustRegistry is NewRegistry for static mapping tables; it panics on error.
func MustRegistry(ms ...Mapping) *Registry {
	r, err := NewRegistry(ms...)
	if err != nil {
		panic(err)
	}
	return r
}

// conflictLocked returns the registered mapping m collides with.
func (r *Registry) conflictLocked(m Mapping) (Mapping, bool) {
	if e, ok := r.byID[m.ID]; ok {
		return e, true
	}
	if e, ok := r.byType[m.Type]; ok {
		return e, true
	}
	return Mapping{}, false
}

func (r *Registry) insertLocked(m Mapping) {
	r.byID[m.ID] = m
	r.byType[m.Type] = m
}

// Add registers m. It returns a DuplicateMappingError if m's ID or type is
// already registered, leaving the registry unchanged.
func (r *Registry) Add(m Mapping) error {
	if err := m.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conflictLocked(m); ok {
		return &DuplicateMappingError{New: m, Existing: e}
	}
	r.insertLocked(m)
	return nil
}

// AddAll registers every mapping or none. The batch is validated against
// the registry and against itself before anything is committed.
func (r *Registry) AddAll(ms ...Mapping) error {
	ids := make(map[int32]Mapping, len(ms))
	types := make(map[Type]Mapping, len(ms))
	for _, m := range ms {
		if err := m.validate(); err != nil {
			return err
		}
		if e, ok := ids[m.ID]; ok {
			return &DuplicateMappingError{New: m, Existing: e}
		}
		if e, ok := types[m.Type]; ok {
			return &DuplicateMappingError{New: m, Existing: e}
		}
		ids[m.ID] = m
		types[m.Type] = m
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range ms {
		if e, ok := r.conflictLocked(m); ok {
			return &DuplicateMappingError{New: m, Existing: e}
		}
	}
	for _, m := range ms {
		r.insertLocked(m)
	}
	return nil
}

// FindByID returns the mapping registered for id.
func (r *Registry) FindByID(id int32) (Mapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	return m, ok
}

// FindByType returns the mapping registered for t.
func (r *Registry) FindByType(t Type) (Mapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byType[t]
	return m, ok
}

// HasExact reports whether m's ID is registered to m's type.
func (r *Registry) HasExact(m Mapping) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[m.ID]
	return ok && e.Type == m.Type
}

// HasAny reports whether m's ID or m's type is registered. It is the check
// Add performs before inserting.
func (r *Registry) HasAny(m Mapping) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conflictLocked(m)
	return ok
}

// Len returns the number of mappings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Range calls fn for each mapping in wire ID order while holding the
// registry lock. fn must not call back into the registry.
func (r *Registry) Range(fn func(Mapping) bool) {
	r.View(func(v *View) {
		for _, m := range v.Mappings() {
			if !fn(m) {
				return
			}
		}
	})
}

// View runs fn with exclusive access to the registry. The View is valid only
// until fn returns; any use after that panics with ErrViewExpired.
func (r *Registry) View(fn func(v *View)) {
	r.mu.Lock()
	v := &View{r: r}
	defer func() {
		v.r = nil
		r.mu.Unlock()
	}()
	fn(v)
}

// View is a locked window onto a Registry.
type View struct {
	r *Registry
}

func (v *View) held() *Registry {
	if v.r == nil {
		panic(ErrViewExpired)
	}
	return v.r
}

// Mappings returns the registered mappings ordered by wire ID.
func (v *View) Mappings() []Mapping {
	r := v.held()
	out := make([]Mapping, 0, len(r.byID))
	for _, m := range r.byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindByID is Registry.FindByID for a caller already holding the lock.
func (v *View) FindByID(id int32) (Mapping, bool) {
	m, ok := v.held().byID[id]
	return m, ok
}

// Add is Registry.Add for a caller already holding the lock.
func (v *View) Add(m Mapping) error {
	if err := m.validate(); err != nil {
		return err
	}
	r := v.held()
	if e, ok := r.conflictLocked(m); ok {
		return &DuplicateMappingError{New: m, Existing: e}
	}
	r.insertLocked(m)
	return nil
}
