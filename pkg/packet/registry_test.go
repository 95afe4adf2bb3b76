package packet

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sbnet/pkg/bytecodec"
)

type ping struct{ N uint32 }

func (p *ping) Encode(w *bytecodec.Writer) { w.WriteUint32(p.N) }
func (p *ping) Decode(r *bytecodec.Reader) error {
	p.N = r.ReadUint32()
	return r.Err()
}
func (p *ping) ByteSize() int { return 4 }

type note struct{ Text string }

func (n *note) Encode(w *bytecodec.Writer) { w.WriteString(n.Text) }
func (n *note) Decode(r *bytecodec.Reader) error {
	n.Text = r.ReadString()
	return r.Err()
}

type other struct{}

func (*other) Encode(*bytecodec.Writer)       {}
func (*other) Decode(*bytecodec.Reader) error { return nil }

func pingMapping(id int32) Mapping { return Map(id, func() *ping { return &ping{} }) }
func noteMapping(id int32) Mapping { return Map(id, func() *note { return &note{} }) }

func TestAddAndFind(t *testing.T) {
	r := MustRegistry()
	require.NoError(t, r.Add(pingMapping(5)))

	m, ok := r.FindByID(5)
	require.True(t, ok)
	assert.Equal(t, TypeFor[*ping](), m.Type)

	m, ok = r.FindByType(TypeOf(&ping{}))
	require.True(t, ok)
	assert.Equal(t, int32(5), m.ID)

	_, ok = r.FindByID(6)
	assert.False(t, ok)
	_, ok = r.FindByType(TypeFor[*note]())
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestDuplicateIDOrTypeRejected(t *testing.T) {
	r := MustRegistry(pingMapping(1))

	err := r.Add(noteMapping(1))
	require.ErrorIs(t, err, ErrDuplicateMapping)
	var dup *DuplicateMappingError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, TypeFor[*ping](), dup.Existing.Type)

	require.ErrorIs(t, r.Add(pingMapping(2)), ErrDuplicateMapping)
	assert.Equal(t, 1, r.Len())
	_, ok := r.FindByID(2)
	assert.False(t, ok)
}

func TestHasExactAndHasAny(t *testing.T) {
	r := MustRegistry(pingMapping(1))

	assert.True(t, r.HasExact(pingMapping(1)))
	assert.False(t, r.HasExact(pingMapping(2)))
	assert.False(t, r.HasExact(noteMapping(1)))

	assert.True(t, r.HasAny(pingMapping(2)))
	assert.True(t, r.HasAny(noteMapping(1)))
	assert.False(t, r.HasAny(noteMapping(2)))
}

func TestAddAllIsAtomic(t *testing.T) {
	r := MustRegistry(pingMapping(1))

	err := r.AddAll(noteMapping(2), Map(1, func() *other { return &other{} }))
	require.ErrorIs(t, err, ErrDuplicateMapping)
	assert.Equal(t, 1, r.Len())
	_, ok := r.FindByID(2)
	assert.False(t, ok, "no mapping of a failed batch may be committed")

	// conflicts inside the batch itself
	err = r.AddAll(noteMapping(2), noteMapping(3))
	require.ErrorIs(t, err, ErrDuplicateMapping)
	assert.Equal(t, 1, r.Len())

	require.NoError(t, r.AddAll(noteMapping(2), Map(3, func() *other { return &other{} })))
	assert.Equal(t, 3, r.Len())
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := MustRegistry(pingMapping(5))
	b := MustRegistry(noteMapping(5))

	ma, _ := a.FindByID(5)
	mb, _ := b.FindByID(5)
	assert.NotEqual(t, ma.Type, mb.Type)
}

func TestInvalidMapping(t *testing.T) {
	r := MustRegistry()
	assert.Error(t, r.Add(pingMapping(-3)))
	assert.Error(t, r.Add(Mapping{ID: 1}))
	assert.Error(t, r.Add(Mapping{ID: 1, Type: TypeFor[*ping]()}))
	assert.Zero(t, r.Len())
}

func TestRangeOrdered(t *testing.T) {
	r := MustRegistry(noteMapping(9), pingMapping(2), Map(4, func() *other { return &other{} }))

	var ids []int32
	r.Range(func(m Mapping) bool {
		ids = append(ids, m.ID)
		return true
	})
	assert.Equal(t, []int32{2, 4, 9}, ids)

	ids = ids[:0]
	r.Range(func(m Mapping) bool {
		ids = append(ids, m.ID)
		return false
	})
	assert.Equal(t, []int32{2}, ids)
}

func TestViewExpiresAfterCallback(t *testing.T) {
	r := MustRegistry(pingMapping(1))

	var leaked *View
	r.View(func(v *View) {
		leaked = v
		require.NoError(t, v.Add(noteMapping(2)))
		_, ok := v.FindByID(2)
		assert.True(t, ok)
		assert.Len(t, v.Mappings(), 2)
	})

	assert.PanicsWithValue(t, ErrViewExpired, func() { leaked.Mappings() })
	assert.PanicsWithValue(t, ErrViewExpired, func() { leaked.FindByID(1) })
	// the lock was released
	assert.Equal(t, 2, r.Len())
}

func TestConcurrentAdd(t *testing.T) {
	r := MustRegistry()
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.Add(pingMapping(7))
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, r.Len())
}

func TestEncodeDecode(t *testing.T) {
	body := Encode(&ping{N: 0xAABBCCDD})
	assert.Equal(t, []byte{0xDD, 0xCC, 0xBB, 0xAA}, body)

	p, err := Decode(pingMapping(1), body)
	require.NoError(t, err)
	assert.Equal(t, &ping{N: 0xAABBCCDD}, p)

	_, err = Decode(pingMapping(1), body[:2])
	assert.ErrorIs(t, err, bytecodec.ErrShortBuffer)

	_, err = Decode(pingMapping(1), append(body, 0))
	assert.Error(t, err)

	body = Encode(&note{Text: "hi"})
	p, err = Decode(noteMapping(2), body)
	require.NoError(t, err)
	assert.Equal(t, "hi", p.(*note).Text)
}
