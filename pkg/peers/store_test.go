package peers

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sbnet/pkg/memkv"
	"sbnet/pkg/netid"
)

func newStore(t *testing.T) (*Store, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	kv := memkv.New(memkv.Options{Clock: clk, SweepInterval: -1})
	t.Cleanup(kv.Close)
	return NewStore(kv, WithClock(clk), WithTTL(time.Hour)), clk
}

func TestLifecycleCounters(t *testing.T) {
	s, clk := newStore(t)
	remote := netid.MustConnect("core", "10.0.0.2:7777")

	s.Opened(remote, "tcp", "10.0.0.2:7777")
	s.Received(remote)
	s.Received(remote)
	s.Sent(remote, true)
	s.Sent(remote, false)
	s.Rejected(remote)
	s.CheckRTT(remote, 1500*time.Microsecond)

	st, ok := s.Get(remote)
	require.True(t, ok)
	assert.Equal(t, "core", st.Label)
	assert.Equal(t, remote.String(), st.Remote)
	assert.Equal(t, "tcp", st.Transport)
	assert.EqualValues(t, 1, st.Opens)
	assert.EqualValues(t, 2, st.PacketsIn)
	assert.EqualValues(t, 1, st.PacketsOut)
	assert.EqualValues(t, 1, st.SendFailed)
	assert.EqualValues(t, 1, st.Rejected)
	assert.EqualValues(t, 1500, st.LastRTT)
	assert.True(t, st.Open())

	clk.Add(time.Second)
	s.Closed(remote, "TIMEOUT", errors.New("no reply"))
	st, _ = s.Get(remote)
	assert.EqualValues(t, 1, st.Closes)
	assert.Equal(t, "TIMEOUT", st.CloseReason)
	assert.Equal(t, "no reply", st.CloseError)
	assert.False(t, st.Open())
}

func TestRecordsExpire(t *testing.T) {
	s, clk := newStore(t)
	a := netid.NewInternal("a")
	s.Opened(a, "mem", "mem:a")
	clk.Add(59 * time.Minute)
	s.Received(a)
	clk.Add(59 * time.Minute)
	_, ok := s.Get(a)
	assert.True(t, ok, "updates refresh the ttl")

	clk.Add(2 * time.Minute)
	_, ok = s.Get(a)
	assert.False(t, ok)
}

func TestAllOrdersByKey(t *testing.T) {
	s, _ := newStore(t)
	s.Opened(netid.NewInternal("b"), "mem", "")
	s.Opened(netid.NewInternal("a"), "mem", "")

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Label)
	assert.Equal(t, "b", all[1].Label)
}
