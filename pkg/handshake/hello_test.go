package handshake

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sbnet/pkg/crypto/sign"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func key(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, pk, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pk
}

type serverResult struct {
	hello Hello
	err   error
}

func exchange(t *testing.T, client, server Options) (HelloAck, serverResult, error) {
	t.Helper()
	cc, sc := net.Pipe()
	defer cc.Close()
	defer sc.Close()

	done := make(chan serverResult, 1)
	go func() {
		h, err := Server(context.Background(), sc, server)
		done <- serverResult{h, err}
	}()
	ack, err := Client(context.Background(), cc, client)
	return ack, <-done, err
}

func TestSignedExchange(t *testing.T) {
	pk := key(t)
	ack, srv, err := exchange(t,
		Options{Label: "edge", Key: pk, ExpectLabel: "core"},
		Options{Label: "core", RequireSigned: true},
	)
	require.NoError(t, err)
	require.NoError(t, srv.err)

	assert.True(t, ack.Accepted)
	assert.Equal(t, "core", ack.Label)
	assert.Equal(t, "edge", srv.hello.Label)
	assert.True(t, srv.hello.Signed())
	assert.Equal(t, []byte(pk.Public().(ed25519.PublicKey)), srv.hello.PubKey)
}

func TestUnsignedAccepted(t *testing.T) {
	ack, srv, err := exchange(t, Options{Label: "edge"}, Options{Label: "core"})
	require.NoError(t, err)
	require.NoError(t, srv.err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, sign.AlgNone, srv.hello.Alg)
	assert.False(t, srv.hello.Signed())
}

func TestUnsignedRefused(t *testing.T) {
	ack, srv, err := exchange(t, Options{Label: "edge"}, Options{Label: "core", RequireSigned: true})
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, srv.err, ErrUnsigned)
	assert.False(t, ack.Accepted)
	assert.Contains(t, ack.Reason, "not signed")
}

func TestStaleHelloRefused(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	_, srv, err := exchange(t,
		Options{Label: "edge", Key: key(t), Clock: clk},
		Options{Label: "core", MaxSkew: time.Minute},
	)
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, srv.err, ErrStale)
}

func TestUnexpectedServerLabel(t *testing.T) {
	ack, srv, err := exchange(t, Options{Label: "edge", ExpectLabel: "core"}, Options{Label: "impostor"})
	require.NoError(t, srv.err)
	assert.ErrorIs(t, err, ErrLabel)
	assert.Equal(t, "impostor", ack.Label)
}

func TestVerify(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	h, err := Build("edge", key(t), now)
	require.NoError(t, err)
	require.NoError(t, Verify(h, true, 0, now.Add(4*time.Minute)))

	assert.ErrorIs(t, Verify(h, true, 0, now.Add(6*time.Minute)), ErrStale)
	assert.ErrorIs(t, Verify(h, true, 0, now.Add(-6*time.Minute)), ErrStale)

	forged := h
	forged.Label = "core"
	assert.ErrorIs(t, Verify(forged, true, 0, now), sign.ErrBadSignature)

	old := h
	old.Version = 99
	assert.ErrorIs(t, Verify(old, false, 0, now), ErrVersion)

	stripped := h
	stripped.Alg, stripped.Sig, stripped.PubKey = sign.AlgNone, nil, nil
	assert.ErrorIs(t, Verify(stripped, true, 0, now), ErrUnsigned)
	assert.NoError(t, Verify(stripped, false, 0, now))
}

func TestNoncesDiffer(t *testing.T) {
	now := time.Now()
	a, err := Build("x", nil, now)
	require.NoError(t, err)
	b, err := Build("x", nil, now)
	require.NoError(t, err)
	assert.NotEqual(t, a.Nonce, b.Nonce)
}

func TestCancelledContextUnblocks(t *testing.T) {
	cc, sc := net.Pipe()
	defer sc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		// nobody reads the other end
		_, err := Client(ctx, cc, Options{Label: "edge"})
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not return")
	}
}
