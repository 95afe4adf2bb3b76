package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	msg := HelloTranscript(1, "Ed25519", pub, []byte{1, 2}, 1700000000000, "node-a")
	sig, err := Sign("ed25519", priv, msg)
	require.NoError(t, err)
	require.NoError(t, Verify("ED25519", pub, msg, sig))

	other := HelloTranscript(1, "ed25519", pub, []byte{1, 2}, 1700000000000, "node-b")
	assert.ErrorIs(t, Verify(AlgEd25519, pub, other, sig), ErrBadSignature)
	assert.ErrorIs(t, Verify(AlgEd25519, pub, msg, sig[:10]), ErrBadSignature)
	assert.Error(t, Verify(AlgEd25519, pub[:5], msg, sig))

	_, err = Sign(AlgEd25519, nil, msg)
	assert.Error(t, err)
}

func TestNone(t *testing.T) {
	sig, err := Sign(AlgNone, nil, []byte("x"))
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.NoError(t, Verify(AlgNone, nil, []byte("x"), nil))
	assert.ErrorIs(t, Verify(AlgNone, nil, []byte("x"), []byte{1}), ErrBadSignature)
}

func TestUnsupported(t *testing.T) {
	_, err := Sign("rsa", nil, nil)
	assert.ErrorIs(t, err, ErrUnsupportedAlg)
	assert.ErrorIs(t, Verify("rsa", nil, nil, nil), ErrUnsupportedAlg)
}

func TestTranscriptLayout(t *testing.T) {
	got := HelloTranscript(1, " ED25519 ", []byte{0xfb}, []byte{0xff}, 42, "n")
	assert.Equal(t, "sbnet:hello|v=1|alg=ed25519|ts=42|pub=-w|nonce=_w|label=n", string(got))
}
