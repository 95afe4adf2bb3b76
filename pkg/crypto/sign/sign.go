// Package sign signs and verifies handshake transcripts.
package sign

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
)

const (
	AlgEd25519 = "ed25519"
	// AlgNone marks an unsigned hello.
	AlgNone = "none"
)

var (
	ErrUnsupportedAlg = errors.New("sign: unsupported algorithm")
	ErrBadSignature   = errors.New("sign: signature invalid")
)

// Sign signs msg with priv under alg. AlgNone yields no signature.
func Sign(alg string, priv ed25519.PrivateKey, msg []byte) ([]byte, error) {
	switch normalize(alg) {
	case AlgNone:
		return nil, nil
	case AlgEd25519:
		if len(priv) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("sign: private key is %d bytes", len(priv))
		}
		return ed25519.Sign(priv, msg), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlg, alg)
	}
}

// Verify checks sig over msg. AlgNone verifies only an empty signature.
func Verify(alg string, pub, msg, sig []byte) error {
	switch normalize(alg) {
	case AlgNone:
		if len(sig) != 0 {
			return ErrBadSignature
		}
		return nil
	case AlgEd25519:
		if len(pub) != ed25519.PublicKeySize {
			return fmt.Errorf("sign: public key is %d bytes", len(pub))
		}
		if len(sig) != ed25519.SignatureSize || !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
			return ErrBadSignature
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedAlg, alg)
	}
}

func normalize(alg string) string { return strings.ToLower(strings.TrimSpace(alg)) }
