// Package identity loads the key a node signs its hello with.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"sbnet/pkg/config"
	"sbnet/pkg/crypto/sign"
)

// Load returns the configured private key, generating one when none is
// configured. It returns nil for alg "none".
func Load(c config.IdentityConfig) (ed25519.PrivateKey, error) {
	switch alg := strings.ToLower(strings.TrimSpace(c.Alg)); alg {
	case sign.AlgNone:
		return nil, nil
	case "", sign.AlgEd25519:
	default:
		return nil, fmt.Errorf("identity: %w: %s", sign.ErrUnsupportedAlg, c.Alg)
	}

	if s := strings.TrimSpace(c.PrivateKey); s != "" {
		return Decode(s)
	}
	if path := strings.TrimSpace(c.PrivateKeyFile); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("identity: read key file: %w", err)
		}
		if pk, err := Decode(string(b)); err == nil {
			return pk, nil
		}
		if len(b) == ed25519.PrivateKeySize {
			return ed25519.PrivateKey(b), nil
		}
		return nil, fmt.Errorf("identity: %s holds no ed25519 key", path)
	}

	_, pk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	zap.L().Info("generated ephemeral ed25519 identity (persist it as identity.private_key)",
		zap.String("pub", Fingerprint(pk.Public().(ed25519.PublicKey))))
	return pk, nil
}

// Decode parses base64url of a full private key or of its 32-byte seed.
func Decode(s string) (ed25519.PrivateKey, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("identity: decode key: %w", err)
	}
	switch len(b) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	default:
		return nil, fmt.Errorf("identity: key is %d bytes", len(b))
	}
}

// Encode is the inverse of Decode.
func Encode(pk ed25519.PrivateKey) string {
	return base64.RawURLEncoding.EncodeToString(pk)
}

// Fingerprint is the base64url public key, used in logs.
func Fingerprint(pub ed25519.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(pub)
}
