package config

// IdentityConfig describes the key used to sign the connection hello.
type IdentityConfig struct {
	// Alg is ed25519 or none.
	Alg string `mapstructure:"alg"`
	// PrivateKey is base64url (no padding) of the raw private key or its seed.
	PrivateKey string `mapstructure:"private_key"`
	// PrivateKeyFile holds the same encoding, or raw key bytes.
	PrivateKeyFile string `mapstructure:"private_key_file"`
}
