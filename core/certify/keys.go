package certify

import "context"

// Keypair carries one asymmetric key in the serialized forms collaborators
// exchange. The private key is the source of truth; the public PEM and the
// private JWK are derived representations kept alongside it so stores never
// need to understand key material.
type Keypair struct {
	PrivateKeyPEM string
	PublicKeyPEM  string
	PrivateKeyJWK string
}

// KeyProvider generates and deserializes asymmetric keypairs.
// Implementations own algorithm selection details (public exponent, source
// of randomness); this package only dictates the minimum key size.
type KeyProvider interface {
	// Generate creates a fresh keypair of at least the requested bit size.
	Generate(ctx context.Context, bits int) (*Keypair, error)

	// Import rebuilds a full Keypair (public PEM, private JWK) from a
	// serialized private key.
	Import(ctx context.Context, privateKeyPEM string) (*Keypair, error)
}
