// Package rsakeys implements the certify.KeyProvider collaborator with RSA
// keys serialized as PKCS#1 PEM plus a private JWK representation.
package rsakeys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/go-acme/lego/v4/certcrypto"
	jose "github.com/go-jose/go-jose/v4"

	"github.com/dmitrymomot/certlift/core/certify"
)

// Provider generates RSA keypairs with the standard public exponent.
type Provider struct {
	rand func(bits int) (*rsa.PrivateKey, error)
}

// New creates a Provider backed by crypto/rand.
func New() *Provider {
	return &Provider{
		rand: func(bits int) (*rsa.PrivateKey, error) {
			return rsa.GenerateKey(rand.Reader, bits)
		},
	}
}

// Generate creates a fresh RSA keypair of the requested bit size.
func (p *Provider) Generate(ctx context.Context, bits int) (*certify.Keypair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if bits < certify.MinRSAKeySize {
		return nil, fmt.Errorf("rsa key size %d is below the minimum of %d", bits, certify.MinRSAKeySize)
	}

	key, err := p.rand(bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return export(key)
}

// Import rebuilds a full keypair from a PEM-serialized private key.
func (p *Provider) Import(ctx context.Context, privateKeyPEM string) (*certify.Keypair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parsed, err := certcrypto.ParsePEMPrivateKey([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse private key pem: %w", err)
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T, want rsa", parsed)
	}
	return export(key)
}

func export(key *rsa.PrivateKey) (*certify.Keypair, error) {
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubDER,
	})

	jwk, err := (&jose.JSONWebKey{Key: key}).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal private jwk: %w", err)
	}

	return &certify.Keypair{
		PrivateKeyPEM: string(privPEM),
		PublicKeyPEM:  string(pubPEM),
		PrivateKeyJWK: string(jwk),
	}, nil
}
