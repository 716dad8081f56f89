package certify

import (
	"context"
	"encoding/json"
	"time"
)

// Account is an identity registered with a CA. The keypair never changes
// after creation; accounts are read-only once stored.
type Account struct {
	ID        string
	Email     string
	Keypair   *Keypair
	Receipt   json.RawMessage
	CreatedAt time.Time
}

// CertificateRecord is a previously issued certificate bundle plus the
// metadata renewal policy operates on. Domains is the exact ordered set
// submitted to the CA for that issuance.
type CertificateRecord struct {
	ID             string
	Domains        []string
	CertificatePEM string
	ChainPEM       string
	PrivateKeyPEM  string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	AccountID      string
}

// AccountQuery identifies an account for lookup. At least one field must be
// set; Domains is accepted so stores that index accounts by the domains
// they issued for can resolve them.
type AccountQuery struct {
	AccountID string
	Email     string
	Domains   []string
}

// AccountStore persists CA accounts and their keypairs.
// Lookup misses return (nil, nil), not an error.
type AccountStore interface {
	Check(ctx context.Context, q AccountQuery) (*Account, error)
	Set(ctx context.Context, q AccountQuery, account *Account) (*Account, error)
	CheckKeypair(ctx context.Context, q AccountQuery) (*Keypair, error)
	SetKeypair(ctx context.Context, q AccountQuery, keypair *Keypair) (*Keypair, error)
}

// CertificateStore persists issued certificates and domain keypairs, keyed
// by domain set. A renewal stores a new record superseding the previous one
// for the same domain set. Lookup misses return (nil, nil).
type CertificateStore interface {
	// Check returns the record stored for the exact domain set when one
	// exists, and otherwise the record whose domain set contains the
	// first requested domain. The fallback is what lets a renewal naming
	// fewer domains than the original issuance find its record.
	Check(ctx context.Context, domains []string) (*CertificateRecord, error)
	Set(ctx context.Context, record *CertificateRecord) (*CertificateRecord, error)
	CheckKeypair(ctx context.Context, domains []string) (*Keypair, error)
	SetKeypair(ctx context.Context, domains []string, keypair *Keypair) (*Keypair, error)
}

// Store bundles the account and certificate stores of one backend.
// Implementations are expected to make per-key reads and writes atomic at
// least at the granularity of one account or one certificate record.
type Store interface {
	Accounts() AccountStore
	Certificates() CertificateStore
}
