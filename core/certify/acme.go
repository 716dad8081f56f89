package certify

import (
	"context"
	"encoding/json"
	"time"
)

// Directory is the CA-published map of protocol operations to endpoint URLs.
type Directory struct {
	NewRegURL         string
	NewAuthzURL       string
	NewCertURL        string
	TermsOfServiceURL string
}

// AgreeFunc is invoked exactly once during account registration with the
// CA's current terms-of-service URL. Returning a nil error accepts the
// terms; ErrTermsNotAgreed (or any other error) aborts the registration.
type AgreeFunc func(ctx context.Context, tosURL string) error

// RegisterAccountRequest carries everything an ACME client needs to create
// a new CA account.
type RegisterAccountRequest struct {
	Email          string
	NewRegURL      string
	AccountKeypair *Keypair

	// AgreeToTerms must be called before the account is created and its
	// error propagated verbatim.
	AgreeToTerms AgreeFunc
}

// CertificateRequest carries everything an ACME client needs to authorize
// a domain set and obtain a certificate for it.
type CertificateRequest struct {
	NewAuthzURL    string
	NewCertURL     string
	AccountKeypair *Keypair
	DomainKeypair  *Keypair
	Domains        []string
	ChallengeType  string

	// SetChallenge and RemoveChallenge fire once per domain, even though
	// the certificate as a whole may cover many domains.
	SetChallenge    func(ctx context.Context, domain, token, keyAuth string) error
	RemoveChallenge func(ctx context.Context, domain, token string) error
}

// IssuedCertificate is the result of a successful authorization + issuance.
// IssuedAt/ExpiresAt may be zero when the client does not parse the leaf;
// callers fall back to reading them from the certificate PEM.
type IssuedCertificate struct {
	CertificatePEM string
	ChainPEM       string
	PrivateKeyPEM  string
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// ACMEClient is the wire-protocol collaborator. Implementations talk to the
// CA; this package only sequences the calls.
type ACMEClient interface {
	// GetDirectory fetches fresh directory metadata from the CA.
	// Callers are expected to go through DirectoryCache instead of
	// hitting this directly.
	GetDirectory(ctx context.Context, caURL string) (*Directory, error)

	// RegisterAccount creates a CA account for the supplied keypair and
	// returns the CA's opaque registration receipt. Registering an
	// already-known keypair must return the existing account's receipt
	// rather than failing.
	RegisterAccount(ctx context.Context, req RegisterAccountRequest) (json.RawMessage, error)

	// ObtainCertificate performs authorization for every domain in the
	// request and issues the certificate.
	ObtainCertificate(ctx context.Context, req CertificateRequest) (*IssuedCertificate, error)
}
