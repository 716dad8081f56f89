package certify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// CertificateManager issues, renews and looks up certificates. It owns the
// renewal policy and orchestrates the account manager, directory cache,
// challenge dispatcher, key provider and ACME client during issuance.
type CertificateManager struct {
	cfg        Config
	caURL      string
	accounts   *AccountManager
	store      CertificateStore
	keys       KeyProvider
	acme       ACMEClient
	directory  *DirectoryCache
	dispatcher *Dispatcher
	now        func() time.Time
	logger     *slog.Logger

	// At most one issuance is in flight per domain set; concurrent
	// GetOrIssue calls for the same set share its outcome.
	inflight singleflight.Group
}

// Issue obtains a fresh certificate for the requested domain set.
// Domain validation failures surface as InvalidDomainError before any
// challenge is set. Challenge material provisioned during authorization is
// removed on every path, including failed issuance.
func (m *CertificateManager) Issue(ctx context.Context, req Request) (*CertificateRecord, error) {
	req = m.cfg.merge(req)

	if err := validateDomains(req.Domains); err != nil {
		return nil, err
	}

	// Resolving the handler up front keeps a misconfigured challenge type
	// from failing halfway through authorization.
	if _, err := m.dispatcher.Handler(req.ChallengeType); err != nil {
		return nil, err
	}

	account, err := m.accounts.GetOrRegister(ctx, req)
	if err != nil {
		return nil, err
	}

	domainKeypair, err := m.ensureDomainKeypair(ctx, req)
	if err != nil {
		return nil, err
	}

	dir, err := m.directory.Directory(ctx, m.caURL)
	if err != nil {
		return nil, err
	}

	tracker := newProvisionTracker()
	certReq := CertificateRequest{
		NewAuthzURL:    dir.NewAuthzURL,
		NewCertURL:     dir.NewCertURL,
		AccountKeypair: account.Keypair,
		DomainKeypair:  domainKeypair,
		Domains:        append([]string(nil), req.Domains...),
		ChallengeType:  req.ChallengeType,
		SetChallenge: func(ctx context.Context, domain, token, keyAuth string) error {
			opts := m.handlerOptions(req, domain)
			if err := m.dispatcher.Set(ctx, req.ChallengeType, opts, domain, token, keyAuth); err != nil {
				return err
			}
			tracker.add(domain, token)
			return nil
		},
		RemoveChallenge: func(ctx context.Context, domain, token string) error {
			tracker.done(domain)
			return m.dispatcher.Remove(ctx, req.ChallengeType, m.handlerOptions(req, domain), domain, token)
		},
	}

	issued, obtainErr := m.acme.ObtainCertificate(ctx, certReq)

	// Challenge material must not leak: remove whatever was set but not
	// yet cleaned up, even when authorization or issuance failed.
	m.cleanup(ctx, req, tracker)

	if obtainErr != nil {
		return nil, fmt.Errorf("obtain certificate for %s: %w", DomainSetKey(req.Domains), obtainErr)
	}

	issuedAt, expiresAt := issued.IssuedAt, issued.ExpiresAt
	if issuedAt.IsZero() || expiresAt.IsZero() {
		issuedAt, expiresAt, err = certValidity(issued.CertificatePEM)
		if err != nil {
			return nil, fmt.Errorf("parse issued certificate for %s: %w", DomainSetKey(req.Domains), err)
		}
	}

	record, err := m.store.Set(ctx, &CertificateRecord{
		ID:             uuid.NewString(),
		Domains:        append([]string(nil), req.Domains...),
		CertificatePEM: issued.CertificatePEM,
		ChainPEM:       issued.ChainPEM,
		PrivateKeyPEM:  issued.PrivateKeyPEM,
		IssuedAt:       issuedAt,
		ExpiresAt:      expiresAt,
		AccountID:      account.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("store certificate for %s: %w", DomainSetKey(req.Domains), err)
	}

	m.logger.InfoContext(ctx, "issued certificate",
		"domains", record.Domains,
		"expires_at", record.ExpiresAt,
		"account_id", record.AccountID,
	)
	return record, nil
}

// Renew re-issues the certificate for a domain set. Renewal is issuance
// with domain-set continuity; the separate entry point exists for caller
// clarity and future renewal-specific endpoints.
func (m *CertificateManager) Renew(ctx context.Context, req Request) (*CertificateRecord, error) {
	m.logger.DebugContext(ctx, "renewing certificate", "domains", req.Domains)
	return m.Issue(ctx, req)
}

// Check looks up the stored certificate for a domain set. A miss returns
// (nil, nil). Records that predate validity tracking get their instants
// restored from the certificate itself.
func (m *CertificateManager) Check(ctx context.Context, req Request) (*CertificateRecord, error) {
	req = m.cfg.merge(req)

	record, err := m.store.Check(ctx, req.Domains)
	if err != nil {
		return nil, fmt.Errorf("check certificate for %s: %w", DomainSetKey(req.Domains), err)
	}
	if record == nil {
		return nil, nil
	}

	if record.IssuedAt.IsZero() || record.ExpiresAt.IsZero() {
		issuedAt, expiresAt, err := certValidity(record.CertificatePEM)
		if err != nil {
			return nil, fmt.Errorf("parse stored certificate for %s: %w", DomainSetKey(req.Domains), err)
		}
		record.IssuedAt, record.ExpiresAt = issuedAt, expiresAt
	}
	return record, nil
}

// GetOrIssue returns the stored certificate, issues a fresh one when none
// exists, renews when the record is inside the renewal window or the
// request forces a duplicate, and fails with RenewalNotDueError otherwise.
func (m *CertificateManager) GetOrIssue(ctx context.Context, req Request) (*CertificateRecord, error) {
	req = m.cfg.merge(req)

	if err := validateDomains(req.Domains); err != nil {
		return nil, err
	}

	v, err, _ := m.inflight.Do(DomainSetKey(req.Domains), func() (any, error) {
		return m.getOrIssue(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CertificateRecord), nil
}

func (m *CertificateManager) getOrIssue(ctx context.Context, req Request) (*CertificateRecord, error) {
	record, err := m.Check(ctx, req)
	if err != nil {
		return nil, err
	}
	if record == nil {
		m.logger.DebugContext(ctx, "no certificate found", "domains", req.Domains)
		return m.Issue(ctx, req)
	}

	renewableAt := record.ExpiresAt.Add(-m.cfg.RenewWithin)
	if req.Duplicate || !m.now().Before(renewableAt) {
		// A renewal covers ALL domains of the stored certificate unless
		// the request names a larger set than bare + www: renewing with
		// just "example.com" must not silently drop a "www." alias.
		if len(record.Domains) > 0 && len(req.Domains) <= 2 {
			req.Domains = append([]string(nil), record.Domains...)
		}
		return m.Renew(ctx, req)
	}

	return nil, &RenewalNotDueError{
		IssuedAt:    record.IssuedAt,
		ExpiresAt:   record.ExpiresAt,
		RenewableAt: renewableAt,
	}
}

// ensureDomainKeypair mirrors the account keypair reuse/import/generate
// sequence, scoped to the domain set instead of the account.
func (m *CertificateManager) ensureDomainKeypair(ctx context.Context, req Request) (*Keypair, error) {
	keypair, err := m.store.CheckKeypair(ctx, req.Domains)
	if err != nil {
		return nil, fmt.Errorf("check domain keypair: %w", err)
	}
	if keypair != nil {
		return keypair, nil
	}

	if req.DomainKeypair != nil {
		keypair, err = m.store.SetKeypair(ctx, req.Domains, req.DomainKeypair)
		if err != nil {
			return nil, fmt.Errorf("store supplied domain keypair: %w", err)
		}
		return keypair, nil
	}

	keypair, err = m.keys.Generate(ctx, req.RSAKeySize)
	if err != nil {
		return nil, fmt.Errorf("generate domain keypair: %w", err)
	}

	keypair, err = m.store.SetKeypair(ctx, req.Domains, keypair)
	if err != nil {
		return nil, fmt.Errorf("store domain keypair: %w", err)
	}
	return keypair, nil
}

func (m *CertificateManager) handlerOptions(req Request, domain string) HandlerOptions {
	return HandlerOptions{
		Domains:       []string{domain},
		ChallengeType: req.ChallengeType,
		Debug:         req.Debug,
	}
}

// cleanup removes challenge material for every domain whose Set ran but
// whose Remove did not. Failures are logged, not returned: cleanup must
// not mask the issuance outcome.
func (m *CertificateManager) cleanup(ctx context.Context, req Request, tracker *provisionTracker) {
	for domain, token := range tracker.pending() {
		opts := m.handlerOptions(req, domain)
		if err := m.dispatcher.Remove(ctx, req.ChallengeType, opts, domain, token); err != nil {
			m.logger.WarnContext(ctx, "challenge cleanup failed", "domain", domain, "error", err)
		}
	}
}

// provisionTracker records which domains currently hold provisioned
// challenge material during one issuance.
type provisionTracker struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newProvisionTracker() *provisionTracker {
	return &provisionTracker{tokens: make(map[string]string)}
}

func (t *provisionTracker) add(domain, token string) {
	t.mu.Lock()
	t.tokens[domain] = token
	t.mu.Unlock()
}

func (t *provisionTracker) done(domain string) {
	t.mu.Lock()
	delete(t.tokens, domain)
	t.mu.Unlock()
}

func (t *provisionTracker) pending() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]string, len(t.tokens))
	for domain, token := range t.tokens {
		out[domain] = token
	}
	return out
}
