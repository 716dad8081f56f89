package certify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Manager is the orchestrator facade. It composes the account and
// certificate managers, the shared directory cache and the challenge
// dispatcher on top of the injected collaborators and exposes the
// lifecycle entry points.
type Manager struct {
	cfg   Config
	caURL string

	acme   ACMEClient
	store  Store
	keys   KeyProvider
	agree  AgreeToTermsFunc
	now    func() time.Time
	logger *slog.Logger

	directory    *DirectoryCache
	dispatcher   *Dispatcher
	accounts     *AccountManager
	certificates *CertificateManager
}

// New creates a Manager from instance defaults plus collaborator options.
// The ACME client, store and key provider are required; at least one
// challenge handler must be registered (the config's default challenge
// type needs a handler before the first issuance).
func New(cfg Config, opts ...Option) (*Manager, error) {
	cfg = cfg.withDefaults()

	caURL, err := resolveServerURL(cfg.Server)
	if err != nil {
		return nil, err
	}
	if cfg.RSAKeySize < MinRSAKeySize {
		return nil, fmt.Errorf("%w: rsa key size must be %d or greater", ErrInvalidArguments, MinRSAKeySize)
	}

	m := &Manager{
		cfg:   cfg,
		caURL: caURL,
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			if err := opt(m); err != nil {
				return nil, err
			}
		}
	}

	if m.acme == nil {
		return nil, ErrACMEClientRequired
	}
	if m.store == nil {
		return nil, ErrStoreRequired
	}
	if m.keys == nil {
		return nil, ErrKeyProviderRequired
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.directory == nil {
		m.directory = NewDirectoryCache(m.acme, WithDirectoryClock(m.now))
	}
	if m.dispatcher == nil {
		m.dispatcher = NewDispatcher(m.logger)
	}

	m.accounts = &AccountManager{
		cfg:       cfg,
		caURL:     caURL,
		store:     m.store.Accounts(),
		keys:      m.keys,
		acme:      m.acme,
		directory: m.directory,
		agree:     m.agree,
		now:       m.now,
		logger:    m.logger,
	}
	m.certificates = &CertificateManager{
		cfg:        cfg,
		caURL:      caURL,
		accounts:   m.accounts,
		store:      m.store.Certificates(),
		keys:       m.keys,
		acme:       m.acme,
		directory:  m.directory,
		dispatcher: m.dispatcher,
		now:        m.now,
		logger:     m.logger,
	}

	return m, nil
}

// GetOrIssue returns the stored certificate for the requested domain set,
// issuing or renewing per the renewal policy.
func (m *Manager) GetOrIssue(ctx context.Context, req Request) (*CertificateRecord, error) {
	return m.certificates.GetOrIssue(ctx, req)
}

// Check looks up the stored certificate for a domain set without issuing.
// A miss returns (nil, nil).
func (m *Manager) Check(ctx context.Context, req Request) (*CertificateRecord, error) {
	return m.certificates.Check(ctx, req)
}

// Issue obtains a fresh certificate regardless of what is stored.
func (m *Manager) Issue(ctx context.Context, req Request) (*CertificateRecord, error) {
	return m.certificates.Issue(ctx, req)
}

// Register creates a new CA account.
func (m *Manager) Register(ctx context.Context, req Request) (*Account, error) {
	return m.accounts.Register(ctx, req)
}

// GetOrRegister returns the matching account, registering one when absent.
func (m *Manager) GetOrRegister(ctx context.Context, req Request) (*Account, error) {
	return m.accounts.GetOrRegister(ctx, req)
}

// CheckAccount looks up an existing account. A miss returns (nil, nil).
func (m *Manager) CheckAccount(ctx context.Context, req Request) (*Account, error) {
	return m.accounts.Check(ctx, req)
}

// Accounts exposes the account manager for callers that only deal with
// registration.
func (m *Manager) Accounts() *AccountManager {
	return m.accounts
}

// Certificates exposes the certificate manager.
func (m *Manager) Certificates() *CertificateManager {
	return m.certificates
}

// MemorizeFor is the advisory duration callers may cache Check results.
func (m *Manager) MemorizeFor() time.Duration {
	return m.cfg.MemorizeFor
}

// ServerURL is the resolved CA directory URL this instance talks to.
func (m *Manager) ServerURL() string {
	return m.caURL
}
