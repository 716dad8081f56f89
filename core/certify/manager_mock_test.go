package certify_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/dmitrymomot/certlift/core/certify"
)

// mockACMEClient is a test implementation of certify.ACMEClient.
type mockACMEClient struct {
	mu sync.Mutex

	getDirectoryFunc func(ctx context.Context, caURL string) (*certify.Directory, error)
	registerFunc     func(ctx context.Context, req certify.RegisterAccountRequest) (json.RawMessage, error)
	obtainFunc       func(ctx context.Context, req certify.CertificateRequest) (*certify.IssuedCertificate, error)

	directoryCalls int
	registerCalls  int
	obtainCalls    int
}

func (m *mockACMEClient) GetDirectory(ctx context.Context, caURL string) (*certify.Directory, error) {
	m.mu.Lock()
	m.directoryCalls++
	m.mu.Unlock()

	if m.getDirectoryFunc != nil {
		return m.getDirectoryFunc(ctx, caURL)
	}
	return &certify.Directory{
		NewRegURL:         "https://ca.test/new-reg",
		NewAuthzURL:       "https://ca.test/new-authz",
		NewCertURL:        "https://ca.test/new-cert",
		TermsOfServiceURL: "https://ca.test/tos",
	}, nil
}

func (m *mockACMEClient) RegisterAccount(ctx context.Context, req certify.RegisterAccountRequest) (json.RawMessage, error) {
	m.mu.Lock()
	m.registerCalls++
	m.mu.Unlock()

	if m.registerFunc != nil {
		return m.registerFunc(ctx, req)
	}
	if req.AgreeToTerms != nil {
		if err := req.AgreeToTerms(ctx, "https://ca.test/tos"); err != nil {
			return nil, err
		}
	}
	return json.RawMessage(`{"status":"valid"}`), nil
}

func (m *mockACMEClient) ObtainCertificate(ctx context.Context, req certify.CertificateRequest) (*certify.IssuedCertificate, error) {
	m.mu.Lock()
	m.obtainCalls++
	m.mu.Unlock()

	if m.obtainFunc != nil {
		return m.obtainFunc(ctx, req)
	}

	// Default happy path: set and remove a challenge for every domain.
	for _, domain := range req.Domains {
		if err := req.SetChallenge(ctx, domain, "token-"+domain, "keyauth-"+domain); err != nil {
			return nil, err
		}
	}
	for _, domain := range req.Domains {
		if err := req.RemoveChallenge(ctx, domain, "token-"+domain); err != nil {
			return nil, err
		}
	}
	return &certify.IssuedCertificate{
		CertificatePEM: "cert-pem",
		ChainPEM:       "chain-pem",
		PrivateKeyPEM:  req.DomainKeypair.PrivateKeyPEM,
		IssuedAt:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAt:      time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (m *mockACMEClient) DirectoryCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.directoryCalls
}

func (m *mockACMEClient) RegisterCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registerCalls
}

func (m *mockACMEClient) ObtainCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.obtainCalls
}

// mockStore is an in-memory test implementation of certify.Store.
type mockStore struct {
	accounts     *mockAccountStore
	certificates *mockCertificateStore
}

func newMockStore() *mockStore {
	return &mockStore{
		accounts: &mockAccountStore{
			accounts: make(map[string]*certify.Account),
			keypairs: make(map[string]*certify.Keypair),
		},
		certificates: &mockCertificateStore{
			records:  make(map[string]*certify.CertificateRecord),
			keypairs: make(map[string]*certify.Keypair),
		},
	}
}

func (s *mockStore) Accounts() certify.AccountStore {
	return s.accounts
}

func (s *mockStore) Certificates() certify.CertificateStore {
	return s.certificates
}

type mockAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*certify.Account
	keypairs map[string]*certify.Keypair

	checkCalls int
	setCalls   int

	checkErr error
	setErr   error
}

func (s *mockAccountStore) Check(ctx context.Context, q certify.AccountQuery) (*certify.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkCalls++

	if s.checkErr != nil {
		return nil, s.checkErr
	}
	if account, ok := s.accounts[q.Email]; ok {
		return account, nil
	}
	for _, account := range s.accounts {
		if q.AccountID != "" && account.ID == q.AccountID {
			return account, nil
		}
	}
	return nil, nil
}

func (s *mockAccountStore) Set(ctx context.Context, q certify.AccountQuery, account *certify.Account) (*certify.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls++

	if s.setErr != nil {
		return nil, s.setErr
	}
	stored := *account
	if stored.ID == "" {
		stored.ID = fmt.Sprintf("acct-%d", len(s.accounts)+1)
	}
	s.accounts[stored.Email] = &stored
	return &stored, nil
}

func (s *mockAccountStore) CheckKeypair(ctx context.Context, q certify.AccountQuery) (*certify.Keypair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keypairs[q.Email], nil
}

func (s *mockAccountStore) SetKeypair(ctx context.Context, q certify.AccountQuery, keypair *certify.Keypair) (*certify.Keypair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keypairs[q.Email] = keypair
	return keypair, nil
}

type mockCertificateStore struct {
	mu       sync.Mutex
	records  map[string]*certify.CertificateRecord
	keypairs map[string]*certify.Keypair

	checkCalls int
	setCalls   int

	checkErr error
	setErr   error
}

func (s *mockCertificateStore) Check(ctx context.Context, domains []string) (*certify.CertificateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkCalls++

	if s.checkErr != nil {
		return nil, s.checkErr
	}
	record, ok := s.records[certify.DomainSetKey(domains)]
	if !ok {
		record = s.findByPrimaryDomain(domains)
		if record == nil {
			return nil, nil
		}
	}
	copied := *record
	return &copied, nil
}

func (s *mockCertificateStore) findByPrimaryDomain(domains []string) *certify.CertificateRecord {
	if len(domains) == 0 {
		return nil
	}
	primary := certify.DomainSetKey(domains[:1])
	for _, record := range s.records {
		for _, domain := range record.Domains {
			if certify.DomainSetKey([]string{domain}) == primary {
				return record
			}
		}
	}
	return nil
}

func (s *mockCertificateStore) Set(ctx context.Context, record *certify.CertificateRecord) (*certify.CertificateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls++

	if s.setErr != nil {
		return nil, s.setErr
	}
	stored := *record
	s.records[certify.DomainSetKey(stored.Domains)] = &stored
	return &stored, nil
}

func (s *mockCertificateStore) CheckKeypair(ctx context.Context, domains []string) (*certify.Keypair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keypairs[certify.DomainSetKey(domains)], nil
}

func (s *mockCertificateStore) SetKeypair(ctx context.Context, domains []string, keypair *certify.Keypair) (*certify.Keypair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keypairs[certify.DomainSetKey(domains)] = keypair
	return keypair, nil
}

func (s *mockCertificateStore) put(record *certify.CertificateRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[certify.DomainSetKey(record.Domains)] = record
}

// mockKeyProvider returns deterministic keypairs and counts invocations.
type mockKeyProvider struct {
	mu            sync.Mutex
	generateCalls int
	generateErr   error
}

func (p *mockKeyProvider) Generate(ctx context.Context, bits int) (*certify.Keypair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generateCalls++

	if p.generateErr != nil {
		return nil, p.generateErr
	}
	return &certify.Keypair{
		PrivateKeyPEM: fmt.Sprintf("private-%d-%d", bits, p.generateCalls),
		PublicKeyPEM:  fmt.Sprintf("public-%d-%d", bits, p.generateCalls),
	}, nil
}

func (p *mockKeyProvider) Import(ctx context.Context, privateKeyPEM string) (*certify.Keypair, error) {
	return &certify.Keypair{PrivateKeyPEM: privateKeyPEM}, nil
}

func (p *mockKeyProvider) GenerateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generateCalls
}

// mockHandler records challenge operations per domain.
type mockHandler struct {
	mu       sync.Mutex
	set      []string
	removed  []string
	setErr   map[string]error
	lastOpts certify.HandlerOptions
}

func newMockHandler() *mockHandler {
	return &mockHandler{setErr: make(map[string]error)}
}

func (h *mockHandler) Set(ctx context.Context, opts certify.HandlerOptions, domain, token, keyAuth string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.setErr[domain]; err != nil {
		return err
	}
	h.set = append(h.set, domain)
	h.lastOpts = opts
	return nil
}

func (h *mockHandler) Get(ctx context.Context, opts certify.HandlerOptions, domain, token string) (string, error) {
	return "", nil
}

func (h *mockHandler) Remove(ctx context.Context, opts certify.HandlerOptions, domain, token string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, domain)
	return nil
}

func (h *mockHandler) SetDomains() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.set...)
}

func (h *mockHandler) RemovedDomains() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.removed...)
}

func (h *mockHandler) LastOpts() certify.HandlerOptions {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastOpts
}

// testEnv bundles a Manager wired to mocks with a controllable clock.
type testEnv struct {
	manager *certify.Manager
	acme    *mockACMEClient
	store   *mockStore
	keys    *mockKeyProvider
	handler *mockHandler

	mu  sync.Mutex
	now time.Time
}

func (e *testEnv) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) SetNow(now time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

func newTestEnv(cfg certify.Config, opts ...certify.Option) (*testEnv, error) {
	env := &testEnv{
		acme:    &mockACMEClient{},
		store:   newMockStore(),
		keys:    &mockKeyProvider{},
		handler: newMockHandler(),
		now:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	base := []certify.Option{
		certify.WithACMEClient(env.acme),
		certify.WithStore(env.store),
		certify.WithKeyProvider(env.keys),
		certify.WithChallengeHandler(certify.ChallengeHTTP01, env.handler),
		certify.WithClock(env.Now),
	}

	manager, err := certify.New(cfg, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	env.manager = manager
	return env, nil
}

// selfSignedCertPEM builds a short-lived certificate for tests that parse
// validity out of PEM data.
func selfSignedCertPEM(notBefore, notAfter time.Time) (string, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.com"},
		DNSNames:     []string{"example.com"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})), nil
}

var errUpstream = errors.New("upstream failure")
