// Package legoacme implements the certify.ACMEClient collaborator on top of
// github.com/go-acme/lego/v4.
package legoacme

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/dmitrymomot/certlift/core/certify"
)

// Client talks to one ACME CA. It is stateless between calls; a lego
// client is constructed per operation from the account keypair the request
// carries.
type Client struct {
	caURL      string
	keyType    certcrypto.KeyType
	httpClient *http.Client
	factory    clientFactory
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for directory fetches.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithKeyType overrides the certificate key type requested from the CA.
func WithKeyType(keyType certcrypto.KeyType) Option {
	return func(c *Client) {
		c.keyType = keyType
	}
}

// New creates a client for the given CA directory URL.
func New(caURL string, opts ...Option) *Client {
	c := &Client{
		caURL:      caURL,
		keyType:    certcrypto.RSA2048,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		factory:    defaultClientFactory,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// directoryPayload covers both RFC 8555 field names and the legacy draft
// names some private CAs still serve.
type directoryPayload struct {
	NewAccount string `json:"newAccount"`
	NewOrder   string `json:"newOrder"`
	NewReg     string `json:"new-reg"`
	NewAuthz   string `json:"new-authz"`
	NewCert    string `json:"new-cert"`
	Meta       struct {
		TermsOfService string `json:"termsOfService"`
	} `json:"meta"`
}

// GetDirectory fetches the CA directory document. RFC 8555 directories
// expose account creation as newAccount and fold authorization and
// issuance into newOrder; both are mapped onto the registration/
// authorization/certificate endpoints the orchestrator threads through.
func (c *Client) GetDirectory(ctx context.Context, caURL string) (*certify.Directory, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, caURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build directory request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch directory: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch directory: unexpected status %d", resp.StatusCode)
	}

	var payload directoryPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode directory: %w", err)
	}

	dir := &certify.Directory{
		NewRegURL:         payload.NewAccount,
		NewAuthzURL:       payload.NewOrder,
		NewCertURL:        payload.NewOrder,
		TermsOfServiceURL: payload.Meta.TermsOfService,
	}
	if dir.NewRegURL == "" {
		dir.NewRegURL = payload.NewReg
	}
	if dir.NewAuthzURL == "" {
		dir.NewAuthzURL = payload.NewAuthz
	}
	if dir.NewCertURL == payload.NewOrder && payload.NewCert != "" {
		dir.NewCertURL = payload.NewCert
	}
	return dir, nil
}

// RegisterAccount creates the CA account for the supplied keypair. An
// already-registered keypair resolves to the existing account, which keeps
// registration idempotent for the orchestrator.
func (c *Client) RegisterAccount(ctx context.Context, req certify.RegisterAccountRequest) (json.RawMessage, error) {
	if req.AccountKeypair == nil {
		return nil, fmt.Errorf("account keypair is required")
	}

	client, user, err := c.newClient(req.Email, req.AccountKeypair)
	if err != nil {
		return nil, err
	}

	if req.AgreeToTerms != nil {
		if err := req.AgreeToTerms(ctx, client.GetToSURL()); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := client.ResolveAccountByKey()
	if err != nil {
		res, err = client.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("register account: %w", err)
		}
	}
	user.registration = res

	receipt, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode registration receipt: %w", err)
	}
	return receipt, nil
}

// ObtainCertificate authorizes every domain and obtains the certificate,
// proving ownership through the request's challenge callbacks.
func (c *Client) ObtainCertificate(ctx context.Context, req certify.CertificateRequest) (*certify.IssuedCertificate, error) {
	if req.AccountKeypair == nil || req.DomainKeypair == nil {
		return nil, fmt.Errorf("account and domain keypairs are required")
	}

	client, user, err := c.newClient("", req.AccountKeypair)
	if err != nil {
		return nil, err
	}

	// The account must already exist; resolving by key restores the
	// registration resource lego needs for signed requests.
	res, err := client.ResolveAccountByKey()
	if err != nil {
		return nil, fmt.Errorf("resolve account by key: %w", err)
	}
	user.registration = res

	provider := &callbackProvider{ctx: ctx, req: req}
	if err := client.SetChallengeProvider(req.ChallengeType, provider); err != nil {
		return nil, fmt.Errorf("configure %s provider: %w", req.ChallengeType, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	domainKey, err := certcrypto.ParsePEMPrivateKey([]byte(req.DomainKeypair.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse domain private key: %w", err)
	}

	obtained, err := client.Obtain(certificate.ObtainRequest{
		Domains:    req.Domains,
		Bundle:     true,
		PrivateKey: domainKey,
	})
	if err != nil {
		return nil, err
	}

	issued := &certify.IssuedCertificate{
		CertificatePEM: string(obtained.Certificate),
		ChainPEM:       string(obtained.IssuerCertificate),
		PrivateKeyPEM:  req.DomainKeypair.PrivateKeyPEM,
	}
	if certs, err := certcrypto.ParsePEMBundle(obtained.Certificate); err == nil && len(certs) > 0 {
		issued.IssuedAt = certs[0].NotBefore
		issued.ExpiresAt = certs[0].NotAfter
	}
	return issued, nil
}

func (c *Client) newClient(email string, keypair *certify.Keypair) (acmeClient, *accountUser, error) {
	key, err := certcrypto.ParsePEMPrivateKey([]byte(keypair.PrivateKeyPEM))
	if err != nil {
		return nil, nil, fmt.Errorf("parse account private key: %w", err)
	}

	user := &accountUser{email: email, key: key}
	cfg := lego.NewConfig(user)
	cfg.CADirURL = c.caURL
	cfg.Certificate.KeyType = c.keyType

	client, err := c.factory(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create acme client: %w", err)
	}
	return client, user, nil
}

// callbackProvider bridges lego's challenge.Provider to the orchestrator's
// per-domain set/remove callbacks.
type callbackProvider struct {
	ctx context.Context
	req certify.CertificateRequest
}

func (p *callbackProvider) Present(domain, token, keyAuth string) error {
	return p.req.SetChallenge(p.ctx, domain, token, keyAuth)
}

func (p *callbackProvider) CleanUp(domain, token, keyAuth string) error {
	return p.req.RemoveChallenge(p.ctx, domain, token)
}

type clientFactory func(*lego.Config) (acmeClient, error)

// acmeClient is the slice of lego's surface this adapter uses; the seam
// exists so tests can run without a CA.
type acmeClient interface {
	GetToSURL() string
	ResolveAccountByKey() (*registration.Resource, error)
	Register(options registration.RegisterOptions) (*registration.Resource, error)
	SetChallengeProvider(challengeType string, provider challenge.Provider) error
	Obtain(request certificate.ObtainRequest) (*certificate.Resource, error)
}

func defaultClientFactory(cfg *lego.Config) (acmeClient, error) {
	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &legoAdapter{client: client}, nil
}

type legoAdapter struct {
	client *lego.Client
}

func (l *legoAdapter) GetToSURL() string {
	return l.client.GetToSURL()
}

func (l *legoAdapter) ResolveAccountByKey() (*registration.Resource, error) {
	return l.client.Registration.ResolveAccountByKey()
}

func (l *legoAdapter) Register(options registration.RegisterOptions) (*registration.Resource, error) {
	return l.client.Registration.Register(options)
}

func (l *legoAdapter) SetChallengeProvider(challengeType string, provider challenge.Provider) error {
	switch challengeType {
	case certify.ChallengeHTTP01:
		return l.client.Challenge.SetHTTP01Provider(provider)
	case certify.ChallengeDNS01:
		return l.client.Challenge.SetDNS01Provider(provider)
	case certify.ChallengeTLSALPN01:
		return l.client.Challenge.SetTLSALPN01Provider(provider)
	default:
		return fmt.Errorf("unsupported challenge type %q", challengeType)
	}
}

func (l *legoAdapter) Obtain(request certificate.ObtainRequest) (*certificate.Resource, error) {
	return l.client.Certificate.Obtain(request)
}

// accountUser implements lego's registration.User.
type accountUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *accountUser) GetEmail() string {
	return u.email
}

func (u *accountUser) GetRegistration() *registration.Resource {
	return u.registration
}

func (u *accountUser) GetPrivateKey() crypto.PrivateKey {
	return u.key
}
