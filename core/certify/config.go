package certify

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Well-known Let's Encrypt directory endpoints and the named environments
// that resolve to them.
const (
	ProductionServerURL = "https://acme-v02.api.letsencrypt.org/directory"
	StagingServerURL    = "https://acme-staging-v02.api.letsencrypt.org/directory"

	ServerProduction = "production"
	ServerStaging    = "staging"
)

// Supported challenge types.
const (
	ChallengeHTTP01    = "http-01"
	ChallengeDNS01     = "dns-01"
	ChallengeTLSALPN01 = "tls-alpn-01"
)

// MinRSAKeySize is the smallest account/domain key size accepted for
// registration and issuance.
const MinRSAKeySize = 2048

const (
	// DefaultRenewWithin is how long before expiry a certificate becomes
	// renewable.
	DefaultRenewWithin = 72 * time.Hour

	// DefaultMemorizeFor is the advisory duration callers may cache a
	// certificate lookup before asking again.
	DefaultMemorizeFor = 24 * time.Hour
)

// Config holds the instance-wide defaults of a Manager. It is immutable
// after New; per-call overrides go on a Request and are layered on top
// without ever mutating these values.
type Config struct {
	// Server is a CA directory URL or one of the named environments
	// "staging" / "production".
	Server string `env:"CERTLIFT_SERVER" envDefault:"production"`

	// Email is the default account contact used when a request does not
	// carry its own.
	Email string `env:"CERTLIFT_EMAIL"`

	// AgreeTOS auto-accepts the CA terms of service for every
	// registration made through this instance.
	AgreeTOS bool `env:"CERTLIFT_AGREE_TOS" envDefault:"false"`

	// RenewWithin is the renewal window before expiry.
	RenewWithin time.Duration `env:"CERTLIFT_RENEW_WITHIN" envDefault:"72h"`

	// MemorizeFor is an advisory caching hint surfaced to callers; this
	// package does not act on it.
	MemorizeFor time.Duration `env:"CERTLIFT_MEMORIZE_FOR" envDefault:"24h"`

	// RSAKeySize is the default key size for generated keypairs.
	RSAKeySize int `env:"CERTLIFT_RSA_KEY_SIZE" envDefault:"2048"`

	// ChallengeType selects the default challenge handler.
	ChallengeType string `env:"CERTLIFT_CHALLENGE_TYPE" envDefault:"http-01"`

	// Debug sets the default for Request.Debug, forwarded to challenge
	// handlers in their HandlerOptions.
	Debug bool `env:"CERTLIFT_DEBUG" envDefault:"false"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server:        ServerProduction,
		RenewWithin:   DefaultRenewWithin,
		MemorizeFor:   DefaultMemorizeFor,
		RSAKeySize:    MinRSAKeySize,
		ChallengeType: ChallengeHTTP01,
	}
}

// LoadConfig reads configuration from environment variables, loading a
// local .env file first when one exists.
func LoadConfig() (Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config from environment: %w", err)
	}
	return cfg, nil
}

// withDefaults fills zero values without touching the receiver. Server is
// deliberately not defaulted: pointing at production must be an explicit
// choice.
func (c Config) withDefaults() Config {
	if c.RenewWithin <= 0 {
		c.RenewWithin = DefaultRenewWithin
	}
	if c.MemorizeFor <= 0 {
		c.MemorizeFor = DefaultMemorizeFor
	}
	if c.RSAKeySize == 0 {
		c.RSAKeySize = MinRSAKeySize
	}
	if c.ChallengeType == "" {
		c.ChallengeType = ChallengeHTTP01
	}
	return c
}

// merge layers per-call overrides onto the instance defaults and returns
// the effective request. Neither input is mutated.
func (c Config) merge(req Request) Request {
	if req.Email == "" {
		req.Email = c.Email
	}
	if req.RSAKeySize == 0 {
		req.RSAKeySize = c.RSAKeySize
	}
	if req.ChallengeType == "" {
		req.ChallengeType = c.ChallengeType
	}
	req.AgreeTOS = req.AgreeTOS || c.AgreeTOS
	req.Debug = req.Debug || c.Debug
	return req
}

// resolveServerURL maps the named environments onto their directory URLs
// and passes explicit URLs through.
func resolveServerURL(server string) (string, error) {
	switch strings.TrimSpace(server) {
	case "":
		return "", ErrServerRequired
	case ServerStaging:
		return StagingServerURL, nil
	case ServerProduction:
		return ProductionServerURL, nil
	default:
		return strings.TrimSpace(server), nil
	}
}
