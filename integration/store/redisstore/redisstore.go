// Package redisstore implements the certify.Store collaborator on Redis.
// Records are stored as JSON values; certificate keys are derived from the
// canonical domain-set key so renewals find the original record regardless
// of request order.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/certlift/core/certify"
)

// Config holds Redis connection settings with environment variable support.
type Config struct {
	ConnectionURL  string        `env:"CERTLIFT_REDIS_URL,required" envDefault:"redis://localhost:6379/0"`
	RetryAttempts  int           `env:"CERTLIFT_REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"CERTLIFT_REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"CERTLIFT_REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
	KeyPrefix      string        `env:"CERTLIFT_REDIS_KEY_PREFIX" envDefault:"certlift"`
}

// ErrConnectionFailed is returned when Redis cannot be reached after all
// retry attempts.
var ErrConnectionFailed = errors.New("redis connection failed")

// Store persists accounts and certificates in Redis.
type Store struct {
	accounts     *accountStore
	certificates *certificateStore
}

// Connect creates a Redis-backed store, verifying connectivity with a ping
// before returning. Transient failures are retried per the config.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx := ctx
		if cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
			lastErr = client.Ping(pingCtx).Err()
			cancel()
		} else {
			lastErr = client.Ping(pingCtx).Err()
		}
		if lastErr == nil {
			return NewWithClient(client, cfg.KeyPrefix), nil
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.RetryInterval):
			}
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrConnectionFailed, attempts, lastErr)
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "certlift"
	}
	return &Store{
		accounts:     &accountStore{client: client, prefix: keyPrefix},
		certificates: &certificateStore{client: client, prefix: keyPrefix},
	}
}

func (s *Store) Accounts() certify.AccountStore {
	return s.accounts
}

func (s *Store) Certificates() certify.CertificateStore {
	return s.certificates
}

type accountStore struct {
	client *redis.Client
	prefix string
}

func (s *accountStore) Check(ctx context.Context, q certify.AccountQuery) (*certify.Account, error) {
	email, err := s.resolveEmail(ctx, q)
	if err != nil || email == "" {
		return nil, err
	}

	var account certify.Account
	found, err := getJSON(ctx, s.client, s.key("account", email), &account)
	if err != nil || !found {
		return nil, err
	}
	return &account, nil
}

func (s *accountStore) Set(ctx context.Context, q certify.AccountQuery, account *certify.Account) (*certify.Account, error) {
	email := account.Email
	if email == "" {
		email = q.Email
	}
	if email == "" {
		return nil, fmt.Errorf("account email is required")
	}

	stored := *account
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	if err := setJSON(ctx, s.client, s.key("account", email), stored); err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, s.key("account:id", stored.ID), email, 0).Err(); err != nil {
		return nil, fmt.Errorf("write account id index: %w", err)
	}
	return &stored, nil
}

func (s *accountStore) CheckKeypair(ctx context.Context, q certify.AccountQuery) (*certify.Keypair, error) {
	email, err := s.resolveEmail(ctx, q)
	if err != nil || email == "" {
		return nil, err
	}

	var keypair certify.Keypair
	found, err := getJSON(ctx, s.client, s.key("account:keypair", email), &keypair)
	if err != nil || !found {
		return nil, err
	}
	return &keypair, nil
}

func (s *accountStore) SetKeypair(ctx context.Context, q certify.AccountQuery, keypair *certify.Keypair) (*certify.Keypair, error) {
	if q.Email == "" {
		return nil, fmt.Errorf("account email is required")
	}
	if err := setJSON(ctx, s.client, s.key("account:keypair", q.Email), keypair); err != nil {
		return nil, err
	}
	return keypair, nil
}

func (s *accountStore) resolveEmail(ctx context.Context, q certify.AccountQuery) (string, error) {
	if q.Email != "" {
		return q.Email, nil
	}
	if q.AccountID == "" {
		return "", nil
	}

	email, err := s.client.Get(ctx, s.key("account:id", q.AccountID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read account id index: %w", err)
	}
	return email, nil
}

func (s *accountStore) key(kind, id string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, kind, id)
}

type certificateStore struct {
	client *redis.Client
	prefix string
}

func (s *certificateStore) Check(ctx context.Context, domains []string) (*certify.CertificateRecord, error) {
	var record certify.CertificateRecord
	found, err := getJSON(ctx, s.client, s.key("cert", domains), &record)
	if err != nil {
		return nil, err
	}
	if !found {
		found, err = s.checkByPrimaryDomain(ctx, domains, &record)
		if err != nil || !found {
			return nil, err
		}
	}
	return &record, nil
}

func (s *certificateStore) Set(ctx context.Context, record *certify.CertificateRecord) (*certify.CertificateRecord, error) {
	stored := *record
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if err := setJSON(ctx, s.client, s.key("cert", stored.Domains), stored); err != nil {
		return nil, err
	}
	// The domain index lets a renewal naming fewer domains than the
	// original issuance resolve the record it is renewing.
	setKey := certify.DomainSetKey(stored.Domains)
	for _, domain := range stored.Domains {
		if err := s.client.Set(ctx, s.domainKey(domain), setKey, 0).Err(); err != nil {
			return nil, fmt.Errorf("write certificate domain index: %w", err)
		}
	}
	return &stored, nil
}

// checkByPrimaryDomain resolves the record covering the first requested
// domain through the domain index.
func (s *certificateStore) checkByPrimaryDomain(ctx context.Context, domains []string, record *certify.CertificateRecord) (bool, error) {
	if len(domains) == 0 {
		return false, nil
	}
	setKey, err := s.client.Get(ctx, s.domainKey(domains[0])).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read certificate domain index: %w", err)
	}
	return getJSON(ctx, s.client, fmt.Sprintf("%s:cert:%s", s.prefix, setKey), record)
}

func (s *certificateStore) CheckKeypair(ctx context.Context, domains []string) (*certify.Keypair, error) {
	var keypair certify.Keypair
	found, err := getJSON(ctx, s.client, s.key("cert:keypair", domains), &keypair)
	if err != nil || !found {
		return nil, err
	}
	return &keypair, nil
}

func (s *certificateStore) SetKeypair(ctx context.Context, domains []string, keypair *certify.Keypair) (*certify.Keypair, error) {
	if err := setJSON(ctx, s.client, s.key("cert:keypair", domains), keypair); err != nil {
		return nil, err
	}
	return keypair, nil
}

func (s *certificateStore) key(kind string, domains []string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, kind, certify.DomainSetKey(domains))
}

func (s *certificateStore) domainKey(domain string) string {
	return fmt.Sprintf("%s:cert:domain:%s", s.prefix, certify.DomainSetKey([]string{domain}))
}

func getJSON(ctx context.Context, client *redis.Client, key string, v any) (bool, error) {
	data, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func setJSON(ctx context.Context, client *redis.Client, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
