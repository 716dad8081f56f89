// Package fsstore implements the certify.Store collaborator on the local
// filesystem. Records are JSON files written atomically (temp file plus
// rename) under a single root directory:
//
//	<root>/accounts/<email>/account.json
//	<root>/accounts/<email>/keypair.json
//	<root>/accounts/index/<account id>      # contains the account email
//	<root>/certificates/<domain set>/record.json
//	<root>/certificates/<domain set>/keypair.json
//	<root>/certificates/index/<domain>      # contains the domain set key
package fsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/certlift/core/certify"
)

// Store persists accounts and certificates as files.
type Store struct {
	accounts     *accountStore
	certificates *certificateStore
}

// New creates a filesystem store rooted at dir.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	for _, sub := range []string{"accounts", "accounts/index", "certificates", "certificates/index"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	return &Store{
		accounts:     &accountStore{dir: filepath.Join(dir, "accounts")},
		certificates: &certificateStore{dir: filepath.Join(dir, "certificates")},
	}, nil
}

func (s *Store) Accounts() certify.AccountStore {
	return s.accounts
}

func (s *Store) Certificates() certify.CertificateStore {
	return s.certificates
}

type accountStore struct {
	dir string
}

func (s *accountStore) Check(ctx context.Context, q certify.AccountQuery) (*certify.Account, error) {
	email, err := s.resolveEmail(q)
	if err != nil || email == "" {
		return nil, err
	}

	var account certify.Account
	found, err := readJSON(s.path(email, "account.json"), &account)
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

	if err := writeJSON(s.path(email, "account.json"), stored); err != nil {
		return nil, err
	}
	// The id index lets later lookups by account id find the email key.
	if err := writeFile(filepath.Join(s.dir, "index", fileSegment(stored.ID)), []byte(email)); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *accountStore) CheckKeypair(ctx context.Context, q certify.AccountQuery) (*certify.Keypair, error) {
	email, err := s.resolveEmail(q)
	if err != nil || email == "" {
		return nil, err
	}

	var keypair certify.Keypair
	found, err := readJSON(s.path(email, "keypair.json"), &keypair)
	if err != nil || !found {
		return nil, err
	}
	return &keypair, nil
}

func (s *accountStore) SetKeypair(ctx context.Context, q certify.AccountQuery, keypair *certify.Keypair) (*certify.Keypair, error) {
	if q.Email == "" {
		return nil, fmt.Errorf("account email is required")
	}
	if err := writeJSON(s.path(q.Email, "keypair.json"), keypair); err != nil {
		return nil, err
	}
	return keypair, nil
}

// resolveEmail turns a query into the email directory key, following the
// id index when only the account id is present.
func (s *accountStore) resolveEmail(q certify.AccountQuery) (string, error) {
	if q.Email != "" {
		return q.Email, nil
	}
	if q.AccountID == "" {
		return "", nil
	}

	data, err := os.ReadFile(filepath.Join(s.dir, "index", fileSegment(q.AccountID)))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read account index: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *accountStore) path(email, name string) string {
	return filepath.Join(s.dir, fileSegment(email), name)
}

type certificateStore struct {
	dir string
}

func (s *certificateStore) Check(ctx context.Context, domains []string) (*certify.CertificateRecord, error) {
	var record certify.CertificateRecord
	found, err := readJSON(s.path(domains, "record.json"), &record)
	if err != nil {
		return nil, err
	}
	if !found {
		found, err = s.checkByPrimaryDomain(domains, &record)
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
	if err := writeJSON(s.path(stored.Domains, "record.json"), stored); err != nil {
		return nil, err
	}
	// The domain index lets a renewal naming fewer domains than the
	// original issuance resolve the record it is renewing.
	setKey := certify.DomainSetKey(stored.Domains)
	for _, domain := range stored.Domains {
		if err := writeFile(filepath.Join(s.dir, "index", fileSegment(domain)), []byte(setKey)); err != nil {
			return nil, err
		}
	}
	return &stored, nil
}

// checkByPrimaryDomain resolves the record covering the first requested
// domain through the domain index.
func (s *certificateStore) checkByPrimaryDomain(domains []string, record *certify.CertificateRecord) (bool, error) {
	if len(domains) == 0 {
		return false, nil
	}
	data, err := os.ReadFile(filepath.Join(s.dir, "index", fileSegment(domains[0])))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read certificate index: %w", err)
	}
	setKey := strings.TrimSpace(string(data))
	return readJSON(filepath.Join(s.dir, fileSegment(setKey), "record.json"), record)
}

func (s *certificateStore) CheckKeypair(ctx context.Context, domains []string) (*certify.Keypair, error) {
	var keypair certify.Keypair
	found, err := readJSON(s.path(domains, "keypair.json"), &keypair)
	if err != nil || !found {
		return nil, err
	}
	return &keypair, nil
}

func (s *certificateStore) SetKeypair(ctx context.Context, domains []string, keypair *certify.Keypair) (*certify.Keypair, error) {
	if err := writeJSON(s.path(domains, "keypair.json"), keypair); err != nil {
		return nil, err
	}
	return keypair, nil
}

func (s *certificateStore) path(domains []string, name string) string {
	return filepath.Join(s.dir, fileSegment(certify.DomainSetKey(domains)), name)
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// fileSegment keeps store keys filesystem-safe.
func fileSegment(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_', r == '@':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
