package certify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// AgreeToTermsFunc is the interactive terms-of-service hook. It is invoked
// at exactly one point in the registration sequence, with the CA's current
// terms-of-service URL, and reports whether the caller accepts.
type AgreeToTermsFunc func(ctx context.Context, tosURL string) (bool, error)

// AccountManager registers and retrieves CA accounts. An account's keypair
// never changes after creation; registering again with the same keypair
// returns the existing account.
type AccountManager struct {
	cfg       Config
	caURL     string
	store     AccountStore
	keys      KeyProvider
	acme      ACMEClient
	directory *DirectoryCache
	agree     AgreeToTermsFunc
	now       func() time.Time
	logger    *slog.Logger
}

// Register creates a new CA account. Preconditions (email present and
// syntactically valid, terms agreement available, key size >= 2048) are
// checked before any collaborator call; violations fail with
// ErrInvalidArguments and no side effects.
func (a *AccountManager) Register(ctx context.Context, req Request) (*Account, error) {
	req = a.cfg.merge(req)

	if err := a.validateRegister(req); err != nil {
		return nil, err
	}

	keypair, err := a.ensureKeypair(ctx, req)
	if err != nil {
		return nil, err
	}

	dir, err := a.directory.Directory(ctx, a.caURL)
	if err != nil {
		return nil, err
	}

	receipt, err := a.acme.RegisterAccount(ctx, RegisterAccountRequest{
		Email:          req.Email,
		NewRegURL:      dir.NewRegURL,
		AccountKeypair: keypair,
		AgreeToTerms:   a.agreeToTerms(req),
	})
	if err != nil {
		return nil, fmt.Errorf("register account for %s: %w", req.Email, err)
	}

	account, err := a.store.Set(ctx, req.accountQuery(), &Account{
		Email:     req.Email,
		Keypair:   keypair,
		Receipt:   receipt,
		CreatedAt: a.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("store account for %s: %w", req.Email, err)
	}

	a.logger.InfoContext(ctx, "registered acme account", "email", req.Email, "account_id", account.ID)
	return account, nil
}

// GetOrRegister returns the existing account when one matches the request
// and registers a new one otherwise. Registration is idempotent from the
// caller's perspective.
func (a *AccountManager) GetOrRegister(ctx context.Context, req Request) (*Account, error) {
	account, err := a.Check(ctx, req)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}
	return a.Register(ctx, req)
}

// Check looks up an existing account. At least one of account id, email or
// domains must be present; a miss returns (nil, nil).
func (a *AccountManager) Check(ctx context.Context, req Request) (*Account, error) {
	req = a.cfg.merge(req)

	if req.AccountID == "" && req.Email == "" && len(req.Domains) == 0 {
		return nil, fmt.Errorf(
			"%w: one of account id, email or domains is required to retrieve an account",
			ErrInvalidArguments,
		)
	}

	account, err := a.store.Check(ctx, req.accountQuery())
	if err != nil {
		return nil, fmt.Errorf("check account: %w", err)
	}
	return account, nil
}

func (a *AccountManager) validateRegister(req Request) error {
	if req.Email == "" {
		return fmt.Errorf("%w: email is required to register an account", ErrInvalidArguments)
	}
	if !validEmail(req.Email) {
		return fmt.Errorf("%w: %q is not a valid email address", ErrInvalidArguments, req.Email)
	}
	if !req.AgreeTOS && req.AgreedTOSURL == "" && a.agree == nil {
		return fmt.Errorf("%w: terms of service agreement is required to register an account", ErrInvalidArguments)
	}
	if req.RSAKeySize < MinRSAKeySize {
		return fmt.Errorf("%w: rsa key size must be %d or greater", ErrInvalidArguments, MinRSAKeySize)
	}
	return nil
}

// ensureKeypair reuses the stored account keypair when present, persists a
// caller-supplied one otherwise, and generates a fresh keypair as the last
// resort.
func (a *AccountManager) ensureKeypair(ctx context.Context, req Request) (*Keypair, error) {
	q := req.accountQuery()

	keypair, err := a.store.CheckKeypair(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("check account keypair: %w", err)
	}
	if keypair != nil {
		return keypair, nil
	}

	if req.AccountKeypair != nil {
		keypair, err = a.store.SetKeypair(ctx, q, req.AccountKeypair)
		if err != nil {
			return nil, fmt.Errorf("store supplied account keypair: %w", err)
		}
		return keypair, nil
	}

	keypair, err = a.keys.Generate(ctx, req.RSAKeySize)
	if err != nil {
		return nil, fmt.Errorf("generate account keypair: %w", err)
	}

	keypair, err = a.store.SetKeypair(ctx, q, keypair)
	if err != nil {
		return nil, fmt.Errorf("store account keypair: %w", err)
	}
	return keypair, nil
}

// agreeToTerms builds the client-facing TOS callback: auto-agree when the
// request says so or names the exact terms URL, defer to the interactive
// hook otherwise. A decline aborts registration with ErrTermsNotAgreed.
func (a *AccountManager) agreeToTerms(req Request) AgreeFunc {
	return func(ctx context.Context, tosURL string) error {
		if req.AgreeTOS || (req.AgreedTOSURL != "" && req.AgreedTOSURL == tosURL) {
			return nil
		}
		if a.agree == nil {
			return ErrTermsNotAgreed
		}
		accepted, err := a.agree(ctx, tosURL)
		if err != nil {
			return err
		}
		if !accepted {
			return ErrTermsNotAgreed
		}
		return nil
	}
}
