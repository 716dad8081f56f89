package certify

import (
	"log/slog"
	"time"
)

// Option configures a Manager during initialization.
type Option func(*Manager) error

// WithACMEClient sets the CA wire-protocol collaborator (required).
func WithACMEClient(client ACMEClient) Option {
	return func(m *Manager) error {
		m.acme = client
		return nil
	}
}

// WithStore sets the persistence collaborator (required).
func WithStore(store Store) Option {
	return func(m *Manager) error {
		m.store = store
		return nil
	}
}

// WithKeyProvider sets the keypair collaborator (required).
func WithKeyProvider(keys KeyProvider) Option {
	return func(m *Manager) error {
		m.keys = keys
		return nil
	}
}

// WithChallengeHandler registers a handler for a challenge type.
// Handler shape problems surface here, at configuration time.
func WithChallengeHandler(challengeType string, h Handler) Option {
	return func(m *Manager) error {
		if m.dispatcher == nil {
			m.dispatcher = NewDispatcher(m.logger)
		}
		return m.dispatcher.Register(challengeType, h)
	}
}

// WithAgreeToTerms sets the interactive terms-of-service hook used when a
// request does not auto-agree.
func WithAgreeToTerms(agree AgreeToTermsFunc) Option {
	return func(m *Manager) error {
		m.agree = agree
		return nil
	}
}

// WithDirectoryCache shares a directory cache between Manager instances in
// the same process.
func WithDirectoryCache(cache *DirectoryCache) Option {
	return func(m *Manager) error {
		m.directory = cache
		return nil
	}
}

// WithLogger sets the logger for manager operations.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		m.logger = logger
		return nil
	}
}

// WithClock replaces the time source. Primarily useful for tests that
// exercise the renewal window without waiting for it.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) error {
		m.now = now
		return nil
	}
}
