package certify

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidArguments is returned when required request fields are
	// missing or malformed, before any collaborator call.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrInvalidDomain is returned when one or more requested domain
	// names fail syntax validation.
	ErrInvalidDomain = errors.New("invalid domain name(s)")

	// ErrInvalidChallengeHandler is returned when a challenge handler
	// does not match the required operation shape.
	ErrInvalidChallengeHandler = errors.New("invalid challenge handler")

	// ErrUnknownChallengeType is returned when no handler is registered
	// for the requested challenge type.
	ErrUnknownChallengeType = errors.New("unknown challenge type")

	// ErrRenewalNotDue is returned when renewal is requested before the
	// policy threshold without a duplicate override.
	ErrRenewalNotDue = errors.New("renewal not due")

	// ErrTermsNotAgreed is returned when the terms-of-service agreement
	// was declined during account registration.
	ErrTermsNotAgreed = errors.New("terms of service not agreed")

	// ErrACMEClientRequired is returned by New when no ACME client is configured.
	ErrACMEClientRequired = errors.New("acme client is required")

	// ErrStoreRequired is returned by New when no store is configured.
	ErrStoreRequired = errors.New("store is required")

	// ErrKeyProviderRequired is returned by New when no key provider is configured.
	ErrKeyProviderRequired = errors.New("key provider is required")

	// ErrServerRequired is returned by New when the CA server is not set.
	ErrServerRequired = errors.New("ca server must be set to 'staging', 'production' or a directory url")
)

// InvalidDomainError reports the domain names that failed validation.
// It unwraps to ErrInvalidDomain.
type InvalidDomainError struct {
	Domains []string
}

func (e *InvalidDomainError) Error() string {
	return fmt.Sprintf("invalid domain name(s): %s", strings.Join(e.Domains, ", "))
}

func (e *InvalidDomainError) Unwrap() error {
	return ErrInvalidDomain
}

// RenewalNotDueError carries the timestamps a caller needs to surface an
// actionable message or schedule a later attempt. It unwraps to
// ErrRenewalNotDue.
type RenewalNotDueError struct {
	IssuedAt    time.Time
	ExpiresAt   time.Time
	RenewableAt time.Time
}

func (e *RenewalNotDueError) Error() string {
	return fmt.Sprintf(
		"certificate issued at %s and expires at %s; renewal not due until %s (set Duplicate to force)",
		e.IssuedAt.Format(time.RFC3339),
		e.ExpiresAt.Format(time.RFC3339),
		e.RenewableAt.Format(time.RFC3339),
	)
}

func (e *RenewalNotDueError) Unwrap() error {
	return ErrRenewalNotDue
}
