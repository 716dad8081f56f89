package certify

import (
	"regexp"
	"sort"
	"strings"
)

// Request carries the per-call overrides layered onto a Manager's Config.
// A Request is owned exclusively by the call that created it.
type Request struct {
	// Domains is the ordered set of domain names the certificate must
	// cover. Required for certificate operations.
	Domains []string

	// Email overrides the instance default account contact.
	Email string

	// AccountID selects an existing account for lookups.
	AccountID string

	// AgreeTOS auto-accepts the CA terms of service for this call.
	AgreeTOS bool

	// AgreedTOSURL accepts the terms only when the CA's current
	// terms-of-service URL matches exactly.
	AgreedTOSURL string

	// Duplicate forces issuance even when an unexpired certificate
	// already exists and renewal is not yet due.
	Duplicate bool

	// RSAKeySize overrides the instance default key size.
	RSAKeySize int

	// ChallengeType overrides the instance default challenge type.
	ChallengeType string

	// AccountKeypair and DomainKeypair supply existing keys instead of
	// generating fresh ones. Supplied keys are persisted on first use.
	AccountKeypair *Keypair
	DomainKeypair  *Keypair

	// Debug is forwarded to challenge handlers in their HandlerOptions so
	// they can emit extra diagnostics. Manager logging is controlled by
	// the configured logger's own level.
	Debug bool
}

// accountQuery derives store lookup keys from the effective request.
func (r Request) accountQuery() AccountQuery {
	return AccountQuery{
		AccountID: r.AccountID,
		Email:     r.Email,
		Domains:   r.Domains,
	}
}

// Pragmatic check, not RFC 5322: one @, non-empty local part, dotted host.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func validEmail(email string) bool {
	return emailPattern.MatchString(email)
}

var domainLabelPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)

// validDomain accepts lowercase dotted hostnames: at least two labels, no
// leading/trailing hyphens, TLD of two or more letters. This library cannot
// assume the http loopback is reachable (dns-01 validation may be in use),
// so no DNS lookup or loopback test is attempted here.
func validDomain(domain string) bool {
	if len(domain) == 0 || len(domain) > 253 {
		return false
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if !domainLabelPattern.MatchString(label) {
			return false
		}
	}
	tld := labels[len(labels)-1]
	for _, r := range tld {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return len(tld) >= 2
}

// validateDomains returns an InvalidDomainError listing every offending
// entry, or nil when the set is non-empty and fully valid.
func validateDomains(domains []string) error {
	if len(domains) == 0 {
		return &InvalidDomainError{}
	}
	var bad []string
	for _, d := range domains {
		if !validDomain(d) {
			bad = append(bad, d)
		}
	}
	if len(bad) > 0 {
		return &InvalidDomainError{Domains: bad}
	}
	return nil
}

// DomainSetKey canonicalizes a domain set into a stable lookup key:
// lowercased, sorted, comma-joined. Order-insensitive so that a renewal
// requested in a different order still finds the original record. Store
// implementations use the same key to index certificate records.
func DomainSetKey(domains []string) string {
	set := make([]string, len(domains))
	for i, d := range domains {
		set[i] = strings.ToLower(strings.TrimSpace(d))
	}
	sort.Strings(set)
	return strings.Join(set, ",")
}
