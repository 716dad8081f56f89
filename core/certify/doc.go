// Package certify orchestrates the lifecycle of domain-validated TLS
// certificates: CA account registration, domain ownership proof via
// pluggable challenge handlers, certificate issuance and policy-driven
// renewal. The wire protocol, persistence, challenge provisioning and key
// generation are delegated to collaborator interfaces; this package owns
// the sequencing, the renewal policy and the failure semantics.
//
// # Components
//
//   - Manager: facade composing the managers below, entry points
//     GetOrIssue / Check / Register
//   - AccountManager: register-or-reuse CA accounts with fail-fast
//     validation and terms-of-service handling
//   - CertificateManager: issuance and the renewal-policy state machine
//   - DirectoryCache: process-wide TTL cache of CA directory metadata
//     with coalesced refresh
//   - Dispatcher: routes challenge set/remove operations per domain and
//     validates dynamically supplied handlers at configuration time
//
// # Basic Usage
//
//	store, err := fsstore.New("/var/lib/certlift")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	manager, err := certify.New(certify.Config{
//		Server:   certify.ServerStaging,
//		Email:    "admin@example.com",
//		AgreeTOS: true,
//	},
//		certify.WithACMEClient(legoacme.New(certify.StagingServerURL)),
//		certify.WithStore(store),
//		certify.WithKeyProvider(rsakeys.New()),
//		certify.WithChallengeHandler(certify.ChallengeHTTP01, webroot.New("/var/www")),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	record, err := manager.GetOrIssue(ctx, certify.Request{
//		Domains: []string{"example.com", "www.example.com"},
//	})
//
// # Renewal Policy
//
// GetOrIssue issues when no certificate is stored, renews when the stored
// certificate is within RenewWithin of expiry (default 72h) or the request
// sets Duplicate, and otherwise fails with a RenewalNotDueError carrying
// the issued/expiry/renewable instants. A renewal requested with at most
// two domains is widened to the stored certificate's full domain set so a
// narrow renewal cannot silently drop a www. alias.
//
// # Concurrency
//
// Requests run on the caller's own concurrency mechanism; the package owns
// no worker pool. The directory cache is the only state shared across
// concurrent requests and refreshes are coalesced. Concurrent GetOrIssue
// calls for the same domain set share a single in-flight issuance.
//
// # Errors
//
// Validation failures (ErrInvalidArguments, ErrInvalidDomain) are raised
// before any collaborator call. Collaborator failures are wrapped with the
// operation and domain context, never reinterpreted or retried. A declined
// terms-of-service agreement is distinguished as ErrTermsNotAgreed.
package certify
