// Package issueguard is the authorization and session security engine for a
// multi-tenant issue-tracking API: credential verification with argon2id,
// account lockout and rate limiting, Ed25519-signed access/refresh tokens
// with one-time rotation and family revocation, role- and ownership-based
// permission evaluation, the issue status state machine, and an append-only
// audit pipeline.
//
// Construct an Engine through the Builder:
//
//	engine, err := issueguard.New().
//		WithConfig(cfg).
//		WithRedis(client).
//		WithUserStore(store).
//		WithAuditSink(sink).
//		Build()
//
// All security decisions fail closed: if Redis or the audit pipeline cannot
// confirm an operation, the operation is refused.
package issueguard
