// Package session persists refresh-token families in Redis, providing atomic
// one-time rotation, replay detection, and per-user revocation.
package session
