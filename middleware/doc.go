// Package middleware exposes HTTP adapters over the engine: [RequireAuth]
// reads the Authorization header, verifies the access token, applies the
// per-principal request budget, and injects the verified actor into the
// request context. All decisions are delegated to the engine; this package
// only translates HTTP semantics.
package middleware
