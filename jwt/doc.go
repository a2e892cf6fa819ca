// Package jwt mints and verifies the access/refresh token pair used by the
// authorization engine, with strict signature and type-discriminator checks.
package jwt
