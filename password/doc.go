// Package password hashes and verifies credentials with argon2id in PHC
// string format, including decoy verification for unknown accounts.
package password
