// Package auth implements endpoint registration and bearer-token checks.
//
// Endpoints self-register with a (name, hostname) pair and receive a signed
// JWT exactly once; the server keeps only a SHA-256 hash of it. Registering
// the same pair again rotates the credential: a new token is issued, the
// stored hash is replaced, and the old token stops authenticating even
// before it expires. Admin access uses statically configured tokens and is
// required for structural writes; endpoint tokens authorise only requests
// about the endpoint they embed.
package auth
