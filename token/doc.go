// Package token issues and verifies the signed access/refresh token pair
// and computes the one-way refresh fingerprint used for storage comparison.
//
// TTLs are never baked into the Manager: callers pass them on every
// issuance so administrator changes apply to new tokens without a process
// restart. Verification distinguishes an expired token from a malformed or
// badly signed one because the two demand different client behavior.
package token
