// Package credstore provides the Redis-backed credential store used by
// the authcore engine.
//
// Key layout (all under an optional caller prefix):
//
//	acct:{id}          hash    account record
//	ident:{kind}:{id}  string  identifier -> account id index
//	mfa:{id}           string  JSON MFA profile
//	mfa_fail:{id}      string  MFA failure counter (expiring)
//	mfa_lock:{id}      string  MFA lockout deadline (expiring)
//
// The operations the engine depends on for its concurrency guarantees
// (failure counting, refresh rotation, pending-MFA consumption, backup
// code consumption) are implemented with Lua scripts and WATCH
// transactions so they stay atomic across processes sharing one Redis.
package credstore
