// Package authcore is the authentication core of the platform: credential
// verification, token lifecycle, and multi-factor authentication for two
// identity partitions (standard users by username, drivers by vehicle
// plate and PIN).
//
// The entry point is the [Builder]:
//
//	engine, err := authcore.New().
//		WithConfig(cfg).
//		WithStore(store).
//		Build()
//
// The engine owns no storage; everything durable sits behind the
// [CredentialStore] interface, with a Redis implementation in the
// credstore package. Structural configuration ([Config]) is fixed at
// build time; operational knobs ([Settings]) are re-read through a
// [SettingsSource] on every operation, so administrators can retune
// lockout thresholds and token lifetimes without a restart.
//
// Outcomes are sentinel errors matched with errors.Is:
// [ErrInvalidCredentials], [ErrAccountLocked], [ErrInvalidMFACode],
// [ErrInvalidRefreshToken], and friends. Infrastructure trouble always
// surfaces as [ErrStoreUnavailable] and never masquerades as an
// authentication result.
package authcore
