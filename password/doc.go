// Package password implements Argon2id credential hashing with PHC-encoded
// output and the administrator-configured credential policy (length,
// character classes, reuse history).
//
// Hashing and policy are deliberately separate: the hasher accepts any
// non-empty secret so short driver PINs can be stored, while Policy decides
// what a user is allowed to set.
package password
