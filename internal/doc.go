// Package internal holds token generation, fingerprinting, and backup code
// helpers shared by the engine and the provided credential store. Nothing in
// here is part of the public API.
package internal
