package paillier

import "errors"

// Sentinel errors for the cryptographic primitives in this package. The
// tally package wraps these into its own error-kind taxonomy; this package
// stays a plain library and only distinguishes "bad input" (Domain) from
// "internal arithmetic/ceremony failure" (KeyGen, Combine, Proof).
var (
	ErrDomain   = errors.New("paillier: value out of domain")
	ErrKeyGen   = errors.New("paillier: key generation failed")
	ErrCombine  = errors.New("paillier: threshold combine failed")
	ErrOverflow = errors.New("paillier: combined plaintext exceeds expected bound")
	ErrProof    = errors.New("paillier: zero-knowledge proof invalid")
)
