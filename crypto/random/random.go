// Package random provides the entropy and deterministic-oracle primitives
// shared across the Paillier and threshold-decryption packages.
package random

import (
	"crypto/rand"
	"crypto/sha256"

	gbig "math/big"

	big "github.com/ncw/gmp"
)

// Int returns a uniform random integer in [0, max).
func Int(max *big.Int) *big.Int {
	r, err := rand.Int(rand.Reader, new(gbig.Int).SetBytes(max.Bytes()))
	if err != nil {
		// the rand.Reader is broken. Nothing we can do.
		panic(err)
	}
	return new(big.Int).SetBytes(r.Bytes())
}

// Oracle turns bytes into a random but deterministic integer in [0, max),
// used for Fiat-Shamir challenges.
func Oracle(input []byte, max *big.Int) *big.Int {
	h := sha256.Sum256(input)
	var x big.Int
	x.SetBytes(h[:])
	x.Mod(&x, max)
	return &x
}

// Prime returns a probable prime of the given bit length.
func Prime(bits int) *big.Int {
	p, err := rand.Prime(rand.Reader, bits)
	if err != nil {
		panic(err)
	}
	return new(big.Int).SetBytes(p.Bytes())
}

// DistinctPrimePair returns two distinct probable primes, each of bits/2
// length, suitable as Paillier factors (p != q, no safe-prime requirement -
// unlike the Schnorr-group case, Paillier needs only p != q).
func DistinctPrimePair(bits int) (p, q *big.Int) {
	half := bits / 2
	p = Prime(half)
	for {
		q = Prime(bits - half)
		if p.Cmp(q) != 0 {
			return p, q
		}
	}
}
