package paillier

import (
	"fmt"

	big "github.com/ncw/gmp"
)

// Add performs a homomorphic addition in place: ct becomes E(m_ct + m_other).
// It mutates the receiver and is designed to be used as an accumulator:
//
//	agg := &Ciphertext{}
//	agg.Add(pk, c1) // first round just sets to c1
//	agg.Add(pk, c2) // now agg = E(m1 + m2)
func (ct *Ciphertext) Add(pk *PublicKey, other *Ciphertext) *Ciphertext {
	if ct.C == nil {
		ct.C = new(big.Int).Set(other.C)
		return ct
	}
	ct.C.Mul(ct.C, other.C)
	ct.C.Mod(ct.C, pk.NSquared)
	return ct
}

// Aggregate multiplies ciphertexts mod n^2, corresponding to summing their
// plaintexts. An empty input returns a deterministic encryption of zero,
// so an empty ballot set still aggregates to a well-formed ciphertext.
func Aggregate(pk *PublicKey, cts []*Ciphertext) *Ciphertext {
	if len(cts) == 0 {
		return pk.encryptWithRandomness(bigZero, bigOne)
	}
	agg := &Ciphertext{}
	for _, c := range cts {
		agg.Add(pk, c)
	}
	return agg
}

// HomomorphicAdd returns a new ciphertext encrypting m1+m2 mod n, leaving
// both inputs unmodified.
func HomomorphicAdd(pk *PublicKey, c1, c2 *Ciphertext) *Ciphertext {
	if c1 == nil || c1.C == nil || c2 == nil || c2.C == nil {
		panic(fmt.Errorf("%w: nil ciphertext passed to HomomorphicAdd", ErrDomain))
	}
	out := &Ciphertext{C: new(big.Int).Set(c1.C)}
	out.C.Mul(out.C, c2.C)
	out.C.Mod(out.C, pk.NSquared)
	return out
}

func (ct *Ciphertext) Equals(other *Ciphertext) bool {
	if ct.C == nil || other == nil || other.C == nil {
		return ct.C == nil && (other == nil || other.C == nil)
	}
	return ct.C.Cmp(other.C) == 0
}

func (ct *Ciphertext) String() string {
	return fmt.Sprintf("Ciphertext[C=%s]", ct.C)
}
