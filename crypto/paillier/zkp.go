package paillier

import (
	"bytes"
	"fmt"

	big "github.com/ncw/gmp"

	"github.com/vericount/tallycore/crypto/random"
)

// DecryptionProof is a non-interactive Chaum-Pedersen proof that the same
// scaled share (Delta*Si) was used both in the trustee's published
// commitment Vi = V^(Delta*Si) and in the partial decryption
// d = C^(2*Delta*Si). The struct shape and Fiat-Shamir transcript follow the
// usual sigma-protocol pattern for proving equality of discrete logs, with
// the bases and modulus over Paillier's Z*_n^2 instead of a Schnorr group,
// following niclabs-tcpaillier's DecryptProof construction.
type DecryptionProof struct {
	A, B, Challenge, Response *big.Int
}

// witnessBound returns the exclusive upper bound of the random witness w used to blind the
// secret exponent Delta*Si. Because there is no prime-order field here (the
// challenge/response arithmetic is over the integers, not reduced modulo a
// field), w must be sampled from a range large enough to statistically hide
// Delta*Si; this follows niclabs-tcpaillier's `4*bitSize` convention,
// widened further to cover the SHA-256 challenge space.
func witnessBound(nSquared *big.Int) *big.Int {
	bits := nSquared.BitLen() + 256
	return new(big.Int).Lsh(bigOne, uint(bits))
}

// Prove builds a DecryptionProof for the partial decryption this share
// produced against ct.
func (s *Share) Prove(ct *Ciphertext, part *PartialDecryption) *DecryptionProof {
	cSquared := new(big.Int).Exp(ct.C, big.NewInt(2), s.NSquared)
	deltaSi := new(big.Int).Mul(s.Delta, s.Si)

	w := random.Int(witnessBound(s.NSquared))
	a := new(big.Int).Exp(s.V, w, s.NSquared)
	b := new(big.Int).Exp(cSquared, w, s.NSquared)

	challenge := proofChallenge(a, b, s.Vi[s.Index-1], part.D, cSquared)
	response := new(big.Int).Mul(deltaSi, challenge)
	response.Add(response, w)

	return &DecryptionProof{A: a, B: b, Challenge: challenge, Response: response}
}

func proofChallenge(a, b, vi, d, cSquared *big.Int) *big.Int {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tallycore:partial-decrypt:%x|%x|%x|%x|%x", a.Bytes(), b.Bytes(), vi.Bytes(), d.Bytes(), cSquared.Bytes())
	// the challenge space only needs to be large enough to make forgery
	// infeasible; a 256-bit modulus (matching the SHA-256 output) suffices.
	max := new(big.Int).Lsh(bigOne, 256)
	return random.Oracle(buf.Bytes(), max)
}

// VerifyPartial checks a DecryptionProof against the trustee's published
// commitment Vi and the partial decryption it claims to justify.
func VerifyPartial(t *Threshold, ct *Ciphertext, index int, part *PartialDecryption, proof *DecryptionProof) error {
	if index < 1 || index > len(t.Vi) {
		return fmt.Errorf("%w: trustee index %d out of range", ErrProof, index)
	}
	vi := t.Vi[index-1]
	cSquared := new(big.Int).Exp(ct.C, big.NewInt(2), t.NSquared)

	expectChallenge := proofChallenge(proof.A, proof.B, vi, part.D, cSquared)
	if expectChallenge.Cmp(proof.Challenge) != 0 {
		return fmt.Errorf("%w: challenge does not match transcript", ErrProof)
	}

	// check V^Response == A * Vi^Challenge (mod n^2)
	lhs := new(big.Int).Exp(t.V, proof.Response, t.NSquared)
	rhs := new(big.Int).Exp(vi, proof.Challenge, t.NSquared)
	rhs.Mul(rhs, proof.A)
	rhs.Mod(rhs, t.NSquared)
	if lhs.Cmp(rhs) != 0 {
		return fmt.Errorf("%w: V^response != A * Vi^challenge", ErrProof)
	}

	// check (C^2)^Response == B * d^Challenge (mod n^2)
	lhs.Exp(cSquared, proof.Response, t.NSquared)
	rhs.Exp(part.D, proof.Challenge, t.NSquared)
	rhs.Mul(rhs, proof.B)
	rhs.Mod(rhs, t.NSquared)
	if lhs.Cmp(rhs) != 0 {
		return fmt.Errorf("%w: (C^2)^response != B * d^challenge", ErrProof)
	}
	return nil
}
