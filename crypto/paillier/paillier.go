// Package paillier implements the additively-homomorphic Paillier
// cryptosystem together with a Damgård-Jurik / Fouque-Poupard-Stern style
// threshold decryption scheme (see threshold.go).
//
// The struct shapes are a PublicKey/PrivateKey pair plus a mutating
// Ciphertext accumulator for homomorphic addition.
package paillier

import (
	"context"
	"fmt"

	big "github.com/ncw/gmp"

	"github.com/vericount/tallycore/crypto/random"
)

var (
	bigZero = big.NewInt(0)
	bigOne  = big.NewInt(1)
)

// MinKeyBits is the minimum modulus size this package will generate or
// accept.
const MinKeyBits = 2048

// PublicKey is a Paillier public key (n, g) with g fixed to n+1, the usual
// Damgård-Jurik simplification.
type PublicKey struct {
	N        *big.Int
	G        *big.Int
	NSquared *big.Int
}

// NewPublicKey derives the G and NSquared fields from N.
func NewPublicKey(n *big.Int) *PublicKey {
	pk := &PublicKey{N: n}
	pk.G = new(big.Int).Add(n, bigOne)
	pk.NSquared = new(big.Int).Mul(n, n)
	return pk
}

// Validate checks the public key is internally consistent.
func (pk *PublicKey) Validate() error {
	if pk.N == nil || pk.N.Cmp(bigZero) <= 0 {
		return fmt.Errorf("%w: n must be positive", ErrDomain)
	}
	if pk.N.BitLen() < MinKeyBits {
		return fmt.Errorf("%w: n is only %d bits, need >= %d", ErrDomain, pk.N.BitLen(), MinKeyBits)
	}
	expectG := new(big.Int).Add(pk.N, bigOne)
	if pk.G == nil || pk.G.Cmp(expectG) != 0 {
		return fmt.Errorf("%w: g must equal n+1", ErrDomain)
	}
	expectNSq := new(big.Int).Mul(pk.N, pk.N)
	if pk.NSquared == nil || pk.NSquared.Cmp(expectNSq) != 0 {
		return fmt.Errorf("%w: n_squared must equal n*n", ErrDomain)
	}
	return nil
}

// PrivateKey is a Paillier private key (lambda, mu). It is held in memory
// only for the duration of key generation and threshold share issuance;
// callers must Zeroize it afterwards.
type PrivateKey struct {
	*PublicKey
	Lambda *big.Int
	Mu     *big.Int
}

// Zeroize overwrites the secret material in place. It does not prevent the
// Go runtime from having copied the big.Int words elsewhere, but it removes
// the one long-lived reference the ceremony holds.
func (sk *PrivateKey) Zeroize() {
	if sk.Lambda != nil {
		sk.Lambda.SetInt64(0)
	}
	if sk.Mu != nil {
		sk.Mu.SetInt64(0)
	}
}

// l is the Paillier L-function: L(x) = (x-1)/n.
func l(x, n *big.Int) *big.Int {
	t := new(big.Int).Sub(x, bigOne)
	t.Div(t, n)
	return t
}

// maxPrimeAttempts bounds the retry loop key generation uses to find a
// valid (p, q) pair before failing with ErrKeyGen.
const maxPrimeAttempts = 64

// GenerateKeyPair samples two distinct primes of bits/2 bits each and
// derives the Paillier key pair: n = p*q, g = n+1, lambda = lcm(p-1, q-1),
// mu = L(g^lambda mod n^2)^-1 mod n. ctx is checked at each retry attempt,
// so a long-running ceremony can be cancelled before it finds a key.
func GenerateKeyPair(ctx context.Context, bits int) (*PrivateKey, error) {
	if bits < MinKeyBits {
		return nil, fmt.Errorf("%w: requested %d bits, need >= %d", ErrDomain, bits, MinKeyBits)
	}
	return generateKeyPair(ctx, bits)
}

// GenerateKeyPairInsecure skips the MinKeyBits floor so package tests
// outside crypto/paillier (tally/engine_test.go in particular) can exercise
// full key generation, sharing and combination without paying for a
// production-sized modulus on every test run. Never call this from
// non-test code.
func GenerateKeyPairInsecure(ctx context.Context, bits int) (*PrivateKey, error) {
	return generateKeyPair(ctx, bits)
}

func generateKeyPair(ctx context.Context, bits int) (*PrivateKey, error) {
	for attempt := 0; attempt < maxPrimeAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, q := random.DistinctPrimePair(bits)
		n := new(big.Int).Mul(p, q)
		if n.BitLen() < bits {
			// unlucky high-bit cancellation; retry rather than silently
			// accepting an undersized modulus.
			continue
		}
		pMinus1 := new(big.Int).Sub(p, bigOne)
		qMinus1 := new(big.Int).Sub(q, bigOne)
		gcd := new(big.Int).GCD(nil, nil, pMinus1, qMinus1)
		lambda := new(big.Int).Mul(pMinus1, qMinus1)
		lambda.Div(lambda, gcd) // lcm(p-1, q-1)

		pk := NewPublicKey(n)
		lg := new(big.Int).Exp(pk.G, lambda, pk.NSquared)
		ll := l(lg, n)
		mu := new(big.Int).ModInverse(ll, n)
		if mu == nil {
			// L(g^lambda) was not invertible mod n; vanishingly rare for
			// g=n+1, but retry rather than return a broken key.
			continue
		}
		return &PrivateKey{PublicKey: pk, Lambda: lambda, Mu: mu}, nil
	}
	return nil, fmt.Errorf("%w: exhausted %d attempts", ErrKeyGen, maxPrimeAttempts)
}

// Ciphertext is a single Paillier ciphertext, c = g^m * r^n mod n^2.
type Ciphertext struct {
	C *big.Int
}

// Encrypt returns a fresh, probabilistic encryption of m under pk.
// Requires 0 <= m < n.
func (pk *PublicKey) Encrypt(m *big.Int) (*Ciphertext, error) {
	if m.Sign() < 0 || m.Cmp(pk.N) >= 0 {
		return nil, fmt.Errorf("%w: plaintext out of range [0, n)", ErrDomain)
	}
	r := nonZeroCoprimeUnit(pk.N)
	return pk.encryptWithRandomness(m, r), nil
}

// encryptWithRandomness is split out so tests can pin r for reproducible
// vectors; production callers always go through Encrypt.
func (pk *PublicKey) encryptWithRandomness(m, r *big.Int) *Ciphertext {
	gm := new(big.Int).Exp(pk.G, m, pk.NSquared)
	rn := new(big.Int).Exp(r, pk.N, pk.NSquared)
	c := new(big.Int).Mul(gm, rn)
	c.Mod(c, pk.NSquared)
	return &Ciphertext{C: c}
}

// nonZeroCoprimeUnit samples a uniform r in Z*_n.
func nonZeroCoprimeUnit(n *big.Int) *big.Int {
	for {
		r := random.Int(n)
		if r.Sign() == 0 {
			continue
		}
		if new(big.Int).GCD(nil, nil, r, n).Cmp(bigOne) == 0 {
			return r
		}
	}
}

// Decrypt recovers the plaintext m = L(c^lambda mod n^2) * mu mod n.
func (sk *PrivateKey) Decrypt(ct *Ciphertext) (*big.Int, error) {
	if ct == nil || ct.C == nil {
		return nil, fmt.Errorf("%w: nil ciphertext", ErrDomain)
	}
	if ct.C.Sign() <= 0 || ct.C.Cmp(sk.NSquared) >= 0 {
		return nil, fmt.Errorf("%w: ciphertext out of range [1, n^2)", ErrDomain)
	}
	cl := new(big.Int).Exp(ct.C, sk.Lambda, sk.NSquared)
	m := l(cl, sk.N)
	m.Mul(m, sk.Mu)
	m.Mod(m, sk.N)
	return m, nil
}
