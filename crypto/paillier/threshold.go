package paillier

import (
	"fmt"

	big "github.com/ncw/gmp"

	"github.com/vericount/tallycore/crypto/random"
)

// This file implements a Shamir-style threshold decryption scheme where
// the secret shared is d = lambda*mu, the scalar with d = 0 mod lambda and
// d = 1 mod n (mu is lambda^-1 mod n when g = n+1). Raising a ciphertext
// to d cancels the randomness and leaves exactly (1+n)^m, so the combined
// value decodes to m itself rather than to lambda*m.
//
// Naively reducing Lagrange coefficients modulo some prime q and then
// using them as exponents in Z*_n^2 is not sound in general: the group's
// order is unrelated to q, so the reduction does not recover the intended
// value. The standard fix (Damgård-Jurik / Fouque-Poupard-Stern, and
// followed verbatim by the niclabs-tcpaillier reference implementation
// this was checked against) is:
//
//   - shares live in Z_(n*lambda), the order of the group the partial
//     decryptions are exponentiated in, not an arbitrary prime field;
//   - combination scales every Lagrange coefficient by Delta = N! (N =
//     total trustees) and computes it as an exact integer, never reduced
//     modulo anything, because Delta is divisible by every pairwise index
//     difference that could appear as a denominator;
//   - the finalization constant (4*Delta^2)^-1 mod n is public and
//     requires no knowledge of lambda.

// Threshold holds the public parameters of a (K, N) threshold ceremony.
type Threshold struct {
	*PublicKey
	K, N     int
	Delta    *big.Int // N!
	Constant *big.Int // (4*Delta^2)^-1 mod n (the modulus), applied at combine time
	V        *big.Int // Shoup commitment base, random square mod n^2
	Vi       []*big.Int
}

// Share is one trustee's secret share of d = lambda*mu.
type Share struct {
	*Threshold
	Index int // 1..N
	Si    *big.Int
}

// polynomial is a degree-(deg) polynomial over Z, coefficients low-to-high.
type polynomial []*big.Int

func (p polynomial) eval(x, mod *big.Int) *big.Int {
	result := big.NewInt(0)
	xPow := big.NewInt(1)
	tmp := new(big.Int)
	for _, c := range p {
		tmp.Mul(c, xPow)
		result.Add(result, tmp)
		result.Mod(result, mod)
		xPow.Mul(xPow, x)
		xPow.Mod(xPow, mod)
	}
	return result
}

func factorial(n int) *big.Int {
	f := big.NewInt(1)
	for i := int64(2); i <= int64(n); i++ {
		f.Mul(f, big.NewInt(i))
	}
	return f
}

// IssueShares splits the secret exponent d = sk.Lambda*sk.Mu into N shares
// with threshold K. d is the polynomial's constant term; shares are reduced
// modulo n*lambda (the group order partial decryptions operate in), not
// an arbitrary prime.
func IssueShares(sk *PrivateKey, k, n int) ([]*Share, error) {
	if k < 1 || k > n {
		return nil, fmt.Errorf("%w: threshold K=%d must satisfy 1<=K<=N=%d", ErrDomain, k, n)
	}
	fieldMod := new(big.Int).Mul(sk.N, sk.Lambda)

	coeffs := make(polynomial, k)
	coeffs[0] = new(big.Int).Mul(sk.Lambda, sk.Mu)
	coeffs[0].Mod(coeffs[0], fieldMod)
	for i := 1; i < k; i++ {
		coeffs[i] = random.Int(fieldMod)
	}

	v := shoupBase(sk.NSquared, sk.N)
	delta := factorial(n)
	deltaSquared := new(big.Int).Mul(delta, delta)
	four := big.NewInt(4)
	constant := new(big.Int).Mul(four, deltaSquared)
	constant.ModInverse(constant, sk.N)
	if constant == nil {
		return nil, fmt.Errorf("%w: 4*delta^2 not invertible mod n", ErrKeyGen)
	}

	t := &Threshold{
		PublicKey: sk.PublicKey,
		K:         k,
		N:         n,
		Delta:     delta,
		Constant:  constant,
		V:         v,
		Vi:        make([]*big.Int, n),
	}

	shares := make([]*Share, n)
	for i := 0; i < n; i++ {
		index := i + 1
		si := coeffs.eval(big.NewInt(int64(index)), fieldMod)
		shares[i] = &Share{Threshold: t, Index: index, Si: si}
		deltaSi := new(big.Int).Mul(delta, si)
		t.Vi[i] = new(big.Int).Exp(v, deltaSi, sk.NSquared)
	}
	return shares, nil
}

// shoupBase samples a random quadratic residue in Z*_{n^2}, used as the
// commitment base for the Chaum-Pedersen proof in zkp.go.
func shoupBase(nSquared, n *big.Int) *big.Int {
	for {
		r := random.Int(nSquared)
		if r.Sign() == 0 {
			continue
		}
		if new(big.Int).GCD(nil, nil, r, n).Cmp(bigOne) != 0 {
			continue
		}
		v := new(big.Int).Mul(r, r)
		v.Mod(v, nSquared)
		return v
	}
}

// PartialDecryption is one trustee's contribution toward decrypting a
// single ciphertext.
type PartialDecryption struct {
	Index int
	D     *big.Int
}

// PartialDecrypt computes d = C^(2*Delta*Si) mod n^2, following (literally)
// niclabs-tcpaillier's KeyShare.PartialDecryption.
func (s *Share) PartialDecrypt(ct *Ciphertext) *PartialDecryption {
	exp := new(big.Int).Mul(big.NewInt(2), s.Delta)
	exp.Mul(exp, s.Si)
	d := new(big.Int).Exp(ct.C, exp, s.NSquared)
	return &PartialDecryption{Index: s.Index, D: d}
}

// Combine reconstructs the plaintext from K or more partial decryptions,
// using the Delta-scaled integer Lagrange construction derived above.
func Combine(t *Threshold, parts []*PartialDecryption) (*big.Int, error) {
	if len(parts) < t.K {
		return nil, fmt.Errorf("%w: have %d partial decryptions, need >= %d", ErrCombine, len(parts), t.K)
	}
	seen := map[int]bool{}
	indices := make([]int, 0, len(parts))
	for _, p := range parts {
		if seen[p.Index] {
			return nil, fmt.Errorf("%w: duplicate trustee index %d", ErrCombine, p.Index)
		}
		seen[p.Index] = true
		indices = append(indices, p.Index)
	}

	combined := big.NewInt(1)
	for _, p := range parts {
		lambda0, err := scaledLagrangeCoefficientAtZero(t.Delta, p.Index, indices)
		if err != nil {
			return nil, err
		}
		exp := new(big.Int).Mul(big.NewInt(2), lambda0)
		factor := new(big.Int)
		if exp.Sign() >= 0 {
			factor.Exp(p.D, exp, t.NSquared)
		} else {
			inv := new(big.Int).ModInverse(p.D, t.NSquared)
			if inv == nil {
				return nil, fmt.Errorf("%w: partial decryption not invertible mod n^2", ErrCombine)
			}
			positive := new(big.Int).Neg(exp)
			factor.Exp(inv, positive, t.NSquared)
		}
		combined.Mul(combined, factor)
		combined.Mod(combined, t.NSquared)
	}

	plaintext := l(combined, t.PublicKey.N)
	plaintext.Mul(plaintext, t.Constant)
	plaintext.Mod(plaintext, t.PublicKey.N)
	return plaintext, nil
}

// scaledLagrangeCoefficientAtZero computes Delta * l_i(0) as an exact
// (possibly negative) integer, where l_i(0) = prod_{j in S, j!=i} j/(j-i).
// Because Delta = N! is divisible by every (j-i) that can occur (all
// indices are in [1, N]), the division below is always exact - this is
// precisely what avoids needing a modular inverse of (j-i).
func scaledLagrangeCoefficientAtZero(delta *big.Int, i int, indices []int) (*big.Int, error) {
	num := new(big.Int).Set(delta)
	den := big.NewInt(1)
	for _, j := range indices {
		if j == i {
			continue
		}
		num.Mul(num, big.NewInt(int64(-j)))
		den.Mul(den, big.NewInt(int64(i-j)))
	}
	q, r := new(big.Int), new(big.Int)
	q.QuoRem(num, den, r)
	if r.Sign() != 0 {
		return nil, fmt.Errorf("%w: scaled lagrange coefficient not an exact integer (implementation bug)", ErrCombine)
	}
	return q, nil
}
