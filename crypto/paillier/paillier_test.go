package paillier

import (
	"testing"

	big "github.com/ncw/gmp"

	"github.com/vericount/tallycore/crypto/random"
)

// testKeyPair builds a small (fast-to-generate) key pair for unit tests,
// bypassing GenerateKeyPair's 2048-bit floor.
func testKeyPair(t *testing.T, bits int) *PrivateKey {
	t.Helper()
	p, q := random.DistinctPrimePair(bits)
	n := new(big.Int).Mul(p, q)
	pMinus1 := new(big.Int).Sub(p, bigOne)
	qMinus1 := new(big.Int).Sub(q, bigOne)
	gcd := new(big.Int).GCD(nil, nil, pMinus1, qMinus1)
	lambda := new(big.Int).Mul(pMinus1, qMinus1)
	lambda.Div(lambda, gcd)

	pk := NewPublicKey(n)
	lg := new(big.Int).Exp(pk.G, lambda, pk.NSquared)
	mu := new(big.Int).ModInverse(l(lg, n), n)
	if mu == nil {
		t.Fatalf("unlucky prime choice, mu not invertible; rerun")
	}
	return &PrivateKey{PublicKey: pk, Lambda: lambda, Mu: mu}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sk := testKeyPair(t, 128)
	for _, m := range []int64{0, 1, 2, 17, 1000} {
		ct, err := sk.Encrypt(big.NewInt(m))
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}
		pt, err := sk.Decrypt(ct)
		if err != nil {
			t.Fatalf("decrypt failed: %v", err)
		}
		if pt.Int64() != m {
			t.Fatalf("round trip mismatch: encrypted %d, decrypted %s", m, pt.String())
		}
	}
}

// two encryptions of the same plaintext must differ with overwhelming
// probability, since encryption is probabilistic.
func TestEncryptionIsRandomized(t *testing.T) {
	sk := testKeyPair(t, 128)
	m := big.NewInt(42)
	seen := map[string]bool{}
	for i := 0; i < 8; i++ {
		ct, err := sk.Encrypt(m)
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}
		s := ct.C.String()
		if seen[s] {
			t.Fatalf("two encryptions of the same plaintext collided: %s", s)
		}
		seen[s] = true
	}
}

// homomorphic correctness under aggregation.
func TestHomomorphicAggregation(t *testing.T) {
	sk := testKeyPair(t, 128)
	values := []int64{0, 1, 2, 3, 4, 0, 5}
	var sum int64
	cts := make([]*Ciphertext, len(values))
	for i, v := range values {
		sum += v
		ct, err := sk.Encrypt(big.NewInt(v))
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}
		cts[i] = ct
	}
	agg := Aggregate(sk.PublicKey, cts)
	pt, err := sk.Decrypt(agg)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if pt.Int64() != sum {
		t.Fatalf("aggregate mismatch: expected %d got %s", sum, pt.String())
	}
}

func TestAggregateEmptyIsEncryptedZero(t *testing.T) {
	sk := testKeyPair(t, 128)
	agg := Aggregate(sk.PublicKey, nil)
	pt, err := sk.Decrypt(agg)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if pt.Sign() != 0 {
		t.Fatalf("expected E(0), decrypted to %s", pt.String())
	}
}

func TestHomomorphicAdd(t *testing.T) {
	sk := testKeyPair(t, 128)
	c1, _ := sk.Encrypt(big.NewInt(3))
	c2, _ := sk.Encrypt(big.NewInt(4))
	sum := HomomorphicAdd(sk.PublicKey, c1, c2)
	pt, err := sk.Decrypt(sum)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if pt.Int64() != 7 {
		t.Fatalf("expected 7, got %s", pt.String())
	}
}

func TestEncryptRejectsOutOfRangePlaintext(t *testing.T) {
	sk := testKeyPair(t, 128)
	_, err := sk.Encrypt(new(big.Int).Set(sk.N))
	if err == nil {
		t.Fatal("expected domain error for m == n")
	}
}

func TestValidateRejectsUndersizedModulus(t *testing.T) {
	sk := testKeyPair(t, 128)
	if err := sk.PublicKey.Validate(); err == nil {
		t.Fatal("expected validate to reject a key below the 2048-bit floor")
	}
}
