package paillier

import (
	"testing"

	big "github.com/ncw/gmp"
)

// threshold sufficiency: combining any K-of-N partial decryptions
// recovers the same plaintext that direct decryption would.
func TestThresholdCombineMatchesDirectDecryption(t *testing.T) {
	sk := testKeyPair(t, 128)
	const k, n = 3, 5

	shares, err := IssueShares(sk, k, n)
	if err != nil {
		t.Fatalf("issue shares: %v", err)
	}

	plaintext := int64(17)
	ct, err := sk.Encrypt(big.NewInt(plaintext))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	direct, err := sk.Decrypt(ct)
	if err != nil {
		t.Fatalf("direct decrypt: %v", err)
	}
	if direct.Int64() != plaintext {
		t.Fatalf("sanity check failed: direct decrypt gave %s", direct.String())
	}

	subsets := [][]int{
		{0, 1, 2},
		{2, 3, 4},
		{0, 2, 4},
		{1, 2, 3, 4},
		{0, 1, 2, 3, 4},
	}
	for _, subset := range subsets {
		parts := make([]*PartialDecryption, len(subset))
		for i, idx := range subset {
			parts[i] = shares[idx].PartialDecrypt(ct)
		}
		combined, err := Combine(shares[0].Threshold, parts)
		if err != nil {
			t.Fatalf("combine %v: %v", subset, err)
		}
		if combined.Cmp(direct) != 0 {
			t.Fatalf("combine %v gave %s, expected %s", subset, combined.String(), direct.String())
		}
	}
}

func TestThresholdCombineRejectsTooFewShares(t *testing.T) {
	sk := testKeyPair(t, 128)
	shares, err := IssueShares(sk, 3, 5)
	if err != nil {
		t.Fatalf("issue shares: %v", err)
	}
	ct, _ := sk.Encrypt(big.NewInt(5))
	parts := []*PartialDecryption{
		shares[0].PartialDecrypt(ct),
		shares[1].PartialDecrypt(ct),
	}
	if _, err := Combine(shares[0].Threshold, parts); err == nil {
		t.Fatal("expected combine to fail with only K-1 shares")
	}
}

func TestThresholdCombineRejectsDuplicateIndex(t *testing.T) {
	sk := testKeyPair(t, 128)
	shares, err := IssueShares(sk, 2, 3)
	if err != nil {
		t.Fatalf("issue shares: %v", err)
	}
	ct, _ := sk.Encrypt(big.NewInt(5))
	p := shares[0].PartialDecrypt(ct)
	parts := []*PartialDecryption{p, p}
	if _, err := Combine(shares[0].Threshold, parts); err == nil {
		t.Fatal("expected combine to reject duplicate trustee index")
	}
}

func TestIssueSharesRejectsBadThreshold(t *testing.T) {
	sk := testKeyPair(t, 128)
	if _, err := IssueShares(sk, 0, 5); err == nil {
		t.Fatal("expected error for K=0")
	}
	if _, err := IssueShares(sk, 6, 5); err == nil {
		t.Fatal("expected error for K>N")
	}
}

// Homomorphic aggregation and threshold decryption compose: tallying via
// aggregate-then-combine must agree with aggregate-then-direct-decrypt.
func TestThresholdCombineAfterAggregation(t *testing.T) {
	sk := testKeyPair(t, 128)
	shares, err := IssueShares(sk, 2, 3)
	if err != nil {
		t.Fatalf("issue shares: %v", err)
	}

	votes := []int64{1, 0, 1, 1, 0}
	cts := make([]*Ciphertext, len(votes))
	var total int64
	for i, v := range votes {
		total += v
		ct, _ := sk.Encrypt(big.NewInt(v))
		cts[i] = ct
	}
	agg := Aggregate(sk.PublicKey, cts)

	parts := []*PartialDecryption{
		shares[0].PartialDecrypt(agg),
		shares[1].PartialDecrypt(agg),
	}
	combined, err := Combine(shares[0].Threshold, parts)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if combined.Int64() != total {
		t.Fatalf("expected total %d, got %s", total, combined.String())
	}
}
