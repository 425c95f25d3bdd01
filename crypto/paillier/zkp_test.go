package paillier

import (
	"testing"

	big "github.com/ncw/gmp"
)

func TestDecryptionProofRoundTrip(t *testing.T) {
	sk := testKeyPair(t, 128)
	shares, err := IssueShares(sk, 2, 4)
	if err != nil {
		t.Fatalf("issue shares: %v", err)
	}
	ct, _ := sk.Encrypt(big.NewInt(9))

	for _, s := range shares {
		part := s.PartialDecrypt(ct)
		proof := s.Prove(ct, part)
		if err := VerifyPartial(s.Threshold, ct, s.Index, part, proof); err != nil {
			t.Fatalf("trustee %d: valid proof rejected: %v", s.Index, err)
		}
	}
}

// A tampered partial decryption must fail verification and must not be
// confused with a valid one.
func TestTamperedPartialDecryptionFailsVerification(t *testing.T) {
	sk := testKeyPair(t, 128)
	shares, err := IssueShares(sk, 2, 3)
	if err != nil {
		t.Fatalf("issue shares: %v", err)
	}
	ct, _ := sk.Encrypt(big.NewInt(3))

	s := shares[0]
	part := s.PartialDecrypt(ct)
	proof := s.Prove(ct, part)

	tampered := &PartialDecryption{Index: part.Index, D: new(big.Int).Add(part.D, bigOne)}
	if err := VerifyPartial(s.Threshold, ct, s.Index, tampered, proof); err == nil {
		t.Fatal("expected tampered partial decryption to fail verification")
	}
}

func TestProofRejectsWrongTrusteeIndex(t *testing.T) {
	sk := testKeyPair(t, 128)
	shares, err := IssueShares(sk, 2, 3)
	if err != nil {
		t.Fatalf("issue shares: %v", err)
	}
	ct, _ := sk.Encrypt(big.NewInt(3))

	a := shares[0]
	b := shares[1]
	partA := a.PartialDecrypt(ct)
	proofA := a.Prove(ct, partA)

	// proof for trustee A's partial, checked against trustee B's index/commitment
	if err := VerifyPartial(b.Threshold, ct, b.Index, partA, proofA); err == nil {
		t.Fatal("expected proof to be rejected against the wrong trustee's commitment")
	}
}
