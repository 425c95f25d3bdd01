package tally

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	big "github.com/ncw/gmp"

	"github.com/vericount/tallycore/crypto"
	"github.com/vericount/tallycore/crypto/paillier"
)

// VerificationHash computes the canonical result hash: SHA-256 over the
// concatenation (no separators) of fixed-width big-endian byte strings of
// election_id (16 bytes), n, each C_j (candidate order), each tally count
// (8 bytes, big-endian), and the sorted trustee index list (1-byte length
// prefix, 1 byte per index).
func VerificationHash(electionID string, n *big.Int, ciphertexts []*paillier.Ciphertext, tally []int64, trusteeIndices []int) (string, error) {
	idBytes, err := electionIDBytes(electionID)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write(idBytes[:])

	nWidth := crypto.ByteWidth(n)
	h.Write(crypto.FixedWidth(n, nWidth))

	nSquared := new(big.Int).Mul(n, n)
	cWidth := crypto.ByteWidth(nSquared)
	for _, c := range ciphertexts {
		h.Write(crypto.FixedWidth(c.C, cWidth))
	}

	for _, count := range tally {
		var buf [8]byte
		putUint64BE(buf[:], uint64(count))
		h.Write(buf[:])
	}

	sorted := append([]int(nil), trusteeIndices...)
	sort.Ints(sorted)
	if len(sorted) > 255 {
		return "", fmt.Errorf("%w: too many trustee indices for a 1-byte length prefix", ErrDomain)
	}
	h.Write([]byte{byte(len(sorted))})
	for _, idx := range sorted {
		if idx < 0 || idx > 255 {
			return "", fmt.Errorf("%w: trustee index %d does not fit in one byte", ErrDomain, idx)
		}
		h.Write([]byte{byte(idx)})
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func putUint64BE(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// electionIDBytes parses a UUID-formatted (8-4-4-4-12 hex, dashed) election
// ID into its 16-byte representation.
func electionIDBytes(id string) (out [16]byte, err error) {
	clean := strings.ReplaceAll(id, "-", "")
	if len(clean) != 32 {
		return out, fmt.Errorf("%w: election id %q is not a valid UUID", ErrDomain, id)
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return out, fmt.Errorf("%w: election id %q is not valid hex: %v", ErrDomain, id, err)
	}
	copy(out[:], raw)
	return out, nil
}
