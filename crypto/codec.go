// Package crypto holds the wire-encoding helpers shared by the Paillier and
// tallying packages: fixed-width big-endian byte encoding for the
// verification hash, and base64 encoding for JSON wire payloads.
package crypto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	big "github.com/ncw/gmp"
)

// FixedWidth returns x encoded as big-endian bytes, left-padded with zeros
// to exactly width bytes. Panics if x does not fit (callers size width from
// a known modulus, so this indicates a programmer error, not bad input).
func FixedWidth(x *big.Int, width int) []byte {
	raw := x.Bytes()
	if len(raw) > width {
		panic(fmt.Sprintf("crypto: value does not fit in %d bytes", width))
	}
	out := make([]byte, width)
	copy(out[width-len(raw):], raw)
	return out
}

// ByteWidth returns the number of bytes needed to hold any value in [0, n),
// i.e. ceil(log2(n) / 8).
func ByteWidth(n *big.Int) int {
	return (n.BitLen() + 7) / 8
}

// BigIntToJSON encodes x as unpadded base64url, the wire convention used
// for arbitrary-precision integers throughout this package.
func BigIntToJSON(x *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(x.Bytes())
}

// BigIntFromJSON decodes a value produced by BigIntToJSON.
func BigIntFromJSON(s string) (*big.Int, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("expecting unpadded base64url encoded data, got: %s", s)
	}
	return new(big.Int).SetBytes(b), nil
}

// FixedWidthToJSON encodes x as base64url of its fixed-width big-endian
// representation, as spec'd for ciphertext wire serialization.
func FixedWidthToJSON(x *big.Int, width int) string {
	return base64.RawURLEncoding.EncodeToString(FixedWidth(x, width))
}

// FixedWidthFromJSON decodes a value produced by FixedWidthToJSON.
func FixedWidthFromJSON(s string) (*big.Int, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("expecting unpadded base64url encoded data, got: %s", s)
	}
	return new(big.Int).SetBytes(b), nil
}

// BigIntSlice is a JSON-marshalable vector of arbitrary-precision integers,
// used for ballot/tally vectors where candidate order is significant.
type BigIntSlice []*big.Int

func (s BigIntSlice) MarshalJSON() ([]byte, error) {
	strs := make([]string, len(s))
	for i, n := range s {
		strs[i] = BigIntToJSON(n)
	}
	return json.Marshal(strs)
}

func (s *BigIntSlice) UnmarshalJSON(b []byte) error {
	var strs []string
	if err := json.Unmarshal(b, &strs); err != nil {
		return err
	}
	bs := make(BigIntSlice, len(strs))
	for i := range strs {
		n, err := BigIntFromJSON(strs[i])
		if err != nil {
			return err
		}
		bs[i] = n
	}
	*s = bs
	return nil
}
