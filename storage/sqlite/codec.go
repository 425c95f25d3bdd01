package sqlite

import (
	"encoding/json"

	big "github.com/ncw/gmp"

	"github.com/vericount/tallycore/crypto"
	"github.com/vericount/tallycore/crypto/paillier"
)

// This file holds the JSON wire shapes used to persist the gmp-backed
// crypto types as SQLite TEXT blobs. gmp.Int has no JSON marshaling of its
// own, so each type gets a small mirror struct with
// crypto.BigIntToJSON/FromJSON string fields.

type publicKeyWire struct {
	N, G, NSquared string
}

func encodePublicKey(pk *paillier.PublicKey) publicKeyWire {
	return publicKeyWire{
		N:        crypto.BigIntToJSON(pk.N),
		G:        crypto.BigIntToJSON(pk.G),
		NSquared: crypto.BigIntToJSON(pk.NSquared),
	}
}

func decodePublicKey(w publicKeyWire) (*paillier.PublicKey, error) {
	n, err := crypto.BigIntFromJSON(w.N)
	if err != nil {
		return nil, err
	}
	return paillier.NewPublicKey(n), nil
}

type thresholdWire struct {
	PublicKey          publicKeyWire
	K, N               int
	Delta, Constant, V string
	Vi                 []string
}

func encodeThreshold(t *paillier.Threshold) thresholdWire {
	vi := make([]string, len(t.Vi))
	for i, v := range t.Vi {
		vi[i] = crypto.BigIntToJSON(v)
	}
	return thresholdWire{
		PublicKey: encodePublicKey(t.PublicKey),
		K:         t.K,
		N:         t.N,
		Delta:     crypto.BigIntToJSON(t.Delta),
		Constant:  crypto.BigIntToJSON(t.Constant),
		V:         crypto.BigIntToJSON(t.V),
		Vi:        vi,
	}
}

func decodeThreshold(w thresholdWire) (*paillier.Threshold, error) {
	pk, err := decodePublicKey(w.PublicKey)
	if err != nil {
		return nil, err
	}
	delta, err := crypto.BigIntFromJSON(w.Delta)
	if err != nil {
		return nil, err
	}
	constant, err := crypto.BigIntFromJSON(w.Constant)
	if err != nil {
		return nil, err
	}
	v, err := crypto.BigIntFromJSON(w.V)
	if err != nil {
		return nil, err
	}
	vi := make([]*big.Int, len(w.Vi))
	for i, s := range w.Vi {
		vi[i], err = crypto.BigIntFromJSON(s)
		if err != nil {
			return nil, err
		}
	}
	return &paillier.Threshold{PublicKey: pk, K: w.K, N: w.N, Delta: delta, Constant: constant, V: v, Vi: vi}, nil
}

func encodeCiphertexts(cts []*paillier.Ciphertext) ([]byte, error) {
	strs := make([]string, len(cts))
	for i, c := range cts {
		strs[i] = crypto.BigIntToJSON(c.C)
	}
	return json.Marshal(strs)
}

func decodeCiphertexts(b []byte) ([]*paillier.Ciphertext, error) {
	var strs []string
	if err := json.Unmarshal(b, &strs); err != nil {
		return nil, err
	}
	out := make([]*paillier.Ciphertext, len(strs))
	for i, s := range strs {
		c, err := crypto.BigIntFromJSON(s)
		if err != nil {
			return nil, err
		}
		out[i] = &paillier.Ciphertext{C: c}
	}
	return out, nil
}

type partialWire struct {
	Index int
	D     string
}

func encodePartials(parts []*paillier.PartialDecryption) ([]byte, error) {
	wire := make([]partialWire, len(parts))
	for i, p := range parts {
		wire[i] = partialWire{Index: p.Index, D: crypto.BigIntToJSON(p.D)}
	}
	return json.Marshal(wire)
}

func decodePartials(b []byte) ([]*paillier.PartialDecryption, error) {
	var wire []partialWire
	if err := json.Unmarshal(b, &wire); err != nil {
		return nil, err
	}
	out := make([]*paillier.PartialDecryption, len(wire))
	for i, w := range wire {
		d, err := crypto.BigIntFromJSON(w.D)
		if err != nil {
			return nil, err
		}
		out[i] = &paillier.PartialDecryption{Index: w.Index, D: d}
	}
	return out, nil
}

type proofWire struct {
	A, B, Challenge, Response string
}

func encodeProofs(proofs []*paillier.DecryptionProof) ([]byte, error) {
	wire := make([]proofWire, len(proofs))
	for i, p := range proofs {
		wire[i] = proofWire{
			A:         crypto.BigIntToJSON(p.A),
			B:         crypto.BigIntToJSON(p.B),
			Challenge: crypto.BigIntToJSON(p.Challenge),
			Response:  crypto.BigIntToJSON(p.Response),
		}
	}
	return json.Marshal(wire)
}

func decodeProofs(b []byte) ([]*paillier.DecryptionProof, error) {
	var wire []proofWire
	if err := json.Unmarshal(b, &wire); err != nil {
		return nil, err
	}
	out := make([]*paillier.DecryptionProof, len(wire))
	for i, w := range wire {
		a, err := crypto.BigIntFromJSON(w.A)
		if err != nil {
			return nil, err
		}
		bb, err := crypto.BigIntFromJSON(w.B)
		if err != nil {
			return nil, err
		}
		c, err := crypto.BigIntFromJSON(w.Challenge)
		if err != nil {
			return nil, err
		}
		r, err := crypto.BigIntFromJSON(w.Response)
		if err != nil {
			return nil, err
		}
		out[i] = &paillier.DecryptionProof{A: a, B: bb, Challenge: c, Response: r}
	}
	return out, nil
}
