package tally

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"io"
)

// canonicalJSON re-encodes a value through an intermediate map so its keys
// come out sorted, giving a deterministic byte representation suitable for
// hashing or signing.
type canonicalJSON struct{}

func (c canonicalJSON) Encode(out io.Writer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var t interface{}
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	return enc.Encode(t)
}

func (c canonicalJSON) Hash(v interface{}) ([]byte, error) {
	h := sha256.New()
	if err := c.Encode(h, v); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// CanonicalBytes returns v's canonical (sorted-key) JSON encoding, used by
// the audit log to record a stable Details payload and by the auditor
// command to print reproducible output.
func CanonicalBytes(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := (canonicalJSON{}).Encode(&buf, v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
