package tally

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NoopPublisher is a reference BlockchainPublisher for tests and local
// demos: it derives a deterministic pseudo transaction hash from the
// election id and result hash instead of submitting anything to a real
// chain. The actual publication mechanism is left fully to an external
// system; this is not it.
type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, electionID, resultHash string) (string, error) {
	h := sha256.Sum256([]byte(fmt.Sprintf("tallycore:noop-publish:%s:%s", electionID, resultHash)))
	return "0x" + hex.EncodeToString(h[:]), nil
}
