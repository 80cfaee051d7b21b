package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"votechain.mini/vcm/internal/types"
)

// canonicalTx and canonicalBlock pin the serialized field order. Struct
// fields marshal in declaration order, so the encoding never depends on map
// iteration.
type canonicalTx struct {
	PollID    string `json:"poll_id"`
	VoterKey  string `json:"voter_key"`
	Selection string `json:"selection"`
	Timestamp string `json:"timestamp"`
}

type canonicalBlock struct {
	Index        int64         `json:"index"`
	Timestamp    string        `json:"timestamp"`
	Transactions []canonicalTx `json:"transactions"`
	Proof        int64         `json:"proof"`
	PreviousHash string        `json:"previous_hash"`
}

// CanonicalTime formats t the way blocks are hashed and stored.
func CanonicalTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Canonical returns the canonical byte encoding of a block.
func Canonical(b types.Block) []byte {
	cb := canonicalBlock{
		Index:        b.Index,
		Timestamp:    CanonicalTime(b.Timestamp),
		Transactions: make([]canonicalTx, 0, len(b.Transactions)),
		Proof:        b.Proof,
		PreviousHash: b.PreviousHash,
	}
	for _, tx := range b.Transactions {
		cb.Transactions = append(cb.Transactions, canonicalTx{
			PollID:    tx.PollID,
			VoterKey:  tx.VoterKey,
			Selection: tx.Selection,
			Timestamp: CanonicalTime(tx.Timestamp),
		})
	}

	data, err := json.Marshal(cb)
	if err != nil {
		// Only strings and integers are encoded; this cannot fail.
		panic(fmt.Sprintf("canonical block encoding: %v", err))
	}
	return data
}

// Digest returns the lowercase hex SHA-256 of the canonical block encoding.
func Digest(b types.Block) string {
	sum := sha256.Sum256(Canonical(b))
	return hex.EncodeToString(sum[:])
}
