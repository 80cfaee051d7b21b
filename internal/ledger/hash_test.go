package ledger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"votechain.mini/vcm/internal/types"
)

func sampleBlock() types.Block {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)
	return types.Block{
		Index:     2,
		Timestamp: ts,
		Transactions: []types.Transaction{
			{PollID: "p", VoterKey: "k", Selection: "A", Timestamp: ts},
		},
		Proof:        35293,
		PreviousHash: "abc",
	}
}

func TestDigestIsStable(t *testing.T) {
	b := sampleBlock()
	first := Digest(b)
	assert.Len(t, first, 64)
	assert.Equal(t, first, Digest(b))
	assert.Equal(t, first, Digest(b.Clone()))
}

func TestDigestIgnoresTimeZone(t *testing.T) {
	b := sampleBlock()
	other := b.Clone()
	loc := time.FixedZone("UTC+2", 2*60*60)
	other.Timestamp = b.Timestamp.In(loc)
	other.Transactions[0].Timestamp = b.Transactions[0].Timestamp.In(loc)
	assert.Equal(t, Digest(b), Digest(other))
}

func TestDigestChangesWithEveryField(t *testing.T) {
	base := Digest(sampleBlock())

	mutations := map[string]func(*types.Block){
		"index":         func(b *types.Block) { b.Index++ },
		"timestamp":     func(b *types.Block) { b.Timestamp = b.Timestamp.Add(time.Nanosecond) },
		"proof":         func(b *types.Block) { b.Proof++ },
		"previous hash": func(b *types.Block) { b.PreviousHash = "abd" },
		"poll":          func(b *types.Block) { b.Transactions[0].PollID = "q" },
		"voter":         func(b *types.Block) { b.Transactions[0].VoterKey = "j" },
		"selection":     func(b *types.Block) { b.Transactions[0].Selection = "B" },
		"tx time":       func(b *types.Block) { b.Transactions[0].Timestamp = time.Time{} },
		"extra tx": func(b *types.Block) {
			b.Transactions = append(b.Transactions, b.Transactions[0])
		},
		"no tx": func(b *types.Block) { b.Transactions = nil },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			b := sampleBlock()
			mutate(&b)
			assert.NotEqual(t, base, Digest(b))
		})
	}
}

func TestCanonicalFieldOrder(t *testing.T) {
	raw := Canonical(sampleBlock())

	want := `{"index":2,"timestamp":"2026-03-14T15:09:26.535897932Z","transactions":[{"poll_id":"p","voter_key":"k","selection":"A","timestamp":"2026-03-14T15:09:26.535897932Z"}],"proof":35293,"previous_hash":"abc"}`
	assert.Equal(t, want, string(raw))

	// The persisted JSON form of a block decodes back to the same digest.
	stored, err := json.Marshal(sampleBlock())
	require.NoError(t, err)
	var decoded types.Block
	require.NoError(t, json.Unmarshal(stored, &decoded))
	assert.Equal(t, Digest(sampleBlock()), Digest(decoded))
}

func TestNilAndEmptyTransactionsHashAlike(t *testing.T) {
	b := sampleBlock()
	b.Transactions = nil
	c := sampleBlock()
	c.Transactions = []types.Transaction{}
	assert.Equal(t, Digest(b), Digest(c))
}
