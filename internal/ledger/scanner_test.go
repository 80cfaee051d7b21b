package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"votechain.mini/vcm/internal/types"
)

// sealedChain returns a genesis block plus one block per vote.
func sealedChain(t *testing.T) ([]types.Block, *Ledger) {
	t.Helper()
	l := newTestLedger(t, &fakeStore{}, testOptions())
	ctx := context.Background()
	for _, v := range []struct{ voter, sel string }{{"v1", "A"}, {"v2", "B"}, {"v3", "A"}} {
		_, err := l.RecordVote(ctx, "p1", v.voter, v.sel)
		require.NoError(t, err)
	}
	chain := l.Chain()
	require.Len(t, chain, 4)
	return chain, l
}

func chainErr(t *testing.T, err error) *ChainError {
	t.Helper()
	require.ErrorIs(t, err, ErrInvalidChain)
	var ce *ChainError
	require.True(t, errors.As(err, &ce))
	return ce
}

func TestScannerVerifyAcceptsSealedChain(t *testing.T) {
	chain, l := sealedChain(t)
	s := NewScanner(chain, l.Work())
	assert.NoError(t, s.Verify())
	assert.Equal(t, 4, s.Len())
}

func TestScannerVerifyEmpty(t *testing.T) {
	assert.ErrorIs(t, NewScanner(nil, nil).Verify(), ErrEmptyChain)
}

func TestScannerVerifyFindsFirstBadBlock(t *testing.T) {
	cases := []struct {
		name   string
		tamper func(t *testing.T, chain []types.Block, l *Ledger)
		index  int64
	}{
		{
			name:   "genesis sentinel",
			tamper: func(t *testing.T, c []types.Block, l *Ledger) { c[0].PreviousHash = "0" },
			index:  1,
		},
		{
			name:   "genesis proof",
			tamper: func(t *testing.T, c []types.Block, l *Ledger) { c[0].Proof = 101 },
			index:  1,
		},
		{
			name:   "index gap",
			tamper: func(t *testing.T, c []types.Block, l *Ledger) { c[2].Index = 7 },
			index:  3,
		},
		{
			name:   "edited vote",
			tamper: func(t *testing.T, c []types.Block, l *Ledger) { c[1].Transactions[0].Selection = "B" },
			index:  3,
		},
		{
			name: "bad proof",
			tamper: func(t *testing.T, c []types.Block, l *Ledger) {
				p := c[1].Proof + 1
				for l.Work().Valid(c[0].Proof, p) {
					p++
				}
				c[1].Proof = p
			},
			index: 2,
		},
		{
			name: "clock skew",
			tamper: func(t *testing.T, c []types.Block, l *Ledger) {
				c[2].Timestamp = c[1].Timestamp.Add(-time.Second)
			},
			index: 3,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chain, l := sealedChain(t)
			tc.tamper(t, chain, l)
			ce := chainErr(t, NewScanner(chain, l.Work()).Verify())
			assert.Equal(t, tc.index, ce.Index, ce.Reason)
		})
	}
}

func TestScannerWithoutWorkSkipsProofs(t *testing.T) {
	chain, l := sealedChain(t)
	p := chain[3].Proof + 1
	for l.Work().Valid(chain[2].Proof, p) {
		p++
	}
	chain[3].Proof = p

	assert.NoError(t, NewScanner(chain, nil).Verify())
	assert.Error(t, NewScanner(chain, l.Work()).Verify())
}

func TestScannerTallyIgnoresOtherPollsAndUnknownOptions(t *testing.T) {
	chain, _ := sealedChain(t)
	chain = append(chain, types.Block{
		Index: 5,
		Transactions: []types.Transaction{
			{PollID: "p2", VoterKey: "v9", Selection: "A"},
			{PollID: "p1", VoterKey: "v8", Selection: "Z"},
		},
	})

	s := NewScanner(chain, nil)
	counts, total := s.Tally("p1", []string{"A", "B", "C"})
	assert.Equal(t, map[string]int{"A": 2, "B": 1, "C": 0}, counts)
	assert.Equal(t, 3, total)

	assert.True(t, s.HasVoted("p1", "v8"), "off-list selections still count as voted")
	assert.False(t, s.HasVoted("p2", "v1"))
}
