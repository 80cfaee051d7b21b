package voting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"votechain.mini/vcm/internal/ledger"
	"votechain.mini/vcm/internal/polls"
	"votechain.mini/vcm/internal/store"
	"votechain.mini/vcm/internal/types"
)

func setupService(t *testing.T, opts Options) (*Service, types.Poll) {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	lopts := ledger.DefaultOptions()
	lopts.Difficulty = 1
	l, err := ledger.New(ctx, mem, lopts)
	require.NoError(t, err)

	reg, err := polls.NewRegistry(ctx, mem, nil)
	require.NoError(t, err)

	p, err := reg.Create(ctx, polls.CreateRequest{
		Question: "Colour?",
		Options:  []string{"A", "B", "C"},
		Voters:   []string{"v1", "v2", "v3", "v4"},
	})
	require.NoError(t, err)

	return New(reg, l, opts, nil), p
}

func TestCastAndResults(t *testing.T) {
	svc, p := setupService(t, Options{})
	ctx := context.Background()

	for voter, sel := range map[string]string{"v1": "A", "v2": "B", "v3": "A"} {
		receipt, err := svc.Cast(ctx, p.ID, voter, sel)
		require.NoError(t, err)
		assert.False(t, receipt.Pending)
		assert.Len(t, receipt.BlockHash, 64)
	}
	assert.Equal(t, 4, svc.Ledger().ChainLength())

	res, err := svc.Results(p.ID, p.CreatorID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 2, "B": 1, "C": 0}, res.Results)
	assert.Equal(t, 3, res.TotalVotes)
	assert.True(t, res.IsActive)
	assert.Equal(t, "Colour?", res.Question)
}

func TestCastErrors(t *testing.T) {
	svc, p := setupService(t, Options{})
	ctx := context.Background()

	_, err := svc.Cast(ctx, "nope", "v1", "A")
	assert.ErrorIs(t, err, polls.ErrPollNotFound)

	_, err = svc.Cast(ctx, p.ID, "stranger", "A")
	assert.ErrorIs(t, err, polls.ErrNotEligible)

	_, err = svc.Cast(ctx, p.ID, "v1", "Z")
	assert.ErrorIs(t, err, polls.ErrInvalidSelection)

	_, err = svc.Cast(ctx, p.ID, "v1", "A")
	require.NoError(t, err)
	_, err = svc.Cast(ctx, p.ID, "v1", "B")
	assert.ErrorIs(t, err, ledger.ErrAlreadyVoted)

	_, err = svc.Polls().End(ctx, p.ID, p.CreatorID)
	require.NoError(t, err)
	_, err = svc.Cast(ctx, p.ID, "v2", "A")
	assert.ErrorIs(t, err, polls.ErrPollClosed)

	// Rejected casts never reach the chain.
	assert.Equal(t, 2, svc.Ledger().ChainLength())
}

func TestResultsAccess(t *testing.T) {
	svc, p := setupService(t, Options{})

	_, err := svc.Results(p.ID, "")
	assert.ErrorIs(t, err, polls.ErrForbidden)

	_, err = svc.Results(p.ID, "wrong")
	assert.ErrorIs(t, err, polls.ErrForbidden)

	_, err = svc.Polls().End(context.Background(), p.ID, p.CreatorID)
	require.NoError(t, err)

	res, err := svc.Results(p.ID, "")
	require.NoError(t, err)
	assert.False(t, res.IsActive)
	assert.Equal(t, 0, res.TotalVotes)
}

func TestVoterKeyHashing(t *testing.T) {
	plain, _ := setupService(t, Options{})
	assert.Equal(t, "v1", plain.VoterKey("p", "v1"))

	hashed, p := setupService(t, Options{HashVoterIDs: true, VoterSalt: "pepper"})
	k1 := hashed.VoterKey("p", "v1")
	assert.Len(t, k1, 64)
	assert.Equal(t, k1, hashed.VoterKey("p", "v1"))
	assert.NotEqual(t, k1, hashed.VoterKey("q", "v1"))
	assert.NotEqual(t, k1, hashed.VoterKey("p", "v2"))
	// Separators keep ("ab","c") and ("a","bc") apart.
	assert.NotEqual(t, hashed.VoterKey("ab", "c"), hashed.VoterKey("a", "bc"))

	ctx := context.Background()
	_, err := hashed.Cast(ctx, p.ID, "v1", "A")
	require.NoError(t, err)
	assert.True(t, hashed.HasVoted(p.ID, "v1"))

	last, err := hashed.Ledger().LastBlock()
	require.NoError(t, err)
	require.Len(t, last.Transactions, 1)
	assert.Equal(t, hashed.VoterKey(p.ID, "v1"), last.Transactions[0].VoterKey)
	assert.NotContains(t, last.Transactions[0].VoterKey, "v1")
}

func TestResultsCacheFollowsChain(t *testing.T) {
	svc, p := setupService(t, Options{ResultsTTL: time.Minute})
	ctx := context.Background()

	_, err := svc.Cast(ctx, p.ID, "v1", "A")
	require.NoError(t, err)

	first, err := svc.Results(p.ID, p.CreatorID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalVotes)

	// Mutating a returned map must not leak into the cache.
	first.Results["A"] = 99
	again, err := svc.Results(p.ID, p.CreatorID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Results["A"])

	_, err = svc.Cast(ctx, p.ID, "v2", "B")
	require.NoError(t, err)
	after, err := svc.Results(p.ID, p.CreatorID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.TotalVotes)
}

func TestConcurrentCastsSameVoter(t *testing.T) {
	svc, p := setupService(t, Options{HashVoterIDs: true})
	ctx := context.Background()

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Cast(ctx, p.ID, "v1", "A"); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ledger.ErrAlreadyVoted)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	_, total := svc.Ledger().Tally(p.ID, p.Options)
	assert.Equal(t, 1, total)
}
