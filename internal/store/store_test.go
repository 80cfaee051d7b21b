package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"votechain.mini/vcm/internal/ledger"
	"votechain.mini/vcm/internal/types"
)

func openBackends(t *testing.T) map[string]func() Backend {
	t.Helper()
	dir := t.TempDir()
	mem := NewMemory()

	return map[string]func() Backend{
		BackendSQLite: func() Backend {
			s, err := NewSQLite(filepath.Join(dir, "sqlite", "chain.db"))
			require.NoError(t, err)
			return s
		},
		BackendLevelDB: func() Backend {
			s, err := NewLevelDB(filepath.Join(dir, "chain.ldb"))
			require.NoError(t, err)
			return s
		},
		BackendFile: func() Backend {
			s, err := NewFile(filepath.Join(dir, "file", "chain.json"))
			require.NoError(t, err)
			return s
		},
		BackendMemory: func() Backend { return mem },
	}
}

func testOptions() ledger.Options {
	opts := ledger.DefaultOptions()
	opts.Difficulty = 2
	return opts
}

func TestReloadReproducesChain(t *testing.T) {
	for name, open := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			s := open()
			l, err := ledger.New(ctx, s, testOptions())
			require.NoError(t, err)

			votes := []struct{ voter, selection string }{
				{"v1", "A"}, {"v2", "B"}, {"v3", "A"}, {"v4", "C"},
			}
			for _, v := range votes {
				_, err := l.RecordVote(ctx, "poll", v.voter, v.selection)
				require.NoError(t, err)
			}
			require.Equal(t, 5, l.ChainLength())
			want := l.Chain()
			require.NoError(t, s.Close())

			s = open()
			defer s.Close()
			reloaded, err := ledger.New(ctx, s, testOptions())
			require.NoError(t, err)

			got := reloaded.Chain()
			require.Len(t, got, len(want))
			for i := range want {
				assert.Equal(t, want[i], got[i], "block %d", i+1)
				assert.Equal(t, ledger.Digest(want[i]), ledger.Digest(got[i]))
			}

			results, total := reloaded.Tally("poll", []string{"A", "B", "C"})
			assert.Equal(t, map[string]int{"A": 2, "B": 1, "C": 1}, results)
			assert.Equal(t, 4, total)
			assert.True(t, reloaded.HasVoted("poll", "v3"))

			// The reloaded ledger keeps extending the same chain.
			_, err = reloaded.RecordVote(ctx, "poll", "v5", "B")
			require.NoError(t, err)
			assert.Equal(t, 6, reloaded.ChainLength())
			require.NoError(t, reloaded.Scan().Verify())
		})
	}
}

func TestPollsRoundTrip(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)

	for name, open := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()

			p := types.Poll{
				ID:             "p1",
				Question:       "Lunch?",
				Options:        []string{"pizza", "sushi"},
				EligibleVoters: []string{"alice", "bob"},
				CreatorID:      "secret",
				Active:         true,
				CreatedAt:      created,
			}
			require.NoError(t, s.SavePoll(ctx, p))

			p.Active = false
			p.ClosedAt = created.Add(time.Hour)
			require.NoError(t, s.SavePoll(ctx, p))
			require.NoError(t, s.Close())

			s = open()
			defer s.Close()
			polls, err := s.LoadPolls(ctx)
			require.NoError(t, err)
			require.Len(t, polls, 1)
			assert.Equal(t, p, polls[0])
		})
	}
}

func TestSaveRejectsDivergentChain(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	sq, err := NewSQLite(filepath.Join(dir, "chain.db"))
	require.NoError(t, err)
	defer sq.Close()
	ldb, err := NewLevelDB(filepath.Join(dir, "chain.ldb"))
	require.NoError(t, err)
	defer ldb.Close()

	for name, s := range map[string]Backend{BackendSQLite: sq, BackendLevelDB: ldb} {
		t.Run(name, func(t *testing.T) {
			l, err := ledger.New(ctx, s, testOptions())
			require.NoError(t, err)
			_, err = l.RecordVote(ctx, "poll", "v1", "A")
			require.NoError(t, err)

			chain := l.Chain()
			forged := append([]types.Block(nil), chain...)
			forged[1] = forged[1].Clone()
			forged[1].Transactions[0].Selection = "B"
			assert.Error(t, s.Save(ctx, forged))

			assert.Error(t, s.Save(ctx, chain[:1]), "shorter chain than stored")

			// Saving the same chain again is a no-op.
			require.NoError(t, s.Save(ctx, chain))
			if c, ok := s.(interface{ Compact() error }); ok {
				require.NoError(t, c.Compact())
			}
			loaded, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, chain, loaded)
		})
	}
}

func TestNewLevelDBRefusesCorruptManifest(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chain.ldb")

	s, err := NewLevelDB(path)
	require.NoError(t, err)
	l, err := ledger.New(ctx, s, testOptions())
	require.NoError(t, err)
	for _, v := range []string{"v1", "v2", "v3"} {
		_, err := l.RecordVote(ctx, "poll", v, "A")
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	manifests, err := filepath.Glob(filepath.Join(path, "MANIFEST-*"))
	require.NoError(t, err)
	require.NotEmpty(t, manifests)
	garbage := []byte("not a leveldb manifest")
	for _, m := range manifests {
		require.NoError(t, os.WriteFile(m, garbage, 0o600))
	}

	_, err = NewLevelDB(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrPersistence)

	for _, m := range manifests {
		data, err := os.ReadFile(m)
		require.NoError(t, err)
		assert.Equal(t, garbage, data, "manifest %s was rewritten", filepath.Base(m))
	}
}

func TestOpenBackends(t *testing.T) {
	dir := t.TempDir()

	for _, kind := range []string{BackendSQLite, BackendLevelDB, BackendFile, BackendMemory} {
		b, err := Open(kind, dir, "")
		require.NoError(t, err, kind)
		blocks, err := b.Load(context.Background())
		require.NoError(t, err, kind)
		assert.Empty(t, blocks, kind)
		require.NoError(t, b.Close(), kind)
	}

	_, err := Open("tape", dir, "")
	assert.Error(t, err)
}

func TestFileLoadsMissingFileAsEmpty(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "chain.json"))
	require.NoError(t, err)

	blocks, err := f.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, blocks)

	polls, err := f.LoadPolls(context.Background())
	require.NoError(t, err)
	assert.Empty(t, polls)
}

func TestMemoryDoesNotAlias(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	chain := []types.Block{{
		Index:        1,
		Transactions: []types.Transaction{{PollID: "p", VoterKey: "k", Selection: "A"}},
	}}
	require.NoError(t, m.Save(ctx, chain))

	chain[0].Transactions[0].Selection = "B"
	loaded, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", loaded[0].Transactions[0].Selection)
}
