// Package ledger owns the vote chain: an ordered, hash-linked sequence of
// blocks where every block after genesis carries a proof-of-work solution
// against its predecessor's proof. The Ledger serializes all writers behind a
// single mutex so that "check the voter, then record the vote" is atomic, and
// hands the full chain to a Persister after every seal.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"votechain.mini/vcm/internal/logger"
	"votechain.mini/vcm/internal/pow"
	"votechain.mini/vcm/internal/types"
)

// Persister durably stores the block sequence. Load returns an empty slice
// when nothing has been persisted yet. Save receives the whole chain after
// every seal and must round-trip every field exactly.
type Persister interface {
	Load(ctx context.Context) ([]types.Block, error)
	Save(ctx context.Context, chain []types.Block) error
}

// Options tune a Ledger. Use DefaultOptions as the starting point.
type Options struct {
	Difficulty   int               // leading zero hex characters
	BatchSize    int               // votes per block; 1 seals a block per vote
	SolveTimeout time.Duration     // per-seal deadline, 0 for none
	OnSeal       func(types.Block) // called with a copy of every sealed block
	Logger       *logger.Logger
	Now          func() time.Time
}

// DefaultOptions returns one-block-per-vote at the default difficulty.
func DefaultOptions() Options {
	return Options{
		Difficulty: pow.DefaultDifficulty,
		BatchSize:  1,
	}
}

// Status is a point-in-time summary of the ledger.
type Status struct {
	ChainLength  int    `json:"chain_length"`
	PendingVotes int    `json:"pending_votes"`
	Difficulty   int    `json:"difficulty"`
	BatchSize    int    `json:"batch_size"`
	LastIndex    int64  `json:"last_index"`
	LastHash     string `json:"last_hash"`
	Degraded     bool   `json:"durability_degraded"`
	LastError    string `json:"last_error,omitempty"`
}

// Ledger is the process-wide vote chain.
type Ledger struct {
	mu      sync.RWMutex
	chain   []types.Block
	pending []types.Transaction
	index   *voteIndex
	work    *pow.Work
	store   Persister
	opts    Options
	log     *logger.Logger
	saveErr error // last failed save, nil once a later save succeeds
}

// New loads the persisted chain, validating it block by block, or creates
// and saves the genesis block when the store is empty.
func New(ctx context.Context, store Persister, opts Options) (*Ledger, error) {
	work, err := pow.New(opts.Difficulty)
	if err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard(50)
	}

	l := &Ledger{
		index: newVoteIndex(),
		work:  work,
		store: store,
		opts:  opts,
		log:   opts.Logger,
	}

	blocks, err := store.Load(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}

	if len(blocks) == 0 {
		genesis := types.Block{
			Index:        1,
			Timestamp:    l.now(),
			Transactions: []types.Transaction{},
			Proof:        types.GenesisProof,
			PreviousHash: types.GenesisPreviousHash,
		}
		l.chain = []types.Block{genesis}
		if err := store.Save(ctx, l.chain); err != nil {
			l.saveErr = &PersistenceError{Op: "save", Err: err}
			l.log.Errorf("Genesis block not persisted, durability degraded: %v", err)
		}
		l.log.Info("Created genesis block")
		return l, nil
	}

	if err := NewScanner(blocks, work).Verify(); err != nil {
		return nil, fmt.Errorf("verify loaded chain: %w", err)
	}
	l.chain = blocks
	for _, b := range blocks {
		l.index.addBlock(b)
	}
	l.log.Infof("Loaded chain with %d blocks", len(blocks))
	return l, nil
}

// now returns a UTC wall-clock time without a monotonic reading, never
// earlier than the current chain head.
func (l *Ledger) now() time.Time {
	t := l.opts.Now().UTC()
	if n := len(l.chain); n > 0 && t.Before(l.chain[n-1].Timestamp) {
		t = l.chain[n-1].Timestamp
	}
	return t
}

// RecordVote buffers a vote and, under the default policy, seals it into a
// new block immediately. It returns the index of the block holding the vote
// (or, when batching, the block that will hold it). No validation is done;
// callers must have authorized the vote and checked HasVoted.
//
// If the store fails after sealing, the vote is kept in memory and the
// returned error matches ErrPersistence.
func (l *Ledger) RecordVote(ctx context.Context, pollID, voterKey, selection string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recordLocked(ctx, pollID, voterKey, selection)
}

// CastVote is the atomic check-then-record: the duplicate check and the seal
// run under one lock, so two concurrent casts for the same voter record
// exactly one vote.
func (l *Ledger) CastVote(ctx context.Context, pollID, voterKey, selection string) (types.VoteReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hasVotedLocked(pollID, voterKey) {
		return types.VoteReceipt{}, ErrAlreadyVoted
	}

	idx, err := l.recordLocked(ctx, pollID, voterKey, selection)
	if err != nil && !errors.Is(err, ErrPersistence) {
		return types.VoteReceipt{}, err
	}

	receipt := types.VoteReceipt{PollID: pollID, BlockIndex: idx}
	head := l.chain[len(l.chain)-1]
	if idx > head.Index {
		receipt.Pending = true
	} else {
		receipt.BlockHash = Digest(l.chain[idx-1])
	}
	return receipt, err
}

func (l *Ledger) recordLocked(ctx context.Context, pollID, voterKey, selection string) (int64, error) {
	if len(l.chain) == 0 {
		return 0, ErrEmptyChain
	}

	l.pending = append(l.pending, types.Transaction{
		PollID:    pollID,
		VoterKey:  voterKey,
		Selection: selection,
		Timestamp: l.now(),
	})

	if len(l.pending) < l.opts.BatchSize {
		return l.chain[len(l.chain)-1].Index + 1, nil
	}

	block, err := l.sealLocked(ctx)
	if err != nil {
		if errors.Is(err, ErrPersistence) {
			return block.Index, err
		}
		// Solve was cancelled: the vote is rejected, earlier buffered votes stay.
		l.pending = l.pending[:len(l.pending)-1]
		return 0, err
	}
	return block.Index, nil
}

// SealBlock seals the pending buffer (possibly empty) into a new block.
func (l *Ledger) SealBlock(ctx context.Context) (types.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.chain) == 0 {
		return types.Block{}, ErrEmptyChain
	}
	block, err := l.sealLocked(ctx)
	return block.Clone(), err
}

// Flush seals buffered votes, if any. It reports whether a block was sealed.
func (l *Ledger) Flush(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		return false, nil
	}
	if len(l.chain) == 0 {
		return false, ErrEmptyChain
	}
	_, err := l.sealLocked(ctx)
	if err != nil && !errors.Is(err, ErrPersistence) {
		return false, err
	}
	return true, err
}

// sealLocked runs the proof-of-work search, appends the block and saves.
// The pending buffer is only drained once a proof is found.
func (l *Ledger) sealLocked(ctx context.Context) (types.Block, error) {
	last := l.chain[len(l.chain)-1]

	solveCtx := ctx
	if l.opts.SolveTimeout > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(ctx, l.opts.SolveTimeout)
		defer cancel()
	}

	started := time.Now()
	proof, err := l.work.Solve(solveCtx, last.Proof)
	if err != nil {
		l.log.Warningf("Proof search for block %d abandoned: %v", last.Index+1, err)
		return types.Block{}, fmt.Errorf("seal block %d: %w", last.Index+1, err)
	}

	txs := l.pending
	if txs == nil {
		txs = []types.Transaction{}
	}
	block := types.Block{
		Index:        last.Index + 1,
		Timestamp:    l.now(),
		Transactions: txs,
		Proof:        proof,
		PreviousHash: Digest(last),
	}
	l.pending = nil
	l.chain = append(l.chain, block)
	l.index.addBlock(block)

	l.log.Infof("Sealed block %d with %d vote(s), proof %d in %s", block.Index, len(block.Transactions), proof, time.Since(started).Round(time.Millisecond))

	if l.opts.OnSeal != nil {
		l.opts.OnSeal(block.Clone())
	}

	// The block is already authoritative in memory; a cancelled request must
	// not also cancel the write that makes it durable.
	if err := l.store.Save(context.WithoutCancel(ctx), l.chain); err != nil {
		l.saveErr = &PersistenceError{Op: "save", Err: err}
		l.log.Errorf("Block %d not persisted, durability degraded: %v", block.Index, err)
		return block, l.saveErr
	}
	l.saveErr = nil
	return block, nil
}

// HasVoted reports whether the voter has a vote for the poll, sealed or
// still buffered.
func (l *Ledger) HasVoted(pollID, voterKey string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hasVotedLocked(pollID, voterKey)
}

func (l *Ledger) hasVotedLocked(pollID, voterKey string) bool {
	if l.index.hasVoted(pollID, voterKey) {
		return true
	}
	for _, tx := range l.pending {
		if tx.PollID == pollID && tx.VoterKey == voterKey {
			return true
		}
	}
	return false
}

// Tally counts sealed votes for pollID over options.
func (l *Ledger) Tally(pollID string, options []string) (map[string]int, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.index.tally(pollID, options)
}

// LastBlock returns the chain head.
func (l *Ledger) LastBlock() (types.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.chain) == 0 {
		return types.Block{}, ErrEmptyChain
	}
	return l.chain[len(l.chain)-1].Clone(), nil
}

// Block returns the block with the given 1-based index.
func (l *Ledger) Block(index int64) (types.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index < 1 || index > int64(len(l.chain)) {
		return types.Block{}, fmt.Errorf("block %d not found", index)
	}
	return l.chain[index-1].Clone(), nil
}

// ChainLength returns the number of sealed blocks, genesis included.
func (l *Ledger) ChainLength() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

// Chain returns a deep copy of the sealed blocks.
func (l *Ledger) Chain() []types.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneChain(l.chain)
}

// Scan returns a Scanner over a snapshot of the chain.
func (l *Ledger) Scan() *Scanner {
	return NewScanner(l.Chain(), l.work)
}

// Work returns the puzzle the ledger validates against.
func (l *Ledger) Work() *pow.Work {
	return l.work
}

// Status summarizes the ledger.
func (l *Ledger) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := Status{
		ChainLength:  len(l.chain),
		PendingVotes: len(l.pending),
		Difficulty:   l.work.Difficulty(),
		BatchSize:    l.opts.BatchSize,
		Degraded:     l.saveErr != nil,
	}
	if n := len(l.chain); n > 0 {
		st.LastIndex = l.chain[n-1].Index
		st.LastHash = Digest(l.chain[n-1])
	}
	if l.saveErr != nil {
		st.LastError = l.saveErr.Error()
	}
	return st
}

func cloneChain(blocks []types.Block) []types.Block {
	out := make([]types.Block, len(blocks))
	for i, b := range blocks {
		out[i] = b.Clone()
	}
	return out
}
