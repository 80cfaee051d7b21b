package ledger

import (
	"fmt"

	"votechain.mini/vcm/internal/pow"
	"votechain.mini/vcm/internal/types"
)

// Scanner walks a block sequence without any index. It is the audit path:
// results it returns are the source of truth the vote index must agree with.
type Scanner struct {
	blocks []types.Block
	work   *pow.Work
}

// NewScanner returns a read-only scanner over blocks. work is only needed by
// Verify.
func NewScanner(blocks []types.Block, work *pow.Work) *Scanner {
	return &Scanner{blocks: blocks, work: work}
}

// Len returns the number of blocks scanned.
func (s *Scanner) Len() int {
	return len(s.blocks)
}

// HasVoted reports whether any transaction in any block matches the pair.
func (s *Scanner) HasVoted(pollID, voterKey string) bool {
	for _, block := range s.blocks {
		for _, tx := range block.Transactions {
			if tx.PollID == pollID && tx.VoterKey == voterKey {
				return true
			}
		}
	}
	return false
}

// Tally counts selections for pollID. Every option is present in the result;
// selections outside options are skipped and not counted in the total.
func (s *Scanner) Tally(pollID string, options []string) (map[string]int, int) {
	results := make(map[string]int, len(options))
	for _, opt := range options {
		results[opt] = 0
	}

	total := 0
	for _, block := range s.blocks {
		for _, tx := range block.Transactions {
			if tx.PollID != pollID {
				continue
			}
			if _, ok := results[tx.Selection]; ok {
				results[tx.Selection]++
				total++
			}
		}
	}
	return results, total
}

// Verify checks the genesis block, index contiguity, hash linkage, proof
// validity and timestamp order of the whole sequence.
func (s *Scanner) Verify() error {
	if len(s.blocks) == 0 {
		return ErrEmptyChain
	}

	genesis := s.blocks[0]
	if genesis.Index != 1 {
		return &ChainError{Index: genesis.Index, Reason: "genesis index must be 1"}
	}
	if genesis.PreviousHash != types.GenesisPreviousHash {
		return &ChainError{Index: 1, Reason: fmt.Sprintf("genesis previous hash %q, want %q", genesis.PreviousHash, types.GenesisPreviousHash)}
	}
	if genesis.Proof != types.GenesisProof {
		return &ChainError{Index: 1, Reason: fmt.Sprintf("genesis proof %d, want %d", genesis.Proof, types.GenesisProof)}
	}

	for i := 1; i < len(s.blocks); i++ {
		prev, cur := s.blocks[i-1], s.blocks[i]
		want := int64(i + 1)

		if cur.Index != want {
			return &ChainError{Index: want, Reason: fmt.Sprintf("index %d out of sequence", cur.Index)}
		}
		if expected := Digest(prev); cur.PreviousHash != expected {
			return &ChainError{Index: cur.Index, Reason: fmt.Sprintf("previous hash %s, want %s", cur.PreviousHash, expected)}
		}
		if s.work != nil && !s.work.Valid(prev.Proof, cur.Proof) {
			return &ChainError{Index: cur.Index, Reason: fmt.Sprintf("proof %d does not solve %d at difficulty %d", cur.Proof, prev.Proof, s.work.Difficulty())}
		}
		if cur.Timestamp.Before(prev.Timestamp) {
			return &ChainError{Index: cur.Index, Reason: "timestamp earlier than previous block"}
		}
	}
	return nil
}
