package ledger

import "votechain.mini/vcm/internal/types"

// voteIndex answers HasVoted and Tally without scanning the chain. It is
// rebuilt from the chain on load and extended on every seal; the chain stays
// the durable record.
type voteIndex struct {
	voters map[string]map[string]struct{} // poll -> voter keys
	counts map[string]map[string]int      // poll -> selection -> votes
}

func newVoteIndex() *voteIndex {
	return &voteIndex{
		voters: make(map[string]map[string]struct{}),
		counts: make(map[string]map[string]int),
	}
}

func (ix *voteIndex) add(tx types.Transaction) {
	voters, ok := ix.voters[tx.PollID]
	if !ok {
		voters = make(map[string]struct{})
		ix.voters[tx.PollID] = voters
	}
	voters[tx.VoterKey] = struct{}{}

	counts, ok := ix.counts[tx.PollID]
	if !ok {
		counts = make(map[string]int)
		ix.counts[tx.PollID] = counts
	}
	counts[tx.Selection]++
}

func (ix *voteIndex) addBlock(b types.Block) {
	for _, tx := range b.Transactions {
		ix.add(tx)
	}
}

func (ix *voteIndex) hasVoted(pollID, voterKey string) bool {
	_, ok := ix.voters[pollID][voterKey]
	return ok
}

func (ix *voteIndex) tally(pollID string, options []string) (map[string]int, int) {
	counts := ix.counts[pollID]
	results := make(map[string]int, len(options))
	total := 0
	for _, opt := range options {
		if _, seen := results[opt]; seen {
			continue
		}
		n := counts[opt]
		results[opt] = n
		total += n
	}
	return results, total
}
