// Package types defines the core domain models for votechain mini (vcm).
// It contains the ledger data model (blocks and vote transactions) and the
// poll records managed by the authorization layer in front of the ledger.
package types

import (
	"time"
)

// Version is the current version of VCM
const Version = "0.3.0"

// BuildTime is set at build time via -ldflags
var BuildTime = "dev"

// GenesisPreviousHash is the sentinel stored in the genesis block in place of
// a real digest.
const GenesisPreviousHash = "1"

// GenesisProof is the fixed proof carried by the genesis block. It is not the
// result of solving the puzzle.
const GenesisProof int64 = 100

// Transaction is one recorded vote. It is immutable once sealed into a block.
type Transaction struct {
	PollID    string    `json:"poll_id"`   // Poll the vote belongs to
	VoterKey  string    `json:"voter_key"` // Opaque voter identifier (usually a digest)
	Selection string    `json:"selection"` // Chosen option
	Timestamp time.Time `json:"timestamp"` // Creation instant (UTC)
}

// Block is an immutable unit of the chain. Field order matches the canonical
// serialization used for hashing and persistence.
type Block struct {
	Index        int64         `json:"index"`
	Timestamp    time.Time     `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	Proof        int64         `json:"proof"`
	PreviousHash string        `json:"previous_hash"`
}

// IsGenesis reports whether b has the shape of the genesis block.
func (b Block) IsGenesis() bool {
	return b.Index == 1 && b.PreviousHash == GenesisPreviousHash
}

// Clone returns a deep copy so callers can never alias ledger-owned slices.
func (b Block) Clone() Block {
	out := b
	if b.Transactions != nil {
		out.Transactions = make([]Transaction, len(b.Transactions))
		copy(out.Transactions, b.Transactions)
	}
	return out
}

// Poll describes a question open for voting. Polls live outside the ledger;
// the chain only stores the poll ID on each vote.
type Poll struct {
	ID             string    `json:"id"`
	Question       string    `json:"question"`
	Options        []string  `json:"options"`
	EligibleVoters []string  `json:"eligible_voters"`
	CreatorID      string    `json:"creator_id,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	ClosedAt       time.Time `json:"closed_at,omitempty"`
}

// HasOption reports whether selection is one of the poll's declared options.
func (p *Poll) HasOption(selection string) bool {
	for _, opt := range p.Options {
		if opt == selection {
			return true
		}
	}
	return false
}

// IsEligible reports whether voterID is on the poll's voter list.
func (p *Poll) IsEligible(voterID string) bool {
	for _, v := range p.EligibleVoters {
		if v == voterID {
			return true
		}
	}
	return false
}

// PollStatus is the public view of a poll (no voter list, no creator secret).
type PollStatus struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	IsActive bool     `json:"is_active"`
}

// PollResults is the tally of a poll read from the chain.
type PollResults struct {
	PollID     string         `json:"poll_id"`
	Question   string         `json:"question"`
	Results    map[string]int `json:"results"`
	TotalVotes int            `json:"total_votes"`
	IsActive   bool           `json:"is_active"`
}

// VoteReceipt tells the voter where their vote landed.
type VoteReceipt struct {
	PollID     string `json:"poll_id"`
	BlockIndex int64  `json:"block_index"`
	BlockHash  string `json:"block_hash,omitempty"`
	Pending    bool   `json:"pending,omitempty"` // vote buffered, block not sealed yet
}
