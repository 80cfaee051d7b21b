package types

import (
	"testing"
	"time"
)

func TestBlockCloneDoesNotAlias(t *testing.T) {
	b := Block{
		Index:        2,
		Timestamp:    time.Now().UTC(),
		Transactions: []Transaction{{PollID: "p", VoterKey: "k", Selection: "a"}},
		Proof:        7,
		PreviousHash: "abc",
	}
	c := b.Clone()
	c.Transactions[0].Selection = "b"

	if b.Transactions[0].Selection != "a" {
		t.Fatalf("clone shares transactions with its source block")
	}
	if Block.Clone(Block{}).Transactions != nil {
		t.Errorf("clone of a block without transactions should keep them nil")
	}
}

func TestIsGenesis(t *testing.T) {
	if !(Block{Index: 1, PreviousHash: GenesisPreviousHash}).IsGenesis() {
		t.Errorf("expected genesis")
	}
	if (Block{Index: 2, PreviousHash: GenesisPreviousHash}).IsGenesis() {
		t.Errorf("index 2 is not genesis")
	}
}

func TestPollMembership(t *testing.T) {
	p := Poll{Options: []string{"yes", "no"}, EligibleVoters: []string{"ann"}}

	if !p.HasOption("no") || p.HasOption("maybe") {
		t.Errorf("HasOption mismatch")
	}
	if !p.IsEligible("ann") || p.IsEligible("Ann") {
		t.Errorf("IsEligible must match exactly")
	}
}
