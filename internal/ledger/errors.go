package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyChain means the genesis block is missing. The ledger refuses to
	// record votes until the persisted state is repaired.
	ErrEmptyChain = errors.New("chain is empty")
	// ErrPersistence marks a load or save failure of the backing store.
	ErrPersistence = errors.New("chain persistence failed")
	// ErrInvalidChain marks a chain that breaks linkage, proof or index rules.
	ErrInvalidChain = errors.New("invalid chain")
	// ErrAlreadyVoted is returned by CastVote when the voter already has a
	// vote recorded (or buffered) for the poll.
	ErrAlreadyVoted = errors.New("voter already recorded for poll")
)

// PersistenceError wraps a store failure. It matches ErrPersistence.
type PersistenceError struct {
	Op  string // "load" or "save"
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s chain: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// ChainError reports the first block that fails validation. It matches
// ErrInvalidChain.
type ChainError struct {
	Index  int64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("invalid chain at block %d: %s", e.Index, e.Reason)
}

func (e *ChainError) Is(target error) bool { return target == ErrInvalidChain }
