// Package voting joins the poll registry and the ledger: it authorizes a
// vote against its poll, derives the voter key written to the chain and
// records the vote with the ledger's atomic check-then-record.
package voting

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/crypto/sha3"

	"votechain.mini/vcm/internal/ledger"
	"votechain.mini/vcm/internal/logger"
	"votechain.mini/vcm/internal/polls"
	"votechain.mini/vcm/internal/types"
)

// Options tune how voter keys are derived and how long results are cached.
type Options struct {
	HashVoterIDs bool
	VoterSalt    string
	ResultsTTL   time.Duration // zero disables the cache
}

// Service records votes and reads results.
type Service struct {
	polls   *polls.Registry
	ledger  *ledger.Ledger
	opts    Options
	log     *logger.Logger
	results *gocache.Cache
}

// New wires a Service. log may be nil.
func New(reg *polls.Registry, l *ledger.Ledger, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard(50)
	}
	s := &Service{
		polls:  reg,
		ledger: l,
		opts:   opts,
		log:    log,
	}
	if opts.ResultsTTL > 0 {
		s.results = gocache.New(opts.ResultsTTL, 2*opts.ResultsTTL)
	}
	return s
}

// Polls exposes the registry the service authorizes against.
func (s *Service) Polls() *polls.Registry {
	return s.polls
}

// Ledger exposes the underlying ledger.
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

// VoterKey maps a voter ID to the key stored on the chain. With hashing
// enabled the key is hex(SHA3-256(salt 0x00 pollID 0x00 voterID)), so the
// same voter gets unrelated keys in different polls.
func (s *Service) VoterKey(pollID, voterID string) string {
	if !s.opts.HashVoterIDs {
		return voterID
	}
	h := sha3.New256()
	h.Write([]byte(s.opts.VoterSalt))
	h.Write([]byte{0})
	h.Write([]byte(pollID))
	h.Write([]byte{0})
	h.Write([]byte(voterID))
	return hex.EncodeToString(h.Sum(nil))
}

// Cast authorizes and records one vote. A vote the ledger kept in memory
// but could not persist is returned with its receipt and an error matching
// ledger.ErrPersistence.
func (s *Service) Cast(ctx context.Context, pollID, voterID, selection string) (types.VoteReceipt, error) {
	if _, err := s.polls.Authorize(pollID, voterID, selection); err != nil {
		return types.VoteReceipt{}, err
	}

	receipt, err := s.ledger.CastVote(ctx, pollID, s.VoterKey(pollID, voterID), selection)
	switch {
	case err == nil:
		s.log.Infof("Vote recorded for poll %s in block %d", pollID, receipt.BlockIndex)
		return receipt, nil
	case errors.Is(err, ledger.ErrPersistence):
		return receipt, err
	case errors.Is(err, ledger.ErrAlreadyVoted):
		return types.VoteReceipt{}, err
	default:
		return types.VoteReceipt{}, fmt.Errorf("record vote: %w", err)
	}
}

// HasVoted reports whether voterID already has a vote in pollID.
func (s *Service) HasVoted(pollID, voterID string) bool {
	return s.ledger.HasVoted(pollID, s.VoterKey(pollID, voterID))
}

// Results tallies a poll. Results are visible once the poll is closed, or
// to the creator while it is active.
func (s *Service) Results(pollID, creatorID string) (types.PollResults, error) {
	p, err := s.polls.AuthorizeResults(pollID, creatorID)
	if err != nil {
		return types.PollResults{}, err
	}

	// Only sealed votes are counted, so the chain length identifies a tally.
	key := fmt.Sprintf("%s/%d/%t", p.ID, s.ledger.ChainLength(), p.Active)
	if s.results != nil {
		if cached, ok := s.results.Get(key); ok {
			return copyResults(cached.(types.PollResults)), nil
		}
	}

	counts, total := s.ledger.Tally(p.ID, p.Options)
	res := types.PollResults{
		PollID:     p.ID,
		Question:   p.Question,
		Results:    counts,
		TotalVotes: total,
		IsActive:   p.Active,
	}
	if s.results != nil {
		s.results.SetDefault(key, res)
	}
	return copyResults(res), nil
}

func copyResults(r types.PollResults) types.PollResults {
	counts := make(map[string]int, len(r.Results))
	for k, v := range r.Results {
		counts[k] = v
	}
	r.Results = counts
	return r
}
