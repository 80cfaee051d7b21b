// Package polls manages the poll registry that sits in front of the ledger:
// it creates polls, closes them and decides whether a vote may be recorded.
// The chain never sees a poll record, only the poll ID on each vote.
package polls

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"votechain.mini/vcm/internal/logger"
	"votechain.mini/vcm/internal/types"
)

var (
	ErrPollNotFound     = errors.New("poll not found")
	ErrPollClosed       = errors.New("poll has ended")
	ErrNotEligible      = errors.New("voter is not eligible for this poll")
	ErrInvalidSelection = errors.New("invalid selection")
	ErrForbidden        = errors.New("invalid creator id")
	ErrInvalidPoll      = errors.New("invalid poll")

	// ErrResultsNotPublic also matches ErrForbidden.
	ErrResultsNotPublic = fmt.Errorf("results are not public while the poll is active: %w", ErrForbidden)
)

// Store persists poll records.
type Store interface {
	SavePoll(ctx context.Context, p types.Poll) error
	LoadPolls(ctx context.Context) ([]types.Poll, error)
}

// CreateRequest carries the fields needed to open a poll.
type CreateRequest struct {
	Question string
	Options  []string
	Voters   []string
}

// Registry is the in-memory view of all polls, written through to a Store.
type Registry struct {
	mu    sync.RWMutex
	polls map[string]types.Poll
	store Store
	log   *logger.Logger
	now   func() time.Time
	newID func() string
}

// NewRegistry loads every stored poll.
func NewRegistry(ctx context.Context, store Store, log *logger.Logger) (*Registry, error) {
	if log == nil {
		log = logger.Discard(50)
	}
	r := &Registry{
		polls: make(map[string]types.Poll),
		store: store,
		log:   log,
		now:   time.Now,
		newID: newHexID,
	}

	existing, err := store.LoadPolls(ctx)
	if err != nil {
		return nil, fmt.Errorf("load polls: %w", err)
	}
	for _, p := range existing {
		r.polls[p.ID] = p
	}
	if len(existing) > 0 {
		log.Infof("Loaded %d poll(s)", len(existing))
	}
	return r, nil
}

// newHexID returns a random UUID without dashes.
func newHexID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ParseList splits a comma-separated list, trimming blanks and dropping
// empty entries.
func ParseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Create opens a new active poll with a fresh poll ID and creator secret.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (types.Poll, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return types.Poll{}, fmt.Errorf("%w: question is required", ErrInvalidPoll)
	}
	options := dedupe(req.Options)
	if len(options) == 0 {
		return types.Poll{}, fmt.Errorf("%w: at least one option is required", ErrInvalidPoll)
	}
	voters := dedupe(req.Voters)
	if len(voters) == 0 {
		return types.Poll{}, fmt.Errorf("%w: at least one eligible voter is required", ErrInvalidPoll)
	}

	p := types.Poll{
		ID:             r.newID(),
		Question:       question,
		Options:        options,
		EligibleVoters: voters,
		CreatorID:      r.newID(),
		Active:         true,
		CreatedAt:      r.now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.SavePoll(ctx, p); err != nil {
		return types.Poll{}, fmt.Errorf("save poll: %w", err)
	}
	r.polls[p.ID] = p
	r.log.Infof("Created poll %s with %d option(s) and %d voter(s)", p.ID, len(options), len(voters))
	return p, nil
}

// Get returns a copy of the poll.
func (r *Registry) Get(id string) (types.Poll, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.polls[id]
	if !ok {
		return types.Poll{}, ErrPollNotFound
	}
	return clonePoll(p), nil
}

// Status returns the public view of a poll.
func (r *Registry) Status(id string) (types.PollStatus, error) {
	p, err := r.Get(id)
	if err != nil {
		return types.PollStatus{}, err
	}
	return types.PollStatus{Question: p.Question, Options: p.Options, IsActive: p.Active}, nil
}

// List returns every poll, oldest first.
func (r *Registry) List() []types.Poll {
	r.mu.RLock()
	out := make([]types.Poll, 0, len(r.polls))
	for _, p := range r.polls {
		out = append(out, clonePoll(p))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// End closes the poll. Only the holder of the creator ID may do so; closing
// an already closed poll succeeds without changing it.
func (r *Registry) End(ctx context.Context, id, creatorID string) (types.Poll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.polls[id]
	if !ok {
		return types.Poll{}, ErrPollNotFound
	}
	if !sameSecret(p.CreatorID, creatorID) {
		return types.Poll{}, ErrForbidden
	}
	if !p.Active {
		return clonePoll(p), nil
	}

	p.Active = false
	p.ClosedAt = r.now().UTC()
	if err := r.store.SavePoll(ctx, p); err != nil {
		return types.Poll{}, fmt.Errorf("save poll: %w", err)
	}
	r.polls[id] = p
	r.log.Infof("Poll %s closed", id)
	return clonePoll(p), nil
}

// Authorize checks, in order, that the poll exists, is active, lists the
// voter and offers the selection.
func (r *Registry) Authorize(id, voterID, selection string) (types.Poll, error) {
	p, err := r.Get(id)
	if err != nil {
		return types.Poll{}, err
	}
	if !p.Active {
		return types.Poll{}, ErrPollClosed
	}
	if !p.IsEligible(voterID) {
		return types.Poll{}, ErrNotEligible
	}
	if !p.HasOption(selection) {
		return types.Poll{}, ErrInvalidSelection
	}
	return p, nil
}

// AuthorizeResults allows reading results once the poll is closed, or
// earlier when the caller presents the creator ID.
func (r *Registry) AuthorizeResults(id, creatorID string) (types.Poll, error) {
	p, err := r.Get(id)
	if err != nil {
		return types.Poll{}, err
	}
	if p.Active && !sameSecret(p.CreatorID, creatorID) {
		return types.Poll{}, ErrResultsNotPublic
	}
	return p, nil
}

func sameSecret(want, got string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func clonePoll(p types.Poll) types.Poll {
	p.Options = append([]string(nil), p.Options...)
	p.EligibleVoters = append([]string(nil), p.EligibleVoters...)
	return p
}
