package store

import (
	"context"
	"sync"

	"votechain.mini/vcm/internal/types"
)

// Memory holds everything in process. Nothing survives a restart.
type Memory struct {
	mu     sync.RWMutex
	blocks []types.Block
	polls  map[string]types.Poll
	order  []string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{polls: make(map[string]types.Poll)}
}

func (m *Memory) Load(_ context.Context) ([]types.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneBlocks(m.blocks), nil
}

func (m *Memory) Save(_ context.Context, chain []types.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = cloneBlocks(chain)
	return nil
}

func (m *Memory) SavePoll(_ context.Context, p types.Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.polls[p.ID]; !ok {
		m.order = append(m.order, p.ID)
	}
	m.polls[p.ID] = clonePoll(p)
	return nil
}

func (m *Memory) LoadPolls(_ context.Context) ([]types.Poll, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Poll, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, clonePoll(m.polls[id]))
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}

func cloneBlocks(blocks []types.Block) []types.Block {
	out := make([]types.Block, len(blocks))
	for i, b := range blocks {
		out[i] = b.Clone()
	}
	return out
}

func clonePoll(p types.Poll) types.Poll {
	p.Options = append([]string(nil), p.Options...)
	p.EligibleVoters = append([]string(nil), p.EligibleVoters...)
	return p
}
