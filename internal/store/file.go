package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"votechain.mini/vcm/internal/types"
)

// File keeps the chain as an indented JSON array, the format the legacy
// service wrote to disk, and the polls in a sibling polls.json. Every save
// rewrites the whole file through a temp file and rename.
type File struct {
	mu        sync.Mutex
	path      string
	pollsPath string
}

// NewFile returns a store writing the chain to path.
func NewFile(path string) (*File, error) {
	if path == "" {
		path = legacyJSONName
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create chain directory: %w", err)
	}
	return &File{
		path:      path,
		pollsPath: filepath.Join(filepath.Dir(path), "polls.json"),
	}, nil
}

// Load reads the chain file. A missing or empty file is an empty chain.
func (f *File) Load(_ context.Context) ([]types.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var blocks []types.Block
	if err := readJSON(f.path, &blocks); err != nil {
		return nil, err
	}
	for i := range blocks {
		if blocks[i].Transactions == nil {
			blocks[i].Transactions = []types.Transaction{}
		}
	}
	if blocks == nil {
		blocks = []types.Block{}
	}
	return blocks, nil
}

// Save replaces the chain file with chain.
func (f *File) Save(_ context.Context, chain []types.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeJSON(f.path, chain)
}

// SavePoll inserts or replaces a poll in polls.json.
func (f *File) SavePoll(_ context.Context, p types.Poll) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var polls []types.Poll
	if err := readJSON(f.pollsPath, &polls); err != nil {
		return err
	}
	replaced := false
	for i := range polls {
		if polls[i].ID == p.ID {
			polls[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		polls = append(polls, p)
	}
	return writeJSON(f.pollsPath, polls)
}

// LoadPolls reads polls.json.
func (f *File) LoadPolls(_ context.Context) ([]types.Poll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var polls []types.Poll
	if err := readJSON(f.pollsPath, &polls); err != nil {
		return nil, err
	}
	return polls, nil
}

// Close is a no-op; every save is already on disk.
func (f *File) Close() error {
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
