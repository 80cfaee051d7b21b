// Package store persists the vote chain and the poll registry. Every backend
// satisfies ledger.Persister and polls.Store.
package store

import (
	"context"
	"fmt"
	"path/filepath"

	"votechain.mini/vcm/internal/types"
)

// Backend names accepted by Open.
const (
	BackendSQLite  = "sqlite"
	BackendLevelDB = "leveldb"
	BackendFile    = "file"
	BackendMemory  = "memory"
)

// Backend is the full persistence surface used by the server.
type Backend interface {
	Load(ctx context.Context) ([]types.Block, error)
	Save(ctx context.Context, chain []types.Block) error
	SavePoll(ctx context.Context, p types.Poll) error
	LoadPolls(ctx context.Context) ([]types.Poll, error)
	Close() error
}

// DefaultPath returns where a backend keeps its data inside dataDir.
func DefaultPath(kind, dataDir string) string {
	switch kind {
	case BackendLevelDB:
		return filepath.Join(dataDir, "chain.ldb")
	case BackendFile:
		return filepath.Join(dataDir, legacyJSONName)
	default:
		return filepath.Join(dataDir, defaultDBFile)
	}
}

// Open opens the named backend. An empty path selects DefaultPath.
func Open(kind, dataDir, path string) (Backend, error) {
	if kind == "" {
		kind = BackendSQLite
	}
	if path == "" {
		path = DefaultPath(kind, dataDir)
	}

	switch kind {
	case BackendSQLite:
		return NewSQLite(path)
	case BackendLevelDB:
		return NewLevelDB(path)
	case BackendFile:
		return NewFile(path)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", kind)
	}
}
