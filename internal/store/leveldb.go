package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"votechain.mini/vcm/internal/ledger"
	"votechain.mini/vcm/internal/types"
)

const bitsPerKey = 10

var (
	blockPrefix = []byte("b/")
	pollPrefix  = []byte("p/")
	heightKey   = []byte("height")
)

// LevelDB keeps one JSON-encoded block per key, ordered by big-endian index,
// plus polls under their own prefix.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens the database directory at path. A corrupted database is
// reported, not repaired: the error matches ledger.ErrPersistence and the
// files are left as found.
func NewLevelDB(path string) (*LevelDB, error) {
	opts := &opt.Options{
		Filter: filter.NewBloomFilter(bitsPerKey),
	}

	db, err := leveldb.OpenFile(path, opts)
	if errors.IsCorrupted(err) {
		return nil, &ledger.PersistenceError{Op: "open", Err: fmt.Errorf("leveldb %s: %w", path, err)}
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}

	return &LevelDB{db: db}, nil
}

func blockKey(index int64) []byte {
	key := make([]byte, len(blockPrefix)+8)
	copy(key, blockPrefix)
	binary.BigEndian.PutUint64(key[len(blockPrefix):], uint64(index))
	return key
}

func (s *LevelDB) height() (int64, error) {
	raw, err := s.db.Get(heightKey, nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("height record has %d bytes", len(raw))
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

// Load returns every stored block in index order.
func (s *LevelDB) Load(ctx context.Context) ([]types.Block, error) {
	iter := s.db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	defer iter.Release()

	blocks := []types.Block{}
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var b types.Block
		if err := json.Unmarshal(iter.Value(), &b); err != nil {
			return nil, fmt.Errorf("decode block key %x: %w", iter.Key(), err)
		}
		if b.Transactions == nil {
			b.Transactions = []types.Transaction{}
		}
		blocks = append(blocks, b)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return blocks, nil
}

// Save writes the blocks past the stored height in a single batch.
func (s *LevelDB) Save(ctx context.Context, chain []types.Block) error {
	stored, err := s.height()
	if err != nil {
		return fmt.Errorf("read height: %w", err)
	}
	if stored > int64(len(chain)) {
		return fmt.Errorf("store holds %d blocks but chain has %d", stored, len(chain))
	}
	if stored > 0 {
		raw, err := s.db.Get(blockKey(stored), nil)
		if err != nil {
			return fmt.Errorf("read stored head: %w", err)
		}
		var head types.Block
		if err := json.Unmarshal(raw, &head); err != nil {
			return fmt.Errorf("decode stored head: %w", err)
		}
		if got, want := ledger.Digest(head), ledger.Digest(chain[stored-1]); got != want {
			return fmt.Errorf("stored block %d hash %s does not match chain %s", stored, got, want)
		}
	}

	batch := new(leveldb.Batch)
	for _, b := range chain[stored:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode block %d: %w", b.Index, err)
		}
		batch.Put(blockKey(b.Index), raw)
	}
	if batch.Len() == 0 {
		return nil
	}

	h := make([]byte, 8)
	binary.BigEndian.PutUint64(h, uint64(len(chain)))
	batch.Put(heightKey, h)

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// SavePoll inserts or replaces a poll.
func (s *LevelDB) SavePoll(_ context.Context, p types.Poll) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode poll %s: %w", p.ID, err)
	}
	key := append(append([]byte{}, pollPrefix...), p.ID...)
	if err := s.db.Put(key, raw, nil); err != nil {
		return fmt.Errorf("save poll %s: %w", p.ID, err)
	}
	return nil
}

// LoadPolls returns every stored poll.
func (s *LevelDB) LoadPolls(_ context.Context) ([]types.Poll, error) {
	iter := s.db.NewIterator(util.BytesPrefix(pollPrefix), nil)
	defer iter.Release()

	var polls []types.Poll
	for iter.Next() {
		var p types.Poll
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return nil, fmt.Errorf("decode poll key %s: %w", iter.Key(), err)
		}
		polls = append(polls, p)
	}
	return polls, iter.Error()
}

// Compact compacts the whole key range.
func (s *LevelDB) Compact() error {
	return s.db.CompactRange(util.Range{})
}

// Close closes the database.
func (s *LevelDB) Close() error {
	return s.db.Close()
}
