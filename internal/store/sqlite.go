package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"votechain.mini/vcm/internal/ledger"
	"votechain.mini/vcm/internal/types"

	_ "modernc.org/sqlite"
)

const (
	defaultDBFile        = "chain.db"
	legacyJSONName       = "chain.json"
	defaultBackupDirName = "backups"
	maxBusyTimeoutMs     = 5000
	defaultMaxBackups    = 20
)

// SQLite stores the chain and the poll registry in a single SQLite file.
// Blocks are append-only: Save inserts the blocks the database does not have
// yet and refuses a chain that disagrees with what is already stored.
type SQLite struct {
	mu        sync.RWMutex
	db        *sql.DB
	file      string
	backupDir string
}

// NewSQLite opens (or creates) the database at filePath. A database that
// cannot be opened yields an error matching ledger.ErrPersistence.
func NewSQLite(filePath string) (*SQLite, error) {
	if filePath == "" {
		filePath = defaultDBFile
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}

	s := &SQLite{
		file:      absPath,
		backupDir: filepath.Join(filepath.Dir(absPath), defaultBackupDirName),
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	// A missing database next to existing backups means the chain was lost,
	// not that this is a first run.
	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		if latest, err := newBackupSet(s.backupDir, absPath).latest(); err == nil {
			return nil, &ledger.PersistenceError{Op: "open", Err: fmt.Errorf("%s is missing but backup %s exists", absPath, filepath.Base(latest))}
		}
	}

	// A database that exists but cannot be read is left untouched. Recovery
	// is RestoreLatestBackup, run by the operator.
	if err := s.openDB(); err != nil {
		return nil, &ledger.PersistenceError{Op: "open", Err: fmt.Errorf("%s: %w", absPath, err)}
	}

	if err := s.ensureSchema(); err != nil {
		_ = s.closeDB()
		return nil, err
	}

	if err := s.migrateLegacyJSON(); err != nil {
		_ = s.closeDB()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying database connection.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeDB()
}

func (s *SQLite) openDB() error {
	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", filepath.Clean(s.file))

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs)); err != nil {
		db.Close()
		return fmt.Errorf("set busy timeout: %w", err)
	}

	// Reading the schema version forces SQLite to parse the file header, so a
	// corrupt file fails here instead of on the first real query.
	var version int
	if err := db.QueryRow("PRAGMA schema_version").Scan(&version); err != nil {
		db.Close()
		return fmt.Errorf("read schema version: %w", err)
	}

	s.db = db
	return nil
}

func (s *SQLite) closeDB() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// RestoreLatestBackup replaces the database at filePath with its newest
// backup. The current file and its WAL and SHM companions are renamed aside
// to <name>.corrupt-<stamp> first, never deleted. The restored copy must open
// cleanly. Votes sealed after the backup was taken are not in the restored
// chain; this is an operator action, nothing calls it on its own.
func RestoreLatestBackup(filePath string) (restored, aside string, err error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return "", "", fmt.Errorf("resolve db path: %w", err)
	}
	set := newBackupSet(filepath.Join(filepath.Dir(absPath), defaultBackupDirName), absPath)
	latest, err := set.latest()
	if err != nil {
		return "", "", err
	}

	stamp := time.Now().UTC().Format(backupStamp)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		src := absPath + suffix
		dst := absPath + ".corrupt-" + stamp + suffix
		if err := os.Rename(src, dst); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return "", aside, fmt.Errorf("move %s aside: %w", filepath.Base(src), err)
		}
		if suffix == "" {
			aside = dst
		}
	}

	if err := restoreFile(latest, absPath); err != nil {
		return "", aside, fmt.Errorf("copy backup %s: %w", filepath.Base(latest), err)
	}
	s, err := NewSQLite(absPath)
	if err != nil {
		return "", aside, fmt.Errorf("restored backup %s: %w", filepath.Base(latest), err)
	}
	return latest, aside, s.Close()
}

func (s *SQLite) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blocks (
			idx INTEGER PRIMARY KEY,
			timestamp TEXT NOT NULL,
			proof INTEGER NOT NULL,
			previous_hash TEXT NOT NULL,
			hash TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			block_idx INTEGER NOT NULL REFERENCES blocks(idx),
			position INTEGER NOT NULL,
			poll_id TEXT NOT NULL,
			voter_key TEXT NOT NULL,
			selection TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			PRIMARY KEY (block_idx, position)
		)`,
		`CREATE INDEX IF NOT EXISTS transactions_poll ON transactions (poll_id, voter_key)`,
		`CREATE TABLE IF NOT EXISTS polls (
			id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			options TEXT NOT NULL,
			eligible_voters TEXT NOT NULL,
			creator_id TEXT,
			active INTEGER NOT NULL,
			created_at TEXT,
			closed_at TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	return nil
}

// migrateLegacyJSON imports a chain.json written by the file backend when
// the database is still empty, then renames the file out of the way.
func (s *SQLite) migrateLegacyJSON() error {
	legacyPath := filepath.Join(filepath.Dir(s.file), legacyJSONName)
	data, err := os.ReadFile(legacyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read legacy chain.json: %w", err)
	}

	var height int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM blocks`).Scan(&height); err != nil {
		return fmt.Errorf("count blocks: %w", err)
	}
	if height > 0 {
		return nil
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "[]" {
		return nil
	}

	var blocks []types.Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("decode legacy chain.json: %w", err)
	}

	if err := s.Save(context.Background(), blocks); err != nil {
		return fmt.Errorf("migrate legacy chain: %w", err)
	}

	if err := os.Rename(legacyPath, legacyPath+".migrated"); err != nil {
		return fmt.Errorf("rename legacy chain file: %w", err)
	}
	return nil
}

// Load returns every stored block in index order.
func (s *SQLite) Load(ctx context.Context) ([]types.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT idx, timestamp, proof, previous_hash FROM blocks ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	var blocks []types.Block
	for rows.Next() {
		var (
			b  types.Block
			ts string
		)
		if err := rows.Scan(&b.Index, &ts, &b.Proof, &b.PreviousHash); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		if b.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("block %d timestamp: %w", b.Index, err)
		}
		b.Transactions = []types.Transaction{}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	if len(blocks) == 0 {
		return blocks, nil
	}

	// Stored indices are 1-based and contiguous; map them back to positions
	// and let ledger validation catch anything else.
	byIndex := make(map[int64]int, len(blocks))
	for i, b := range blocks {
		byIndex[b.Index] = i
	}

	txRows, err := s.db.QueryContext(ctx, `SELECT block_idx, poll_id, voter_key, selection, timestamp
		FROM transactions ORDER BY block_idx, position`)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer txRows.Close()

	for txRows.Next() {
		var (
			blockIdx int64
			tx       types.Transaction
			ts       string
		)
		if err := txRows.Scan(&blockIdx, &tx.PollID, &tx.VoterKey, &tx.Selection, &ts); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if tx.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("transaction in block %d timestamp: %w", blockIdx, err)
		}
		pos, ok := byIndex[blockIdx]
		if !ok {
			return nil, fmt.Errorf("transaction references missing block %d", blockIdx)
		}
		blocks[pos].Transactions = append(blocks[pos].Transactions, tx)
	}
	if err := txRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	return blocks, nil
}

// Save appends the blocks of chain that are not stored yet, in one
// transaction. The stored head must match the corresponding block of chain.
func (s *SQLite) Save(ctx context.Context, chain []types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}

	var (
		stored   int64
		headHash sql.NullString
	)
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&stored); err != nil {
		tx.Rollback()
		return fmt.Errorf("count blocks: %w", err)
	}
	if stored > int64(len(chain)) {
		tx.Rollback()
		return fmt.Errorf("store holds %d blocks but chain has %d", stored, len(chain))
	}
	if stored > 0 {
		if err := tx.QueryRowContext(ctx, `SELECT hash FROM blocks WHERE idx = ?`, stored).Scan(&headHash); err != nil {
			tx.Rollback()
			return fmt.Errorf("read stored head: %w", err)
		}
		if want := ledger.Digest(chain[stored-1]); headHash.String != want {
			tx.Rollback()
			return fmt.Errorf("stored block %d hash %s does not match chain %s", stored, headHash.String, want)
		}
	}

	blockStmt, err := tx.PrepareContext(ctx, `INSERT INTO blocks (idx, timestamp, proof, previous_hash, hash) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare block insert: %w", err)
	}
	defer blockStmt.Close()

	txStmt, err := tx.PrepareContext(ctx, `INSERT INTO transactions (block_idx, position, poll_id, voter_key, selection, timestamp) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare transaction insert: %w", err)
	}
	defer txStmt.Close()

	for _, b := range chain[stored:] {
		if _, err := blockStmt.ExecContext(ctx, b.Index, ledger.CanonicalTime(b.Timestamp), b.Proof, b.PreviousHash, ledger.Digest(b)); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert block %d: %w", b.Index, err)
		}
		for pos, vote := range b.Transactions {
			if _, err := txStmt.ExecContext(ctx, b.Index, pos, vote.PollID, vote.VoterKey, vote.Selection, ledger.CanonicalTime(vote.Timestamp)); err != nil {
				tx.Rollback()
				return fmt.Errorf("insert vote %d of block %d: %w", pos, b.Index, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// SavePoll inserts or replaces a poll.
func (s *SQLite) SavePoll(ctx context.Context, p types.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	options, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	voters, err := json.Marshal(p.EligibleVoters)
	if err != nil {
		return fmt.Errorf("encode voters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO polls (id, question, options, eligible_voters, creator_id, active, created_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question = excluded.question,
			options = excluded.options,
			eligible_voters = excluded.eligible_voters,
			creator_id = excluded.creator_id,
			active = excluded.active,
			created_at = excluded.created_at,
			closed_at = excluded.closed_at`,
		p.ID, p.Question, string(options), string(voters), p.CreatorID, p.Active,
		formatTime(p.CreatedAt), formatTime(p.ClosedAt))
	if err != nil {
		return fmt.Errorf("save poll %s: %w", p.ID, err)
	}
	return nil
}

// LoadPolls returns every stored poll ordered by creation time.
func (s *SQLite) LoadPolls(ctx context.Context) ([]types.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, question, options, eligible_voters, creator_id, active, created_at, closed_at
		FROM polls ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query polls: %w", err)
	}
	defer rows.Close()

	var polls []types.Poll
	for rows.Next() {
		var (
			p               types.Poll
			options, voters string
			creator         sql.NullString
			created, closed sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Question, &options, &voters, &creator, &p.Active, &created, &closed); err != nil {
			return nil, fmt.Errorf("scan poll: %w", err)
		}
		if err := json.Unmarshal([]byte(options), &p.Options); err != nil {
			return nil, fmt.Errorf("decode options of poll %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(voters), &p.EligibleVoters); err != nil {
			return nil, fmt.Errorf("decode voters of poll %s: %w", p.ID, err)
		}
		p.CreatorID = creator.String
		if p.CreatedAt, err = parseTime(created.String); err != nil {
			return nil, fmt.Errorf("decode created_at of poll %s: %w", p.ID, err)
		}
		if p.ClosedAt, err = parseTime(closed.String); err != nil {
			return nil, fmt.Errorf("decode closed_at of poll %s: %w", p.ID, err)
		}
		polls = append(polls, p)
	}
	return polls, rows.Err()
}

// BackupCurrent writes a snapshot of the database to a timestamped file and
// prunes old backups beyond maxBackups. Returns the backup path when created.
func (s *SQLite) BackupCurrent(maxBackups int) (string, error) {
	snapshot, err := s.ExportSnapshot()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}

	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}

	set := newBackupSet(s.backupDir, s.file)
	backupPath, err := set.write(snapshot)
	if err != nil {
		return "", err
	}
	if err := set.prune(maxBackups); err != nil {
		return backupPath, fmt.Errorf("prune backups: %w", err)
	}
	return backupPath, nil
}

// ExportSnapshot returns a consistent copy of the current database contents.
func (s *SQLite) ExportSnapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.file); errors.Is(err, os.ErrNotExist) {
		return nil, os.ErrNotExist
	}

	tempFile, err := os.CreateTemp(filepath.Dir(s.file), "chain-export-*.db")
	if err != nil {
		return nil, fmt.Errorf("create temp export file: %w", err)
	}
	tempPath := tempFile.Name()
	tempFile.Close()
	// VACUUM INTO refuses to overwrite an existing file.
	os.Remove(tempPath)

	escaped := strings.ReplaceAll(tempPath, "'", "''")
	if _, err := s.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", escaped)); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("vacuum into temp file: %w", err)
	}

	data, err := os.ReadFile(tempPath)
	os.Remove(tempPath)
	if err != nil {
		return nil, fmt.Errorf("read export file: %w", err)
	}

	return data, nil
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return ledger.CanonicalTime(t)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}
