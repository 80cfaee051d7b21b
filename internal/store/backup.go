package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var errNoBackups = errors.New("no chain backups available")

// backupStamp sorts lexically in time order.
const backupStamp = "20060102T150405.000000000Z"

// backupSet is the directory of point-in-time copies of one database file,
// named <stem>-<stamp><ext>, e.g. chain-20261018T151200.000000000Z.db.
type backupSet struct {
	dir  string
	stem string
	ext  string
}

func newBackupSet(dir, dbFile string) backupSet {
	base := filepath.Base(dbFile)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem = base
	}
	return backupSet{dir: dir, stem: stem, ext: ext}
}

func (b backupSet) name(at time.Time) string {
	return b.stem + "-" + at.UTC().Format(backupStamp) + b.ext
}

// list returns backup paths oldest first. Files that do not carry a valid
// stamp are not ours and are left alone.
func (b backupSet) list() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stamp, ok := strings.CutPrefix(entry.Name(), b.stem+"-")
		if !ok {
			continue
		}
		stamp, ok = strings.CutSuffix(stamp, b.ext)
		if !ok {
			continue
		}
		if _, err := time.Parse(backupStamp, stamp); err != nil {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(b.dir, n)
	}
	return paths, nil
}

func (b backupSet) latest() (string, error) {
	paths, err := b.list()
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", errNoBackups
	}
	return paths[len(paths)-1], nil
}

// write stores data as a new backup. Two backups never share a name.
func (b backupSet) write(data []byte) (string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backup directory: %w", err)
	}

	at := time.Now()
	for {
		path := filepath.Join(b.dir, b.name(at))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if errors.Is(err, os.ErrExist) {
			at = at.Add(time.Nanosecond)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create backup: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("write backup: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close backup: %w", err)
		}
		return path, nil
	}
}

// prune deletes the oldest backups until at most keep remain.
func (b backupSet) prune(keep int) error {
	if keep <= 0 {
		return nil
	}
	paths, err := b.list()
	if err != nil || len(paths) <= keep {
		return err
	}
	var firstErr error
	for _, p := range paths[:len(paths)-keep] {
		if err := os.Remove(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// restoreFile copies src over dst and syncs it before returning.
func restoreFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
