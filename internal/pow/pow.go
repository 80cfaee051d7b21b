// Package pow implements the admission puzzle that gates every new block.
// A proof is valid for a previous proof when the SHA-256 hex digest of their
// decimal concatenation starts with D zero characters. Difficulty is fixed
// for the lifetime of a Work value.
package pow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	// DefaultDifficulty is the number of leading zero hex characters required.
	DefaultDifficulty = 4
	// MaxDifficulty is the length of a hex-encoded SHA-256 digest.
	MaxDifficulty = sha256.Size * 2

	// checkEvery is how many candidates Solve tries between context checks.
	checkEvery = 4096
)

// Work validates and solves proofs at a fixed difficulty.
type Work struct {
	difficulty int
	prefix     string
}

// New returns a Work for the given difficulty.
func New(difficulty int) (*Work, error) {
	if difficulty < 0 || difficulty > MaxDifficulty {
		return nil, fmt.Errorf("difficulty %d out of range [0,%d]", difficulty, MaxDifficulty)
	}
	return &Work{
		difficulty: difficulty,
		prefix:     strings.Repeat("0", difficulty),
	}, nil
}

// Difficulty returns the configured prefix length.
func (w *Work) Difficulty() int {
	return w.difficulty
}

// Digest returns the hex digest of the concatenation of prev and proof.
func Digest(prev, proof int64) string {
	buf := make([]byte, 0, 40)
	buf = strconv.AppendInt(buf, prev, 10)
	buf = strconv.AppendInt(buf, proof, 10)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// Valid reports whether proof solves the puzzle for prev.
func (w *Work) Valid(prev, proof int64) bool {
	return strings.HasPrefix(Digest(prev, proof), w.prefix)
}

// Solve returns the smallest non-negative proof that is valid for prev. The
// search is sequential; ctx is polled periodically so a misconfigured
// difficulty cannot hang the caller forever.
func (w *Work) Solve(ctx context.Context, prev int64) (int64, error) {
	for proof := int64(0); ; proof++ {
		if proof%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return 0, fmt.Errorf("solve after %d attempts: %w", proof, err)
			}
		}
		if w.Valid(prev, proof) {
			return proof, nil
		}
	}
}
