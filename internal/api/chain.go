package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"votechain.mini/vcm/internal/ledger"
	"votechain.mini/vcm/internal/types"
)

type blockView struct {
	types.Block
	Hash string `json:"hash"`
}

func viewOf(b types.Block) blockView {
	return blockView{Block: b, Hash: ledger.Digest(b)}
}

// @Title: Get Chain
// @Route: GET /api/chain
// @Description: Every sealed block with its digest
// @Response: {"length": 1, "chain": [{"index": 1, "hash": "...", ...}]}
func (s *Service) HandleChain(w http.ResponseWriter, r *http.Request) {
	chain := s.voting.Ledger().Chain()
	views := make([]blockView, len(chain))
	for i, b := range chain {
		views[i] = viewOf(b)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"length": len(views),
		"chain":  views,
	})
}

// @Title: Get Block
// @Route: GET /api/chain/{index}
// @Description: One block by its 1-based index
// @Response: Block object with its hash
func (s *Service) HandleBlock(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseInt(pathOrQuery(r, "index"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Block index must be an integer")
		return
	}
	b, err := s.voting.Ledger().Block(index)
	if err != nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("Block %d not found", index))
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(b))
}

// @Title: Verify Chain
// @Route: GET /api/chain/verify
// @Description: Re-check hash links, proofs, indices and timestamps over the whole chain
// @Response: {"valid": true, "length": 3}
func (s *Service) HandleVerify(w http.ResponseWriter, r *http.Request) {
	scan := s.voting.Ledger().Scan()
	resp := map[string]interface{}{
		"valid":  true,
		"length": scan.Len(),
	}
	if err := scan.Verify(); err != nil {
		resp["valid"] = false
		resp["error"] = err.Error()
		var chainErr *ledger.ChainError
		if errors.As(err, &chainErr) {
			resp["block_index"] = chainErr.Index
		}
		s.logger.Errorf("API: chain verification failed: %v", err)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// @Title: Ledger Status
// @Route: GET /api/status
// @Description: Chain length, pending votes, difficulty and durability state
// @Response: {"chain_length": 1, "pending_votes": 0, "difficulty": 4, "durability_degraded": false, ...}
func (s *Service) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.voting.Ledger().Status())
}

// @Title: Flush Pending Votes
// @Route: POST /api/chain/flush
// @Description: Seal buffered votes into a block when batching is enabled
// @Response: {"sealed": true, "chain_length": 4}
func (s *Service) HandleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	l := s.voting.Ledger()
	sealed, err := l.Flush(r.Context())
	resp := map[string]interface{}{
		"sealed":       sealed,
		"chain_length": l.ChainLength(),
	}
	if err != nil {
		if !errors.Is(err, ledger.ErrPersistence) {
			s.writeFailure(w, err)
			return
		}
		resp["warning"] = "The block was sealed but could not be written to disk."
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// @Title: Download Chain
// @Route: GET /api/chain/export
// @Description: Download the chain as a JSON array in the persisted field order
// @Response: application/json file download
func (s *Service) HandleExportChain(w http.ResponseWriter, r *http.Request) {
	data, err := json.MarshalIndent(s.voting.Ledger().Chain(), "", "  ")
	if err != nil {
		http.Error(w, "Failed to marshal chain", http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("vcm-chain-%s.json", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Write(data)
	s.logger.Info(fmt.Sprintf("API: Served chain download: %s", filename))
}

// @Title: Create Backup
// @Route: POST /api/backup
// @Description: Write a timestamped copy of the database next to it (SQLite store only)
// @Response: {"status": "ok", "path": "..."}
func (s *Service) HandleBackup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.backups == nil {
		s.writeError(w, http.StatusNotImplemented, "The configured store does not support backups")
		return
	}

	path, err := s.backups.BackupCurrent(s.maxBackups)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to create backup: %v", err))
		s.writeError(w, http.StatusInternalServerError, "Failed to create backup")
		return
	}

	s.logger.Info(fmt.Sprintf("API: Created backup at: %s", path))
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"path":   path,
	})
}
