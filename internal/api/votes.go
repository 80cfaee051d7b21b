package api

import (
	"errors"
	"net/http"

	"votechain.mini/vcm/internal/ledger"
)

// @Title: Cast Vote
// @Route: POST /vote
// @Description: Record a vote. The poll must be open, the voter eligible and not have voted yet. A second vote by the same voter answers 409 Conflict, not the 403 Forbidden returned by earlier releases; clients that matched on 403 must also accept 409.
// @Response: 201 {"message": "...", "receipt": {"poll_id": "...", "block_index": 2, "block_hash": "..."}}
func (s *Service) HandleVote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		PollID    string `json:"poll_id"`
		VoterID   string `json:"voter_id"`
		Selection string `json:"selection"`
	}
	ok, err := decodeJSON(r, &req, "poll_id", "voter_id", "selection")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Missing values")
		return
	}

	receipt, err := s.voting.Cast(r.Context(), req.PollID, req.VoterID, req.Selection)
	if err != nil && !errors.Is(err, ledger.ErrPersistence) {
		s.writeFailure(w, err)
		return
	}

	resp := map[string]interface{}{
		"message": "Your vote has been successfully cast and recorded on the blockchain.",
		"receipt": receipt,
	}
	if receipt.Pending {
		resp["message"] = "Your vote has been accepted and will be sealed into the next block."
	}
	if err != nil {
		// The vote is on the chain in memory; only its durability is in doubt.
		s.logger.Warningf("API: vote for poll %s not persisted: %v", req.PollID, err)
		resp["warning"] = "The vote was recorded but could not be written to disk."
	}
	s.writeJSON(w, http.StatusCreated, resp)
}
