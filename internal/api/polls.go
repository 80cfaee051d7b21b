package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"votechain.mini/vcm/internal/polls"
)

// pathOrQuery reads a mux path variable, falling back to the query string.
func pathOrQuery(r *http.Request, name string) string {
	if v := mux.Vars(r)[name]; v != "" {
		return v
	}
	return r.URL.Query().Get(name)
}

// @Title: Create Poll
// @Route: POST /create_poll
// @Description: Open a poll. options and voters are comma-separated strings or JSON arrays.
// @Response: 201 {"message": "...", "poll_id": "...", "creator_id": "..."}
func (s *Service) HandleCreatePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Question string     `json:"question"`
		Options  stringList `json:"options"`
		Voters   stringList `json:"voters"`
	}
	ok, err := decodeJSON(r, &req, "question", "options", "voters")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Missing values")
		return
	}

	p, err := s.voting.Polls().Create(r.Context(), polls.CreateRequest{
		Question: req.Question,
		Options:  req.Options,
		Voters:   req.Voters,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	s.logger.Info(fmt.Sprintf("API: Created poll %s", p.ID))
	s.writeJSON(w, http.StatusCreated, map[string]string{
		"message":    "Poll created successfully.",
		"poll_id":    p.ID,
		"creator_id": p.CreatorID,
	})
}

// @Title: Poll Status
// @Route: GET /poll_status/{poll_id}
// @Description: Public view of a poll: question, options and whether it is open
// @Response: {"question": "...", "options": [...], "is_active": true}
func (s *Service) HandlePollStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.voting.Polls().Status(pathOrQuery(r, "poll_id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// @Title: Poll Results
// @Route: POST /results
// @Description: Tally a poll. Allowed once the poll has ended, or with the creator_id while it is open.
// @Response: {"poll_id": "...", "question": "...", "results": {...}, "total_votes": 0, "is_active": false}
func (s *Service) HandleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		PollID    string `json:"poll_id"`
		CreatorID string `json:"creator_id"`
	}
	ok, err := decodeJSON(r, &req, "poll_id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Missing values")
		return
	}

	res, err := s.voting.Results(req.PollID, req.CreatorID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// @Title: End Poll
// @Route: POST /end_poll
// @Description: Close a poll. Requires the creator_id returned at creation.
// @Response: {"message": "Poll ... has been closed."}
func (s *Service) HandleEndPoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		PollID    string `json:"poll_id"`
		CreatorID string `json:"creator_id"`
	}
	ok, err := decodeJSON(r, &req, "poll_id", "creator_id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Missing values")
		return
	}

	if _, err := s.voting.Polls().End(r.Context(), req.PollID, req.CreatorID); err != nil {
		s.writeFailure(w, err)
		return
	}

	s.logger.Info(fmt.Sprintf("API: Poll %s closed", req.PollID))
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Poll %s has been closed.", req.PollID),
	})
}
