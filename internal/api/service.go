package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"votechain.mini/vcm/internal/ledger"
	"votechain.mini/vcm/internal/logger"
	"votechain.mini/vcm/internal/polls"
	"votechain.mini/vcm/internal/voting"
)

// Backupper is implemented by stores that can write point-in-time copies.
type Backupper interface {
	BackupCurrent(maxBackups int) (string, error)
}

// Service handles API requests
type Service struct {
	voting     *voting.Service
	backups    Backupper
	maxBackups int
	logger     *logger.Logger
}

// NewService creates a new API service. backups may be nil when the store
// has no backup support.
func NewService(v *voting.Service, backups Backupper, maxBackups int, logger *logger.Logger) *Service {
	return &Service{
		voting:     v,
		backups:    backups,
		maxBackups: maxBackups,
		logger:     logger,
	}
}

// writeJSON writes a JSON response
func (s *Service) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeFailure maps a domain error to its HTTP status and message.
func (s *Service) writeFailure(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Errorf("API: %v", err)
	}
	s.writeError(w, status, message)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, polls.ErrPollNotFound):
		return http.StatusNotFound, "Poll not found."
	case errors.Is(err, polls.ErrPollClosed):
		return http.StatusForbidden, "This poll has ended."
	case errors.Is(err, polls.ErrNotEligible):
		return http.StatusForbidden, "You are not eligible to vote in this poll."
	case errors.Is(err, polls.ErrInvalidSelection):
		return http.StatusBadRequest, "Invalid selection."
	case errors.Is(err, polls.ErrInvalidPoll):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, polls.ErrResultsNotPublic):
		return http.StatusForbidden, "Results are not public yet. The poll is still active."
	case errors.Is(err, polls.ErrForbidden):
		return http.StatusForbidden, "Invalid creator ID. You do not have permission to end this poll."
	case errors.Is(err, ledger.ErrAlreadyVoted):
		return http.StatusConflict, "You have already voted in this poll."
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Vote not recorded: proof of work did not finish in time."
	default:
		return http.StatusInternalServerError, "Internal server error."
	}
}

// decodeJSON reads the request body into v and reports whether every named
// field was present.
func decodeJSON(r *http.Request, v interface{}, required ...string) (bool, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return false, err
	}
	for _, key := range required {
		if _, ok := raw[key]; !ok {
			return false, nil
		}
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(buf, v)
}

// stringList accepts either a JSON array of strings or a comma-separated
// string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("expected a string or a list of strings")
	}
	*l = polls.ParseList(joined)
	return nil
}
