package api

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"

	"votechain.mini/vcm/internal/types"
)

// @Title: Get Health
// @Route: GET /api/health
// @Description: Returns server health. status is "degraded" while the last chain write failed.
// @Response: {"status": "ok", "chain_length": 1}
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.voting.Ledger().Status()
	resp := map[string]interface{}{
		"status":       "ok",
		"chain_length": st.ChainLength,
	}
	if st.Degraded {
		resp["status"] = "degraded"
		resp["error"] = st.LastError
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// @Title: Get Version
// @Route: GET /api/version
// @Description: Returns VCM version and build details
// @Response: {"version": "...", "status": "ok", "hostname": "..."}
func (s *Service) HandleVersion(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()

	s.writeJSON(w, http.StatusOK, map[string]string{
		"version":    types.Version,
		"build_time": types.BuildTime,
		"status":     "ok",
		"hostname":   hostname,
		"go_ver":     runtime.Version(),
		"os_arch":    fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	})
}

// @Title: Recent Logs
// @Route: GET /api/logs?n=50
// @Description: Most recent log messages, newest first
// @Response: [{"timestamp": "...", "text": "...", "level": "info"}]
func (s *Service) HandleLogs(w http.ResponseWriter, r *http.Request) {
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	s.writeJSON(w, http.StatusOK, s.logger.GetRecent(n))
}
