package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/spraycell-core/internal/state"
)

// History sources accepted by /state/history.
const (
	historySourceMemory = "memory"
	historySourceAudit  = "audit"
)

// StateResponse is the body of GET /api/v1/state.
type StateResponse struct {
	Current          string            `json:"current"`
	ValidTransitions []string          `json:"valid_transitions"`
	ForcePolicy      state.ForcePolicy `json:"force_policy"`
	HistoryCapacity  int               `json:"history_capacity"`
}

// handleGetState returns the current state and its outbound edges.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StateResponse{
		Current:          s.state.Current(),
		ValidTransitions: s.state.ValidTransitions(),
		ForcePolicy:      s.state.ForcePolicy(),
		HistoryCapacity:  s.state.HistoryCapacity(),
	})
}

// handleStateHistory returns transition records, newest first.
//
// Query parameters:
//   - limit: maximum records (default: all held in memory; 50 for audit)
//   - source: "memory" (default) for the in-process ring buffer, or
//     "audit" for the persisted transition log
func (s *Server) handleStateHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	source := q.Get("source")
	if source == "" {
		source = historySourceMemory
	}

	switch source {
	case historySourceMemory:
		records := s.state.History(limit)
		writeJSON(w, http.StatusOK, map[string]any{
			"source":  source,
			"records": records,
			"count":   len(records),
		})

	case historySourceAudit:
		if s.audit == nil {
			writeError(w, r, http.StatusServiceUnavailable, "transition audit log is not enabled")
			return
		}
		entries, err := s.audit.Recent(r.Context(), limit)
		if err != nil {
			s.logger.Error("failed to read transition log", "error", err)
			writeError(w, r, http.StatusInternalServerError, "failed to read transition log")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"source":  source,
			"records": entries,
			"count":   len(entries),
		})

	default:
		writeError(w, r, http.StatusBadRequest, "source must be memory or audit")
	}
}
