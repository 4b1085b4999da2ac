package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

func (s *server) handleLeads(w http.ResponseWriter, r *http.Request) {
	if s.deps.Query == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "unavailable", "queries are not configured")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeErrorStatus(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	leads, err := s.deps.Query.Leads(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leads)
}

func (s *server) handleScoreAll(w http.ResponseWriter, r *http.Request) {
	if s.deps.Query == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "unavailable", "queries are not configured")
		return
	}

	leads, stats, err := s.deps.Query.ScoreAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("X-Dropped-Rows", strconv.Itoa(stats.Dropped))
	writeJSON(w, http.StatusOK, leads)
}

func (s *server) handleScoreLead(w http.ResponseWriter, r *http.Request) {
	if s.deps.Query == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "unavailable", "queries are not configured")
		return
	}

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "bad_request", "body must be a JSON object")
		return
	}

	out, err := s.deps.Query.ScoreLead(r.Context(), payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// handleLeadCount always answers 200; -1 signals that the count could not
// be produced.
func (s *server) handleLeadCount(w http.ResponseWriter, r *http.Request) {
	total := int64(-1)
	if s.deps.Query != nil {
		n, err := s.deps.Query.Count(r.Context())
		if err != nil {
			zap.L().Error("api: lead count", zap.Error(err))
			n = -1
		}
		total = n
	} else {
		zap.L().Warn("api: lead count requested without a query engine")
	}
	writeJSON(w, http.StatusOK, map[string]int64{"total": total})
}
