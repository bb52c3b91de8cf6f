package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/roach88/napper/internal/store"
)

const (
	defaultStatsDays = 7
	maxStatsDays     = 90
)

// GetSleeps lists sessions, newest first. ?from and ?to bound the start
// time (RFC 3339); ?limit defaults to 50.
func (h *Handler) GetSleeps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f store.SleepFilter

	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, p.key+" must be an RFC 3339 timestamp")
			return
		}
		*p.dst = &t
	}

	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	f.Limit = limit

	sleeps, err := h.svc.Sleeps(r.Context(), f)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sleeps)
}

// GetDiapers lists diaper changes, newest first.
func (h *Handler) GetDiapers(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r.URL.Query().Get("limit"))
	if !ok {
		return
	}
	diapers, err := h.svc.Diapers(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diapers)
}

// GetStats summarizes the last ?days local days (default 7, at most 90).
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	days := defaultStatsDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxStatsDays {
			writeError(w, http.StatusBadRequest, codeBadRequest, "days must be an integer in 1..90")
			return
		}
		days = n
	}

	stats, err := h.svc.Stats(r.Context(), days)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// parseLimit reads an optional positive limit; zero means the default.
func parseLimit(w http.ResponseWriter, v string) (uint64, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil || n == 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}
