package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/transport/middleware"
)

// batchRequest is the POST /api/events envelope. A body without "events"
// is read as one bare event.
type batchRequest struct {
	Events *[]ir.NewEvent `json:"events"`
}

// decodeBatch reads either {"events":[...]} or a single event object.
func decodeBatch(body []byte) ([]ir.NewEvent, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, errors.New("body must be a JSON object")
	}

	var req batchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	if req.Events != nil {
		return *req.Events, nil
	}

	var single ir.NewEvent
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}
	return []ir.NewEvent{single}, nil
}

// PostEvents appends a batch atomically and returns the stored events with
// the resulting state.
func (h *Handler) PostEvents(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBody)
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, codeBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	events, err := decodeBatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "malformed JSON: "+err.Error())
		return
	}

	res, err := h.svc.Submit(r.Context(), r.Header.Get(middleware.ClientIDHeader), events)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetEvents lists the log after ?since (all when omitted).
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, codeBadRequest, "since must be a non-negative integer")
			return
		}
		since = n
	}

	events, err := h.svc.Events(r.Context(), since)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// GetState returns the current snapshot. The log position is in X-Seq.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	snap, seq, err := h.svc.State(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	w.Header().Set("X-Seq", strconv.FormatInt(seq, 10))
	writeJSON(w, http.StatusOK, snap)
}

var errBodyTooLarge = errors.New("request body too large")

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(http.MaxBytesReader(w, r.Body, limit)); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, errBodyTooLarge
		}
		return nil, errors.New("read request body")
	}
	return buf.Bytes(), nil
}
