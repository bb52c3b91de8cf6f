package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/napper/internal/fanout"
	"github.com/roach88/napper/internal/transport/middleware"
)

// StreamEvent is the SSE event name carrying snapshots.
const StreamEvent = "state"

// Stream is the push channel. The first message is the state at connect
// time; after that every committed write arrives as a full snapshot.
// Comment lines keep idle connections open.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = r.Header.Get(middleware.ClientIDHeader)
	}

	// Subscribe before reading so no commit falls between the two.
	ch := h.hub.Subscribe(clientID)
	defer ch.Close()

	snap, seq, err := h.svc.State(ctx)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sent := seq
	if err := writeSSE(w, fanout.Message{Seq: seq, State: snap}); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		h.log.WarnContext(ctx, "stream not flushable", slog.Any("error", err))
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch.Done():
			return
		case <-h.closing:
			return
		case m := <-ch.C():
			// The connect-time read may already be newer than a queued message.
			if m.Seq < sent {
				continue
			}
			sent = m.Seq
			if err := writeSSE(w, m); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeSSE(w io.Writer, m fanout.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", StreamEvent, data)
	return err
}
