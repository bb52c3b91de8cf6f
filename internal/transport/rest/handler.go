// Package rest is napper's HTTP API: event submission, state reads, the
// Server-Sent Events push channel, history queries and health probes.
package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/roach88/napper/internal/engine"
	"github.com/roach88/napper/internal/fanout"
	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/model"
	"github.com/roach88/napper/internal/snapshot"
	"github.com/roach88/napper/internal/store"
)

// Service is the engine surface the handlers use.
type Service interface {
	Submit(ctx context.Context, origin string, events []ir.NewEvent) (engine.Result, error)
	State(ctx context.Context) (snapshot.Snapshot, int64, error)
	Events(ctx context.Context, since int64) ([]ir.Event, error)
	Sleeps(ctx context.Context, f store.SleepFilter) ([]model.Sleep, error)
	Diapers(ctx context.Context, limit uint64) ([]model.Diaper, error)
	Stats(ctx context.Context, days int) (engine.Stats, error)
}

// Subscriber opens push channels.
type Subscriber interface {
	Subscribe(clientID string) *fanout.Channel
}

var (
	_ Service    = (*engine.Engine)(nil)
	_ Subscriber = (*fanout.Hub)(nil)
)

// Handler serves the /api routes.
type Handler struct {
	svc       Service
	hub       Subscriber
	heartbeat time.Duration
	maxBody   int64
	log       *slog.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

// Options tunes a Handler. Zero values pick defaults.
type Options struct {
	Heartbeat    time.Duration
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc Service, hub Subscriber, opts Options) *Handler {
	h := &Handler{
		svc:       svc,
		hub:       hub,
		heartbeat: opts.Heartbeat,
		maxBody:   opts.MaxBodyBytes,
		log:       opts.Logger,
		closing:   make(chan struct{}),
	}
	if h.heartbeat <= 0 {
		h.heartbeat = 25 * time.Second
	}
	if h.maxBody <= 0 {
		h.maxBody = 1 << 20
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	return h
}

// CloseStreams ends every open push channel and makes new ones return at
// once. Other requests are unaffected, so a submit already in flight still
// gets its response while the server drains.
func (h *Handler) CloseStreams() {
	h.closeOnce.Do(func() { close(h.closing) })
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
