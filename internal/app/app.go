// Package app wires the store, the coordinator, the fan-out hub and the
// HTTP API into one server process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/napper/internal/config"
	"github.com/roach88/napper/internal/engine"
	"github.com/roach88/napper/internal/fanout"
	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/snapshot"
	"github.com/roach88/napper/internal/store"
	"github.com/roach88/napper/internal/transport/middleware"
	"github.com/roach88/napper/internal/transport/rest"
)

// Server is a running napper instance.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	engine   *engine.Engine
	hub      *fanout.Hub
	limiter  *middleware.RateLimiter
	http     *http.Server
	listener net.Listener

	// stopStreams ends open push channels when shutdown starts.
	stopStreams func()
}

// New opens the store, resumes the coordinator and binds the listen
// address. Nothing is served until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	srv, err := newServer(ctx, cfg, logger, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	return srv, nil
}

func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, s *store.Store) (*Server, error) {
	validator, err := ir.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	hub := fanout.NewHub()
	assembler := snapshot.NewAssembler(cfg.Schedule.Location, time.Now)
	eng, err := engine.New(ctx, s, validator, assembler, engine.WithBroadcaster(hub))
	if err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}

	mws := []middleware.Middleware{
		middleware.Recovery(logger),
		middleware.RequestID,
		middleware.Logger(logger),
		middleware.CORS(cfg.CORS),
	}
	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.RateLimit)
		mws = append(mws, limiter.Middleware)
	}

	handler := rest.NewHandler(eng, hub, rest.Options{
		Heartbeat:    cfg.Stream.Heartbeat,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
	})
	health := rest.NewHealthHandler(s.DB(), eng, BuildVersion())

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	httpSrv := &http.Server{
		Handler:      rest.NewRouter(handler, health, middleware.Chain(mws...)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	// Shutdown waits for active requests; push channels never finish on
	// their own.
	httpSrv.RegisterOnShutdown(handler.CloseStreams)

	return &Server{
		cfg:         cfg,
		logger:      logger,
		store:       s,
		engine:      eng,
		hub:         hub,
		limiter:     limiter,
		http:        httpSrv,
		listener:    ln,
		stopStreams: handler.CloseStreams,
	}, nil
}

// Addr is the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Engine exposes the coordinator, for in-process callers such as replay.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// Run serves until ctx is cancelled or serving fails. On shutdown the HTTP
// server drains first, so in-flight submissions still commit, then the
// coordinator stops.
func (s *Server) Run(ctx context.Context) error {
	engineCtx, stopEngine := context.WithCancel(context.WithoutCancel(ctx))
	defer stopEngine()
	defer s.stopStreams()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.engine.Run(engineCtx)
	})

	if s.limiter != nil {
		g.Go(func() error {
			s.limiter.Run(gctx, s.cfg.RateLimit.CleanupInterval)
			return nil
		})
	}

	g.Go(func() error {
		s.logger.Info("http server listening", slog.String("addr", s.Addr().String()))
		if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down", slog.Int("streams", s.hub.Len()))

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		err := s.http.Shutdown(shutdownCtx)
		stopEngine()
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close releases the store. Call after Run returns.
func (s *Server) Close() error {
	return s.store.Close()
}

// Serve runs a server built from cfg until ctx ends.
func Serve(ctx context.Context, cfg *config.Config) error {
	logger := NewLogger(cfg.Log)
	logger.Info("starting napper",
		slog.String("version", BuildVersion()),
		slog.String("database", cfg.Database.Path),
		slog.String("time_zone", cfg.Schedule.Location.String()),
	)

	srv, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()
	return srv.Run(ctx)
}
