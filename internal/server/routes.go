package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"roomleader/internal/broadcast"
	"roomleader/internal/commit"
	"roomleader/internal/config"
	"roomleader/internal/db"
	"roomleader/internal/election"
	"roomleader/internal/events"
	"roomleader/internal/metrics"
	"roomleader/internal/notify"
	"roomleader/internal/rooms"
	"roomleader/internal/scheduler"
	"roomleader/internal/session"
	"roomleader/internal/wshub"
)

const (
	directoryTTL      = 2 * time.Second
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Routes builds the HTTP surface. gatherer may be nil to leave out /metrics.
func (s *Server) Routes(gatherer prometheus.Gatherer) http.Handler {
	r := mux.NewRouter()
	r.Use(requestLogger)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/rooms/{roomId}/election", s.handleElectionState).Methods(http.MethodGet)
	r.HandleFunc("/ws/{roomId}", s.handleWebSocket)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().Str("module", "http").Str("method", r.Method).Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).Msg("request")
	})
}

// Run wires every component from cfg and serves until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.Migrate(ctx); err != nil {
		return err
	}
	log.Info().Str("module", "db").Msg("database connected and migrations applied")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	directory := rooms.NewDirectory(database, directoryTTL)
	go directory.Sweep(ctx, time.Minute)

	bus := events.NewBus()
	defer bus.Close()
	go notify.NewForwarder(rdb, bus).Run(ctx)

	pub := broadcast.NewBroadcaster(rdb)
	timers := scheduler.NewTimers()
	defer timers.Stop()

	elections := election.NewController(
		session.NewStore(rdb, cfg.SessionTTL),
		directory,
		pub,
		commit.New(database, bus),
		timers,
		election.Options{VolunteerDuration: cfg.VolunteerDuration, Metrics: m},
	)
	hub := wshub.NewHub(pub, m.Connections)

	s := &Server{
		Elections:      elections,
		Hub:            hub,
		Publisher:      pub,
		Auth:           NewAuthenticator(cfg.JWTSecret),
		Metrics:        m,
		OriginPatterns: cfg.AllowedOrigins,
		Checks: []HealthCheck{
			{Name: "postgres", Check: database.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		},
	}

	addr := "0.0.0.0:" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(reg),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("roomleader server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	hub.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
	return nil
}
