// Package server wires together backend, admission, notify, and httpapi
// into one running process and owns the startup/shutdown sequence, the
// same role the teacher's root Server.Start/Shutdown methods play, adapted
// from draining websocket clients to signalling SSE listeners.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/marmot/internal/admission"
	"github.com/adred-codev/marmot/internal/backend"
	"github.com/adred-codev/marmot/internal/config"
	"github.com/adred-codev/marmot/internal/httpapi"
	"github.com/adred-codev/marmot/internal/marmotlog"
	"github.com/adred-codev/marmot/internal/notify"
	"github.com/adred-codev/marmot/internal/obsmetrics"
	"github.com/adred-codev/marmot/internal/redisstore"
)

// Lifecycle owns every long-lived component marmotd starts at boot and
// stops at shutdown: the redis pool, the backend, the admission guard's
// CPU sampler, the trim loop, the metrics collector, and the HTTP listener.
type Lifecycle struct {
	env    *config.Env
	logger zerolog.Logger

	store   *redisstore.Client
	backend *backend.Backend
	guard   *admission.Guard
	limiter *admission.WhistleLimiter
	hinter  *notify.Hinter
	api     *httpapi.Server
	metrics *obsmetrics.Collector

	httpSrv  *http.Server
	listener net.Listener

	sampleCtx    context.Context
	sampleCancel context.CancelFunc

	trimCtx    context.Context
	trimCancel context.CancelFunc
	trimDone   chan struct{}
}

// New builds a Lifecycle from env and logger but does not start anything.
// If docPath is non-empty, the channel/client ACL document at that path is
// loaded into the backend before New returns.
func New(env *config.Env, logger zerolog.Logger, docPath string) (*Lifecycle, error) {
	store := redisstore.New(env.RedisURL, env.RedisMaxConnections, env.RedisDialTimeout, env.RedisCommandTimeout)
	b := backend.New(store, logger)

	if docPath != "" {
		doc, err := config.Load(docPath)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("server: load config document: %w", err)
		}
		if err := b.Load(nil, doc); err != nil {
			store.Close()
			return nil, fmt.Errorf("server: seed backend from config document: %w", err)
		}
		logger.Info().Str("path", docPath).Msg("server: loaded config document")
	}

	guard := admission.NewGuard(env.MaxConnections, env.CPURejectThreshold, logger)
	limiter := admission.NewWhistleLimiter(env.WhistleRatePerSec, env.WhistleRateBurst)
	hinter := notify.Dial(env.NatsURL, logger)

	api := httpapi.New(b, guard, limiter, hinter, logger, env.PingInterval, env.ReadBlock)
	metrics := obsmetrics.NewCollector(b, guard)

	return &Lifecycle{
		env:      env,
		logger:   logger,
		store:    store,
		backend:  b,
		guard:    guard,
		limiter:  limiter,
		hinter:   hinter,
		api:      api,
		metrics:  metrics,
		trimDone: make(chan struct{}),
	}, nil
}

// Start launches the CPU sampler, the trim loop, the metrics collector, and
// the HTTP listener, then returns immediately; the HTTP server runs its
// accept loop on its own goroutine.
func (l *Lifecycle) Start() error {
	l.sampleCtx, l.sampleCancel = context.WithCancel(context.Background())
	l.guard.StartSampling(l.sampleCtx, l.env.CPUSampleInterval)

	l.trimCtx, l.trimCancel = context.WithCancel(context.Background())
	go func() {
		defer close(l.trimDone)
		l.backend.TrimLoop(l.trimCtx, l.env.TrimFreq, func(err error, d time.Duration) {
			if err == nil {
				obsmetrics.RecordTrim(d)
			}
		})
	}()

	l.metrics.Start(l.env.MetricsInterval)

	listener, err := net.Listen("tcp", l.env.Addr)
	if err != nil {
		l.trimCancel()
		l.sampleCancel()
		return fmt.Errorf("server: listen: %w", err)
	}
	l.listener = listener

	l.httpSrv = &http.Server{
		Handler:      l.api.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived; writes are paced by the ping loop instead.
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := l.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			l.logger.Error().Err(err).Msg("server: accept loop error")
		}
	}()

	l.logger.Info().Str("addr", l.env.Addr).Msg("server: listening")
	return nil
}

// Shutdown flips the stop flag so every active listener emits a terminal
// reset event and returns, drains the HTTP server within ctx's deadline,
// stops the trim loop and CPU sampler, and closes the redis pool.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	l.logger.Info().Msg("server: shutting down")

	l.api.Stop()

	var shutdownErr error
	if l.httpSrv != nil {
		if err := l.httpSrv.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("server: http shutdown: %w", err)
		}
	}

	if l.trimCancel != nil {
		l.trimCancel()
		<-l.trimDone
	}
	if l.sampleCancel != nil {
		l.sampleCancel()
	}
	l.metrics.Stop()
	l.hinter.Close()

	if err := l.store.Close(); err != nil && shutdownErr == nil {
		shutdownErr = fmt.Errorf("server: close redis pool: %w", err)
	}

	l.logger.Info().Msg("server: shutdown complete")
	return shutdownErr
}

// NewLogger is a thin convenience wrapper so cmd/marmotd doesn't need to
// import internal/marmotlog directly in addition to internal/server.
func NewLogger(env *config.Env) zerolog.Logger {
	return marmotlog.New(env.LogLevel, env.LogFormat)
}
