// Package httpapi exposes marmot's two wire endpoints (POST /api/whistle,
// GET /api/listen) plus the ambient /healthz and /metrics surfaces every
// service in this pack ships alongside its public API.
package httpapi

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/marmot/internal/admission"
	"github.com/adred-codev/marmot/internal/backend"
	"github.com/adred-codev/marmot/internal/notify"
	"github.com/adred-codev/marmot/internal/obsmetrics"
)

// Server holds everything the HTTP handlers need: the backend, the
// resource-protection guards in front of it, and the stop flag that signals
// every active listener to emit a reset event and return.
type Server struct {
	backend     *backend.Backend
	guard       *admission.Guard
	rateLimiter *admission.WhistleLimiter
	hinter      *notify.Hinter
	logger      zerolog.Logger

	pingInterval time.Duration
	readBlock    time.Duration

	stopping chan struct{}
}

// New wires a Server. pingInterval and readBlock come from
// internal/config.Env (MARMOT_PING_INTERVAL, MARMOT_READ_BLOCK).
func New(
	b *backend.Backend,
	guard *admission.Guard,
	rateLimiter *admission.WhistleLimiter,
	hinter *notify.Hinter,
	logger zerolog.Logger,
	pingInterval, readBlock time.Duration,
) *Server {
	return &Server{
		backend:      b,
		guard:        guard,
		rateLimiter:  rateLimiter,
		hinter:       hinter,
		logger:       logger,
		pingInterval: pingInterval,
		readBlock:    readBlock,
		stopping:     make(chan struct{}),
	}
}

// Router builds the http.Handler mounting every endpoint.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/whistle", s.handleWhistle)
	mux.HandleFunc("/api/listen", s.handleListen)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", obsmetrics.Handler())
	return mux
}

// Stop flips the stop flag: every active listener's delivery loop observes
// it on its next iteration, emits a terminal reset event, and returns. Safe
// to call exactly once; internal/server.Shutdown owns that contract.
func (s *Server) Stop() {
	close(s.stopping)
}
