package httpapi

import (
	"net/http"
)

type healthResponse struct {
	Status   string `json:"status"`
	Clients  int    `json:"clients"`
	Channels int    `json:"channels"`
}

// handleHealth implements GET /healthz: liveness is "the server's stop flag
// is unset and the backend answered a Stats call", mirroring the teacher's
// handleHealth status derivation from live server state. The trim loop's
// state is not checked.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.stopping:
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "shutting_down"})
		return
	default:
	}

	stats, err := s.backend.Stats(r.Context().Done())
	if err != nil {
		s.logger.Error().Err(err).Msg("healthz: backend stats failed")
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "backend_unreachable"})
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Clients:  stats.ClientCount,
		Channels: stats.ChannelCount,
	})
}
