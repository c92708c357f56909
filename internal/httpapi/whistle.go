package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/adred-codev/marmot/internal/envelope"
	"github.com/adred-codev/marmot/internal/obsmetrics"
)

type whistleRequest struct {
	Messages []envelope.Envelope `json:"messages"`
}

type whistleResponse struct {
	Published []bool `json:"published"`
}

// handleWhistle implements POST /api/whistle: each message is independently
// checked against can_whistle and pushed if authorized. The HTTP call itself
// never partially fails; per-message outcomes are reflected in the response
// body's boolean list, in request order.
func (s *Server) handleWhistle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req whistleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	for _, env := range req.Messages {
		if err := env.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	done := r.Context().Done()
	published := make([]bool, len(req.Messages))
	for i, env := range req.Messages {
		if !s.rateLimiter.Allow(env.Whistler) {
			obsmetrics.RecordWhistle(env.Channel, "rate_limited")
			published[i] = false
			continue
		}
		if !s.backend.CanWhistle(done, env) {
			obsmetrics.RecordAuthRejection("can_whistle")
			obsmetrics.RecordWhistle(env.Channel, "rejected")
			published[i] = false
			continue
		}

		if _, err := s.backend.Push(done, env); err != nil {
			s.logger.Error().Err(err).Str("channel", env.Channel).Msg("whistle: push failed")
			obsmetrics.RecordWhistle(env.Channel, "store_error")
			published[i] = false
			continue
		}
		obsmetrics.RecordWhistle(env.Channel, "published")
		published[i] = true
		s.hinter.Publish(env.Channel)
	}

	writeJSON(w, http.StatusOK, whistleResponse{Published: published})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
