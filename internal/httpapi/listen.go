package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/adred-codev/marmot/internal/backend"
	"github.com/adred-codev/marmot/internal/envelope"
	"github.com/adred-codev/marmot/internal/obsmetrics"
)

// handleListen implements GET /api/listen: authenticates the multi-channel
// subscription request, then upgrades to a long-lived SSE stream delivering
// every envelope pulled for guid until the listener unsubscribes, the peer
// disconnects, or the server shuts down.
func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	guid := r.Header.Get("X-Marmot-GUID")
	channelsHeader := r.Header.Get("X-Marmot-Channels")
	signature := r.Header.Get("X-Marmot-Signature")
	if guid == "" || channelsHeader == "" || signature == "" {
		http.Error(w, "missing X-Marmot-GUID, X-Marmot-Channels, or X-Marmot-Signature", http.StatusBadRequest)
		return
	}
	rawChannels := strings.Split(channelsHeader, "|")

	params := envelope.ListenParams{GUID: guid, Channels: rawChannels}
	channels := params.SortedChannels()

	release, reason, ok := s.guard.TryAcquire()
	if !ok {
		obsmetrics.RecordAdmissionRejection(reason)
		http.Error(w, "server at capacity: "+reason, http.StatusServiceUnavailable)
		return
	}
	defer release()

	if !s.backend.CanListen(r.Context().Done(), guid, channels, signature) {
		obsmetrics.RecordAuthRejection("can_listen")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	obsmetrics.RecordListenerOpened()
	defer obsmetrics.RecordListenerClosed()

	pingStop := make(chan struct{})
	defer close(pingStop)
	pingFailed := pingLoop(sse, s.pingInterval, pingStop)

	hints, unsubscribeHints := s.hinter.Subscribe(channels)
	defer unsubscribeHints()

	type pullResult struct {
		entries     []backend.PulledEntry
		unsubscribe bool
		err         error
	}

	for {
		select {
		case <-s.stopping:
			sse.writeEvent("reset", `"reset"`)
			return
		case <-pingFailed:
			return
		case <-r.Context().Done():
			return
		default:
		}

		// Pull runs in its own goroutine so this loop can also select on
		// the NATS wake hint. A hint does not end the in-flight Pull: the
		// loop still waits for that Pull's result, so the hint does not
		// shorten a blocked read. Delivery latency comes from XREAD BLOCK,
		// which wakes as soon as a new entry lands on a watched stream.
		results := make(chan pullResult, 1)
		go func() {
			entries, unsubscribe, err := s.backend.Pull(r.Context().Done(), guid, channels, s.readBlock)
			results <- pullResult{entries: entries, unsubscribe: unsubscribe, err: err}
		}()

		var res pullResult
		select {
		case res = <-results:
		case <-hints:
			res = <-results
		case <-s.stopping:
			<-results
			sse.writeEvent("reset", `"reset"`)
			return
		case <-pingFailed:
			<-results
			return
		case <-r.Context().Done():
			<-results
			return
		}

		if res.err != nil {
			s.logger.Error().Err(res.err).Str("guid", guid).Msg("listen: pull failed")
			return
		}
		if res.unsubscribe {
			return
		}

		for _, entry := range res.entries {
			data, err := json.Marshal(entry.Envelope)
			if err != nil {
				s.logger.Error().Err(err).Msg("listen: marshal envelope failed")
				continue
			}
			if err := sse.writeEvent("whistle", string(data)); err != nil {
				return
			}
			obsmetrics.RecordEntriesPulled(entry.Channel, 1)
			if err := s.backend.Ack(r.Context().Done(), entry.Channel, guid, entry.ID); err != nil {
				s.logger.Error().Err(err).Str("channel", entry.Channel).Str("guid", guid).Msg("listen: ack failed")
				return
			}
		}
	}
}
