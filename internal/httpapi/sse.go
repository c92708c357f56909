package httpapi

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// sseWriter frames events onto an http.ResponseWriter using marmot's
// CRLF-separated SSE encoding and flushes after every write. Writes are
// serialized with a mutex since the ping goroutine and the delivery loop
// both write to the same connection.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("httpapi: response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) writeEvent(event, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\r\ndata: %s\r\n\r\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) writePingComment() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, ": ping\r\n\r\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// pingLoop writes a keep-alive comment every interval until stop fires. It
// is the peer-disconnect detector: the first failed write closes failed and
// returns, the same write-deadline-then-close shape the teacher's write
// pump uses for its own ping frames, adapted to an http.Flusher instead of a
// websocket connection.
func pingLoop(sse *sseWriter, interval time.Duration, stop <-chan struct{}) (failed <-chan struct{}) {
	ch := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := sse.writePingComment(); err != nil {
					close(ch)
					return
				}
			}
		}
	}()
	return ch
}
