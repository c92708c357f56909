// Package notify provides a cross-replica wake hint over NATS: a tiny
// per-channel nudge published on successful push that listeners can
// subscribe to. internal/httpapi's listen loop selects on the hint but
// still waits for its in-flight Pull, so a hint does not cut a blocked read
// short. The backend's XREAD BLOCK remains the source of truth for
// delivery, so a down or disabled NATS never loses a message.
package notify

import (
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

func subject(channel string) string { return "marmot.push." + channel }

// Hinter publishes and subscribes to wake hints. A zero-value Hinter (one
// returned by Dial with an empty url, or by a Dial that failed) is disabled:
// Publish is a no-op and Subscribe returns a channel that is never sent to.
type Hinter struct {
	conn   *nats.Conn
	logger zerolog.Logger

	warnedAt   atomic.Value // time.Time
	warnPeriod time.Duration
}

// Dial connects to url and returns a Hinter. An empty url disables the
// hinter entirely: every method becomes a safe no-op. A non-empty url that
// fails to connect also disables the hinter, after logging once at WARN,
// since NATS is never load-bearing for correctness.
func Dial(url string, logger zerolog.Logger) *Hinter {
	h := &Hinter{logger: logger, warnPeriod: time.Minute}
	if url == "" {
		return h
	}

	conn, err := nats.Connect(url, nats.MaxReconnects(5), nats.ReconnectWait(2*time.Second))
	if err != nil {
		logger.Warn().Err(err).Str("url", url).Msg("notify: NATS connect failed, wake hints disabled")
		return h
	}
	h.conn = conn
	return h
}

// Enabled reports whether this Hinter holds a live NATS connection.
func (h *Hinter) Enabled() bool { return h.conn != nil }

// Publish sends a wake hint for channel. Failures are logged at WARN, rate
// limited to once per warnPeriod, and otherwise swallowed.
func (h *Hinter) Publish(channel string) {
	if h.conn == nil {
		return
	}
	if err := h.conn.Publish(subject(channel), []byte(channel)); err != nil {
		h.warnRateLimited(err)
	}
}

// Subscribe returns a channel that receives a value every time a wake hint
// arrives for any of channels, and an unsubscribe func to call when the
// listener's loop exits. When the Hinter is disabled, it returns a nil
// channel (which blocks forever in a select, the correct no-op) and a
// no-op unsubscribe.
func (h *Hinter) Subscribe(channels []string) (hints <-chan struct{}, unsubscribe func()) {
	if h.conn == nil {
		return nil, func() {}
	}

	ch := make(chan struct{}, 1)
	notify := func(*nats.Msg) {
		select {
		case ch <- struct{}{}:
		default:
		}
	}

	subs := make([]*nats.Subscription, 0, len(channels))
	for _, c := range channels {
		sub, err := h.conn.Subscribe(subject(c), notify)
		if err != nil {
			h.warnRateLimited(err)
			continue
		}
		subs = append(subs, sub)
	}

	return ch, func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}
}

func (h *Hinter) warnRateLimited(err error) {
	now := time.Now()
	if last, ok := h.warnedAt.Load().(time.Time); ok && now.Sub(last) < h.warnPeriod {
		return
	}
	h.warnedAt.Store(now)
	h.logger.Warn().Err(err).Msg("notify: NATS operation failed, wake hints degraded")
}

// Close releases the underlying NATS connection, if any.
func (h *Hinter) Close() {
	if h.conn != nil {
		h.conn.Close()
	}
}
