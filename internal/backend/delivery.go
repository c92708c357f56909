package backend

import (
	"fmt"
	"time"

	"github.com/adred-codev/marmot/internal/envelope"
	"github.com/adred-codev/marmot/internal/redisstore"
)

// Push appends env to its channel's stream, returning the assigned id. The
// caller is expected to have already evaluated CanWhistle; push itself does
// no authorization.
func (b *Backend) Push(done <-chan struct{}, env envelope.Envelope) (redisstore.StreamID, error) {
	id, err := b.appendEntry(done, env.Channel, env)
	if err != nil {
		return redisstore.StreamID{}, fmt.Errorf("backend: push: %w", err)
	}
	return id, nil
}

func (b *Backend) appendEntry(done <-chan struct{}, channel string, env envelope.Envelope) (redisstore.StreamID, error) {
	fields := map[string]string{
		"content":   env.Content,
		"whistler":  env.Whistler,
		"level":     string(env.Level),
		"signature": env.Signature,
	}
	return b.store.XAdd(done, streamKey(channel), fields)
}

func envelopeFromFields(channel string, fields map[string]string) envelope.Envelope {
	return envelope.Envelope{
		Channel:   channel,
		Content:   fields["content"],
		Whistler:  fields["whistler"],
		Level:     envelope.Level(fields["level"]),
		Signature: fields["signature"],
	}
}

// PulledEntry is one delivered (id, envelope) pair from Pull.
type PulledEntry struct {
	Channel  string
	ID       redisstore.StreamID
	Envelope envelope.Envelope
}

// Pull looks up guid's cursor on each of channels, drops channels with no
// cursor (the listener was removed, or the channel deleted), and performs a
// blocking multi-stream read over the rest. unsubscribe is true when no
// valid channel remained — the caller should terminate the delivery loop.
// A call that times out with nothing new returns (nil, false, nil): the
// caller re-checks liveness and calls Pull again.
func (b *Backend) Pull(done <-chan struct{}, guid string, channels []string, block time.Duration) (entries []PulledEntry, unsubscribe bool, err error) {
	var reqs []redisstore.XReadRequest
	var validChannels []string

	for _, ch := range channels {
		cursorBytes, err := b.store.HGet(done, listenersKey(ch), guid)
		if err != nil {
			return nil, false, fmt.Errorf("backend: pull: cursor lookup %s/%s: %w", ch, guid, err)
		}
		if cursorBytes == nil {
			continue
		}
		id, err := redisstore.ParseStreamID(string(cursorBytes))
		if err != nil {
			return nil, false, fmt.Errorf("backend: pull: %w", err)
		}
		reqs = append(reqs, redisstore.XReadRequest{Key: streamKey(ch), AfterID: id})
		validChannels = append(validChannels, ch)
	}

	if len(reqs) == 0 {
		return nil, true, nil
	}

	result, err := b.store.XRead(done, block, reqs)
	if err != nil {
		return nil, false, fmt.Errorf("backend: pull: %w", err)
	}

	for _, ch := range validChannels {
		for _, se := range result[streamKey(ch)] {
			entries = append(entries, PulledEntry{
				Channel:  ch,
				ID:       se.ID,
				Envelope: envelopeFromFields(ch, se.Fields),
			})
		}
	}
	return entries, false, nil
}

// Ack advances listener's cursor on channel to id. Callers only ack ids
// they just read via Pull, so monotonicity isn't enforced here.
func (b *Backend) Ack(done <-chan struct{}, channel, listener string, id redisstore.StreamID) error {
	if _, err := b.store.HSet(done, listenersKey(channel), listener, id.String()); err != nil {
		return fmt.Errorf("backend: ack %s/%s: %w", channel, listener, err)
	}
	return nil
}

// Trim trims channel's stream to entries at or after the minimum cursor
// across its listeners, or to a single entry if it has none. It returns the
// number of entries removed.
func (b *Backend) Trim(done <-chan struct{}, channel string) (int64, error) {
	listeners, err := b.store.HGetAll(done, listenersKey(channel))
	if err != nil {
		return 0, fmt.Errorf("backend: trim %s: %w", channel, err)
	}
	if len(listeners) == 0 {
		n, err := b.store.XTrimMaxLen(done, streamKey(channel), 1)
		if err != nil {
			return 0, fmt.Errorf("backend: trim %s: %w", channel, err)
		}
		return n, nil
	}

	var min redisstore.StreamID
	first := true
	for _, cursorStr := range listeners {
		id, err := redisstore.ParseStreamID(cursorStr)
		if err != nil {
			return 0, fmt.Errorf("backend: trim %s: %w", channel, err)
		}
		if first || id.Less(min) {
			min = id
			first = false
		}
	}

	n, err := b.store.XTrimMinID(done, streamKey(channel), min)
	if err != nil {
		return 0, fmt.Errorf("backend: trim %s: %w", channel, err)
	}
	return n, nil
}

// TrimAll runs Trim on every channel in the channel set, sequentially.
func (b *Backend) TrimAll(done <-chan struct{}) error {
	channels, err := b.scanChannels(done)
	if err != nil {
		return fmt.Errorf("backend: trim_all: %w", err)
	}
	for _, channel := range channels {
		if _, err := b.Trim(done, channel); err != nil {
			return fmt.Errorf("backend: trim_all: %w", err)
		}
	}
	return nil
}
