package backend

import (
	"fmt"

	"github.com/adred-codev/marmot/internal/envelope"
	"github.com/adred-codev/marmot/internal/redisstore"
)

// AddClient upserts guid's public key in the client registry. Idempotent.
func (b *Backend) AddClient(done <-chan struct{}, guid, pubkey string) error {
	if _, err := b.store.HSet(done, keyClients, guid, pubkey); err != nil {
		return fmt.Errorf("backend: add_client %s: %w", guid, err)
	}
	return nil
}

// RemoveClient removes guid from the client registry and scans every
// channel's listener-cursor map and whistler set, removing guid from each.
// The scan is cursor-based so a large channel count never blocks.
func (b *Backend) RemoveClient(done <-chan struct{}, guid string) error {
	if _, err := b.store.HDel(done, keyClients, guid); err != nil {
		return fmt.Errorf("backend: remove_client %s: %w", guid, err)
	}

	channels, err := b.scanChannels(done)
	if err != nil {
		return fmt.Errorf("backend: remove_client %s: %w", guid, err)
	}
	for _, channel := range channels {
		if _, err := b.store.HDel(done, listenersKey(channel), guid); err != nil {
			return fmt.Errorf("backend: remove_client %s from %s listeners: %w", guid, channel, err)
		}
		if _, err := b.store.SRem(done, whistlersKey(channel), guid); err != nil {
			return fmt.Errorf("backend: remove_client %s from %s whistlers: %w", guid, channel, err)
		}
	}
	return nil
}

// scanChannels returns every channel name via cursor-based SSCAN iteration.
func (b *Backend) scanChannels(done <-chan struct{}) ([]string, error) {
	var channels []string
	cursor := "0"
	for {
		next, members, err := b.store.SScan(done, keyChannels, cursor, scanCount)
		if err != nil {
			return nil, err
		}
		channels = append(channels, members...)
		cursor = next
		if cursor == "0" {
			break
		}
	}
	return channels, nil
}

// ChannelACL names who may whistle and who may listen on a channel.
type ChannelACL struct {
	Whistlers []string
	Listeners []string
}

// AddChannel ensures the stream exists (appending a sentinel entry if not),
// reconciles the whistler set and listener-cursor map against acl, and adds
// name to the channel set. Idempotent.
func (b *Backend) AddChannel(done <-chan struct{}, name string, acl ChannelACL) error {
	lastID, err := b.ensureStream(done, name)
	if err != nil {
		return fmt.Errorf("backend: add_channel %s: %w", name, err)
	}
	if err := b.reconcileWhistlers(done, name, acl.Whistlers); err != nil {
		return fmt.Errorf("backend: add_channel %s: %w", name, err)
	}
	if err := b.reconcileListeners(done, name, acl.Listeners, lastID); err != nil {
		return fmt.Errorf("backend: add_channel %s: %w", name, err)
	}
	if _, err := b.store.SAdd(done, keyChannels, name); err != nil {
		return fmt.Errorf("backend: add_channel %s: %w", name, err)
	}
	return nil
}

// ensureStream creates the channel's stream with a sentinel entry if it
// doesn't already exist, and returns the current last-generated id either
// way.
func (b *Backend) ensureStream(done <-chan struct{}, channel string) (redisstore.StreamID, error) {
	last, ok, err := b.store.XRevRangeLast(done, streamKey(channel))
	if err != nil {
		return redisstore.StreamID{}, err
	}
	if ok {
		return last.ID, nil
	}
	sentinel := envelope.Envelope{Channel: channel, Content: "", Whistler: "", Level: envelope.LevelInfo}
	return b.appendEntry(done, channel, sentinel)
}

func (b *Backend) reconcileWhistlers(done <-chan struct{}, channel string, want []string) error {
	current, err := b.store.SMembers(done, whistlersKey(channel))
	if err != nil {
		return err
	}
	wantSet := toSet(want)
	currentSet := toSet(current)
	for guid := range wantSet {
		if !currentSet[guid] {
			if _, err := b.store.SAdd(done, whistlersKey(channel), guid); err != nil {
				return err
			}
		}
	}
	for guid := range currentSet {
		if !wantSet[guid] {
			if _, err := b.store.SRem(done, whistlersKey(channel), guid); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Backend) reconcileListeners(done <-chan struct{}, channel string, want []string, lastID redisstore.StreamID) error {
	current, err := b.store.HGetAll(done, listenersKey(channel))
	if err != nil {
		return err
	}
	wantSet := toSet(want)
	for guid := range wantSet {
		if _, ok := current[guid]; !ok {
			if _, err := b.store.HSet(done, listenersKey(channel), guid, lastID.String()); err != nil {
				return err
			}
		}
	}
	for guid := range current {
		if !wantSet[guid] {
			if _, err := b.store.HDel(done, listenersKey(channel), guid); err != nil {
				return err
			}
		}
	}
	return nil
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}

// RemoveChannel deletes the stream, listener-cursor map, and whistler set
// for name, and removes it from the channel set.
func (b *Backend) RemoveChannel(done <-chan struct{}, name string) error {
	if _, err := b.store.Del(done, streamKey(name)); err != nil {
		return fmt.Errorf("backend: remove_channel %s: %w", name, err)
	}
	if _, err := b.store.Del(done, listenersKey(name)); err != nil {
		return fmt.Errorf("backend: remove_channel %s: %w", name, err)
	}
	if _, err := b.store.Del(done, whistlersKey(name)); err != nil {
		return fmt.Errorf("backend: remove_channel %s: %w", name, err)
	}
	if _, err := b.store.SRem(done, keyChannels, name); err != nil {
		return fmt.Errorf("backend: remove_channel %s: %w", name, err)
	}
	return nil
}

// AddListener grants guid a cursor on channel, initialized to the channel's
// current last-generated id (so the new listener sees no history).
func (b *Backend) AddListener(done <-chan struct{}, channel, guid string) error {
	last, ok, err := b.store.XRevRangeLast(done, streamKey(channel))
	if err != nil {
		return fmt.Errorf("backend: add_listener %s/%s: %w", channel, guid, err)
	}
	id := redisstore.ZeroStreamID
	if ok {
		id = last.ID
	}
	if _, err := b.store.HSet(done, listenersKey(channel), guid, id.String()); err != nil {
		return fmt.Errorf("backend: add_listener %s/%s: %w", channel, guid, err)
	}
	return nil
}

// RemoveListener revokes guid's subscription to channel, deleting its cursor.
func (b *Backend) RemoveListener(done <-chan struct{}, channel, guid string) error {
	if _, err := b.store.HDel(done, listenersKey(channel), guid); err != nil {
		return fmt.Errorf("backend: remove_listener %s/%s: %w", channel, guid, err)
	}
	return nil
}

// AddWhistler grants guid publish rights on channel.
func (b *Backend) AddWhistler(done <-chan struct{}, channel, guid string) error {
	if _, err := b.store.SAdd(done, whistlersKey(channel), guid); err != nil {
		return fmt.Errorf("backend: add_whistler %s/%s: %w", channel, guid, err)
	}
	return nil
}

// RemoveWhistler revokes guid's publish rights on channel.
func (b *Backend) RemoveWhistler(done <-chan struct{}, channel, guid string) error {
	if _, err := b.store.SRem(done, whistlersKey(channel), guid); err != nil {
		return fmt.Errorf("backend: remove_whistler %s/%s: %w", channel, guid, err)
	}
	return nil
}
