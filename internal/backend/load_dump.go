package backend

import (
	"fmt"

	"github.com/adred-codev/marmot/internal/config"
)

// Load reconciles store state with doc: clients and channels present in the
// store but absent from doc are removed first, then every client and
// channel named in doc is upserted. This makes Load a total state
// transition driven entirely by doc.
func (b *Backend) Load(done <-chan struct{}, doc *config.Document) error {
	if doc.Server == nil {
		return fmt.Errorf("backend: load: document has no server section")
	}

	storeClients, err := b.store.HGetAll(done, keyClients)
	if err != nil {
		return fmt.Errorf("backend: load: %w", err)
	}
	for guid := range storeClients {
		if _, keep := doc.Server.Clients[guid]; !keep {
			if err := b.RemoveClient(done, guid); err != nil {
				return fmt.Errorf("backend: load: %w", err)
			}
		}
	}

	storeChannels, err := b.scanChannels(done)
	if err != nil {
		return fmt.Errorf("backend: load: %w", err)
	}
	for _, name := range storeChannels {
		if _, keep := doc.Server.Channels[name]; !keep {
			if err := b.RemoveChannel(done, name); err != nil {
				return fmt.Errorf("backend: load: %w", err)
			}
		}
	}

	for guid, pubkey := range doc.Server.Clients {
		if err := b.AddClient(done, guid, pubkey); err != nil {
			return fmt.Errorf("backend: load: %w", err)
		}
	}
	for name, acl := range doc.Server.Channels {
		err := b.AddChannel(done, name, ChannelACL{Whistlers: acl.Whistlers, Listeners: acl.Listeners})
		if err != nil {
			return fmt.Errorf("backend: load: %w", err)
		}
	}
	return nil
}

// Dump reads every client, channel, and channel's whistler/listener
// membership back out of the store into a configuration snapshot. Server
// transport fields (host/port/redis url) are not store state and are left
// zero-valued; callers merge those in from their own running config.
func (b *Backend) Dump(done <-chan struct{}) (*config.Document, error) {
	clients, err := b.store.HGetAll(done, keyClients)
	if err != nil {
		return nil, fmt.Errorf("backend: dump: %w", err)
	}

	channelNames, err := b.scanChannels(done)
	if err != nil {
		return nil, fmt.Errorf("backend: dump: %w", err)
	}

	channels := make(map[string]config.ChannelACL, len(channelNames))
	for _, name := range channelNames {
		whistlers, err := b.store.SMembers(done, whistlersKey(name))
		if err != nil {
			return nil, fmt.Errorf("backend: dump: %w", err)
		}
		listenerMap, err := b.store.HGetAll(done, listenersKey(name))
		if err != nil {
			return nil, fmt.Errorf("backend: dump: %w", err)
		}
		listeners := make([]string, 0, len(listenerMap))
		for guid := range listenerMap {
			listeners = append(listeners, guid)
		}
		channels[name] = config.ChannelACL{Whistlers: whistlers, Listeners: listeners}
	}

	doc := &config.Document{
		Server: &config.ServerSection{
			Clients:  clients,
			Channels: channels,
		},
	}
	doc.Normalize()
	return doc, nil
}

// Stats is an observability snapshot used only by /healthz and /metrics; it
// adds no new publish/subscribe semantics.
type Stats struct {
	ClientCount   int
	ChannelCount  int
	StreamLengths map[string]int64
}

// Stats computes the current client/channel counts and each channel's
// stream length.
func (b *Backend) Stats(done <-chan struct{}) (Stats, error) {
	clients, err := b.store.HGetAll(done, keyClients)
	if err != nil {
		return Stats{}, fmt.Errorf("backend: stats: %w", err)
	}
	channels, err := b.scanChannels(done)
	if err != nil {
		return Stats{}, fmt.Errorf("backend: stats: %w", err)
	}
	lengths := make(map[string]int64, len(channels))
	for _, ch := range channels {
		n, err := b.store.XLen(done, streamKey(ch))
		if err != nil {
			return Stats{}, fmt.Errorf("backend: stats: %w", err)
		}
		lengths[ch] = n
	}
	return Stats{
		ClientCount:   len(clients),
		ChannelCount:  len(channels),
		StreamLengths: lengths,
	}, nil
}
