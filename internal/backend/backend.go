// Package backend is the core state and delivery layer: it owns every key
// in the stream store and exposes the admin, delivery, and authorization
// operations the HTTP surface and trim loop call into. Nothing outside this
// package talks to redisstore directly.
package backend

import (
	"github.com/rs/zerolog"

	"github.com/adred-codev/marmot/internal/redisstore"
)

const (
	keyClients  = "marmot::clients"
	keyChannels = "marmot::channels"

	scanCount = 256 // SSCAN page size; keeps remove_client non-blocking on large channel counts
)

func streamKey(channel string) string    { return "marmot::" + channel + "::stream" }
func listenersKey(channel string) string { return "marmot::" + channel + "::listeners" }
func whistlersKey(channel string) string { return "marmot::" + channel + "::whistlers" }

// sentinelField is a field name reserved for sentinel entries. Nothing
// writes or reads it: ensureStream appends the sentinel as an ordinary
// envelope entry (empty content and whistler, level INFO).
const sentinelField = "sentinel"

// Backend wraps a redisstore.Client with marmot's schema and operations.
type Backend struct {
	store  *redisstore.Client
	logger zerolog.Logger
}

// New wraps an already-constructed redisstore.Client.
func New(store *redisstore.Client, logger zerolog.Logger) *Backend {
	return &Backend{store: store, logger: logger}
}

// Close closes the underlying store connection pool.
func (b *Backend) Close() error {
	return b.store.Close()
}
