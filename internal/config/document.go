// Package config models marmot's persisted configuration document (the JSON
// file from spec section 6) and the operational environment overrides
// layered on top of it, following the teacher's split between checked-in
// identity/ACL state and ops-tunable runtime knobs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Document is the JSON root. Either section may be absent: a pure-server
// deployment carries no Client section, and a client-only tool (out of
// scope here) carries no Server section.
type Document struct {
	Server *ServerSection `json:"server,omitempty"`
	Client *ClientSection `json:"client,omitempty"`
}

// RedisSection holds the stream-store connection parameters.
type RedisSection struct {
	URL            string `json:"url"`
	MaxConnections int    `json:"max_connections"`
	TrimFreq       int    `json:"trim_freq"` // seconds
}

// ChannelACL is the whistler/listener membership of one channel. Both lists
// are emitted sorted so the document's JSON round-trips stably regardless
// of insertion order.
type ChannelACL struct {
	Whistlers []string `json:"whistlers"`
	Listeners []string `json:"listeners"`
}

// ServerSection is the server's view of the world: its own identity,
// the client registry, and the channel ACL table.
type ServerSection struct {
	Host     string                `json:"host"`
	Port     int                   `json:"port"`
	Redis    RedisSection          `json:"redis"`
	Clients  map[string]string     `json:"clients"`  // guid -> base64 pubkey
	Channels map[string]ChannelACL `json:"channels"` // name -> acl
}

// ClientSection is a client's view: its own identity and how to reach the
// server. Out of scope for the server binary, kept here because it shares
// the same JSON document shape.
type ClientSection struct {
	GUID   string `json:"guid"`
	URL    string `json:"url"`
	CAPath string `json:"capath"`
	PriKey string `json:"prikey"`
}

// Load reads and parses a Document from path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate %s: %w", path, err)
	}
	return &doc, nil
}

// Save writes doc to path as indented JSON with sorted ACL lists.
func Save(path string, doc *Document) error {
	doc.Normalize()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Normalize sorts every channel's whistler/listener list in place so two
// semantically-equal documents serialize identically.
func (d *Document) Normalize() {
	if d.Server == nil {
		return
	}
	for name, acl := range d.Server.Channels {
		sort.Strings(acl.Whistlers)
		sort.Strings(acl.Listeners)
		d.Server.Channels[name] = acl
	}
}

// Validate checks structural invariants: every whistler/listener GUID in
// every channel ACL must be a registered client (spec §3 invariant).
func (d *Document) Validate() error {
	if d.Server == nil {
		return nil
	}
	for name, acl := range d.Server.Channels {
		for _, guid := range append(append([]string{}, acl.Whistlers...), acl.Listeners...) {
			if _, ok := d.Server.Clients[guid]; !ok {
				return fmt.Errorf("channel %q references unknown client %q", name, guid)
			}
		}
	}
	return nil
}
