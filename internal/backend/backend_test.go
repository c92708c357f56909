package backend_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/marmot/internal/backend"
	"github.com/adred-codev/marmot/internal/config"
	"github.com/adred-codev/marmot/internal/envelope"
	"github.com/adred-codev/marmot/internal/marmotcrypto"
	"github.com/adred-codev/marmot/internal/redisstore"
	"github.com/adred-codev/marmot/internal/redisstore/redistest"
)

type testClient struct {
	guid string
	keys marmotcrypto.KeyPair
}

func newTestClient(t *testing.T, guid string) testClient {
	t.Helper()
	kp, err := marmotcrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	return testClient{guid: guid, keys: kp}
}

func (c testClient) pubkeyB64(t *testing.T) string {
	t.Helper()
	s, err := marmotcrypto.EncodePublicKey(c.keys.Public)
	if err != nil {
		t.Fatalf("encode public key: %v", err)
	}
	return s
}

func (c testClient) sign(env envelope.Envelope) envelope.Envelope {
	return envelope.SignEnvelope(env, func(d []byte) string { return marmotcrypto.Sign(c.keys.Private, d) })
}

func (c testClient) signListen(channels []string) string {
	params := envelope.ListenParams{GUID: c.guid, Channels: channels}
	return marmotcrypto.Sign(c.keys.Private, params.Digest())
}

func newTestBackend(t *testing.T) (*backend.Backend, func()) {
	t.Helper()
	srv, err := redistest.Start()
	if err != nil {
		t.Fatalf("redistest.Start: %v", err)
	}
	store := redisstore.New(srv.Addr(), 4, time.Second, time.Second)
	b := backend.New(store, zerolog.Nop())
	return b, func() {
		store.Close()
		srv.Close()
	}
}

func TestAddListenerCursorInitializedToLastID(t *testing.T) {
	b, done := newTestBackend(t)
	defer done()
	stop := make(chan struct{})

	alice := newTestClient(t, "alice")
	bob := newTestClient(t, "bob")
	if err := b.AddClient(stop, alice.guid, alice.pubkeyB64(t)); err != nil {
		t.Fatal(err)
	}
	if err := b.AddClient(stop, bob.guid, bob.pubkeyB64(t)); err != nil {
		t.Fatal(err)
	}
	if err := b.AddChannel(stop, "general", backend.ChannelACL{Whistlers: []string{alice.guid}}); err != nil {
		t.Fatal(err)
	}

	env := alice.sign(envelope.Envelope{Channel: "general", Content: "hi", Whistler: alice.guid, Level: envelope.LevelInfo})
	id, err := b.Push(stop, env)
	if err != nil {
		t.Fatal(err)
	}

	if err := b.AddListener(stop, "general", bob.guid); err != nil {
		t.Fatal(err)
	}

	entries, unsubscribe, err := b.Pull(stop, bob.guid, []string{"general"}, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if unsubscribe {
		t.Fatal("unexpected unsubscribe")
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries (cursor starts at the message already published), got %+v, published id was %s", entries, id)
	}
}

func TestBasicPublishSubscribe(t *testing.T) {
	b, done := newTestBackend(t)
	defer done()
	stop := make(chan struct{})

	alice := newTestClient(t, "alice")
	bob := newTestClient(t, "bob")
	must(t, b.AddClient(stop, alice.guid, alice.pubkeyB64(t)))
	must(t, b.AddClient(stop, bob.guid, bob.pubkeyB64(t)))
	must(t, b.AddChannel(stop, "general", backend.ChannelACL{
		Whistlers: []string{alice.guid},
		Listeners: []string{bob.guid},
	}))

	env := alice.sign(envelope.Envelope{Channel: "general", Content: "hello", Whistler: alice.guid, Level: envelope.LevelInfo})
	if !b.CanWhistle(stop, env) {
		t.Fatal("expected alice to be able to whistle on general")
	}
	id, err := b.Push(stop, env)
	if err != nil {
		t.Fatal(err)
	}

	sig := bob.signListen([]string{"general"})
	if !b.CanListen(stop, bob.guid, []string{"general"}, sig) {
		t.Fatal("expected bob to be able to listen on general")
	}

	entries, unsubscribe, err := b.Pull(stop, bob.guid, []string{"general"}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if unsubscribe || len(entries) != 1 {
		t.Fatalf("entries=%+v unsubscribe=%v", entries, unsubscribe)
	}
	if entries[0].Envelope.Content != "hello" {
		t.Fatalf("unexpected content: %+v", entries[0])
	}

	must(t, b.Ack(stop, "general", bob.guid, entries[0].ID))
	if entries[0].ID != id {
		t.Fatalf("delivered id %s, want pushed id %s", entries[0].ID, id)
	}

	// After acking, a fresh pull should see no further entries: the cursor
	// has advanced to the id just delivered.
	again, unsubscribe, err := b.Pull(stop, bob.guid, []string{"general"}, 50*time.Millisecond)
	must(t, err)
	if unsubscribe || len(again) != 0 {
		t.Fatalf("expected no further entries after ack, got %+v", again)
	}
}

func TestForbiddenWhistle(t *testing.T) {
	b, done := newTestBackend(t)
	defer done()
	stop := make(chan struct{})

	alice := newTestClient(t, "alice")
	must(t, b.AddClient(stop, alice.guid, alice.pubkeyB64(t)))
	must(t, b.AddChannel(stop, "secret", backend.ChannelACL{})) // alice is not a whistler here

	env := alice.sign(envelope.Envelope{Channel: "secret", Content: "shh", Whistler: alice.guid, Level: envelope.LevelInfo})
	if b.CanWhistle(stop, env) {
		t.Fatal("expected CanWhistle to reject a non-whistler")
	}
}

func TestForbiddenListen(t *testing.T) {
	b, done := newTestBackend(t)
	defer done()
	stop := make(chan struct{})

	bob := newTestClient(t, "bob")
	must(t, b.AddClient(stop, bob.guid, bob.pubkeyB64(t)))
	must(t, b.AddChannel(stop, "secret", backend.ChannelACL{})) // bob is not a listener

	sig := bob.signListen([]string{"secret"})
	if b.CanListen(stop, bob.guid, []string{"secret"}, sig) {
		t.Fatal("expected CanListen to reject a non-listener")
	}
}

func TestMultiChannelFanIn(t *testing.T) {
	b, done := newTestBackend(t)
	defer done()
	stop := make(chan struct{})

	alice := newTestClient(t, "alice")
	bob := newTestClient(t, "bob")
	must(t, b.AddClient(stop, alice.guid, alice.pubkeyB64(t)))
	must(t, b.AddClient(stop, bob.guid, bob.pubkeyB64(t)))
	must(t, b.AddChannel(stop, "a", backend.ChannelACL{Whistlers: []string{alice.guid}, Listeners: []string{bob.guid}}))
	must(t, b.AddChannel(stop, "b", backend.ChannelACL{Whistlers: []string{alice.guid}, Listeners: []string{bob.guid}}))

	_, err := b.Push(stop, alice.sign(envelope.Envelope{Channel: "a", Content: "msg-a", Whistler: alice.guid, Level: envelope.LevelInfo}))
	must(t, err)
	_, err = b.Push(stop, alice.sign(envelope.Envelope{Channel: "b", Content: "msg-b", Whistler: alice.guid, Level: envelope.LevelInfo}))
	must(t, err)

	entries, unsubscribe, err := b.Pull(stop, bob.guid, []string{"a", "b"}, time.Second)
	must(t, err)
	if unsubscribe {
		t.Fatal("unexpected unsubscribe")
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries across both channels, got %+v", entries)
	}
	seen := map[string]bool{}
	for _, e := range entries {
		seen[e.Channel] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("expected entries from both channels, got %+v", entries)
	}
}

func TestTrimKeepsEntriesAtOrAboveMinCursor(t *testing.T) {
	b, done := newTestBackend(t)
	defer done()
	stop := make(chan struct{})

	alice := newTestClient(t, "alice")
	l1 := newTestClient(t, "l1")
	l2 := newTestClient(t, "l2")
	must(t, b.AddClient(stop, alice.guid, alice.pubkeyB64(t)))
	must(t, b.AddClient(stop, l1.guid, l1.pubkeyB64(t)))
	must(t, b.AddClient(stop, l2.guid, l2.pubkeyB64(t)))
	must(t, b.AddChannel(stop, "c", backend.ChannelACL{
		Whistlers: []string{alice.guid},
		Listeners: []string{l1.guid, l2.guid},
	}))

	var ids []redisstore.StreamID
	for i := 0; i < 10; i++ {
		id, err := b.Push(stop, alice.sign(envelope.Envelope{Channel: "c", Content: "m", Whistler: alice.guid, Level: envelope.LevelInfo}))
		must(t, err)
		ids = append(ids, id)
	}

	must(t, b.Ack(stop, "c", l1.guid, ids[2])) // acked up through the 3rd message
	must(t, b.Ack(stop, "c", l2.guid, ids[6])) // acked up through the 7th message

	if _, err := b.Trim(stop, "c"); err != nil {
		t.Fatal(err)
	}

	stats, err := b.Stats(stop)
	must(t, err)
	// Entries 0,1 (ids before ids[2]) should be gone; ids[2..9] plus the
	// sentinel-following semantics leave at least 8 entries.
	if stats.StreamLengths["c"] < 8 {
		t.Fatalf("expected at least 8 entries remaining, got %d", stats.StreamLengths["c"])
	}
}

func TestTrimWithNoListenersTruncatesToOneEntry(t *testing.T) {
	b, done := newTestBackend(t)
	defer done()
	stop := make(chan struct{})

	alice := newTestClient(t, "alice")
	must(t, b.AddClient(stop, alice.guid, alice.pubkeyB64(t)))
	must(t, b.AddChannel(stop, "c", backend.ChannelACL{Whistlers: []string{alice.guid}}))

	for i := 0; i < 5; i++ {
		_, err := b.Push(stop, alice.sign(envelope.Envelope{Channel: "c", Content: "m", Whistler: alice.guid, Level: envelope.LevelInfo}))
		must(t, err)
	}

	if _, err := b.Trim(stop, "c"); err != nil {
		t.Fatal(err)
	}
	stats, err := b.Stats(stop)
	must(t, err)
	if stats.StreamLengths["c"] != 1 {
		t.Fatalf("expected exactly 1 entry after trimming a channel with no listeners, got %d", stats.StreamLengths["c"])
	}

	bob := newTestClient(t, "bob")
	must(t, b.AddClient(stop, bob.guid, bob.pubkeyB64(t)))
	must(t, b.AddListener(stop, "c", bob.guid))

	entries, _, err := b.Pull(stop, bob.guid, []string{"c"}, 50*time.Millisecond)
	must(t, err)
	if len(entries) != 0 {
		t.Fatalf("expected no historical messages for a newly added listener, got %+v", entries)
	}
}

func TestRemoveClientCascadesAcrossChannels(t *testing.T) {
	b, done := newTestBackend(t)
	defer done()
	stop := make(chan struct{})

	alice := newTestClient(t, "alice")
	must(t, b.AddClient(stop, alice.guid, alice.pubkeyB64(t)))
	must(t, b.AddChannel(stop, "a", backend.ChannelACL{Whistlers: []string{alice.guid}, Listeners: []string{alice.guid}}))
	must(t, b.AddChannel(stop, "b", backend.ChannelACL{Whistlers: []string{alice.guid}, Listeners: []string{alice.guid}}))

	must(t, b.RemoveClient(stop, alice.guid))

	stats, err := b.Stats(stop)
	must(t, err)
	if stats.ClientCount != 0 {
		t.Fatalf("expected client registry empty, got %d", stats.ClientCount)
	}

	doc, err := b.Dump(stop)
	must(t, err)
	for name, acl := range doc.Server.Channels {
		if contains(acl.Whistlers, alice.guid) || contains(acl.Listeners, alice.guid) {
			t.Fatalf("channel %s still references removed client alice: %+v", name, acl)
		}
	}
}

func TestLoadDumpRoundTrip(t *testing.T) {
	b, done := newTestBackend(t)
	defer done()
	stop := make(chan struct{})

	alice := newTestClient(t, "alice")
	bob := newTestClient(t, "bob")

	doc := &config.Document{
		Server: &config.ServerSection{
			Clients: map[string]string{
				alice.guid: alice.pubkeyB64(t),
				bob.guid:   bob.pubkeyB64(t),
			},
			Channels: map[string]config.ChannelACL{
				"general": {Whistlers: []string{alice.guid}, Listeners: []string{bob.guid}},
			},
		},
	}

	must(t, b.Load(stop, doc))
	dumped, err := b.Dump(stop)
	must(t, err)

	if len(dumped.Server.Clients) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(dumped.Server.Clients))
	}
	acl, ok := dumped.Server.Channels["general"]
	if !ok {
		t.Fatal("expected channel general in dump")
	}
	if !contains(acl.Whistlers, alice.guid) || !contains(acl.Listeners, bob.guid) {
		t.Fatalf("unexpected ACL after round trip: %+v", acl)
	}

	// Loading again with alice removed should cascade the removal.
	delete(doc.Server.Clients, alice.guid)
	doc.Server.Channels["general"] = config.ChannelACL{Listeners: []string{bob.guid}}
	must(t, b.Load(stop, doc))

	dumped2, err := b.Dump(stop)
	must(t, err)
	if _, ok := dumped2.Server.Clients[alice.guid]; ok {
		t.Fatal("expected alice removed after reload")
	}
	if contains(dumped2.Server.Channels["general"].Whistlers, alice.guid) {
		t.Fatal("expected alice removed from general's whistlers after reload")
	}
}

func TestPullYieldsUnsubscribeWhenNoCursorsRemain(t *testing.T) {
	b, done := newTestBackend(t)
	defer done()
	stop := make(chan struct{})

	bob := newTestClient(t, "bob")
	must(t, b.AddClient(stop, bob.guid, bob.pubkeyB64(t)))
	must(t, b.AddChannel(stop, "general", backend.ChannelACL{Listeners: []string{bob.guid}}))
	must(t, b.RemoveListener(stop, "general", bob.guid))

	entries, unsubscribe, err := b.Pull(stop, bob.guid, []string{"general"}, 50*time.Millisecond)
	must(t, err)
	if !unsubscribe {
		t.Fatal("expected unsubscribe sentinel when no cursors remain")
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %+v", entries)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func contains(items []string, want string) bool {
	for _, it := range items {
		if it == want {
			return true
		}
	}
	return false
}

