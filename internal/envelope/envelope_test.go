package envelope

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	levels := []Level{LevelCritical, LevelError, LevelWarning, LevelInfo, LevelDebug}
	for _, lvl := range levels {
		t.Run(string(lvl), func(t *testing.T) {
			e := Envelope{
				Channel:   "general",
				Content:   "hello world",
				Whistler:  "alice",
				Level:     lvl,
				Signature: "c2lnbmF0dXJl",
			}

			data, err := json.Marshal(e)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}

			var got Envelope
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if got != e {
				t.Fatalf("round trip mismatch: got %+v, want %+v", got, e)
			}
		})
	}
}

func TestDigestChangesWithAnyField(t *testing.T) {
	base := Envelope{Channel: "general", Content: "hi", Level: LevelInfo}
	baseDigest := base.Digest()

	variants := []Envelope{
		{Channel: "secret", Content: "hi", Level: LevelInfo},
		{Channel: "general", Content: "bye", Level: LevelInfo},
		{Channel: "general", Content: "hi", Level: LevelError},
	}
	for _, v := range variants {
		if string(v.Digest()) == string(baseDigest) {
			t.Fatalf("expected digest to change for %+v", v)
		}
	}
}

func TestValidGUID(t *testing.T) {
	valid := []string{"alice", "a1", "team-a", "team_a", "a-b_c-1"}
	invalid := []string{"", "Alice", "a b", "-abc", "abc-", "a--b"}

	for _, g := range valid {
		if !ValidGUID(g) {
			t.Errorf("expected %q to be valid", g)
		}
	}
	for _, g := range invalid {
		if ValidGUID(g) {
			t.Errorf("expected %q to be invalid", g)
		}
	}
}

func TestListenParamsDigestIsOrderIndependent(t *testing.T) {
	a := ListenParams{GUID: "bob", Channels: []string{"b", "a", "c"}}
	b := ListenParams{GUID: "bob", Channels: []string{"c", "b", "a"}}

	if string(a.Digest()) != string(b.Digest()) {
		t.Fatal("expected digest to be independent of input channel order")
	}
}

func TestListenParamsCanonicalFormat(t *testing.T) {
	p := ListenParams{GUID: "bob", Channels: []string{"b", "a"}}
	want := "bob|a|b"
	if got := p.Canonical(); got != want {
		t.Fatalf("Canonical() = %q, want %q", got, want)
	}
}

func TestSignVerifyEnvelopeHelpers(t *testing.T) {
	e := Envelope{Channel: "general", Content: "hi", Level: LevelInfo}

	signed := SignEnvelope(e, func(digest []byte) string { return "ok" })
	if signed.Signature != "ok" {
		t.Fatalf("expected signature to be set")
	}

	var seenDigest []byte
	err := VerifyEnvelope(signed, func(digest []byte, signature string) error {
		seenDigest = digest
		if signature != "ok" {
			t.Fatalf("unexpected signature passed to verifyFn: %q", signature)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("VerifyEnvelope: %v", err)
	}
	if string(seenDigest) != string(signed.Digest()) {
		t.Fatal("verifyFn did not receive the envelope's digest")
	}
}
