package envelope

import (
	"crypto/sha256"
	"sort"
	"strings"
)

// ListenParams is the (guid, channels) tuple a listener signs to authorize
// a multi-channel subscription.
type ListenParams struct {
	GUID     string
	Channels []string
}

// Canonical returns the single stable serialization shared by client and
// server: guid + "|" + sorted(channels) joined by "|". Channels is not
// mutated; a sorted copy is taken internally.
func (p ListenParams) Canonical() string {
	sorted := make([]string, len(p.Channels))
	copy(sorted, p.Channels)
	sort.Strings(sorted)

	var b strings.Builder
	b.WriteString(p.GUID)
	for _, ch := range sorted {
		b.WriteByte('|')
		b.WriteString(ch)
	}
	return b.String()
}

// Digest computes SHA256(Canonical()), the preimage signed to authorize a
// listen request.
func (p ListenParams) Digest() []byte {
	sum := sha256.Sum256([]byte(p.Canonical()))
	return sum[:]
}

// SortedChannels returns a sorted copy of p.Channels, the canonical ordering
// used both for the digest and for X-Marmot-Channels framing.
func (p ListenParams) SortedChannels() []string {
	sorted := make([]string, len(p.Channels))
	copy(sorted, p.Channels)
	sort.Strings(sorted)
	return sorted
}
