// Package envelope defines the signed message value that traverses marmot,
// and the digest rules used to sign and verify it. Field names and JSON tags
// match the wire protocol in spec section 6 exactly.
package envelope

import (
	"crypto/sha256"
	"fmt"
	"regexp"
)

// Level is a message severity, mirroring the bounded string-enum pattern
// marmot's config layer uses for log level/format.
type Level string

const (
	LevelCritical Level = "CRITICAL"
	LevelError    Level = "ERROR"
	LevelWarning  Level = "WARNING"
	LevelInfo     Level = "INFO"
	LevelDebug    Level = "DEBUG"
)

// Valid reports whether l is one of the five defined levels.
func (l Level) Valid() bool {
	switch l {
	case LevelCritical, LevelError, LevelWarning, LevelInfo, LevelDebug:
		return true
	default:
		return false
	}
}

// GUIDPattern is the allowed shape for client and channel names.
var GUIDPattern = regexp.MustCompile(`^[a-z0-9]+([_-][a-z0-9]+)*$`)

// ValidGUID reports whether s matches the GUID/channel-name grammar.
func ValidGUID(s string) bool {
	return GUIDPattern.MatchString(s)
}

// Envelope is the signed message value published into a channel.
type Envelope struct {
	Channel   string `json:"channel"`
	Content   string `json:"content"`
	Whistler  string `json:"whistler"`
	Level     Level  `json:"level"`
	Signature string `json:"signature"`
}

// Digest computes SHA256(channel + ":" + LEVEL + ":" + content), the
// preimage that is signed and verified for this envelope. The signature
// field itself is excluded from the digest.
func (e Envelope) Digest() []byte {
	sum := sha256.Sum256([]byte(e.Channel + ":" + string(e.Level) + ":" + e.Content))
	return sum[:]
}

// Validate checks the envelope's structural shape (not its signature).
func (e Envelope) Validate() error {
	if !ValidGUID(e.Channel) {
		return fmt.Errorf("envelope: invalid channel %q", e.Channel)
	}
	if !ValidGUID(e.Whistler) {
		return fmt.Errorf("envelope: invalid whistler %q", e.Whistler)
	}
	if !e.Level.Valid() {
		return fmt.Errorf("envelope: invalid level %q", e.Level)
	}
	if e.Signature == "" {
		return fmt.Errorf("envelope: missing signature")
	}
	return nil
}

// SignEnvelope signs e's digest with signFn and returns a copy with
// Signature populated. Callers bind signFn to a specific private key, e.g.
// `func(d []byte) string { return marmotcrypto.Sign(priv, d) }`.
func SignEnvelope(e Envelope, signFn func(digest []byte) string) Envelope {
	e.Signature = signFn(e.Digest())
	return e
}

// VerifyEnvelope reports whether e.Signature verifies against e.Digest()
// using verifyFn, which callers bind to a specific public key via
// marmotcrypto.Verify.
func VerifyEnvelope(e Envelope, verifyFn func(digest []byte, signature string) error) error {
	return verifyFn(e.Digest(), e.Signature)
}
