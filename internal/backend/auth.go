package backend

import (
	"github.com/adred-codev/marmot/internal/envelope"
	"github.com/adred-codev/marmot/internal/marmotcrypto"
)

// CanWhistle reports whether env's whistler is a known client, in.channel's
// whistler set, and whether its signature verifies against the envelope
// digest. Any failed condition is logged at WARN and yields false.
func (b *Backend) CanWhistle(done <-chan struct{}, env envelope.Envelope) bool {
	pubkeyB64, err := b.store.HGet(done, keyClients, env.Whistler)
	if err != nil {
		b.logger.Warn().Err(err).Str("whistler", env.Whistler).Msg("can_whistle: client lookup failed")
		return false
	}
	if pubkeyB64 == nil {
		b.logger.Warn().Str("whistler", env.Whistler).Msg("can_whistle: unknown client")
		return false
	}

	channelExists, err := b.store.SIsMember(done, keyChannels, env.Channel)
	if err != nil || !channelExists {
		b.logger.Warn().Str("channel", env.Channel).Msg("can_whistle: unknown channel")
		return false
	}

	isWhistler, err := b.store.SIsMember(done, whistlersKey(env.Channel), env.Whistler)
	if err != nil || !isWhistler {
		b.logger.Warn().Str("whistler", env.Whistler).Str("channel", env.Channel).Msg("can_whistle: not a whistler")
		return false
	}

	pub, err := marmotcrypto.DecodePublicKey(string(pubkeyB64))
	if err != nil {
		b.logger.Warn().Err(err).Str("whistler", env.Whistler).Msg("can_whistle: bad stored public key")
		return false
	}
	digest := env.Digest()
	if err := marmotcrypto.Verify(pub, digest, env.Signature); err != nil {
		b.logger.Warn().Str("whistler", env.Whistler).Str("channel", env.Channel).Msg("can_whistle: signature mismatch")
		return false
	}
	return true
}

// CanListen reports whether guid is a known client, every channel exists and
// lists guid as a listener, and signature verifies against the canonical
// listen-params digest.
func (b *Backend) CanListen(done <-chan struct{}, guid string, channels []string, signature string) bool {
	pubkeyB64, err := b.store.HGet(done, keyClients, guid)
	if err != nil {
		b.logger.Warn().Err(err).Str("guid", guid).Msg("can_listen: client lookup failed")
		return false
	}
	if pubkeyB64 == nil {
		b.logger.Warn().Str("guid", guid).Msg("can_listen: unknown client")
		return false
	}

	for _, ch := range channels {
		exists, err := b.store.SIsMember(done, keyChannels, ch)
		if err != nil || !exists {
			b.logger.Warn().Str("channel", ch).Msg("can_listen: unknown channel")
			return false
		}
		cursor, err := b.store.HGet(done, listenersKey(ch), guid)
		if err != nil || cursor == nil {
			b.logger.Warn().Str("guid", guid).Str("channel", ch).Msg("can_listen: not a listener")
			return false
		}
	}

	pub, err := marmotcrypto.DecodePublicKey(string(pubkeyB64))
	if err != nil {
		b.logger.Warn().Err(err).Str("guid", guid).Msg("can_listen: bad stored public key")
		return false
	}
	params := envelope.ListenParams{GUID: guid, Channels: channels}
	digest := params.Digest()
	if err := marmotcrypto.Verify(pub, digest, signature); err != nil {
		b.logger.Warn().Str("guid", guid).Msg("can_listen: signature mismatch")
		return false
	}
	return true
}
