// Package marmotcrypto wraps the Ed25519 primitives marmot signs and verifies
// envelopes with. Only Ed25519 is supported; the wire format is not
// extensible to other schemes (see spec design notes — digest-before-sign is
// part of the interop contract with existing client keys).
package marmotcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrInvalidSignature is returned by Verify when the signature does not
// match the digest under the given public key.
var ErrInvalidSignature = errors.New("marmotcrypto: invalid signature")

// KeyPair holds an Ed25519 key pair generated for a client.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh Ed25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("marmotcrypto: generate key: %w", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// EncodePublicKey returns base64(DER(SubjectPublicKeyInfo)) for pub, the
// format stored in the client registry and in the config file.
func EncodePublicKey(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marmotcrypto: marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// DecodePublicKey parses a base64(DER(SubjectPublicKeyInfo)) string back
// into an Ed25519 public key. Returns an error if the key is not Ed25519.
func DecodePublicKey(encoded string) (ed25519.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("marmotcrypto: decode public key: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("marmotcrypto: parse public key: %w", err)
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("marmotcrypto: key is not Ed25519")
	}
	return edPub, nil
}

// EncodePrivateKey returns base64(PKCS#8 DER) for priv. Passphrase
// encryption of the resulting bytes, if any, is a client-side concern
// (MARMOT_PK_SECRET) and out of scope for the server.
func EncodePrivateKey(priv ed25519.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("marmotcrypto: marshal private key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// DecodePrivateKey parses a base64(PKCS#8 DER) string into an Ed25519
// private key.
func DecodePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("marmotcrypto: decode private key: %w", err)
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("marmotcrypto: parse private key: %w", err)
	}
	edPriv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("marmotcrypto: key is not Ed25519")
	}
	return edPriv, nil
}

// Sign signs digest (NOT the raw message — callers compute the digest
// themselves) and returns base64 of the raw signature bytes.
func Sign(priv ed25519.PrivateKey, digest []byte) string {
	sig := ed25519.Sign(priv, digest)
	return base64.StdEncoding.EncodeToString(sig)
}

// Verify checks a base64-encoded signature over digest under pub.
func Verify(pub ed25519.PublicKey, digest []byte, signatureB64 string) error {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("marmotcrypto: decode signature: %w", err)
	}
	if !ed25519.Verify(pub, digest, sig) {
		return ErrInvalidSignature
	}
	return nil
}
