// Package signer manages the gateway's Ed25519 signing identity: it signs
// capsule manifests and issues short-lived session attach tokens.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Signer holds a single Ed25519 keypair used for both manifest signing and
// attach-token issuance. One Signer is created at gateway startup from the
// configured key material (spec §6).
type Signer struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

func Generate() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signer: generate key: %w", err)
	}
	return &Signer{public: pub, private: priv}, nil
}

// FromSeed reconstructs a Signer from a base64-encoded 32-byte seed or a
// base64-encoded full 64-byte private key, matching the two encodings the
// teacher's license signer accepts.
func FromSeed(encoded string) (*Signer, error) {
	priv, err := DecodeEd25519PrivateKey(encoded)
	if err != nil {
		return nil, err
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("signer: derived public key has unexpected type")
	}
	return &Signer{public: pub, private: priv}, nil
}

// DecodeEd25519PrivateKey accepts either a base64-encoded 32-byte seed or a
// base64-encoded full 64-byte private key.
func DecodeEd25519PrivateKey(encoded string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("signer: decode key: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("signer: key has unexpected length %d", len(raw))
	}
}

// PublicKeyBase64 returns the signer's public key, base64-encoded, for
// distribution to clients that need to verify manifests independently.
func (s *Signer) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(s.public)
}

// PublicKey returns the raw Ed25519 public key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.public }

// Fingerprint returns a short, stable identifier for the signing key,
// derived as a base64url SHA-256 prefix so logs can name a key without
// printing key material.
func (s *Signer) Fingerprint() string {
	return Fingerprint(s.public)
}

func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}

// SignManifest returns a base64-encoded detached Ed25519 signature over the
// canonical (unsigned) manifest bytes. The manifest's own cache identity is
// computed over this same unsigned form (spec §4.2), so the signature never
// participates in the hash it authenticates.
func (s *Signer) SignManifest(canonical []byte) string {
	sig := ed25519.Sign(s.private, canonical)
	return base64.StdEncoding.EncodeToString(sig)
}

// VerifyManifest checks a base64-encoded detached signature produced by
// SignManifest against the canonical bytes it was computed over.
func VerifyManifest(pub ed25519.PublicKey, canonical []byte, sigB64 string) error {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("signer: decode signature: %w", err)
	}
	if !ed25519.Verify(pub, canonical, sig) {
		return fmt.Errorf("signer: manifest signature invalid")
	}
	return nil
}
