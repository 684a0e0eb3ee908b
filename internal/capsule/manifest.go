package capsule

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const ManifestVersion = "1"

// canonicalJSON re-marshals v through a sorted-key round trip so the
// content hash is stable regardless of struct field declaration order.
// encoding/json already emits map keys sorted and struct fields in
// declaration order; Manifest's declaration order is fixed, so a direct
// Marshal is already canonical — this helper exists to make that
// guarantee explicit and testable in one place.
func canonicalJSON(m Manifest) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("capsule: marshal manifest: %w", err)
	}
	return data, nil
}

// ContentHash returns the first 16 hex digits of SHA-256 over the
// manifest's canonical JSON (spec §4.4 step 6). The signature is never
// part of this computation.
func ContentHash(m Manifest) (string, error) {
	data, err := canonicalJSON(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16], nil
}
