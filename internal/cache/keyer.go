package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// RecommendationPrefix starts every recommendation record key.
const RecommendationPrefix = "recommendations:"

// Keyer derives deterministic recommendation keys.
//
// Format: recommendations:<kind>:<bucket>:<hash>
// where hash is the first 16 hex chars of SHA-256(canonical JSON(fingerprint)).
type Keyer struct{}

// Key builds the record key for a fingerprint in a date bucket.
func (Keyer) Key(kind Kind, bucket string, fingerprint any) (string, error) {
	canonical, err := canonicalize(fingerprint)
	if err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize fingerprint: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("%s%s:%s:%s", RecommendationPrefix, kind, bucket, hex.EncodeToString(sum[:8])), nil
}

// canonicalize re-encodes v through a generic JSON tree. encoding/json
// writes map keys in sorted order, so structs and maps with the same
// content hash the same regardless of field or insertion order.
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}
