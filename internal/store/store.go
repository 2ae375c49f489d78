package store

import (
	"context"
	"errors"
	"strings"
)

// MaxKeyLength is the maximum allowed length for a key.
const MaxKeyLength = 512

var (
	ErrInvalidKey = errors.New("store: key is invalid")
	ErrKeyTooLong = errors.New("store: key exceeds max length")
)

// UpdateFunc receives the current value (ok=false when absent) and returns
// the value to store. Returning remove=true deletes the key instead.
type UpdateFunc func(current []byte, ok bool) (next []byte, remove bool, err error)

// Store is the persistent key/value mechanism shared by every cache record.
//
// Contract:
//   - Get reports (nil, false, nil) on a miss.
//   - Delete is idempotent.
//   - Update is the single-writer section: no other Update or Set on the
//     same store interleaves between its read and its write. If fn returns
//     an error nothing is written.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}

// ValidateKey checks that key is usable with every backend.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
