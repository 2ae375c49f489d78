// Package cache holds the two persisted caches: the event cache, which
// mirrors the remote event collection and decides validity by age, and the
// recommendation cache, which keeps opaque analysis results per kind and
// request fingerprint with per-kind TTLs.
//
// Corrupt records are never an error: they are deleted and treated as a
// miss so that callers simply fetch again.
package cache
