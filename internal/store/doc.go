// Package store provides the persistent key/value mechanism behind the
// event and recommendation caches: an in-memory map, a directory of JSON
// files, and a SQLite table. All three expose Update as the single-writer
// read-modify-write section; only SQLite extends it across processes.
package store
