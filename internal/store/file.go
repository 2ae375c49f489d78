package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	appLog "calmirror/internal/log"
)

// fileRecord is the on-disk envelope of one key.
type fileRecord struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// FileStore keeps one JSON file per key under dir. File names are derived
// from a hash of the key; the key itself is stored inside the file.
//
// Writes go through a temp file + rename so a crash never leaves a torn
// record. Update is serialised per process only.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates dir (0700) if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("store: file store dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(key)
}

func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(key, value)
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.pathForKey(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			appLog.Warn("file store: skipping unreadable record", "file", e.Name())
			continue
		}
		if strings.HasPrefix(rec.Key, prefix) {
			keys = append(keys, rec.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) Update(_ context.Context, key string, fn UpdateFunc) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok, err := s.readLocked(key)
	if err != nil {
		return err
	}
	next, remove, err := fn(cur, ok)
	if err != nil {
		return err
	}
	if remove {
		err := os.Remove(s.pathForKey(key))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return s.writeLocked(key, next)
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) pathForKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:8])+".json")
}

// readLocked treats an undecodable envelope as a miss; the caches above
// decide what to do with undecodable payloads.
func (s *FileStore) readLocked(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.pathForKey(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.Key != key {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

func (s *FileStore) writeLocked(key string, value []byte) error {
	data, err := json.Marshal(fileRecord{Key: key, Value: value})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".calmirror-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.pathForKey(key))
}

var _ Store = (*FileStore)(nil)
