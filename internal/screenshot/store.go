package screenshot

import (
	"fmt"
	"maps"
	"sync"
)

// IndexFile persists the whole index document.
type IndexFile interface {
	Load(dst any) error
	Save(src any) error
}

// Store is the in-memory screenshot cache mirrored to an IndexFile. Each
// mutation snapshots the map under the lock and writes the snapshot after
// releasing it, so readers never wait on disk I/O.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
	version uint64

	file      IndexFile
	persistMu sync.Mutex
	persisted uint64
}

// NewStore returns an empty store backed by file. file may be nil, in which
// case nothing is persisted.
func NewStore(file IndexFile) *Store {
	return &Store{entries: make(map[string]Entry), file: file}
}

// LoadStore reads the existing index from file. A missing or unreadable index
// yields an empty store along with the read error so callers can log it.
func LoadStore(file IndexFile) (*Store, error) {
	s := NewStore(file)
	if file == nil {
		return s, nil
	}
	var index Index
	if err := file.Load(&index); err != nil {
		return s, err
	}
	if index.Entries != nil {
		s.entries = index.Entries
	}
	return s, nil
}

// Get returns a copy of the entry stored for key.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// Len reports the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Put stores entry under key and persists the index.
func (s *Store) Put(key string, entry Entry) error {
	s.mu.Lock()
	s.entries[key] = entry
	version, snapshot := s.snapshotLocked()
	s.mu.Unlock()
	return s.persist(version, snapshot)
}

// RecordError sets LastError on the entry for key, keeping its image. It
// reports false when there is no entry to update.
func (s *Store) RecordError(key, message string) (bool, error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	e.LastError = message
	s.entries[key] = e
	version, snapshot := s.snapshotLocked()
	s.mu.Unlock()
	return true, s.persist(version, snapshot)
}

func (s *Store) snapshotLocked() (uint64, map[string]Entry) {
	s.version++
	return s.version, maps.Clone(s.entries)
}

// persist writes snapshot unless a newer one already reached disk.
func (s *Store) persist(version uint64, snapshot map[string]Entry) error {
	if s.file == nil {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if version <= s.persisted {
		return nil
	}
	if err := s.file.Save(Index{Entries: snapshot}); err != nil {
		return fmt.Errorf("persist screenshot index: %w", err)
	}
	s.persisted = version
	return nil
}
