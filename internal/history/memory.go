package history

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps histories in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	patients map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{patients: make(map[string][]Entry)}
}

func (s *MemoryStore) Before(_ context.Context, patientID string, hour int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.patients[patientID]
	n := sort.Search(len(entries), func(i int) bool { return entries[i].Hour >= hour })
	out := make([]Entry, n)
	copy(out, entries[:n])
	return out, nil
}

func (s *MemoryStore) Upsert(_ context.Context, patientID string, entry Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.patients[patientID]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Hour >= entry.Hour })
	if i < len(entries) && entries[i].Hour == entry.Hour {
		entries[i] = entry
		return true, nil
	}

	entries = append(entries, Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = entry
	s.patients[patientID] = entries
	return false, nil
}

func (s *MemoryStore) List(_ context.Context, patientID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.patients[patientID]))
	copy(out, s.patients[patientID])
	return out, nil
}
