// Package memory provides an in-process error store for tests and ephemeral deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ordergate/pkg/domain"
)

var _ domain.ErrorStore = (*Store)(nil)

type key struct {
	order       string
	fingerprint string
}

// Store keeps tracked errors in a map guarded by a single mutex.
type Store struct {
	mu      sync.RWMutex
	entries map[key]domain.TrackedEntry
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[key]domain.TrackedEntry)}
}

func (s *Store) Get(_ context.Context, orderID, fingerprint string) (domain.TrackedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key{orderID, fingerprint}]
	if !ok {
		return domain.TrackedEntry{}, domain.ErrEntryNotFound
	}
	return cloneEntry(e), nil
}

func (s *Store) Upsert(_ context.Context, entry domain.TrackedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{entry.OrderID, entry.Fingerprint}
	if prev, ok := s.entries[k]; ok && !prev.Expired(entry.LastSeen) {
		entry.FirstSeen = prev.FirstSeen
	}
	s.entries[k] = cloneEntry(entry)
	return nil
}

func (s *Store) Delete(_ context.Context, orderID, fingerprint string) error {
	s.mu.Lock()
	delete(s.entries, key{orderID, fingerprint})
	s.mu.Unlock()
	return nil
}

func (s *Store) ListOrder(_ context.Context, orderID string) ([]domain.TrackedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TrackedEntry
	for k, e := range s.entries {
		if k.order == orderID {
			out = append(out, cloneEntry(e))
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *Store) Scan(_ context.Context) ([]domain.TrackedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TrackedEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, cloneEntry(e))
	}
	sortEntries(out)
	return out, nil
}

func (s *Store) Purge(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) Driver() string { return "memory" }

func (s *Store) Close() error { return nil }

// Len reports the number of stored entries, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func sortEntries(entries []domain.TrackedEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].OrderID != entries[j].OrderID {
			return entries[i].OrderID < entries[j].OrderID
		}
		return entries[i].Fingerprint < entries[j].Fingerprint
	})
}

func cloneEntry(e domain.TrackedEntry) domain.TrackedEntry {
	if e.Details.Details != nil {
		d := make(map[string]any, len(e.Details.Details))
		for k, v := range e.Details.Details {
			d[k] = v
		}
		e.Details.Details = d
	}
	return e
}
