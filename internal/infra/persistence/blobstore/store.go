// Package blobstore keeps tracked errors as JSON objects in a blob store, one
// object per (order, fingerprint) at errors/<order>/<fingerprint>.json.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"ordergate/internal/blob"
	"ordergate/pkg/domain"
)

var _ domain.ErrorStore = (*Store)(nil)

const (
	rootPrefix = "errors/"
	stripes    = 64
)

// Store serialises read-modify-write per key with a striped lock. Writers in
// other processes sharing the bucket are not coordinated.
type Store struct {
	blobs blob.Store
	locks [stripes]sync.Mutex
}

// New wraps a blob store.
func New(blobs blob.Store) *Store {
	return &Store{blobs: blobs}
}

func orderPrefix(orderID string) string {
	return rootPrefix + url.PathEscape(orderID) + "/"
}

func objectKey(orderID, fingerprint string) string {
	return orderPrefix(orderID) + url.PathEscape(fingerprint) + ".json"
}

func (s *Store) lockFor(key string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(key)%stripes]
}

func (s *Store) Get(ctx context.Context, orderID, fingerprint string) (domain.TrackedEntry, error) {
	return s.read(ctx, objectKey(orderID, fingerprint))
}

func (s *Store) read(ctx context.Context, key string) (domain.TrackedEntry, error) {
	var e domain.TrackedEntry
	if _, err := blob.GetJSON(ctx, s.blobs, key, &e); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return domain.TrackedEntry{}, domain.ErrEntryNotFound
		}
		return domain.TrackedEntry{}, fmt.Errorf("read tracked error %s: %w", key, err)
	}
	return e, nil
}

func (s *Store) Upsert(ctx context.Context, entry domain.TrackedEntry) error {
	key := objectKey(entry.OrderID, entry.Fingerprint)
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	prev, err := s.read(ctx, key)
	switch {
	case err == nil:
		if !prev.Expired(entry.LastSeen) {
			entry.FirstSeen = prev.FirstSeen
		}
	case !errors.Is(err, domain.ErrEntryNotFound):
		return err
	}
	meta := map[string]string{"order-id": entry.OrderID, "fingerprint": entry.Fingerprint}
	if _, err := blob.PutJSON(ctx, s.blobs, key, entry, meta); err != nil {
		return fmt.Errorf("write tracked error %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, orderID, fingerprint string) error {
	key := objectKey(orderID, fingerprint)
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	if _, err := s.blobs.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete tracked error %s: %w", key, err)
	}
	return nil
}

func (s *Store) ListOrder(ctx context.Context, orderID string) ([]domain.TrackedEntry, error) {
	return s.list(ctx, orderPrefix(orderID))
}

func (s *Store) Scan(ctx context.Context) ([]domain.TrackedEntry, error) {
	return s.list(ctx, rootPrefix)
}

// list skips objects deleted between the listing and the read.
func (s *Store) list(ctx context.Context, prefix string) ([]domain.TrackedEntry, error) {
	infos, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list tracked errors: %w", err)
	}
	out := make([]domain.TrackedEntry, 0, len(infos))
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, ".json") {
			continue
		}
		e, err := s.read(ctx, info.Key)
		if errors.Is(err, domain.ErrEntryNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderID != out[j].OrderID {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out, nil
}

// Purge re-reads each candidate under its lock so a concurrent refresh wins.
func (s *Store) Purge(ctx context.Context, now time.Time) (int, error) {
	entries, err := s.Scan(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.Expired(now) {
			continue
		}
		removed, err := s.purgeOne(ctx, objectKey(e.OrderID, e.Fingerprint), now)
		if err != nil {
			return n, err
		}
		if removed {
			n++
		}
	}
	return n, nil
}

func (s *Store) purgeOne(ctx context.Context, key string, now time.Time) (bool, error) {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	current, err := s.read(ctx, key)
	if errors.Is(err, domain.ErrEntryNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !current.Expired(now) {
		return false, nil
	}
	return s.blobs.Delete(ctx, key)
}

func (s *Store) Driver() string { return "blob/" + string(s.blobs.Driver()) }

func (s *Store) Close() error { return nil }
