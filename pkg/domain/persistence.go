package domain

import (
	"context"
	"errors"
	"time"
)

// ErrEntryNotFound is returned by ErrorStore.Get when no entry exists for the key.
var ErrEntryNotFound = errors.New("tracked error entry not found")

// TrackedEntry is the persisted state for one (order, fingerprint) pair.
type TrackedEntry struct {
	OrderID     string    `json:"order_id"`
	Fingerprint string    `json:"fingerprint"`
	OrderNumber string    `json:"order_number"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Details     Issue     `json:"error_details"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the entry's TTL has lapsed at now.
func (e TrackedEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// ExpiredEntry is a tracked entry annotated with its computed age.
type ExpiredEntry struct {
	TrackedEntry
	AgeMinutes float64 `json:"age_minutes"`
}

// ErrorStore is the backing store for tracked errors. Every operation touches a
// single key and must be atomic at that level; no multi-key transactions exist.
//
// Upsert creates the entry or refreshes LastSeen, OrderNumber, Details and
// ExpiresAt of an existing one while preserving FirstSeen. An existing entry
// whose ExpiresAt is at or before the new LastSeen is replaced wholesale.
// Reads return entries regardless of expiry; callers filter with their own
// clock and reclaim space with Purge.
type ErrorStore interface {
	Get(ctx context.Context, orderID, fingerprint string) (TrackedEntry, error)
	Upsert(ctx context.Context, entry TrackedEntry) error
	Delete(ctx context.Context, orderID, fingerprint string) error
	ListOrder(ctx context.Context, orderID string) ([]TrackedEntry, error)
	Scan(ctx context.Context) ([]TrackedEntry, error)
	Purge(ctx context.Context, now time.Time) (int, error)
	Driver() string
	Close() error
}

// OrderSource fetches the current state of an order.
type OrderSource interface {
	FetchOrder(ctx context.Context, orderID string) (OrderSnapshot, error)
}

// Notifier delivers a report to humans. A nil error means delivered (or
// deliberately skipped); failures must be returned, never swallowed.
type Notifier interface {
	Notify(ctx context.Context, report Report, order OrderSnapshot) error
}
