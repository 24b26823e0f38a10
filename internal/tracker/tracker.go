// Package tracker decides whether a validation error is new, ongoing, or old
// enough to escalate. It is the only component that talks to the error store.
package tracker

import (
	"context"
	"errors"
	"time"

	"ordergate/internal/logger"
	"ordergate/internal/metrics"
	"ordergate/pkg/domain"
)

const (
	// DefaultGracePeriod is the delay between first detection and escalation.
	DefaultGracePeriod = 30 * time.Minute
	// DefaultEntryTTL bounds how long an abandoned entry survives in the store.
	DefaultEntryTTL = 7 * 24 * time.Hour
)

// Tracker is a best-effort API over the error store. Store failures are
// logged and reported as empty or negative results; they never reach callers.
type Tracker struct {
	store   domain.ErrorStore
	log     *logger.Logger
	metrics metrics.Recorder
	nowFn   func() time.Time
	ttl     time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.nowFn = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(t *Tracker) { t.log = l.WithComponent("tracker") }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(t *Tracker) { t.metrics = metrics.OrNop(r) }
}

// WithEntryTTL sets the expiry hint written with every upsert.
func WithEntryTTL(ttl time.Duration) Option {
	return func(t *Tracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// New constructs a tracker over store.
func New(store domain.ErrorStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:   store,
		log:     logger.Nop(),
		metrics: metrics.Nop{},
		nowFn:   time.Now,
		ttl:     DefaultEntryTTL,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Now returns the tracker's current time.
func (t *Tracker) Now() time.Time {
	return t.nowFn().UTC()
}

// Track records a detection. The first detection sets first_seen; later ones
// only refresh last_seen. It reports whether the write reached the store.
func (t *Tracker) Track(ctx context.Context, orderID, fingerprint string, issue domain.Issue, orderNumber string) bool {
	now := t.Now()
	entry := domain.TrackedEntry{
		OrderID:     orderID,
		Fingerprint: fingerprint,
		OrderNumber: orderNumber,
		FirstSeen:   now,
		LastSeen:    now,
		Details:     snapshot(issue),
		ExpiresAt:   now.Add(t.ttl),
	}
	start := time.Now()
	err := t.store.Upsert(ctx, entry)
	t.metrics.Observe(ctx, "tracker.track", err == nil, time.Since(start))
	if err != nil {
		t.log.Warn("track failed; treating error as untracked",
			"order_id", orderID, "fingerprint", fingerprint, "driver", t.store.Driver(), "error", err)
		return false
	}
	return true
}

// Entry returns the tracked entry for a key.
func (t *Tracker) Entry(ctx context.Context, orderID, fingerprint string) (domain.TrackedEntry, bool) {
	entry, err := t.store.Get(ctx, orderID, fingerprint)
	if err != nil {
		if !errors.Is(err, domain.ErrEntryNotFound) {
			t.log.Warn("lookup failed", "order_id", orderID, "fingerprint", fingerprint, "error", err)
		}
		return domain.TrackedEntry{}, false
	}
	if entry.Expired(t.Now()) {
		return domain.TrackedEntry{}, false
	}
	return entry, true
}

// AgeMinutes returns the minutes elapsed since first detection, or 0 when the
// entry is absent.
func (t *Tracker) AgeMinutes(ctx context.Context, orderID, fingerprint string) float64 {
	entry, ok := t.Entry(ctx, orderID, fingerprint)
	if !ok {
		return 0
	}
	return t.ageOf(entry).Minutes()
}

// IsConfirmed reports whether the entry has been tracked for at least grace.
func (t *Tracker) IsConfirmed(ctx context.Context, orderID, fingerprint string, grace time.Duration) bool {
	entry, ok := t.Entry(ctx, orderID, fingerprint)
	if !ok {
		return false
	}
	return t.ageOf(entry) >= grace
}

// Assess combines AgeMinutes and IsConfirmed over a single store read.
func (t *Tracker) Assess(ctx context.Context, orderID, fingerprint string, grace time.Duration) (ageMinutes float64, confirmed bool) {
	entry, ok := t.Entry(ctx, orderID, fingerprint)
	if !ok {
		return 0, false
	}
	age := t.ageOf(entry)
	return age.Minutes(), age >= grace
}

// TrackedFingerprints returns the set of fingerprints tracked for an order.
func (t *Tracker) TrackedFingerprints(ctx context.Context, orderID string) map[string]struct{} {
	entries := t.TrackedEntries(ctx, orderID)
	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		out[e.Fingerprint] = struct{}{}
	}
	return out
}

// TrackedEntries returns the entries tracked for an order.
func (t *Tracker) TrackedEntries(ctx context.Context, orderID string) []domain.TrackedEntry {
	entries, err := t.store.ListOrder(ctx, orderID)
	if err != nil {
		t.log.Warn("list order failed", "order_id", orderID, "error", err)
		return nil
	}
	return t.live(entries)
}

// Clear removes an entry. Clearing an absent entry is a no-op.
func (t *Tracker) Clear(ctx context.Context, orderID, fingerprint string) {
	if err := t.store.Delete(ctx, orderID, fingerprint); err != nil {
		t.log.Warn("clear failed", "order_id", orderID, "fingerprint", fingerprint, "error", err)
	}
}

// AllExpired scans every order and returns the entries at least grace old.
// Pagination of the backing store is handled by the store's Scan.
func (t *Tracker) AllExpired(ctx context.Context, grace time.Duration) []domain.ExpiredEntry {
	var out []domain.ExpiredEntry
	for _, e := range t.scan(ctx) {
		if age := t.ageOf(e); age >= grace {
			out = append(out, domain.ExpiredEntry{TrackedEntry: e, AgeMinutes: age.Minutes()})
		}
	}
	return out
}

// ListPending returns every tracked entry annotated with its age.
func (t *Tracker) ListPending(ctx context.Context) []domain.ExpiredEntry {
	entries := t.scan(ctx)
	out := make([]domain.ExpiredEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, domain.ExpiredEntry{TrackedEntry: e, AgeMinutes: t.ageOf(e).Minutes()})
	}
	return out
}

// scan purges entries past their TTL, then returns the live remainder.
func (t *Tracker) scan(ctx context.Context) []domain.TrackedEntry {
	if n, err := t.store.Purge(ctx, t.Now()); err != nil {
		t.log.Warn("purge failed", "driver", t.store.Driver(), "error", err)
	} else if n > 0 {
		t.log.Info("purged abandoned entries", "count", n)
	}
	start := time.Now()
	entries, err := t.store.Scan(ctx)
	t.metrics.Observe(ctx, "tracker.scan", err == nil, time.Since(start))
	if err != nil {
		t.log.Warn("scan failed", "driver", t.store.Driver(), "error", err)
		return nil
	}
	return t.live(entries)
}

func (t *Tracker) live(entries []domain.TrackedEntry) []domain.TrackedEntry {
	now := t.Now()
	out := entries[:0]
	for _, e := range entries {
		if !e.Expired(now) {
			out = append(out, e)
		}
	}
	return out
}

func (t *Tracker) ageOf(e domain.TrackedEntry) time.Duration {
	age := t.Now().Sub(e.FirstSeen)
	if age < 0 {
		return 0
	}
	return age
}

// snapshot strips per-pass annotations so the stored payload describes the issue only.
func snapshot(issue domain.Issue) domain.Issue {
	issue.TrackingStatus = ""
	issue.ErrorAgeMinutes = 0
	return issue
}
