package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordergate/internal/infra/persistence/memory"
	"ordergate/internal/tracker"
	"ordergate/pkg/domain"
	"ordergate/testutil"
)

var t0 = time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu      sync.Mutex
	failFor map[string]bool
	calls   []string
}

func (f *fakeSource) FetchOrder(_ context.Context, id string) (domain.OrderSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if f.failFor[id] {
		return domain.OrderSnapshot{}, errors.New("inflow unavailable")
	}
	return domain.OrderSnapshot{ID: id, Number: "SO-" + id}, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	fail    bool
	reports []domain.Report
	block   chan struct{}
}

func (f *fakeNotifier) Notify(_ context.Context, report domain.Report, _ domain.OrderSnapshot) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	if f.fail {
		return errors.New("smtp down")
	}
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

type harness struct {
	tracker  *tracker.Tracker
	clock    *testutil.Clock
	source   *fakeSource
	notifier *fakeNotifier
	monitor  *Monitor
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	clock := testutil.NewClock(t0)
	tr := tracker.New(memory.NewStore(), tracker.WithClock(clock.Now))
	h := &harness{
		tracker:  tr,
		clock:    clock,
		source:   &fakeSource{failFor: map[string]bool{}},
		notifier: &fakeNotifier{},
	}
	h.monitor = New(tr, h.source, h.notifier, append([]Option{WithIDGenerator(func() string { return "rep" })}, opts...)...)
	return h
}

func (h *harness) track(order, fp, msg string) {
	h.tracker.Track(context.Background(), order, fp, domain.Issue{Rule: "R1", Message: msg, Severity: domain.SeverityError}, "SO-"+order)
}

func TestSweepBatchesPerOrder(t *testing.T) {
	h := newHarness(t)
	h.track("O1", "a", "first")
	h.track("O1", "b", "second")
	h.track("O2", "c", "third")
	h.clock.Advance(31 * time.Minute)

	res := h.monitor.TriggerCheck(context.Background())
	assert.Equal(t, 3, res.Expired)
	assert.Equal(t, 2, res.Orders)
	assert.Equal(t, 2, res.Notified)
	assert.Equal(t, 3, res.Cleared)
	require.Equal(t, 2, h.notifier.count(), "one notification per order")

	byOrder := map[string]domain.Report{}
	for _, r := range h.notifier.reports {
		byOrder[r.OrderID] = r
	}
	o1 := byOrder["O1"]
	assert.Equal(t, domain.StatusFailed, o1.Status)
	assert.Equal(t, "SO-O1", o1.OrderNumber)
	assert.Equal(t, 2, o1.ConfirmedCount)
	require.Len(t, o1.Issues, 2)
	for _, is := range o1.Issues {
		assert.Equal(t, domain.TrackingConfirmed, is.TrackingStatus)
		assert.InDelta(t, 31.0, is.ErrorAgeMinutes, 1e-9)
		assert.NotEmpty(t, is.Fingerprint)
	}
	assert.Len(t, byOrder["O2"].Issues, 1)
	assert.Empty(t, h.tracker.TrackedFingerprints(context.Background(), "O1"))
	assert.Empty(t, h.tracker.TrackedFingerprints(context.Background(), "O2"))
}

func TestSweepIgnoresYoungErrors(t *testing.T) {
	h := newHarness(t)
	h.track("O1", "a", "first")
	h.clock.Advance(29 * time.Minute)
	res := h.monitor.TriggerCheck(context.Background())
	assert.Zero(t, res.Expired)
	assert.Zero(t, h.notifier.count())
	assert.Len(t, h.tracker.TrackedFingerprints(context.Background(), "O1"), 1)
}

func TestNotifierFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	h.notifier.fail = true
	h.track("O1", "a", "first")
	h.clock.Advance(45 * time.Minute)

	res := h.monitor.TriggerCheck(context.Background())
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"O1"}, res.FailedIDs)
	assert.Contains(t, h.tracker.TrackedFingerprints(context.Background(), "O1"), "a")

	h.notifier.mu.Lock()
	h.notifier.fail = false
	h.notifier.mu.Unlock()
	res = h.monitor.TriggerCheck(context.Background())
	assert.Equal(t, 1, res.Notified, "the next sweep retries")
	assert.Empty(t, h.tracker.TrackedFingerprints(context.Background(), "O1"))
}

func TestConfirmedReportsAreRecordedBeforeNotify(t *testing.T) {
	var (
		mu       sync.Mutex
		recorded []domain.Report
	)
	h := newHarness(t, WithReportRecorder(func(_ context.Context, r domain.Report) {
		mu.Lock()
		defer mu.Unlock()
		recorded = append(recorded, r)
	}))
	h.notifier.fail = true
	h.track("O1", "a", "first")
	h.track("O1", "b", "second")
	h.clock.Advance(time.Hour)

	res := h.monitor.TriggerCheck(context.Background())
	require.Equal(t, 1, res.Failed)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, recorded, 1, "failed deliveries still reach the audit trail")
	assert.Equal(t, domain.StatusFailed, recorded[0].Status)
	assert.Equal(t, "O1", recorded[0].OrderID)
	assert.Equal(t, 2, recorded[0].ConfirmedCount)
	assert.Equal(t, 1, h.notifier.count())
}

func TestFetchFailureSkipsOnlyThatOrder(t *testing.T) {
	h := newHarness(t)
	h.source.failFor["O1"] = true
	h.track("O1", "a", "first")
	h.track("O2", "b", "second")
	h.clock.Advance(time.Hour)

	res := h.monitor.TriggerCheck(context.Background())
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{"O1"}, res.SkippedIDs)
	assert.Equal(t, 1, res.Notified)
	assert.Equal(t, 1, h.notifier.count())
	assert.Contains(t, h.tracker.TrackedFingerprints(context.Background(), "O1"), "a")
	assert.Empty(t, h.tracker.TrackedFingerprints(context.Background(), "O2"))
}

func TestEndToEndEscalation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fp := tracker.Fingerprint("O1", "R1", "discount exceeds limit", nil)
	h.tracker.Track(ctx, "O1", fp, domain.Issue{Rule: "R1", Message: "discount exceeds limit", Severity: domain.SeverityError}, "SO-1")

	h.clock.Advance(29 * time.Minute)
	h.monitor.TriggerCheck(ctx)
	require.Zero(t, h.notifier.count())

	h.clock.Advance(2 * time.Minute)
	h.monitor.TriggerCheck(ctx)
	require.Equal(t, 1, h.notifier.count())
	rep := h.notifier.reports[0]
	assert.Equal(t, 1, rep.ConfirmedCount)
	require.Len(t, rep.Issues, 1)
	assert.Equal(t, fp, rep.Issues[0].Fingerprint)
	assert.Empty(t, h.tracker.TrackedFingerprints(ctx, "O1"))
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t, WithInterval(time.Hour), WithStopTimeout(time.Second))
	h.track("O1", "a", "first")
	h.clock.Advance(time.Hour)

	require.False(t, h.monitor.Running())
	require.True(t, h.monitor.Start(context.Background()))
	assert.False(t, h.monitor.Start(context.Background()), "second start is a no-op")
	assert.True(t, h.monitor.Status().Running)
	assert.Equal(t, 60, h.monitor.Status().IntervalMinutes)

	require.Eventually(t, func() bool { return h.notifier.count() == 1 }, 2*time.Second, 10*time.Millisecond,
		"start runs an immediate sweep")
	require.NoError(t, h.monitor.Stop())
	assert.False(t, h.monitor.Running())
	require.NoError(t, h.monitor.Stop(), "stopping a stopped monitor is a no-op")

	st := h.monitor.Status()
	require.NotNil(t, st.LastSweep)
	assert.Equal(t, "startup", st.LastSweep.Trigger)
}

func TestStopWaitsForInflightSweepBounded(t *testing.T) {
	h := newHarness(t, WithInterval(time.Hour), WithStopTimeout(50*time.Millisecond))
	h.notifier.block = make(chan struct{})
	h.track("O1", "a", "first")
	h.clock.Advance(time.Hour)

	require.True(t, h.monitor.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.ErrorIs(t, h.monitor.Stop(), ErrStopTimeout)

	close(h.notifier.block)
	require.Eventually(t, func() bool { return h.notifier.count() == 1 }, time.Second, 5*time.Millisecond,
		"the in-flight notification is not abandoned")
}

func TestTriggerAsync(t *testing.T) {
	h := newHarness(t)
	h.track("O1", "a", "first")
	h.clock.Advance(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	h.monitor.TriggerAsync(ctx)
	cancel()
	require.Eventually(t, func() bool { return h.notifier.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestConcurrentSweepsDoNotCorruptState(t *testing.T) {
	h := newHarness(t)
	for _, o := range []string{"O1", "O2", "O3"} {
		h.track(o, "a", "first")
	}
	h.clock.Advance(time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.monitor.TriggerCheck(context.Background())
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, h.notifier.count(), 3)
	assert.Empty(t, h.tracker.ListPending(context.Background()))
}
