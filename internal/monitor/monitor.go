// Package monitor escalates tracked errors once their grace period lapses,
// even when no new event arrives for the order.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"ordergate/internal/logger"
	"ordergate/internal/metrics"
	"ordergate/internal/tracker"
	"ordergate/pkg/domain"
)

const (
	// DefaultInterval is the delay between timer-driven sweeps.
	DefaultInterval = 10 * time.Minute
	// DefaultStopTimeout bounds how long Stop waits for an in-flight sweep.
	DefaultStopTimeout = 30 * time.Second
)

// ErrStopTimeout is returned by Stop when the in-flight sweep outlives the timeout.
var ErrStopTimeout = errors.New("monitor: timed out waiting for sweep to finish")

// Monitor is a single scheduler object. Sweeps may overlap (timer and manual
// trigger); that is safe because every tracker write is a per-key upsert or
// delete, so no lock is held across a sweep.
type Monitor struct {
	tracker     *tracker.Tracker
	source      domain.OrderSource
	notifier    domain.Notifier
	interval    time.Duration
	grace       time.Duration
	stopTimeout time.Duration
	log         *logger.Logger
	metrics     metrics.Recorder
	newID       func() string
	record      func(context.Context, domain.Report)

	mu       sync.Mutex
	running  bool
	sched    *cron.Cron
	inflight sync.WaitGroup
	last     *SweepResult
}

// SweepResult summarises one sweep.
type SweepResult struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Expired    int           `json:"expired"`
	Orders     int           `json:"orders"`
	Notified   int           `json:"notified"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Cleared    int           `json:"cleared"`
	Trigger    string        `json:"trigger"`
	FailedIDs  []string      `json:"failed_order_ids,omitempty"`
	SkippedIDs []string      `json:"skipped_order_ids,omitempty"`
}

// Status is the externally visible monitor state.
type Status struct {
	Running         bool         `json:"running"`
	IntervalMinutes int          `json:"interval_minutes"`
	LastSweep       *SweepResult `json:"last_sweep,omitempty"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the sweep interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithGracePeriod sets the age at which tracked errors are escalated.
func WithGracePeriod(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.grace = d
		}
	}
}

// WithStopTimeout bounds Stop.
func WithStopTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.stopTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Monitor) { m.log = l.WithComponent("monitor") }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(m *Monitor) { m.metrics = metrics.OrNop(r) }
}

// WithIDGenerator overrides report id generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Monitor) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// WithReportRecorder sets a sink that receives every confirmed report before
// it is handed to the notifier, whether or not delivery then succeeds.
func WithReportRecorder(fn func(context.Context, domain.Report)) Option {
	return func(m *Monitor) { m.record = fn }
}

// New constructs a stopped monitor.
func New(tr *tracker.Tracker, source domain.OrderSource, notifier domain.Notifier, opts ...Option) *Monitor {
	m := &Monitor{
		tracker:     tr,
		source:      source,
		notifier:    notifier,
		interval:    DefaultInterval,
		grace:       tracker.DefaultGracePeriod,
		stopTimeout: DefaultStopTimeout,
		log:         logger.Nop(),
		metrics:     metrics.Nop{},
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs one sweep immediately in the background and schedules the rest
// every interval. Starting a running monitor is a no-op and returns false.
// Sweeps are detached from ctx cancellation so a shutdown never interrupts a
// notification mid-send; use Stop instead.
func (m *Monitor) Start(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.log.Warn("monitor already running; start ignored")
		return false
	}
	sweepCtx := context.WithoutCancel(ctx)
	sched := cron.New(cron.WithLogger(cronLogger{m.log}), cron.WithChain(cron.Recover(cronLogger{m.log})))
	if _, err := sched.AddFunc(fmt.Sprintf("@every %s", m.interval), func() {
		m.Sweep(sweepCtx, "timer")
	}); err != nil {
		m.log.Error("schedule sweep", "interval", m.interval, "error", err)
		return false
	}
	m.sched = sched
	m.running = true
	m.metrics.SetMonitorRunning(true)

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.Sweep(sweepCtx, "startup")
	}()
	sched.Start()
	m.log.Info("monitor started", "interval", m.interval.String(), "grace_period", m.grace.String())
	return true
}

// Stop halts the schedule and waits, bounded by the stop timeout, for
// in-flight sweeps to finish. Stopping a stopped monitor is a no-op.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	sched := m.sched
	m.sched = nil
	m.mu.Unlock()
	m.metrics.SetMonitorRunning(false)

	cronDone := sched.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info("monitor stopped")
		return nil
	case <-time.After(m.stopTimeout):
		m.log.Warn("monitor stop timed out; sweep still running", "timeout", m.stopTimeout.String())
		return ErrStopTimeout
	}
}

// TriggerCheck runs a sweep now, independent of the schedule, and waits for it.
func (m *Monitor) TriggerCheck(ctx context.Context) SweepResult {
	m.inflight.Add(1)
	defer m.inflight.Done()
	return m.Sweep(ctx, "manual")
}

// TriggerAsync starts a manual sweep in the background. The sweep cannot be
// cancelled once started.
func (m *Monitor) TriggerAsync(ctx context.Context) {
	sweepCtx := context.WithoutCancel(ctx)
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.Sweep(sweepCtx, "manual")
	}()
}

// Running reports whether the schedule is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Status reports the current state and the most recent sweep.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{Running: m.running, IntervalMinutes: int(m.interval / time.Minute)}
	if m.last != nil {
		last := *m.last
		st.LastSweep = &last
	}
	return st
}

// Sweep escalates every tracked error older than the grace period. Errors are
// batched per order: one refetch and one notification per order, and the
// order's fingerprints are cleared only after the notifier succeeds.
func (m *Monitor) Sweep(ctx context.Context, trigger string) SweepResult {
	started := time.Now()
	res := SweepResult{StartedAt: m.tracker.Now(), Trigger: trigger}
	expired := m.tracker.AllExpired(ctx, m.grace)
	res.Expired = len(expired)

	groups := groupByOrder(expired)
	res.Orders = len(groups)
	for _, g := range groups {
		cleared, err := m.escalate(ctx, g)
		switch {
		case errors.Is(err, errFetch):
			res.Skipped++
			res.SkippedIDs = append(res.SkippedIDs, g.orderID)
		case err != nil:
			res.Failed++
			res.FailedIDs = append(res.FailedIDs, g.orderID)
		default:
			res.Notified++
			res.Cleared += cleared
		}
	}
	res.Duration = time.Since(started)
	m.metrics.Observe(ctx, "monitor.sweep", res.Failed == 0 && res.Skipped == 0, res.Duration)

	m.mu.Lock()
	last := res
	m.last = &last
	m.mu.Unlock()

	if res.Expired > 0 || trigger == "manual" {
		m.log.Info("sweep complete",
			"trigger", trigger,
			"expired", res.Expired,
			"orders", res.Orders,
			"notified", res.Notified,
			"failed", res.Failed,
			"skipped", res.Skipped,
			"cleared", res.Cleared)
	}
	return res
}

var errFetch = errors.New("fetch order")

type orderGroup struct {
	orderID string
	entries []domain.ExpiredEntry
}

// groupByOrder keeps the first-seen order of order ids.
func groupByOrder(entries []domain.ExpiredEntry) []orderGroup {
	index := make(map[string]int)
	var groups []orderGroup
	for _, e := range entries {
		i, ok := index[e.OrderID]
		if !ok {
			i = len(groups)
			index[e.OrderID] = i
			groups = append(groups, orderGroup{orderID: e.OrderID})
		}
		groups[i].entries = append(groups[i].entries, e)
	}
	return groups
}

func (m *Monitor) escalate(ctx context.Context, g orderGroup) (int, error) {
	order, err := m.source.FetchOrder(ctx, g.orderID)
	if err != nil {
		m.log.Warn("order refetch failed; skipping until next sweep", "order_id", g.orderID, "error", err)
		return 0, fmt.Errorf("%w %s: %v", errFetch, g.orderID, err)
	}
	report := m.confirmedReport(g, order)
	if m.record != nil {
		m.record(ctx, report)
	}
	err = m.notifier.Notify(ctx, report, order)
	m.metrics.IncNotification(err == nil)
	if err != nil {
		m.log.Error("notification failed; errors stay tracked for retry",
			"order_id", g.orderID, "issues", len(report.Issues), "error", err)
		return 0, err
	}
	for _, e := range g.entries {
		m.tracker.Clear(ctx, e.OrderID, e.Fingerprint)
	}
	m.log.Info("escalated confirmed errors", "order_id", g.orderID, "order_number", report.OrderNumber, "issues", len(report.Issues))
	return len(g.entries), nil
}

func (m *Monitor) confirmedReport(g orderGroup, order domain.OrderSnapshot) domain.Report {
	number := order.Number
	if number == "" && len(g.entries) > 0 {
		number = g.entries[0].OrderNumber
	}
	if number == "" {
		number = g.orderID
	}
	report := domain.Report{
		ID:             m.newID(),
		OrderID:        g.orderID,
		OrderNumber:    number,
		Timestamp:      m.tracker.Now(),
		Status:         domain.StatusFailed,
		Issues:         make([]domain.Issue, 0, len(g.entries)),
		ResolvedIssues: []domain.Issue{},
	}
	for _, e := range g.entries {
		is := e.Details
		is.Fingerprint = e.Fingerprint
		is.TrackingStatus = domain.TrackingConfirmed
		is.ErrorAgeMinutes = e.AgeMinutes
		report.Issues = append(report.Issues, is)
	}
	report.ConfirmedCount = len(report.Issues)
	return report
}
