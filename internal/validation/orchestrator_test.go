package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordergate/internal/infra/persistence/memory"
	"ordergate/internal/tracker"
	"ordergate/pkg/domain"
	"ordergate/testutil"
)

var t0 = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

type issueDef struct {
	sev domain.Severity
	msg string
}

// staticRule emits the configured issues on every evaluation.
func staticRule(name string, defs ...issueDef) domain.Rule {
	return domain.RuleFunc{RuleName: name, Fn: func(context.Context, domain.OrderSnapshot, domain.RuleContext) (domain.RuleResult, error) {
		res := domain.NewRuleResult(name)
		for _, s := range defs {
			res.AddIssue(s.sev, s.msg, map[string]any{"sku": "SKU-1"})
		}
		return res, nil
	}}
}

func newHarness(t *testing.T) (*tracker.Tracker, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(t0)
	return tracker.New(memory.NewStore(), tracker.WithClock(clock.Now)), clock
}

var order = domain.OrderSnapshot{ID: "O1", Number: "SO-1001"}

func TestStatusPrecedence(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmed error dominates warnings", func(t *testing.T) {
		tr, clock := newHarness(t)
		o := New(nil, tr)
		o.Register(staticRule("R1", issueDef{domain.SeverityError, "bad"}), staticRule("R2",
			issueDef{domain.SeverityWarning, "w1"}, issueDef{domain.SeverityWarning, "w2"}))
		require.Equal(t, domain.StatusPending, o.Validate(ctx, order).Status)
		clock.Advance(31 * time.Minute)
		rep := o.Validate(ctx, order)
		assert.Equal(t, domain.StatusFailed, rep.Status)
		assert.Equal(t, 1, rep.ConfirmedCount)
		assert.Equal(t, 2, rep.WarningCount())
	})

	t.Run("warning only", func(t *testing.T) {
		tr, _ := newHarness(t)
		o := New(nil, tr)
		o.Register(staticRule("R2", issueDef{domain.SeverityWarning, "w"}))
		rep := o.Validate(ctx, order)
		assert.Equal(t, domain.StatusWarning, rep.Status)
		assert.Empty(t, tr.TrackedFingerprints(ctx, "O1"), "warnings are never tracked")
		assert.Empty(t, rep.Issues[0].TrackingStatus)
	})

	t.Run("pending error", func(t *testing.T) {
		tr, _ := newHarness(t)
		o := New(nil, tr)
		o.Register(staticRule("R1", issueDef{domain.SeverityError, "bad"}), staticRule("R2", issueDef{domain.SeverityWarning, "w"}))
		rep := o.Validate(ctx, order)
		assert.Equal(t, domain.StatusPending, rep.Status)
		assert.Equal(t, 1, rep.PendingCount)
		assert.Equal(t, 0, rep.ConfirmedCount)
	})

	t.Run("no issues", func(t *testing.T) {
		tr, _ := newHarness(t)
		o := New(nil, tr)
		o.Register(staticRule("R1"))
		rep := o.Validate(ctx, order)
		assert.Equal(t, domain.StatusPassed, rep.Status)
		assert.Empty(t, rep.Issues)
		assert.Equal(t, []domain.RuleSummary{{Rule: "R1", Passed: true}}, rep.RuleResults)
	})
}

func TestResolutionDetection(t *testing.T) {
	ctx := context.Background()
	tr, clock := newHarness(t)
	failing := true
	rule := domain.RuleFunc{RuleName: "R1", Fn: func(context.Context, domain.OrderSnapshot, domain.RuleContext) (domain.RuleResult, error) {
		res := domain.NewRuleResult("R1")
		if failing {
			res.AddIssue(domain.SeverityError, "discount exceeds limit", map[string]any{"line_number": 1})
		}
		return res, nil
	}}
	o := New(nil, tr)
	o.Register(rule)

	first := o.Validate(ctx, order)
	require.Len(t, first.Issues, 1)
	fp := first.Issues[0].Fingerprint
	require.Contains(t, tr.TrackedFingerprints(ctx, "O1"), fp)

	failing = false
	clock.Advance(5 * time.Minute)
	second := o.Validate(ctx, order)
	assert.Equal(t, domain.StatusPassed, second.Status)
	require.Len(t, second.ResolvedIssues, 1)
	assert.Equal(t, fp, second.ResolvedIssues[0].Fingerprint)
	assert.Equal(t, "discount exceeds limit", second.ResolvedIssues[0].Message)
	assert.Empty(t, tr.TrackedFingerprints(ctx, "O1"))
}

func TestRuleFailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	tr, _ := newHarness(t)
	ran := false
	o := New(nil, tr)
	o.Register(
		domain.RuleFunc{RuleName: "Panicky", Fn: func(context.Context, domain.OrderSnapshot, domain.RuleContext) (domain.RuleResult, error) {
			panic("index out of range")
		}},
		domain.RuleFunc{RuleName: "Erroring", Fn: func(context.Context, domain.OrderSnapshot, domain.RuleContext) (domain.RuleResult, error) {
			return domain.RuleResult{}, errors.New("missing price list")
		}},
		domain.RuleFunc{RuleName: "After", Fn: func(context.Context, domain.OrderSnapshot, domain.RuleContext) (domain.RuleResult, error) {
			ran = true
			return domain.NewRuleResult("After"), nil
		}},
	)
	rep := o.Validate(ctx, order)
	require.True(t, ran, "later rules must still run")
	require.Len(t, rep.Issues, 2)
	assert.Equal(t, "Panicky", rep.Issues[0].Rule)
	assert.Equal(t, "Validator error: index out of range", rep.Issues[0].Message)
	assert.Equal(t, domain.SeverityError, rep.Issues[0].Severity)
	assert.Equal(t, "Validator error: missing price list", rep.Issues[1].Message)
	assert.Equal(t, domain.StatusPending, rep.Status, "rule failures are debounced like any error")
	assert.Len(t, tr.TrackedFingerprints(ctx, "O1"), 2)
}

type fakeNormalizer struct {
	ctx domain.RuleContext
	err error
}

func (fakeNormalizer) Name() string { return "Order Data Fetcher" }

func (f fakeNormalizer) Normalize(context.Context, domain.OrderSnapshot) (domain.RuleContext, domain.RuleResult, error) {
	res := domain.NewRuleResult("Order Data Fetcher")
	res.AddInfo("normalised")
	return f.ctx, res, f.err
}

func TestNormalizerContextIsShared(t *testing.T) {
	ctx := context.Background()
	tr, _ := newHarness(t)
	norm := fakeNormalizer{ctx: domain.RuleContext{Order: domain.OrderInfo{OrderNumber: "SO-9"}, LineItems: []domain.LineItem{{LineNumber: 1, SKU: "A"}}}}
	var seen []domain.RuleContext
	capture := func(name string) domain.Rule {
		return domain.RuleFunc{RuleName: name, Fn: func(_ context.Context, _ domain.OrderSnapshot, shared domain.RuleContext) (domain.RuleResult, error) {
			seen = append(seen, shared)
			return domain.NewRuleResult(name), nil
		}}
	}
	o := New(norm, tr)
	o.Register(capture("A"), capture("B"))
	rep := o.Validate(ctx, domain.OrderSnapshot{ID: "O9"})

	require.Len(t, seen, 2)
	for _, s := range seen {
		assert.Equal(t, "SO-9", s.Order.OrderNumber)
		assert.Len(t, s.LineItems, 1)
	}
	assert.Equal(t, "SO-9", rep.OrderNumber)
	assert.Equal(t, []string{"Order Data Fetcher", "A", "B"}, o.RuleNames())
	assert.Equal(t, []string{"normalised"}, rep.InfoMessages)
}

func TestNormalizerFailureStillRunsRules(t *testing.T) {
	ctx := context.Background()
	tr, _ := newHarness(t)
	o := New(fakeNormalizer{err: errors.New("order has no lines")}, tr)
	ran := false
	o.Register(domain.RuleFunc{RuleName: "R", Fn: func(_ context.Context, snap domain.OrderSnapshot, shared domain.RuleContext) (domain.RuleResult, error) {
		ran = true
		assert.Equal(t, snap.Raw, shared.Raw)
		return domain.NewRuleResult("R"), nil
	}})
	rep := o.Validate(ctx, domain.OrderSnapshot{ID: "O2", Raw: map[string]any{"orderNumber": "SO-2"}})
	require.True(t, ran)
	require.Len(t, rep.Issues, 1)
	assert.Equal(t, "Order Data Fetcher", rep.Issues[0].Rule)
	assert.Equal(t, "Validator error: order has no lines", rep.Issues[0].Message)
}

func TestEndToEndGracePeriod(t *testing.T) {
	ctx := context.Background()
	tr, clock := newHarness(t)
	o := New(nil, tr, WithIDGenerator(func() string { return "r" }))
	o.Register(staticRule("R1", issueDef{domain.SeverityError, "discount exceeds limit"}))

	rep := o.Validate(ctx, order)
	require.Equal(t, domain.StatusPending, rep.Status)
	assert.Equal(t, "r", rep.ID)
	assert.Equal(t, t0, rep.Timestamp)

	clock.Advance(29 * time.Minute)
	rep = o.Validate(ctx, order)
	require.Equal(t, domain.StatusPending, rep.Status)
	assert.InDelta(t, 29.0, rep.Issues[0].ErrorAgeMinutes, 1e-9)
	assert.Empty(t, rep.VisibleIssues())

	clock.Advance(2 * time.Minute)
	rep = o.Validate(ctx, order)
	require.Equal(t, domain.StatusFailed, rep.Status)
	assert.Equal(t, 1, rep.ConfirmedCount)
	assert.Equal(t, domain.TrackingConfirmed, rep.Issues[0].TrackingStatus)
	assert.Len(t, rep.VisibleIssues(), 1)
}

func TestCustomGracePeriod(t *testing.T) {
	ctx := context.Background()
	tr, clock := newHarness(t)
	o := New(nil, tr, WithGracePeriod(5*time.Minute))
	o.Register(staticRule("R1", issueDef{domain.SeverityError, "bad"}))
	o.Validate(ctx, order)
	clock.Advance(5 * time.Minute)
	assert.Equal(t, domain.StatusFailed, o.Validate(ctx, order).Status)
	assert.Equal(t, 5*time.Minute, o.GracePeriod())
}
