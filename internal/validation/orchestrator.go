// Package validation runs the rule set over an order and merges the findings
// with tracked error state to decide the aggregate status of a pass.
package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ordergate/internal/logger"
	"ordergate/internal/metrics"
	"ordergate/internal/tracker"
	"ordergate/pkg/domain"
)

// Orchestrator owns the ordered rule set. The normalizer always runs first and
// its context is handed to every registered rule.
type Orchestrator struct {
	normalizer domain.Normalizer
	rules      []domain.Rule
	tracker    *tracker.Tracker
	grace      time.Duration
	log        *logger.Logger
	metrics    metrics.Recorder
	newID      func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGracePeriod overrides the escalation delay (default tracker.DefaultGracePeriod).
func WithGracePeriod(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.grace = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l.WithComponent("validation") }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = metrics.OrNop(r) }
}

// WithIDGenerator overrides report id generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// New constructs an orchestrator. normalizer may be nil, in which case rules
// receive a context carrying only the raw order.
func New(normalizer domain.Normalizer, tr *tracker.Tracker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		normalizer: normalizer,
		tracker:    tr,
		grace:      tracker.DefaultGracePeriod,
		log:        logger.Nop(),
		metrics:    metrics.Nop{},
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register appends rules in evaluation order.
func (o *Orchestrator) Register(rules ...domain.Rule) {
	o.rules = append(o.rules, rules...)
}

// RuleNames lists the normalizer followed by registered rules.
func (o *Orchestrator) RuleNames() []string {
	names := make([]string, 0, len(o.rules)+1)
	if o.normalizer != nil {
		names = append(names, o.normalizer.Name())
	}
	for _, r := range o.rules {
		names = append(names, r.Name())
	}
	return names
}

// GracePeriod returns the configured escalation delay.
func (o *Orchestrator) GracePeriod() time.Duration { return o.grace }

// Validate runs one pass over order. It never fails: rule failures become
// issues and tracker failures degrade to untracked (pending) errors.
func (o *Orchestrator) Validate(ctx context.Context, order domain.OrderSnapshot) domain.Report {
	start := time.Now()
	report := domain.Report{
		ID:          o.newID(),
		OrderID:     order.ID,
		OrderNumber: order.Label(),
		Timestamp:   o.tracker.Now(),
		Issues:      []domain.Issue{},
	}

	shared, results := o.evaluate(ctx, order)
	if shared.Order.OrderNumber != "" && order.Number == "" {
		report.OrderNumber = shared.Order.OrderNumber
	}

	var issues []domain.Issue
	for _, res := range results {
		report.RuleResults = append(report.RuleResults, domain.RuleSummary{Rule: res.Rule, Passed: res.Passed})
		report.SuggestedFixes = append(report.SuggestedFixes, res.SuggestedFixes...)
		report.InfoMessages = append(report.InfoMessages, res.InfoMessages...)
		issues = append(issues, res.Issues...)
	}

	previous := o.tracker.TrackedEntries(ctx, order.ID)
	current := make(map[string]struct{})
	for _, is := range issues {
		if is.Severity == domain.SeverityError {
			is = o.trackIssue(ctx, order.ID, report.OrderNumber, is)
			current[is.Fingerprint] = struct{}{}
			if is.TrackingStatus == domain.TrackingConfirmed {
				report.ConfirmedCount++
			} else {
				report.PendingCount++
			}
		}
		report.Issues = append(report.Issues, is)
	}

	report.ResolvedIssues = []domain.Issue{}
	for _, e := range previous {
		if _, still := current[e.Fingerprint]; still {
			continue
		}
		resolved := e.Details
		resolved.Fingerprint = e.Fingerprint
		report.ResolvedIssues = append(report.ResolvedIssues, resolved)
		o.tracker.Clear(ctx, order.ID, e.Fingerprint)
	}

	report.Status = aggregate(report)
	o.metrics.IncValidation(string(report.Status))
	o.metrics.Observe(ctx, "validation.validate", true, time.Since(start))
	o.log.Info("validation complete",
		"order_id", order.ID,
		"order_number", report.OrderNumber,
		"status", report.Status,
		"errors", report.ErrorCount(),
		"warnings", report.WarningCount(),
		"pending", report.PendingCount,
		"confirmed", report.ConfirmedCount,
		"resolved", len(report.ResolvedIssues))
	return report
}

func (o *Orchestrator) trackIssue(ctx context.Context, orderID, orderNumber string, is domain.Issue) domain.Issue {
	fp := tracker.Fingerprint(orderID, is.Rule, is.Message, is.Details)
	o.tracker.Track(ctx, orderID, fp, is, orderNumber)
	age, confirmed := o.tracker.Assess(ctx, orderID, fp, o.grace)
	is.Fingerprint = fp
	is.ErrorAgeMinutes = age
	if confirmed {
		is.TrackingStatus = domain.TrackingConfirmed
	} else {
		is.TrackingStatus = domain.TrackingPending
	}
	return is
}

// evaluate runs the normalizer then every rule, isolating failures.
func (o *Orchestrator) evaluate(ctx context.Context, order domain.OrderSnapshot) (domain.RuleContext, []domain.RuleResult) {
	shared := domain.RuleContext{Raw: order.Raw}
	results := make([]domain.RuleResult, 0, len(o.rules)+1)
	if o.normalizer != nil {
		name := o.normalizer.Name()
		var (
			normalized domain.RuleContext
			res        domain.RuleResult
		)
		err := guard(func() error {
			var err error
			normalized, res, err = o.normalizer.Normalize(ctx, order)
			return err
		})
		if err != nil {
			o.log.Error("normalizer failed", "rule", name, "order_id", order.ID, "error", err)
			results = append(results, failedResult(name, err))
		} else {
			if normalized.Raw == nil {
				normalized.Raw = order.Raw
			}
			shared = normalized
			results = append(results, withRule(res, name))
		}
	}
	for _, rule := range o.rules {
		name := rule.Name()
		var res domain.RuleResult
		err := guard(func() error {
			var err error
			res, err = rule.Evaluate(ctx, order, shared)
			return err
		})
		if err != nil {
			o.log.Error("rule failed", "rule", name, "order_id", order.ID, "error", err)
			results = append(results, failedResult(name, err))
			continue
		}
		results = append(results, withRule(res, name))
	}
	return shared, results
}

// guard converts a panic in fn into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return fn()
}

func failedResult(rule string, err error) domain.RuleResult {
	res := domain.NewRuleResult(rule)
	res.AddIssue(domain.SeverityError, "Validator error: "+err.Error(), nil)
	return res
}

// withRule stamps the rule name on a result and its issues.
func withRule(res domain.RuleResult, name string) domain.RuleResult {
	if res.Rule == "" {
		res.Rule = name
	}
	for i := range res.Issues {
		if res.Issues[i].Rule == "" {
			res.Issues[i].Rule = res.Rule
		}
	}
	return res
}

// aggregate applies failed > pending > warning > passed.
func aggregate(r domain.Report) domain.Status {
	switch {
	case r.ConfirmedCount > 0:
		return domain.StatusFailed
	case r.PendingCount > 0:
		return domain.StatusPending
	case r.WarningCount() > 0:
		return domain.StatusWarning
	default:
		return domain.StatusPassed
	}
}
