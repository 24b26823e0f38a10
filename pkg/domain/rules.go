package domain

import "context"

// Severity classifies an issue raised by a rule.
type Severity string

// Issue severities. Only errors are debounced by the tracker.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// TrackingStatus annotates an error issue after it has been matched against tracked state.
type TrackingStatus string

const (
	TrackingPending   TrackingStatus = "pending"
	TrackingConfirmed TrackingStatus = "confirmed"
)

// Issue is a single finding produced by a rule.
type Issue struct {
	Rule     string         `json:"rule"`
	Message  string         `json:"message"`
	Severity Severity       `json:"severity"`
	Details  map[string]any `json:"details,omitempty"`

	TrackingStatus  TrackingStatus `json:"tracking_status,omitempty"`
	ErrorAgeMinutes float64        `json:"error_age_minutes,omitempty"`
	Fingerprint     string         `json:"fingerprint,omitempty"`
}

// RuleResult aggregates the output of one rule evaluation.
type RuleResult struct {
	Rule           string   `json:"rule"`
	Passed         bool     `json:"passed"`
	Issues         []Issue  `json:"issues"`
	SuggestedFixes []string `json:"suggested_fixes,omitempty"`
	InfoMessages   []string `json:"info_messages,omitempty"`
}

// NewRuleResult returns a passing result for the named rule.
func NewRuleResult(rule string) RuleResult {
	return RuleResult{Rule: rule, Passed: true}
}

// AddIssue records an issue and marks the result as failed.
func (r *RuleResult) AddIssue(severity Severity, message string, details map[string]any) {
	r.Passed = false
	r.Issues = append(r.Issues, Issue{
		Rule:     r.Rule,
		Message:  message,
		Severity: severity,
		Details:  details,
	})
}

// AddFix appends a human readable remediation hint.
func (r *RuleResult) AddFix(fix string) {
	r.SuggestedFixes = append(r.SuggestedFixes, fix)
}

// AddInfo appends an informational message.
func (r *RuleResult) AddInfo(msg string) {
	r.InfoMessages = append(r.InfoMessages, msg)
}

// Rule is a single business check over a normalised order. Implementations
// must not fail for recoverable conditions; missing optional data yields no issue.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, order OrderSnapshot, shared RuleContext) (RuleResult, error)
}

// Normalizer is the designated first rule: it turns the raw order payload into
// the shared context every other rule receives.
type Normalizer interface {
	Name() string
	Normalize(ctx context.Context, order OrderSnapshot) (RuleContext, RuleResult, error)
}

// RuleFunc adapts a plain function into a Rule.
type RuleFunc struct {
	RuleName string
	Fn       func(ctx context.Context, order OrderSnapshot, shared RuleContext) (RuleResult, error)
}

// Name implements Rule.
func (f RuleFunc) Name() string { return f.RuleName }

// Evaluate implements Rule.
func (f RuleFunc) Evaluate(ctx context.Context, order OrderSnapshot, shared RuleContext) (RuleResult, error) {
	return f.Fn(ctx, order, shared)
}
