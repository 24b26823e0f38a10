package domain

import "time"

// Status is the aggregate outcome of a validation pass.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusPending Status = "pending"
	StatusWarning Status = "warning"
	StatusFailed  Status = "failed"
)

// Notifiable reports whether a report with this status should reach a human.
func (s Status) Notifiable() bool {
	return s == StatusWarning || s == StatusFailed
}

// RuleSummary records whether an individual rule passed.
type RuleSummary struct {
	Rule   string `json:"rule"`
	Passed bool   `json:"passed"`
}

// Report is the ephemeral result of one validation pass.
type Report struct {
	ID             string        `json:"id"`
	OrderID        string        `json:"order_id"`
	OrderNumber    string        `json:"order_number"`
	Timestamp      time.Time     `json:"timestamp"`
	Status         Status        `json:"status"`
	Issues         []Issue       `json:"issues"`
	ResolvedIssues []Issue       `json:"resolved_issues"`
	SuggestedFixes []string      `json:"suggested_fixes,omitempty"`
	InfoMessages   []string      `json:"info_messages,omitempty"`
	RuleResults    []RuleSummary `json:"rule_results,omitempty"`
	PendingCount   int           `json:"pending_count"`
	ConfirmedCount int           `json:"confirmed_count"`
}

// ErrorCount returns the number of error-severity issues.
func (r Report) ErrorCount() int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			n++
		}
	}
	return n
}

// WarningCount returns the number of warning-severity issues.
func (r Report) WarningCount() int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == SeverityWarning {
			n++
		}
	}
	return n
}

// VisibleIssues returns the issues a human should see: warnings and confirmed errors.
func (r Report) VisibleIssues() []Issue {
	out := make([]Issue, 0, len(r.Issues))
	for _, is := range r.Issues {
		if is.TrackingStatus == TrackingPending {
			continue
		}
		out = append(out, is)
	}
	return out
}
