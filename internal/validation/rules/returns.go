package rules

import (
	"context"
	"fmt"
	"strings"

	"ordergate/pkg/domain"
)

// ReturnReasonRuleName identifies the return reason rule.
const ReturnReasonRuleName = "Return Reason Validation"

// NewReturnReasonRule requires customFields.custom4 when any line has a negative quantity.
func NewReturnReasonRule() domain.Rule { return returnReasonRule{} }

type returnReasonRule struct{}

func (returnReasonRule) Name() string { return ReturnReasonRuleName }

func (returnReasonRule) Evaluate(_ context.Context, _ domain.OrderSnapshot, shared domain.RuleContext) (domain.RuleResult, error) {
	res := domain.NewRuleResult(ReturnReasonRuleName)
	if len(shared.LineItems) == 0 {
		res.AddInfo("No line items to validate")
		return res, nil
	}
	var refs []string
	for _, item := range shared.LineItems {
		qty, err := parseFloat(item.Quantity)
		if err == nil && qty < 0 {
			refs = append(refs, fmt.Sprintf("Line %d (%s, Qty: %s)", item.LineNumber, item.SKU, item.Quantity))
		}
	}
	if len(refs) == 0 {
		res.AddInfo("No return items (negative quantity) found in the order")
		return res, nil
	}
	var reason string
	if custom, ok := shared.Raw["customFields"].(map[string]any); ok {
		reason = strings.TrimSpace(toString(custom["custom4"]))
	}
	if reason != "" {
		res.AddInfo(fmt.Sprintf("Return item(s) found on %d line(s) with return reason present: %q", len(refs), reason))
		return res, nil
	}
	res.AddIssue(domain.SeverityError,
		"Return item(s) found but return reason is missing. Please provide a reason in Custom Field 4 (Return Reason).",
		map[string]any{"return_item_lines": strings.Join(refs, ", "), "has_return_reason": false})
	res.AddFix(fmt.Sprintf("Add return reason in Custom Field 4 explaining why items (%s) are being returned", strings.Join(refs, ", ")))
	return res, nil
}
