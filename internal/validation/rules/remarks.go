package rules

import (
	"context"
	"fmt"
	"strings"

	"ordergate/pkg/domain"
)

// DiscountRemarkRuleName identifies the discount remark rule.
const DiscountRemarkRuleName = "Discount Remark Validation"

// NewDiscountRemarkRule requires order remarks whenever a Z_DISCOUNT line is present.
func NewDiscountRemarkRule() domain.Rule { return discountRemarkRule{} }

type discountRemarkRule struct{}

func (discountRemarkRule) Name() string { return DiscountRemarkRuleName }

func (discountRemarkRule) Evaluate(_ context.Context, _ domain.OrderSnapshot, shared domain.RuleContext) (domain.RuleResult, error) {
	res := domain.NewRuleResult(DiscountRemarkRuleName)
	if len(shared.LineItems) == 0 {
		res.AddInfo("No line items to validate")
		return res, nil
	}
	var refs []string
	for _, item := range shared.LineItems {
		if isZDiscount(item) {
			refs = append(refs, fmt.Sprintf("Line %d (%s)", item.LineNumber, item.SKU))
		}
	}
	if len(refs) == 0 {
		res.AddInfo("No Z_DISCOUNT items found in the order")
		return res, nil
	}
	remarks := shared.Order.Remarks
	if remarks == "" {
		remarks = strings.TrimSpace(toString(shared.Raw["orderRemarks"]))
	}
	if remarks != "" {
		res.AddInfo(fmt.Sprintf("Z_DISCOUNT found on %d line(s) with remarks present: %q", len(refs), remarks))
		return res, nil
	}
	res.AddIssue(domain.SeverityError,
		"Z_DISCOUNT item(s) found but order remarks are missing. Please add remarks explaining the discount reason.",
		map[string]any{"z_discount_lines": strings.Join(refs, ", "), "has_remarks": false})
	res.AddFix(fmt.Sprintf("Add order remarks explaining why the discount (%s) was applied", strings.Join(refs, ", ")))
	return res, nil
}
