package rules

import (
	"context"
	"fmt"
	"math"
	"strings"

	"ordergate/pkg/domain"
)

const (
	// DiscountRuleName identifies the discount rule.
	DiscountRuleName = "Discount Validation"
	// totalDiscountFloor is the minimum allowed total discount percentage.
	totalDiscountFloor = 70.0
	zDiscountMarker    = "Z_DISCOUNT"
)

// NewDiscountRule checks line discounts against the customer's default
// discount, forbids discounts on TUK and Z items, and caps the order's total
// discount at max(70%, customer default).
func NewDiscountRule() domain.Rule { return discountRule{} }

type discountRule struct{}

func (discountRule) Name() string { return DiscountRuleName }

func isZDiscount(item domain.LineItem) bool {
	return strings.Contains(strings.ToUpper(item.Name), zDiscountMarker) ||
		strings.Contains(strings.ToUpper(item.SKU), zDiscountMarker)
}

func (discountRule) Evaluate(_ context.Context, _ domain.OrderSnapshot, shared domain.RuleContext) (domain.RuleResult, error) {
	res := domain.NewRuleResult(DiscountRuleName)
	if len(shared.LineItems) == 0 {
		res.AddInfo("No line items to validate")
		return res, nil
	}
	customerDiscount, err := parseFloat(shared.Customer.DefaultDiscount)
	if err != nil {
		customerDiscount = 0
	}
	subtotal, err := parseFloat(shared.Order.Subtotal)
	if err != nil {
		subtotal = 0
	}

	var originalTotal, zAmount float64
	hasZ := false
	for _, item := range shared.LineItems {
		discount, err1 := parseFloat(item.DiscountValue)
		lineTotal, err2 := parseFloat(item.LineTotal)
		if err1 != nil || err2 != nil {
			res.AddInfo(fmt.Sprintf("Line %d: Skipped due to invalid data", item.LineNumber))
			continue
		}
		z := isZDiscount(item)
		if z {
			hasZ = true
			zAmount = math.Abs(lineTotal)
		} else {
			originalTotal += originalPrice(item.DiscountPercent, discount, lineTotal)
		}
		label := fmt.Sprintf("Line %d (%s - %s)", item.LineNumber, item.SKU, item.Name)
		ids := func(extra map[string]any) map[string]any {
			d := map[string]any{"line_number": item.LineNumber, "sku": item.SKU, "name": item.Name}
			for k, v := range extra {
				d[k] = v
			}
			return d
		}

		if item.DiscountPercent && discount > customerDiscount {
			res.AddIssue(domain.SeverityError,
				fmt.Sprintf("%s: Discount %g%% exceeds customer's allowed %g%%", label, discount, customerDiscount),
				ids(map[string]any{"line_discount": discount, "customer_discount": customerDiscount}))
			res.AddFix(fmt.Sprintf("Reduce discount on Line %d (%s) from %g%% to %g%% or less", item.LineNumber, item.Name, discount, customerDiscount))
		}
		if strings.Contains(strings.ToUpper(item.Name), "TUK") && discount > 0 {
			res.AddIssue(domain.SeverityError,
				fmt.Sprintf("%s: TUK items should not have discount, but has %g%% discount", label, discount),
				ids(map[string]any{"discount": discount}))
			res.AddFix(fmt.Sprintf("Remove discount from Line %d (%s) - TUK items must have 0%% discount", item.LineNumber, item.Name))
		}
		if !z && (strings.HasPrefix(item.Name, "Z") || strings.HasPrefix(item.SKU, "Z")) && discount > 0 {
			res.AddIssue(domain.SeverityError,
				fmt.Sprintf("%s: Items starting with 'Z' should not have discount, but has %g%% discount", label, discount),
				ids(map[string]any{"discount": discount}))
			res.AddFix(fmt.Sprintf("Remove discount from Line %d (%s) - Z items must have 0%% discount", item.LineNumber, item.Name))
		}
	}

	if originalTotal > 0 {
		totalDiscount := originalTotal - subtotal
		pct := totalDiscount / originalTotal * 100
		threshold := math.Max(totalDiscountFloor, customerDiscount)
		if pct > threshold {
			res.AddIssue(domain.SeverityError,
				fmt.Sprintf("Total discount $%.2f (%.1f%%) exceeds allowed threshold of %.1f%%", totalDiscount, pct, threshold),
				map[string]any{
					"total_discount_amount": totalDiscount,
					"total_original_price":  originalTotal,
					"order_subtotal":        subtotal,
					"actual_percentage":     pct,
					"threshold":             threshold,
					"has_z_discount":        hasZ,
					"z_discount_amount":     zAmount,
				})
			maxAllowed := originalTotal * threshold / 100
			res.AddFix(fmt.Sprintf("Reduce total discount by $%.2f to meet the %.1f%% threshold", totalDiscount-maxAllowed, threshold))
		}
		res.AddInfo(fmt.Sprintf("Total discount: $%.2f (%.1f%% of original $%.2f), threshold: %.1f%%",
			totalDiscount, pct, originalTotal, threshold))
	}
	res.AddInfo(fmt.Sprintf("Discount validation completed for %d line items", len(shared.LineItems)))
	return res, nil
}

// originalPrice reverses a line discount to recover the pre-discount amount.
func originalPrice(percent bool, discount, lineTotal float64) float64 {
	switch {
	case discount <= 0:
		return lineTotal
	case percent && discount < 100:
		return lineTotal / (1 - discount/100)
	case percent:
		return lineTotal
	default:
		return lineTotal + discount
	}
}
