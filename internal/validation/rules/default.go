package rules

import "ordergate/pkg/domain"

// Default returns the reference rule set in evaluation order.
func Default() []domain.Rule {
	return []domain.Rule{
		NewDiscountRule(),
		NewDiscountRemarkRule(),
		NewReturnReasonRule(),
	}
}
