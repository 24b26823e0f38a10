package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordergate/pkg/domain"
)

const sampleOrder = `{
  "salesOrderId": "so-1",
  "orderNumber": "SO-1001",
  "subTotal": "180.00",
  "total": "198.00",
  "customerId": "c-1",
  "customer": {"name": "Acme", "email": "buyer@acme.test", "discount": "10"},
  "lines": [
    {"productId": "p1", "product": {"name": "Desk", "sku": "DSK-1"}, "quantity": {"standardQuantity": "2"}, "unitPrice": "50", "discount": {"value": "10", "isPercent": true}},
    {"productId": "p2", "product": {"name": "TUK Chair", "sku": "CHR-9"}, "quantity": {"standardQuantity": "1"}, "unitPrice": "90", "discount": {"value": "5", "isPercent": true}, "lineTotal": "85.50"}
  ]
}`

func snapshot(t *testing.T, payload string) domain.OrderSnapshot {
	t.Helper()
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))
	return domain.OrderSnapshot{ID: "so-1", Raw: raw}
}

func normalize(t *testing.T, payload string) domain.RuleContext {
	t.Helper()
	shared, _, err := NewNormalizer().Normalize(context.Background(), snapshot(t, payload))
	require.NoError(t, err)
	return shared
}

func TestNormalizerExtractsOrder(t *testing.T) {
	shared, res, err := NewNormalizer().Normalize(context.Background(), snapshot(t, sampleOrder))
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, NormalizerName, res.Rule)
	assert.Equal(t, "SO-1001", shared.Order.OrderNumber)
	assert.Equal(t, "180.00", shared.Order.Subtotal)
	assert.Equal(t, "Acme", shared.Customer.Name)
	assert.Equal(t, "10", shared.Customer.DefaultDiscount)
	require.Len(t, shared.LineItems, 2)

	desk := shared.LineItems[0]
	assert.Equal(t, 1, desk.LineNumber)
	assert.Equal(t, "DSK-1", desk.SKU)
	assert.Equal(t, "2", desk.Quantity)
	assert.Equal(t, "90.00", desk.LineTotal, "computed from qty * price less percent discount")
	assert.Equal(t, "85.50", shared.LineItems[1].LineTotal)
	assert.NotNil(t, shared.Raw)
}

func TestNormalizerDefaultsAndEmpty(t *testing.T) {
	_, _, err := NewNormalizer().Normalize(context.Background(), domain.OrderSnapshot{ID: "x"})
	require.ErrorIs(t, err, ErrEmptyOrder)

	shared := normalize(t, `{"lineItems": [{"quantity": 3, "discount": 2}]}`)
	assert.Equal(t, "N/A", shared.Order.OrderNumber)
	assert.Equal(t, "Unknown", shared.Customer.Name)
	require.Len(t, shared.LineItems, 1)
	assert.Equal(t, "3", shared.LineItems[0].Quantity)
	assert.Equal(t, "2", shared.LineItems[0].DiscountValue)
	assert.Equal(t, "0.00", shared.LineItems[0].LineTotal)
}

func TestDiscountRule(t *testing.T) {
	shared := normalize(t, `{
	  "subTotal": "100", "customer": {"discount": "5"},
	  "lines": [
	    {"product": {"name": "Desk", "sku": "DSK-1"}, "quantity": {"standardQuantity": "1"}, "unitPrice": "100", "discount": {"value": "10", "isPercent": true}, "lineTotal": "90"},
	    {"product": {"name": "Zinc Tray", "sku": "ZT-1"}, "quantity": {"standardQuantity": "1"}, "unitPrice": "10", "discount": {"value": "0", "isPercent": true}, "lineTotal": "10"}
	  ]}`)
	res, err := NewDiscountRule().Evaluate(context.Background(), domain.OrderSnapshot{}, shared)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.Len(t, res.Issues, 1)
	is := res.Issues[0]
	assert.Equal(t, DiscountRuleName, is.Rule)
	assert.Equal(t, domain.SeverityError, is.Severity)
	assert.Contains(t, is.Message, "Discount 10% exceeds customer's allowed 5%")
	assert.Equal(t, 1, is.Details["line_number"])
	assert.Equal(t, "DSK-1", is.Details["sku"])
	assert.NotEmpty(t, res.SuggestedFixes)
}

func TestDiscountRuleTUKAndZItems(t *testing.T) {
	shared := normalize(t, sampleOrder)
	res, err := NewDiscountRule().Evaluate(context.Background(), domain.OrderSnapshot{}, shared)
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0].Message, "TUK items should not have discount")

	shared = normalize(t, `{"subTotal": "95", "customer": {"discount": "50"}, "lines": [
	  {"product": {"name": "Zeta", "sku": "Z-100"}, "quantity": 1, "unitPrice": "100", "discount": {"value": "5", "isPercent": true}, "lineTotal": "95"}]}`)
	res, _ = NewDiscountRule().Evaluate(context.Background(), domain.OrderSnapshot{}, shared)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0].Message, "Items starting with 'Z'")
}

func TestDiscountRuleTotalThreshold(t *testing.T) {
	shared := normalize(t, `{"subTotal": "20", "customer": {"discount": "0"}, "lines": [
	  {"product": {"name": "Desk", "sku": "DSK-1"}, "quantity": 1, "unitPrice": "100", "discount": {"value": "0", "isPercent": true}, "lineTotal": "100"},
	  {"product": {"name": "Z_DISCOUNT", "sku": "Z_DISCOUNT"}, "quantity": 1, "unitPrice": "-80", "discount": {"value": "0", "isPercent": true}, "lineTotal": "-80"}]}`)
	res, err := NewDiscountRule().Evaluate(context.Background(), domain.OrderSnapshot{}, shared)
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0].Message, "Total discount $80.00 (80.0%) exceeds allowed threshold of 70.0%")
	assert.Equal(t, true, res.Issues[0].Details["has_z_discount"])
}

func TestDiscountRuleNoLines(t *testing.T) {
	res, err := NewDiscountRule().Evaluate(context.Background(), domain.OrderSnapshot{}, domain.RuleContext{})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, []string{"No line items to validate"}, res.InfoMessages)
}

func TestDiscountRemarkRule(t *testing.T) {
	payload := `{"lines": [{"product": {"name": "Z_DISCOUNT", "sku": "Z_DISCOUNT"}, "quantity": 1, "unitPrice": "-5"}]%s}`
	res, err := NewDiscountRemarkRule().Evaluate(context.Background(), domain.OrderSnapshot{}, normalize(t, fmt.Sprintf(payload, "")))
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0].Message, "order remarks are missing")
	assert.Equal(t, "Line 1 (Z_DISCOUNT)", res.Issues[0].Details["z_discount_lines"])

	res, _ = NewDiscountRemarkRule().Evaluate(context.Background(), domain.OrderSnapshot{}, normalize(t, fmt.Sprintf(payload, `, "orderRemarks": "loyalty"`)))
	assert.True(t, res.Passed)

	res, _ = NewDiscountRemarkRule().Evaluate(context.Background(), domain.OrderSnapshot{}, normalize(t, sampleOrder))
	assert.True(t, res.Passed)
	assert.Equal(t, []string{"No Z_DISCOUNT items found in the order"}, res.InfoMessages)
}

func TestReturnReasonRule(t *testing.T) {
	payload := `{"lines": [{"product": {"name": "Desk", "sku": "DSK-1"}, "quantity": {"standardQuantity": "-1"}, "unitPrice": "50"}]%s}`
	res, err := NewReturnReasonRule().Evaluate(context.Background(), domain.OrderSnapshot{}, normalize(t, fmt.Sprintf(payload, "")))
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0].Message, "return reason is missing")

	res, _ = NewReturnReasonRule().Evaluate(context.Background(), domain.OrderSnapshot{}, normalize(t, fmt.Sprintf(payload, `, "customFields": {"custom4": "damaged"}`)))
	assert.True(t, res.Passed)
	assert.Contains(t, res.InfoMessages[0], `"damaged"`)
}

func TestDefaultOrder(t *testing.T) {
	names := make([]string, 0, 3)
	for _, r := range Default() {
		names = append(names, r.Name())
	}
	assert.Equal(t, []string{DiscountRuleName, DiscountRemarkRuleName, ReturnReasonRuleName}, names)
}
