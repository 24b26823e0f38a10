// Package rules holds the order normaliser and the reference business rules.
package rules

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ordergate/pkg/domain"
)

// NormalizerName is the display name of the normalisation step.
const NormalizerName = "Order Data Fetcher"

// ErrEmptyOrder is returned when the order carries no payload to normalise.
var ErrEmptyOrder = errors.New("order payload is empty")

// NewNormalizer returns the normaliser that turns a raw inFlow sales order into
// the shared rule context.
func NewNormalizer() domain.Normalizer { return normalizer{} }

type normalizer struct{}

func (normalizer) Name() string { return NormalizerName }

func (normalizer) Normalize(_ context.Context, order domain.OrderSnapshot) (domain.RuleContext, domain.RuleResult, error) {
	res := domain.NewRuleResult(NormalizerName)
	if len(order.Raw) == 0 {
		return domain.RuleContext{}, res, ErrEmptyOrder
	}
	raw := order.Raw
	shared := domain.RuleContext{
		Order:     orderInfo(raw),
		LineItems: lineItems(raw),
		Customer:  customerInfo(raw),
		Raw:       raw,
	}
	res.AddInfo(fmt.Sprintf("Order: %s | Subtotal: $%s | Total: $%s", shared.Order.OrderNumber, shared.Order.Subtotal, shared.Order.Total))
	res.AddInfo(fmt.Sprintf("Customer: %s (ID: %s)", shared.Customer.Name, shared.Customer.CustomerID))
	res.AddInfo(fmt.Sprintf("Found %d line items in the order", len(shared.LineItems)))
	return shared, res, nil
}

func orderInfo(raw map[string]any) domain.OrderInfo {
	isQuote, _ := raw["isQuote"].(bool)
	return domain.OrderInfo{
		OrderID:         stringOr(raw, "salesOrderId", "N/A"),
		OrderNumber:     stringOr(raw, "orderNumber", "N/A"),
		Subtotal:        stringOr(raw, "subTotal", "0"),
		Total:           stringOr(raw, "total", "0"),
		Freight:         stringOr(raw, "orderFreight", "0"),
		OrderDate:       stringOr(raw, "orderDate", "N/A"),
		CustomerID:      stringOr(raw, "customerId", "N/A"),
		LocationID:      stringOr(raw, "locationId", "N/A"),
		IsQuote:         isQuote,
		PaymentStatus:   stringOr(raw, "paymentStatus", "N/A"),
		InventoryStatus: stringOr(raw, "inventoryStatus", "N/A"),
		Remarks:         strings.TrimSpace(stringOr(raw, "orderRemarks", "")),
	}
}

func lineItems(raw map[string]any) []domain.LineItem {
	lines, _ := raw["lines"].([]any)
	if len(lines) == 0 {
		lines, _ = raw["lineItems"].([]any)
	}
	items := make([]domain.LineItem, 0, len(lines))
	for i, l := range lines {
		line, ok := l.(map[string]any)
		if !ok {
			continue
		}
		item := domain.LineItem{
			LineNumber:      i + 1,
			ProductID:       stringOr(line, "productId", "N/A"),
			SKU:             "N/A",
			Name:            "Unknown",
			Quantity:        "0",
			UnitPrice:       stringOr(line, "unitPrice", "0"),
			DiscountValue:   "0",
			DiscountPercent: true,
		}
		if product, ok := line["product"].(map[string]any); ok {
			item.Name = stringOr(product, "name", "Unknown")
			item.SKU = stringOr(product, "sku", "N/A")
		}
		switch q := line["quantity"].(type) {
		case map[string]any:
			item.Quantity = stringOr(q, "standardQuantity", "0")
		case nil:
		default:
			item.Quantity = toString(q)
		}
		switch d := line["discount"].(type) {
		case map[string]any:
			item.DiscountValue = stringOr(d, "value", "0")
			if pct, ok := d["isPercent"].(bool); ok {
				item.DiscountPercent = pct
			}
		case nil:
		default:
			item.DiscountValue = toString(d)
		}
		item.LineTotal = firstNonZero(line, "lineTotal", "total", "subTotal")
		if item.LineTotal == "" {
			item.LineTotal = computeLineTotal(item)
		}
		items = append(items, item)
	}
	return items
}

// computeLineTotal derives the total when the payload omits it.
func computeLineTotal(item domain.LineItem) string {
	qty, err1 := strconv.ParseFloat(item.Quantity, 64)
	price, err2 := strconv.ParseFloat(item.UnitPrice, 64)
	disc, err3 := strconv.ParseFloat(item.DiscountValue, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return "0.00"
	}
	if item.DiscountPercent {
		return strconv.FormatFloat(qty*price*(1-disc/100), 'f', 2, 64)
	}
	return strconv.FormatFloat(qty*price-disc, 'f', 2, 64)
}

func customerInfo(raw map[string]any) domain.CustomerInfo {
	info := domain.CustomerInfo{
		CustomerID:      stringOr(raw, "customerId", "N/A"),
		Name:            "Unknown",
		Email:           "N/A",
		DefaultDiscount: "0",
	}
	if c, ok := raw["customer"].(map[string]any); ok {
		info.Name = stringOr(c, "name", "Unknown")
		info.Email = stringOr(c, "email", "N/A")
		info.DefaultDiscount = stringOr(c, "discount", "0")
	}
	return info
}

func firstNonZero(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := toString(m[k]); v != "" && v != "0" {
			return v
		}
	}
	return ""
}

func stringOr(m map[string]any, key, fallback string) string {
	if v := toString(m[key]); v != "" {
		return v
	}
	return fallback
}

// toString renders JSON scalars; numbers keep their shortest form.
func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
