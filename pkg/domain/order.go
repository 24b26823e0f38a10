package domain

// OrderSnapshot is the authoritative state of a sales order as returned by the order source.
type OrderSnapshot struct {
	ID     string         `json:"id"`
	Number string         `json:"number"`
	Raw    map[string]any `json:"raw,omitempty"`
}

// Label returns a display label for the order, falling back to the identifier.
func (o OrderSnapshot) Label() string {
	if o.Number != "" {
		return o.Number
	}
	return o.ID
}

// OrderInfo holds the header fields extracted from an order.
type OrderInfo struct {
	OrderID         string `json:"order_id"`
	OrderNumber     string `json:"order_number"`
	Subtotal        string `json:"subtotal"`
	Total           string `json:"total"`
	Freight         string `json:"order_freight"`
	OrderDate       string `json:"order_date"`
	CustomerID      string `json:"customer_id"`
	LocationID      string `json:"location_id"`
	IsQuote         bool   `json:"is_quote"`
	PaymentStatus   string `json:"payment_status"`
	InventoryStatus string `json:"inventory_status"`
	Remarks         string `json:"order_remarks"`
}

// LineItem is a normalised order line. Line numbers start at 1.
type LineItem struct {
	LineNumber      int    `json:"line_number"`
	ProductID       string `json:"product_id"`
	SKU             string `json:"sku"`
	Name            string `json:"name"`
	Quantity        string `json:"quantity"`
	UnitPrice       string `json:"unit_price"`
	DiscountValue   string `json:"discount_value"`
	DiscountPercent bool   `json:"discount_is_percent"`
	LineTotal       string `json:"line_total"`
}

// CustomerInfo holds the customer fields rules care about.
type CustomerInfo struct {
	CustomerID      string `json:"customer_id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	DefaultDiscount string `json:"default_discount"`
}

// RuleContext is the read-only data shared by all rules within a validation pass.
type RuleContext struct {
	Order     OrderInfo      `json:"order_info"`
	LineItems []LineItem     `json:"line_items"`
	Customer  CustomerInfo   `json:"customer_info"`
	Raw       map[string]any `json:"-"`
}
