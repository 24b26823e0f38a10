package tracker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	messagePrefixLen = 100
	fieldSeparator   = "|"
)

// identityKeys are the only detail-map entries that contribute to a fingerprint.
// Other details (amounts, percentages) may drift between passes without
// changing the identity of the problem.
var identityKeys = [...]string{"line_number", "sku", "product_sku"}

// Fingerprint derives the stable identifier of an issue. The hash is unseeded
// xxhash64 so identical inputs produce identical output across restarts.
func Fingerprint(orderID, rule, message string, details map[string]any) string {
	parts := make([]string, 0, 3+len(identityKeys))
	parts = append(parts, orderID, rule, truncateRunes(message, messagePrefixLen))
	for _, key := range identityKeys {
		parts = append(parts, detailString(details[key]))
	}
	sum := xxhash.Sum64String(strings.Join(parts, fieldSeparator))
	return fmt.Sprintf("%016x", sum)
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// detailString renders a detail value; JSON round trips turn ints into
// float64, so whole floats print without a fractional part.
func detailString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
