package price

import (
	"sort"
	"strings"
)

const maxStructuredDepth = 32

// ExtractPriceFromStructuredData walks decoded JSON-LD depth first and
// returns the first valid offer price of a Product. Offers may be a single
// object or an array, and documents may wrap entities in @graph. When no
// Product carries a price, a standalone Offer is accepted.
func ExtractPriceFromStructuredData(data any) (Money, bool) {
	if m, ok := findProductPrice(data, 0); ok {
		return m, true
	}
	return findOfferPrice(data, 0)
}

func findProductPrice(v any, depth int) (Money, bool) {
	if depth > maxStructuredDepth {
		return Money{}, false
	}
	switch t := v.(type) {
	case map[string]any:
		if hasType(t, "Product") {
			if offers, ok := t["offers"]; ok {
				if m, ok := findOfferPrice(offers, depth+1); ok {
					return m, true
				}
			}
		}
		for _, k := range sortedKeys(t) {
			if m, ok := findProductPrice(t[k], depth+1); ok {
				return m, true
			}
		}
	case []any:
		for _, item := range t {
			if m, ok := findProductPrice(item, depth+1); ok {
				return m, true
			}
		}
	}
	return Money{}, false
}

func findOfferPrice(v any, depth int) (Money, bool) {
	if depth > maxStructuredDepth {
		return Money{}, false
	}
	switch t := v.(type) {
	case map[string]any:
		if m, ok := offerPrice(t); ok {
			return m, true
		}
		for _, k := range sortedKeys(t) {
			if m, ok := findOfferPrice(t[k], depth+1); ok {
				return m, true
			}
		}
	case []any:
		for _, item := range t {
			if m, ok := findOfferPrice(item, depth+1); ok {
				return m, true
			}
		}
	}
	return Money{}, false
}

// offerPrice reads price fields off a single offer-like object.
func offerPrice(obj map[string]any) (Money, bool) {
	currency := "USD"
	if c, ok := obj["priceCurrency"].(string); ok && strings.TrimSpace(c) != "" {
		currency = strings.ToUpper(strings.TrimSpace(c))
	}

	for _, key := range []string{"price", "lowPrice"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		if m, ok := toMoney(raw, currency); ok {
			return m, true
		}
	}

	if spec, ok := obj["priceSpecification"].(map[string]any); ok {
		return offerPrice(spec)
	}
	return Money{}, false
}

func toMoney(raw any, currency string) (Money, bool) {
	switch v := raw.(type) {
	case float64:
		if IsReasonablePrice(v) {
			return Money{Amount: v, Currency: currency}, true
		}
	case int:
		f := float64(v)
		if IsReasonablePrice(f) {
			return Money{Amount: f, Currency: currency}, true
		}
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return Money{}, false
		}
		if f, err := ParseAmount(s); err == nil {
			if IsReasonablePrice(f) {
				return Money{Amount: f, Currency: currency}, true
			}
			return Money{}, false
		}
		if m, ok := ExtractFirstPrice(s); ok {
			return m, true
		}
	}
	return Money{}, false
}

// hasType reports whether obj's @type is, or includes, want.
func hasType(obj map[string]any, want string) bool {
	switch t := obj["@type"].(type) {
	case string:
		return strings.EqualFold(t, want) || strings.EqualFold(strings.TrimPrefix(t, "http://schema.org/"), want)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.EqualFold(s, want) {
				return true
			}
		}
	}
	return false
}

// sortedKeys gives map traversal a stable order, visiting offers first.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if (keys[i] == "offers") != (keys[j] == "offers") {
			return keys[i] == "offers"
		}
		return keys[i] < keys[j]
	})
	return keys
}
