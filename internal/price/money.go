// Package price implements the currency heuristics used to turn noisy page
// text and structured data into a canonical price.
package price

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Reasonable price bounds, inclusive.
const (
	MinReasonable = 0.01
	MaxReasonable = 50000.0
)

// Money is an amount in a single currency.
type Money struct {
	Amount   float64
	Currency string // ISO 4217 code
}

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"CAD": "CA$",
	"AUD": "A$",
}

// IsZero reports whether m carries no amount.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// Cents returns the amount rounded to whole cents.
func (m Money) Cents() int64 {
	return int64(math.Round(m.Amount * 100))
}

// Format renders m the way prices are stored, e.g. "$1,299.99" or "€20.00".
func (m Money) Format() string {
	amount := groupThousands(m.Cents())
	if sym, ok := currencySymbols[m.Currency]; ok {
		return sym + amount
	}
	if m.Currency == "" {
		return "$" + amount
	}
	return m.Currency + " " + amount
}

func (m Money) String() string {
	return m.Format()
}

func groupThousands(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	whole := strconv.FormatInt(cents/100, 10)
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := fmt.Sprintf("%s.%02d", b.String(), cents%100)
	if neg {
		return "-" + out
	}
	return out
}

// IsReasonablePrice reports whether v falls inside the accepted price range.
func IsReasonablePrice(v float64) bool {
	return v >= MinReasonable && v <= MaxReasonable
}

// ValidOriginal reports whether original is a real markdown of current:
// strictly more than 10% above it and in the same currency.
func ValidOriginal(current, original Money) bool {
	if current.IsZero() || original.IsZero() {
		return false
	}
	if !sameCurrency(current, original) {
		return false
	}
	return isMarkdown(current.Cents(), original.Cents())
}

// isMarkdown compares in whole cents so the 10% boundary is exact.
func isMarkdown(lowCents, highCents int64) bool {
	return highCents*10 > lowCents*11
}
