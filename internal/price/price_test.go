package price

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestExtractFirstPrice(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		want     string
		currency string
		found    bool
	}{
		{"dollar prefix", "Now only $20.00!", "$20.00", "USD", true},
		{"thousands", "Price: $1,299.99", "$1,299.99", "USD", true},
		{"euro suffix", "Prix 20,00 €", "€20.00", "EUR", true},
		{"european thousands", "€1.299,99", "€1,299.99", "EUR", true},
		{"pound", "£5", "£5.00", "GBP", true},
		{"canadian", "CA$ 45.50", "CA$45.50", "CAD", true},
		{"australian", "A$99", "A$99.00", "AUD", true},
		{"iso prefix", "USD 12.50", "$12.50", "USD", true},
		{"iso suffix", "12.50 EUR", "€12.50", "EUR", true},
		{"bare number defaults to usd", "19.99", "$19.99", "USD", true},
		{"skips unreasonable", "$0.00 today, $15.00 tomorrow", "$15.00", "USD", true},
		{"too large", "$99,999,999.00", "", "", false},
		{"marker without reasonable amount", "$0.00 free shipping", "", "", false},
		{"empty", "   ", "", "", false},
		{"no numbers", "Add to cart", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractFirstPrice(tt.text)
			if ok != tt.found {
				t.Fatalf("ExtractFirstPrice(%q) found = %v, want %v", tt.text, ok, tt.found)
			}
			if !ok {
				return
			}
			if got.Format() != tt.want {
				t.Errorf("ExtractFirstPrice(%q) = %q, want %q", tt.text, got.Format(), tt.want)
			}
			if got.Currency != tt.currency {
				t.Errorf("currency = %q, want %q", got.Currency, tt.currency)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := map[string]float64{
		"1,299.99": 1299.99,
		"1.299,99": 1299.99,
		"20,5":     20.5,
		"1,299":    1299,
		"1.299":    1299,
		"20.00":    20,
		"1 299,00": 1299,
		"42":       42,
	}
	for in, want := range tests {
		got, err := ParseAmount(in)
		if err != nil {
			t.Errorf("ParseAmount(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseAmount(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseAmount(""); err == nil {
		t.Error("expected error for empty amount")
	}
	if _, err := ParseAmount("abc"); err == nil {
		t.Error("expected error for non-numeric amount")
	}
}

func TestIsReasonablePrice(t *testing.T) {
	tests := map[float64]bool{
		0:        false,
		0.001:    false,
		0.01:     true,
		25:       true,
		50000:    true,
		50000.01: false,
	}
	for v, want := range tests {
		if got := IsReasonablePrice(v); got != want {
			t.Errorf("IsReasonablePrice(%v) = %v, want %v", v, got, want)
		}
	}
}

func TestChooseBestPrice(t *testing.T) {
	usd := func(v float64) Money { return Money{Amount: v, Currency: "USD"} }
	eur := func(v float64) Money { return Money{Amount: v, Currency: "EUR"} }

	tests := []struct {
		name     string
		in       []Money
		current  float64
		original float64
	}{
		{"none", nil, 0, 0},
		{"single", []Money{usd(20)}, 20, 0},
		{"markdown", []Money{usd(40), usd(20)}, 20, 40},
		{"duplicates merged", []Money{usd(20), usd(20.004), usd(40)}, 20, 40},
		{"within ten percent is noise", []Money{usd(20), usd(21.5)}, 20, 0},
		{"exactly ten percent is noise", []Money{usd(10), usd(11)}, 10, 0},
		{"max of several", []Money{usd(30), usd(10), usd(25)}, 10, 30},
		{"unreasonable ignored", []Money{usd(0), usd(60000), usd(15)}, 15, 0},
		{"other currency is not an original", []Money{usd(20), eur(40)}, 20, 0},
		{"original taken from same currency", []Money{usd(20), eur(90), usd(35)}, 20, 35},
		{"same amount in another currency is not merged", []Money{usd(20), eur(20), usd(30)}, 20, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ChooseBestPrice(tt.in)
			if c.Current.Amount != tt.current {
				t.Errorf("current = %v, want %v", c.Current.Amount, tt.current)
			}
			if c.Original.Amount != tt.original {
				t.Errorf("original = %v, want %v", c.Original.Amount, tt.original)
			}
		})
	}
}

func TestValidOriginal(t *testing.T) {
	cur := Money{Amount: 20, Currency: "USD"}
	if !ValidOriginal(cur, Money{Amount: 40, Currency: "USD"}) {
		t.Error("$40 should be a valid original for $20")
	}
	if ValidOriginal(cur, Money{Amount: 22, Currency: "USD"}) {
		t.Error("$22 is exactly 10% above $20 and must be discarded")
	}
	if ValidOriginal(cur, Money{Amount: 40, Currency: "EUR"}) {
		t.Error("originals in another currency must be discarded")
	}
	if ValidOriginal(cur, Money{}) {
		t.Error("zero original is never valid")
	}
}

func TestMoneyFormat(t *testing.T) {
	tests := []struct {
		m    Money
		want string
	}{
		{Money{Amount: 20, Currency: "USD"}, "$20.00"},
		{Money{Amount: 1234567.891, Currency: "USD"}, "$1,234,567.89"},
		{Money{Amount: 20, Currency: "EUR"}, "€20.00"},
		{Money{Amount: 20, Currency: "GBP"}, "£20.00"},
		{Money{Amount: 20, Currency: "JPY"}, "JPY 20.00"},
		{Money{Amount: 7.5}, "$7.50"},
	}
	for _, tt := range tests {
		if got := tt.m.Format(); got != tt.want {
			t.Errorf("Format(%+v) = %q, want %q", tt.m, got, tt.want)
		}
	}
}

func TestExtractPriceFromStructuredData(t *testing.T) {
	tests := []struct {
		name  string
		data  any
		want  string
		found bool
	}{
		{
			name: "product with offer object",
			data: map[string]any{
				"@type":  "Product",
				"name":   "Blue Shirt",
				"offers": map[string]any{"@type": "Offer", "price": "24.99", "priceCurrency": "USD"},
			},
			want: "$24.99", found: true,
		},
		{
			name: "offer array with numeric price",
			data: map[string]any{
				"@type": "Product",
				"offers": []any{
					map[string]any{"@type": "Offer", "price": 0.0},
					map[string]any{"@type": "Offer", "price": 15.5, "priceCurrency": "GBP"},
				},
			},
			want: "£15.50", found: true,
		},
		{
			name: "graph wrapper with aggregate offer",
			data: map[string]any{
				"@graph": []any{
					map[string]any{"@type": "BreadcrumbList"},
					map[string]any{
						"@type":  []any{"Product", "Thing"},
						"offers": map[string]any{"@type": "AggregateOffer", "lowPrice": "9,99", "priceCurrency": "EUR"},
					},
				},
			},
			want: "€9.99", found: true,
		},
		{
			name: "standalone offer",
			data: []any{map[string]any{"@type": "Offer", "price": "$12.00"}},
			want: "$12.00", found: true,
		},
		{
			name:  "no price",
			data:  map[string]any{"@type": "Organization", "name": "Shop"},
			found: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractPriceFromStructuredData(tt.data)
			if ok != tt.found {
				t.Fatalf("found = %v, want %v", ok, tt.found)
			}
			if ok && got.Format() != tt.want {
				t.Errorf("price = %q, want %q", got.Format(), tt.want)
			}
		})
	}
}

func TestAllPricesDocumentOrder(t *testing.T) {
	got := AllPrices("Was $40.00, now 20,00 € or £15")
	want := []string{"$40.00", "€20.00", "£15.00"}
	if len(got) != len(want) {
		t.Fatalf("AllPrices returned %d prices, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Format() != want[i] {
			t.Errorf("AllPrices[%d] = %q, want %q", i, got[i].Format(), want[i])
		}
	}
}

func formatCents(c int64) string {
	return fmt.Sprintf("%d.%02d", c/100, c%100)
}

func TestProperty_TwoAmountsChooseMarkdown(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("lower amount is current, higher is original only above 10%", prop.ForAll(
		func(lowCents, delta int64, lowFirst bool) bool {
			highCents := lowCents + delta
			var text string
			if lowFirst {
				text = fmt.Sprintf("Now $%s was $%s", formatCents(lowCents), formatCents(highCents))
			} else {
				text = fmt.Sprintf("Was $%s now $%s", formatCents(highCents), formatCents(lowCents))
			}

			choice := ChooseBestPrice(AllPrices(text))
			if choice.Current.Cents() != lowCents {
				t.Logf("FAIL: %q current = %d cents, want %d", text, choice.Current.Cents(), lowCents)
				return false
			}

			wantOriginal := highCents*10 > lowCents*11
			if choice.HasOriginal() != wantOriginal {
				t.Logf("FAIL: %q hasOriginal = %v, want %v", text, choice.HasOriginal(), wantOriginal)
				return false
			}
			if wantOriginal && choice.Original.Cents() != highCents {
				t.Logf("FAIL: %q original = %d cents, want %d", text, choice.Original.Cents(), highCents)
				return false
			}
			return true
		},
		gen.Int64Range(1, 2_500_000),
		gen.Int64Range(1, 2_500_000),
		gen.Bool(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestProperty_ExtractFirstPriceIsReasonable(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("any extracted price lies within the reasonable range", prop.ForAll(
		func(text string) bool {
			m, ok := ExtractFirstPrice(text)
			return !ok || IsReasonablePrice(m.Amount)
		},
		gen.RegexMatch(`[a-zA-Z $€£.,0-9]{0,40}`),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
