package price

import (
	"regexp"
	"sort"
	"strings"
)

const amountExpr = `(\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)`

// pattern is one currency notation. Group 1 and 2 are the currency marker and
// the amount, in whichever order the notation writes them.
type pattern struct {
	name        string
	re          *regexp.Regexp
	currencyIdx int
	amountIdx   int
}

// patterns are tried in order; ExtractFirstPrice returns the first
// reasonable match of the earliest pattern that has one.
var patterns = []pattern{
	{
		name:        "symbol-prefix",
		re:          regexp.MustCompile(`(CA\$|C\$|AU\$|A\$|US\$|\$|€|£)\s?` + amountExpr),
		currencyIdx: 1, amountIdx: 2,
	},
	{
		name:        "symbol-suffix",
		re:          regexp.MustCompile(amountExpr + `\s?(€|£|\$)`),
		currencyIdx: 2, amountIdx: 1,
	},
	{
		name:        "iso-prefix",
		re:          regexp.MustCompile(`\b(USD|EUR|GBP|CAD|AUD)\s?` + amountExpr),
		currencyIdx: 1, amountIdx: 2,
	},
	{
		name:        "iso-suffix",
		re:          regexp.MustCompile(amountExpr + `\s?(USD|EUR|GBP|CAD|AUD)\b`),
		currencyIdx: 2, amountIdx: 1,
	},
}

// weakPattern catches bare numbers. It only applies when the text carries no
// currency marker at all, and such amounts are assumed to be USD.
var weakPattern = regexp.MustCompile(`\b` + amountExpr + `\b`)

var currencyMarker = regexp.MustCompile(`[$€£]|\b(?:USD|EUR|GBP|CAD|AUD)\b`)

var markerCurrency = map[string]string{
	"$":   "USD",
	"US$": "USD",
	"CA$": "CAD",
	"C$":  "CAD",
	"A$":  "AUD",
	"AU$": "AUD",
	"€":   "EUR",
	"£":   "GBP",
	"USD": "USD",
	"EUR": "EUR",
	"GBP": "GBP",
	"CAD": "CAD",
	"AUD": "AUD",
}

// ExtractFirstPrice scans text for the first reasonable price.
func ExtractFirstPrice(text string) (Money, bool) {
	if strings.TrimSpace(text) == "" {
		return Money{}, false
	}

	for _, p := range patterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			if money, ok := p.toMoney(m); ok {
				return money, true
			}
		}
	}

	if currencyMarker.MatchString(text) {
		return Money{}, false
	}
	for _, m := range weakPattern.FindAllStringSubmatch(text, -1) {
		v, err := ParseAmount(m[1])
		if err == nil && IsReasonablePrice(v) {
			return Money{Amount: v, Currency: "USD"}, true
		}
	}
	return Money{}, false
}

// AllPrices returns every reasonable currency-marked price in text, in
// document order. Overlapping matches from different notations count once.
func AllPrices(text string) []Money {
	type hit struct {
		start, end int
		money      Money
	}

	var hits []hit
	for _, p := range patterns {
		for _, idx := range p.re.FindAllStringSubmatchIndex(text, -1) {
			m := make([]string, len(idx)/2)
			for g := range m {
				if idx[2*g] >= 0 {
					m[g] = text[idx[2*g]:idx[2*g+1]]
				}
			}
			money, ok := p.toMoney(m)
			if !ok {
				continue
			}
			hits = append(hits, hit{start: idx[0], end: idx[1], money: money})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].start < hits[j].start })

	var out []Money
	lastEnd := -1
	for _, h := range hits {
		if h.start < lastEnd {
			continue
		}
		out = append(out, h.money)
		lastEnd = h.end
	}
	return out
}

func (p pattern) toMoney(groups []string) (Money, bool) {
	v, err := ParseAmount(groups[p.amountIdx])
	if err != nil || !IsReasonablePrice(v) {
		return Money{}, false
	}
	return Money{Amount: v, Currency: markerCurrency[groups[p.currencyIdx]]}, true
}

// Choice is the outcome of ChooseBestPrice. A zero Current means unknown.
type Choice struct {
	Current  Money
	Original Money
}

// Found reports whether a current price was chosen.
func (c Choice) Found() bool {
	return !c.Current.IsZero()
}

// HasOriginal reports whether a markdown original price was chosen.
func (c Choice) HasOriginal() bool {
	return !c.Original.IsZero()
}

// ChooseBestPrice picks current and original prices out of candidates.
// Candidates equal to the cent in the same currency are merged. With two or
// more distinct prices, the lowest is current and the highest in the same
// currency becomes the original only when it is more than 10% above the
// lowest; anything else is treated as noise.
func ChooseBestPrice(candidates []Money) Choice {
	type key struct {
		cents    int64
		currency string
	}
	seen := make(map[key]bool, len(candidates))
	unique := make([]Money, 0, len(candidates))
	for _, c := range candidates {
		if !IsReasonablePrice(c.Amount) {
			continue
		}
		k := key{c.Cents(), c.Currency}
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, c)
	}

	switch len(unique) {
	case 0:
		return Choice{}
	case 1:
		return Choice{Current: unique[0]}
	}

	sort.SliceStable(unique, func(i, j int) bool { return unique[i].Cents() < unique[j].Cents() })
	low := unique[0]
	var high Money
	for _, m := range unique[1:] {
		if sameCurrency(low, m) {
			high = m
		}
	}
	if !high.IsZero() && isMarkdown(low.Cents(), high.Cents()) {
		return Choice{Current: low, Original: high}
	}
	return Choice{Current: low}
}

// sameCurrency treats an unknown currency as matching any other.
func sameCurrency(a, b Money) bool {
	return a.Currency == "" || b.Currency == "" || a.Currency == b.Currency
}
