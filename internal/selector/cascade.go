package selector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/IshaanNene/CartKeeper/internal/price"
)

// Tier is a level of the price cascade.
type Tier int

const (
	TierSite Tier = iota
	TierPlatform
	TierGeneric
)

func (t Tier) String() string {
	switch t {
	case TierSite:
		return "site"
	case TierPlatform:
		return "platform"
	default:
		return "generic"
	}
}

// Match is a price found by one tier of the cascade.
type Match struct {
	Tier     Tier
	Source   string // site or platform name, "generic" for the last tier
	Selector string
	Current  price.Money
	Original price.Money
}

// Strategy is one step of the cascade: when Applies holds for the page,
// Find is tried, and the first success ends the cascade.
type Strategy struct {
	Tier    Tier
	Name    string
	Applies func(host string, doc *goquery.Document) bool
	Find    func(doc *goquery.Document) (Match, bool)
}

func (t *Table) buildStrategies() []Strategy {
	out := make([]Strategy, 0, len(t.Sites)+len(t.Platforms)+1)

	for _, s := range t.Sites {
		site := s
		out = append(out, Strategy{
			Tier: TierSite,
			Name: site.Name,
			Applies: func(host string, _ *goquery.Document) bool {
				return t.Site(host) == site
			},
			Find: func(doc *goquery.Document) (Match, bool) {
				return findTier(doc, TierSite, site.Name, site.rules, nil)
			},
		})
	}

	for _, p := range t.Platforms {
		platform := p
		out = append(out, Strategy{
			Tier: TierPlatform,
			Name: platform.Name,
			Applies: func(_ string, doc *goquery.Document) bool {
				return platform.Matches(doc)
			},
			Find: func(doc *goquery.Document) (Match, bool) {
				return findTier(doc, TierPlatform, platform.Name, platform.rules, nil)
			},
		})
	}

	generic := &t.Generic
	out = append(out, Strategy{
		Tier:    TierGeneric,
		Name:    "generic",
		Applies: func(string, *goquery.Document) bool { return true },
		Find: func(doc *goquery.Document) (Match, bool) {
			return findTier(doc, TierGeneric, "generic", generic.rules, generic.Exclude)
		},
	})

	return out
}

// Strategies returns the cascade in evaluation order.
func (t *Table) Strategies() []Strategy {
	return t.strategies
}

// FindPrice runs the cascade against doc and returns the first tier that
// yields a reasonable current price.
func (t *Table) FindPrice(host string, doc *goquery.Document) (Match, bool) {
	if doc == nil {
		return Match{}, false
	}
	for _, s := range t.strategies {
		if !s.Applies(host, doc) {
			continue
		}
		if m, ok := s.Find(doc); ok {
			return m, true
		}
	}
	return Match{}, false
}

func findTier(doc *goquery.Document, tier Tier, name string, rules compiled, exclude []string) (Match, bool) {
	currency := documentCurrency(doc)

	for _, rule := range rules.current {
		for _, sel := range rule.Find(doc) {
			if exclude != nil && isExcluded(sel, exclude) {
				continue
			}
			text := Value(sel)
			if exclude != nil {
				text = currentText(sel, exclude)
			}
			cur, ok := parsePrice(text, currency)
			if !ok {
				continue
			}
			m := Match{Tier: tier, Source: name, Selector: rule.String(), Current: cur}
			m.Original = findOriginal(doc, rules.original, cur, currency)
			return m, true
		}
	}
	return Match{}, false
}

func findOriginal(doc *goquery.Document, rules []Rule, current price.Money, currency string) price.Money {
	for _, rule := range rules {
		for _, sel := range rule.Find(doc) {
			orig, ok := parsePrice(Value(sel), currency)
			if ok && price.ValidOriginal(current, orig) {
				return orig
			}
		}
	}
	return price.Money{}
}

// parsePrice reads the first price in text. Amounts without a currency
// marker take the page's declared priceCurrency when there is one.
func parsePrice(text, currency string) (price.Money, bool) {
	m, ok := price.ExtractFirstPrice(text)
	if !ok {
		return price.Money{}, false
	}
	if currency != "" && !hasCurrencyMarker(text) {
		m.Currency = currency
	}
	return m, true
}

func hasCurrencyMarker(text string) bool {
	if strings.ContainsAny(text, "$€£") {
		return true
	}
	upper := strings.ToUpper(text)
	for _, code := range []string{"USD", "EUR", "GBP", "CAD", "AUD"} {
		if strings.Contains(upper, code) {
			return true
		}
	}
	return false
}

func documentCurrency(doc *goquery.Document) string {
	sel := doc.Find(`[itemprop="priceCurrency"], meta[property="product:price:currency"], meta[property="og:price:currency"]`).First()
	if sel.Length() == 0 {
		return ""
	}
	return strings.ToUpper(Value(sel))
}

var excludedTextPrefixes = []string{"was", "orig", "compare", "msrp", "list", "reg", "rrp"}

// isExcluded reports whether a generic candidate looks like an old price:
// struck through, inside <s>/<del>/<strike>, or labelled with an exclusion
// keyword on itself or its parent.
func isExcluded(sel *goquery.Selection, keywords []string) bool {
	if len(sel.Nodes) == 0 {
		return true
	}

	depth := 0
	for n := sel.Nodes[0]; n != nil && n.Type == html.ElementNode && depth < 4; n = n.Parent {
		switch n.Data {
		case "s", "del", "strike":
			return true
		}
		if strings.Contains(strings.ReplaceAll(strings.ToLower(attr(n, "style")), " ", ""), "line-through") {
			return true
		}
		if depth < 2 {
			label := strings.ToLower(attr(n, "class") + " " + attr(n, "id"))
			for _, kw := range keywords {
				if kw != "" && strings.Contains(label, kw) {
					return true
				}
			}
		}
		depth++
	}

	text := strings.ToLower(strings.TrimSpace(sel.Text()))
	for _, p := range excludedTextPrefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}

// currentText is the node value with struck-through or old-price
// descendants left out, so a container holding both prices reads as the
// current one.
func currentText(sel *goquery.Selection, keywords []string) string {
	if v, ok := sel.Attr("content"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	var b strings.Builder
	for _, n := range sel.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeText(&b, c, keywords)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func writeText(b *strings.Builder, n *html.Node, keywords []string) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	case html.ElementNode:
		switch n.Data {
		case "s", "del", "strike", "script", "style":
			return
		}
		if strings.Contains(strings.ReplaceAll(strings.ToLower(attr(n, "style")), " ", ""), "line-through") {
			return
		}
		label := strings.ToLower(attr(n, "class"))
		for _, kw := range keywords {
			if kw != "" && strings.Contains(label, kw) {
				return
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c, keywords)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
