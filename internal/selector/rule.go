package selector

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
)

const xpathPrefix = "xpath:"

// Kind is the selector language of a Rule.
type Kind string

const (
	KindCSS   Kind = "css"
	KindXPath Kind = "xpath"
)

// Rule is a single compiled selector.
type Rule struct {
	Kind Kind
	Expr string
}

// ParseRule reads a selector string. Strings prefixed "xpath:" are XPath,
// everything else is CSS. The expression is compiled once to reject bad
// entries at load time.
func ParseRule(s string) (Rule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Rule{}, fmt.Errorf("empty selector")
	}

	if strings.HasPrefix(s, xpathPrefix) {
		expr := strings.TrimSpace(strings.TrimPrefix(s, xpathPrefix))
		if _, err := xpath.Compile(expr); err != nil {
			return Rule{}, fmt.Errorf("invalid xpath %q: %w", expr, err)
		}
		return Rule{Kind: KindXPath, Expr: expr}, nil
	}

	if _, err := cascadia.ParseGroup(s); err != nil {
		return Rule{}, fmt.Errorf("invalid css selector %q: %w", s, err)
	}
	return Rule{Kind: KindCSS, Expr: s}, nil
}

func (r Rule) String() string {
	if r.Kind == KindXPath {
		return xpathPrefix + r.Expr
	}
	return r.Expr
}

// Find returns every node the rule matches, each as its own selection, in
// document order.
func (r Rule) Find(doc *goquery.Document) []*goquery.Selection {
	if doc == nil {
		return nil
	}

	var out []*goquery.Selection
	switch r.Kind {
	case KindXPath:
		if len(doc.Nodes) == 0 {
			return nil
		}
		nodes, err := htmlquery.QueryAll(doc.Nodes[0], r.Expr)
		if err != nil {
			return nil
		}
		for _, n := range nodes {
			out = append(out, doc.FindNodes(n))
		}
	default:
		doc.Find(r.Expr).Each(func(_ int, sel *goquery.Selection) {
			out = append(out, sel)
		})
	}
	return out
}

// Value reads the useful text of a matched node: the content or value
// attribute when present (meta tags, hidden inputs), otherwise its text.
func Value(sel *goquery.Selection) string {
	for _, attr := range []string{"content", "value"} {
		if v, ok := sel.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.Join(strings.Fields(sel.Text()), " ")
}

// ParseRules compiles a list of selector strings.
func ParseRules(list []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(list))
	for _, s := range list {
		r, err := ParseRule(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}
