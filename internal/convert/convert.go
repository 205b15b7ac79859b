// Package convert translates between the flat product list used for sync
// and the category-keyed grouping used by clients and the local cache.
package convert

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/IshaanNene/CartKeeper/internal/types"
)

// GeneralLabel is the bucket holding products in the default category.
const GeneralLabel = "General"

// Grouped maps a display label to the products in that category.
type Grouped map[string][]types.Product

// Slug normalizes a category name or label into its storage key:
// case-folded, trimmed, with runs of spaces, hyphens and underscores folded
// into a single hyphen. Slug is idempotent and never returns "".
func Slug(name string) string {
	fields := strings.FieldsFunc(cases.Fold().String(name), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return types.DefaultCategory
	}
	return strings.Join(fields, "-")
}

// Label turns a category key into its display label. The default category
// maps to GeneralLabel.
func Label(key string) string {
	slug := Slug(key)
	if slug == types.DefaultCategory {
		return GeneralLabel
	}
	return cases.Title(language.Und).String(strings.ReplaceAll(slug, "-", " "))
}

// Group buckets products by the label of their category, preserving input
// order within each bucket.
func Group(products []types.Product) Grouped {
	g := make(Grouped)
	for _, p := range products {
		p.Category = Slug(p.Category)
		label := Label(p.Category)
		g[label] = append(g[label], p)
	}
	return g
}

// Flatten lists every grouped product with its category set from the bucket
// it sits in. Buckets are emitted with GeneralLabel first, then by label;
// products keep their stored order.
func Flatten(g Grouped) []types.Product {
	labels := make([]string, 0, len(g))
	for label := range g {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		gi, gj := Slug(labels[i]) == types.DefaultCategory, Slug(labels[j]) == types.DefaultCategory
		if gi != gj {
			return gi
		}
		return labels[i] < labels[j]
	})

	var out []types.Product
	for _, label := range labels {
		category := Slug(label)
		for _, p := range g[label] {
			p.Category = category
			out = append(out, p)
		}
	}
	return out
}

// Categories returns the distinct category keys in use, sorted.
func Categories(products []types.Product) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range products {
		c := Slug(p.Category)
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
