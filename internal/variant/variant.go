// Package variant detects the selected size, color and style of a product
// page from its URL and markup.
package variant

import (
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/IshaanNene/CartKeeper/internal/selector"
	"github.com/IshaanNene/CartKeeper/internal/types"
)

// Variant fields.
const (
	FieldSize  = "size"
	FieldColor = "color"
	FieldStyle = "style"
)

var fields = []string{FieldSize, FieldColor, FieldStyle}

// queryParams are the parameter names recognized on any site.
var queryParams = map[string][]string{
	FieldSize:  {"size", "sz", "selectedSize", "variant_size"},
	FieldColor: {"color", "colour", "col", "selectedColor", "variant_color"},
	FieldStyle: {"style", "fit", "variant_style"},
}

// positionalParam matches option-0, option1, option_2 style parameters whose
// field is not named and has to be inferred from the value.
var positionalParam = regexp.MustCompile(`(?i)^option[-_]?\d+$`)

var placeholder = regexp.MustCompile(`(?i)^(select|choose|pick|please)\b|^(size|color|colour|style)$|^[-\s]*$`)

var sizeValue = regexp.MustCompile(`(?i)^(xxs|xs|s|m|l|xl|xxl|xxxl|[2-5]xl|one size|os|small|medium|large|x-large|xx-large|petite|tall|\d{1,3}(\.5)?|\d{2}\s*[x/]\s*\d{2}|(us|uk|eu)\s*\d{1,2}(\.5)?)$`)

var commonColors = map[string]bool{
	"black": true, "white": true, "red": true, "blue": true, "green": true,
	"yellow": true, "orange": true, "purple": true, "pink": true, "brown": true,
	"gray": true, "grey": true, "navy": true, "beige": true, "cream": true,
	"ivory": true, "khaki": true, "olive": true, "tan": true, "teal": true,
	"maroon": true, "burgundy": true, "silver": true, "gold": true, "charcoal": true,
}

// Detector finds variants with a cascade of strategies per field:
// query parameters, site rules, then generic DOM pickers.
type Detector struct {
	table  *selector.Table
	logger *slog.Logger
}

// NewDetector creates a Detector backed by the selector table.
func NewDetector(table *selector.Table, logger *slog.Logger) *Detector {
	return &Detector{
		table:  table,
		logger: logger.With("component", "variant_detector"),
	}
}

// Detect returns the selected variants of the product at pageURL. doc may be
// nil, in which case only the URL is inspected. Nothing found yields an
// empty Variants.
func (d *Detector) Detect(pageURL string, doc *goquery.Document) types.Variants {
	found := make(map[string]string, len(fields))
	host := types.HostOf(pageURL)

	var siteRules []selector.VariantRules
	if d.table != nil {
		siteRules = d.table.VariantRules(host, doc)
	}

	if u, err := url.Parse(pageURL); err == nil {
		d.fromQuery(u.Query(), siteRules, found)
	}
	if doc != nil {
		d.fromSiteSelectors(doc, siteRules, found)
		d.fromDOM(doc, found)
	}

	v := types.Variants{
		Size:  found[FieldSize],
		Color: found[FieldColor],
		Style: found[FieldStyle],
	}
	if !v.IsEmpty() {
		d.logger.Debug("variants detected", "url", pageURL, "size", v.Size, "color", v.Color, "style", v.Style)
	}
	return v
}

func (d *Detector) fromQuery(q url.Values, siteRules []selector.VariantRules, found map[string]string) {
	if len(q) == 0 {
		return
	}

	// Site aliases first, translating opaque ids where a table exists.
	for _, rules := range siteRules {
		for _, field := range fields {
			if found[field] != "" {
				continue
			}
			for _, name := range rules.Params[field] {
				raw := q.Get(name)
				if raw == "" {
					continue
				}
				if label, ok := rules.IDs[field][raw]; ok {
					raw = label
				}
				if v := d.Normalize(raw); v != "" {
					found[field] = v
					break
				}
			}
		}
	}

	for _, field := range fields {
		if found[field] != "" {
			continue
		}
		for _, name := range queryParams[field] {
			if v := d.Normalize(lookupFold(q, name)); v != "" {
				found[field] = v
				break
			}
		}
	}

	var positional []string
	for name := range q {
		if positionalParam.MatchString(name) {
			positional = append(positional, name)
		}
	}
	sort.Strings(positional)
	for _, name := range positional {
		v := d.Normalize(q.Get(name))
		if v == "" {
			continue
		}
		field := classify(v)
		if found[field] == "" {
			found[field] = v
		}
	}
}

func (d *Detector) fromSiteSelectors(doc *goquery.Document, siteRules []selector.VariantRules, found map[string]string) {
	for _, rules := range siteRules {
		for _, field := range fields {
			if found[field] != "" {
				continue
			}
			for _, css := range rules.Selectors[field] {
				rule, err := selector.ParseRule(css)
				if err != nil {
					continue
				}
				for _, sel := range rule.Find(doc) {
					raw := readOption(sel)
					if label, ok := rules.IDs[field][raw]; ok {
						raw = label
					}
					if v := d.Normalize(raw); v != "" {
						found[field] = v
						break
					}
				}
				if found[field] != "" {
					break
				}
			}
		}
	}
}

// domPickers are generic selected-option patterns, %s standing in for the
// field name.
var domPickers = []string{
	`select[name*="%s"] option[selected]`,
	`select[id*="%s"] option[selected]`,
	`input[type="radio"][name*="%s"][checked]`,
	`[class*="%s"] [aria-checked="true"]`,
	`[class*="%s"] [aria-selected="true"]`,
	`[class*="%s"] [aria-pressed="true"]`,
	`[data-option-name*="%s"] .selected`,
	`[class*="%s"] .selected`,
	`[class*="%s"] .active`,
}

func (d *Detector) fromDOM(doc *goquery.Document, found map[string]string) {
	for _, field := range fields {
		if found[field] != "" {
			continue
		}
		names := []string{field}
		if field == FieldColor {
			names = append(names, "colour")
		}
		for _, name := range names {
			if v := d.pick(doc, name); v != "" {
				found[field] = v
				break
			}
		}
	}
}

func (d *Detector) pick(doc *goquery.Document, name string) string {
	for _, pattern := range domPickers {
		css := strings.ReplaceAll(pattern, "%s", name)
		var value string
		doc.Find(css).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			value = d.Normalize(readOption(sel))
			return value == ""
		})
		if value != "" {
			return value
		}
	}
	return ""
}

// readOption reads a selected option's label: visible text, then value and
// data attributes, then accessible labels.
func readOption(sel *goquery.Selection) string {
	if text := strings.Join(strings.Fields(sel.Text()), " "); text != "" && !placeholder.MatchString(text) {
		return text
	}
	for _, attr := range []string{"value", "data-value", "data-option-value", "data-variant", "aria-label", "title"} {
		if v, ok := sel.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Normalize cleans a raw variant value: separators become spaces and each
// word is capitalized. Placeholders and empty values normalize to "".
func (d *Detector) Normalize(raw string) string {
	raw = strings.NewReplacer("-", " ", "_", " ", "+", " ").Replace(raw)
	raw = strings.Join(strings.Fields(raw), " ")
	if raw == "" || placeholder.MatchString(raw) || len(raw) > 60 {
		return ""
	}
	// Casers carry state, so each call gets its own.
	return cases.Title(language.Und, cases.NoLower).String(raw)
}

// classify guesses which field an unnamed option value belongs to.
func classify(v string) string {
	lv := strings.ToLower(v)
	if sizeValue.MatchString(lv) {
		return FieldSize
	}
	for _, word := range strings.Fields(lv) {
		if commonColors[word] {
			return FieldColor
		}
	}
	return FieldStyle
}

// lookupFold returns the first value of the parameter matching name
// case-insensitively. An exact match wins; otherwise keys are tried in
// sorted order so the result does not depend on map iteration.
func lookupFold(q url.Values, name string) string {
	if v := q.Get(name); v != "" {
		return v
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if vals := q[k]; strings.EqualFold(k, name) && len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	return ""
}
