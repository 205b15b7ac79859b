package extractor

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// pageMeta is the structured data a product page exposes outside its
// visible markup.
type pageMeta struct {
	jsonLD    []any
	openGraph map[string]string
	twitter   map[string]string
	product   map[string]string // product:* and og:price:* meta properties
	title     string
}

func readMetadata(doc *goquery.Document) pageMeta {
	return pageMeta{
		jsonLD:    extractJSONLD(doc),
		openGraph: extractOpenGraph(doc),
		twitter:   extractTwitterCard(doc),
		product:   extractProductMeta(doc),
		title:     strings.TrimSpace(doc.Find("head title").First().Text()),
	}
}

// extractJSONLD parses <script type="application/ld+json"> elements. Blocks
// that fail to decode are skipped.
func extractJSONLD(doc *goquery.Document) []any {
	var results []any

	doc.Find(`script[type="application/ld+json"]`).Each(func(i int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return
		}

		var data any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return
		}
		results = append(results, data)
	})

	return results
}

// extractOpenGraph parses og: meta tags.
func extractOpenGraph(doc *goquery.Document) map[string]string {
	data := make(map[string]string)

	doc.Find(`meta[property^="og:"]`).Each(func(i int, sel *goquery.Selection) {
		property, _ := sel.Attr("property")
		content, _ := sel.Attr("content")
		content = strings.TrimSpace(content)
		if property == "" || content == "" {
			return
		}
		key := strings.TrimPrefix(property, "og:")
		if _, seen := data[key]; !seen {
			data[key] = content
		}
	})

	return data
}

// extractTwitterCard parses twitter: meta tags.
func extractTwitterCard(doc *goquery.Document) map[string]string {
	data := make(map[string]string)

	doc.Find(`meta[name^="twitter:"], meta[property^="twitter:"]`).Each(func(i int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		if name == "" {
			name, _ = sel.Attr("property")
		}
		content, _ := sel.Attr("content")
		content = strings.TrimSpace(content)
		if name == "" || content == "" {
			return
		}
		key := strings.TrimPrefix(name, "twitter:")
		if _, seen := data[key]; !seen {
			data[key] = content
		}
	})

	return data
}

// extractProductMeta parses product:price:* style meta properties.
func extractProductMeta(doc *goquery.Document) map[string]string {
	data := make(map[string]string)

	doc.Find(`meta[property^="product:"], meta[property^="og:price:"], meta[name^="product:"]`).Each(func(i int, sel *goquery.Selection) {
		key, _ := sel.Attr("property")
		if key == "" {
			key, _ = sel.Attr("name")
		}
		content, _ := sel.Attr("content")
		content = strings.TrimSpace(content)
		if key == "" || content == "" {
			return
		}
		key = strings.TrimPrefix(key, "og:")
		key = strings.TrimPrefix(key, "product:")
		if _, seen := data[key]; !seen {
			data[key] = content
		}
	})

	return data
}
