// Package extractor recovers a product draft from an arbitrary product page
// using ordered cascades of strategies per field.
package extractor

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/IshaanNene/CartKeeper/internal/price"
	"github.com/IshaanNene/CartKeeper/internal/selector"
	"github.com/IshaanNene/CartKeeper/internal/types"
	"github.com/IshaanNene/CartKeeper/internal/variant"
)

const (
	minTitleLen = 4
	maxTitleLen = 200

	// maxScanCandidates bounds the full-page scan to the prices nearest the
	// top of the page, where the main product sits.
	maxScanCandidates = 8

	minImageSide = 200
)

// Extractor turns a page into a draft. It never panics past Extract and
// never returns an error: failures degrade to a fallback draft.
type Extractor struct {
	table    *selector.Table
	variants *variant.Detector
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Extractor.
func New(table *selector.Table, variants *variant.Detector, logger *slog.Logger) *Extractor {
	return &Extractor{
		table:    table,
		variants: variants,
		logger:   logger.With("component", "extractor"),
		now:      time.Now,
	}
}

// Extract builds a draft for pageURL from page.
func (e *Extractor) Extract(pageURL string, page *types.Page) (draft types.Draft) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("extraction panicked", "url", pageURL, "panic", r)
			draft = e.Fallback(pageURL, fmt.Sprintf("panic: %v", r))
		}
	}()

	if page == nil || len(page.Body) == 0 {
		return e.Fallback(pageURL, types.ErrEmptyResponse.Error())
	}
	if page.StatusCode >= 400 {
		return e.Fallback(pageURL, fmt.Sprintf("status %d", page.StatusCode))
	}

	doc, err := page.Document()
	if err != nil {
		return e.Fallback(pageURL, fmt.Sprintf("parse: %v", err))
	}
	if kind := DetectBotWall(doc, string(page.Body)); kind != "" {
		e.logger.Warn("bot wall detected", "url", pageURL, "type", kind)
		return e.Fallback(pageURL, fmt.Sprintf("%v: %s", types.ErrBotWall, kind))
	}

	host := types.HostOf(pageURL)
	meta := readMetadata(doc)

	draft = types.Draft{
		URL:         pageURL,
		Site:        host,
		DisplaySite: e.table.DisplayName(host),
		Timestamp:   e.now().UTC(),
	}

	draft.Title = e.title(host, doc, meta)
	if draft.Title == "" {
		draft.Title = fallbackTitle(pageURL, host)
	}
	draft.Image = e.image(pageURL, host, doc, meta)
	e.price(host, doc, meta, &draft)
	if e.variants != nil {
		draft.Variants = e.variants.Detect(pageURL, doc)
	}

	e.logger.Debug("extracted",
		"url", pageURL,
		"method", draft.ExtractionMethod,
		"confidence", draft.Confidence,
		"price", draft.Price,
	)
	return draft
}

// Fallback returns the degraded draft recorded when extraction fails.
func (e *Extractor) Fallback(pageURL, reason string) types.Draft {
	host := types.HostOf(pageURL)
	d := types.Draft{
		Title:            fallbackTitle(pageURL, host),
		Price:            types.PriceNotAvailable,
		Site:             host,
		URL:              pageURL,
		ExtractionMethod: types.MethodFallback,
		Confidence:       types.ConfidenceLow,
		Timestamp:        e.now().UTC(),
		Degraded:         reason,
	}
	if e.table != nil && host != "" {
		d.DisplaySite = e.table.DisplayName(host)
	}
	return d
}

func fallbackTitle(pageURL, host string) string {
	if host == "" {
		host = pageURL
	}
	return "Product from " + host
}

// title tries og:title, twitter:title, table title selectors, the first
// <h1>, then the document <title> with its site suffix removed.
func (e *Extractor) title(host string, doc *goquery.Document, meta pageMeta) string {
	candidates := []func() string{
		func() string { return meta.openGraph["title"] },
		func() string { return meta.twitter["title"] },
		func() string { return firstText(doc, e.table.TitleRules(host, doc)) },
		func() string { return doc.Find("h1").First().Text() },
		func() string { return firstText(doc, e.table.GenericTitleRules()) },
		func() string { return stripSiteSuffix(meta.title) },
	}

	for _, c := range candidates {
		if t := cleanTitle(c()); t != "" {
			return t
		}
	}
	return ""
}

func firstText(doc *goquery.Document, rules []selector.Rule) string {
	for _, r := range rules {
		for _, sel := range r.Find(doc) {
			if t := cleanTitle(selector.Value(sel)); t != "" {
				return t
			}
		}
	}
	return ""
}

func cleanTitle(s string) string {
	s = strings.Join(strings.Fields(html.UnescapeString(s)), " ")
	n := utf8.RuneCountInString(s)
	if n < minTitleLen || n > maxTitleLen {
		return ""
	}
	return s
}

var titleSeparators = []string{" | ", " - ", " – ", " — ", " :: ", " · "}

var titlePrefix = regexp.MustCompile(`^[A-Za-z0-9.\-]+\.(com|co\.uk|ca|de|com\.au)\s*:\s*`)

// stripSiteSuffix removes a trailing "| Store Name" style suffix and a
// leading "store.com:" prefix from a document title.
func stripSiteSuffix(t string) string {
	t = strings.TrimSpace(titlePrefix.ReplaceAllString(strings.TrimSpace(t), ""))
	for _, sep := range titleSeparators {
		if idx := strings.LastIndex(t, sep); idx >= minTitleLen {
			t = t[:idx]
		}
	}
	return strings.TrimSpace(t)
}

// image tries social meta images, the site gallery, generic product image
// heuristics, then any large enough image that is not chrome.
func (e *Extractor) image(pageURL, host string, doc *goquery.Document, meta pageMeta) string {
	for _, key := range []string{"image:secure_url", "image", "image:url"} {
		if v := resolveURL(pageURL, meta.openGraph[key]); v != "" {
			return v
		}
	}
	for _, key := range []string{"image", "image:src"} {
		if v := resolveURL(pageURL, meta.twitter[key]); v != "" {
			return v
		}
	}
	if href, ok := doc.Find(`link[rel="image_src"]`).Attr("href"); ok {
		if v := resolveURL(pageURL, href); v != "" {
			return v
		}
	}

	rules := append(e.table.ImageRules(host, doc), e.table.GenericImageRules()...)
	for _, r := range rules {
		for _, sel := range r.Find(doc) {
			if v := resolveURL(pageURL, imageSource(sel)); v != "" && !isChromeImage(v) {
				return v
			}
		}
	}

	var found string
	doc.Find("img").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src := imageSource(sel)
		if src == "" || isChromeImage(src) {
			return true
		}
		label := strings.ToLower(attrs(sel, "class", "id", "alt"))
		if isProductCDN(src) || strings.Contains(label, "product") || strings.Contains(label, "hero") {
			found = resolveURL(pageURL, src)
		}
		return found == ""
	})
	if found != "" {
		return found
	}

	doc.Find("img").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src := imageSource(sel)
		if src == "" || isChromeImage(src) {
			return true
		}
		w, _ := strconv.Atoi(strings.TrimSuffix(sel.AttrOr("width", ""), "px"))
		h, _ := strconv.Atoi(strings.TrimSuffix(sel.AttrOr("height", ""), "px"))
		if w >= minImageSide && h >= minImageSide {
			found = resolveURL(pageURL, src)
		}
		return found == ""
	})
	return found
}

var productCDNs = []string{
	"cdn.shopify.com", "m.media-amazon.com", "images-na.ssl-images-amazon.com",
	"i.ebayimg.com", "i5.walmartimages.com", "target.scene7.com", "scene7.com",
	"res.cloudinary.com", "i.etsystatic.com", "static.nike.com",
}

func isProductCDN(src string) bool {
	for _, cdn := range productCDNs {
		if strings.Contains(src, cdn) {
			return true
		}
	}
	return false
}

var chromeImage = regexp.MustCompile(`(?i)(^|[/_.\-])(favicon|logos?|placeholder|sprites?|icons?|blank|spacer|pixel|loading|badge|avatar)([/_.\-]|$)`)

func isChromeImage(src string) bool {
	return chromeImage.MatchString(src)
}

// imageSource reads the best image URL off an element, preferring
// high-resolution data attributes over src.
func imageSource(sel *goquery.Selection) string {
	for _, attr := range []string{"data-old-hires", "data-zoom-image", "data-large-image", "data-src", "src", "content", "href"} {
		if v, ok := sel.Attr(attr); ok {
			v = strings.TrimSpace(v)
			if v != "" && !strings.HasPrefix(v, "data:") {
				return v
			}
		}
	}
	if srcset, ok := sel.Attr("srcset"); ok {
		first, _, _ := strings.Cut(strings.TrimSpace(srcset), ",")
		if fields := strings.Fields(first); len(fields) > 0 && !strings.HasPrefix(fields[0], "data:") {
			return fields[0]
		}
	}
	if img := sel.Find("img").First(); img.Length() > 0 && img.Nodes[0] != sel.Nodes[0] {
		return imageSource(img)
	}
	return ""
}

func attrs(sel *goquery.Selection, names ...string) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, sel.AttrOr(n, ""))
	}
	return strings.Join(parts, " ")
}

// resolveURL makes an image reference absolute: protocol-relative URLs get
// https, relative ones resolve against the page URL.
func resolveURL(pageURL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}

	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		return u.String()
	}
	base, err := url.Parse(pageURL)
	if err != nil || !base.IsAbs() {
		return ""
	}
	return base.ResolveReference(u).String()
}

// price runs the price cascade: selector table, JSON-LD, price meta tags,
// then a scan of the visible text.
func (e *Extractor) price(host string, doc *goquery.Document, meta pageMeta, d *types.Draft) {
	if m, ok := e.table.FindPrice(host, doc); ok {
		switch m.Tier {
		case selector.TierSite:
			d.ExtractionMethod, d.Confidence = types.MethodSiteSelector, types.ConfidenceHigh
		case selector.TierPlatform:
			d.ExtractionMethod, d.Confidence = types.MethodPlatformSelector, types.ConfidenceHigh
		default:
			d.ExtractionMethod, d.Confidence = types.MethodGenericSelector, types.ConfidenceMedium
		}
		setPrice(d, m.Current, m.Original)
		return
	}

	for _, ld := range meta.jsonLD {
		if m, ok := price.ExtractPriceFromStructuredData(ld); ok {
			d.ExtractionMethod, d.Confidence = types.MethodJSONLD, types.ConfidenceHigh
			setPrice(d, m, price.Money{})
			return
		}
	}

	if m, ok := metaPrice(meta.product, "price"); ok {
		orig, _ := metaPrice(meta.product, "original_price")
		d.ExtractionMethod, d.Confidence = types.MethodMetaTags, types.ConfidenceMedium
		setPrice(d, m, orig)
		return
	}

	candidates := price.AllPrices(visibleText(doc))
	if len(candidates) > maxScanCandidates {
		candidates = candidates[:maxScanCandidates]
	}
	if choice := price.ChooseBestPrice(candidates); choice.Found() {
		d.ExtractionMethod, d.Confidence = types.MethodTextScan, types.ConfidenceLow
		setPrice(d, choice.Current, choice.Original)
		return
	}

	d.Price = types.PriceNotAvailable
	d.ExtractionMethod, d.Confidence = types.MethodFallback, types.ConfidenceLow
}

func setPrice(d *types.Draft, current, original price.Money) {
	d.Price = current.Format()
	if price.ValidOriginal(current, original) {
		d.OriginalPrice = original.Format()
	}
}

func metaPrice(product map[string]string, prefix string) (price.Money, bool) {
	raw := product[prefix+":amount"]
	if raw == "" {
		return price.Money{}, false
	}
	v, err := price.ParseAmount(raw)
	if err != nil || !price.IsReasonablePrice(v) {
		return price.ExtractFirstPrice(raw)
	}
	currency := strings.ToUpper(product[prefix+":currency"])
	if currency == "" {
		currency = strings.ToUpper(product["price:currency"])
	}
	if currency == "" {
		currency = "USD"
	}
	return price.Money{Amount: v, Currency: currency}, true
}

// visibleText returns the page text without scripts and styles.
func visibleText(doc *goquery.Document) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	var b strings.Builder
	for _, n := range body.Nodes {
		writeVisible(&b, n)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func writeVisible(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "template", "svg":
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeVisible(b, c)
	}
}
