package pipeline

import (
	"errors"
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/IshaanNene/CartKeeper/internal/price"
	"github.com/IshaanNene/CartKeeper/internal/types"
)

// TrimMiddleware trims whitespace from all string fields.
type TrimMiddleware struct{}

func (m *TrimMiddleware) Name() string { return "trim" }

func (m *TrimMiddleware) Process(d *types.Draft) (*types.Draft, error) {
	for _, f := range stringFields(d) {
		*f = strings.TrimSpace(*f)
	}
	return d, nil
}

func stringFields(d *types.Draft) []*string {
	return []*string{
		&d.Title, &d.Image, &d.Price, &d.OriginalPrice, &d.Site, &d.DisplaySite, &d.URL,
		&d.Variants.Size, &d.Variants.Color, &d.Variants.Style,
	}
}

// HTMLSanitizeMiddleware strips tags and entities from human-readable fields.
type HTMLSanitizeMiddleware struct {
	stripRe *regexp.Regexp
}

func NewHTMLSanitizeMiddleware() *HTMLSanitizeMiddleware {
	return &HTMLSanitizeMiddleware{
		stripRe: regexp.MustCompile(`<[^>]*>`),
	}
}

func (m *HTMLSanitizeMiddleware) Name() string { return "html_sanitize" }

func (m *HTMLSanitizeMiddleware) Process(d *types.Draft) (*types.Draft, error) {
	for _, f := range []*string{&d.Title, &d.DisplaySite, &d.Variants.Size, &d.Variants.Color, &d.Variants.Style} {
		if *f == "" {
			continue
		}
		cleaned := m.stripRe.ReplaceAllString(*f, "")
		cleaned = html.UnescapeString(cleaned)
		*f = strings.Join(strings.Fields(cleaned), " ")
	}
	return d, nil
}

// DefaultValueMiddleware fills fields the extractor may leave empty.
type DefaultValueMiddleware struct{}

func (m *DefaultValueMiddleware) Name() string { return "default_values" }

func (m *DefaultValueMiddleware) Process(d *types.Draft) (*types.Draft, error) {
	if d.Site == "" {
		d.Site = types.HostOf(d.URL)
	}
	if d.DisplaySite == "" {
		d.DisplaySite = d.Site
	}
	if d.ExtractionMethod == "" {
		d.ExtractionMethod = types.MethodFallback
	}
	if d.Confidence == "" {
		d.Confidence = types.ConfidenceLow
	}
	return d, nil
}

// TitleMiddleware caps title length and fills an empty title from the host.
type TitleMiddleware struct {
	MaxRunes int
}

func (m *TitleMiddleware) Name() string { return "title" }

func (m *TitleMiddleware) Process(d *types.Draft) (*types.Draft, error) {
	if d.Title == "" && d.Site != "" {
		d.Title = "Product from " + d.Site
	}
	if m.MaxRunes > 0 && utf8.RuneCountInString(d.Title) > m.MaxRunes {
		runes := []rune(d.Title)
		d.Title = strings.TrimSpace(string(runes[:m.MaxRunes-1])) + "…"
	}
	return d, nil
}

// PriceMiddleware re-validates the price pair. An unparseable price becomes
// "not available" and an original price that is not a real markdown is
// dropped.
type PriceMiddleware struct{}

func (m *PriceMiddleware) Name() string { return "price" }

func (m *PriceMiddleware) Process(d *types.Draft) (*types.Draft, error) {
	current, ok := price.ExtractFirstPrice(d.Price)
	if !ok || d.Price == types.PriceNotAvailable {
		d.Price = types.PriceNotAvailable
		d.OriginalPrice = ""
		return d, nil
	}
	d.Price = current.Format()

	if d.OriginalPrice == "" {
		return d, nil
	}
	original, ok := price.ExtractFirstPrice(d.OriginalPrice)
	if !ok || !price.ValidOriginal(current, original) {
		d.OriginalPrice = ""
		return d, nil
	}
	d.OriginalPrice = original.Format()
	return d, nil
}

// ImageMiddleware keeps only absolute http(s) image URLs.
type ImageMiddleware struct{}

func (m *ImageMiddleware) Name() string { return "image" }

func (m *ImageMiddleware) Process(d *types.Draft) (*types.Draft, error) {
	if d.Image == "" {
		return d, nil
	}
	if strings.HasPrefix(d.Image, "//") {
		d.Image = "https:" + d.Image
	}
	u, err := url.Parse(d.Image)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		d.Image = ""
	}
	return d, nil
}

// RequiredFieldsMiddleware rejects drafts that cannot become products.
type RequiredFieldsMiddleware struct{}

func (m *RequiredFieldsMiddleware) Name() string { return "required_fields" }

func (m *RequiredFieldsMiddleware) Process(d *types.Draft) (*types.Draft, error) {
	if d.URL == "" {
		return nil, &types.ValidationError{Index: -1, Field: "url", Err: errors.New("is required")}
	}
	if d.Title == "" {
		return nil, &types.ValidationError{Index: -1, Field: "title", Err: errors.New("is required")}
	}
	return d, nil
}
