package types

import (
	"strings"
	"time"
)

// PriceNotAvailable is the price string recorded when no price could be found.
const PriceNotAvailable = "not available"

// DefaultCategory is the category every product without one falls into.
const DefaultCategory = "general"

// Confidence grades how trustworthy an extraction is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Extraction method tags recorded on drafts and products.
const (
	MethodSiteSelector     = "site-selector"
	MethodPlatformSelector = "platform-selector"
	MethodGenericSelector  = "generic-selector"
	MethodJSONLD           = "json-ld"
	MethodMetaTags         = "meta-tags"
	MethodTextScan         = "text-scan"
	MethodFallback         = "fallback"
)

// Variants holds the selected product options. Any subset may be set.
type Variants struct {
	Size  string `json:"size,omitempty"  bson:"size,omitempty"`
	Color string `json:"color,omitempty" bson:"color,omitempty"`
	Style string `json:"style,omitempty" bson:"style,omitempty"`
}

// IsEmpty reports whether no variant attribute was detected.
func (v Variants) IsEmpty() bool {
	return v.Size == "" && v.Color == "" && v.Style == ""
}

// Product is a saved product reference.
type Product struct {
	ID               string     `json:"id"                         bson:"id"`
	URL              string     `json:"url"                        bson:"url"   validate:"required"`
	Title            string     `json:"title"                      bson:"title" validate:"required"`
	Price            string     `json:"price"                      bson:"price"`
	OriginalPrice    string     `json:"originalPrice,omitempty"    bson:"original_price,omitempty"`
	Image            string     `json:"image,omitempty"            bson:"image,omitempty"`
	Site             string     `json:"site"                       bson:"site"`
	DisplaySite      string     `json:"displaySite,omitempty"      bson:"display_site,omitempty"`
	Category         string     `json:"category"                   bson:"category"`
	Variants         Variants   `json:"variants"                   bson:"variants"`
	DateAdded        time.Time  `json:"dateAdded"                  bson:"date_added"`
	LastModified     time.Time  `json:"lastModified"               bson:"last_modified"`
	DeviceSource     string     `json:"deviceSource,omitempty"     bson:"device_source,omitempty"`
	ExtractionMethod string     `json:"extractionMethod,omitempty" bson:"extraction_method,omitempty"`
	Confidence       Confidence `json:"confidence,omitempty"       bson:"confidence,omitempty"`
}

// HasPrice reports whether a real price was recorded.
func (p *Product) HasPrice() bool {
	return p.Price != "" && p.Price != PriceNotAvailable
}

// Touch bumps LastModified and records the writing device.
func (p *Product) Touch(deviceID string, now time.Time) {
	p.LastModified = now
	if deviceID != "" {
		p.DeviceSource = deviceID
	}
}

// NormalizeCategory returns the category used for storage: trimmed,
// lowercased, never empty.
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if c == "" {
		return DefaultCategory
	}
	return c
}

// Draft is the result of a single extraction, before it is saved.
type Draft struct {
	Title            string     `json:"title"`
	Image            string     `json:"image,omitempty"`
	Price            string     `json:"price"`
	OriginalPrice    string     `json:"originalPrice,omitempty"`
	Site             string     `json:"site"`
	DisplaySite      string     `json:"displaySite,omitempty"`
	URL              string     `json:"url"`
	Variants         Variants   `json:"variants"`
	ExtractionMethod string     `json:"extractionMethod"`
	Confidence       Confidence `json:"confidence"`
	Timestamp        time.Time  `json:"timestamp"`

	// Degraded holds the reason a fallback draft was produced.
	Degraded string `json:"degraded,omitempty"`
}

// IsFallback reports whether the draft came from the degraded path.
func (d *Draft) IsFallback() bool {
	return d.ExtractionMethod == MethodFallback
}

// ToProduct turns a draft into an unsaved product. ID, DateAdded and
// LastModified are assigned by the store.
func (d *Draft) ToProduct(category string) Product {
	return Product{
		URL:              d.URL,
		Title:            d.Title,
		Price:            d.Price,
		OriginalPrice:    d.OriginalPrice,
		Image:            d.Image,
		Site:             d.Site,
		DisplaySite:      d.DisplaySite,
		Category:         NormalizeCategory(category),
		Variants:         d.Variants,
		ExtractionMethod: d.ExtractionMethod,
		Confidence:       d.Confidence,
	}
}
