package pipeline

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/IshaanNene/CartKeeper/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func TestPipelineBasic(t *testing.T) {
	p := New(testLogger)
	p.Use(&TrimMiddleware{})

	d := &types.Draft{Title: "  Hello World  ", URL: " https://shop.test/p ", Variants: types.Variants{Size: " M "}}
	result, err := p.Process(d)
	if err != nil {
		t.Fatalf("pipeline error: %v", err)
	}
	if result.Title != "Hello World" {
		t.Errorf("expected trimmed title, got %q", result.Title)
	}
	if result.URL != "https://shop.test/p" || result.Variants.Size != "M" {
		t.Errorf("expected trimmed fields, got %+v", result)
	}
	if p.Len() != 1 {
		t.Errorf("Len() = %d", p.Len())
	}
}

func TestHTMLSanitizeMiddleware(t *testing.T) {
	m := NewHTMLSanitizeMiddleware()
	d := &types.Draft{Title: `<b>Tom &amp; Jerry</b>   Mug`, Variants: types.Variants{Color: "Navy&nbsp;Blue"}}

	result, err := m.Process(d)
	if err != nil {
		t.Fatalf("error: %v", err)
	}
	if result.Title != "Tom & Jerry Mug" {
		t.Errorf("expected 'Tom & Jerry Mug', got %q", result.Title)
	}
	if result.Variants.Color != "Navy Blue" {
		t.Errorf("expected 'Navy Blue', got %q", result.Variants.Color)
	}
}

func TestPriceMiddleware(t *testing.T) {
	tests := []struct {
		price, original         string
		wantPrice, wantOriginal string
	}{
		{"$20.00", "$40.00", "$20.00", "$40.00"},
		{"$1,299.99", "", "$1,299.99", ""},
		{"€20,00", "€21,00", "€20.00", ""},
		{"20", "$40", "$20.00", "$40.00"},
		{"free", "$40.00", types.PriceNotAvailable, ""},
		{types.PriceNotAvailable, "$10.00", types.PriceNotAvailable, ""},
		{"", "", types.PriceNotAvailable, ""},
		{"£10.00", "$30.00", "£10.00", ""},
	}

	m := &PriceMiddleware{}
	for _, tt := range tests {
		d := &types.Draft{Price: tt.price, OriginalPrice: tt.original}
		result, err := m.Process(d)
		if err != nil {
			t.Fatalf("error: %v", err)
		}
		if result.Price != tt.wantPrice || result.OriginalPrice != tt.wantOriginal {
			t.Errorf("(%q, %q): got (%q, %q), want (%q, %q)",
				tt.price, tt.original, result.Price, result.OriginalPrice, tt.wantPrice, tt.wantOriginal)
		}
	}
}

func TestImageMiddleware(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"//cdn.shop.test/a.jpg", "https://cdn.shop.test/a.jpg"},
		{"https://cdn.shop.test/a.jpg", "https://cdn.shop.test/a.jpg"},
		{"data:image/png;base64,AAAA", ""},
		{"/relative.jpg", ""},
		{"", ""},
	}
	m := &ImageMiddleware{}
	for _, tt := range tests {
		result, _ := m.Process(&types.Draft{Image: tt.in})
		if result.Image != tt.want {
			t.Errorf("image %q: got %q, want %q", tt.in, result.Image, tt.want)
		}
	}
}

func TestTitleMiddleware(t *testing.T) {
	m := &TitleMiddleware{MaxRunes: 10}

	result, _ := m.Process(&types.Draft{Site: "shop.test"})
	if result.Title != "Product from shop.test" {
		t.Errorf("empty title: got %q", result.Title)
	}

	result, _ = m.Process(&types.Draft{Title: "Ünïcödé title that is long"})
	if n := len([]rune(result.Title)); n > 10 {
		t.Errorf("title not capped: %q (%d runes)", result.Title, n)
	}
	if !strings.HasSuffix(result.Title, "…") {
		t.Errorf("expected ellipsis, got %q", result.Title)
	}
}

func TestRequiredFieldsMiddleware(t *testing.T) {
	m := &RequiredFieldsMiddleware{}

	if result, err := m.Process(&types.Draft{URL: "https://shop.test/p", Title: "Hello"}); err != nil || result == nil {
		t.Error("draft with required fields should pass")
	}

	_, err := m.Process(&types.Draft{Title: "no url"})
	var ve *types.ValidationError
	if !errors.As(err, &ve) || ve.Field != "url" {
		t.Errorf("expected url ValidationError, got %v", err)
	}
}

func TestDefaultPipelineNormalize(t *testing.T) {
	p := Default(testLogger)

	d := types.Draft{
		Title:         "  <i>Blue</i> Shirt ",
		Price:         "$20",
		OriginalPrice: "$40.00",
		URL:           "https://www.shop.test/p/1",
		Image:         "//cdn.shop.test/1.jpg",
	}
	if err := p.Normalize(&d); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if d.Title != "Blue Shirt" || d.Price != "$20.00" || d.OriginalPrice != "$40.00" {
		t.Errorf("unexpected draft %+v", d)
	}
	if d.Site != "shop.test" || d.DisplaySite != "shop.test" {
		t.Errorf("site defaults: %q %q", d.Site, d.DisplaySite)
	}
	if d.ExtractionMethod != types.MethodFallback || d.Confidence != types.ConfidenceLow {
		t.Errorf("method defaults: %q %q", d.ExtractionMethod, d.Confidence)
	}
	if d.Image != "https://cdn.shop.test/1.jpg" {
		t.Errorf("image = %q", d.Image)
	}

	bad := types.Draft{Title: " Lost ", Price: "$5"}
	err := p.Normalize(&bad)
	var se *StageError
	if !errors.As(err, &se) || se.Stage != "required_fields" {
		t.Fatalf("expected required_fields StageError, got %v", err)
	}
	if bad.Title != " Lost " {
		t.Errorf("failed Normalize must leave the draft unchanged, got %q", bad.Title)
	}
}
