package variant

import (
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/IshaanNene/CartKeeper/internal/selector"
	"github.com/IshaanNene/CartKeeper/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func newDetector(t *testing.T) *Detector {
	t.Helper()
	table, err := selector.Default()
	if err != nil {
		t.Fatalf("load table: %v", err)
	}
	return NewDetector(table, testLogger)
}

func doc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestDetectFromQuery(t *testing.T) {
	d := newDetector(t)

	tests := []struct {
		url  string
		want types.Variants
	}{
		{"https://shop.example.com/p/1?size=xl&color=navy-blue", types.Variants{Size: "Xl", Color: "Navy Blue"}},
		{"https://shop.example.com/p/1?Colour=forest_green&style=slim-fit", types.Variants{Color: "Forest Green", Style: "Slim Fit"}},
		{"https://shop.example.com/p/1?option-0=M&option-1=Black", types.Variants{Size: "M", Color: "Black"}},
		{"https://shop.example.com/p/1?option-0=Relaxed", types.Variants{Style: "Relaxed"}},
		{"https://shop.example.com/p/1?size=Select+Size", types.Variants{}},
		{"https://shop.example.com/p/1", types.Variants{}},
	}

	for _, tt := range tests {
		got := d.Detect(tt.url, nil)
		if got != tt.want {
			t.Errorf("Detect(%q) = %+v, want %+v", tt.url, got, tt.want)
		}
	}
}

func TestDetectFromQueryMixedCaseKeys(t *testing.T) {
	d := newDetector(t)
	for i := 0; i < 50; i++ {
		got := d.Detect("https://shop.example.com/p/1?Color=blue&COLOR=red", nil)
		if got.Color != "Red" {
			t.Fatalf("run %d: color = %q, want Red", i, got.Color)
		}
	}

	got := d.Detect("https://shop.example.com/p/1?Color=blue&color=green", nil)
	if got.Color != "Green" {
		t.Errorf("exact key should win, got %q", got.Color)
	}
}

func TestDetectSiteIDMap(t *testing.T) {
	d := newDetector(t)
	got := d.Detect("https://www.uniqlo.com/us/en/products/E460000-000?colorDisplayCode=69&sizeDisplayCode=004", nil)
	want := types.Variants{Size: "M", Color: "Navy"}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDetectPlatformParams(t *testing.T) {
	d := newDetector(t)
	page := doc(t, `<html><body class="woocommerce"><h1 class="product_title">Tee</h1></body></html>`)
	got := d.Detect("https://tees.example.com/product/tee?attribute_pa_color=sky-blue&attribute_pa_size=large", page)
	want := types.Variants{Size: "Large", Color: "Sky Blue"}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDetectSiteSelectors(t *testing.T) {
	d := newDetector(t)
	page := doc(t, `<div id="variation_color_name"><span class="selection">Heather Grey</span></div>
		<div id="variation_size_name"><span class="selection">Medium</span></div>`)
	got := d.Detect("https://www.amazon.com/dp/B000", page)
	want := types.Variants{Size: "Medium", Color: "Heather Grey"}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDetectGenericDOM(t *testing.T) {
	d := newDetector(t)
	page := doc(t, `<form>
		<select name="size">
			<option>Select Size</option>
			<option value="s">S</option>
			<option value="l" selected>L</option>
		</select>
		<div class="color-swatches">
			<button aria-checked="false" data-value="red"></button>
			<button aria-checked="true" data-value="dusty_rose"></button>
		</div>
	</form>`)

	got := d.Detect("https://shop.example.com/p/9", page)
	want := types.Variants{Size: "L", Color: "Dusty Rose"}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDetectRejectsPlaceholders(t *testing.T) {
	d := newDetector(t)
	page := doc(t, `<select name="size"><option selected>Choose an option</option></select>
		<div class="color-list"><span class="selected"></span></div>`)
	got := d.Detect("https://shop.example.com/p/9", page)
	if !got.IsEmpty() {
		t.Errorf("got %+v, want empty", got)
	}
}

func TestQueryWinsOverDOM(t *testing.T) {
	d := newDetector(t)
	page := doc(t, `<select name="size"><option selected>S</option></select>`)
	got := d.Detect("https://shop.example.com/p/9?size=XXL", page)
	if got.Size != "XXL" {
		t.Errorf("size = %q, want XXL", got.Size)
	}
}

func TestNormalize(t *testing.T) {
	d := newDetector(t)
	tests := map[string]string{
		"navy-blue":     "Navy Blue",
		"  extra_large": "Extra Large",
		"XL":            "XL",
		"Select Color":  "",
		"--":            "",
		"":              "",
	}
	for in, want := range tests {
		if got := d.Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
