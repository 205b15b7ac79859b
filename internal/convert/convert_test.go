package convert

import (
	"fmt"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/IshaanNene/CartKeeper/internal/types"
)

func TestSlugAndLabel(t *testing.T) {
	tests := []struct {
		in    string
		slug  string
		label string
	}{
		{"general", "general", "General"},
		{"", "general", "General"},
		{"General", "general", "General"},
		{"home-decor", "home-decor", "Home Decor"},
		{"Home Decor", "home-decor", "Home Decor"},
		{"  TV  stands__2 ", "tv-stands-2", "Tv Stands 2"},
		{"gifts--for-mom", "gifts-for-mom", "Gifts For Mom"},
	}

	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.slug {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.slug)
		}
		if got := Label(tt.in); got != tt.label {
			t.Errorf("Label(%q) = %q, want %q", tt.in, got, tt.label)
		}
		if again := Slug(Slug(tt.in)); again != tt.slug {
			t.Errorf("Slug is not idempotent for %q: %q", tt.in, again)
		}
		if back := Slug(Label(tt.in)); back != tt.slug {
			t.Errorf("Slug(Label(%q)) = %q, want %q", tt.in, back, tt.slug)
		}
	}
}

func TestGroupAndFlatten(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	flat := []types.Product{
		{ID: "1", URL: "https://a.test/1", Title: "Lamp", Category: "home-decor", DateAdded: now},
		{ID: "2", URL: "https://a.test/2", Title: "Mouse", Category: "", DateAdded: now},
		{ID: "3", URL: "https://a.test/3", Title: "Rug", Category: "home-decor", DateAdded: now,
			Variants: types.Variants{Color: "Red"}},
		{ID: "4", URL: "https://a.test/4", Title: "Pen", Category: "general", DateAdded: now},
	}

	g := Group(flat)
	if len(g) != 2 {
		t.Fatalf("got %d buckets, want 2: %v", len(g), g)
	}
	if len(g[GeneralLabel]) != 2 || len(g["Home Decor"]) != 2 {
		t.Errorf("bucket sizes: general=%d home=%d", len(g[GeneralLabel]), len(g["Home Decor"]))
	}

	out := Flatten(g)
	wantOrder := []string{"2", "4", "1", "3"}
	for i, id := range wantOrder {
		if out[i].ID != id {
			t.Errorf("Flatten[%d].ID = %s, want %s", i, out[i].ID, id)
		}
	}
	if out[0].Category != "general" {
		t.Errorf("empty category should normalize to general, got %q", out[0].Category)
	}
	if out[3].Variants.Color != "Red" {
		t.Error("variants lost in round trip")
	}
}

func TestCategories(t *testing.T) {
	got := Categories([]types.Product{{Category: "Toys"}, {Category: ""}, {Category: "toys"}, {Category: "books"}})
	want := []string{"books", "general", "toys"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Categories = %v, want %v", got, want)
	}
}

func sortByID(ps []types.Product) []types.Product {
	out := append([]types.Product(nil), ps...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func TestProperty_FlattenGroupRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("flatten(group(flatten(g))) equals flatten(g) as a multiset", prop.ForAll(
		func(labels []string, titles []string) bool {
			g := make(Grouped)
			for i, label := range labels {
				title := "Item"
				if i < len(titles) {
					title = titles[i]
				}
				p := types.Product{
					ID:           fmt.Sprintf("id-%03d", i),
					URL:          fmt.Sprintf("https://shop.test/p/%d", i),
					Title:        title,
					Price:        "$10.00",
					Site:         "shop.test",
					DateAdded:    base.Add(time.Duration(i) * time.Minute),
					LastModified: base.Add(time.Duration(i) * time.Hour),
					Variants:     types.Variants{Size: title},
				}
				g[label] = append(g[label], p)
			}

			once := Flatten(g)
			twice := Flatten(Group(once))
			if !reflect.DeepEqual(sortByID(once), sortByID(twice)) {
				t.Logf("FAIL: round trip changed products for labels %q", labels)
				return false
			}
			return true
		},
		gen.SliceOf(gen.RegexMatch(`[A-Za-z][A-Za-z0-9 _-]{0,14}`)),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("slug is idempotent and stable through its label", prop.ForAll(
		func(name string) bool {
			s := Slug(name)
			return Slug(s) == s && Slug(Label(s)) == s && s != ""
		},
		gen.RegexMatch(`[A-Za-z0-9 _-]{0,20}`),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
