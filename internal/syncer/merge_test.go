package syncer

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/IshaanNene/CartKeeper/internal/types"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func rec(id, title string, modified time.Time) types.Product {
	return types.Product{ID: id, URL: "https://shop.test/" + id, Title: title, LastModified: modified}
}

func byID(ps []types.Product) map[string]types.Product {
	out := make(map[string]types.Product, len(ps))
	for _, p := range ps {
		out[p.ID] = p
	}
	return out
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name   string
		local  []types.Product
		remote []types.Product
		want   map[string]string // id -> title
	}{
		{
			name:   "remote is the baseline",
			remote: []types.Product{rec("1", "remote", base)},
			want:   map[string]string{"1": "remote"},
		},
		{
			name:   "local only record is added",
			local:  []types.Product{rec("2", "local", base)},
			remote: []types.Product{rec("1", "remote", base)},
			want:   map[string]string{"1": "remote", "2": "local"},
		},
		{
			name:   "newer local wins",
			local:  []types.Product{rec("1", "local", base.Add(time.Second))},
			remote: []types.Product{rec("1", "remote", base)},
			want:   map[string]string{"1": "local"},
		},
		{
			name:   "newer remote wins",
			local:  []types.Product{rec("1", "local", base)},
			remote: []types.Product{rec("1", "remote", base.Add(time.Millisecond))},
			want:   map[string]string{"1": "remote"},
		},
		{
			name:   "tie goes to remote",
			local:  []types.Product{rec("1", "local", base)},
			remote: []types.Product{rec("1", "remote", base)},
			want:   map[string]string{"1": "remote"},
		},
		{
			name:  "empty remote keeps local",
			local: []types.Product{rec("1", "local", base), rec("2", "local", base)},
			want:  map[string]string{"1": "local", "2": "local"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.local, tt.remote)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d products, want %d", len(got), len(tt.want))
			}
			for id, title := range tt.want {
				p, ok := byID(got)[id]
				if !ok {
					t.Fatalf("missing id %s", id)
				}
				if p.Title != title {
					t.Errorf("id %s: title = %q, want %q", id, p.Title, title)
				}
			}
		})
	}
}

func TestMergeOrder(t *testing.T) {
	got := Merge(
		[]types.Product{rec("3", "l", base), rec("1", "l", base)},
		[]types.Product{rec("2", "r", base), rec("1", "r", base)},
	)
	var order []string
	for _, p := range got {
		order = append(order, p.ID)
	}
	want := []string{"2", "1", "3"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestReconcileDropsSkippedDuplicates(t *testing.T) {
	local := types.Product{ID: "local-id", URL: "https://Shop.test/p?utm_source=x", Title: "mine", LastModified: base}
	remote := types.Product{ID: "remote-id", URL: "https://shop.test/p", Title: "theirs", LastModified: base}
	other := rec("9", "new", base)

	got := reconcile([]types.Product{local, other}, []types.Product{remote})
	ids := byID(got)
	if _, ok := ids["local-id"]; ok {
		t.Error("local duplicate of a remote page should be dropped")
	}
	if _, ok := ids["remote-id"]; !ok {
		t.Error("remote copy missing")
	}
	if _, ok := ids["9"]; !ok {
		t.Error("unrelated local record should be kept")
	}
}

func TestWithout(t *testing.T) {
	ps := []types.Product{rec("1", "", base), rec("2", "", base), rec("3", "", base)}
	got := without(ps, []string{"2", "missing"})
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Errorf("without = %+v", got)
	}
	if len(without(ps, nil)) != 3 {
		t.Error("nil removal list should keep everything")
	}
}

func TestProperty_MergeLaterTimestampWins(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("shared ids resolve to the later record, ties to remote", prop.ForAll(
		func(offsets []int) bool {
			local := make([]types.Product, len(offsets))
			remote := make([]types.Product, len(offsets))
			for i, off := range offsets {
				id := fmt.Sprintf("p%d", i)
				local[i] = rec(id, "local", base.Add(time.Duration(off)*time.Second))
				remote[i] = rec(id, "remote", base)
			}

			merged := byID(Merge(local, remote))
			if len(merged) != len(offsets) {
				t.Logf("FAIL: %d merged records for %d ids", len(merged), len(offsets))
				return false
			}
			for i, off := range offsets {
				got := merged[local[i].ID]
				want := "remote"
				if off > 0 {
					want = "local"
				}
				if got.Title != want {
					t.Logf("FAIL: offset %d picked %s, want %s", off, got.Title, want)
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(-5, 5)),
	))

	properties.Property("result does not depend on local order", prop.ForAll(
		func(offsets []int) bool {
			var local, remote []types.Product
			for i, off := range offsets {
				id := fmt.Sprintf("p%d", i)
				local = append(local, rec(id, "local", base.Add(time.Duration(off)*time.Second)))
				if i%2 == 0 {
					remote = append(remote, rec(id, "remote", base))
				}
			}
			reversed := make([]types.Product, len(local))
			for i, p := range local {
				reversed[len(local)-1-i] = p
			}

			a := titles(Merge(local, remote))
			b := titles(Merge(reversed, remote))
			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i] != b[i] {
					t.Logf("FAIL: %v != %v", a, b)
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(-3, 3)),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func titles(ps []types.Product) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID + "=" + p.Title
	}
	sort.Strings(out)
	return out
}
