package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/CartKeeper/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

var (
	t1 = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Hour)
)

func product(id, url string, modified time.Time) types.Product {
	return types.Product{
		ID:           id,
		URL:          url,
		Title:        "Product " + id,
		Price:        "$10.00",
		Category:     "general",
		DateAdded:    t1,
		LastModified: modified,
		DeviceSource: "device-a",
	}
}

func ids(ps []types.Product) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	sort.Strings(out)
	return out
}

// runStoreSuite checks the behavior every backend must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("replace makes remote equal upload", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Replace(ctx, "u1", "dev", []types.Product{product("1", "https://a.test/1", t2)})
		require.NoError(t, err)

		local := product("1", "https://a.test/1", t1)
		local.Title = "Local copy"
		got, err := s.Replace(ctx, "u1", "dev", []types.Product{local})
		require.NoError(t, err)
		assert.Equal(t, []string{"1"}, got)

		list, err := s.List(ctx, "u1", nil)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Local copy", list[0].Title)
		assert.True(t, list[0].LastModified.Equal(t1))

		_, err = s.Replace(ctx, "u1", "dev", nil)
		require.NoError(t, err)
		list, err = s.List(ctx, "u1", nil)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("merge only adds new urls", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Replace(ctx, "u1", "dev", []types.Product{product("1", "https://a.test/1", t2)})
		require.NoError(t, err)

		res, err := s.Merge(ctx, "u1", "dev-b", []types.Product{
			product("1", "https://a.test/1", t1),
			product("9", "https://A.test/1?utm_source=mail", t1),
			product("2", "https://a.test/2", t1),
		})
		require.NoError(t, err)
		assert.Equal(t, MergeResult{Added: 1, Skipped: 2, Total: 2}, res)

		list, err := s.List(ctx, "u1", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, ids(list))
		for _, p := range list {
			if p.ID == "1" {
				assert.True(t, p.LastModified.Equal(t2), "remote copy must be kept")
			}
		}
	})

	t.Run("validation rejects missing fields", func(t *testing.T) {
		s := newStore(t)
		bad := product("2", "https://a.test/2", t1)
		bad.Title = " "
		_, err := s.Replace(ctx, "u1", "dev", []types.Product{product("1", "https://a.test/1", t1), bad})
		var ve *types.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, 1, ve.Index)
		assert.Equal(t, "title", ve.Field)
	})

	t.Run("server fills missing fields", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Replace(ctx, "u1", "dev-x", []types.Product{{URL: "https://www.shop.test/p", Title: "T", Category: "Home Decor"}})
		require.NoError(t, err)
		list, err := s.List(ctx, "u1", nil)
		require.NoError(t, err)
		require.Len(t, list, 1)
		p := list[0]
		assert.NotEmpty(t, p.ID)
		assert.Equal(t, "dev-x", p.DeviceSource)
		assert.Equal(t, "home-decor", p.Category)
		assert.Equal(t, types.PriceNotAvailable, p.Price)
		assert.Equal(t, "shop.test", p.Site)
		assert.False(t, p.DateAdded.IsZero())
	})

	t.Run("list since and owners are isolated", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Replace(ctx, "u1", "dev", []types.Product{
			product("1", "https://a.test/1", t1),
			product("2", "https://a.test/2", t2),
		})
		require.NoError(t, err)

		list, err := s.List(ctx, "u1", &t1)
		require.NoError(t, err)
		assert.Equal(t, []string{"2"}, ids(list))

		other, err := s.List(ctx, "u2", nil)
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("status", func(t *testing.T) {
		s := newStore(t)
		a := product("1", "https://a.test/1", t1)
		b := product("2", "https://a.test/2", t2)
		b.DeviceSource = "device-b"
		c := product("3", "https://a.test/3", t1)
		c.DeviceSource = ""
		_, err := s.Replace(ctx, "u1", "", []types.Product{a, b, c})
		require.NoError(t, err)
		_, err = s.Archive(ctx, "u1", "1")
		require.NoError(t, err)

		st, err := s.Status(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, st.TotalProducts)
		assert.Equal(t, 1, st.ArchivedCount)
		assert.Equal(t, []types.DeviceCount{{DeviceSource: "device-b", Count: 1}, {DeviceSource: UnknownDevice, Count: 1}}, st.DeviceBreakdown)
		require.NotNil(t, st.NewestUpdate)
		assert.True(t, st.NewestUpdate.Equal(t2))
	})

	t.Run("archive lifecycle", func(t *testing.T) {
		s := newStore(t)
		p := product("1", "https://a.test/1", t1)
		_, err := s.Replace(ctx, "u1", "dev", []types.Product{p, product("2", "https://a.test/2", t1)})
		require.NoError(t, err)

		archived, err := s.Archive(ctx, "u1", "1")
		require.NoError(t, err)
		assert.Equal(t, "1", archived.ID)
		assert.False(t, archived.ArchivedAt.IsZero())

		list, _ := s.List(ctx, "u1", nil)
		assert.Equal(t, []string{"2"}, ids(list))
		arch, _ := s.ListArchived(ctx, "u1")
		require.Len(t, arch, 1)
		removed, _ := s.Removed(ctx, "u1")
		assert.Equal(t, []string{"1"}, removed)

		_, err = s.Archive(ctx, "u1", "1")
		assert.ErrorIs(t, err, types.ErrNotFound)

		// Replace from a stale client does not resurrect an archived id.
		_, err = s.Replace(ctx, "u1", "dev", []types.Product{p, product("2", "https://a.test/2", t1)})
		require.NoError(t, err)
		list, _ = s.List(ctx, "u1", nil)
		assert.Equal(t, []string{"2"}, ids(list))

		restored, err := s.Restore(ctx, "u1", "1")
		require.NoError(t, err)
		assert.Equal(t, p.Title, restored.Title)
		list, _ = s.List(ctx, "u1", nil)
		assert.Equal(t, []string{"1", "2"}, ids(list))
		arch, _ = s.ListArchived(ctx, "u1")
		assert.Empty(t, arch)

		_, err = s.Archive(ctx, "u1", "1")
		require.NoError(t, err)
		require.NoError(t, s.Purge(ctx, "u1", "1"))

		list, _ = s.List(ctx, "u1", nil)
		assert.Equal(t, []string{"2"}, ids(list))
		arch, _ = s.ListArchived(ctx, "u1")
		assert.Empty(t, arch)
		removed, _ = s.Removed(ctx, "u1")
		assert.Equal(t, []string{"1"}, removed)

		assert.ErrorIs(t, s.Purge(ctx, "u1", "1"), types.ErrPurged)
		_, err = s.Restore(ctx, "u1", "1")
		assert.ErrorIs(t, err, types.ErrPurged)

		// Neither upload mode brings a purged product back.
		_, err = s.Replace(ctx, "u1", "dev", []types.Product{p, product("2", "https://a.test/2", t1)})
		require.NoError(t, err)
		res, err := s.Merge(ctx, "u1", "dev", []types.Product{product("7", "https://a.test/1", t1)})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Added)
		list, _ = s.List(ctx, "u1", nil)
		assert.Equal(t, []string{"2"}, ids(list))

		// The same page saved again after the purge is a new product.
		fresh := product("8", "https://a.test/1", t1)
		fresh.DateAdded = time.Now().UTC().Add(time.Minute)
		res, err = s.Merge(ctx, "u1", "dev", []types.Product{fresh})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Added)
	})

	t.Run("restore conflicts with active url", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Replace(ctx, "u1", "dev", []types.Product{product("1", "https://a.test/1", t1)})
		require.NoError(t, err)
		_, err = s.Archive(ctx, "u1", "1")
		require.NoError(t, err)
		_, err = s.Replace(ctx, "u1", "dev", []types.Product{product("5", "https://a.test/1", t1)})
		require.NoError(t, err)

		_, err = s.Restore(ctx, "u1", "1")
		assert.ErrorIs(t, err, types.ErrDuplicateURL)
		_, err = s.Restore(ctx, "u1", "missing")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore(testLogger) })
}

func TestProperty_ArchiveRestoreReverses(t *testing.T) {
	ctx := context.Background()
	properties := gopter.NewProperties(nil)

	properties.Property("archive then restore leaves the listing unchanged; purge removes it from both", prop.ForAll(
		func(n int, pick int) bool {
			s := NewMemoryStore(testLogger)
			upload := make([]types.Product, n)
			for i := range upload {
				upload[i] = product(fmt.Sprintf("p%02d", i), fmt.Sprintf("https://a.test/%d", i), t1.Add(time.Duration(i)*time.Second))
			}
			if _, err := s.Replace(ctx, "owner", "dev", upload); err != nil {
				t.Logf("FAIL: replace: %v", err)
				return false
			}
			before, _ := s.List(ctx, "owner", nil)
			target := upload[pick%n].ID

			if _, err := s.Archive(ctx, "owner", target); err != nil {
				return false
			}
			during, _ := s.List(ctx, "owner", nil)
			arch, _ := s.ListArchived(ctx, "owner")
			if len(during) != n-1 || len(arch) != 1 || arch[0].ID != target {
				t.Logf("FAIL: archive of %s: active=%d archived=%d", target, len(during), len(arch))
				return false
			}

			if _, err := s.Restore(ctx, "owner", target); err != nil {
				return false
			}
			after, _ := s.List(ctx, "owner", nil)
			if fmt.Sprint(after) != fmt.Sprint(before) {
				t.Logf("FAIL: restore did not reverse archive for %s", target)
				return false
			}

			if _, err := s.Archive(ctx, "owner", target); err != nil {
				return false
			}
			if err := s.Purge(ctx, "owner", target); err != nil {
				return false
			}
			if _, err := s.Replace(ctx, "owner", "dev", upload); err != nil {
				return false
			}
			final, _ := s.List(ctx, "owner", nil)
			arch, _ = s.ListArchived(ctx, "owner")
			for _, p := range final {
				if p.ID == target {
					t.Logf("FAIL: purged %s reappeared", target)
					return false
				}
			}
			return len(final) == n-1 && len(arch) == 0
		},
		gen.IntRange(1, 12),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestValidateProducts(t *testing.T) {
	tests := []struct {
		name  string
		in    []types.Product
		field string
	}{
		{"ok", []types.Product{{URL: "u", Title: "t"}}, ""},
		{"no url", []types.Product{{Title: "t"}}, "url"},
		{"no title", []types.Product{{URL: "u"}}, "title"},
		{"empty batch", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProducts(tt.in)
			if tt.field == "" {
				if err != nil {
					t.Errorf("unexpected error %v", err)
				}
				return
			}
			var ve *types.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("expected %s ValidationError, got %v", tt.field, err)
			}
			if types.IsRetryable(err) {
				t.Error("validation errors must not be retryable")
			}
		})
	}
}
