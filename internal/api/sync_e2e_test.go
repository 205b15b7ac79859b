package api

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/CartKeeper/internal/store"
	"github.com/IshaanNene/CartKeeper/internal/syncclient"
	"github.com/IshaanNene/CartKeeper/internal/syncer"
	"github.com/IshaanNene/CartKeeper/internal/types"
)

type device struct {
	local  *store.Store
	engine *syncer.Engine
}

func newDevice(t *testing.T, h *harness) device {
	t.Helper()
	local, err := store.Open(filepath.Join(t.TempDir(), "cache.json"), testLogger)
	require.NoError(t, err)
	client := syncclient.New(syncclient.Options{BaseURL: h.srv.URL, Token: h.token, RequestsPerSecond: 100, Burst: 10}, testLogger)
	return device{local: local, engine: syncer.NewEngine(local, client, h.metrics, testLogger)}
}

func TestDevicesConvergeThroughAPI(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	phone := newDevice(t, h)
	laptop := newDevice(t, h)

	saved, err := phone.local.Add(types.Product{URL: "https://shop.test/lamp", Title: "Lamp", Price: "$40.00", Category: "Home Decor"})
	require.NoError(t, err)
	_, err = phone.engine.Sync(ctx, syncer.StrategyReplace)
	require.NoError(t, err)

	_, err = laptop.engine.Sync(ctx, syncer.StrategyMergeOnly)
	require.NoError(t, err)
	got, err := laptop.local.Get(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lamp", got.Title)
	assert.Equal(t, "home-decor", got.Category)
	assert.Equal(t, phone.local.DeviceID(), got.DeviceSource)

	// Timestamps have millisecond precision; make sure the edit is newer.
	time.Sleep(5 * time.Millisecond)
	_, err = laptop.local.Update(saved.ID, func(p *types.Product) { p.Title = "Brass Lamp" })
	require.NoError(t, err)
	_, err = laptop.engine.Sync(ctx, syncer.StrategyReplace)
	require.NoError(t, err)

	_, err = phone.engine.Sync(ctx, syncer.StrategyReplace)
	require.NoError(t, err)
	got, err = phone.local.Get(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Brass Lamp", got.Title)
	assert.Equal(t, laptop.local.DeviceID(), got.DeviceSource)

	// Archiving on the server removes the product from both devices.
	resp := h.do(t, "POST", "/products/"+saved.ID+"/archive", h.token, nil)
	require.Equal(t, 200, resp.StatusCode)
	for _, d := range []device{phone, laptop} {
		res, err := d.engine.Sync(ctx, syncer.StrategyReplace)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Removed)
		assert.Empty(t, d.local.Products())
	}
}

func TestAuthFailureSurfacesFromSync(t *testing.T) {
	h := newHarness(t)
	h.token = "expired-or-bogus"
	d := newDevice(t, h)

	_, err := d.engine.Sync(context.Background(), syncer.StrategyReplace)
	var ae *types.AuthError
	require.ErrorAs(t, err, &ae)
	assert.False(t, types.IsRetryable(err))
}
