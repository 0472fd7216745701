package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/adradar/internal/gate"
	"github.com/sells-group/adradar/internal/model"
	"github.com/sells-group/adradar/internal/store"
)

func seedCleanup(t *testing.T) store.Store {
	t.Helper()
	cfg = testConfig(t)
	st, err := openStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, c := range []model.Creative{
		{CreativeHash: "h1", AdvertiserName: "Desk Co", LandingURL: "https://desk.example/products/lamp", VideoURL: "https://cdn.example/1.mp4"},
		{CreativeHash: "h2", AdvertiserName: "App Co", LandingURL: "https://apps.apple.com/app/id42", VideoURL: "https://cdn.example/2.mp4"},
		{CreativeHash: "h3", AdvertiserName: "Sock Co", LandingURL: "https://socks.example", ProductName: "Sign in"},
	} {
		c := c
		c.Platform = model.PlatformMeta
		c.FirstSeen, c.LastSeen, c.IsActive = now, now, true
		require.NoError(t, st.Insert(context.Background(), &c))
	}
	return st
}

func TestRunCleanup_DryRun(t *testing.T) {
	st := seedCleanup(t)
	g, err := initGate()
	require.NoError(t, err)

	res, err := runCleanup(context.Background(), st, g, 2, true)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, 1, res.Failing[gate.ReasonMarketplace])
	assert.Equal(t, 1, res.Failing[gate.ReasonBrokenPage])
	assert.Equal(t, int64(0), res.Deleted)

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRunCleanup_Deletes(t *testing.T) {
	st := seedCleanup(t)
	g, err := initGate()
	require.NoError(t, err)

	res, err := runCleanup(context.Background(), st, g, 2, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Deleted)

	kept, err := st.FindByHash(context.Background(), "h1")
	require.NoError(t, err)
	require.NotNil(t, kept)

	gone, err := st.FindByHash(context.Background(), "h2")
	require.NoError(t, err)
	assert.Nil(t, gone)

	// A second run finds nothing left to delete.
	res, err = runCleanup(context.Background(), st, g, 2, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, int64(0), res.Deleted)
}
