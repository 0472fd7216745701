package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/adradar/internal/model"
	"github.com/sells-group/adradar/internal/store"
	"github.com/sells-group/adradar/internal/traffic"
)

type fakeEstimator struct {
	visits  int64
	fail    bool
	domains []string
}

func (f *fakeEstimator) Estimate(_ context.Context, domain string) (traffic.Result, error) {
	f.domains = append(f.domains, domain)
	if f.fail {
		return traffic.Failed(domain), nil
	}
	v := f.visits
	return traffic.Result{Domain: domain, Status: traffic.StatusOK, Visits: &v}, nil
}

type fakeResolver map[string]string

func (f fakeResolver) Domain(_ context.Context, landingURL string) string {
	return f[landingURL]
}

type fakeDetector struct {
	platform string
	err      error
	calls    int
}

func (f *fakeDetector) Detect(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.platform, f.err
}

// failingStore rejects every insert.
type failingStore struct {
	store.Store
}

func (failingStore) Insert(_ context.Context, _ *model.Creative) error {
	return errors.New("disk full")
}

// staleSiblingStore interleaves two workers on one content hash: the first
// ListByHash for hash returns only after a merge into a sibling with that
// hash committed, and that merge waits until the listing was read. The
// listing a worker then acts on is stale.
type staleSiblingStore struct {
	store.Store
	hash   string
	armed  atomic.Bool
	read   chan struct{}
	merged chan struct{}
	readOnce, mergeOnce sync.Once
}

func newStaleSiblingStore(s store.Store, hash string) *staleSiblingStore {
	return &staleSiblingStore{Store: s, hash: hash, read: make(chan struct{}), merged: make(chan struct{})}
}

func (g *staleSiblingStore) ListByHash(ctx context.Context, hash string) ([]model.Creative, error) {
	rows, err := g.Store.ListByHash(ctx, hash)
	if g.armed.Load() && hash == g.hash {
		g.readOnce.Do(func() { close(g.read) })
		waitFor(ctx, g.merged)
	}
	return rows, err
}

func (g *staleSiblingStore) Update(ctx context.Context, c *model.Creative) error {
	if g.armed.Load() && c.CreativeHash == g.hash {
		waitFor(ctx, g.read)
	}
	err := g.Store.Update(ctx, c)
	if err == nil && g.armed.Load() && c.CreativeHash == g.hash {
		g.mergeOnce.Do(func() { close(g.merged) })
	}
	return err
}

func waitFor(ctx context.Context, ch <-chan struct{}) {
	select {
	case <-ch:
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
	}
}
