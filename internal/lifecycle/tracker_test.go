package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/adradar/internal/model"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func active() *model.Creative {
	return &model.Creative{CreativeHash: "h", IsActive: true, LastSeen: now.Add(-24 * time.Hour)}
}

func TestApply_Hysteresis(t *testing.T) {
	tr := NewTracker(0)
	c := active()

	assert.False(t, tr.Apply(c, nil, now).Changed())
	assert.True(t, c.IsActive)
	assert.Equal(t, 1, c.MissingCount)

	assert.False(t, tr.Apply(c, nil, now).Changed())
	assert.True(t, c.IsActive)
	assert.Equal(t, 2, c.MissingCount)

	res := tr.Apply(c, nil, now)
	assert.True(t, res.Deactivated)
	assert.False(t, c.IsActive)
	assert.Equal(t, 3, c.MissingCount)
	assert.Equal(t, model.DetectionMissCounter, c.DetectionMethod)

	// Further misses keep counting without another transition.
	assert.False(t, tr.Apply(c, nil, now).Changed())
	assert.Equal(t, 4, c.MissingCount)
}

func TestApply_HybridWhenPlatformSaidActive(t *testing.T) {
	tr := NewTracker(3)
	c := active()
	c.DeliveryStatus = model.DeliveryActive

	for range 3 {
		tr.Apply(c, nil, now)
	}
	assert.False(t, c.IsActive)
	assert.Equal(t, model.DetectionHybrid, c.DetectionMethod)
}

func TestApply_ReobservedResets(t *testing.T) {
	tr := NewTracker(3)
	c := active()
	for range 3 {
		tr.Apply(c, nil, now)
	}
	require.False(t, c.IsActive)

	res := tr.Apply(c, &Sighting{}, now)
	assert.True(t, res.Reactivated)
	assert.True(t, res.Observed)
	assert.True(t, c.IsActive)
	assert.Zero(t, c.MissingCount)
	assert.Equal(t, now, c.LastSeen)
	assert.Equal(t, model.DetectionMissCounter, c.DetectionMethod)
}

func TestApply_PositivePlatformSignal(t *testing.T) {
	tr := NewTracker(3)
	c := active()
	stop := now.Add(-time.Hour)
	c.DeliveryStopTime = &stop
	c.MissingCount = 2

	tr.Apply(c, &Sighting{Status: model.DeliveryActive}, now)
	assert.True(t, c.IsActive)
	assert.Zero(t, c.MissingCount)
	assert.Equal(t, model.DeliveryActive, c.DeliveryStatus)
	assert.Equal(t, model.DetectionPlatformStatus, c.DetectionMethod)
	assert.Nil(t, c.DeliveryStopTime)
}

func TestApply_PlatformInactiveOverrides(t *testing.T) {
	tr := NewTracker(3)
	c := active()
	require.Zero(t, c.MissingCount)

	stop := time.Date(2025, 5, 28, 0, 0, 0, 0, time.UTC)
	res := tr.Apply(c, &Sighting{Status: model.DeliveryInactive, StopTime: &stop}, now)
	assert.True(t, res.Deactivated)
	assert.False(t, c.IsActive)
	assert.Equal(t, model.DeliveryInactive, c.DeliveryStatus)
	assert.Equal(t, model.DetectionPlatformStatus, c.DetectionMethod)
	require.NotNil(t, c.DeliveryStopTime)
	assert.Equal(t, stop, *c.DeliveryStopTime)
	assert.Zero(t, c.MissingCount)
}

func TestApply_AlreadyInactiveMiss(t *testing.T) {
	tr := NewTracker(3)
	c := &model.Creative{CreativeHash: "h", MissingCount: 5, DetectionMethod: model.DetectionPlatformStatus}
	res := tr.Apply(c, nil, now)
	assert.False(t, res.Changed())
	assert.Equal(t, 6, c.MissingCount)
	assert.Equal(t, model.DetectionPlatformStatus, c.DetectionMethod)
}

func TestSightings_Add(t *testing.T) {
	s := Sightings{}
	s.Add("", Sighting{Status: model.DeliveryActive})
	assert.Empty(t, s)

	s.Add("h", Sighting{})
	s.Add("h", Sighting{Status: model.DeliveryActive})
	assert.Equal(t, model.DeliveryActive, s["h"].Status)
	s.Add("h", Sighting{Status: model.DeliveryInactive})
	s.Add("h", Sighting{})
	assert.Equal(t, model.DeliveryInactive, s["h"].Status)
}

type memRepo struct {
	rows     []model.Creative
	failNext bool
}

func (m *memRepo) Scan(_ context.Context, batchSize int, fn func([]model.Creative) error) error {
	for i := 0; i < len(m.rows); i += batchSize {
		end := min(i+batchSize, len(m.rows))
		if err := fn(append([]model.Creative(nil), m.rows[i:end]...)); err != nil {
			return err
		}
	}
	return nil
}

func (m *memRepo) UpdateLifecycle(_ context.Context, us []model.LifecycleUpdate) error {
	if m.failNext {
		m.failNext = false
		return errors.New("disk full")
	}
	for _, u := range us {
		for i := range m.rows {
			if m.rows[i].ID == u.ID {
				r := &m.rows[i]
				r.IsActive, r.MissingCount, r.LastSeen = u.IsActive, u.MissingCount, u.LastSeen
				r.DeliveryStatus, r.DeliveryStopTime, r.DetectionMethod = u.DeliveryStatus, u.DeliveryStopTime, u.DetectionMethod
			}
		}
	}
	return nil
}

func (m *memRepo) TouchLastSeen(_ context.Context, ids []int64, at time.Time) error {
	for _, id := range ids {
		for i := range m.rows {
			if m.rows[i].ID == id {
				m.rows[i].LastSeen = at
			}
		}
	}
	return nil
}

func TestRescan(t *testing.T) {
	repo := &memRepo{rows: []model.Creative{
		{ID: 1, CreativeHash: "seen", IsActive: true},
		{ID: 2, CreativeHash: "gone", IsActive: true, MissingCount: 2},
		{ID: 3, CreativeHash: "stopped", IsActive: true},
		{ID: 4, IsActive: true},
		{ID: 5, CreativeHash: "back", IsActive: false, MissingCount: 7},
	}}
	seen := Sightings{}
	seen.Add("seen", Sighting{Status: model.DeliveryActive})
	seen.Add("stopped", Sighting{Status: model.DeliveryInactive})
	seen.Add("back", Sighting{})

	summary, err := NewTracker(3).Rescan(context.Background(), repo, seen, 2, now)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Scanned)
	assert.Equal(t, 3, summary.Observed)
	assert.Equal(t, 1, summary.Missed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.Deactivated)
	assert.Equal(t, 1, summary.Reactivated)
	assert.Equal(t, 1, summary.PlatformInactive)
	assert.Zero(t, summary.Errors)

	assert.True(t, repo.rows[0].IsActive)
	assert.False(t, repo.rows[1].IsActive)
	assert.False(t, repo.rows[2].IsActive)
	assert.True(t, repo.rows[3].IsActive)
	assert.Zero(t, repo.rows[3].MissingCount)
	assert.True(t, repo.rows[4].IsActive)
	assert.Zero(t, repo.rows[4].MissingCount)
}

func TestRescan_WriteFailureIsCounted(t *testing.T) {
	repo := &memRepo{failNext: true, rows: []model.Creative{
		{ID: 1, CreativeHash: "a", IsActive: true},
		{ID: 2, CreativeHash: "b", IsActive: true},
	}}
	summary, err := NewTracker(3).Rescan(context.Background(), repo, Sightings{"other": {}}, 1, now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Zero(t, repo.rows[0].MissingCount)
	assert.Equal(t, 1, repo.rows[1].MissingCount)
}

func TestRescan_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := &memRepo{rows: []model.Creative{{ID: 1, CreativeHash: "a", IsActive: true}}}
	_, err := NewTracker(3).Rescan(ctx, repo, Sightings{"other": {}}, 10, now)
	require.Error(t, err)
	assert.Zero(t, repo.rows[0].MissingCount)
}

func TestTouch(t *testing.T) {
	old := now.Add(-48 * time.Hour)
	repo := &memRepo{rows: []model.Creative{
		{ID: 1, CreativeHash: "a", IsActive: true, LastSeen: old, MissingCount: 1},
		{ID: 2, CreativeHash: "b", IsActive: false, LastSeen: old},
		{ID: 3, CreativeHash: "c", IsActive: true, LastSeen: old},
	}}
	seen := Sightings{"a": {}, "b": {}}

	n, err := NewTracker(3).Touch(context.Background(), repo, seen, 10, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, now, repo.rows[0].LastSeen)
	assert.Equal(t, 1, repo.rows[0].MissingCount)
	assert.Equal(t, old, repo.rows[1].LastSeen)
	assert.Equal(t, old, repo.rows[2].LastSeen)
}

func TestRescan_EmptyScrapeIsRefused(t *testing.T) {
	repo := &memRepo{rows: []model.Creative{
		{ID: 1, CreativeHash: "a", IsActive: true, MissingCount: 2},
		{ID: 2, CreativeHash: "b", IsActive: true},
	}}
	tracker := NewTracker(3)
	for range 3 {
		summary, err := tracker.Rescan(context.Background(), repo, Sightings{}, 10, now)
		require.ErrorIs(t, err, ErrNoSightings)
		assert.Nil(t, summary)
	}
	assert.True(t, repo.rows[0].IsActive)
	assert.Equal(t, 2, repo.rows[0].MissingCount)
	assert.True(t, repo.rows[1].IsActive)
	assert.Zero(t, repo.rows[1].MissingCount)
}

func TestTouch_EmptyScrapeIsRefused(t *testing.T) {
	old := now.Add(-48 * time.Hour)
	repo := &memRepo{rows: []model.Creative{{ID: 1, CreativeHash: "a", IsActive: true, LastSeen: old}}}
	n, err := NewTracker(3).Touch(context.Background(), repo, nil, 10, now)
	require.ErrorIs(t, err, ErrNoSightings)
	assert.Zero(t, n)
	assert.Equal(t, old, repo.rows[0].LastSeen)
}

func TestStart_AlwaysActive(t *testing.T) {
	stop := now.Add(-24 * time.Hour)
	tests := []struct {
		name       string
		sighting   *Sighting
		wantStatus model.DeliveryStatus
		wantMethod model.DetectionMethod
		wantStop   bool
	}{
		{"no platform signal", &Sighting{}, "", model.DetectionMissCounter, false},
		{"platform active", &Sighting{Status: model.DeliveryActive}, model.DeliveryActive, model.DetectionPlatformStatus, false},
		{"platform inactive", &Sighting{Status: model.DeliveryInactive, StopTime: &stop}, model.DeliveryInactive, model.DetectionMissCounter, true},
		{"no sighting", nil, "", model.DetectionMissCounter, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &model.Creative{CreativeHash: "h"}
			NewTracker(3).Start(c, tt.sighting, now)
			assert.True(t, c.IsActive)
			assert.Zero(t, c.MissingCount)
			assert.Equal(t, now, c.LastSeen)
			assert.Equal(t, tt.wantStatus, c.DeliveryStatus)
			assert.Equal(t, tt.wantMethod, c.DetectionMethod)
			assert.Equal(t, tt.wantStop, c.DeliveryStopTime != nil)
		})
	}
}

func TestStart_InactiveAppliesOnNextPass(t *testing.T) {
	tracker := NewTracker(3)
	c := &model.Creative{CreativeHash: "h"}
	tracker.Start(c, &Sighting{Status: model.DeliveryInactive}, now)
	require.True(t, c.IsActive)

	tr := tracker.Apply(c, &Sighting{Status: model.DeliveryInactive}, now.Add(time.Hour))
	assert.True(t, tr.Deactivated)
	assert.False(t, c.IsActive)
	assert.Equal(t, model.DetectionPlatformStatus, c.DetectionMethod)
}
