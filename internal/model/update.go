package model

import "time"

// ScoreUpdate carries the derived columns a rescore writes. Nothing else on
// the row is touched, so concurrent merges into the same record survive.
type ScoreUpdate struct {
	ID           int64
	VariantCount int
	TotalScore   int
	Stars        int
}

// ScoreUpdateOf projects c's derived columns.
func ScoreUpdateOf(c *Creative) ScoreUpdate {
	return ScoreUpdate{ID: c.ID, VariantCount: c.VariantCount, TotalScore: c.TotalScore, Stars: c.Stars}
}

// LifecycleUpdate carries the activity columns a lifecycle pass owns.
type LifecycleUpdate struct {
	ID               int64
	IsActive         bool
	MissingCount     int
	LastSeen         time.Time
	DeliveryStatus   DeliveryStatus
	DeliveryStopTime *time.Time
	DetectionMethod  DetectionMethod
}

// LifecycleUpdateOf projects c's activity columns.
func LifecycleUpdateOf(c *Creative) LifecycleUpdate {
	return LifecycleUpdate{
		ID:               c.ID,
		IsActive:         c.IsActive,
		MissingCount:     c.MissingCount,
		LastSeen:         c.LastSeen,
		DeliveryStatus:   c.DeliveryStatus,
		DeliveryStopTime: c.DeliveryStopTime,
		DetectionMethod:  c.DetectionMethod,
	}
}

// FillUpdate carries values the enrichment pass shares into a record.
// Zero fields are ignored, and a value only lands on a column that is still
// empty (platform_type: still generic) when the write happens.
type FillUpdate struct {
	ID            int64
	Category      string
	ProductPrice  string
	PlatformType  string
	MonthlyVisits *int64
}
