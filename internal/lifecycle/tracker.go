// Package lifecycle decides whether each creative is still running, combining
// the platform's reported delivery status with a consecutive-miss counter.
package lifecycle

import (
	"time"

	"github.com/sells-group/adradar/internal/model"
)

// DefaultMissThreshold is the number of consecutive passes a creative may go
// unobserved before it is considered stopped.
const DefaultMissThreshold = 3

// Sighting is what one pass saw for a creative. A nil *Sighting means the
// creative was not observed in the pass.
type Sighting struct {
	Status   model.DeliveryStatus
	StopTime *time.Time
}

// Transition describes what Apply did to a creative.
type Transition struct {
	Observed    bool
	Deactivated bool
	Reactivated bool
}

// Changed reports whether the active flag flipped.
func (t Transition) Changed() bool {
	return t.Deactivated || t.Reactivated
}

// Tracker applies the two-layer state machine.
type Tracker struct {
	threshold int
}

// NewTracker returns a Tracker. A non-positive threshold uses the default.
func NewTracker(threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultMissThreshold
	}
	return &Tracker{threshold: threshold}
}

// Threshold returns the miss count that deactivates a creative.
func (t *Tracker) Threshold() int {
	return t.threshold
}

// Apply runs one pass of the state machine for c, mutating it in place.
// Rules, highest precedence first:
//  1. platform reports INACTIVE: inactive via platform_status
//  2. observed: reset misses, active, method from the platform signal
//  3. not observed: count a miss; deactivate at the threshold
func (t *Tracker) Apply(c *model.Creative, s *Sighting, now time.Time) Transition {
	wasActive := c.IsActive

	if s == nil {
		c.MissingCount++
		if c.MissingCount >= t.threshold && c.IsActive {
			c.IsActive = false
			if c.DeliveryStatus == model.DeliveryActive {
				// Platform last said running; the misses contradict it.
				c.DetectionMethod = model.DetectionHybrid
			} else {
				c.DetectionMethod = model.DetectionMissCounter
			}
		}
		return Transition{Deactivated: wasActive && !c.IsActive}
	}

	c.MissingCount = 0
	c.LastSeen = now

	switch s.Status {
	case model.DeliveryInactive:
		c.IsActive = false
		c.DeliveryStatus = model.DeliveryInactive
		c.DetectionMethod = model.DetectionPlatformStatus
		if s.StopTime != nil {
			stop := *s.StopTime
			c.DeliveryStopTime = &stop
		}
	case model.DeliveryActive:
		c.IsActive = true
		c.DeliveryStatus = model.DeliveryActive
		c.DeliveryStopTime = nil
		c.DetectionMethod = model.DetectionPlatformStatus
	default:
		c.IsActive = true
		c.DetectionMethod = model.DetectionMissCounter
	}

	return Transition{
		Observed:    true,
		Deactivated: wasActive && !c.IsActive,
		Reactivated: !wasActive && c.IsActive,
	}
}

// Start sets the state of a newly created creative. Every creative begins
// ACTIVE; a platform INACTIVE report is recorded and takes effect on the
// next pass that sees it.
func (t *Tracker) Start(c *model.Creative, s *Sighting, now time.Time) {
	c.IsActive = true
	c.MissingCount = 0
	c.LastSeen = now
	c.DetectionMethod = model.DetectionMissCounter
	if s == nil {
		return
	}
	switch s.Status {
	case model.DeliveryActive:
		c.DeliveryStatus = model.DeliveryActive
		c.DetectionMethod = model.DetectionPlatformStatus
	case model.DeliveryInactive:
		c.DeliveryStatus = model.DeliveryInactive
		if s.StopTime != nil {
			stop := *s.StopTime
			c.DeliveryStopTime = &stop
		}
	}
}
