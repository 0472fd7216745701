package model

import (
	"time"
)

// PlatformMeta is the ad-library platform observations are scraped from.
const PlatformMeta = "meta"

// DeliveryStatus is the delivery state the ad platform reports for a creative.
type DeliveryStatus string

const (
	DeliveryUnknown  DeliveryStatus = ""
	DeliveryActive   DeliveryStatus = "ACTIVE"
	DeliveryInactive DeliveryStatus = "INACTIVE"
)

// DetectionMethod records which lifecycle layer last decided a creative's state.
type DetectionMethod string

const (
	DetectionNone           DetectionMethod = ""
	DetectionPlatformStatus DetectionMethod = "platform_status"
	DetectionMissCounter    DetectionMethod = "miss_counter_based"
	DetectionHybrid         DetectionMethod = "hybrid"
)

// DedupKey identifies "the same record" across observations: an observation
// matching an existing key updates that record instead of inserting.
type DedupKey struct {
	Platform   string
	LandingURL string
	VideoKey   string
}

// Empty reports whether the key carries no media, in which case no lookup
// is possible and the observation always inserts.
func (k DedupKey) Empty() bool {
	return k.VideoKey == ""
}

// Creative is one distinct ad unit as persisted by the repository.
type Creative struct {
	ID           int64  `json:"id"`
	CreativeHash string `json:"creative_hash,omitempty"`
	Platform     string `json:"platform"`

	AdvertiserName string `json:"advertiser_name"`
	PageID         string `json:"page_id,omitempty"`
	Caption        string `json:"caption,omitempty"`
	LandingURL     string `json:"landing_url,omitempty"`
	Domain         string `json:"domain,omitempty"`
	VideoURL       string `json:"video_url,omitempty"`
	VideoKey       string `json:"-"`
	ImageURL       string `json:"image_url,omitempty"`
	Country        string `json:"country,omitempty"`
	SearchQuery    string `json:"search_query,omitempty"`

	ProductName   string `json:"product_name,omitempty"`
	ProductPrice  string `json:"product_price,omitempty"`
	PlatformType  string `json:"platform_type,omitempty"`
	Category      string `json:"category,omitempty"`
	MonthlyVisits *int64 `json:"monthly_visits"`
	IsSparkAd     bool   `json:"is_spark_ad"`
	ProductHash   string `json:"product_hash,omitempty"`

	FirstSeen        time.Time  `json:"first_seen"`
	LastSeen         time.Time  `json:"last_seen"`
	StartedRunningOn *time.Time `json:"started_running_on,omitempty"`

	IsActive         bool            `json:"is_active"`
	MissingCount     int             `json:"missing_count"`
	DeliveryStatus   DeliveryStatus  `json:"delivery_status,omitempty"`
	DeliveryStopTime *time.Time      `json:"delivery_stop_time,omitempty"`
	DetectionMethod  DetectionMethod `json:"detection_method,omitempty"`

	VariantCount int `json:"creative_variant_count"`
	TotalScore   int `json:"total_score"`
	Stars        int `json:"stars"`
}

// Key returns the record-identity key for c.
func (c *Creative) Key() DedupKey {
	return DedupKey{Platform: c.Platform, LandingURL: c.LandingURL, VideoKey: c.VideoKey}
}

// DaysRunning returns whole days the creative has been running as of now.
// The platform-reported start date wins over first_seen.
func (c *Creative) DaysRunning(now time.Time) int {
	start := c.FirstSeen
	if c.StartedRunningOn != nil {
		start = *c.StartedRunningOn
	}
	if start.IsZero() || now.Before(start) {
		return 0
	}
	return int(now.Sub(start).Hours() / 24)
}

// Duplicates returns the variant count excluding the creative itself.
func (c *Creative) Duplicates() int {
	n := c.VariantCount
	if n < 1 {
		n = 1
	}
	return n - 1
}
