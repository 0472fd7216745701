package model

import (
	"strings"
	"time"
)

// Observation is one raw scrape of an ad from the ad library. Every field
// except the advertiser is optional; absent values are empty strings or nil.
type Observation struct {
	Platform       string `json:"platform,omitempty"`
	AdvertiserName string `json:"advertiser_name" validate:"max=512"`
	AdvertiserURL  string `json:"advertiser_url,omitempty" validate:"omitempty,url"`
	PageID         string `json:"page_id,omitempty"`
	Caption        string `json:"caption,omitempty"`
	LandingURL     string `json:"landing_url,omitempty" validate:"omitempty,url"`
	VideoURL       string `json:"video_url,omitempty" validate:"omitempty,url"`
	ImageURL       string `json:"image_url,omitempty" validate:"omitempty,url"`
	PosterURL      string `json:"poster_url,omitempty" validate:"omitempty,url"`
	CTAText        string `json:"cta_text,omitempty"`

	StartedRunning   string         `json:"started_running,omitempty"`
	DeliveryStatus   DeliveryStatus `json:"delivery_status,omitempty" validate:"omitempty,oneof=ACTIVE INACTIVE"`
	DeliveryStopTime string         `json:"delivery_stop_time,omitempty"`

	SearchQuery   string `json:"search_query,omitempty"`
	Country       string `json:"country,omitempty" validate:"omitempty,alpha,min=2,max=3"`
	ProductName   string `json:"product_name,omitempty"`
	ProductPrice  string `json:"product_price,omitempty"`
	PlatformType  string `json:"platform_type,omitempty"`
	MonthlyVisits *int64 `json:"monthly_visits,omitempty" validate:"omitempty,gte=0"`

	ObservedAt time.Time `json:"observed_at,omitempty"`
}

// PlatformOrDefault returns the observation's platform, defaulting to meta.
func (o *Observation) PlatformOrDefault() string {
	if p := strings.TrimSpace(o.Platform); p != "" {
		return strings.ToLower(p)
	}
	return PlatformMeta
}

// MediaURL returns the primary media reference: video, then image, then poster.
func (o *Observation) MediaURL() string {
	switch {
	case o.VideoURL != "":
		return o.VideoURL
	case o.ImageURL != "":
		return o.ImageURL
	default:
		return o.PosterURL
	}
}

// HasCreative reports whether any creative content is present.
func (o *Observation) HasCreative() bool {
	return strings.TrimSpace(o.VideoURL) != "" ||
		strings.TrimSpace(o.ImageURL) != "" ||
		strings.TrimSpace(o.Caption) != ""
}
