package model

import "time"

// OpportunityCard is the per-product rollup of every creative that shares a
// product hash (landing domain plus visual fingerprint prefix).
type OpportunityCard struct {
	ProductHash     string    `json:"product_hash"`
	Domain          string    `json:"domain"`
	ProductName     string    `json:"product_name,omitempty"`
	Category        string    `json:"category,omitempty"`
	Score           int       `json:"score"`
	Stars           int       `json:"stars"`
	CreativeCount   int       `json:"creative_count"`
	ActiveCount     int       `json:"active_count"`
	PriceBand       string    `json:"price_band,omitempty"`
	RecommendedGeos []string  `json:"recommended_geos"`
	Reasons         []string  `json:"reasons"`
	UpdatedAt       time.Time `json:"updated_at"`
}
