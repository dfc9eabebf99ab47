package models

import "time"

// RecommendedBook pairs a candidate with its accumulated affinity score.
type RecommendedBook struct {
	Book  Book    `json:"book"`
	Score float64 `json:"score"`
}

// RecommendationSet is the cached per-user recommendation payload. Source
// records which path produced the ordering.
type RecommendationSet struct {
	UserID      string            `json:"user_id"`
	Source      string            `json:"source"`
	GeneratedAt time.Time         `json:"generated_at"`
	Items       []RecommendedBook `json:"items"`
}

// Recommendation sources.
const (
	RecommendationSourceEngine   = "engine"
	RecommendationSourcePopular  = "popular"
	RecommendationSourceAssisted = "assisted"
)
