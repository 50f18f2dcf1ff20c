package models

import "time"

// Position is a single holding in a user's portfolio.
type Position struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Ticker    string    `json:"ticker"`
	Shares    float64   `json:"shares"`
	CostBasis float64   `json:"cost_basis"`
	CreatedAt time.Time `json:"created_at"`
}

// Portfolio groups a user's positions with optional target allocations.
type Portfolio struct {
	UserID    string     `json:"user_id"`
	Positions []Position `json:"positions"`

	// Targets maps ticker to desired allocation fraction (sums to <= 1).
	Targets map[string]float64 `json:"targets,omitempty"`
}
