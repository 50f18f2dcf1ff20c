package models

import "time"

// AlertCondition is the direction of a price alert predicate.
type AlertCondition string

const (
	// AlertAbove triggers when the observed price is >= the threshold.
	AlertAbove AlertCondition = "above"

	// AlertBelow triggers when the observed price is <= the threshold.
	AlertBelow AlertCondition = "below"
)

// AlertChannel identifies a delivery channel for triggered alerts.
type AlertChannel string

const (
	ChannelInApp AlertChannel = "in-app"
	ChannelEmail AlertChannel = "email"
	ChannelPush  AlertChannel = "push"
)

// Alert is a user-defined price threshold watch.
//
// Once triggered, Active flips to false and TriggeredAt is stamped exactly
// once; the record is never re-armed.
type Alert struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Ticker      string         `json:"ticker"`
	Condition   AlertCondition `json:"condition"`
	TargetPrice float64        `json:"target_price"`
	Channels    []AlertChannel `json:"channels"`
	Active      bool           `json:"active"`
	CreatedAt   time.Time      `json:"created_at"`
	TriggeredAt *time.Time     `json:"triggered_at,omitempty"`
}

// Satisfied reports whether the observed price meets the alert predicate.
func (a *Alert) Satisfied(observed float64) bool {
	switch a.Condition {
	case AlertAbove:
		return observed >= a.TargetPrice
	case AlertBelow:
		return observed <= a.TargetPrice
	default:
		return false
	}
}
