package models

import "time"

// NotificationType tags the category of a notification.
type NotificationType string

const (
	NotificationPriceAlert NotificationType = "price_alert"
	NotificationWorkflow   NotificationType = "workflow"
	NotificationSystem     NotificationType = "system"
)

// Notification is an append-only message for a user. Only the Read flag is
// ever mutated after creation.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Data      map[string]any   `json:"data,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}
