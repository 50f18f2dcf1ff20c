// Package alerts evaluates user price alerts against observed quotes and
// delivers trigger notifications.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/stockd/internal/storage"
	"github.com/haasonsaas/stockd/pkg/models"
)

// Notifier pushes a notification to a user's live connections. The returned
// count is the number of connections reached; zero is not an error.
type Notifier interface {
	SendNotification(userID string, n *models.Notification) int
}

// Evaluator matches observed prices against active alerts. Triggering is
// single-shot: the store's MarkTriggered compare-and-swap decides the winner
// when the same alert is evaluated concurrently.
type Evaluator struct {
	alerts        storage.AlertStore
	notifications storage.NotificationStore
	notifier      Notifier
	logger        *slog.Logger
}

// NewEvaluator constructs an alert evaluator. notifier may be nil; triggered
// alerts are then persisted but not pushed.
func NewEvaluator(alerts storage.AlertStore, notifications storage.NotificationStore, notifier Notifier, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		alerts:        alerts,
		notifications: notifications,
		notifier:      notifier,
		logger:        logger.With("component", "alerts"),
	}
}

// CheckTicker evaluates every active alert on the ticker against the observed
// price and returns the alerts that fired.
func (e *Evaluator) CheckTicker(ctx context.Context, ticker string, observed float64) ([]*models.Alert, error) {
	active, err := e.alerts.ListActiveByTicker(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("list alerts for %s: %w", ticker, err)
	}

	var fired []*models.Alert
	for _, alert := range active {
		if !alert.Satisfied(observed) {
			continue
		}
		triggered, err := e.trigger(ctx, alert, observed)
		if err != nil {
			e.logger.Error("alert trigger failed", "alert_id", alert.ID, "error", err)
			continue
		}
		if triggered {
			fired = append(fired, alert)
		}
	}
	return fired, nil
}

// CheckPrices evaluates a batch of observed prices, as produced by the price
// ticker loop.
func (e *Evaluator) CheckPrices(ctx context.Context, prices map[string]*models.PriceSnapshot) {
	for ticker, snapshot := range prices {
		if snapshot == nil {
			continue
		}
		if _, err := e.CheckTicker(ctx, ticker, snapshot.Price); err != nil {
			e.logger.Error("alert evaluation failed", "ticker", ticker, "error", err)
		}
	}
}

// trigger flips the alert via the store CAS; only the winning evaluation
// emits the notification.
func (e *Evaluator) trigger(ctx context.Context, alert *models.Alert, observed float64) (bool, error) {
	won, err := e.alerts.MarkTriggered(ctx, alert.ID)
	if err != nil {
		return false, fmt.Errorf("mark triggered: %w", err)
	}
	if !won {
		return false, nil
	}

	now := time.Now()
	alert.Active = false
	alert.TriggeredAt = &now

	notification := &models.Notification{
		ID:     uuid.NewString(),
		UserID: alert.UserID,
		Type:   models.NotificationPriceAlert,
		Title:  fmt.Sprintf("%s %s %.2f", alert.Ticker, alert.Condition, alert.TargetPrice),
		Body:   fmt.Sprintf("%s traded at %.2f, crossing your %s %.2f alert", alert.Ticker, observed, alert.Condition, alert.TargetPrice),
		Data: map[string]any{
			"alert_id":     alert.ID,
			"ticker":       alert.Ticker,
			"condition":    string(alert.Condition),
			"threshold":    alert.TargetPrice,
			"observed":     observed,
			"triggered_at": now,
			// Delivery workers route on the alert's channel set.
			"channels": alert.Channels,
		},
		CreatedAt: now,
	}
	if err := e.notifications.Create(ctx, notification); err != nil {
		// The alert is already spent; losing the record would drop the
		// notification silently, so surface the failure.
		return true, fmt.Errorf("persist notification: %w", err)
	}

	if e.notifier != nil && deliversInApp(alert) {
		reached := e.notifier.SendNotification(alert.UserID, notification)
		e.logger.Info("alert triggered",
			"alert_id", alert.ID,
			"ticker", alert.Ticker,
			"observed", observed,
			"connections", reached)
	} else {
		e.logger.Info("alert triggered", "alert_id", alert.ID, "ticker", alert.Ticker, "observed", observed)
	}
	return true, nil
}

func deliversInApp(alert *models.Alert) bool {
	if len(alert.Channels) == 0 {
		return true
	}
	for _, ch := range alert.Channels {
		if ch == models.ChannelInApp {
			return true
		}
	}
	return false
}
