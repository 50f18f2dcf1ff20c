// Package storage defines the persistence interfaces for the stockd backend
// and provides Postgres-backed and in-memory implementations.
package storage

import (
	"context"
	"errors"

	"github.com/haasonsaas/stockd/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// UserStore persists registered users.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	Get(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// AlertStore persists price alerts.
type AlertStore interface {
	Create(ctx context.Context, alert *models.Alert) error
	Get(ctx context.Context, id string) (*models.Alert, error)
	ListActive(ctx context.Context, userID string) ([]*models.Alert, error)
	ListActiveByTicker(ctx context.Context, ticker string) ([]*models.Alert, error)

	// MarkTriggered atomically flips Active to false and stamps TriggeredAt.
	// It returns false when the alert was already triggered or inactive, which
	// makes the trigger transition single-shot.
	MarkTriggered(ctx context.Context, id string) (bool, error)

	Delete(ctx context.Context, id string) error
}

// NotificationStore persists notifications. Records are append-only apart
// from the read flag.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, userID string, limit, offset int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, id string) error
}

// WorkflowStore persists workflow definitions. Definitions are immutable
// after creation apart from the active flag.
type WorkflowStore interface {
	Create(ctx context.Context, def *models.WorkflowDefinition) error
	Get(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	List(ctx context.Context, userID string) ([]*models.WorkflowDefinition, error)
	ListScheduled(ctx context.Context) ([]*models.WorkflowDefinition, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// ExecutionStore persists workflow execution records. All writes are
// idempotent by execution ID.
type ExecutionStore interface {
	Create(ctx context.Context, exec *models.WorkflowExecution) error
	Get(ctx context.Context, id string) (*models.WorkflowExecution, error)
	List(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error)
	Update(ctx context.Context, exec *models.WorkflowExecution) error
}

// PortfolioStore persists stock positions and allocation targets.
type PortfolioStore interface {
	Positions(ctx context.Context, userID string) ([]*models.Position, error)
	Targets(ctx context.Context, userID string) (map[string]float64, error)
	AddPosition(ctx context.Context, pos *models.Position) error
}

// StoreSet groups the storage dependencies handed to the composition root.
type StoreSet struct {
	Users         UserStore
	Alerts        AlertStore
	Notifications NotificationStore
	Workflows     WorkflowStore
	Executions    ExecutionStore
	Portfolios    PortfolioStore

	closer func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
