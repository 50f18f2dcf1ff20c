package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/stockd/pkg/models"
)

// NewMemoryStores creates a fully in-memory StoreSet for tests and local
// development.
func NewMemoryStores() StoreSet {
	return StoreSet{
		Users:         NewMemoryUserStore(),
		Alerts:        NewMemoryAlertStore(),
		Notifications: NewMemoryNotificationStore(),
		Workflows:     NewMemoryWorkflowStore(),
		Executions:    NewMemoryExecutionStore(),
		Portfolios:    NewMemoryPortfolioStore(),
	}
}

// MemoryUserStore provides an in-memory UserStore.
type MemoryUserStore struct {
	mu      sync.RWMutex
	users   map[string]*models.User
	byEmail map[string]string
}

// NewMemoryUserStore creates an in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users:   make(map[string]*models.User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryUserStore) Create(ctx context.Context, user *models.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("user is required")
	}
	email := strings.ToLower(user.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[email]; exists {
		return ErrAlreadyExists
	}
	clone := *user
	clone.Email = email
	s.users[user.ID] = &clone
	s.byEmail[email] = user.ID
	return nil
}

func (s *MemoryUserStore) Get(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (s *MemoryUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *s.users[id]
	return &clone, nil
}

// MemoryAlertStore provides an in-memory AlertStore.
type MemoryAlertStore struct {
	mu     sync.RWMutex
	alerts map[string]*models.Alert
}

// NewMemoryAlertStore creates an in-memory alert store.
func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{alerts: make(map[string]*models.Alert)}
}

func (s *MemoryAlertStore) Create(ctx context.Context, alert *models.Alert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("alert is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.alerts[alert.ID]; exists {
		return ErrAlreadyExists
	}
	clone := *alert
	s.alerts[alert.ID] = &clone
	return nil
}

func (s *MemoryAlertStore) Get(ctx context.Context, id string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *alert
	return &clone, nil
}

func (s *MemoryAlertStore) ListActive(ctx context.Context, userID string) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Alert
	for _, alert := range s.alerts {
		if alert.Active && alert.UserID == userID {
			clone := *alert
			out = append(out, &clone)
		}
	}
	sortAlerts(out)
	return out, nil
}

func (s *MemoryAlertStore) ListActiveByTicker(ctx context.Context, ticker string) ([]*models.Alert, error) {
	ticker = strings.ToUpper(ticker)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Alert
	for _, alert := range s.alerts {
		if alert.Active && strings.ToUpper(alert.Ticker) == ticker {
			clone := *alert
			out = append(out, &clone)
		}
	}
	sortAlerts(out)
	return out, nil
}

func (s *MemoryAlertStore) MarkTriggered(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok {
		return false, ErrNotFound
	}
	if !alert.Active {
		return false, nil
	}
	now := time.Now()
	alert.Active = false
	alert.TriggeredAt = &now
	return true, nil
}

func (s *MemoryAlertStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[id]; !ok {
		return ErrNotFound
	}
	delete(s.alerts, id)
	return nil
}

func sortAlerts(alerts []*models.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
	})
}

// MemoryNotificationStore provides an in-memory NotificationStore.
type MemoryNotificationStore struct {
	mu            sync.RWMutex
	notifications []*models.Notification
}

// NewMemoryNotificationStore creates an in-memory notification store.
func NewMemoryNotificationStore() *MemoryNotificationStore {
	return &MemoryNotificationStore{}
}

func (s *MemoryNotificationStore) Create(ctx context.Context, n *models.Notification) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("notification is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *n
	s.notifications = append(s.notifications, &clone)
	return nil
}

func (s *MemoryNotificationStore) List(ctx context.Context, userID string, limit, offset int) ([]*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*models.Notification
	// Newest first.
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if s.notifications[i].UserID == userID {
			clone := *s.notifications[i]
			matched = append(matched, &clone)
		}
	}
	if offset > 0 {
		if offset >= len(matched) {
			return nil, nil
		}
		matched = matched[offset:]
	}
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryNotificationStore) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if n.ID == id {
			n.Read = true
			return nil
		}
	}
	return ErrNotFound
}

// MemoryWorkflowStore provides an in-memory WorkflowStore.
type MemoryWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]*models.WorkflowDefinition
}

// NewMemoryWorkflowStore creates an in-memory workflow store.
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{workflows: make(map[string]*models.WorkflowDefinition)}
}

func (s *MemoryWorkflowStore) Create(ctx context.Context, def *models.WorkflowDefinition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("workflow definition is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[def.ID]; exists {
		return ErrAlreadyExists
	}
	clone := *def
	s.workflows[def.ID] = &clone
	return nil
}

func (s *MemoryWorkflowStore) Get(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *def
	return &clone, nil
}

func (s *MemoryWorkflowStore) List(ctx context.Context, userID string) ([]*models.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WorkflowDefinition
	for _, def := range s.workflows {
		if def.UserID == userID {
			clone := *def
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryWorkflowStore) ListScheduled(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WorkflowDefinition
	for _, def := range s.workflows {
		if def.IsActive && def.Cron != "" {
			clone := *def
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryWorkflowStore) SetActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.workflows[id]
	if !ok {
		return ErrNotFound
	}
	def.IsActive = active
	return nil
}

// MemoryExecutionStore provides an in-memory ExecutionStore.
type MemoryExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]*models.WorkflowExecution
}

// NewMemoryExecutionStore creates an in-memory execution store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{executions: make(map[string]*models.WorkflowExecution)}
}

func (s *MemoryExecutionStore) Create(ctx context.Context, exec *models.WorkflowExecution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Idempotent by execution ID: re-creating overwrites the same row.
	clone := *exec
	s.executions[exec.ID] = &clone
	return nil
}

func (s *MemoryExecutionStore) Get(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *exec
	return &clone, nil
}

func (s *MemoryExecutionStore) List(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.WorkflowExecution
	for _, exec := range s.executions {
		if exec.WorkflowID == workflowID {
			clone := *exec
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryExecutionStore) Update(ctx context.Context, exec *models.WorkflowExecution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; !ok {
		return ErrNotFound
	}
	clone := *exec
	s.executions[exec.ID] = &clone
	return nil
}

// MemoryPortfolioStore provides an in-memory PortfolioStore.
type MemoryPortfolioStore struct {
	mu        sync.RWMutex
	positions map[string][]*models.Position
	targets   map[string]map[string]float64
}

// NewMemoryPortfolioStore creates an in-memory portfolio store.
func NewMemoryPortfolioStore() *MemoryPortfolioStore {
	return &MemoryPortfolioStore{
		positions: make(map[string][]*models.Position),
		targets:   make(map[string]map[string]float64),
	}
}

func (s *MemoryPortfolioStore) Positions(ctx context.Context, userID string) ([]*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Position, 0, len(s.positions[userID]))
	for _, pos := range s.positions[userID] {
		clone := *pos
		out = append(out, &clone)
	}
	return out, nil
}

func (s *MemoryPortfolioStore) Targets(ctx context.Context, userID string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.targets[userID]))
	for ticker, frac := range s.targets[userID] {
		out[ticker] = frac
	}
	return out, nil
}

func (s *MemoryPortfolioStore) AddPosition(ctx context.Context, pos *models.Position) error {
	if pos == nil || pos.ID == "" {
		return fmt.Errorf("position is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *pos
	s.positions[pos.UserID] = append(s.positions[pos.UserID], &clone)
	return nil
}

// SetTargets replaces a user's allocation targets (test helper).
func (s *MemoryPortfolioStore) SetTargets(userID string, targets map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[userID] = targets
}
