package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/haasonsaas/stockd/pkg/models"
)

// PostgresConfig tunes the connection pool.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns sensible pool defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStoresFromDSN creates Postgres-backed stores using a DSN.
func NewPostgresStoresFromDSN(dsn string, config *PostgresConfig) (StoreSet, error) {
	if strings.TrimSpace(dsn) == "" {
		return StoreSet{}, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return StoreSet{}, fmt.Errorf("ping database: %w", err)
	}

	return NewPostgresStores(db), nil
}

// NewPostgresStores wraps an existing database handle.
func NewPostgresStores(db *sql.DB) StoreSet {
	return StoreSet{
		Users:         &postgresUserStore{db: db},
		Alerts:        &postgresAlertStore{db: db},
		Notifications: &postgresNotificationStore{db: db},
		Workflows:     &postgresWorkflowStore{db: db},
		Executions:    &postgresExecutionStore{db: db},
		Portfolios:    &postgresPortfolioStore{db: db},
		closer:        db.Close,
	}
}

func isDuplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate")
}

type postgresUserStore struct {
	db *sql.DB
}

func (s *postgresUserStore) Create(ctx context.Context, user *models.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("user is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, strings.ToLower(user.Email), user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *postgresUserStore) Get(ctx context.Context, id string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at, updated_at FROM users WHERE id = $1`, id))
}

func (s *postgresUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at, updated_at FROM users WHERE email = $1`,
		strings.ToLower(email)))
}

func (s *postgresUserStore) scanUser(row *sql.Row) (*models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

type postgresAlertStore struct {
	db *sql.DB
}

func (s *postgresAlertStore) Create(ctx context.Context, alert *models.Alert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("alert is required")
	}
	channels := make([]string, 0, len(alert.Channels))
	for _, ch := range alert.Channels {
		channels = append(channels, string(ch))
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_alerts (id, user_id, ticker, condition, target_price, channels, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		alert.ID, alert.UserID, strings.ToUpper(alert.Ticker), string(alert.Condition),
		alert.TargetPrice, pq.Array(channels), alert.Active, alert.CreatedAt,
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

const alertColumns = `id, user_id, ticker, condition, target_price, channels, active, created_at, triggered_at`

func (s *postgresAlertStore) Get(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM price_alerts WHERE id = $1`, id)
	return scanAlert(row)
}

func (s *postgresAlertStore) ListActive(ctx context.Context, userID string) ([]*models.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM price_alerts WHERE user_id = $1 AND active ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return collectAlerts(rows)
}

func (s *postgresAlertStore) ListActiveByTicker(ctx context.Context, ticker string) ([]*models.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM price_alerts WHERE ticker = $1 AND active ORDER BY created_at`,
		strings.ToUpper(ticker))
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return collectAlerts(rows)
}

func (s *postgresAlertStore) MarkTriggered(ctx context.Context, id string) (bool, error) {
	// The active-flag predicate makes the transition single-shot: concurrent
	// triggers race on the UPDATE and only one sees a row.
	res, err := s.db.ExecContext(ctx,
		`UPDATE price_alerts SET active = false, triggered_at = now() WHERE id = $1 AND active`, id)
	if err != nil {
		return false, fmt.Errorf("mark triggered: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark triggered: %w", err)
	}
	return affected == 1, nil
}

func (s *postgresAlertStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM price_alerts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var alert models.Alert
	var condition string
	var channels []string
	var triggeredAt sql.NullTime
	err := row.Scan(&alert.ID, &alert.UserID, &alert.Ticker, &condition, &alert.TargetPrice,
		pq.Array(&channels), &alert.Active, &alert.CreatedAt, &triggeredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	alert.Condition = models.AlertCondition(condition)
	for _, ch := range channels {
		alert.Channels = append(alert.Channels, models.AlertChannel(ch))
	}
	if triggeredAt.Valid {
		alert.TriggeredAt = &triggeredAt.Time
	}
	return &alert, nil
}

func collectAlerts(rows *sql.Rows) ([]*models.Alert, error) {
	defer rows.Close()
	var out []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, alert)
	}
	return out, rows.Err()
}

type postgresNotificationStore struct {
	db *sql.DB
}

func (s *postgresNotificationStore) Create(ctx context.Context, n *models.Notification) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("notification is required")
	}
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, title, body, data, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Body, data, n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (s *postgresNotificationStore) List(ctx context.Context, userID string, limit, offset int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, type, title, body, data, read, created_at
		 FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		var typ string
		var data []byte
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Body, &data, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = models.NotificationType(typ)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("unmarshal notification data: %w", err)
			}
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (s *postgresNotificationStore) MarkRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

type postgresWorkflowStore struct {
	db *sql.DB
}

func (s *postgresWorkflowStore) Create(ctx context.Context, def *models.WorkflowDefinition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("workflow definition is required")
	}
	nodes, err := json.Marshal(def.Nodes)
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}
	edges, err := json.Marshal(def.Edges)
	if err != nil {
		return fmt.Errorf("marshal edges: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, user_id, name, type, nodes, edges, mode, cron, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		def.ID, def.UserID, def.Name, def.Type, nodes, edges, string(def.Mode), def.Cron, def.IsActive, def.CreatedAt,
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

const workflowColumns = `id, user_id, name, type, nodes, edges, mode, cron, is_active, created_at`

func (s *postgresWorkflowStore) Get(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
	return scanWorkflow(row)
}

func (s *postgresWorkflowStore) List(ctx context.Context, userID string) ([]*models.WorkflowDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return collectWorkflows(rows)
}

func (s *postgresWorkflowStore) ListScheduled(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE is_active AND cron <> '' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled workflows: %w", err)
	}
	return collectWorkflows(rows)
}

func (s *postgresWorkflowStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE workflows SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set workflow active: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanWorkflow(row rowScanner) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition
	var nodes, edges []byte
	var mode string
	err := row.Scan(&def.ID, &def.UserID, &def.Name, &def.Type, &nodes, &edges, &mode, &def.Cron, &def.IsActive, &def.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	def.Mode = models.ExecutionMode(mode)
	if err := json.Unmarshal(nodes, &def.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal(edges, &def.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal edges: %w", err)
	}
	return &def, nil
}

func collectWorkflows(rows *sql.Rows) ([]*models.WorkflowDefinition, error) {
	defer rows.Close()
	var out []*models.WorkflowDefinition
	for rows.Next() {
		def, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

type postgresExecutionStore struct {
	db *sql.DB
}

func (s *postgresExecutionStore) Create(ctx context.Context, exec *models.WorkflowExecution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution is required")
	}
	results, errs, err := marshalExecutionPayload(exec)
	if err != nil {
		return err
	}
	// Idempotent by execution ID.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_executions (id, workflow_id, status, progress, current_node, results, errors, started_at, completed_at, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status, progress = EXCLUDED.progress, current_node = EXCLUDED.current_node,
		   results = EXCLUDED.results, errors = EXCLUDED.errors,
		   completed_at = EXCLUDED.completed_at, duration_ms = EXCLUDED.duration_ms`,
		exec.ID, exec.WorkflowID, string(exec.Status), exec.Progress, exec.CurrentNode,
		results, errs, exec.StartedAt, exec.CompletedAt, exec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (s *postgresExecutionStore) Get(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, status, progress, current_node, results, errors, started_at, completed_at, duration_ms
		 FROM workflow_executions WHERE id = $1`, id)
	return scanExecution(row)
}

func (s *postgresExecutionStore) List(ctx context.Context, workflowID string) ([]*models.WorkflowExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, status, progress, current_node, results, errors, started_at, completed_at, duration_ms
		 FROM workflow_executions WHERE workflow_id = $1 ORDER BY started_at`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkflowExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

func (s *postgresExecutionStore) Update(ctx context.Context, exec *models.WorkflowExecution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution is required")
	}
	results, errs, err := marshalExecutionPayload(exec)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_executions SET status = $2, progress = $3, current_node = $4,
		   results = $5, errors = $6, completed_at = $7, duration_ms = $8
		 WHERE id = $1`,
		exec.ID, string(exec.Status), exec.Progress, exec.CurrentNode,
		results, errs, exec.CompletedAt, exec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalExecutionPayload(exec *models.WorkflowExecution) ([]byte, []byte, error) {
	results, err := json.Marshal(exec.Results)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal results: %w", err)
	}
	errs, err := json.Marshal(exec.Errors)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal errors: %w", err)
	}
	return results, errs, nil
}

func scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var exec models.WorkflowExecution
	var status string
	var results, errs []byte
	var completedAt sql.NullTime
	err := row.Scan(&exec.ID, &exec.WorkflowID, &status, &exec.Progress, &exec.CurrentNode,
		&results, &errs, &exec.StartedAt, &completedAt, &exec.DurationMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	exec.Status = models.ExecutionStatus(status)
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &exec.Results); err != nil {
			return nil, fmt.Errorf("unmarshal results: %w", err)
		}
	}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &exec.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal errors: %w", err)
		}
	}
	return &exec, nil
}

type postgresPortfolioStore struct {
	db *sql.DB
}

func (s *postgresPortfolioStore) Positions(ctx context.Context, userID string) ([]*models.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, ticker, shares, cost_basis, created_at
		 FROM stock_positions WHERE user_id = $1 ORDER BY ticker`, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []*models.Position
	for rows.Next() {
		var pos models.Position
		if err := rows.Scan(&pos.ID, &pos.UserID, &pos.Ticker, &pos.Shares, &pos.CostBasis, &pos.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, &pos)
	}
	return out, rows.Err()
}

func (s *postgresPortfolioStore) Targets(ctx context.Context, userID string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticker, target_fraction FROM portfolios WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var ticker string
		var frac float64
		if err := rows.Scan(&ticker, &frac); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out[ticker] = frac
	}
	return out, rows.Err()
}

func (s *postgresPortfolioStore) AddPosition(ctx context.Context, pos *models.Position) error {
	if pos == nil || pos.ID == "" {
		return fmt.Errorf("position is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stock_positions (id, user_id, ticker, shares, cost_basis, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		pos.ID, pos.UserID, strings.ToUpper(pos.Ticker), pos.Shares, pos.CostBasis, pos.CreatedAt,
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("add position: %w", err)
	}
	return nil
}
