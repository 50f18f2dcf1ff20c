package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/stockd/internal/agents"
	"github.com/haasonsaas/stockd/internal/storage"
	"github.com/haasonsaas/stockd/pkg/models"
)

var (
	ErrExecutionNotFound = errors.New("execution not found")
	ErrWorkflowInactive  = errors.New("workflow is inactive")

	// ErrCancelled is recorded as the distinguished error entry when an
	// execution is cancelled or exceeds its deadline.
	ErrCancelled = errors.New("execution cancelled")
)

// engineErrorKey namespaces engine-originated errors in the state error map.
const engineErrorKey = "__engine__"

// Options tunes the engine.
type Options struct {
	// Timeout is the per-execution wall-clock deadline. Zero means unbounded.
	Timeout time.Duration

	// CancelGrace bounds the wait for in-flight parallel nodes after
	// cancellation. Branches still running past it are abandoned; their
	// results are dropped.
	CancelGrace time.Duration
}

// Engine runs workflow definitions and owns their execution records.
type Engine struct {
	registry   *agents.Registry
	workflows  storage.WorkflowStore
	executions storage.ExecutionStore
	logger     *slog.Logger
	opts       Options

	mu      sync.RWMutex
	live    map[string]*models.WorkflowExecution
	cancels map[string]context.CancelFunc
}

// NewEngine constructs a workflow engine.
func NewEngine(registry *agents.Registry, workflows storage.WorkflowStore, executions storage.ExecutionStore, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = 5 * time.Second
	}
	return &Engine{
		registry:   registry,
		workflows:  workflows,
		executions: executions,
		logger:     logger.With("component", "workflow"),
		opts:       opts,
		live:       make(map[string]*models.WorkflowExecution),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// CreateDefinition validates and persists a workflow definition owned by
// userID. Definitions are immutable; a changed workflow is a new definition.
func (e *Engine) CreateDefinition(ctx context.Context, userID string, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if def.Mode == "" {
		def.Mode = models.ModeSequential
	}
	if def.Mode != models.ModeSequential && def.Mode != models.ModeParallel {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidDefinition, def.Mode)
	}
	if _, err := Compile(def, e.registry); err != nil {
		return nil, err
	}

	def.ID = uuid.NewString()
	def.UserID = userID
	def.IsActive = true
	def.CreatedAt = time.Now()
	if err := e.workflows.Create(ctx, def); err != nil {
		return nil, fmt.Errorf("persist definition: %w", err)
	}
	e.logger.Info("workflow created", "workflow_id", def.ID, "mode", def.Mode, "nodes", len(def.Nodes))
	return def, nil
}

// CreateFromTemplate instantiates a named template for userID.
func (e *Engine) CreateFromTemplate(ctx context.Context, userID, templateName string) (*models.WorkflowDefinition, error) {
	def, err := FromTemplate(templateName)
	if err != nil {
		return nil, err
	}
	return e.CreateDefinition(ctx, userID, def)
}

// Execute runs a definition to completion on the calling goroutine and
// returns the finalized execution record. Cancelling ctx cancels the run;
// the record is still finalized.
func (e *Engine) Execute(ctx context.Context, definitionID string, input map[string]any) (*models.WorkflowExecution, error) {
	_, run, err := e.prepare(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	return run(ctx, input), nil
}

// Start launches an execution on its own goroutine and returns the running
// record immediately.
func (e *Engine) Start(ctx context.Context, definitionID string, input map[string]any) (*models.WorkflowExecution, error) {
	exec, run, err := e.prepare(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	snapshot := *exec
	go func() {
		final := run(context.Background(), input)
		e.logger.Info("workflow execution finished",
			"execution_id", final.ID,
			"status", final.Status,
			"duration_ms", final.DurationMS)
	}()
	return &snapshot, nil
}

// prepare loads and compiles the definition, persists the running execution
// record, and returns a closure that performs the run and finalization.
func (e *Engine) prepare(ctx context.Context, definitionID string) (*models.WorkflowExecution, func(context.Context, map[string]any) *models.WorkflowExecution, error) {
	def, err := e.workflows.Get(ctx, definitionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("load definition: %w", err)
	}
	if !def.IsActive {
		return nil, nil, ErrWorkflowInactive
	}
	plan, err := Compile(def, e.registry)
	if err != nil {
		return nil, nil, err
	}

	exec := &models.WorkflowExecution{
		ID:         uuid.NewString(),
		WorkflowID: def.ID,
		Status:     models.ExecutionRunning,
		StartedAt:  time.Now(),
	}
	if err := e.executions.Create(ctx, exec); err != nil {
		return nil, nil, fmt.Errorf("persist execution: %w", err)
	}

	run := func(runParent context.Context, input map[string]any) *models.WorkflowExecution {
		var runCtx context.Context
		var cancel context.CancelFunc
		if e.opts.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(runParent, e.opts.Timeout)
		} else {
			runCtx, cancel = context.WithCancel(runParent)
		}
		e.track(exec, cancel)
		defer e.untrack(exec.ID)
		defer cancel()

		state := agents.NewState(input)
		if def.Mode == models.ModeParallel {
			state = e.runParallel(runCtx, plan, exec, state)
		} else {
			state = e.runSequential(runCtx, plan, exec, state)
		}
		return e.finalize(exec, state)
	}
	return exec, run, nil
}

// Cancel stops a running execution. In-flight nodes get the grace period;
// the record finalizes as failed with a distinguished cancellation error.
func (e *Engine) Cancel(executionID string) error {
	e.mu.RLock()
	cancel, ok := e.cancels[executionID]
	e.mu.RUnlock()
	if !ok {
		return ErrExecutionNotFound
	}
	cancel()
	return nil
}

// GetStatus returns the execution's current status, serving running
// executions from the live map and finished ones from the store.
func (e *Engine) GetStatus(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	e.mu.RLock()
	if exec, ok := e.live[executionID]; ok {
		snapshot := *exec
		e.mu.RUnlock()
		return &snapshot, nil
	}
	e.mu.RUnlock()

	exec, err := e.executions.Get(ctx, executionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return exec, nil
}

// ListExecutions returns the persisted executions of a definition.
func (e *Engine) ListExecutions(ctx context.Context, definitionID string) ([]*models.WorkflowExecution, error) {
	return e.executions.List(ctx, definitionID)
}

// runSequential visits every node in topological order. Agent errors are
// recorded and do not stop the traversal; cancellation does.
func (e *Engine) runSequential(ctx context.Context, plan *compiled, exec *models.WorkflowExecution, state agents.State) agents.State {
	total := len(plan.order)
	for i, node := range plan.order {
		select {
		case <-ctx.Done():
			state.Errors[engineErrorKey] = ErrCancelled.Error()
			return state
		default:
		}

		e.setCurrentNode(exec, node.ID)
		state.CurrentNode = node.ID
		if node.Type == models.NodeAgent {
			e.runNode(ctx, node, &state)
		}
		e.setProgress(exec, (i+1)*100/total)
	}
	return state
}

// branchOutcome is one parallel branch's contribution to the merged state.
type branchOutcome struct {
	results map[string]any
	errs    map[string]string
}

// runParallel runs the entry agent (when present) first, then every middle
// agent node concurrently against a snapshot of the post-entry state, merges
// the branches, and finally runs the finish agents over the merged state.
// Results are namespaced by agent name, so the merge is conflict-free by
// construction. Branches that outlive cancellation plus the grace period are
// abandoned and their results dropped.
func (e *Engine) runParallel(ctx context.Context, plan *compiled, exec *models.WorkflowExecution, state agents.State) agents.State {
	total := len(plan.agentNodes)
	if total == 0 {
		e.setProgress(exec, 100)
		return state
	}
	done := 0
	advance := func() {
		done++
		e.setProgress(exec, done*100/total)
	}

	if plan.entryAgent != nil {
		e.setCurrentNode(exec, plan.entryAgent.ID)
		e.runNode(ctx, *plan.entryAgent, &state)
		advance()
	}

	if len(plan.middleAgents) > 0 {
		outcomes := make(chan branchOutcome, len(plan.middleAgents))
		for _, node := range plan.middleAgents {
			node := node
			branch := state.Clone()
			go func() {
				e.runNode(ctx, node, &branch)
				outcomes <- branchOutcome{results: branch.Results, errs: branch.Errors}
			}()
		}

		var grace <-chan time.Time
		collected := 0
		for collected < len(plan.middleAgents) {
			var outcome branchOutcome
			select {
			case outcome = <-outcomes:
			case <-ctx.Done():
				if grace == nil {
					timer := time.NewTimer(e.opts.CancelGrace)
					defer timer.Stop()
					grace = timer.C
				}
				select {
				case outcome = <-outcomes:
				case <-grace:
					e.logger.Warn("abandoning in-flight branches after cancel grace",
						"execution_id", exec.ID, "abandoned", len(plan.middleAgents)-collected)
					collected = len(plan.middleAgents)
					continue
				}
			}
			for name, result := range outcome.results {
				state.Results[name] = result
			}
			for name, msg := range outcome.errs {
				state.Errors[name] = msg
			}
			collected++
			advance()
		}
	}

	if ctx.Err() != nil {
		state.Errors[engineErrorKey] = ErrCancelled.Error()
		return state
	}

	for _, node := range plan.finishAgents {
		e.setCurrentNode(exec, node.ID)
		e.runNode(ctx, node, &state)
		advance()
	}
	return state
}

// runNode executes one agent node, recording failure in the state rather
// than propagating it.
func (e *Engine) runNode(ctx context.Context, node models.Node, state *agents.State) {
	if err := ctx.Err(); err != nil {
		state.Errors[node.Agent] = ErrCancelled.Error()
		return
	}

	agent, err := e.registry.Get(node.Agent)
	if err != nil {
		state.Errors[node.Agent] = err.Error()
		return
	}

	result, err := agent.Run(ctx, *state)
	if err != nil {
		state.Errors[node.Agent] = err.Error()
		e.logger.Warn("agent failed", "agent", node.Agent, "node", node.ID, "error", err)
		return
	}
	state.Results[agent.Name()] = result
}

// finalize stamps the terminal status and persists the completed record.
func (e *Engine) finalize(exec *models.WorkflowExecution, state agents.State) *models.WorkflowExecution {
	now := time.Now()

	names := make([]string, 0, len(state.Errors))
	for name := range state.Errors {
		names = append(names, name)
	}
	sort.Strings(names)

	e.mu.Lock()
	exec.CurrentNode = ""
	exec.Results = state.Results
	exec.Errors = nil
	for _, name := range names {
		exec.Errors = append(exec.Errors, fmt.Sprintf("%s: %s", name, state.Errors[name]))
	}
	if len(exec.Errors) > 0 {
		exec.Status = models.ExecutionFailed
	} else {
		exec.Status = models.ExecutionCompleted
		exec.Progress = 100
	}
	exec.CompletedAt = &now
	exec.DurationMS = now.Sub(exec.StartedAt).Milliseconds()
	snapshot := *exec
	e.mu.Unlock()

	// Finalization must outlive any cancelled request context.
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.executions.Update(persistCtx, &snapshot); err != nil {
		e.logger.Error("finalize execution", "execution_id", exec.ID, "error", err)
	}
	return &snapshot
}

func (e *Engine) track(exec *models.WorkflowExecution, cancel context.CancelFunc) {
	e.mu.Lock()
	e.live[exec.ID] = exec
	e.cancels[exec.ID] = cancel
	e.mu.Unlock()
}

func (e *Engine) untrack(executionID string) {
	e.mu.Lock()
	delete(e.live, executionID)
	delete(e.cancels, executionID)
	e.mu.Unlock()
}

func (e *Engine) setCurrentNode(exec *models.WorkflowExecution, nodeID string) {
	e.mu.Lock()
	exec.CurrentNode = nodeID
	e.mu.Unlock()
}

// setProgress advances progress monotonically and persists the snapshot.
// Progress reaches 100 only through finalize, and only for completed runs;
// a failed run that walked every node parks just below.
func (e *Engine) setProgress(exec *models.WorkflowExecution, progress int) {
	if progress > 99 {
		progress = 99
	}
	e.mu.Lock()
	if progress <= exec.Progress {
		e.mu.Unlock()
		return
	}
	exec.Progress = progress
	snapshot := *exec
	e.mu.Unlock()

	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.executions.Update(persistCtx, &snapshot); err != nil {
		e.logger.Warn("persist progress", "execution_id", exec.ID, "error", err)
	}
}
