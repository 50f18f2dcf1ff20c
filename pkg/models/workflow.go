package models

import "time"

// NodeType identifies the kind of a workflow node.
type NodeType string

const (
	NodeAgent     NodeType = "agent"
	NodeCondition NodeType = "condition"
)

// Node is one vertex in a workflow definition DAG.
type Node struct {
	ID string `json:"id" yaml:"id"`

	Type NodeType `json:"type" yaml:"type"`

	// Agent names the registered agent to run (agent nodes only).
	Agent string `json:"agent,omitempty" yaml:"agent,omitempty"`

	// IsEntry marks the single entry node. If no node carries it the engine
	// injects a synthetic start.
	IsEntry bool `json:"is_entry,omitempty" yaml:"is_entry,omitempty"`

	// IsFinish marks a terminal node. At least one is required.
	IsFinish bool `json:"is_finish,omitempty" yaml:"is_finish,omitempty"`
}

// Edge is a directed connection between two nodes.
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// ExecutionMode selects how agent nodes are scheduled.
type ExecutionMode string

const (
	ModeSequential ExecutionMode = "sequential"
	ModeParallel   ExecutionMode = "parallel"
)

// WorkflowDefinition is the immutable static description of a workflow.
// A new version means a new definition with a fresh ID.
type WorkflowDefinition struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Name      string        `json:"name"`
	Type      string        `json:"type"`
	Nodes     []Node        `json:"nodes"`
	Edges     []Edge        `json:"edges"`
	Mode      ExecutionMode `json:"mode"`
	Cron      string        `json:"cron,omitempty"`
	IsActive  bool          `json:"is_active"`
	CreatedAt time.Time     `json:"created_at"`
}

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// WorkflowExecution is one run of a definition. Mutated only by the engine;
// immutable once the status is terminal.
type WorkflowExecution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	Progress    int             `json:"progress"`
	CurrentNode string          `json:"current_node,omitempty"`
	Results     map[string]any  `json:"results,omitempty"`
	Errors      []string        `json:"errors,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`

	// DurationMS is the wall-clock duration in milliseconds.
	DurationMS int64 `json:"duration_ms,omitempty"`
}
