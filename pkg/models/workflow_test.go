package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestWorkflowExecutionDurationEncodesMilliseconds(t *testing.T) {
	started := time.Date(2026, 8, 24, 14, 30, 0, 0, time.UTC)
	completed := started.Add(2500 * time.Millisecond)
	exec := WorkflowExecution{
		ID:          "e1",
		WorkflowID:  "w1",
		Status:      ExecutionCompleted,
		Progress:    100,
		StartedAt:   started,
		CompletedAt: &completed,
		DurationMS:  completed.Sub(started).Milliseconds(),
	}

	raw, err := json.Marshal(exec)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"duration_ms":2500`) {
		t.Errorf("expected duration_ms in milliseconds, got %s", raw)
	}
}

func TestExecutionStatusTerminal(t *testing.T) {
	for status, want := range map[ExecutionStatus]bool{
		ExecutionPending:   false,
		ExecutionRunning:   false,
		ExecutionCompleted: true,
		ExecutionFailed:    true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("Terminal(%s) = %v, want %v", status, got, want)
		}
	}
}
