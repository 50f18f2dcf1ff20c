package gateway

import (
	"net/http"

	"github.com/haasonsaas/stockd/internal/observability"
	"github.com/haasonsaas/stockd/pkg/models"
)

// createWorkflowRequest creates a definition from an explicit node/edge spec
// or from a named template. Exactly one of the two forms applies.
type createWorkflowRequest struct {
	Template string               `json:"template,omitempty"`
	Name     string               `json:"name,omitempty"`
	Type     string               `json:"type,omitempty"`
	Nodes    []models.Node        `json:"nodes,omitempty"`
	Edges    []models.Edge        `json:"edges,omitempty"`
	Mode     models.ExecutionMode `json:"mode,omitempty"`
	Cron     string               `json:"cron,omitempty"`
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	userID := observability.UserID(r.Context())

	var req createWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	if req.Template != "" {
		if len(req.Nodes) > 0 || len(req.Edges) > 0 {
			writeError(w, r, s.logger, badRequest("template and nodes are mutually exclusive"))
			return
		}
		def, err := s.engine.CreateFromTemplate(r.Context(), userID, req.Template)
		if err != nil {
			writeError(w, r, s.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, def)
		return
	}

	def := &models.WorkflowDefinition{
		Name:  req.Name,
		Type:  req.Type,
		Nodes: req.Nodes,
		Edges: req.Edges,
		Mode:  req.Mode,
		Cron:  req.Cron,
	}
	created, err := s.engine.CreateDefinition(r.Context(), userID, def)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	userID := observability.UserID(r.Context())
	defs, err := s.stores.Workflows.List(r.Context(), userID)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": defs})
}

type executeWorkflowRequest struct {
	Context map[string]any `json:"context,omitempty"`

	// Wait runs the workflow synchronously and returns the finished record.
	Wait bool `json:"wait,omitempty"`
}

func (s *Server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	def, ok := s.ownedWorkflow(w, r)
	if !ok {
		return
	}

	var req executeWorkflowRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, s.logger, err)
			return
		}
	}
	input := req.Context
	if input == nil {
		input = map[string]any{}
	}
	// Agents resolve their owner from the workflow input.
	input["user_id"] = def.UserID

	if req.Wait {
		exec, err := s.engine.Execute(r.Context(), def.ID, input)
		if err != nil {
			writeError(w, r, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, exec)
		return
	}

	exec, err := s.engine.Start(r.Context(), def.ID, input)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, exec)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.engine.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	// Ownership check goes through the parent definition.
	def, err := s.stores.Workflows.Get(r.Context(), exec.WorkflowID)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if def.UserID != observability.UserID(r.Context()) {
		writeError(w, r, s.logger, apiError(CodeNotFound, "The requested resource was not found.", false))
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	def, ok := s.ownedWorkflow(w, r)
	if !ok {
		return
	}
	execs, err := s.engine.ListExecutions(r.Context(), def.ID)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

type scheduleRequest struct {
	Cron    string         `json:"cron"`
	Context map[string]any `json:"context,omitempty"`
}

func (s *Server) handleScheduleWorkflow(w http.ResponseWriter, r *http.Request) {
	def, ok := s.ownedWorkflow(w, r)
	if !ok {
		return
	}

	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if req.Cron == "" {
		writeError(w, r, s.logger, badRequest("cron expression is required"))
		return
	}

	input := req.Context
	if input == nil {
		input = map[string]any{}
	}
	input["user_id"] = def.UserID

	jobID, err := s.sched.ScheduleWorkflow(def.ID, req.Cron, input)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if err := s.stores.Workflows.SetActive(r.Context(), def.ID, true); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": jobID,
		"jobs":   s.sched.ListJobs(),
	})
}

func (s *Server) handleUnscheduleWorkflow(w http.ResponseWriter, r *http.Request) {
	def, ok := s.ownedWorkflow(w, r)
	if !ok {
		return
	}
	if err := s.sched.CancelWorkflow(r.Context(), def.ID); err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedWorkflow loads the path's workflow and enforces ownership. Foreign
// workflows read as not-found so IDs cannot be probed.
func (s *Server) ownedWorkflow(w http.ResponseWriter, r *http.Request) (*models.WorkflowDefinition, bool) {
	def, err := s.stores.Workflows.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, s.logger, err)
		return nil, false
	}
	if def.UserID != observability.UserID(r.Context()) {
		writeError(w, r, s.logger, apiError(CodeNotFound, "The requested resource was not found.", false))
		return nil, false
	}
	return def, true
}
