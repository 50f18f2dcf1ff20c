// Package agents defines the agent contract for workflow nodes and the
// concrete agents the orchestrator ships with.
package agents

import "context"

// State is the value passed between workflow nodes. Results and Errors are
// namespaced by agent name; an agent writes only under its own name, which
// keeps parallel branches conflict-free by construction.
type State struct {
	// Context carries the caller-supplied workflow input. Agents read it but
	// never write it.
	Context map[string]any

	// Results holds each completed agent's output keyed by agent name.
	Results map[string]any

	// Errors holds failure messages keyed by agent name. A failed agent does
	// not abort the workflow; downstream nodes see the error entry instead.
	Errors map[string]string

	// CurrentNode is the node being executed, maintained by the engine.
	CurrentNode string
}

// NewState creates a State around the given workflow input.
func NewState(input map[string]any) State {
	if input == nil {
		input = map[string]any{}
	}
	return State{
		Context: input,
		Results: map[string]any{},
		Errors:  map[string]string{},
	}
}

// Clone returns a copy with independent Results and Errors maps. Context is
// shared; it is read-only by contract.
func (s State) Clone() State {
	out := State{
		Context:     s.Context,
		Results:     make(map[string]any, len(s.Results)),
		Errors:      make(map[string]string, len(s.Errors)),
		CurrentNode: s.CurrentNode,
	}
	for k, v := range s.Results {
		out.Results[k] = v
	}
	for k, v := range s.Errors {
		out.Errors[k] = v
	}
	return out
}

// Tickers extracts the ticker list from the workflow input, accepting both
// []string and the []any that JSON decoding produces.
func (s State) Tickers() []string {
	raw, ok := s.Context["tickers"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// UserID extracts the workflow owner from the input.
func (s State) UserID() string {
	if v, ok := s.Context["user_id"].(string); ok {
		return v
	}
	return ""
}

// Agent is one executable workflow node. Run returns the agent's result
// value; the engine stores it under the agent's name. A returned error is
// recorded in State.Errors rather than aborting the workflow.
type Agent interface {
	Name() string
	Run(ctx context.Context, state State) (any, error)
}
