// Package mcp provides a client for remote capability (MCP) servers exposing
// named tools over a JSON request/response transport.
package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ServerConfig holds configuration for one capability server.
type ServerConfig struct {
	ID string `yaml:"id" json:"id"`

	// URL is the base endpoint, e.g. http://stock-data:8080.
	URL string `yaml:"url" json:"url"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`

	// Timeout is the per-call deadline. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	// ValidateArguments enables input-schema validation before dispatch.
	ValidateArguments bool `yaml:"validate_arguments" json:"validate_arguments,omitempty"`
}

// ToolDescriptor describes one tool advertised by a capability server.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResult is the wire shape of a tool listing.
type ListToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// Sentinel errors for the tool-call failure modes.
var (
	// ErrToolNotFound indicates the server does not advertise the tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrUnavailable indicates the server could not be reached.
	ErrUnavailable = errors.New("tool server unavailable")

	// ErrTimeout indicates the call deadline elapsed.
	ErrTimeout = errors.New("tool call timed out")

	// ErrProtocol indicates a malformed response or unexpected status.
	ErrProtocol = errors.New("tool protocol error")
)

// ToolExecutionError wraps an error payload reported by the remote tool.
type ToolExecutionError struct {
	Tool    string
	Message string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// toolCallFailure is the envelope servers use to report execution failure.
// Successful calls may return a bare JSON value instead; both shapes are
// accepted when parsing.
type toolCallFailure struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}
