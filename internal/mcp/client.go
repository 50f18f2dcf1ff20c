package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const defaultCallTimeout = 30 * time.Second

// Client talks to a single capability server. The advertised tool list is
// cached after the first successful listing and cleared on Close.
type Client struct {
	config *ServerConfig
	http   *http.Client
	logger *slog.Logger

	mu      sync.RWMutex
	tools   []ToolDescriptor
	schemas map[string]*jsonschema.Schema
}

// NewClient creates a client for the given server.
func NewClient(cfg *ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With("tool_server", cfg.ID),
	}
}

// Config returns the server configuration.
func (c *Client) Config() *ServerConfig {
	return c.config
}

// ListTools returns the tools advertised by the server, fetching them on
// first use.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	c.mu.RLock()
	cached := c.tools
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	body, err := c.get(ctx, "/mcp/tools")
	if err != nil {
		return nil, err
	}

	var result ListToolsResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: parse tool list: %v", ErrProtocol, err)
	}

	c.mu.Lock()
	c.tools = result.Tools
	c.schemas = compileSchemas(result.Tools, c.logger)
	c.mu.Unlock()

	c.logger.Debug("listed tools", "count", len(result.Tools))
	return result.Tools, nil
}

// CallTool invokes a named tool with the given arguments and returns the raw
// JSON result.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrToolNotFound
	}

	if c.config.ValidateArguments {
		if err := c.validateArgs(ctx, name, args); err != nil {
			return nil, err
		}
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal arguments: %w", err)
	}

	body, err := c.post(ctx, "/tools/"+url.PathEscape(name), payload)
	if err != nil {
		return nil, err
	}

	// Servers return either a bare JSON value or {success:false, error}.
	var failure toolCallFailure
	if json.Unmarshal(body, &failure) == nil && failure.Success != nil && !*failure.Success {
		return nil, &ToolExecutionError{Tool: name, Message: failure.Error}
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: invalid JSON result", ErrProtocol)
	}
	return json.RawMessage(body), nil
}

// CallToolInto invokes a tool and decodes the result into out.
func (c *Client) CallToolInto(ctx context.Context, name string, args map[string]any, out any) error {
	raw, err := c.CallTool(ctx, name, args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s result: %v", ErrProtocol, name, err)
	}
	return nil
}

// Close discards the cached tool listing.
func (c *Client) Close() error {
	c.mu.Lock()
	c.tools = nil
	c.schemas = nil
	c.mu.Unlock()
	return nil
}

func (c *Client) validateArgs(ctx context.Context, name string, args map[string]any) error {
	if _, err := c.ListTools(ctx); err != nil {
		return err
	}

	c.mu.RLock()
	schema := c.schemas[name]
	known := false
	for _, tool := range c.tools {
		if tool.Name == name {
			known = true
			break
		}
	}
	c.mu.RUnlock()

	if !known {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if schema == nil {
		return nil
	}

	value := map[string]any{}
	if args != nil {
		value = args
	}
	if err := schema.Validate(anyify(value)); err != nil {
		return &ToolExecutionError{Tool: name, Message: fmt.Sprintf("invalid arguments: %v", err)}
	}
	return nil
}

// anyify round-trips the arguments through JSON so the validator sees plain
// decoded values (float64 numbers, etc).
func anyify(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return args
	}
	return out
}

func compileSchemas(tools []ToolDescriptor, logger *slog.Logger) map[string]*jsonschema.Schema {
	schemas := make(map[string]*jsonschema.Schema, len(tools))
	for _, tool := range tools {
		if len(tool.InputSchema) == 0 {
			continue
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", bytes.NewReader(tool.InputSchema)); err != nil {
			logger.Warn("invalid tool input schema", "tool", tool.Name, "error", err)
			continue
		}
		schema, err := compiler.Compile("schema.json")
		if err != nil {
			logger.Warn("invalid tool input schema", "tool", tool.Name, "error", err)
			continue
		}
		schemas[tool.Name] = schema
	}
	return schemas
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrProtocol, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, req.URL.Path)
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, fmt.Errorf("%w: HTTP 504", ErrTimeout)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrProtocol, resp.StatusCode, truncate(body, 200))
	}

	return body, nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
