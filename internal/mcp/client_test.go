package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var listCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("GET /mcp/tools", func(w http.ResponseWriter, r *http.Request) {
		listCalls.Add(1)
		_ = json.NewEncoder(w).Encode(ListToolsResult{Tools: []ToolDescriptor{
			{
				Name:        "get_stock_price",
				Description: "Fetch the latest quote for a ticker",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"ticker":{"type":"string"}},"required":["ticker"]}`),
			},
			{Name: "get_market_news"},
		}})
	})
	mux.HandleFunc("POST /tools/get_stock_price", func(w http.ResponseWriter, r *http.Request) {
		var args map[string]any
		_ = json.NewDecoder(r.Body).Decode(&args)
		if args["ticker"] == "FAIL" {
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "upstream rejected ticker"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ticker": args["ticker"], "price": 151.0})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &listCalls
}

func TestClient_ListTools_CachesAfterFirstSuccess(t *testing.T) {
	server, listCalls := newTestServer(t)
	client := NewClient(&ServerConfig{ID: "stock-data", URL: server.URL}, nil)

	for i := 0; i < 3; i++ {
		tools, err := client.ListTools(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tools) != 2 || tools[0].Name != "get_stock_price" {
			t.Fatalf("unexpected tools: %+v", tools)
		}
	}
	if got := listCalls.Load(); got != 1 {
		t.Errorf("expected 1 upstream listing, got %d", got)
	}

	// Close clears the cache; the next listing goes upstream again.
	_ = client.Close()
	if _, err := client.ListTools(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := listCalls.Load(); got != 2 {
		t.Errorf("expected 2 upstream listings after Close, got %d", got)
	}
}

func TestClient_CallTool_BareResult(t *testing.T) {
	server, _ := newTestServer(t)
	client := NewClient(&ServerConfig{ID: "stock-data", URL: server.URL}, nil)

	var result struct {
		Ticker string  `json:"ticker"`
		Price  float64 `json:"price"`
	}
	err := client.CallToolInto(context.Background(), "get_stock_price", map[string]any{"ticker": "AAPL"}, &result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Ticker != "AAPL" || result.Price != 151.0 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestClient_CallTool_RemoteFailureEnvelope(t *testing.T) {
	server, _ := newTestServer(t)
	client := NewClient(&ServerConfig{ID: "stock-data", URL: server.URL}, nil)

	_, err := client.CallTool(context.Background(), "get_stock_price", map[string]any{"ticker": "FAIL"})

	var execErr *ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ToolExecutionError, got %v", err)
	}
	if execErr.Tool != "get_stock_price" || execErr.Message != "upstream rejected ticker" {
		t.Errorf("unexpected error payload: %+v", execErr)
	}
}

func TestClient_CallTool_NotFound(t *testing.T) {
	server, _ := newTestServer(t)
	client := NewClient(&ServerConfig{ID: "stock-data", URL: server.URL}, nil)

	_, err := client.CallTool(context.Background(), "no_such_tool", nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("expected ErrToolNotFound, got %v", err)
	}
}

func TestClient_CallTool_ServerDown(t *testing.T) {
	server, _ := newTestServer(t)
	server.Close()
	client := NewClient(&ServerConfig{ID: "stock-data", URL: server.URL}, nil)

	_, err := client.CallTool(context.Background(), "get_stock_price", map[string]any{"ticker": "AAPL"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestClient_CallTool_Timeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(slow.Close)

	client := NewClient(&ServerConfig{ID: "stock-data", URL: slow.URL, Timeout: 20 * time.Millisecond}, nil)

	_, err := client.CallTool(context.Background(), "get_stock_price", map[string]any{"ticker": "AAPL"})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestClient_CallTool_ProtocolError(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json {"))
	}))
	t.Cleanup(bad.Close)

	client := NewClient(&ServerConfig{ID: "stock-data", URL: bad.URL}, nil)

	_, err := client.CallTool(context.Background(), "get_stock_price", nil)
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
}

func TestClient_ValidateArguments(t *testing.T) {
	server, _ := newTestServer(t)
	client := NewClient(&ServerConfig{ID: "stock-data", URL: server.URL, ValidateArguments: true}, nil)

	// Missing required "ticker" is rejected locally.
	_, err := client.CallTool(context.Background(), "get_stock_price", map[string]any{})
	var execErr *ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	// Valid arguments pass through.
	if _, err := client.CallTool(context.Background(), "get_stock_price", map[string]any{"ticker": "AAPL"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Unknown tool is rejected before dispatch.
	_, err = client.CallTool(context.Background(), "unknown", map[string]any{})
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("expected ErrToolNotFound, got %v", err)
	}
}
