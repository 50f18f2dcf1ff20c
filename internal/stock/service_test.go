package stock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/stockd/internal/cache"
	"github.com/haasonsaas/stockd/internal/infra"
	"github.com/haasonsaas/stockd/internal/mcp"
	"github.com/haasonsaas/stockd/internal/retry"
	"github.com/haasonsaas/stockd/pkg/models"
)

// fakeTools scripts tool responses per tool name and counts calls.
type fakeTools struct {
	calls     map[string]int
	responses map[string]any
	errs      map[string]error
}

func newFakeTools() *fakeTools {
	return &fakeTools{
		calls:     make(map[string]int),
		responses: make(map[string]any),
		errs:      make(map[string]error),
	}
}

func (f *fakeTools) CallToolInto(_ context.Context, name string, _ map[string]any, out any) error {
	f.calls[name]++
	if err := f.errs[name]; err != nil {
		return err
	}
	raw, err := json.Marshal(f.responses[name])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func newTestService(t *testing.T) (*Service, *fakeTools, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tools := newFakeTools()
	svc := NewService(tools, infra.NewCircuitBreakerRegistry(infra.CircuitBreakerConfig{}), cache.New(client, nil), nil)
	// Keep test retries fast.
	svc.retry = retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return svc, tools, mr
}

func TestGetPrice_FetchThenCacheHit(t *testing.T) {
	svc, tools, _ := newTestService(t)
	ctx := context.Background()

	tools.responses["get_stock_price"] = models.PriceSnapshot{Ticker: "AAPL", Price: 187.5, Timestamp: time.Now()}

	first, err := svc.GetPrice(ctx, "aapl")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if first.Ticker != "AAPL" || first.Price != 187.5 {
		t.Errorf("unexpected snapshot %+v", first)
	}

	// Second call is served from cache without a tool call.
	second, err := svc.GetPrice(ctx, "AAPL")
	if err != nil {
		t.Fatalf("cached get price: %v", err)
	}
	if second.Price != 187.5 {
		t.Errorf("unexpected cached price %v", second.Price)
	}
	if tools.calls["get_stock_price"] != 1 {
		t.Errorf("expected one upstream call, got %d", tools.calls["get_stock_price"])
	}
}

func TestGetPrice_RetriesTransientFailure(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	attempts := 0
	svc.tools = &scriptedTools{fn: func(name string, out any) error {
		attempts++
		if attempts == 1 {
			return mcp.ErrUnavailable
		}
		return fill(out, models.PriceSnapshot{Ticker: "AAPL", Price: 10})
	}}

	snapshot, err := svc.GetPrice(ctx, "AAPL")
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if snapshot.Price != 10 {
		t.Errorf("unexpected price %v", snapshot.Price)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestGetPrice_ToolExecutionErrorIsNotRetried(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	attempts := 0
	svc.tools = &scriptedTools{fn: func(string, any) error {
		attempts++
		return &mcp.ToolExecutionError{Tool: "get_stock_price", Message: "unknown ticker"}
	}}

	_, err := svc.GetPrice(ctx, "ZZZZ")
	if err == nil {
		t.Fatal("expected error")
	}
	var execErr *mcp.ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Errorf("expected ToolExecutionError, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected single attempt for permanent failure, got %d", attempts)
	}
}

func TestGetPrice_BreakerOpensAndFastFails(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	attempts := 0
	svc.tools = &scriptedTools{fn: func(string, any) error {
		attempts++
		return mcp.ErrUnavailable
	}}

	// Each GetPrice is one breaker call; the default threshold is five.
	for i := 0; i < 5; i++ {
		if _, err := svc.GetPrice(ctx, "AAPL"); err == nil {
			t.Fatal("expected failure")
		}
	}
	attemptsBefore := attempts

	_, err := svc.GetPrice(ctx, "AAPL")
	if !errors.Is(err, infra.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if attempts != attemptsBefore {
		t.Error("expected fast-fail without reaching the tool server")
	}
}

func TestBatchPrices_MixedCacheAndFetch(t *testing.T) {
	svc, tools, _ := newTestService(t)
	ctx := context.Background()

	// Prime AAPL in the cache.
	tools.responses["get_stock_price"] = models.PriceSnapshot{Ticker: "AAPL", Price: 100}
	if _, err := svc.GetPrice(ctx, "AAPL"); err != nil {
		t.Fatal(err)
	}

	tools.responses["get_stock_prices"] = []models.PriceSnapshot{
		{Ticker: "MSFT", Price: 400},
		{Ticker: "NVDA", Price: 900},
	}

	out, err := svc.BatchPrices(ctx, []string{"aapl", "MSFT", "nvda", "MSFT"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(out))
	}
	if out["AAPL"].Price != 100 || out["MSFT"].Price != 400 || out["NVDA"].Price != 900 {
		t.Errorf("unexpected batch result %+v", out)
	}
	if tools.calls["get_stock_prices"] != 1 {
		t.Errorf("expected one batch fetch, got %d", tools.calls["get_stock_prices"])
	}
}

func TestBatchPrices_ServesCachedSubsetOnFailure(t *testing.T) {
	svc, tools, _ := newTestService(t)
	ctx := context.Background()

	tools.responses["get_stock_price"] = models.PriceSnapshot{Ticker: "AAPL", Price: 100}
	if _, err := svc.GetPrice(ctx, "AAPL"); err != nil {
		t.Fatal(err)
	}
	tools.errs["get_stock_prices"] = mcp.ErrUnavailable

	out, err := svc.BatchPrices(ctx, []string{"AAPL", "MSFT"})
	if err != nil {
		t.Fatalf("expected cached subset, got %v", err)
	}
	if len(out) != 1 || out["AAPL"] == nil {
		t.Errorf("expected AAPL only, got %+v", out)
	}
}

func TestGetNews_DedupesAndScores(t *testing.T) {
	svc, tools, _ := newTestService(t)
	ctx := context.Background()

	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	tools.responses["get_stock_news"] = []models.NewsArticle{
		{Headline: "AAPL beats earnings estimates", PublishedAt: older},
		{Headline: "aapl BEATS earnings estimates", PublishedAt: newer, Source: "newer"},
		{Headline: "Regulators open probe into supplier", PublishedAt: older},
	}

	articles, err := svc.GetNews(ctx, "AAPL", 10)
	if err != nil {
		t.Fatalf("news: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("expected duplicate headline collapsed, got %d articles", len(articles))
	}

	var beat, probe *models.NewsArticle
	for i := range articles {
		if articles[i].Source == "newer" {
			beat = &articles[i]
		}
		if articles[i].Sentiment < 0 {
			probe = &articles[i]
		}
	}
	if beat == nil {
		t.Fatal("expected the newer duplicate to win")
	}
	if beat.Sentiment <= 0 {
		t.Errorf("expected positive sentiment, got %v", beat.Sentiment)
	}
	if probe == nil {
		t.Error("expected negative sentiment on the probe headline")
	}
}

func TestGetHistorical_RejectsInvalidSeries(t *testing.T) {
	svc, tools, _ := newTestService(t)
	ctx := context.Background()

	from := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)

	tools.responses["get_historical_data"] = []models.HistoricalBar{
		{Date: from, Open: 10, High: 9, Low: 11, Close: 10, Volume: 100}, // high < low
	}

	_, err := svc.GetHistorical(ctx, "AAPL", from, to)
	if !errors.Is(err, mcp.ErrProtocol) {
		t.Errorf("expected ErrProtocol for invalid bars, got %v", err)
	}
}

func TestGetHistorical_ValidSeriesCached(t *testing.T) {
	svc, tools, _ := newTestService(t)
	ctx := context.Background()

	from := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)
	tools.responses["get_historical_data"] = []models.HistoricalBar{
		{Date: from, Open: 10, High: 12, Low: 9, Close: 11, Volume: 100},
		{Date: from.Add(24 * time.Hour), Open: 11, High: 13, Low: 10, Close: 12, Volume: 90},
	}

	first, err := svc.GetHistorical(ctx, "AAPL", from, to)
	if err != nil {
		t.Fatalf("historical: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(first))
	}

	if _, err := svc.GetHistorical(ctx, "AAPL", from, to); err != nil {
		t.Fatal(err)
	}
	if tools.calls["get_historical_data"] != 1 {
		t.Errorf("expected one upstream fetch, got %d", tools.calls["get_historical_data"])
	}

	if _, err := svc.GetHistorical(ctx, "AAPL", to, from); err == nil {
		t.Error("expected inverted range to be rejected")
	}
}

func TestGetMarketOverview_Cached(t *testing.T) {
	svc, tools, _ := newTestService(t)
	ctx := context.Background()

	tools.responses["get_market_overview"] = models.MarketOverview{
		Indices: map[string]models.PriceSnapshot{"SPY": {Ticker: "SPY", Price: 520}},
	}

	overview, err := svc.GetMarketOverview(ctx)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if overview.Indices["SPY"].Price != 520 {
		t.Errorf("unexpected overview %+v", overview)
	}
	if overview.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be stamped")
	}

	if _, err := svc.GetMarketOverview(ctx); err != nil {
		t.Fatal(err)
	}
	if tools.calls["get_market_overview"] != 1 {
		t.Errorf("expected one upstream fetch, got %d", tools.calls["get_market_overview"])
	}
}

func TestScoreSentiment(t *testing.T) {
	if got := ScoreSentiment("Shares surge after earnings beat"); got <= 0 {
		t.Errorf("expected positive score, got %v", got)
	}
	if got := ScoreSentiment("Company warns of layoffs amid fraud probe"); got >= 0 {
		t.Errorf("expected negative score, got %v", got)
	}
	if got := ScoreSentiment("Quarterly report published"); got != 0 {
		t.Errorf("expected neutral score, got %v", got)
	}
	if got := ScoreSentiment("surge rally soar bullish record gains beats"); got != 1 {
		t.Errorf("expected clamp to 1, got %v", got)
	}
}

// scriptedTools delegates to a closure, for per-test failure scripting.
type scriptedTools struct {
	fn func(name string, out any) error
}

func (s *scriptedTools) CallToolInto(_ context.Context, name string, _ map[string]any, out any) error {
	return s.fn(name, out)
}

func fill(out, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
