// Package stock provides market data through the resilience fabric: every
// upstream call runs inside the dependency's circuit breaker with the mcp
// retry profile, consulting the TTL cache first.
package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/stockd/internal/cache"
	"github.com/haasonsaas/stockd/internal/infra"
	"github.com/haasonsaas/stockd/internal/mcp"
	"github.com/haasonsaas/stockd/internal/retry"
	"github.com/haasonsaas/stockd/pkg/models"
)

// BreakerName is the circuit breaker guarding the stock-data tool server.
const BreakerName = "stock-data"

// ToolCaller is the slice of the tool client the service needs.
type ToolCaller interface {
	CallToolInto(ctx context.Context, name string, args map[string]any, out any) error
}

// Service fetches quotes, news, and historical series from the stock-data
// capability server.
type Service struct {
	tools    ToolCaller
	breakers *infra.CircuitBreakerRegistry
	cache    *cache.Cache
	retry    retry.Config
	logger   *slog.Logger
}

// NewService constructs the stock data service.
func NewService(tools ToolCaller, breakers *infra.CircuitBreakerRegistry, c *cache.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		tools:    tools,
		breakers: breakers,
		cache:    c,
		retry:    retry.MCP(),
		logger:   logger.With("component", "stock"),
	}
}

// GetPrice returns the latest quote for one ticker.
func (s *Service) GetPrice(ctx context.Context, ticker string) (*models.PriceSnapshot, error) {
	ticker = normalizeTicker(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}

	var cached models.PriceSnapshot
	if s.cache.GetJSON(ctx, cache.PriceKey(ticker), &cached) {
		return &cached, nil
	}

	var snapshot models.PriceSnapshot
	err := s.call(ctx, func(ctx context.Context) error {
		return s.tools.CallToolInto(ctx, "get_stock_price", map[string]any{"ticker": ticker}, &snapshot)
	})
	if err != nil {
		return nil, err
	}
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now()
	}
	snapshot.Ticker = ticker

	s.cache.Set(ctx, cache.PriceKey(ticker), snapshot, cache.PriceTTL)
	return &snapshot, nil
}

// BatchPrices returns quotes for many tickers, serving what it can from the
// cache and fetching the remainder in a single tool call.
func (s *Service) BatchPrices(ctx context.Context, tickers []string) (map[string]*models.PriceSnapshot, error) {
	out := make(map[string]*models.PriceSnapshot, len(tickers))
	if len(tickers) == 0 {
		return out, nil
	}

	normalized := make([]string, 0, len(tickers))
	keys := make([]string, 0, len(tickers))
	seen := make(map[string]bool, len(tickers))
	for _, ticker := range tickers {
		t := normalizeTicker(ticker)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		normalized = append(normalized, t)
		keys = append(keys, cache.PriceKey(t))
	}
	sort.Strings(normalized)

	hits := s.cache.BatchGet(ctx, keys)
	var missing []string
	for _, ticker := range normalized {
		raw, ok := hits[cache.PriceKey(ticker)]
		if !ok {
			missing = append(missing, ticker)
			continue
		}
		var snapshot models.PriceSnapshot
		if err := decodeJSON(raw, &snapshot); err != nil {
			missing = append(missing, ticker)
			continue
		}
		out[ticker] = &snapshot
	}

	if len(missing) == 0 {
		return out, nil
	}

	var fetched []models.PriceSnapshot
	err := s.call(ctx, func(ctx context.Context) error {
		return s.tools.CallToolInto(ctx, "get_stock_prices", map[string]any{"tickers": missing}, &fetched)
	})
	if err != nil {
		// Partial results from cache are still useful to the broadcaster.
		if len(out) > 0 {
			s.logger.Warn("batch price fetch failed, serving cached subset", "missing", len(missing), "error", err)
			return out, nil
		}
		return nil, err
	}

	for i := range fetched {
		snapshot := fetched[i]
		snapshot.Ticker = normalizeTicker(snapshot.Ticker)
		if snapshot.Timestamp.IsZero() {
			snapshot.Timestamp = time.Now()
		}
		out[snapshot.Ticker] = &snapshot
		s.cache.Set(ctx, cache.PriceKey(snapshot.Ticker), snapshot, cache.PriceTTL)
	}
	return out, nil
}

// GetNews returns deduplicated news for a ticker.
func (s *Service) GetNews(ctx context.Context, ticker string, limit int) ([]models.NewsArticle, error) {
	ticker = normalizeTicker(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}
	if limit <= 0 {
		limit = 10
	}

	var articles []models.NewsArticle
	if s.cache.GetJSON(ctx, cache.NewsKey(ticker), &articles) {
		return clamp(articles, limit), nil
	}

	err := s.call(ctx, func(ctx context.Context) error {
		articles = articles[:0]
		return s.tools.CallToolInto(ctx, "get_stock_news", map[string]any{"ticker": ticker, "limit": limit}, &articles)
	})
	if err != nil {
		return nil, err
	}

	articles = cache.DedupeArticles(articles)
	for i := range articles {
		articles[i].Sentiment = ScoreSentiment(articles[i].Headline + " " + articles[i].Summary)
	}

	s.cache.Set(ctx, cache.NewsKey(ticker), articles, cache.NewsTTL)
	return clamp(articles, limit), nil
}

// GetHistorical returns a validated historical series covering [from, to].
func (s *Service) GetHistorical(ctx context.Context, ticker string, from, to time.Time) ([]models.HistoricalBar, error) {
	ticker = normalizeTicker(ticker)
	if ticker == "" {
		return nil, fmt.Errorf("ticker is required")
	}
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range: to before from")
	}

	fromStr, toStr := from.Format("2006-01-02"), to.Format("2006-01-02")
	key := cache.HistoricalKey(ticker, fromStr, toStr)

	var bars []models.HistoricalBar
	if s.cache.GetJSON(ctx, key, &bars) {
		return bars, nil
	}

	err := s.call(ctx, func(ctx context.Context) error {
		bars = bars[:0]
		return s.tools.CallToolInto(ctx, "get_historical_data", map[string]any{
			"ticker": ticker, "from": fromStr, "to": toStr,
		}, &bars)
	})
	if err != nil {
		return nil, err
	}

	if err := ValidateHistorical(bars, from, to); err != nil {
		return nil, fmt.Errorf("%w: %v", mcp.ErrProtocol, err)
	}

	s.cache.Set(ctx, key, bars, cache.HistoricalTTL)
	return bars, nil
}

// GetMarketOverview returns the cached market summary.
func (s *Service) GetMarketOverview(ctx context.Context) (*models.MarketOverview, error) {
	var overview models.MarketOverview
	if s.cache.GetJSON(ctx, cache.MarketOverviewKey, &overview) {
		return &overview, nil
	}

	err := s.call(ctx, func(ctx context.Context) error {
		return s.tools.CallToolInto(ctx, "get_market_overview", nil, &overview)
	})
	if err != nil {
		return nil, err
	}
	if overview.UpdatedAt.IsZero() {
		overview.UpdatedAt = time.Now()
	}
	overview.TopNews = cache.DedupeArticles(overview.TopNews)

	s.cache.Set(ctx, cache.MarketOverviewKey, overview, cache.MarketTTL)
	return &overview, nil
}

// call runs op inside the stock-data breaker with the mcp retry profile.
// Remote-tool execution failures are permanent: the tool ran and said no.
func (s *Service) call(ctx context.Context, op func(ctx context.Context) error) error {
	breaker := s.breakers.Get(BreakerName)
	return breaker.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, s.retry, func(ctx context.Context) error {
			err := op(ctx)
			if err == nil {
				return nil
			}
			var execErr *mcp.ToolExecutionError
			if errors.As(err, &execErr) {
				return retry.Permanent(err)
			}
			return err
		})
	})
}

// ValidateHistorical enforces the historical-data invariants: non-decreasing
// dates inside the requested range, high>=low, open/close within [low, high],
// non-negative volume.
func ValidateHistorical(bars []models.HistoricalBar, from, to time.Time) error {
	var prev time.Time
	for i, bar := range bars {
		if bar.Date.Before(from.Truncate(24*time.Hour)) || bar.Date.After(to.Add(24*time.Hour)) {
			return fmt.Errorf("bar %d date %s outside requested range", i, bar.Date.Format("2006-01-02"))
		}
		if i > 0 && bar.Date.Before(prev) {
			return fmt.Errorf("bar %d out of order", i)
		}
		if !bar.Valid() {
			return fmt.Errorf("bar %d violates OHLCV invariants", i)
		}
		prev = bar.Date
	}
	return nil
}

func decodeJSON(raw []byte, out any) error {
	return json.Unmarshal(raw, out)
}

func clamp(articles []models.NewsArticle, limit int) []models.NewsArticle {
	if limit > 0 && len(articles) > limit {
		return articles[:limit]
	}
	return articles
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
