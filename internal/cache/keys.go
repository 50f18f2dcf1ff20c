package cache

import (
	"strings"
	"time"
)

// TTLs per key family.
const (
	PriceTTL      = 60 * time.Second
	NewsTTL       = 15 * time.Minute
	HistoricalTTL = time.Hour
	MarketTTL     = 5 * time.Minute
)

// PriceKey is the cache key for a ticker quote.
func PriceKey(ticker string) string {
	return "stock:price:" + normalizeTicker(ticker)
}

// NewsKey is the cache key for per-ticker news.
func NewsKey(ticker string) string {
	return "stock:news:" + normalizeTicker(ticker)
}

// MarketNewsKey is the cache key for market-wide news.
const MarketNewsKey = "market:news"

// MarketOverviewKey is the cache key for the market overview.
const MarketOverviewKey = "market:overview"

// HistoricalKey is the cache key for a historical series over a date range.
func HistoricalKey(ticker, from, to string) string {
	return "stock:historical:" + normalizeTicker(ticker) + ":" + from + ":" + to
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
