package models

import "time"

// PriceSnapshot is a point-in-time quote for a ticker.
type PriceSnapshot struct {
	Ticker        string    `json:"ticker"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewsArticle is a single news item for a ticker or the market at large.
type NewsArticle struct {
	Headline    string    `json:"headline"`
	Summary     string    `json:"summary,omitempty"`
	Source      string    `json:"source,omitempty"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`

	// Sentiment is a score in [-1, 1] filled in by the research pipeline.
	Sentiment float64 `json:"sentiment,omitempty"`
}

// HistoricalBar is one OHLCV bar in a historical series.
type HistoricalBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Valid reports whether the bar satisfies basic OHLCV invariants.
func (b HistoricalBar) Valid() bool {
	if b.High < b.Low || b.Volume < 0 {
		return false
	}
	if b.Open < b.Low || b.Open > b.High {
		return false
	}
	if b.Close < b.Low || b.Close > b.High {
		return false
	}
	return true
}

// MarketOverview is a coarse market summary used by dashboards.
type MarketOverview struct {
	Indices   map[string]PriceSnapshot `json:"indices"`
	TopNews   []NewsArticle            `json:"top_news,omitempty"`
	UpdatedAt time.Time                `json:"updated_at"`
}
