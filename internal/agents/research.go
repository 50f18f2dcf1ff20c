package agents

import (
	"context"
	"fmt"

	"github.com/haasonsaas/stockd/pkg/models"
)

// NewsFetcher is the slice of the stock service the research agent needs.
type NewsFetcher interface {
	GetNews(ctx context.Context, ticker string, limit int) ([]models.NewsArticle, error)
}

// TickerResearch is the research agent's per-ticker output.
type TickerResearch struct {
	Ticker       string               `json:"ticker"`
	Sentiment    float64              `json:"sentiment"`
	ArticleCount int                  `json:"article_count"`
	TopHeadlines []string             `json:"top_headlines,omitempty"`
	Articles     []models.NewsArticle `json:"articles,omitempty"`
}

// ResearchAgent aggregates recent news and sentiment per ticker.
type ResearchAgent struct {
	news  NewsFetcher
	limit int
}

// NewResearchAgent constructs the research agent. limit caps articles per
// ticker; zero means the default of 10.
func NewResearchAgent(news NewsFetcher, limit int) *ResearchAgent {
	if limit <= 0 {
		limit = 10
	}
	return &ResearchAgent{news: news, limit: limit}
}

func (a *ResearchAgent) Name() string { return "research" }

// Run fetches deduplicated news per requested ticker and averages the
// per-article sentiment. Tickers come from the workflow input.
func (a *ResearchAgent) Run(ctx context.Context, state State) (any, error) {
	tickers := state.Tickers()
	if len(tickers) == 0 {
		return nil, fmt.Errorf("tickers missing from workflow input")
	}

	out := make(map[string]TickerResearch, len(tickers))
	for _, ticker := range tickers {
		articles, err := a.news.GetNews(ctx, ticker, a.limit)
		if err != nil {
			return nil, fmt.Errorf("news for %s: %w", ticker, err)
		}

		research := TickerResearch{Ticker: ticker, ArticleCount: len(articles), Articles: articles}
		var total float64
		for i, article := range articles {
			total += article.Sentiment
			if i < 3 {
				research.TopHeadlines = append(research.TopHeadlines, article.Headline)
			}
		}
		if len(articles) > 0 {
			research.Sentiment = total / float64(len(articles))
		}
		out[ticker] = research
	}
	return out, nil
}
