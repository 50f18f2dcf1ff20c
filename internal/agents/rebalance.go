package agents

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/haasonsaas/stockd/internal/storage"
)

// RebalanceAction is one suggested trade.
type RebalanceAction struct {
	Ticker        string  `json:"ticker"`
	Action        string  `json:"action"` // buy or sell
	Shares        float64 `json:"shares"`
	CurrentWeight float64 `json:"current_weight"`
	TargetWeight  float64 `json:"target_weight"`
}

// RebalanceReport is the rebalancing agent's output.
type RebalanceReport struct {
	TotalValue float64            `json:"total_value"`
	Weights    map[string]float64 `json:"weights"`
	Actions    []RebalanceAction  `json:"actions"`
	Balanced   bool               `json:"balanced"`
}

// RebalancingAgent compares current portfolio weights against target
// allocations and suggests trades for drift beyond the tolerance.
type RebalancingAgent struct {
	portfolios storage.PortfolioStore
	prices     PriceFetcher
	tolerance  float64
}

// NewRebalancingAgent constructs the rebalancing agent. tolerance is the
// absolute weight drift that triggers a suggestion; zero means 2%.
func NewRebalancingAgent(portfolios storage.PortfolioStore, prices PriceFetcher, tolerance float64) *RebalancingAgent {
	if tolerance <= 0 {
		tolerance = 0.02
	}
	return &RebalancingAgent{portfolios: portfolios, prices: prices, tolerance: tolerance}
}

func (a *RebalancingAgent) Name() string { return "rebalancing" }

// Run values the portfolio at current quotes and suggests buys/sells that
// would restore the target weights.
func (a *RebalancingAgent) Run(ctx context.Context, state State) (any, error) {
	userID := state.UserID()
	if userID == "" {
		return nil, fmt.Errorf("user_id missing from workflow input")
	}

	positions, err := a.portfolios.Positions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	if len(positions) == 0 {
		return RebalanceReport{Weights: map[string]float64{}, Actions: []RebalanceAction{}, Balanced: true}, nil
	}

	targets, err := a.portfolios.Targets(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}

	tickers := make([]string, 0, len(positions))
	for _, pos := range positions {
		tickers = append(tickers, pos.Ticker)
	}
	quotes, err := a.prices.BatchPrices(ctx, tickers)
	if err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}

	values := make(map[string]float64, len(positions))
	var total float64
	for _, pos := range positions {
		quote, ok := quotes[pos.Ticker]
		if !ok {
			return nil, fmt.Errorf("no quote for %s", pos.Ticker)
		}
		value := pos.Shares * quote.Price
		values[pos.Ticker] += value
		total += value
	}
	if total <= 0 {
		return nil, fmt.Errorf("portfolio has no value")
	}

	report := RebalanceReport{
		TotalValue: total,
		Weights:    make(map[string]float64, len(values)),
		Actions:    []RebalanceAction{},
		Balanced:   true,
	}
	for ticker, value := range values {
		report.Weights[ticker] = value / total
	}

	for ticker, target := range targets {
		current := report.Weights[ticker]
		drift := current - target
		if math.Abs(drift) <= a.tolerance {
			continue
		}
		quote, ok := quotes[ticker]
		if !ok || quote.Price <= 0 {
			continue
		}

		action := RebalanceAction{
			Ticker:        ticker,
			CurrentWeight: current,
			TargetWeight:  target,
			Shares:        math.Abs(drift) * total / quote.Price,
		}
		if drift > 0 {
			action.Action = "sell"
		} else {
			action.Action = "buy"
		}
		report.Actions = append(report.Actions, action)
		report.Balanced = false
	}

	sort.Slice(report.Actions, func(i, j int) bool {
		return report.Actions[i].Ticker < report.Actions[j].Ticker
	})
	return report, nil
}
