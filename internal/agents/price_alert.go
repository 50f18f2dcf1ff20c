package agents

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/stockd/internal/alerts"
	"github.com/haasonsaas/stockd/internal/storage"
	"github.com/haasonsaas/stockd/pkg/models"
)

// PriceFetcher is the slice of the stock service the agents need for quotes.
type PriceFetcher interface {
	BatchPrices(ctx context.Context, tickers []string) (map[string]*models.PriceSnapshot, error)
}

// PriceAlertAgent evaluates the workflow owner's active alerts against fresh
// quotes.
type PriceAlertAgent struct {
	alerts    storage.AlertStore
	evaluator *alerts.Evaluator
	prices    PriceFetcher
}

// NewPriceAlertAgent constructs the price_alert agent.
func NewPriceAlertAgent(store storage.AlertStore, evaluator *alerts.Evaluator, prices PriceFetcher) *PriceAlertAgent {
	return &PriceAlertAgent{alerts: store, evaluator: evaluator, prices: prices}
}

func (a *PriceAlertAgent) Name() string { return "price_alert" }

// Run fetches quotes for every ticker the user has an active alert on and
// runs the evaluator over them. The result reports what was checked and what
// fired.
func (a *PriceAlertAgent) Run(ctx context.Context, state State) (any, error) {
	userID := state.UserID()
	if userID == "" {
		return nil, fmt.Errorf("user_id missing from workflow input")
	}

	active, err := a.alerts.ListActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	if len(active) == 0 {
		return map[string]any{"checked": 0, "triggered": []string{}}, nil
	}

	seen := make(map[string]bool, len(active))
	tickers := make([]string, 0, len(active))
	for _, alert := range active {
		if !seen[alert.Ticker] {
			seen[alert.Ticker] = true
			tickers = append(tickers, alert.Ticker)
		}
	}

	quotes, err := a.prices.BatchPrices(ctx, tickers)
	if err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}

	// Each ticker is evaluated concurrently; the store CAS keeps triggers
	// single-shot even if two tickers race on the same alert.
	var mu sync.Mutex
	triggered := []string{}
	group, groupCtx := errgroup.WithContext(ctx)
	for ticker, snapshot := range quotes {
		ticker, snapshot := ticker, snapshot
		group.Go(func() error {
			fired, err := a.evaluator.CheckTicker(groupCtx, ticker, snapshot.Price)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, alert := range fired {
				if alert.UserID == userID {
					triggered = append(triggered, alert.ID)
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(triggered)

	return map[string]any{
		"checked":   len(active),
		"quoted":    len(quotes),
		"triggered": triggered,
	}, nil
}
