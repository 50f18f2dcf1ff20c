// Package ticker runs the background price loop: while the market is open,
// fetch a quote batch for every subscribed ticker and broadcast it.
package ticker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/stockd/pkg/models"
)

const (
	defaultInterval = 60 * time.Second
	defaultStopWait = 5 * time.Second
)

// PriceSource fetches a batch of quotes.
type PriceSource interface {
	BatchPrices(ctx context.Context, tickers []string) (map[string]*models.PriceSnapshot, error)
}

// Broadcaster exposes the subscribed ticker set and price fan-out.
type Broadcaster interface {
	Tickers() []string
	BroadcastPriceUpdate(ticker string, snapshot *models.PriceSnapshot) int
}

// AlertChecker evaluates alerts against fresh quotes. Optional.
type AlertChecker interface {
	CheckPrices(ctx context.Context, prices map[string]*models.PriceSnapshot)
}

// Options tunes the loop.
type Options struct {
	// Interval between ticks. Zero means 60s.
	Interval time.Duration

	// MarketOpen is the market-hours predicate. Nil means the placeholder
	// UTC 14:30-21:00 window standing in for US East trading hours.
	MarketOpen func(time.Time) bool

	// StopWait bounds graceful shutdown. Zero means 5s.
	StopWait time.Duration
}

// Loop is the single background price task.
type Loop struct {
	prices      PriceSource
	broadcaster Broadcaster
	checker     AlertChecker
	logger      *slog.Logger
	opts        Options

	stop chan struct{}
	done chan struct{}
}

// New constructs the loop. checker may be nil.
func New(prices PriceSource, broadcaster Broadcaster, checker AlertChecker, logger *slog.Logger, opts Options) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.StopWait <= 0 {
		opts.StopWait = defaultStopWait
	}
	if opts.MarketOpen == nil {
		opts.MarketOpen = MarketOpenUTC
	}
	return &Loop{
		prices:      prices,
		broadcaster: broadcaster,
		checker:     checker,
		logger:      logger.With("component", "ticker"),
		opts:        opts,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// MarketOpenUTC is the default market-hours predicate: 14:30-21:00 UTC, a
// placeholder for US East trading hours.
func MarketOpenUTC(now time.Time) bool {
	utc := now.UTC()
	minutes := utc.Hour()*60 + utc.Minute()
	return minutes >= 14*60+30 && minutes < 21*60
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	go l.run()
	l.logger.Info("price loop started", "interval", l.opts.Interval)
}

// Stop signals the loop and waits for graceful exit, bounded by StopWait and
// ctx, whichever ends first.
func (l *Loop) Stop(ctx context.Context) error {
	close(l.stop)
	select {
	case <-l.done:
		l.logger.Info("price loop stopped")
		return nil
	case <-time.After(l.opts.StopWait):
		return fmt.Errorf("price loop did not stop within %s", l.opts.StopWait)
	case <-ctx.Done():
		return fmt.Errorf("price loop stop: %w", ctx.Err())
	}
}

func (l *Loop) run() {
	defer close(l.done)

	timer := time.NewTicker(l.opts.Interval)
	defer timer.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-timer.C:
			l.tick()
		}
	}
}

// tick performs one iteration. The tick context is capped at the interval so
// a slow upstream cannot stack iterations.
func (l *Loop) tick() {
	if !l.opts.MarketOpen(time.Now()) {
		return
	}

	tickers := l.broadcaster.Tickers()
	if len(tickers) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.opts.Interval)
	defer cancel()

	quotes, err := l.prices.BatchPrices(ctx, tickers)
	if err != nil {
		l.logger.Error("price batch failed", "tickers", len(tickers), "error", err)
		return
	}

	delivered := 0
	for ticker, snapshot := range quotes {
		delivered += l.broadcaster.BroadcastPriceUpdate(ticker, snapshot)
	}
	l.logger.Debug("tick complete", "tickers", len(tickers), "quotes", len(quotes), "delivered", delivered)

	if l.checker != nil {
		l.checker.CheckPrices(ctx, quotes)
	}
}
