// Package analytics derives a volatility tier, weekly trend and a
// buy/sell/hold recommendation from daily and weekly quotes.
package analytics

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"vendorhub/internal/vendor"
)

const (
	DailyInterval  = "1d"
	WeeklyInterval = "1wk"
)

// QuoteSource is the per-symbol fetch the engine builds on.
type QuoteSource interface {
	MarketData(ctx context.Context, symbol, interval string) (vendor.Quote, error)
}

type Engine struct {
	Source QuoteSource
}

// Snapshot fetches the daily and weekly quote concurrently. Both must
// succeed.
func (e Engine) Snapshot(ctx context.Context, symbol string) (vendor.AnalyticsSnapshot, error) {
	var daily, weekly vendor.Quote
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q, err := e.Source.MarketData(gctx, symbol, DailyInterval)
		daily = q
		return err
	})
	g.Go(func() error {
		q, err := e.Source.MarketData(gctx, symbol, WeeklyInterval)
		weekly = q
		return err
	})
	if err := g.Wait(); err != nil {
		return vendor.AnalyticsSnapshot{}, fmt.Errorf("%w: %s: %w", vendor.ErrAggregation, symbol, err)
	}

	return vendor.AnalyticsSnapshot{
		Symbol:         symbol,
		Price:          daily.Price,
		Change:         daily.Change,
		ChangePercent:  daily.ChangePercent,
		Volume:         daily.Volume,
		MarketCap:      daily.MarketCap,
		PE:             daily.PE,
		Volatility:     ClassifyVolatility(daily, weekly),
		WeeklyTrend:    WeeklyTrend(weekly),
		Recommendation: Recommend(daily),
	}, nil
}

// ClassifyVolatility buckets the magnitude of daily and weekly moves.
func ClassifyVolatility(daily, weekly vendor.Quote) vendor.Volatility {
	d := math.Abs(daily.ChangePercent)
	w := math.Abs(weekly.ChangePercent)
	switch {
	case d > 5 || w > 15:
		return vendor.VolatilityHigh
	case d > 2 || w > 8:
		return vendor.VolatilityMedium
	default:
		return vendor.VolatilityLow
	}
}

func WeeklyTrend(weekly vendor.Quote) vendor.Trend {
	if weekly.Change > 0 {
		return vendor.TrendUp
	}
	return vendor.TrendDown
}

// Score is the additive heuristic behind Recommend.
func Score(q vendor.Quote) float64 {
	score := 0.0
	if q.ChangePercent > 2 {
		score++
	}
	if q.ChangePercent < -2 {
		score--
	}
	if q.Volume > 1_000_000 {
		score += 0.5
	}
	if q.PE != nil && *q.PE < 15 {
		score += 0.5
	}
	if q.PE != nil && *q.PE > 30 {
		score -= 0.5
	}
	return score
}

func Recommend(q vendor.Quote) vendor.Recommendation {
	switch s := Score(q); {
	case s > 1:
		return vendor.RecommendBuy
	case s < -1:
		return vendor.RecommendSell
	default:
		return vendor.RecommendHold
	}
}
