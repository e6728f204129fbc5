// Package yahoo implements the vendor contract on top of the public chart
// endpoint.
package yahoo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"vendorhub/internal/analytics"
	"vendorhub/internal/cache"
	"vendorhub/internal/chart"
	"vendorhub/internal/logger"
	"vendorhub/internal/vendor"
)

var intervals = []string{"1m", "2m", "5m", "15m", "30m", "60m", "90m", "1h", "1d", "5d", "1wk", "1mo", "3mo"}

// Intervals lists the bar sizes the chart endpoint accepts.
func Intervals() []string { return slices.Clone(intervals) }

type Config struct {
	Name            string // display name, default: Yahoo Finance
	ProbeSymbol     string // symbol fetched by Connect, default: AAPL
	DefaultInterval string // default: 1d
	DefaultPeriod   string // default: 1mo
	// CacheTTL applies to quotes and series. Zero means cache.DefaultTTL,
	// negative disables caching.
	CacheTTL time.Duration
	// FetchTimeout bounds a shared upstream fetch, which outlives the
	// caller that started it. Default: 30s.
	FetchTimeout time.Duration
}

type Adapter struct {
	vendor.Base
	cfg    Config
	client *Client
	log    *logger.Entry

	quotes *cache.TTL[vendor.Quote]
	series *cache.TTL[vendor.HistoricalSeries]
	// coalesce concurrent misses per cache key
	sf singleflight.Group

	engine analytics.Engine
}

// Option customises the adapter.
type Option func(*options)

type options struct {
	clock func() time.Time
	log   *logger.Log
}

// WithClock injects the cache clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

func WithLogger(l *logger.Log) Option {
	return func(o *options) { o.log = l }
}

func New(cfg Config, client *Client, opts ...Option) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "Yahoo Finance"
	}
	if cfg.ProbeSymbol == "" {
		cfg.ProbeSymbol = "AAPL"
	}
	if cfg.DefaultInterval == "" {
		cfg.DefaultInterval = "1d"
	}
	if cfg.DefaultPeriod == "" {
		cfg.DefaultPeriod = "1mo"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if client == nil {
		client = NewClient()
	}
	o := options{clock: time.Now, log: logger.GetLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &Adapter{
		Base: vendor.NewBase(cfg.Name, map[string]string{
			"baseUrl":     client.baseURL,
			"probeSymbol": cfg.ProbeSymbol,
		}, vendor.Capabilities{
			MarketData: true,
			Analytics:  true,
			Realtime:   true,
		}),
		cfg:    cfg,
		client: client,
		log:    o.log.WithComponent("yahoo").WithField("vendor", cfg.Name),
		quotes: cache.New[vendor.Quote](cfg.CacheTTL, cache.WithClock(o.clock)),
		series: cache.New[vendor.HistoricalSeries](cfg.CacheTTL, cache.WithClock(o.clock)),
	}
	a.engine = analytics.Engine{Source: a}
	return a
}

// Connect validates reachability by fetching a quote for the probe symbol.
func (a *Adapter) Connect(ctx context.Context) (ok bool, err error) {
	defer a.Recover(vendor.OpConnect, &err)
	if _, err := a.MarketData(ctx, a.cfg.ProbeSymbol, a.cfg.DefaultInterval); err != nil {
		a.SetConnected(false)
		return false, a.Fail(vendor.OpConnect, fmt.Errorf("%w: probe %s: %w", vendor.ErrConnection, a.cfg.ProbeSymbol, unwrapEnvelope(err)))
	}
	a.SetConnected(true)
	return true, nil
}

// MarketData returns a quote for symbol, served from cache while fresh.
func (a *Adapter) MarketData(ctx context.Context, symbol, interval string) (q vendor.Quote, err error) {
	defer a.Recover(vendor.OpGetMarketData, &err)
	symbol = vendor.NormalizeSymbol(symbol)
	if symbol == "" {
		return q, a.Fail(vendor.OpGetMarketData, errors.New("symbol is required"))
	}
	if interval == "" {
		interval = a.cfg.DefaultInterval
	}

	key := symbol + "_" + interval
	if q, ok := a.quotes.Get(key); ok {
		return q, nil
	}
	v, err := a.shared(ctx, "quote:"+key, func(ctx context.Context) (any, error) {
		if q, ok := a.quotes.Get(key); ok {
			return q, nil
		}
		raw, err := a.client.Chart(ctx, symbol, interval, QuoteRange(interval))
		if err != nil {
			return nil, err
		}
		q, err := chart.ParseQuote(raw, symbol)
		if err != nil {
			return nil, err
		}
		a.quotes.Set(key, q)
		return q, nil
	})
	if err != nil {
		a.log.WithError(err).WithFields(logger.Fields{"symbol": symbol, "interval": interval}).Warn("quote fetch failed")
		return vendor.Quote{}, a.Fail(vendor.OpGetMarketData, err)
	}
	return v.(vendor.Quote), nil
}

// HistoricalData returns bars for symbol over period.
func (a *Adapter) HistoricalData(ctx context.Context, symbol, interval, period string) (s vendor.HistoricalSeries, err error) {
	defer a.Recover(vendor.OpGetHistoricalData, &err)
	symbol = vendor.NormalizeSymbol(symbol)
	if symbol == "" {
		return s, a.Fail(vendor.OpGetHistoricalData, errors.New("symbol is required"))
	}
	if interval == "" {
		interval = a.cfg.DefaultInterval
	}
	if period == "" {
		period = a.cfg.DefaultPeriod
	}

	key := symbol + "_" + interval + "_" + period
	if s, ok := a.series.Get(key); ok {
		return s, nil
	}
	v, err := a.shared(ctx, "series:"+key, func(ctx context.Context) (any, error) {
		if s, ok := a.series.Get(key); ok {
			return s, nil
		}
		raw, err := a.client.Chart(ctx, symbol, interval, period)
		if err != nil {
			return nil, err
		}
		s, err := chart.ParseHistoricalSeries(raw, symbol)
		if err != nil {
			return nil, err
		}
		a.series.Set(key, s)
		return s, nil
	})
	if err != nil {
		a.log.WithError(err).WithFields(logger.Fields{"symbol": symbol, "interval": interval, "period": period}).Warn("history fetch failed")
		return vendor.HistoricalSeries{}, a.Fail(vendor.OpGetHistoricalData, err)
	}
	return v.(vendor.HistoricalSeries), nil
}

// Analytics combines the daily and weekly quote.
func (a *Adapter) Analytics(ctx context.Context, symbol string) (snap vendor.AnalyticsSnapshot, err error) {
	defer a.Recover(vendor.OpGetAnalytics, &err)
	snap, err = a.engine.Snapshot(ctx, vendor.NormalizeSymbol(symbol))
	if err != nil {
		return vendor.AnalyticsSnapshot{}, a.Fail(vendor.OpGetAnalytics, err)
	}
	return snap, nil
}

// CacheSize reports cached quotes and series. Diagnostics only.
func (a *Adapter) CacheSize() (quotes, series int) {
	return a.quotes.Len(), a.series.Len()
}

// shared runs fetch once per key across concurrent callers. The fetch is
// detached from ctx so one caller giving up does not fail the others; each
// caller still stops waiting when its own ctx is done.
func (a *Adapter) shared(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	ch := a.sf.DoChan(key, func() (v any, err error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.FetchTimeout)
		defer cancel()
		// DoChan re-panics on a fresh goroutine, out of reach of Recover.
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fetch(fctx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", vendor.ErrConnection, ctx.Err())
	}
}

// QuoteRange picks the chart range a quote for interval is read from, so
// that the previous close lies one interval back.
func QuoteRange(interval string) string {
	switch interval {
	case "5d", "1wk":
		return "5d"
	case "1mo":
		return "1mo"
	case "3mo":
		return "3mo"
	default:
		return "1d"
	}
}

func unwrapEnvelope(err error) error {
	var ve *vendor.Error
	if errors.As(err, &ve) {
		return ve.Err
	}
	return err
}
