// Package app wires configured vendors into a registry. The server and the
// CLIs share it.
package app

import (
	"fmt"
	"net/http"
	"time"

	"vendorhub/internal/config"
	"vendorhub/internal/httpx"
	"vendorhub/internal/logger"
	"vendorhub/internal/paper"
	"vendorhub/internal/ratelimit"
	"vendorhub/internal/registry"
	"vendorhub/internal/yahoo"
)

// Registry ids of the built-in vendors.
const (
	YahooID = "yahoo"
	PaperID = "paper"
)

// NewLogger configures the process logger from cfg.
func NewLogger(cfg config.Logging) (*logger.Log, error) {
	log := logger.GetLogger()
	if err := log.Configure(cfg.Level, cfg.Format, cfg.Output, cfg.MaxAgeDays); err != nil {
		return nil, fmt.Errorf("configure logger: %w", err)
	}
	return log, nil
}

// Build registers every enabled vendor. The paper broker is registered
// after the vendor it prices from so the lookup succeeds.
func Build(cfg config.Config, log *logger.Log) (*registry.Registry, error) {
	reg := registry.New(log)
	timeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second

	if cfg.Yahoo.Enabled {
		if !reg.Register(YahooID, NewYahoo(cfg.Yahoo, timeout, log)) {
			return nil, fmt.Errorf("register %s", YahooID)
		}
	}
	if cfg.Paper.Enabled {
		cash, err := cfg.Paper.Cash()
		if err != nil {
			return nil, err
		}
		var prices paper.QuoteSource
		if a, ok := reg.Get(cfg.Paper.PriceVendor); ok {
			prices = a
		} else if cfg.Paper.PriceVendor != "" {
			log.WithComponent("app").WithField("vendor", cfg.Paper.PriceVendor).Warn("paper price vendor not registered; only limit orders will fill")
		}
		if !reg.Register(PaperID, paper.New(paper.Config{InitialCash: cash}, prices, log)) {
			return nil, fmt.Errorf("register %s", PaperID)
		}
	}
	return reg, nil
}

// NewYahoo builds the chart adapter on the shared HTTP client, gated by the
// configured rate limits.
func NewYahoo(cfg config.Yahoo, timeout time.Duration, log *logger.Log) *yahoo.Adapter {
	hc := httpx.New(timeout)
	if cfg.UserAgent != "" {
		hc.UserAgent = cfg.UserAgent
	}
	doer := ratelimit.Wrap(hc, cfg.MaxRequestsPerMinute, cfg.Burst, time.Duration(cfg.MinRequestIntervalMs)*time.Millisecond)

	client := yahoo.NewClient(
		yahoo.WithBaseURL(cfg.Endpoint),
		yahoo.WithHTTPClient(doer),
		yahoo.WithHeader(http.Header{"Accept": []string{"application/json"}}),
	)
	ttl := time.Duration(cfg.CacheTTLMillis) * time.Millisecond
	if cfg.CacheTTLMillis < 0 {
		ttl = -1
	}
	return yahoo.New(yahoo.Config{ProbeSymbol: cfg.ProbeSymbol, CacheTTL: ttl, FetchTimeout: timeout}, client, yahoo.WithLogger(log))
}
