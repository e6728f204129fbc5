package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vendorhub/internal/app"
	"vendorhub/internal/config"
	"vendorhub/internal/logger"
	"vendorhub/internal/registry"
	"vendorhub/internal/vendor"
)

// commands maps the CLI verb to a registry operation. probe is handled
// separately.
var commands = map[string]vendor.Operation{
	"quote":     vendor.OpGetMarketData,
	"history":   vendor.OpGetHistoricalData,
	"analytics": vendor.OpGetAnalytics,
	"portfolio": vendor.OpGetPortfolio,
}

type options struct {
	Vendor   string
	Command  string
	Symbols  []string
	Interval string
	Period   string
}

type result struct {
	Symbol string           `json:"symbol,omitempty"`
	Data   any              `json:"data,omitempty"`
	Error  *vendor.Envelope `json:"error,omitempty"`
}

func main() {
	var (
		opts       options
		symbolsCSV string
		configPath string
		timeout    int
	)
	flag.StringVar(&opts.Vendor, "vendor", app.YahooID, "registry id of the vendor")
	flag.StringVar(&opts.Command, "cmd", "quote", "quote | history | analytics | portfolio | probe")
	flag.StringVar(&symbolsCSV, "symbols", "AAPL", "comma-separated symbols")
	flag.StringVar(&opts.Interval, "interval", "1d", "bar interval")
	flag.StringVar(&opts.Period, "period", "1mo", "history range")
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config file (optional)")
	flag.IntVar(&timeout, "timeout", 30, "overall timeout seconds")
	flag.Parse()
	opts.Symbols = config.SplitCSV(symbolsCSV)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.GetLogger().WithError(err).Fatal("config")
	}
	// keep stdout for JSON
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	log, err := app.NewLogger(cfg.Logging)
	if err != nil {
		logger.GetLogger().WithError(err).Fatal("logger")
	}
	reg, err := app.Build(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("build registry")
	}
	defer reg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	if err := run(ctx, reg, opts, os.Stdout); err != nil {
		log.WithComponent("fetch").WithError(err).Error("fetch failed")
		os.Exit(1)
	}
}

// run executes the command once per symbol and writes one JSON document.
// Per-symbol failures are reported inline; only usage errors fail the run.
func run(ctx context.Context, reg *registry.Registry, opts options, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)

	if opts.Command == "probe" {
		res, err := reg.Probe(ctx, opts.Vendor)
		if err != nil {
			return err
		}
		return enc.Encode(res)
	}

	op, ok := commands[opts.Command]
	if !ok {
		return fmt.Errorf("unknown command %q", opts.Command)
	}
	if op == vendor.OpGetPortfolio {
		out, err := reg.Dispatch(ctx, opts.Vendor, string(op), registry.Call{})
		return enc.Encode(toResult("", out, err))
	}
	if len(opts.Symbols) == 0 {
		return fmt.Errorf("no symbols given")
	}

	results := make([]result, 0, len(opts.Symbols))
	for _, sym := range opts.Symbols {
		out, err := reg.Dispatch(ctx, opts.Vendor, string(op), registry.Call{
			Symbol:   sym,
			Interval: opts.Interval,
			Period:   opts.Period,
		})
		if errors.Is(err, vendor.ErrMethodNotFound) {
			return err
		}
		results = append(results, toResult(sym, out, err))
	}
	return enc.Encode(results)
}

func toResult(symbol string, out any, err error) result {
	if err == nil {
		return result{Symbol: symbol, Data: out}
	}
	env := vendor.Envelope{Message: err.Error()}
	var ve *vendor.Error
	if errors.As(err, &ve) {
		env = ve.Envelope()
	}
	return result{Symbol: symbol, Error: &env}
}
