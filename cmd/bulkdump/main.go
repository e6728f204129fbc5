package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"vendorhub/internal/app"
	"vendorhub/internal/bulk"
	"vendorhub/internal/config"
	"vendorhub/internal/logger"
	"vendorhub/internal/vendor"
)

type dump struct {
	Vendor      string      `json:"vendor"`
	Period      string      `json:"period"`
	Intervals   []string    `json:"intervals"`
	GeneratedAt time.Time   `json:"generatedAt"`
	Stats       bulk.Stats  `json:"stats"`
	Data        bulk.Result `json:"data"`
}

func main() {
	var (
		symbolsFile  string
		outPath      string
		cfgPath      string
		vendorID     string
		intervalsCSV string
		period       string
		batchSize    int
		cooldownMs   int
	)
	flag.StringVar(&symbolsFile, "symbols-file", "symbols.txt", "symbols: JSON array, JSON object keys, or one per line")
	flag.StringVar(&outPath, "out", "bulk_history.json", "output JSON file path")
	flag.StringVar(&cfgPath, "config", os.Getenv("CONFIG_FILE"), "path to config file (optional)")
	flag.StringVar(&vendorID, "vendor", app.YahooID, "registry id of the vendor")
	flag.StringVar(&intervalsCSV, "intervals", bulk.DefaultInterval, "comma-separated intervals")
	flag.StringVar(&period, "period", "", "history range (default from config)")
	flag.IntVar(&batchSize, "batch", 0, "symbols per batch (default from config)")
	flag.IntVar(&cooldownMs, "cooldown-ms", -1, "pause between batches (default from config)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.GetLogger().WithError(err).Fatal("config")
	}
	log, err := app.NewLogger(cfg.Logging)
	if err != nil {
		logger.GetLogger().WithError(err).Fatal("logger")
	}
	entry := log.WithComponent("bulkdump")

	if period == "" {
		period = cfg.Bulk.Period
	}
	if batchSize <= 0 {
		batchSize = cfg.Bulk.BatchSize
	}
	if cooldownMs < 0 {
		cooldownMs = cfg.Bulk.CooldownMs
	}

	symbols, err := readSymbols(symbolsFile)
	if err != nil {
		entry.WithError(err).WithField("file", symbolsFile).Fatal("read symbols")
	}
	if len(symbols) == 0 {
		entry.WithField("file", symbolsFile).Fatal("no symbols to download")
	}

	reg, err := app.Build(cfg, log)
	if err != nil {
		entry.WithError(err).Fatal("build registry")
	}
	defer reg.Close()
	src, ok := reg.Get(vendorID)
	if !ok || !reg.CapabilitiesOf(vendorID).Has(vendor.CapMarketData) {
		entry.WithField("vendor", vendorID).Fatal("vendor does not serve market data")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	intervals := config.SplitCSV(intervalsCSV)
	sched := bulk.New(src, time.Duration(cooldownMs)*time.Millisecond, log)
	res, stats, err := sched.DownloadWithStats(ctx, symbols, intervals, bulk.Options{Period: period, BatchSize: batchSize})
	if err != nil {
		entry.WithError(err).Warn("download interrupted; writing partial result")
	}

	out := dump{
		Vendor:      vendorID,
		Period:      period,
		Intervals:   intervals,
		GeneratedAt: time.Now().UTC(),
		Stats:       stats,
		Data:        res,
	}
	if err := writeJSON(outPath, out); err != nil {
		entry.WithError(err).Fatal("write output")
	}
	entry.WithFields(logger.Fields{
		"out":      outPath,
		"symbols":  len(res),
		"requests": stats.Requests,
		"failures": stats.Failures,
	}).Info("bulk dump written")
}

// readSymbols accepts a JSON array of symbols, a JSON object whose keys are
// symbols, or plain text with one symbol per line ('#' starts a comment).
// Symbols are normalized, deduplicated and sorted.
func readSymbols(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []string
	trimmed := bytes.TrimSpace(b)
	switch {
	case bytes.HasPrefix(trimmed, []byte("[")):
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case bytes.HasPrefix(trimmed, []byte("{")):
		var m map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for k := range m {
			raw = append(raw, k)
		}
	default:
		sc := bufio.NewScanner(bytes.NewReader(trimmed))
		for sc.Scan() {
			line := sc.Text()
			if i := strings.IndexByte(line, '#'); i >= 0 {
				line = line[:i]
			}
			raw = append(raw, config.SplitCSV(line)...)
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = vendor.NormalizeSymbol(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
