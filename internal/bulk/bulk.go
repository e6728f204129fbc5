// Package bulk downloads historical series for many symbols and intervals
// in fixed-size batches with a cooldown between batches.
package bulk

import (
	"context"
	"time"

	"vendorhub/internal/logger"
	"vendorhub/internal/vendor"
)

const (
	DefaultBatchSize = 10
	DefaultCooldown  = time.Second
	DefaultPeriod    = "1mo"
	DefaultInterval  = "1d"
)

// HistorySource is the per-pair fetch the scheduler builds on.
type HistorySource interface {
	HistoricalData(ctx context.Context, symbol, interval, period string) (vendor.HistoricalSeries, error)
}

// Result maps symbol -> interval -> series. Failed pairs are absent.
type Result map[string]map[string]vendor.HistoricalSeries

type Options struct {
	Period    string
	BatchSize int
	// OnError is called for every pair that failed, after it is logged.
	OnError func(symbol, interval string, err error)
}

// Stats summarises a finished job.
type Stats struct {
	Batches   int
	Cooldowns int
	Requests  int
	Failures  int
}

type Scheduler struct {
	Source   HistorySource
	Cooldown time.Duration
	// Sleep waits between batches; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	Log   *logger.Entry
}

func New(src HistorySource, cooldown time.Duration, log *logger.Log) *Scheduler {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Scheduler{Source: src, Cooldown: cooldown, Log: log.WithComponent("bulk")}
}

// Download fetches every (symbol, interval) pair. Pairs inside a batch run
// one after another; a failed pair is logged and skipped. The only error
// returned is the context's.
func (s *Scheduler) Download(ctx context.Context, symbols, intervals []string, opts Options) (Result, error) {
	res, _, err := s.DownloadWithStats(ctx, symbols, intervals, opts)
	return res, err
}

func (s *Scheduler) DownloadWithStats(ctx context.Context, symbols, intervals []string, opts Options) (Result, Stats, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Period == "" {
		opts.Period = DefaultPeriod
	}
	if len(intervals) == 0 {
		intervals = []string{DefaultInterval}
	}
	log := s.Log
	if log == nil {
		log = logger.GetLogger().WithComponent("bulk")
	}
	sleep := s.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	started := time.Now()
	out := Result{}
	var st Stats
	for i := 0; i < len(symbols); i += opts.BatchSize {
		end := min(i+opts.BatchSize, len(symbols))
		st.Batches++
		for _, sym := range symbols[i:end] {
			for _, iv := range intervals {
				if err := ctx.Err(); err != nil {
					return out, st, err
				}
				st.Requests++
				series, err := s.Source.HistoricalData(ctx, sym, iv, opts.Period)
				if err != nil {
					st.Failures++
					log.WithError(err).WithFields(logger.Fields{"symbol": sym, "interval": iv}).Warn("failed to download series")
					if opts.OnError != nil {
						opts.OnError(sym, iv, err)
					}
					continue
				}
				if out[sym] == nil {
					out[sym] = map[string]vendor.HistoricalSeries{}
				}
				out[sym][iv] = series
			}
		}
		if end < len(symbols) && s.Cooldown > 0 {
			st.Cooldowns++
			if err := sleep(ctx, s.Cooldown); err != nil {
				return out, st, err
			}
		}
	}

	logger.LogDuration(log, "bulk_download", started, logger.Fields{
		"symbols":  len(symbols),
		"batches":  st.Batches,
		"requests": st.Requests,
		"failures": st.Failures,
	})
	return out, st, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
