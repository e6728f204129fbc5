package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vendorhub/internal/aggregate"
	"vendorhub/internal/bulk"
	"vendorhub/internal/config"
	"vendorhub/internal/logger"
	"vendorhub/internal/registry"
	"vendorhub/internal/vendor"
)

const (
	maxQuoteSymbols = 100
	maxBulkSymbols  = 500
	quoteFanOut     = 8
)

type server struct {
	reg     *registry.Registry
	bulk    config.Bulk
	timeout time.Duration
	log     *logger.Entry
	// sleep overrides the bulk cooldown wait in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/vendors", s.handleListVendors)
	mux.HandleFunc("GET /api/vendors/{id}", s.handleVendorInfo)
	mux.HandleFunc("GET /api/vendors/{id}/capabilities", s.handleCapabilities)
	mux.HandleFunc("POST /api/vendors/{id}/probe", s.handleProbe)
	mux.HandleFunc("POST /api/vendors/{id}/dispatch", s.handleDispatch)
	mux.HandleFunc("GET /api/quotes", s.handleQuotes)
	mux.HandleFunc("GET /api/analytics", s.handleAnalytics)
	mux.HandleFunc("POST /api/bulk", s.handleBulk)
	return mux
}

type dataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeData(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: v})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, vendor.Envelope{Success: false, Message: msg})
}

// writeFailure maps dispatch errors to a status: unknown vendor or
// operation is 404, anything an adapter returned is 502 with its envelope.
func writeFailure(w http.ResponseWriter, err error) {
	if errors.Is(err, vendor.ErrMethodNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var ve *vendor.Error
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadGateway, ve.Envelope())
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

func (s *server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *server) handleListVendors(w http.ResponseWriter, r *http.Request) {
	ids := s.reg.IDs()
	if c := strings.TrimSpace(r.URL.Query().Get("capability")); c != "" {
		flag, err := vendor.ParseCapability(c)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ids = s.reg.IDsWithCapability(flag)
	}
	infos := make([]registry.Info, 0, len(ids))
	for _, id := range ids {
		infos = append(infos, s.reg.Info(id))
	}
	writeData(w, infos)
}

func (s *server) handleVendorInfo(w http.ResponseWriter, r *http.Request) {
	info := s.reg.Info(r.PathValue("id"))
	if !info.Exists {
		writeJSON(w, http.StatusNotFound, dataResponse{Data: info})
		return
	}
	writeData(w, info)
}

func (s *server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.reg.Get(id); !ok {
		writeError(w, http.StatusNotFound, "unknown vendor "+id)
		return
	}
	writeData(w, s.reg.CapabilitiesOf(id))
}

func (s *server) handleProbe(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()
	res, err := s.reg.Probe(ctx, r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, res)
}

type dispatchBody struct {
	Operation string        `json:"operation"`
	Symbol    string        `json:"symbol"`
	Interval  string        `json:"interval"`
	Period    string        `json:"period"`
	Order     *vendor.Order `json:"order"`
}

func (s *server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var b dispatchBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(b.Operation) == "" {
		writeError(w, http.StatusBadRequest, "operation is required")
		return
	}
	call := registry.Call{Symbol: b.Symbol, Interval: b.Interval, Period: b.Period}
	if b.Order != nil {
		call.Order = *b.Order
	}

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()
	out, err := s.reg.Dispatch(ctx, r.PathValue("id"), b.Operation, call)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, out)
}

type quotesResponse struct {
	Quotes []aggregate.Latest `json:"quotes"`
	Errors []vendor.Envelope  `json:"errors,omitempty"`
}

func (s *server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	symbols := config.SplitCSV(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "missing symbols query param")
		return
	}
	if len(symbols) > maxQuoteSymbols {
		writeError(w, http.StatusBadRequest, "too many symbols")
		return
	}
	ids := s.reg.IDsWithCapability(vendor.CapMarketData)
	if id := r.URL.Query().Get("vendor"); id != "" {
		if !s.reg.CapabilitiesOf(id).Has(vendor.CapMarketData) {
			writeError(w, http.StatusNotFound, "vendor "+id+" does not serve market data")
			return
		}
		ids = []string{id}
	}
	if len(ids) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no market data vendors registered")
		return
	}
	interval := r.URL.Query().Get("interval")

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	// fan out across vendors and symbols; collect partial results
	var (
		mu     sync.Mutex
		quotes []aggregate.Sourced
		errs   []vendor.Envelope
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(quoteFanOut)
	for _, id := range ids {
		for _, sym := range symbols {
			g.Go(func() error {
				out, err := s.reg.Dispatch(gctx, id, string(vendor.OpGetMarketData), registry.Call{Symbol: sym, Interval: interval})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, envelope(id, err))
					return nil
				}
				quotes = append(quotes, aggregate.Sourced{Vendor: id, Quote: out.(vendor.Quote)})
				return nil
			})
		}
	}
	_ = g.Wait()

	if len(quotes) == 0 && len(errs) > 0 {
		writeJSON(w, http.StatusBadGateway, quotesResponse{Quotes: []aggregate.Latest{}, Errors: errs})
		return
	}
	writeJSON(w, http.StatusOK, quotesResponse{Quotes: aggregate.LatestBySymbol(quotes), Errors: errs})
}

func (s *server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol query param")
		return
	}
	id := r.URL.Query().Get("vendor")
	if id == "" {
		ids := s.reg.IDsWithCapability(vendor.CapAnalytics)
		if len(ids) == 0 {
			writeError(w, http.StatusServiceUnavailable, "no analytics vendors registered")
			return
		}
		id = ids[0]
	}

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()
	out, err := s.reg.Dispatch(ctx, id, string(vendor.OpGetAnalytics), registry.Call{Symbol: symbol})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeData(w, out)
}

type bulkBody struct {
	Vendor    string   `json:"vendor"`
	Symbols   []string `json:"symbols"`
	Intervals []string `json:"intervals"`
	Period    string   `json:"period"`
	BatchSize int      `json:"batchSize"`
}

type bulkFailure struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Message  string `json:"message"`
}

type bulkResponse struct {
	Success  bool          `json:"success"`
	Data     bulk.Result   `json:"data"`
	Stats    bulk.Stats    `json:"stats"`
	Failures []bulkFailure `json:"failures,omitempty"`
}

func (s *server) handleBulk(w http.ResponseWriter, r *http.Request) {
	var b bulkBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(b.Symbols) == 0 {
		writeError(w, http.StatusBadRequest, "symbols cannot be empty")
		return
	}
	if len(b.Symbols) > maxBulkSymbols {
		writeError(w, http.StatusBadRequest, "too many symbols")
		return
	}
	if b.Vendor == "" {
		ids := s.reg.IDsWithCapability(vendor.CapMarketData)
		if len(ids) == 0 {
			writeError(w, http.StatusServiceUnavailable, "no market data vendors registered")
			return
		}
		b.Vendor = ids[0]
	}
	a, ok := s.reg.Get(b.Vendor)
	if !ok || !s.reg.CapabilitiesOf(b.Vendor).Has(vendor.CapMarketData) {
		writeError(w, http.StatusNotFound, "vendor "+b.Vendor+" does not serve market data")
		return
	}
	if b.Period == "" {
		b.Period = s.bulk.Period
	}
	if b.BatchSize <= 0 {
		b.BatchSize = s.bulk.BatchSize
	}

	sched := &bulk.Scheduler{
		Source:   a,
		Cooldown: time.Duration(s.bulk.CooldownMs) * time.Millisecond,
		Sleep:    s.sleep,
		Log:      s.log.WithField("vendor", b.Vendor),
	}
	var failures []bulkFailure
	res, stats, err := sched.DownloadWithStats(r.Context(), b.Symbols, b.Intervals, bulk.Options{
		Period:    b.Period,
		BatchSize: b.BatchSize,
		OnError: func(symbol, interval string, err error) {
			failures = append(failures, bulkFailure{Symbol: symbol, Interval: interval, Message: err.Error()})
		},
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bulkResponse{Success: true, Data: res, Stats: stats, Failures: failures})
}

func envelope(id string, err error) vendor.Envelope {
	var ve *vendor.Error
	if errors.As(err, &ve) {
		return ve.Envelope()
	}
	return vendor.Envelope{Message: err.Error(), VendorName: id}
}
