package yahoo_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"vendorhub/internal/logger"
	"vendorhub/internal/vendor"
	"vendorhub/internal/yahoo"
)

const (
	dailyPayload  = `{"chart":{"result":[{"meta":{"regularMarketPrice":103,"previousClose":100,"regularMarketVolume":2500000}}]}}`
	weeklyPayload = `{"chart":{"result":[{"meta":{"regularMarketPrice":103,"chartPreviousClose":110,"regularMarketVolume":2500000}}]}}`
	seriesPayload = `{"chart":{"result":[{"timestamp":[1700000000,1700086400,1700172800],
		"indicators":{"quote":[{"open":[1,2,3],"high":[2,3,4],"low":[0.5,1.5,2.5],"close":[1.5,null,3.5],"volume":[10,20,30]}]}}]}}`
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newAdapter(t *testing.T, httpClient yahoo.HTTPClient, opts ...yahoo.Option) *yahoo.Adapter {
	t.Helper()
	opts = append([]yahoo.Option{yahoo.WithLogger(logger.Discard())}, opts...)
	return yahoo.New(yahoo.Config{}, yahoo.NewClient(yahoo.WithHTTPClient(httpClient)), opts...)
}

func TestAdapter_Capabilities(t *testing.T) {
	t.Parallel()

	a := newAdapter(t, NewMockHTTPClient(gomock.NewController(t)))

	require.Equal(t, "Yahoo Finance", a.Name())
	require.Equal(t, vendor.Capabilities{MarketData: true, Analytics: true, Realtime: true}, a.Capabilities())
	require.False(t, a.Connected())
}

func TestAdapter_MarketDataServedFromCache(t *testing.T) {
	t.Parallel()

	// Arrange: one upstream call is allowed.
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "1d", req.URL.Query().Get("range"))
			return okResponse(dailyPayload), nil
		}).
		Times(1)
	a := newAdapter(t, httpClient)

	// Act: the second call, with a lower-case symbol, hits the cache.
	first, err := a.MarketData(t.Context(), "AAPL", "1d")
	require.NoError(t, err)
	second, err := a.MarketData(t.Context(), "aapl", "1d")
	require.NoError(t, err)

	// Assert
	require.Equal(t, first, second)
	require.Equal(t, "AAPL", first.Symbol)
	require.InDelta(t, 103.0, first.Price, 1e-9)
	require.InDelta(t, 3.0, first.ChangePercent, 1e-9)
}

func TestAdapter_MarketDataConcurrentMissesCoalesce(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(*http.Request) (*http.Response, error) {
			return okResponse(dailyPayload), nil
		}).
		Times(1)
	a := newAdapter(t, httpClient)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.MarketData(t.Context(), "AAPL", "1d")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestAdapter_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	t.Parallel()

	// Arrange: the upstream call blocks until released.
	started := make(chan struct{})
	release := make(chan struct{})
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			close(started)
			<-release
			assert.NoError(t, req.Context().Err())
			return okResponse(dailyPayload), nil
		}).
		Times(1)
	a := newAdapter(t, httpClient)

	short, cancel := context.WithCancel(t.Context())
	shortErr := make(chan error, 1)
	go func() {
		_, err := a.MarketData(short, "AAPL", "1d")
		shortErr <- err
	}()
	<-started

	type result struct {
		q   vendor.Quote
		err error
	}
	patient := make(chan result, 1)
	go func() {
		q, err := a.MarketData(t.Context(), "AAPL", "1d")
		patient <- result{q, err}
	}()

	// Act: the first caller gives up while the fetch is in flight.
	cancel()
	err := <-shortErr
	close(release)
	res := <-patient

	// Assert
	require.ErrorIs(t, err, vendor.ErrConnection)
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, res.err)
	require.InDelta(t, 103.0, res.q.Price, 1e-9)
}

func TestAdapter_MarketDataCacheExpires(t *testing.T) {
	t.Parallel()

	// Arrange: a controllable clock and two upstream calls.
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(*http.Request) (*http.Response, error) {
			return okResponse(dailyPayload), nil
		}).
		Times(2)
	a := newAdapter(t, httpClient, yahoo.WithClock(clock.Now))

	// Act & Assert: fresh just under 30s, refetched just over.
	_, err := a.MarketData(t.Context(), "AAPL", "1d")
	require.NoError(t, err)
	clock.Advance(29_999 * time.Millisecond)
	_, err = a.MarketData(t.Context(), "AAPL", "1d")
	require.NoError(t, err)
	clock.Advance(2 * time.Millisecond)
	_, err = a.MarketData(t.Context(), "AAPL", "1d")
	require.NoError(t, err)
}

func TestAdapter_IntervalsAreCachedSeparately(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(*http.Request) (*http.Response, error) {
			return okResponse(dailyPayload), nil
		}).
		Times(2)
	a := newAdapter(t, httpClient)

	_, err := a.MarketData(t.Context(), "AAPL", "1d")
	require.NoError(t, err)
	_, err = a.MarketData(t.Context(), "AAPL", "1wk")
	require.NoError(t, err)
}

func TestAdapter_HTTPFailureIsEnveloped(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(*http.Request) (*http.Response, error) {
			res := okResponse("upstream down")
			res.StatusCode = http.StatusInternalServerError
			return res, nil
		}).
		Times(1)
	a := newAdapter(t, httpClient)

	// Act
	_, err := a.MarketData(t.Context(), "AAPL", "1d")

	// Assert: the envelope names the vendor and the operation.
	require.ErrorIs(t, err, vendor.ErrHTTP)
	var ve *vendor.Error
	require.ErrorAs(t, err, &ve)
	env := ve.Envelope()
	require.False(t, env.Success)
	require.Equal(t, "Yahoo Finance", env.VendorName)
	require.Equal(t, "getMarketData", env.OperationContext)
	require.Contains(t, env.Message, "500")
}

func TestAdapter_EmptySymbolFails(t *testing.T) {
	t.Parallel()

	a := newAdapter(t, NewMockHTTPClient(gomock.NewController(t)))

	_, err := a.MarketData(t.Context(), "  ", "1d")

	var ve *vendor.Error
	require.ErrorAs(t, err, &ve)
	require.Equal(t, vendor.OpGetMarketData, ve.Op)
}

func TestAdapter_ConnectProbes(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "/v8/finance/chart/AAPL", req.URL.Path)
			return okResponse(dailyPayload), nil
		}).
		Times(1)
	a := newAdapter(t, httpClient)

	ok, err := a.Connect(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, a.Connected())

	a.Disconnect()
	require.False(t, a.Connected())
}

func TestAdapter_ConnectFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(okResponse(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`), nil).
		Times(1)
	a := newAdapter(t, httpClient)

	ok, err := a.Connect(t.Context())

	require.False(t, ok)
	require.False(t, a.Connected())
	require.ErrorIs(t, err, vendor.ErrConnection)
	require.ErrorIs(t, err, vendor.ErrParse)
	var ve *vendor.Error
	require.ErrorAs(t, err, &ve)
	require.Equal(t, vendor.OpConnect, ve.Op)
}

func TestAdapter_HistoricalData(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "1d", req.URL.Query().Get("interval"))
			require.Equal(t, "1mo", req.URL.Query().Get("range"))
			return okResponse(seriesPayload), nil
		}).
		Times(1)
	a := newAdapter(t, httpClient)

	// Act: defaults apply; the second call is cached.
	s, err := a.HistoricalData(t.Context(), "AAPL", "", "")
	require.NoError(t, err)
	again, err := a.HistoricalData(t.Context(), "AAPL", "1d", "1mo")
	require.NoError(t, err)

	// Assert: the null close is dropped.
	require.Equal(t, s, again)
	require.Equal(t, "AAPL", s.Symbol)
	require.Len(t, s.Records, 2)
	require.InDelta(t, 3.5, s.Records[1].Close, 1e-9)

	quotes, series := a.CacheSize()
	require.Equal(t, 0, quotes)
	require.Equal(t, 1, series)
}

func TestAdapter_Analytics(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			if req.URL.Query().Get("interval") == "1wk" {
				require.Equal(t, "5d", req.URL.Query().Get("range"))
				return okResponse(weeklyPayload), nil
			}
			return okResponse(dailyPayload), nil
		}).
		Times(2)
	a := newAdapter(t, httpClient)

	snap, err := a.Analytics(t.Context(), "AAPL")

	require.NoError(t, err)
	require.Equal(t, "AAPL", snap.Symbol)
	require.Equal(t, vendor.VolatilityMedium, snap.Volatility)
	require.Equal(t, vendor.TrendDown, snap.WeeklyTrend)
	require.Equal(t, vendor.RecommendBuy, snap.Recommendation)
}

func TestAdapter_AnalyticsFailsWhenEitherQuoteFails(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			if req.URL.Query().Get("interval") == "1wk" {
				return okResponse(`{"chart":{"result":[]}}`), nil
			}
			return okResponse(dailyPayload), nil
		}).
		MaxTimes(2)
	a := newAdapter(t, httpClient)

	_, err := a.Analytics(t.Context(), "AAPL")

	require.ErrorIs(t, err, vendor.ErrAggregation)
	var ve *vendor.Error
	require.ErrorAs(t, err, &ve)
	require.Equal(t, vendor.OpGetAnalytics, ve.Op)
}

func TestAdapter_UnsupportedOperations(t *testing.T) {
	t.Parallel()

	a := newAdapter(t, NewMockHTTPClient(gomock.NewController(t)))

	_, err := a.PlaceOrder(t.Context(), vendor.Order{Symbol: "AAPL", Side: vendor.SideBuy, Quantity: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, vendor.ErrNotImplemented)

	_, err = a.Portfolio(t.Context())
	require.ErrorIs(t, err, vendor.ErrNotImplemented)
}

func TestIntervals(t *testing.T) {
	t.Parallel()

	got := yahoo.Intervals()
	require.Contains(t, got, "1m")
	require.Contains(t, got, "1wk")
	require.Equal(t, "3mo", got[len(got)-1])

	got[0] = "mutated"
	require.Equal(t, "1m", yahoo.Intervals()[0])
}

func TestQuoteRange(t *testing.T) {
	t.Parallel()

	for interval, want := range map[string]string{
		"1m":  "1d",
		"1d":  "1d",
		"5d":  "5d",
		"1wk": "5d",
		"1mo": "1mo",
		"3mo": "3mo",
	} {
		require.Equal(t, want, yahoo.QuoteRange(interval), interval)
	}
}
