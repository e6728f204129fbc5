package chart

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vendorhub/internal/vendor"
)

func TestParseQuote_ChangeFromPreviousClose(t *testing.T) {
	raw := []byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":150,"previousClose":100,"regularMarketVolume":2500000}}],"error":null}}`)

	q, err := ParseQuote(raw, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.InDelta(t, 150.0, q.Price, 1e-9)
	assert.InDelta(t, 50.0, q.Change, 1e-9)
	assert.InDelta(t, 50.0, q.ChangePercent, 1e-9)
	assert.Equal(t, int64(2500000), q.Volume)
	assert.Nil(t, q.PE)
	assert.Nil(t, q.MarketCap)
}

func TestParseQuote_ZeroPreviousCloseIsFinite(t *testing.T) {
	raw := []byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":150,"previousClose":0}}]}}`)

	q, err := ParseQuote(raw, "AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 150.0, q.Change, 1e-9)
	assert.Zero(t, q.ChangePercent)
	assert.False(t, math.IsNaN(q.ChangePercent) || math.IsInf(q.ChangePercent, 0))
}

func TestParseQuote_MissingMetaPricesAreZero(t *testing.T) {
	raw := []byte(`{"chart":{"result":[{}]}}`)

	q, err := ParseQuote(raw, "X")
	require.NoError(t, err)
	assert.Zero(t, q.Price)
	assert.Zero(t, q.Change)
	assert.Zero(t, q.ChangePercent)
}

func TestParseQuote_FallsBackToMetaDayRange(t *testing.T) {
	raw := []byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":10,"previousClose":8,
		"regularMarketDayHigh":11,"regularMarketDayLow":7.5,"marketCap":1000,"trailingPE":12.5,
		"regularMarketTime":1735787045}}]}}`)

	q, err := ParseQuote(raw, "MSFT")
	require.NoError(t, err)
	assert.InDelta(t, 11.0, q.High, 1e-9)
	assert.InDelta(t, 7.5, q.Low, 1e-9)
	assert.InDelta(t, 7.5, q.Open, 1e-9)
	require.NotNil(t, q.MarketCap)
	require.NotNil(t, q.PE)
	assert.InDelta(t, 12.5, *q.PE, 1e-9)
	assert.Equal(t, time.Unix(1735787045, 0).UTC(), q.Timestamp)
}

func TestParseQuote_PrefersIntradayBars(t *testing.T) {
	raw := []byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":10,"previousClose":8,
		"regularMarketDayHigh":99,"regularMarketDayLow":1,"regularMarketOpen":5},
		"indicators":{"quote":[{"open":[9.1,9.2,9.3],"high":[10.5,10.8,10.2],"low":[8.9,8.7,8.8]}]}}]}}`)

	q, err := ParseQuote(raw, "MSFT")
	require.NoError(t, err)
	assert.InDelta(t, 9.1, q.Open, 1e-9)
	assert.InDelta(t, 10.2, q.High, 1e-9)
	assert.InDelta(t, 8.8, q.Low, 1e-9)
}

func TestParseQuote_NullEdgeBarsFallBackToMeta(t *testing.T) {
	raw := []byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":10,"previousClose":8,
		"regularMarketDayHigh":99,"regularMarketDayLow":1,"regularMarketOpen":5},
		"indicators":{"quote":[{"open":[null,9.1,9.2],"high":[10.5,10.8,null],"low":[8.9,8.7,0]}]}}]}}`)

	q, err := ParseQuote(raw, "MSFT")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, q.Open, 1e-9)
	assert.InDelta(t, 99.0, q.High, 1e-9)
	assert.InDelta(t, 1.0, q.Low, 1e-9)
}

func TestParseQuote_ChartPreviousCloseFallback(t *testing.T) {
	raw := []byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":110,"chartPreviousClose":100}}]}}`)

	q, err := ParseQuote(raw, "AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 100.0, q.PreviousClose, 1e-9)
	assert.InDelta(t, 10.0, q.ChangePercent, 1e-9)
}

func TestParseQuote_MissingResultIsParseError(t *testing.T) {
	for name, raw := range map[string]string{
		"no result":      `{"chart":{"result":null}}`,
		"empty result":   `{"chart":{"result":[]}}`,
		"null result":    `{"chart":{"result":[null]}}`,
		"no chart":       `{}`,
		"invalid json":   `not json`,
		"provider error": `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseQuote([]byte(raw), "X")
			require.Error(t, err)
			require.True(t, errors.Is(err, vendor.ErrParse), "got %v", err)
		})
	}
}

func TestParseHistoricalSeries_DropsNullCloses(t *testing.T) {
	raw := []byte(`{"chart":{"result":[{
		"timestamp":[1700000000,1700086400,1700172800,1700259200],
		"indicators":{"quote":[{
			"open":[1,2,3,4],
			"high":[1.5,2.5,null,4.5],
			"low":[0.5,1.5,2.5,3.5],
			"close":[1.2,null,3.2,4.2],
			"volume":[100,200,null,400]}]}}]}}`)

	s, err := ParseHistoricalSeries(raw, "AAPL")
	require.NoError(t, err)
	require.Equal(t, "AAPL", s.Symbol)
	require.Len(t, s.Records, 3)

	assert.Equal(t, time.Unix(1700000000, 0).UTC(), s.Records[0].Timestamp)
	assert.Equal(t, time.Unix(1700172800, 0).UTC(), s.Records[1].Timestamp)
	assert.Equal(t, time.Unix(1700259200, 0).UTC(), s.Records[2].Timestamp)
	assert.InDelta(t, 1.2, s.Records[0].Close, 1e-9)
	assert.InDelta(t, 3.2, s.Records[1].Close, 1e-9)
	assert.InDelta(t, 4.2, s.Records[2].Close, 1e-9)

	assert.Nil(t, s.Records[1].High)
	assert.Nil(t, s.Records[1].Volume)
	require.NotNil(t, s.Records[2].Volume)
	assert.Equal(t, int64(400), *s.Records[2].Volume)
}

func TestParseHistoricalSeries_ShortArraysDropMissingCloses(t *testing.T) {
	raw := []byte(`{"chart":{"result":[{"timestamp":[1,2,3],"indicators":{"quote":[{"close":[10]}]}}]}}`)

	s, err := ParseHistoricalSeries(raw, "X")
	require.NoError(t, err)
	require.Len(t, s.Records, 1)
	assert.Nil(t, s.Records[0].Open)
}

func TestParseHistoricalSeries_NoIndicatorsYieldsEmptySeries(t *testing.T) {
	raw := []byte(`{"chart":{"result":[{"timestamp":[1,2,3]}]}}`)

	s, err := ParseHistoricalSeries(raw, "X")
	require.NoError(t, err)
	require.NotNil(t, s.Records)
	require.Empty(t, s.Records)
}

func TestParseHistoricalSeries_MissingResultIsParseError(t *testing.T) {
	_, err := ParseHistoricalSeries([]byte(`{"chart":{}}`), "X")
	require.ErrorIs(t, err, vendor.ErrParse)

	_, err = ParseHistoricalSeries([]byte(`{"chart":{"result":[null]}}`), "X")
	require.ErrorIs(t, err, vendor.ErrParse)
}

func TestChange(t *testing.T) {
	c, p := Change(150, 100)
	assert.InDelta(t, 50.0, c, 1e-9)
	assert.InDelta(t, 50.0, p, 1e-9)

	c, p = Change(90, 100)
	assert.InDelta(t, -10.0, c, 1e-9)
	assert.InDelta(t, -10.0, p, 1e-9)

	_, p = Change(math.Inf(1), 100)
	assert.Zero(t, p)
}
