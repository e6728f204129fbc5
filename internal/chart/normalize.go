package chart

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"vendorhub/internal/vendor"
)

var now = time.Now

// Decode parses raw into an envelope and returns its first result.
func Decode(raw []byte) (*Result, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding chart: %v", vendor.ErrParse, err)
	}
	if env.Chart.Error != nil && (env.Chart.Error.Code != "" || env.Chart.Error.Description != "") {
		return nil, fmt.Errorf("%w: %s: %s", vendor.ErrParse, env.Chart.Error.Code, env.Chart.Error.Description)
	}
	if len(env.Chart.Result) == 0 || env.Chart.Result[0] == nil {
		return nil, fmt.Errorf("%w: missing chart result", vendor.ErrParse)
	}
	return env.Chart.Result[0], nil
}

// ParseQuote builds a Quote from the meta object and the first quote bars.
func ParseQuote(raw []byte, symbol string) (vendor.Quote, error) {
	res, err := Decode(raw)
	if err != nil {
		return vendor.Quote{}, err
	}
	meta := res.Meta
	if meta == nil {
		meta = &Meta{}
	}
	var bars *Bars
	if res.Indicators != nil && len(res.Indicators.Quote) > 0 {
		bars = &res.Indicators.Quote[0]
	}

	price := value(meta.RegularMarketPrice)
	prev := value(meta.PreviousClose)
	if meta.PreviousClose == nil {
		prev = value(meta.ChartPreviousClose)
	}
	change, pct := Change(price, prev)

	q := vendor.Quote{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: pct,
		Volume:        int64(value(meta.RegularMarketVolume)),
		PreviousClose: prev,
		MarketCap:     meta.MarketCap,
		PE:            meta.TrailingPE,
		Timestamp:     now().UTC(),
	}
	if meta.RegularMarketTime != nil {
		q.Timestamp = time.Unix(*meta.RegularMarketTime, 0).UTC()
	}

	q.High = value(meta.RegularMarketDayHigh)
	q.Low = value(meta.RegularMarketDayLow)
	q.Open = value(meta.RegularMarketOpen)
	if meta.RegularMarketOpen == nil {
		q.Open = q.Low
	}
	// Only the edge bars count; a null or zero edge falls back to meta.
	if bars != nil {
		if v := nonZero(at(bars.High, len(bars.High)-1)); v != nil {
			q.High = *v
		}
		if v := nonZero(at(bars.Low, len(bars.Low)-1)); v != nil {
			q.Low = *v
		}
		if v := nonZero(at(bars.Open, 0)); v != nil {
			q.Open = *v
		}
	}
	return q, nil
}

// ParseHistoricalSeries maps the parallel bar arrays index-wise onto the
// timestamps. Bars without a close are dropped; the rest keep their order.
func ParseHistoricalSeries(raw []byte, symbol string) (vendor.HistoricalSeries, error) {
	res, err := Decode(raw)
	if err != nil {
		return vendor.HistoricalSeries{}, err
	}
	series := vendor.HistoricalSeries{Symbol: symbol, Records: []vendor.HistoricalRecord{}}
	var bars Bars
	if res.Indicators != nil && len(res.Indicators.Quote) > 0 {
		bars = res.Indicators.Quote[0]
	}
	for i, ts := range res.Timestamp {
		c := at(bars.Close, i)
		if c == nil {
			continue
		}
		rec := vendor.HistoricalRecord{
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      at(bars.Open, i),
			High:      at(bars.High, i),
			Low:       at(bars.Low, i),
			Close:     *c,
		}
		if v := at(bars.Volume, i); v != nil {
			n := int64(*v)
			rec.Volume = &n
		}
		series.Records = append(series.Records, rec)
	}
	return series, nil
}

// Change returns price-previousClose and its percentage of previousClose.
// The percentage is 0 when previousClose is 0 or the result is not finite.
func Change(price, previousClose float64) (float64, float64) {
	change := price - previousClose
	if math.IsNaN(change) || math.IsInf(change, 0) {
		change = 0
	}
	if previousClose == 0 {
		return change, 0
	}
	pct := change / previousClose * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		pct = 0
	}
	return change, pct
}

func value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func at(xs []*float64, i int) *float64 {
	if i < 0 || i >= len(xs) {
		return nil
	}
	return xs[i]
}

func nonZero(p *float64) *float64 {
	if p == nil || *p == 0 {
		return nil
	}
	return p
}
