// Package chart normalizes chart-endpoint payloads into canonical quotes and
// historical series.
package chart

// Envelope is the top-level chart response.
//
//	{ "chart": { "result": [ { "meta": {...}, "timestamp": [...],
//	  "indicators": { "quote": [ { "open": [...], ... } ] } } ], "error": null } }
type Envelope struct {
	Chart struct {
		Result []*Result `json:"result"`
		Error  *Failure  `json:"error"`
	} `json:"chart"`
}

// Failure is the provider-reported error object.
type Failure struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type Result struct {
	Meta       *Meta       `json:"meta"`
	Timestamp  []int64     `json:"timestamp"`
	Indicators *Indicators `json:"indicators"`
}

// Meta holds the fields of the result meta object this package reads. All
// are optional.
type Meta struct {
	Symbol               string   `json:"symbol"`
	Currency             string   `json:"currency"`
	RegularMarketPrice   *float64 `json:"regularMarketPrice"`
	RegularMarketTime    *int64   `json:"regularMarketTime"`
	RegularMarketVolume  *float64 `json:"regularMarketVolume"`
	RegularMarketDayHigh *float64 `json:"regularMarketDayHigh"`
	RegularMarketDayLow  *float64 `json:"regularMarketDayLow"`
	RegularMarketOpen    *float64 `json:"regularMarketOpen"`
	PreviousClose        *float64 `json:"previousClose"`
	ChartPreviousClose   *float64 `json:"chartPreviousClose"`
	MarketCap            *float64 `json:"marketCap"`
	TrailingPE           *float64 `json:"trailingPE"`
}

type Indicators struct {
	Quote []Bars `json:"quote"`
}

// Bars are parallel arrays indexed like Result.Timestamp. Elements are null
// for halted or sparse bars.
type Bars struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*float64 `json:"volume"`
}
