// Package paper is a simulated broker. Orders fill immediately against a
// quote source; nothing leaves the process.
package paper

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"vendorhub/internal/logger"
	"vendorhub/internal/vendor"
)

const StatusFilled = "filled"

// QuoteSource prices market orders and marks positions.
type QuoteSource interface {
	MarketData(ctx context.Context, symbol, interval string) (vendor.Quote, error)
}

type position struct {
	shares   decimal.Decimal
	avgPrice decimal.Decimal
}

type Config struct {
	Name        string // default: Paper Broker
	InitialCash decimal.Decimal
}

// Broker implements order management and portfolio on simulated cash.
type Broker struct {
	vendor.Base
	prices QuoteSource
	log    *logger.Entry
	newID  func() string

	mu        sync.RWMutex
	cash      decimal.Decimal
	positions map[string]*position
}

// New creates a broker. prices may be nil, in which case only limit
// orders can be placed and positions are marked at their average price.
func New(cfg Config, prices QuoteSource, log *logger.Log) *Broker {
	if cfg.Name == "" {
		cfg.Name = "Paper Broker"
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Broker{
		Base: vendor.NewBase(cfg.Name, map[string]string{
			"initialCash": cfg.InitialCash.String(),
		}, vendor.Capabilities{
			OrderManagement: true,
			Portfolio:       true,
		}),
		prices:    prices,
		log:       log.WithComponent("paper").WithField("vendor", cfg.Name),
		newID:     func() string { return uuid.New().String() },
		cash:      cfg.InitialCash,
		positions: make(map[string]*position),
	}
}

// Connect always succeeds; there is nothing to reach.
func (b *Broker) Connect(context.Context) (bool, error) {
	b.SetConnected(true)
	return true, nil
}

// PlaceOrder fills the order in full or rejects it with ErrOrderRejected.
func (b *Broker) PlaceOrder(ctx context.Context, o vendor.Order) (ack vendor.OrderAck, err error) {
	defer b.Recover(vendor.OpPlaceOrder, &err)

	symbol := vendor.NormalizeSymbol(o.Symbol)
	switch {
	case symbol == "":
		return ack, b.reject("symbol is required")
	case o.Side != vendor.SideBuy && o.Side != vendor.SideSell:
		return ack, b.reject("unknown side %q", o.Side)
	case !o.Quantity.IsPositive():
		return ack, b.reject("quantity must be positive, got %s", o.Quantity)
	case o.LimitPrice.IsNegative():
		return ack, b.reject("limit price must not be negative, got %s", o.LimitPrice)
	}

	price := o.LimitPrice
	if price.IsZero() {
		if price, err = b.marketPrice(ctx, symbol); err != nil {
			return ack, b.Fail(vendor.OpPlaceOrder, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	total := o.Quantity.Mul(price)
	switch o.Side {
	case vendor.SideBuy:
		if b.cash.LessThan(total) {
			return ack, b.reject("insufficient cash: need %s, have %s", total.StringFixed(2), b.cash.StringFixed(2))
		}
		b.cash = b.cash.Sub(total)
		if pos, ok := b.positions[symbol]; ok {
			shares := pos.shares.Add(o.Quantity)
			pos.avgPrice = pos.shares.Mul(pos.avgPrice).Add(total).Div(shares)
			pos.shares = shares
		} else {
			b.positions[symbol] = &position{shares: o.Quantity, avgPrice: price}
		}
	case vendor.SideSell:
		pos, ok := b.positions[symbol]
		if !ok || pos.shares.LessThan(o.Quantity) {
			held := decimal.Zero
			if ok {
				held = pos.shares
			}
			return ack, b.reject("insufficient shares of %s: have %s, selling %s", symbol, held, o.Quantity)
		}
		b.cash = b.cash.Add(total)
		pos.shares = pos.shares.Sub(o.Quantity)
		if pos.shares.IsZero() {
			delete(b.positions, symbol)
		}
	}

	ack = vendor.OrderAck{OrderID: b.newID(), Status: StatusFilled, FilledPrice: price}
	b.log.WithFields(logger.Fields{
		"order_id": ack.OrderID,
		"symbol":   symbol,
		"side":     o.Side,
		"quantity": o.Quantity.String(),
		"price":    price.String(),
	}).Info("order filled")
	return ack, nil
}

// Portfolio marks every position to the quote source, falling back to the
// average price when no quote is available.
func (b *Broker) Portfolio(ctx context.Context) (p vendor.Portfolio, err error) {
	defer b.Recover(vendor.OpGetPortfolio, &err)

	b.mu.RLock()
	cash := b.cash
	held := make(map[string]position, len(b.positions))
	for sym, pos := range b.positions {
		held[sym] = *pos
	}
	b.mu.RUnlock()

	symbols := make([]string, 0, len(held))
	for sym := range held {
		symbols = append(symbols, sym)
	}
	slices.Sort(symbols)

	p = vendor.Portfolio{Cash: cash, TotalValue: cash, Positions: make([]vendor.Position, 0, len(symbols))}
	for _, sym := range symbols {
		pos := held[sym]
		mark, err := b.marketPrice(ctx, sym)
		if err != nil {
			b.log.WithError(err).WithField("symbol", sym).Debug("marking at average price")
			mark = pos.avgPrice
		}
		value := pos.shares.Mul(mark)
		p.Positions = append(p.Positions, vendor.Position{
			Symbol:      sym,
			Quantity:    pos.shares,
			AvgPrice:    pos.avgPrice,
			MarketValue: value,
		})
		p.TotalValue = p.TotalValue.Add(value)
	}
	return p, nil
}

func (b *Broker) marketPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if b.prices == nil {
		return decimal.Zero, fmt.Errorf("%w: no price source for market order on %s", vendor.ErrOrderRejected, symbol)
	}
	q, err := b.prices.MarketData(ctx, symbol, "1d")
	if err != nil {
		return decimal.Zero, fmt.Errorf("pricing %s: %w", symbol, err)
	}
	if q.Price <= 0 {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", vendor.ErrOrderRejected, symbol)
	}
	return decimal.NewFromFloat(q.Price), nil
}

func (b *Broker) reject(format string, args ...any) error {
	return b.Fail(vendor.OpPlaceOrder, fmt.Errorf("%w: %s", vendor.ErrOrderRejected, fmt.Sprintf(format, args...)))
}
