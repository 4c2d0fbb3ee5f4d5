package domain

import (
	"fmt"
	"iter"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Holding is the open position in one asset.
// AveragePrice is the cost-weighted average of the still-open buy quantity.
type Holding struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Quantity     decimal.Decimal `json:"qty"`
	AveragePrice decimal.Decimal `json:"avgPrice"`
}

// Ledger is the simulated account: cash, open holdings and order history.
// It is not safe for concurrent use; the engine.Sequencer owns it.
type Ledger struct {
	cash         decimal.Decimal
	startingCash decimal.Decimal
	holdings     map[string]Holding
	history      []Order // most recent first
	lastPrices   map[string]decimal.Decimal
	currency     string

	now func() time.Time
}

// NewLedger creates a ledger holding only startingCash.
func NewLedger(startingCash decimal.Decimal, currency string) *Ledger {
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Ledger{
		cash:         startingCash,
		startingCash: startingCash,
		holdings:     make(map[string]Holding),
		lastPrices:   make(map[string]decimal.Decimal),
		currency:     currency,
		now:          time.Now,
	}
}

// SetClock replaces the time source used to stamp orders.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Ledger) Cash() decimal.Decimal         { return l.cash }
func (l *Ledger) StartingCash() decimal.Decimal { return l.startingCash }
func (l *Ledger) Currency() string              { return l.currency }

// Holding returns the open position for assetID.
func (l *Ledger) Holding(assetID string) (Holding, bool) {
	h, ok := l.holdings[assetID]
	return h, ok
}

// Holdings returns a copy of all open positions.
func (l *Ledger) Holdings() map[string]Holding {
	return maps.Clone(l.holdings)
}

// History returns a copy of the order history, most recent first.
func (l *Ledger) History() []Order {
	out := make([]Order, len(l.history))
	copy(out, l.history)
	return out
}

// RecentHistory returns at most n orders, most recent first.
func (l *Ledger) RecentHistory(n int) []Order {
	if n < 0 || n > len(l.history) {
		n = len(l.history)
	}
	out := make([]Order, n)
	copy(out, l.history[:n])
	return out
}

// LastPrices returns a copy of the last observed prices.
func (l *Ledger) LastPrices() map[string]decimal.Decimal {
	return maps.Clone(l.lastPrices)
}

// ApplyTrade settles a simulated market order at unitPrice.
// Either every effect (cash, holding, history) applies or none does.
func (l *Ledger) ApplyTrade(assetID, symbol, name string, side Side, quantity, unitPrice decimal.Decimal) (Order, error) {
	reject := func(err error) (Order, error) {
		return Order{}, &TradeError{Side: side, AssetID: assetID, Quantity: quantity, Err: err}
	}

	if side != SideBuy && side != SideSell {
		return reject(ErrInvalidSide)
	}
	if !quantity.IsPositive() {
		return reject(ErrInvalidQuantity)
	}
	if unitPrice.IsNegative() {
		return reject(ErrInvalidPrice)
	}

	cost := quantity.Mul(unitPrice)
	h, held := l.holdings[assetID]

	switch side {
	case SideBuy:
		if cost.GreaterThan(l.cash) {
			return reject(ErrInsufficientCash)
		}
		if !held {
			h = Holding{Symbol: symbol, Name: name, Quantity: decimal.Zero, AveragePrice: decimal.Zero}
		}
		newQty := h.Quantity.Add(quantity)
		h.AveragePrice = h.Quantity.Mul(h.AveragePrice).Add(cost).Div(newQty)
		h.Quantity = newQty
		l.cash = l.cash.Sub(cost)
		l.holdings[assetID] = h

	case SideSell:
		if !held || h.Quantity.LessThan(quantity) {
			return reject(ErrInsufficientHolding)
		}
		h.Quantity = h.Quantity.Sub(quantity)
		l.cash = l.cash.Add(cost)
		if h.Quantity.IsZero() {
			delete(l.holdings, assetID)
		} else {
			l.holdings[assetID] = h
		}
	}

	order := Order{
		ID:        uuid.NewString(),
		Timestamp: l.now(),
		Side:      side,
		AssetID:   assetID,
		Symbol:    symbol,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		TotalCost: cost,
	}
	// Prepend into a fresh slice so iterators over the old history stay valid.
	history := make([]Order, 0, len(l.history)+1)
	history = append(history, order)
	l.history = append(history, l.history...)

	return order, nil
}

// Valuation is the market value of the ledger at a given price map.
type Valuation struct {
	Cash          decimal.Decimal
	HoldingsValue decimal.Decimal
	PerAsset      map[string]decimal.Decimal
	Total         decimal.Decimal
}

// Valuate prices every holding with prices. A missing price counts as zero.
func (l *Ledger) Valuate(prices map[string]decimal.Decimal) Valuation {
	v := Valuation{
		Cash:          l.cash,
		HoldingsValue: decimal.Zero,
		PerAsset:      make(map[string]decimal.Decimal, len(l.holdings)),
	}
	for id, h := range l.holdings {
		value := h.Quantity.Mul(prices[id]) // zero value when absent
		v.PerAsset[id] = value
		v.HoldingsValue = v.HoldingsValue.Add(value)
	}
	v.Total = v.Cash.Add(v.HoldingsValue)
	return v
}

// ValuateLast values the ledger at its last observed prices.
func (l *Ledger) ValuateLast() Valuation {
	return l.Valuate(l.lastPrices)
}

// UpdatePrices merges fresh quotes into the last observed prices.
func (l *Ledger) UpdatePrices(prices map[string]decimal.Decimal) {
	for id, p := range prices {
		l.lastPrices[id] = p
	}
}

// SetCurrency switches the quote currency. Balances are not converted.
func (l *Ledger) SetCurrency(code string) error {
	c, err := NormalizeCurrency(code)
	if err != nil {
		return err
	}
	l.currency = c
	return nil
}

// Reset restores the starting cash and clears holdings, history and prices.
func (l *Ledger) Reset(preserveCurrency bool) {
	l.cash = l.startingCash
	l.holdings = make(map[string]Holding)
	l.history = nil
	l.lastPrices = make(map[string]decimal.Decimal)
	if !preserveCurrency {
		l.currency = DefaultCurrency
	}
}

// ExportHistory yields the history as flat records, most recent first.
// The sequence reflects the history at call time and may be ranged repeatedly.
func (l *Ledger) ExportHistory() iter.Seq[HistoryRecord] {
	history := l.history
	return func(yield func(HistoryRecord) bool) {
		for _, o := range history {
			if !yield(o.Record()) {
				return
			}
		}
	}
}

// Verify checks the ledger invariants.
func (l *Ledger) Verify() error {
	if l.cash.IsNegative() {
		return fmt.Errorf("negative cash %s", l.cash)
	}
	for id, h := range l.holdings {
		if !h.Quantity.IsPositive() {
			return fmt.Errorf("holding %s has non-positive quantity %s", id, h.Quantity)
		}
		if h.AveragePrice.IsNegative() {
			return fmt.Errorf("holding %s has negative average price %s", id, h.AveragePrice)
		}
	}
	// History order is positional; timestamps follow the wall clock and may step back.
	for i, o := range l.history {
		if o.Side != SideBuy && o.Side != SideSell {
			return fmt.Errorf("order %d has side %q", i, o.Side)
		}
	}
	if _, err := NormalizeCurrency(l.currency); err != nil {
		return fmt.Errorf("currency %q: %w", l.currency, err)
	}
	return nil
}
