package domain

import (
	"fmt"
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the persisted form of a Ledger.
type Snapshot struct {
	Cash       decimal.Decimal            `json:"cash"`
	Holdings   map[string]Holding         `json:"holdings"`
	History    []Order                    `json:"history"`
	LastPrices map[string]decimal.Decimal `json:"lastPrices"`
	Currency   string                     `json:"currency"`
}

// Snapshot captures the full ledger state.
func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{
		Cash:       l.cash,
		Holdings:   l.Holdings(),
		History:    l.History(),
		LastPrices: l.LastPrices(),
		Currency:   l.currency,
	}
}

// Restore rebuilds a ledger from s. startingCash is what a later Reset restores.
// A snapshot that breaks a ledger invariant yields ErrPersistenceCorrupt.
func Restore(s Snapshot, startingCash decimal.Decimal) (*Ledger, error) {
	l := &Ledger{
		cash:         s.Cash,
		startingCash: startingCash,
		holdings:     maps.Clone(s.Holdings),
		history:      append([]Order(nil), s.History...),
		lastPrices:   maps.Clone(s.LastPrices),
		currency:     s.Currency,
		now:          time.Now,
	}
	if l.holdings == nil {
		l.holdings = make(map[string]Holding)
	}
	if l.lastPrices == nil {
		l.lastPrices = make(map[string]decimal.Decimal)
	}
	if l.currency == "" {
		l.currency = DefaultCurrency
	}
	if err := l.Verify(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceCorrupt, err)
	}
	return l, nil
}
