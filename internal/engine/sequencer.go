package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"sync"
	"time"

	"crypto_demo/internal/domain"
	"crypto_demo/internal/event"
	"crypto_demo/internal/infra"

	"github.com/shopspring/decimal"
)

// ErrStopped is returned by calls made after the Sequencer has shut down.
var ErrStopped = errors.New("sequencer stopped")

const persistTimeout = 5 * time.Second

// AssetLookup resolves a listed asset by id. Currency is the quote currency of
// the listing. service.PriceService implements it.
type AssetLookup interface {
	Get(id string) (domain.Asset, bool)
	Currency() string
}

// Portfolio is a consistent read of the ledger at its last observed prices.
type Portfolio struct {
	Currency     string
	StartingCash decimal.Decimal
	Holdings     map[string]domain.Holding
	Prices       map[string]decimal.Decimal
	Valuation    domain.Valuation
}

// Update is passed to the observer after every applied event.
type Update struct {
	Seq       uint64
	Type      event.Type
	Portfolio Portfolio
}

// command is one unit of work for the Run loop. Exactly one of ev and read is set.
type command struct {
	ev   event.Event
	read func(l *domain.Ledger)
	done chan error
}

// Sequencer is the single goroutine that owns the Ledger.
// Every read and write goes through its inbox and is processed one at a time.
type Sequencer struct {
	inbox   chan command
	stopped chan struct{}
	ledger  *domain.Ledger
	nextSeq uint64
	store   domain.SnapshotStore
	market  AssetLookup
	metrics *infra.Metrics

	// Boundary: used to notify the WebSocket hub or other systems of state changes
	onUpdate func(Update)

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewSequencer creates a sequencer owning ledger. store, metrics and onUpdate may be nil.
func NewSequencer(ledger *domain.Ledger, store domain.SnapshotStore, market AssetLookup, metrics *infra.Metrics, onUpdate func(Update)) *Sequencer {
	return &Sequencer{
		inbox:    make(chan command),
		stopped:  make(chan struct{}),
		ledger:   ledger,
		nextSeq:  1,
		store:    store,
		market:   market,
		metrics:  metrics,
		onUpdate: onUpdate,
		logger:   slog.Default().With("module", "sequencer"),
	}
}

// Start runs the event loop in its own goroutine until ctx ends or Close is called.
func (s *Sequencer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(ctx)
	}()
}

// Close stops the loop started by Start and waits for the final save.
func (s *Sequencer) Close() {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
}

// Run starts the main event loop. This MUST be run in a single goroutine.
// The ledger is persisted one last time before Run returns.
func (s *Sequencer) Run(ctx context.Context) {
	s.logger.Info("Sequencer started", slog.String("currency", s.ledger.Currency()))

	defer close(s.stopped)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState("panic_dump.json")
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sequencer stopping...")
			s.persist("shutdown")
			return
		case cmd := <-s.inbox:
			s.processCommand(cmd)
		}
	}
}

func (s *Sequencer) processCommand(cmd command) {
	if cmd.read != nil {
		cmd.read(s.ledger)
		cmd.done <- nil
		return
	}
	cmd.done <- s.processEvent(cmd.ev)
}

func (s *Sequencer) processEvent(ev event.Event) error {
	var err error
	persist := true

	switch e := ev.(type) {
	case *event.TradeEvent:
		e.Seq = s.nextSeq
		err = s.handleTrade(e)
	case *event.PriceUpdateEvent:
		e.Seq = s.nextSeq
		err = s.handlePriceUpdate(e)
		if !e.Applied {
			return err
		}
		persist = false
	case *event.ResetEvent:
		e.Seq = s.nextSeq
		s.ledger.Reset(e.PreserveCurrency)
		s.logger.Info("Ledger reset", slog.Uint64("seq", e.Seq), slog.Bool("preserve_currency", e.PreserveCurrency))
	case *event.CurrencyEvent:
		e.Seq = s.nextSeq
		err = s.ledger.SetCurrency(e.Currency)
		if err == nil {
			e.Currency = s.ledger.Currency()
			s.logger.Info("Currency changed", slog.Uint64("seq", e.Seq), slog.String("currency", e.Currency))
		}
	default:
		return fmt.Errorf("unknown event type %T", ev)
	}
	if err != nil {
		return err
	}

	if persist {
		s.persist(string(ev.GetType()))
	}
	s.notify(ev)
	s.nextSeq++
	return nil
}

func (s *Sequencer) handleTrade(e *event.TradeEvent) error {
	asset, ok := s.lookup(e.AssetID)
	if !ok {
		s.recordRejection(domain.ErrUnknownAsset)
		return &domain.TradeError{Side: e.Side, AssetID: e.AssetID, Quantity: e.Quantity, Err: domain.ErrUnknownAsset}
	}

	// Price at time of trade: last observed quote, else the listing price
	price, ok := s.ledger.LastPrices()[asset.ID]
	if !ok {
		price = asset.CurrentPrice
	}

	order, err := s.ledger.ApplyTrade(asset.ID, asset.Symbol, asset.Name, e.Side, e.Quantity, price)
	if err != nil {
		s.recordRejection(err)
		s.logger.Info("Trade rejected", slog.Any("error", err))
		return err
	}
	e.Order = order

	if s.metrics != nil {
		s.metrics.RecordTrade(string(order.Side))
	}
	s.logger.Info("Trade applied",
		slog.Uint64("seq", e.Seq),
		slog.String("side", string(order.Side)),
		slog.String("asset", order.AssetID),
		slog.String("qty", order.Quantity.String()),
		slog.String("price", order.UnitPrice.String()),
		slog.String("cash", s.ledger.Cash().String()),
	)
	return nil
}

// handlePriceUpdate drops quotes fetched for a currency that is no longer selected.
func (s *Sequencer) handlePriceUpdate(e *event.PriceUpdateEvent) error {
	if e.Currency != s.ledger.Currency() {
		s.logger.Debug("Dropping stale price update",
			slog.String("quoted", e.Currency), slog.String("current", s.ledger.Currency()))
		return nil
	}
	s.ledger.UpdatePrices(e.Prices)
	e.Applied = true
	return nil
}

// lookup only resolves assets from a listing quoted in the ledger's currency.
func (s *Sequencer) lookup(id string) (domain.Asset, bool) {
	if s.market == nil {
		return domain.Asset{}, false
	}
	if quoted := s.market.Currency(); quoted != s.ledger.Currency() {
		s.logger.Debug("Listing quoted in another currency",
			slog.String("quoted", quoted), slog.String("current", s.ledger.Currency()))
		return domain.Asset{}, false
	}
	return s.market.Get(id)
}

func (s *Sequencer) recordRejection(err error) {
	if s.metrics != nil {
		s.metrics.RecordRejection(rejectionReason(err))
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientCash):
		return "insufficient_cash"
	case errors.Is(err, domain.ErrInsufficientHolding):
		return "insufficient_holding"
	case errors.Is(err, domain.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, domain.ErrInvalidSide):
		return "invalid_side"
	case errors.Is(err, domain.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, domain.ErrUnknownAsset):
		return "unknown_asset"
	default:
		return "other"
	}
}

// persist saves the ledger. A failed save is logged and counted; the in-memory state stands.
func (s *Sequencer) persist(reason string) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.store.SaveSnapshot(ctx, s.ledger.Snapshot()); err != nil {
		s.logger.Error("Failed to persist ledger", slog.String("reason", reason), slog.Any("error", err))
		if s.metrics != nil {
			s.metrics.RecordPersistFailure()
		}
	}
}

func (s *Sequencer) notify(ev event.Event) {
	if s.onUpdate == nil {
		return
	}
	s.onUpdate(Update{Seq: ev.GetSeq(), Type: ev.GetType(), Portfolio: s.portfolio()})
}

func (s *Sequencer) portfolio() Portfolio {
	return Portfolio{
		Currency:     s.ledger.Currency(),
		StartingCash: s.ledger.StartingCash(),
		Holdings:     s.ledger.Holdings(),
		Prices:       s.ledger.LastPrices(),
		Valuation:    s.ledger.ValuateLast(),
	}
}

// ======================================================================================
// Request / reply API
// ======================================================================================

func (s *Sequencer) submit(ctx context.Context, cmd command) error {
	cmd.done = make(chan error, 1)
	select {
	case s.inbox <- cmd:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	// Accepted: the loop always replies, and the outcome may already be persisted
	return <-cmd.done
}

func (s *Sequencer) apply(ctx context.Context, ev event.Event) error {
	return s.submit(ctx, command{ev: ev})
}

func (s *Sequencer) read(ctx context.Context, fn func(l *domain.Ledger)) error {
	return s.submit(ctx, command{read: fn})
}

// Trade buys or sells quantity of a listed asset at its last known price.
func (s *Sequencer) Trade(ctx context.Context, assetID string, side domain.Side, quantity decimal.Decimal) (domain.Order, error) {
	ev := &event.TradeEvent{
		BaseEvent: event.BaseEvent{Ts: time.Now()},
		AssetID:   assetID,
		Side:      side,
		Quantity:  quantity,
	}
	if err := s.apply(ctx, ev); err != nil {
		return domain.Order{}, err
	}
	return ev.Order, nil
}

// Reset restores the starting ledger, optionally keeping the selected currency.
func (s *Sequencer) Reset(ctx context.Context, preserveCurrency bool) error {
	return s.apply(ctx, &event.ResetEvent{
		BaseEvent:        event.BaseEvent{Ts: time.Now()},
		PreserveCurrency: preserveCurrency,
	})
}

// SetCurrency switches the quote currency and returns the normalized code.
func (s *Sequencer) SetCurrency(ctx context.Context, code string) (string, error) {
	ev := &event.CurrencyEvent{BaseEvent: event.BaseEvent{Ts: time.Now()}, Currency: code}
	if err := s.apply(ctx, ev); err != nil {
		return "", err
	}
	return ev.Currency, nil
}

// UpdatePrices merges quotes fetched in currency. Quotes for another currency are
// ignored and reported as not applied.
func (s *Sequencer) UpdatePrices(ctx context.Context, currency string, prices map[string]decimal.Decimal) (bool, error) {
	ev := &event.PriceUpdateEvent{
		BaseEvent: event.BaseEvent{Ts: time.Now()},
		Currency:  currency,
		Prices:    prices,
	}
	if err := s.apply(ctx, ev); err != nil {
		return false, err
	}
	return ev.Applied, nil
}

// Portfolio returns cash, holdings and valuation at the last observed prices.
func (s *Sequencer) Portfolio(ctx context.Context) (Portfolio, error) {
	var p Portfolio
	err := s.read(ctx, func(*domain.Ledger) { p = s.portfolio() })
	return p, err
}

// History returns up to limit orders, most recent first. limit <= 0 returns all.
func (s *Sequencer) History(ctx context.Context, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.read(ctx, func(l *domain.Ledger) {
		if limit <= 0 {
			orders = l.History()
			return
		}
		orders = l.RecentHistory(limit)
	})
	return orders, err
}

// ExportHistory returns the history at call time as a restartable sequence.
func (s *Sequencer) ExportHistory(ctx context.Context) (iter.Seq[domain.HistoryRecord], error) {
	var seq iter.Seq[domain.HistoryRecord]
	err := s.read(ctx, func(l *domain.Ledger) { seq = l.ExportHistory() })
	return seq, err
}

// Currency returns the selected quote currency.
func (s *Sequencer) Currency(ctx context.Context) (string, error) {
	var c string
	err := s.read(ctx, func(l *domain.Ledger) { c = l.Currency() })
	return c, err
}

// Snapshot returns the persisted form of the ledger.
func (s *Sequencer) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := s.read(ctx, func(l *domain.Ledger) { snap = l.Snapshot() })
	return snap, err
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	s.logger.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		NextSeq uint64          `json:"next_seq"`
		Ledger  domain.Snapshot `json:"ledger"`
	}{
		NextSeq: s.nextSeq,
		Ledger:  s.ledger.Snapshot(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		s.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	err = os.WriteFile(filename, b, 0644)
	if err != nil {
		s.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}

// RestoreLedger loads the saved ledger from store. Anything unusable falls back
// to a fresh ledger holding startingCash in defaultCurrency.
func RestoreLedger(ctx context.Context, store domain.SnapshotStore, startingCash decimal.Decimal, defaultCurrency string) *domain.Ledger {
	logger := slog.Default().With("module", "sequencer")
	fresh := func() *domain.Ledger { return domain.NewLedger(startingCash, defaultCurrency) }

	if store == nil {
		return fresh()
	}

	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		logger.Warn("Saved ledger unreadable, starting fresh", slog.Any("error", err))
		return fresh()
	}
	if snap == nil {
		logger.Info("No saved ledger, starting fresh")
		return fresh()
	}

	ledger, err := domain.Restore(*snap, startingCash)
	if err != nil {
		logger.Warn("Saved ledger rejected, starting fresh", slog.Any("error", err))
		return fresh()
	}

	logger.Info("Ledger restored",
		slog.String("cash", ledger.Cash().String()),
		slog.Int("holdings", len(ledger.Holdings())),
		slog.Int("orders", len(ledger.History())),
	)
	return ledger
}
