package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"crypto_demo/internal/domain"
	"crypto_demo/internal/event"
	"crypto_demo/internal/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory SnapshotStore.
type memStore struct {
	mu    sync.Mutex
	snap  *domain.Snapshot
	saves int
	err   error
}

func (m *memStore) SaveSnapshot(_ context.Context, snap domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.snap = &snap
	m.saves++
	return nil
}

func (m *memStore) LoadSnapshot(context.Context) (*domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, m.err
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// staticMarket is a fixed listing quoted in usd.
type staticMarket map[string]domain.Asset

func (m staticMarket) Get(id string) (domain.Asset, bool) {
	a, ok := m[id]
	return a, ok
}

func (m staticMarket) Currency() string { return "usd" }

func testMarket() staticMarket {
	return staticMarket{
		"bitcoin":  {ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", CurrentPrice: decimal.NewFromInt(100), Rank: 1},
		"ethereum": {ID: "ethereum", Symbol: "eth", Name: "Ethereum", CurrentPrice: decimal.NewFromInt(10), Rank: 2},
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type testHarness struct {
	seq     *Sequencer
	store   *memStore
	metrics *infra.Metrics

	mu      sync.Mutex
	updates []Update
}

func (h *testHarness) observed() []Update {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.updates)
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	reg := prometheus.NewRegistry()
	h := &testHarness{store: &memStore{}, metrics: infra.NewMetrics(reg, reg)}

	ledger := domain.NewLedger(decimal.NewFromInt(10000), "usd")
	h.seq = NewSequencer(ledger, h.store, testMarket(), h.metrics, func(u Update) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.updates = append(h.updates, u)
	})
	h.seq.Start(context.Background())
	t.Cleanup(h.seq.Close)
	return h
}

func TestSequencer_Trade(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	order, err := h.seq.Trade(ctx, "bitcoin", domain.SideBuy, d("2"))
	if err != nil {
		t.Fatalf("Trade failed: %v", err)
	}
	if !order.UnitPrice.Equal(d("100")) || !order.TotalCost.Equal(d("200")) {
		t.Errorf("Expected 2 @ 100 = 200, got %s @ %s = %s", order.Quantity, order.UnitPrice, order.TotalCost)
	}
	if order.Symbol != "btc" || order.ID == "" {
		t.Errorf("Unexpected order %+v", order)
	}

	p, err := h.seq.Portfolio(ctx)
	if err != nil {
		t.Fatalf("Portfolio failed: %v", err)
	}
	if !p.Valuation.Cash.Equal(d("9800")) {
		t.Errorf("Expected cash 9800, got %s", p.Valuation.Cash)
	}
	if h.store.saveCount() != 1 {
		t.Errorf("Expected one save after trade, got %d", h.store.saveCount())
	}
	if got := testutil.ToFloat64(h.metrics.TradesTotal.WithLabelValues("BUY")); got != 1 {
		t.Errorf("Expected 1 recorded buy, got %v", got)
	}

	updates := h.observed()
	if len(updates) != 1 || updates[0].Type != event.TypeTrade || updates[0].Seq != 1 {
		t.Fatalf("Unexpected observer updates %+v", updates)
	}
	if !updates[0].Portfolio.Valuation.Cash.Equal(d("9800")) {
		t.Errorf("Observer should see post-trade cash, got %s", updates[0].Portfolio.Valuation.Cash)
	}
}

func TestSequencer_TradeUsesLastPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	applied, err := h.seq.UpdatePrices(ctx, "usd", map[string]decimal.Decimal{"bitcoin": d("120")})
	if err != nil || !applied {
		t.Fatalf("UpdatePrices failed: applied=%v err=%v", applied, err)
	}

	order, err := h.seq.Trade(ctx, "bitcoin", domain.SideBuy, d("1"))
	if err != nil {
		t.Fatalf("Trade failed: %v", err)
	}
	if !order.UnitPrice.Equal(d("120")) {
		t.Errorf("Expected last price 120, got %s", order.UnitPrice)
	}
}

func TestSequencer_TradeRejections(t *testing.T) {
	tests := []struct {
		name   string
		asset  string
		side   domain.Side
		qty    string
		want   error
		reason string
	}{
		{"unknown asset", "dogecoin", domain.SideBuy, "1", domain.ErrUnknownAsset, "unknown_asset"},
		{"insufficient cash", "bitcoin", domain.SideBuy, "101", domain.ErrInsufficientCash, "insufficient_cash"},
		{"nothing to sell", "ethereum", domain.SideSell, "1", domain.ErrInsufficientHolding, "insufficient_holding"},
		{"zero quantity", "bitcoin", domain.SideBuy, "0", domain.ErrInvalidQuantity, "invalid_quantity"},
		{"bad side", "bitcoin", domain.Side("HOLD"), "1", domain.ErrInvalidSide, "invalid_side"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			before, _ := h.seq.Snapshot(ctx)

			_, err := h.seq.Trade(ctx, tt.asset, tt.side, d(tt.qty))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			var te *domain.TradeError
			if !errors.As(err, &te) {
				t.Errorf("Expected a *TradeError, got %T", err)
			}

			after, _ := h.seq.Snapshot(ctx)
			if !after.Cash.Equal(before.Cash) || len(after.History) != 0 || len(after.Holdings) != 0 {
				t.Errorf("Rejected trade changed the ledger: %+v", after)
			}
			if h.store.saveCount() != 0 {
				t.Error("Rejected trade should not persist")
			}
			if len(h.observed()) != 0 {
				t.Error("Rejected trade should not notify")
			}
			if got := testutil.ToFloat64(h.metrics.TradeRejections.WithLabelValues(tt.reason)); got != 1 {
				t.Errorf("Expected 1 %s rejection, got %v", tt.reason, got)
			}
		})
	}
}

func TestSequencer_StalePriceUpdateDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seq.UpdatePrices(ctx, "usd", map[string]decimal.Decimal{"bitcoin": d("100")})

	applied, err := h.seq.UpdatePrices(ctx, "eur", map[string]decimal.Decimal{"bitcoin": d("90")})
	if err != nil {
		t.Fatalf("UpdatePrices failed: %v", err)
	}
	if applied {
		t.Error("Quotes for a non-active currency should not apply")
	}

	p, _ := h.seq.Portfolio(ctx)
	if !p.Prices["bitcoin"].Equal(d("100")) {
		t.Errorf("Expected last price 100, got %s", p.Prices["bitcoin"])
	}
	if len(h.observed()) != 1 {
		t.Errorf("Dropped update should not notify, got %d updates", len(h.observed()))
	}
	if h.store.saveCount() != 0 {
		t.Error("Price updates should not persist")
	}
}

func TestSequencer_SetCurrency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.seq.SetCurrency(ctx, "xyz"); !errors.Is(err, domain.ErrUnsupportedCurrency) {
		t.Errorf("Expected ErrUnsupportedCurrency, got %v", err)
	}

	code, err := h.seq.SetCurrency(ctx, "EUR")
	if err != nil {
		t.Fatalf("SetCurrency failed: %v", err)
	}
	if code != "eur" {
		t.Errorf("Expected normalized eur, got %s", code)
	}
	if c, _ := h.seq.Currency(ctx); c != "eur" {
		t.Errorf("Expected eur, got %s", c)
	}
	if h.store.saveCount() != 1 {
		t.Errorf("Currency change should persist once, got %d", h.store.saveCount())
	}
}

func TestSequencer_TradeRejectsListingInOtherCurrency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// The cached listing is still quoted in usd
	h.seq.SetCurrency(ctx, "inr")

	_, err := h.seq.Trade(ctx, "bitcoin", domain.SideBuy, d("1"))
	if !errors.Is(err, domain.ErrUnknownAsset) {
		t.Fatalf("Expected ErrUnknownAsset, got %v", err)
	}
	snap, _ := h.seq.Snapshot(ctx)
	if !snap.Cash.Equal(d("10000")) || len(snap.History) != 0 {
		t.Errorf("Rejected trade changed state: %+v", snap)
	}
}

func TestSequencer_Reset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.seq.Trade(ctx, "bitcoin", domain.SideBuy, d("1")); err != nil {
		t.Fatalf("Trade failed: %v", err)
	}
	h.seq.SetCurrency(ctx, "gbp")

	if err := h.seq.Reset(ctx, true); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	snap, _ := h.seq.Snapshot(ctx)
	if !snap.Cash.Equal(d("10000")) || len(snap.Holdings) != 0 || len(snap.History) != 0 {
		t.Errorf("Reset should restore the starting state, got %+v", snap)
	}
	if snap.Currency != "gbp" {
		t.Errorf("Currency should be kept, got %s", snap.Currency)
	}

	h.seq.Reset(ctx, false)
	if c, _ := h.seq.Currency(ctx); c != domain.DefaultCurrency {
		t.Errorf("Expected default currency, got %s", c)
	}
}

func TestSequencer_HistoryAndExport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seq.Trade(ctx, "bitcoin", domain.SideBuy, d("1"))
	h.seq.Trade(ctx, "ethereum", domain.SideBuy, d("3"))
	h.seq.Trade(ctx, "bitcoin", domain.SideSell, d("1"))

	recent, err := h.seq.History(ctx, 2)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Side != domain.SideSell {
		t.Errorf("Expected the 2 newest orders, got %+v", recent)
	}
	all, _ := h.seq.History(ctx, 0)
	if len(all) != 3 {
		t.Errorf("Expected 3 orders, got %d", len(all))
	}

	records, err := h.seq.ExportHistory(ctx)
	if err != nil {
		t.Fatalf("ExportHistory failed: %v", err)
	}

	// Later trades do not leak into an export already taken
	h.seq.Trade(ctx, "ethereum", domain.SideSell, d("1"))

	first := slices.Collect(records)
	second := slices.Collect(records)
	if len(first) != 3 || !slices.Equal(first, second) {
		t.Errorf("Export should be restartable and fixed at call time: %d vs %d", len(first), len(second))
	}
}

func TestSequencer_PersistFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.mu.Lock()
	h.store.err = errors.New("disk full")
	h.store.mu.Unlock()

	if _, err := h.seq.Trade(ctx, "bitcoin", domain.SideBuy, d("1")); err != nil {
		t.Fatalf("Trade should succeed despite persistence failure: %v", err)
	}
	p, _ := h.seq.Portfolio(ctx)
	if !p.Valuation.Cash.Equal(d("9900")) {
		t.Errorf("Expected cash 9900, got %s", p.Valuation.Cash)
	}
	if got := testutil.ToFloat64(h.metrics.PersistFailures); got != 1 {
		t.Errorf("Expected 1 persist failure, got %v", got)
	}
}

func TestSequencer_ClosePersistsAndStops(t *testing.T) {
	store := &memStore{}
	seq := NewSequencer(domain.NewLedger(decimal.NewFromInt(500), "usd"), store, testMarket(), nil, nil)
	seq.Start(context.Background())

	if _, err := seq.Trade(context.Background(), "ethereum", domain.SideBuy, d("5")); err != nil {
		t.Fatalf("Trade failed: %v", err)
	}
	seq.Close()

	if store.saveCount() != 2 {
		t.Errorf("Expected trade save plus final save, got %d", store.saveCount())
	}
	if !store.snap.Cash.Equal(d("450")) {
		t.Errorf("Final snapshot should hold cash 450, got %s", store.snap.Cash)
	}

	if _, err := seq.Portfolio(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped after Close, got %v", err)
	}
}

func TestSequencer_ContextCancelled(t *testing.T) {
	// Not started: the call can only end through its context
	seq := NewSequencer(domain.NewLedger(decimal.NewFromInt(1), "usd"), nil, nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := seq.Currency(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestSequencer_AcceptedCommandOutlivesContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	// The caller gives up while the loop is applying its command
	err := h.seq.read(ctx, func(*domain.Ledger) { cancel() })
	if err != nil {
		t.Errorf("Accepted command should report its own outcome, got %v", err)
	}

	trades := 0
	for range 20 {
		ctx, cancel := context.WithCancel(context.Background())
		h.seq.onUpdate = func(Update) { cancel() }
		_, err := h.seq.Trade(ctx, "ethereum", domain.SideBuy, d("1"))
		if err != nil {
			t.Fatalf("Trade reported %v although it was applied", err)
		}
		trades++
	}
	orders, _ := h.seq.History(context.Background(), 0)
	if len(orders) != trades {
		t.Errorf("Expected %d orders, got %d", trades, len(orders))
	}
}

func TestSequencer_ConcurrentTrades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.seq.Trade(ctx, "bitcoin", domain.SideBuy, d("1")); err != nil {
				t.Errorf("Trade failed: %v", err)
			}
		}()
	}
	wg.Wait()

	snap, _ := h.seq.Snapshot(ctx)
	if !snap.Cash.Equal(d("5000")) {
		t.Errorf("Expected cash 5000, got %s", snap.Cash)
	}
	if len(snap.History) != 50 {
		t.Errorf("Expected 50 orders, got %d", len(snap.History))
	}
	if _, err := domain.Restore(snap, decimal.NewFromInt(10000)); err != nil {
		t.Errorf("Ledger invariants broken: %v", err)
	}
}

func TestRestoreLedger(t *testing.T) {
	ctx := context.Background()
	start := decimal.NewFromInt(10000)

	t.Run("empty store", func(t *testing.T) {
		l := RestoreLedger(ctx, &memStore{}, start, "eur")
		if !l.Cash().Equal(start) || l.Currency() != "eur" {
			t.Errorf("Expected fresh eur ledger, got cash %s in %s", l.Cash(), l.Currency())
		}
	})

	t.Run("unreadable", func(t *testing.T) {
		l := RestoreLedger(ctx, &memStore{err: domain.ErrPersistenceCorrupt}, start, "usd")
		if !l.Cash().Equal(start) {
			t.Errorf("Expected fresh ledger, got cash %s", l.Cash())
		}
	})

	t.Run("invariant broken", func(t *testing.T) {
		bad := domain.Snapshot{Cash: d("-5"), Currency: "usd"}
		l := RestoreLedger(ctx, &memStore{snap: &bad}, start, "usd")
		if !l.Cash().Equal(start) {
			t.Errorf("Expected fresh ledger, got cash %s", l.Cash())
		}
	})

	t.Run("valid", func(t *testing.T) {
		saved := domain.NewLedger(start, "jpy")
		saved.ApplyTrade("bitcoin", "btc", "Bitcoin", domain.SideBuy, d("1"), d("250"))
		snap := saved.Snapshot()

		l := RestoreLedger(ctx, &memStore{snap: &snap}, start, "usd")
		if !l.Cash().Equal(d("9750")) || l.Currency() != "jpy" || len(l.History()) != 1 {
			t.Errorf("Expected the saved ledger, got cash %s in %s", l.Cash(), l.Currency())
		}
	})
}
