package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"crypto_demo/internal/domain"

	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) *Storage {
	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"), "crypto_demo_state_v1")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadSnapshot_Empty(t *testing.T) {
	s := setupTestDB(t)

	snap, err := s.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if snap != nil {
		t.Errorf("expected nil snapshot from an empty slot, got %+v", snap)
	}
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	l := domain.NewLedger(decimal.NewFromInt(10000), "eur")
	l.SetClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) })
	if _, err := l.ApplyTrade("bitcoin", "btc", "Bitcoin", domain.SideBuy, decimal.RequireFromString("0.5"), decimal.NewFromInt(100)); err != nil {
		t.Fatalf("ApplyTrade failed: %v", err)
	}
	l.UpdatePrices(map[string]decimal.Decimal{"bitcoin": decimal.NewFromInt(120)})

	if err := s.SaveSnapshot(ctx, l.Snapshot()); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	snap, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if snap == nil {
		t.Fatal("loaded snapshot is nil")
	}
	if !snap.Cash.Equal(decimal.NewFromInt(9950)) {
		t.Errorf("expected cash 9950, got %s", snap.Cash)
	}
	if snap.Currency != "eur" {
		t.Errorf("expected currency eur, got %s", snap.Currency)
	}
	if h := snap.Holdings["bitcoin"]; !h.Quantity.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("expected 0.5 btc, got %s", h.Quantity)
	}
	if len(snap.History) != 1 || snap.History[0].Side != domain.SideBuy {
		t.Errorf("unexpected history %+v", snap.History)
	}

	restored, err := domain.Restore(*snap, decimal.NewFromInt(10000))
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !restored.ValuateLast().Total.Equal(decimal.NewFromInt(10010)) {
		t.Errorf("expected total 10010, got %s", restored.ValuateLast().Total)
	}
}

func TestSaveSnapshot_Overwrites(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	first := domain.NewLedger(decimal.NewFromInt(100), "usd").Snapshot()
	second := domain.NewLedger(decimal.NewFromInt(200), "gbp").Snapshot()
	s.SaveSnapshot(ctx, first)
	if err := s.SaveSnapshot(ctx, second); err != nil {
		t.Fatalf("second SaveSnapshot failed: %v", err)
	}

	snap, _ := s.LoadSnapshot(ctx)
	if snap.Currency != "gbp" || !snap.Cash.Equal(decimal.NewFromInt(200)) {
		t.Errorf("expected the latest snapshot, got %+v", snap)
	}
}

func TestLoadSnapshot_Corrupt(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if err := s.saveValue(ctx, s.stateKey, "{not json"); err != nil {
		t.Fatalf("saveValue failed: %v", err)
	}

	_, err := s.LoadSnapshot(ctx)
	if !errors.Is(err, domain.ErrPersistenceCorrupt) {
		t.Errorf("expected ErrPersistenceCorrupt, got %v", err)
	}
}

func TestUpsertAndGetAsset(t *testing.T) {
	s := setupTestDB(t)

	asset := &domain.AssetInfo{
		ID:       "bitcoin",
		Symbol:   "btc",
		Name:     "Bitcoin",
		ImageURL: "https://img/btc.png",
	}

	// 1. Create
	if err := s.UpsertAsset(asset); err != nil {
		t.Fatalf("UpsertAsset failed: %v", err)
	}

	// 2. Update
	asset.IconPath = "icons/bitcoin.png"
	if err := s.UpsertAsset(asset); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// 3. Get
	fetched, err := s.GetAsset("bitcoin")
	if err != nil {
		t.Fatalf("GetAsset failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("fetched asset is nil")
	}
	if fetched.IconPath != "icons/bitcoin.png" {
		t.Errorf("expected icon path to be updated, got '%s'", fetched.IconPath)
	}

	missing, err := s.GetAsset("nope")
	if err != nil || missing != nil {
		t.Errorf("expected (nil, nil) for a missing asset, got (%v, %v)", missing, err)
	}
}

func TestListAssets(t *testing.T) {
	s := setupTestDB(t)
	s.UpsertAsset(&domain.AssetInfo{ID: "tether", Symbol: "usdt"})
	s.UpsertAsset(&domain.AssetInfo{ID: "bitcoin", Symbol: "btc"})

	assets, err := s.ListAssets()
	if err != nil {
		t.Fatalf("ListAssets failed: %v", err)
	}
	if len(assets) != 2 || assets[0].Symbol != "btc" {
		t.Errorf("expected 2 assets ordered by symbol, got %+v", assets)
	}
}
