package domain

import (
	"context"
)

// PriceFeed is the market data source. Failures match ErrFeedUnavailable.
type PriceFeed interface {
	FetchTopAssets(ctx context.Context, currency string) ([]Asset, error)
	FetchChart(ctx context.Context, assetID, currency string, days int) ([]ChartPoint, error)
}

// SnapshotStore persists the ledger in a single local slot.
// LoadSnapshot returns (nil, nil) when nothing has been saved yet.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
}
