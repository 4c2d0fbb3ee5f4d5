package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"crypto_demo/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the local SQLite store: one ledger snapshot slot plus asset metadata.
type Storage struct {
	db       *gorm.DB
	stateKey string
}

var _ domain.SnapshotStore = (*Storage)(nil)

// NewStorage opens (or creates) the database at dbPath. An empty dbPath
// resolves to the per-user config directory.
func NewStorage(dbPath, stateKey string) (*Storage, error) {
	if dbPath == "" {
		p, err := getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
		dbPath = p
	}

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.AssetInfo{}, &domain.AppConfig{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db, stateKey: stateKey}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "CryptoDemo", "data", "cryptodemo.db"), nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Ledger Snapshot
// ======================================================================================

// SaveSnapshot overwrites the snapshot slot.
func (s *Storage) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.saveValue(ctx, s.stateKey, string(data))
}

// LoadSnapshot reads the snapshot slot. It returns (nil, nil) when the slot is empty.
func (s *Storage) LoadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	value, ok, err := s.loadValue(ctx, s.stateKey)
	if err != nil || !ok {
		return nil, err
	}

	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(value), &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceCorrupt, err)
	}
	return &snap, nil
}

func (s *Storage) saveValue(ctx context.Context, key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.WithContext(ctx).Save(&config).Error
}

func (s *Storage) loadValue(ctx context.Context, key string) (string, bool, error) {
	var config domain.AppConfig
	err := s.db.WithContext(ctx).First(&config, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return config.Value, true, nil
}

// ======================================================================================
// Asset Operations
// ======================================================================================

// UpsertAsset creates or updates asset metadata
func (s *Storage) UpsertAsset(asset *domain.AssetInfo) error {
	return s.db.Save(asset).Error
}

// GetAsset retrieves asset metadata by id
func (s *Storage) GetAsset(id string) (*domain.AssetInfo, error) {
	var asset domain.AssetInfo
	err := s.db.First(&asset, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &asset, err
}

// ListAssets retrieves all cached assets ordered by symbol
func (s *Storage) ListAssets() ([]domain.AssetInfo, error) {
	var assets []domain.AssetInfo
	err := s.db.Order("symbol").Find(&assets).Error
	return assets, err
}
