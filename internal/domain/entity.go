package domain

import (
	"time"
)

// AssetInfo is the locally cached metadata of a listed asset
type AssetInfo struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	Symbol       string    `json:"symbol" gorm:"index"`
	Name         string    `json:"name"`
	ImageURL     string    `json:"image_url"`
	IconPath     string    `json:"icon_path"`
	LastSyncedAt time.Time `json:"last_synced_at"` // Last icon sync time
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AppConfig is one slot of the local key-value store
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
