package service

import (
	"slices"
	"sync"
	"time"

	"crypto_demo/internal/domain"
)

// PriceService holds the latest market listing
type PriceService struct {
	mu        sync.RWMutex
	assets    map[string]domain.Asset
	currency  string
	updatedAt time.Time
}

// NewPriceService creates a new PriceService instance
func NewPriceService() *PriceService {
	return &PriceService{
		assets: make(map[string]domain.Asset),
	}
}

// Replace swaps in a freshly fetched listing quoted in currency.
func (s *PriceService) Replace(currency string, assets []domain.Asset) {
	next := make(map[string]domain.Asset, len(assets))
	for _, a := range assets {
		next[a.ID] = a
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.assets = next
	s.currency = currency
	s.updatedAt = time.Now()
}

// All returns the listing ordered by rank
func (s *PriceService) All() []domain.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		result = append(result, a)
	}

	// Sort by rank for consistent ordering
	slices.SortFunc(result, func(a, b domain.Asset) int {
		return a.Rank - b.Rank
	})

	return result
}

// Get returns the listed asset with the given id
func (s *PriceService) Get(id string) (domain.Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[id]
	return a, ok
}

// Currency returns the quote currency of the cached listing ("" before the first fetch)
func (s *PriceService) Currency() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.currency
}

// UpdatedAt returns when the listing was last replaced
func (s *PriceService) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.updatedAt
}

// Clear drops the cached listing, e.g. after a currency change.
func (s *PriceService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assets = make(map[string]domain.Asset)
	s.currency = ""
	s.updatedAt = time.Time{}
}
