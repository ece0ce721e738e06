package memory

import (
	"context"
	"fmt"
	"sync"

	"pharmatrace/internal/custody/domain/catalog"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
)

type CatalogStore struct {
	mu       sync.RWMutex
	products map[id.ProductID]catalog.Product
	parties  map[id.PartyID]catalog.Party
}

func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		products: make(map[id.ProductID]catalog.Product),
		parties:  make(map[id.PartyID]catalog.Party),
	}
}

func (s *CatalogStore) FindProduct(_ context.Context, productID id.ProductID) (*catalog.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productID, sentinel.ErrNotFound)
	}
	return &p, nil
}

func (s *CatalogStore) FindParty(_ context.Context, partyID id.PartyID) (*catalog.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parties[partyID]
	if !ok {
		return nil, fmt.Errorf("party %s: %w", partyID, sentinel.ErrNotFound)
	}
	return &p, nil
}

func (s *CatalogStore) SaveProduct(_ context.Context, p catalog.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return nil
}

func (s *CatalogStore) SaveParty(_ context.Context, p catalog.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parties[p.ID] = p
	return nil
}
