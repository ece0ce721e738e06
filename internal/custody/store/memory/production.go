package memory

import (
	"context"
	"fmt"
	"sync"

	"pharmatrace/internal/custody/domain/production"
	"pharmatrace/internal/custody/domain/shared"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
)

type ProductionStore struct {
	mu      sync.RWMutex
	records map[id.ProductionRecordID]*production.Record
}

func NewProductionStore() *ProductionStore {
	return &ProductionStore{records: make(map[id.ProductionRecordID]*production.Record)}
}

func (s *ProductionStore) FindByID(_ context.Context, recordID id.ProductionRecordID) (*production.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[recordID]
	if !ok {
		return nil, fmt.Errorf("production record %s: %w", recordID, sentinel.ErrNotFound)
	}
	return clone(r)
}

func (s *ProductionStore) FindByBatch(_ context.Context, batch shared.BatchNumber) ([]*production.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*production.Record
	for _, r := range s.records {
		if r.Batch == batch {
			out = append(out, r)
		}
	}
	out, err := cloneAll(out)
	if err != nil {
		return nil, err
	}
	return sortedByKey(out, func(r *production.Record) string {
		return r.CreatedAt.Format("20060102150405.000000000") + r.ID.String()
	}), nil
}

func (s *ProductionStore) Save(_ context.Context, r *production.Record) error {
	c, err := clone(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = c
	return nil
}
