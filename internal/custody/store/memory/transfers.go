package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"pharmatrace/internal/custody/domain/handoff"
	"pharmatrace/internal/custody/domain/shared"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
)

// TransferStore holds the transfers of one handoff kind. Document numbers
// are unique per issuing party.
type TransferStore struct {
	kind      handoff.Kind
	mu        sync.RWMutex
	transfers map[id.TransferID]*handoff.Transfer
}

func NewTransferStore(kind handoff.Kind) *TransferStore {
	return &TransferStore{kind: kind, transfers: make(map[id.TransferID]*handoff.Transfer)}
}

func (s *TransferStore) FindByID(_ context.Context, transferID id.TransferID) (*handoff.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transfers[transferID]
	if !ok {
		return nil, fmt.Errorf("%s transfer %s: %w", s.kind, transferID, sentinel.ErrNotFound)
	}
	return clone(t)
}

func (s *TransferStore) FindByDocumentNumber(_ context.Context, doc shared.DocumentNumber) (*handoff.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.transfers {
		if t.DocumentNumber == doc {
			return clone(t)
		}
	}
	return nil, fmt.Errorf("%s transfer document %s: %w", s.kind, doc, sentinel.ErrNotFound)
}

func (s *TransferStore) FindByParty(_ context.Context, party id.PartyID) ([]*handoff.Transfer, error) {
	return s.filter(func(t *handoff.Transfer) bool { return t.FromParty == party || t.ToParty == party })
}

func (s *TransferStore) FindByUnit(_ context.Context, token id.TokenID) ([]*handoff.Transfer, error) {
	return s.filter(func(t *handoff.Transfer) bool { return t.Contains(token) })
}

func (s *TransferStore) FindByBatch(_ context.Context, batch shared.BatchNumber) ([]*handoff.Transfer, error) {
	return s.filter(func(t *handoff.Transfer) bool { return !batch.IsZero() && t.Batch == batch })
}

func (s *TransferStore) FindByProductionRecords(_ context.Context, recordIDs []id.ProductionRecordID) ([]*handoff.Transfer, error) {
	return s.filter(func(t *handoff.Transfer) bool {
		return t.ProductionRecordID != nil && slices.Contains(recordIDs, *t.ProductionRecordID)
	})
}

func (s *TransferStore) FindLedgerPending(_ context.Context) ([]*handoff.Transfer, error) {
	return s.filter((*handoff.Transfer).AwaitsLedgerSweep)
}

func (s *TransferStore) filter(match func(*handoff.Transfer) bool) ([]*handoff.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*handoff.Transfer
	for _, t := range s.transfers {
		if match(t) {
			out = append(out, t)
		}
	}
	out, err := cloneAll(out)
	if err != nil {
		return nil, err
	}
	return sortedByKey(out, func(t *handoff.Transfer) string {
		return t.CreatedAt.Format("20060102150405.000000000") + t.ID.String()
	}), nil
}

// Save upserts by id. A different transfer reusing an issuer's document
// number is a conflict.
func (s *TransferStore) Save(_ context.Context, t *handoff.Transfer) error {
	if t.Kind != s.kind {
		return fmt.Errorf("store holds %s transfers, got %s", s.kind, t.Kind)
	}
	c, err := clone(t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for existingID, existing := range s.transfers {
		if existingID != t.ID && existing.FromParty == t.FromParty && existing.DocumentNumber == t.DocumentNumber {
			return fmt.Errorf("document %s already issued by %s: %w", t.DocumentNumber, t.FromParty, sentinel.ErrConflict)
		}
	}
	s.transfers[t.ID] = c
	return nil
}
