package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"pharmatrace/internal/custody/domain/receipt"
	"pharmatrace/internal/custody/domain/shared"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
)

// ReceiptStore holds the receipts of one receipt kind. Like the postgres
// store it refuses a second CONFIRMED receipt for one originating transfer.
type ReceiptStore struct {
	kind     receipt.Kind
	mu       sync.RWMutex
	receipts map[id.ReceiptID]*receipt.Receipt
}

func NewReceiptStore(kind receipt.Kind) *ReceiptStore {
	return &ReceiptStore{kind: kind, receipts: make(map[id.ReceiptID]*receipt.Receipt)}
}

func (s *ReceiptStore) FindByID(_ context.Context, receiptID id.ReceiptID) (*receipt.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[receiptID]
	if !ok {
		return nil, fmt.Errorf("%s receipt %s: %w", s.kind, receiptID, sentinel.ErrNotFound)
	}
	return clone(r)
}

func (s *ReceiptStore) FindByOriginatingTransfer(_ context.Context, transferID id.TransferID) ([]*receipt.Receipt, error) {
	return s.filter(func(r *receipt.Receipt) bool { return r.OriginatingTransferID == transferID })
}

func (s *ReceiptStore) FindByTransfers(_ context.Context, transferIDs []id.TransferID) ([]*receipt.Receipt, error) {
	return s.filter(func(r *receipt.Receipt) bool { return slices.Contains(transferIDs, r.OriginatingTransferID) })
}

func (s *ReceiptStore) FindByParty(_ context.Context, party id.PartyID) ([]*receipt.Receipt, error) {
	return s.filter(func(r *receipt.Receipt) bool { return r.FromParty == party || r.ToParty == party })
}

func (s *ReceiptStore) FindByBatch(_ context.Context, batch shared.BatchNumber) ([]*receipt.Receipt, error) {
	return s.filter(func(r *receipt.Receipt) bool { return !batch.IsZero() && r.Batch == batch })
}

func (s *ReceiptStore) filter(match func(*receipt.Receipt) bool) ([]*receipt.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*receipt.Receipt
	for _, r := range s.receipts {
		if match(r) {
			out = append(out, r)
		}
	}
	out, err := cloneAll(out)
	if err != nil {
		return nil, err
	}
	return sortedByKey(out, func(r *receipt.Receipt) string {
		return r.CreatedAt.Format("20060102150405.000000000") + r.ID.String()
	}), nil
}

func (s *ReceiptStore) Save(_ context.Context, r *receipt.Receipt) error {
	if r.Kind != s.kind {
		return fmt.Errorf("store holds %s receipts, got %s", s.kind, r.Kind)
	}
	c, err := clone(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.IsConfirmed() {
		for _, other := range s.receipts {
			if other.ID != r.ID && other.IsConfirmed() && other.OriginatingTransferID == r.OriginatingTransferID {
				return fmt.Errorf("transfer %s already has confirmed receipt %s: %w",
					r.OriginatingTransferID, other.ID, sentinel.ErrConflict)
			}
		}
	}
	s.receipts[r.ID] = c
	return nil
}
