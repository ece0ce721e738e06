package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"pharmatrace/internal/custody/domain/receipt"
	"pharmatrace/internal/custody/domain/shared"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/tx"
)

// ReceiptStore persists the receipts of one kind. A partial unique index
// allows at most one CONFIRMED receipt per originating transfer.
type ReceiptStore struct {
	db   *sql.DB
	kind receipt.Kind
}

func NewReceiptStore(db *sql.DB, kind receipt.Kind) *ReceiptStore {
	return &ReceiptStore{db: db, kind: kind}
}

func (s *ReceiptStore) FindByID(ctx context.Context, receiptID id.ReceiptID) (*receipt.Receipt, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT payload FROM receipts WHERE kind = $1 AND id = $2`, string(s.kind), uuid.UUID(receiptID))
	return decodeOne[receipt.Receipt](row, fmt.Sprintf("%s receipt %s", s.kind, receiptID))
}

func (s *ReceiptStore) FindByOriginatingTransfer(ctx context.Context, transferID id.TransferID) ([]*receipt.Receipt, error) {
	return s.list(ctx, `originating_transfer_id = $2`, uuid.UUID(transferID))
}

func (s *ReceiptStore) FindByTransfers(ctx context.Context, transferIDs []id.TransferID) ([]*receipt.Receipt, error) {
	if len(transferIDs) == 0 {
		return nil, nil
	}
	raw := make([]string, len(transferIDs))
	for i, t := range transferIDs {
		raw[i] = t.String()
	}
	return s.list(ctx, `originating_transfer_id = ANY($2::uuid[])`, pq.Array(raw))
}

func (s *ReceiptStore) FindByParty(ctx context.Context, party id.PartyID) ([]*receipt.Receipt, error) {
	return s.list(ctx, `(from_party = $2 OR to_party = $2)`, string(party))
}

func (s *ReceiptStore) FindByBatch(ctx context.Context, batch shared.BatchNumber) ([]*receipt.Receipt, error) {
	if batch.IsZero() {
		return nil, nil
	}
	return s.list(ctx, `batch = $2`, batch.String())
}

func (s *ReceiptStore) list(ctx context.Context, where string, arg any) ([]*receipt.Receipt, error) {
	query := `SELECT payload FROM receipts WHERE kind = $1 AND ` + where + ` ORDER BY created_at, id`
	return queryAll[receipt.Receipt](ctx, tx.Exec(ctx, s.db), string(s.kind)+" receipts", query, string(s.kind), arg)
}

func (s *ReceiptStore) Save(ctx context.Context, r *receipt.Receipt) error {
	if r.Kind != s.kind {
		return fmt.Errorf("store holds %s receipts, got %s", s.kind, r.Kind)
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode receipt %s: %w", r.ID, err)
	}
	_, err = tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO receipts (id, kind, originating_transfer_id, from_party, to_party, batch, status, created_at, updated_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			batch = EXCLUDED.batch,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			payload = EXCLUDED.payload`,
		uuid.UUID(r.ID), string(r.Kind), uuid.UUID(r.OriginatingTransferID), string(r.FromParty), string(r.ToParty),
		r.Batch.String(), string(r.Status), r.CreatedAt, r.UpdatedAt, payload,
	)
	if err != nil {
		return saveErr(err, "receipt "+r.ID.String())
	}
	return nil
}
