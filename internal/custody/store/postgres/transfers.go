package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"pharmatrace/internal/custody/domain/handoff"
	"pharmatrace/internal/custody/domain/shared"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/tx"
)

// TransferStore persists the transfers of one handoff kind. The
// (kind, from_party, document_number) constraint enforces issuer-unique
// document numbers.
type TransferStore struct {
	db   *sql.DB
	kind handoff.Kind
}

func NewTransferStore(db *sql.DB, kind handoff.Kind) *TransferStore {
	return &TransferStore{db: db, kind: kind}
}

func (s *TransferStore) FindByID(ctx context.Context, transferID id.TransferID) (*handoff.Transfer, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT payload FROM transfers WHERE kind = $1 AND id = $2`, string(s.kind), uuid.UUID(transferID))
	return decodeOne[handoff.Transfer](row, fmt.Sprintf("%s transfer %s", s.kind, transferID))
}

func (s *TransferStore) FindByDocumentNumber(ctx context.Context, doc shared.DocumentNumber) (*handoff.Transfer, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT payload FROM transfers WHERE kind = $1 AND document_number = $2
		ORDER BY created_at DESC LIMIT 1`, string(s.kind), doc.String())
	return decodeOne[handoff.Transfer](row, fmt.Sprintf("%s transfer document %s", s.kind, doc))
}

func (s *TransferStore) FindByParty(ctx context.Context, party id.PartyID) ([]*handoff.Transfer, error) {
	return s.list(ctx, `(from_party = $2 OR to_party = $2)`, string(party))
}

func (s *TransferStore) FindByUnit(ctx context.Context, token id.TokenID) ([]*handoff.Transfer, error) {
	return s.list(ctx, `unit_ids @> ARRAY[$2]::text[]`, string(token))
}

func (s *TransferStore) FindByBatch(ctx context.Context, batch shared.BatchNumber) ([]*handoff.Transfer, error) {
	if batch.IsZero() {
		return nil, nil
	}
	return s.list(ctx, `batch = $2`, batch.String())
}

func (s *TransferStore) FindByProductionRecords(ctx context.Context, recordIDs []id.ProductionRecordID) ([]*handoff.Transfer, error) {
	if len(recordIDs) == 0 {
		return nil, nil
	}
	raw := make([]string, len(recordIDs))
	for i, r := range recordIDs {
		raw[i] = r.String()
	}
	return s.list(ctx, `production_record_id = ANY($2::uuid[])`, pq.Array(raw))
}

func (s *TransferStore) FindLedgerPending(ctx context.Context) ([]*handoff.Transfer, error) {
	return s.list(ctx, `status = $2 AND NOT ledger_settled AND COALESCE(payload->>'ledger_outcome', '') <> '`+string(handoff.LedgerRejected)+`'`,
		string(handoff.StatusSent))
}

func (s *TransferStore) list(ctx context.Context, where string, arg any) ([]*handoff.Transfer, error) {
	query := `SELECT payload FROM transfers WHERE kind = $1 AND ` + where + ` ORDER BY created_at, id`
	return queryAll[handoff.Transfer](ctx, tx.Exec(ctx, s.db), string(s.kind)+" transfers", query, string(s.kind), arg)
}

func (s *TransferStore) Save(ctx context.Context, t *handoff.Transfer) error {
	if t.Kind != s.kind {
		return fmt.Errorf("store holds %s transfers, got %s", s.kind, t.Kind)
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode transfer %s: %w", t.ID, err)
	}
	units := make([]string, len(t.UnitIDs))
	for i, u := range t.UnitIDs {
		units[i] = string(u)
	}
	_, err = tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO transfers (id, kind, from_party, to_party, document_number, batch, production_record_id,
			unit_ids, status, ledger_settled, created_at, updated_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			to_party = EXCLUDED.to_party,
			document_number = EXCLUDED.document_number,
			batch = EXCLUDED.batch,
			production_record_id = EXCLUDED.production_record_id,
			unit_ids = EXCLUDED.unit_ids,
			status = EXCLUDED.status,
			ledger_settled = EXCLUDED.ledger_settled,
			updated_at = EXCLUDED.updated_at,
			payload = EXCLUDED.payload`,
		uuid.UUID(t.ID), string(t.Kind), string(t.FromParty), string(t.ToParty), t.DocumentNumber.String(),
		t.Batch.String(), nullableUUID(t.ProductionRecordID), pq.Array(units), string(t.Status),
		t.IsSettled(), t.CreatedAt, t.UpdatedAt, payload,
	)
	if err != nil {
		return saveErr(err, "transfer "+t.ID.String())
	}
	return nil
}
