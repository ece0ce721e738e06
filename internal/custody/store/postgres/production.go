package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"pharmatrace/internal/custody/domain/production"
	"pharmatrace/internal/custody/domain/shared"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/tx"
)

type ProductionStore struct {
	db *sql.DB
}

func NewProductionStore(db *sql.DB) *ProductionStore {
	return &ProductionStore{db: db}
}

func (s *ProductionStore) FindByID(ctx context.Context, recordID id.ProductionRecordID) (*production.Record, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT payload FROM production_records WHERE id = $1`, uuid.UUID(recordID))
	return decodeOne[production.Record](row, "production record "+recordID.String())
}

func (s *ProductionStore) FindByBatch(ctx context.Context, batch shared.BatchNumber) ([]*production.Record, error) {
	return queryAll[production.Record](ctx, tx.Exec(ctx, s.db), "production records",
		`SELECT payload FROM production_records WHERE batch = $1 ORDER BY created_at, id`, batch.String())
}

func (s *ProductionStore) Save(ctx context.Context, r *production.Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode production record %s: %w", r.ID, err)
	}
	_, err = tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO production_records (id, batch, producing_party, status, created_at, updated_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			batch = EXCLUDED.batch,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			payload = EXCLUDED.payload`,
		uuid.UUID(r.ID), r.Batch.String(), string(r.ProducingParty), string(r.Status), r.CreatedAt, r.UpdatedAt, payload,
	)
	if err != nil {
		return saveErr(err, "production record "+r.ID.String())
	}
	return nil
}
