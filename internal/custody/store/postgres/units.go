package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"pharmatrace/internal/custody/domain/shared"
	"pharmatrace/internal/custody/domain/unit"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/tx"
)

// UnitStore persists units in the units table.
type UnitStore struct {
	db *sql.DB
}

func NewUnitStore(db *sql.DB) *UnitStore {
	return &UnitStore{db: db}
}

func (s *UnitStore) FindByID(ctx context.Context, token id.TokenID) (*unit.Unit, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx, `SELECT payload FROM units WHERE token_id = $1`, string(token))
	return decodeOne[unit.Unit](row, "unit "+token.String())
}

func (s *UnitStore) FindByIDs(ctx context.Context, tokens []id.TokenID) ([]*unit.Unit, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	raw := make([]string, len(tokens))
	for i, t := range tokens {
		raw[i] = string(t)
	}
	return queryAll[unit.Unit](ctx, tx.Exec(ctx, s.db), "units",
		`SELECT payload FROM units WHERE token_id = ANY($1) ORDER BY token_id`, pq.Array(raw))
}

func (s *UnitStore) FindBySerial(ctx context.Context, serial string) (*unit.Unit, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx, `SELECT payload FROM units WHERE serial = $1`, serial)
	return decodeOne[unit.Unit](row, "unit serial "+serial)
}

func (s *UnitStore) FindByBatch(ctx context.Context, batch shared.BatchNumber) ([]*unit.Unit, error) {
	return queryAll[unit.Unit](ctx, tx.Exec(ctx, s.db), "units",
		`SELECT payload FROM units WHERE batch = $1 ORDER BY token_id`, batch.String())
}

func (s *UnitStore) FindByHolder(ctx context.Context, holder id.PartyID) ([]*unit.Unit, error) {
	return queryAll[unit.Unit](ctx, tx.Exec(ctx, s.db), "units",
		`SELECT payload FROM units WHERE holder = $1 ORDER BY token_id`, string(holder))
}

func (s *UnitStore) FindExpiringBefore(ctx context.Context, t time.Time) ([]*unit.Unit, error) {
	return queryAll[unit.Unit](ctx, tx.Exec(ctx, s.db), "units", `
		SELECT payload FROM units
		WHERE status IN ('MINTED', 'TRANSFERRED') AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY token_id`, t)
}

func (s *UnitStore) Save(ctx context.Context, u *unit.Unit) error {
	return s.upsert(ctx, tx.Exec(ctx, s.db), u)
}

// SaveMany writes every unit in one transaction.
func (s *UnitStore) SaveMany(ctx context.Context, units []*unit.Unit) error {
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		exec := tx.Exec(ctx, s.db)
		for _, u := range units {
			if err := s.upsert(ctx, exec, u); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateMany inserts every unit in one transaction. An existing token id or
// serial is a unique violation and surfaces as sentinel.ErrConflict.
func (s *UnitStore) CreateMany(ctx context.Context, units []*unit.Unit) error {
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		exec := tx.Exec(ctx, s.db)
		for _, u := range units {
			if err := s.write(ctx, exec, u, ""); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *UnitStore) upsert(ctx context.Context, exec tx.Executor, u *unit.Unit) error {
	return s.write(ctx, exec, u, `
		ON CONFLICT (token_id) DO UPDATE SET
			serial = EXCLUDED.serial,
			batch = EXCLUDED.batch,
			holder = EXCLUDED.holder,
			status = EXCLUDED.status,
			expires_at = EXCLUDED.expires_at,
			production_record_id = EXCLUDED.production_record_id,
			updated_at = EXCLUDED.updated_at,
			payload = EXCLUDED.payload`)
}

func (s *UnitStore) write(ctx context.Context, exec tx.Executor, u *unit.Unit, onConflict string) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode unit %s: %w", u.TokenID, err)
	}
	var expires any
	if !u.ExpiresAt.IsZero() {
		expires = u.ExpiresAt
	}
	var record any
	if !u.ProductionRecordID.IsNil() {
		record = uuid.UUID(u.ProductionRecordID)
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO units (token_id, serial, batch, holder, status, expires_at, production_record_id, updated_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`+onConflict,
		string(u.TokenID), u.Serial, u.Batch.String(), string(u.Holder), string(u.Status),
		expires, record, u.UpdatedAt, payload,
	)
	if err != nil {
		return saveErr(err, "unit "+u.TokenID.String())
	}
	return nil
}
