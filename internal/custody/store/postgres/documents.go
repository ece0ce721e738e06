// Package postgres persists custody aggregates as jsonb documents. Columns
// the repositories filter on are duplicated out of the payload on every
// save. Stores join a transaction carried in the context.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	platformpg "pharmatrace/internal/platform/postgres"
	"pharmatrace/pkg/platform/sentinel"
	"pharmatrace/pkg/platform/tx"
)

type scanner interface {
	Scan(dest ...any) error
}

// decodeOne reads a single payload row into a new T.
func decodeOne[T any](row scanner, what string) (*T, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", what, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find %s: %w", what, err)
	}
	out := new(T)
	if err := json.Unmarshal(payload, out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", what, err)
	}
	return out, nil
}

// decodeAll reads every payload row of rows and closes it.
func decodeAll[T any](rows *sql.Rows, what string) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		v := new(T)
		if err := json.Unmarshal(payload, v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return out, nil
}

func queryAll[T any](ctx context.Context, exec tx.Executor, what, query string, args ...any) ([]*T, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	return decodeAll[T](rows, what)
}

// saveErr maps a write failure to a sentinel.
func saveErr(err error, what string) error {
	if platformpg.IsUniqueViolation(err) {
		return fmt.Errorf("save %s: %w: %v", what, sentinel.ErrConflict, err)
	}
	return fmt.Errorf("save %s: %w", what, err)
}

// nullableUUID converts an optional typed id to a driver value.
func nullableUUID[T ~[16]byte](v *T) any {
	if v == nil {
		return nil
	}
	return uuid.UUID(*v)
}
