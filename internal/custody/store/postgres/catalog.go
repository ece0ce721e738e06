package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pharmatrace/internal/custody/domain/catalog"
	"pharmatrace/internal/custody/domain/shared"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
	"pharmatrace/pkg/platform/tx"
)

// CatalogStore reads products and parties. Onboarding writes go through
// SaveProduct and SaveParty.
type CatalogStore struct {
	db *sql.DB
}

func NewCatalogStore(db *sql.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

func (s *CatalogStore) FindProduct(ctx context.Context, productID id.ProductID) (*catalog.Product, error) {
	var p catalog.Product
	var manufacturer string
	err := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, name, manufacturer FROM products WHERE id = $1`, string(productID),
	).Scan((*string)(&p.ID), &p.Name, &manufacturer)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", productID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find product: %w", err)
	}
	p.Manufacturer = id.PartyID(manufacturer)
	return &p, nil
}

func (s *CatalogStore) FindParty(ctx context.Context, partyID id.PartyID) (*catalog.Party, error) {
	var p catalog.Party
	var role, address string
	err := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, name, role, ledger_address FROM parties WHERE id = $1`, string(partyID),
	).Scan((*string)(&p.ID), &p.Name, &role, &address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("party %s: %w", partyID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find party: %w", err)
	}
	if p.Role, err = catalog.ParseRole(role); err != nil {
		return nil, fmt.Errorf("party %s: %w", partyID, err)
	}
	if address != "" {
		if p.LedgerAddress, err = shared.NewLedgerAddress(address); err != nil {
			return nil, fmt.Errorf("party %s: %w", partyID, err)
		}
	}
	return &p, nil
}

func (s *CatalogStore) SaveParty(ctx context.Context, p catalog.Party) error {
	_, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO parties (id, name, role, ledger_address) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			ledger_address = EXCLUDED.ledger_address`,
		string(p.ID), p.Name, string(p.Role), p.LedgerAddress.String(),
	)
	if err != nil {
		return saveErr(err, "party "+p.ID.String())
	}
	return nil
}

func (s *CatalogStore) SaveProduct(ctx context.Context, p catalog.Product) error {
	_, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO products (id, name, manufacturer) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			manufacturer = EXCLUDED.manufacturer`,
		string(p.ID), p.Name, string(p.Manufacturer),
	)
	if err != nil {
		return saveErr(err, "product "+p.ID.String())
	}
	return nil
}
