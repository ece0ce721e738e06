package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"pharmatrace/internal/custody/domain/catalog"
)

// CatalogSeed is the file format of PHARMATRACE_CATALOG_FILE.
type CatalogSeed struct {
	Parties  []catalog.Party   `json:"parties"`
	Products []catalog.Product `json:"products"`
}

// SeedCatalog upserts every party and product listed in the file at path.
func (a *App) SeedCatalog(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog seed: %w", err)
	}
	var seed CatalogSeed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("decode catalog seed %s: %w", path, err)
	}
	if err := ApplySeed(ctx, a.Catalog, seed); err != nil {
		return err
	}
	a.Logger.InfoContext(ctx, "catalog seeded",
		"path", path,
		"parties", len(seed.Parties),
		"products", len(seed.Products),
	)
	return nil
}

// ApplySeed validates and writes seed. Parties are written first so products
// can reference their manufacturer.
func ApplySeed(ctx context.Context, w CatalogWriter, seed CatalogSeed) error {
	for _, p := range seed.Parties {
		if _, err := catalog.ParseRole(string(p.Role)); err != nil {
			return fmt.Errorf("party %s: %w", p.ID, err)
		}
		if err := w.SaveParty(ctx, p); err != nil {
			return fmt.Errorf("save party %s: %w", p.ID, err)
		}
	}
	for _, p := range seed.Products {
		maker, err := w.FindParty(ctx, p.Manufacturer)
		if err != nil {
			return fmt.Errorf("product %s: manufacturer %s: %w", p.ID, p.Manufacturer, err)
		}
		if maker.Role != catalog.RoleManufacturer {
			return fmt.Errorf("product %s: party %s is a %s, not a manufacturer", p.ID, maker.ID, maker.Role)
		}
		if err := w.SaveProduct(ctx, p); err != nil {
			return fmt.Errorf("save product %s: %w", p.ID, err)
		}
	}
	return nil
}
