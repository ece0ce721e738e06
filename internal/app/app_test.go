package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmatrace/internal/custody/domain/catalog"
	"pharmatrace/internal/custody/store/memory"
	"pharmatrace/internal/platform/config"
	id "pharmatrace/pkg/domain"
)

const seedJSON = `{
  "parties": [
    {"id": "MFR-1", "name": "Acme Pharma", "role": "manufacturer", "ledger_address": "0x52908400098527886e0f7030069857d2e4169ee7"},
    {"id": "DIST-1", "name": "North Wholesale", "role": "distributor"}
  ],
  "products": [
    {"id": "PRD-1", "name": "Amoxicillin 500mg", "manufacturer": "MFR-1"}
  ]
}`

func TestBuildInMemory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(seedJSON), 0o600))

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	cfg.Server.CatalogFile = path

	a, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Relay)
	assert.NotNil(t, a.Custody)
	assert.NotNil(t, a.Provenance)
	assert.NotNil(t, a.Limiter)
	assert.NoError(t, a.Ping(context.Background()))

	party, err := a.Catalog.FindParty(context.Background(), "MFR-1")
	require.NoError(t, err)
	assert.True(t, party.HasLedgerAccount())

	product, err := a.Catalog.FindProduct(context.Background(), "PRD-1")
	require.NoError(t, err)
	assert.Equal(t, id.PartyID("MFR-1"), product.Manufacturer)
}

func TestApplySeed(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown role is rejected", func(t *testing.T) {
		err := ApplySeed(ctx, memory.NewCatalogStore(), CatalogSeed{
			Parties: []catalog.Party{{ID: "X-1", Role: "wholesaler"}},
		})
		assert.ErrorContains(t, err, "unknown party role")
	})

	t.Run("product needs a manufacturer party", func(t *testing.T) {
		err := ApplySeed(ctx, memory.NewCatalogStore(), CatalogSeed{
			Parties:  []catalog.Party{{ID: "DIST-1", Role: catalog.RoleDistributor}},
			Products: []catalog.Product{{ID: "PRD-1", Manufacturer: "DIST-1"}},
		})
		assert.ErrorContains(t, err, "not a manufacturer")
	})

	t.Run("missing manufacturer is rejected", func(t *testing.T) {
		err := ApplySeed(ctx, memory.NewCatalogStore(), CatalogSeed{
			Products: []catalog.Product{{ID: "PRD-1", Manufacturer: "MFR-9"}},
		})
		assert.Error(t, err)
	})
}
