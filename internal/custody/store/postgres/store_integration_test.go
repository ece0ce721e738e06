//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pharmatrace/internal/custody/domain/catalog"
	"pharmatrace/internal/custody/domain/handoff"
	"pharmatrace/internal/custody/domain/receipt"
	"pharmatrace/internal/custody/domain/shared"
	"pharmatrace/internal/custody/domain/unit"
	"pharmatrace/internal/custody/store/postgres"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/sentinel"
	"pharmatrace/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres  *containers.PostgresContainer
	units     *postgres.UnitStore
	transfers *postgres.TransferStore
	receipts  *postgres.ReceiptStore
	catalog   *postgres.CatalogStore
	now       time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.units = postgres.NewUnitStore(s.postgres.DB)
	s.transfers = postgres.NewTransferStore(s.postgres.DB, handoff.KindManufacturer)
	s.receipts = postgres.NewReceiptStore(s.postgres.DB, receipt.KindDistribution)
	s.catalog = postgres.NewCatalogStore(s.postgres.DB)
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "units", "transfers", "receipts", "production_records", "products", "parties")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) mintUnit(token id.TokenID) *unit.Unit {
	u, err := unit.Mint(unit.MintParams{
		TokenID:            token,
		ProductID:          "PROD-1",
		OriginatingParty:   "MFR-1",
		Batch:              shared.MustBatchNumber("B001"),
		Serial:             unit.SerialFor(shared.MustBatchNumber("B001"), token),
		ManufacturedAt:     s.now,
		ExpiresAt:          s.now.AddDate(1, 0, 0),
		ProductionRecordID: id.NewProductionRecordID(),
	}, s.now)
	s.Require().NoError(err)
	return u
}

func (s *PostgresStoreSuite) TestUnits() {
	ctx := context.Background()

	s.Run("save many then find exact subset", func() {
		s.Require().NoError(s.units.SaveMany(ctx, []*unit.Unit{s.mintUnit("T1"), s.mintUnit("T2"), s.mintUnit("T3")}))

		found, err := s.units.FindByIDs(ctx, []id.TokenID{"T1", "T3", "MISSING"})
		s.Require().NoError(err)
		s.Len(found, 2)

		bySerial, err := s.units.FindBySerial(ctx, "B001-T2")
		s.Require().NoError(err)
		s.Equal(id.TokenID("T2"), bySerial.TokenID)
		s.Equal(unit.StatusMinted, bySerial.Status)
	})

	s.Run("duplicate serial aborts the whole batch", func() {
		dup := s.mintUnit("T9")
		dup.Serial = "B001-T1"
		err := s.units.SaveMany(ctx, []*unit.Unit{s.mintUnit("T8"), dup})
		s.ErrorIs(err, sentinel.ErrConflict)

		_, err = s.units.FindByID(ctx, "T8")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("create many is insert-only", func() {
		err := s.units.CreateMany(ctx, []*unit.Unit{s.mintUnit("T7"), s.mintUnit("T1")})
		s.ErrorIs(err, sentinel.ErrConflict)

		_, err = s.units.FindByID(ctx, "T7")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("expiring units exclude terminal ones", func() {
		u, err := s.units.FindByID(ctx, "T3")
		s.Require().NoError(err)
		s.Require().NoError(u.Recall(s.now))
		s.Require().NoError(s.units.Save(ctx, u))

		expiring, err := s.units.FindExpiringBefore(ctx, s.now.AddDate(2, 0, 0))
		s.Require().NoError(err)
		s.Len(expiring, 2)
	})
}

func (s *PostgresStoreSuite) TestTransfers() {
	ctx := context.Background()
	create := func(doc string, units ...id.TokenID) *handoff.Transfer {
		t, err := handoff.Create(handoff.ManufacturerLifecycle, handoff.CreateParams{
			FromParty:      "MFR-1",
			ToParty:        "DIST-1",
			ProductID:      "PROD-1",
			Batch:          shared.MustBatchNumber("B001"),
			DocumentNumber: shared.MustDocumentNumber(doc),
			UnitIDs:        units,
		}, s.now)
		s.Require().NoError(err)
		return t
	}

	s.Run("finds by unit membership and document", func() {
		t := create("INV-1", "T1", "T2")
		s.Require().NoError(t.Issue(s.now))
		s.Require().NoError(s.transfers.Save(ctx, t))

		byUnit, err := s.transfers.FindByUnit(ctx, "T2")
		s.Require().NoError(err)
		s.Require().Len(byUnit, 1)
		s.Equal(t.ID, byUnit[0].ID)
		s.Equal(handoff.StatusIssued, byUnit[0].Status)

		none, err := s.transfers.FindByUnit(ctx, "T3")
		s.Require().NoError(err)
		s.Empty(none)

		byDoc, err := s.transfers.FindByDocumentNumber(ctx, shared.MustDocumentNumber("inv-1"))
		s.Require().NoError(err)
		s.Equal(t.ID, byDoc.ID)
	})

	s.Run("issuer document numbers are unique", func() {
		err := s.transfers.Save(ctx, create("INV-1", "T3"))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("ledger pending lists sent unsettled transfers", func() {
		t := create("INV-2", "T4")
		s.Require().NoError(t.Issue(s.now))
		s.Require().NoError(t.Send(nil, s.now))
		t.MarkLedgerPending(handoff.LedgerIndeterminate, s.now)
		s.Require().NoError(s.transfers.Save(ctx, t))

		pending, err := s.transfers.FindLedgerPending(ctx)
		s.Require().NoError(err)
		s.Require().Len(pending, 1)
		s.True(pending[0].LedgerPending)

		t.MarkLedgerPending(handoff.LedgerRejected, s.now)
		s.Require().NoError(s.transfers.Save(ctx, t))
		pending, err = s.transfers.FindLedgerPending(ctx)
		s.Require().NoError(err)
		s.Empty(pending)
	})
}

func (s *PostgresStoreSuite) TestReceiptsAllowOneConfirmation() {
	ctx := context.Background()
	transferID := id.NewTransferID()
	newReceipt := func() *receipt.Receipt {
		r, err := receipt.Create(receipt.DistributionLifecycle, receipt.CreateParams{
			FromParty:             "MFR-1",
			ToParty:               "DIST-1",
			ReceivedQuantity:      shared.MustCount(2, "units"),
			OriginatingTransferID: transferID,
		}, s.now)
		s.Require().NoError(err)
		s.Require().NoError(r.ConfirmReceipt(nil, s.now))
		return r
	}

	s.Require().NoError(s.receipts.Save(ctx, newReceipt()))
	err := s.receipts.Save(ctx, newReceipt())
	s.ErrorIs(err, sentinel.ErrConflict)

	found, err := s.receipts.FindByOriginatingTransfer(ctx, transferID)
	s.Require().NoError(err)
	s.Len(found, 1)
}

func (s *PostgresStoreSuite) TestCatalog() {
	ctx := context.Background()
	addr, err := shared.NewLedgerAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	s.Require().NoError(err)
	s.Require().NoError(s.catalog.SaveParty(ctx, catalog.Party{ID: "MFR-1", Name: "Acme", Role: catalog.RoleManufacturer, LedgerAddress: addr}))
	s.Require().NoError(s.catalog.SaveProduct(ctx, catalog.Product{ID: "PROD-1", Name: "Amoxicillin", Manufacturer: "MFR-1"}))

	party, err := s.catalog.FindParty(ctx, "MFR-1")
	s.Require().NoError(err)
	s.Equal("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", party.LedgerAddress.String())

	product, err := s.catalog.FindProduct(ctx, "PROD-1")
	s.Require().NoError(err)
	s.True(product.OwnedBy("MFR-1"))

	_, err = s.catalog.FindParty(ctx, "NOPE")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
