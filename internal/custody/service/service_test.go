package service

//go:generate mockgen -source=../ports/ledger.go -destination=../ports/mocks/mocks.go -package=mocks Ledger,EventPublisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"pharmatrace/internal/custody/domain/catalog"
	"pharmatrace/internal/custody/domain/events"
	"pharmatrace/internal/custody/domain/handoff"
	"pharmatrace/internal/custody/domain/production"
	"pharmatrace/internal/custody/domain/receipt"
	"pharmatrace/internal/custody/domain/shared"
	"pharmatrace/internal/custody/domain/unit"
	"pharmatrace/internal/custody/metrics"
	"pharmatrace/internal/custody/ports"
	"pharmatrace/internal/custody/ports/mocks"
	"pharmatrace/internal/custody/store/memory"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/sentinel"
)

// =============================================================================
// Custody Service Test Suite
// =============================================================================
// Use cases run against the in-memory stores; the ledger and publisher are
// gomock doubles so tests control settlement outcomes.

const (
	manufacturer id.PartyID   = "MFR-1"
	otherMaker   id.PartyID   = "MFR-2"
	distributor  id.PartyID   = "DIST-1"
	otherDist    id.PartyID   = "DIST-2"
	pharmacy     id.PartyID   = "PHARM-1"
	product      id.ProductID = "PROD-1"
)

var (
	txA = strings.Repeat("a", 64)
	txB = strings.Repeat("b", 64)
)

type CustodyServiceSuite struct {
	suite.Suite
	ctx       context.Context
	ctrl      *gomock.Controller
	ledger    *mocks.MockLedger
	publisher *mocks.MockEventPublisher
	published []events.Event
	units     *memory.UnitStore
	records   *memory.ProductionStore
	mfrXfers  *memory.TransferStore
	distXfers *memory.TransferStore
	distRcpts *memory.ReceiptStore
	pharmRcpt *memory.ReceiptStore
	catalog   *memory.CatalogStore
	clock     time.Time
	service   *Service
}

func TestCustodyServiceSuite(t *testing.T) {
	suite.Run(t, new(CustodyServiceSuite))
}

func (s *CustodyServiceSuite) SetupTest() {
	s.fresh()
}

// fresh rebuilds every store and double so subtests do not share state.
func (s *CustodyServiceSuite) fresh() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.ledger = mocks.NewMockLedger(s.ctrl)
	s.publisher = mocks.NewMockEventPublisher(s.ctrl)
	s.published = nil
	s.publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, evts ...events.Event) error {
			s.published = append(s.published, evts...)
			return nil
		}).AnyTimes()

	s.units = memory.NewUnitStore()
	s.records = memory.NewProductionStore()
	s.mfrXfers = memory.NewTransferStore(handoff.KindManufacturer)
	s.distXfers = memory.NewTransferStore(handoff.KindDistributor)
	s.distRcpts = memory.NewReceiptStore(receipt.KindDistribution)
	s.pharmRcpt = memory.NewReceiptStore(receipt.KindPharmacy)
	s.catalog = memory.NewCatalogStore()
	s.clock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	s.Require().NoError(s.catalog.SaveProduct(s.ctx, catalog.Product{ID: product, Name: "Amoxicillin 500mg", Manufacturer: manufacturer}))
	for _, p := range []catalog.Party{
		{ID: manufacturer, Name: "Acme Pharma", Role: catalog.RoleManufacturer, LedgerAddress: address("1")},
		{ID: otherMaker, Name: "Other Pharma", Role: catalog.RoleManufacturer, LedgerAddress: address("2")},
		{ID: distributor, Name: "Northern Wholesale", Role: catalog.RoleDistributor, LedgerAddress: address("3")},
		{ID: pharmacy, Name: "Corner Pharmacy", Role: catalog.RolePharmacy, LedgerAddress: address("4")},
		{ID: otherDist, Name: "Southern Wholesale", Role: catalog.RoleDistributor, LedgerAddress: address("5")},
	} {
		s.Require().NoError(s.catalog.SaveParty(s.ctx, p))
	}

	counter := 0
	s.service = New(Repositories{
		Units:                 s.units,
		Production:            s.records,
		ManufacturerTransfers: s.mfrXfers,
		DistributorTransfers:  s.distXfers,
		DistributionReceipts:  s.distRcpts,
		PharmacyReceipts:      s.pharmRcpt,
		Catalog:               s.catalog,
	},
		WithLedger(s.ledger),
		WithPublisher(s.publisher),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
		WithClock(func() time.Time { return s.clock }),
		WithDocumentNumbers(func(prefix string) string {
			counter++
			return fmt.Sprintf("%s-GEN-%d", prefix, counter)
		}),
	)
}

func address(seed string) shared.LedgerAddress {
	a, err := shared.NewLedgerAddress("0x" + strings.Repeat(seed, 40))
	if err != nil {
		panic(err)
	}
	return a
}

// =============================================================================
// Scenario helpers
// =============================================================================

func (s *CustodyServiceSuite) mint(batch string, tokens ...id.TokenID) *MintResult {
	res, err := s.service.MintUnits(s.ctx, MintRequest{
		Manufacturer: manufacturer,
		ProductID:    product,
		TokenIDs:     tokens,
		Batch:        batch,
		ExpiresAt:    s.clock.AddDate(2, 0, 0),
	})
	s.Require().NoError(err)
	return res
}

func (s *CustodyServiceSuite) issue(from, to id.PartyID, doc string, tokens ...id.TokenID) *TransferResult {
	res, err := s.service.TransferToNextParty(s.ctx, TransferRequest{
		InitiatingParty: from,
		Recipient:       to,
		ProductID:       product,
		UnitIDs:         tokens,
		DocumentNumber:  doc,
	})
	s.Require().NoError(err)
	return res
}

func (s *CustodyServiceSuite) expectLedger(tx string, err error) {
	if err != nil {
		s.ledger.EXPECT().RegisterHandoff(gomock.Any(), gomock.Any()).
			Return(shared.TransactionReference{}, err)
		return
	}
	s.ledger.EXPECT().RegisterHandoff(gomock.Any(), gomock.Any()).
		Return(shared.MustTransactionReference("0x"+tx), nil)
}

// expectLedgerKey records the idempotency key the next ledger call carries.
func (s *CustodyServiceSuite) expectLedgerKey(keys *[]string, tx string, err error) {
	s.ledger.EXPECT().RegisterHandoff(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, h ports.HandoffRegistration) (shared.TransactionReference, error) {
			*keys = append(*keys, h.IdempotencyKey)
			if err != nil {
				return shared.TransactionReference{}, err
			}
			return shared.MustTransactionReference("0x" + tx), nil
		})
}

// unitStoreDouble wraps the memory store to interleave a concurrent writer
// before an insert, or to fail the insert outright.
type unitStoreDouble struct {
	*memory.UnitStore
	beforeCreate func()
	createErr    error
}

func (d *unitStoreDouble) CreateMany(ctx context.Context, units []*unit.Unit) error {
	if d.beforeCreate != nil {
		d.beforeCreate()
	}
	if d.createErr != nil {
		return d.createErr
	}
	return d.UnitStore.CreateMany(ctx, units)
}

func (s *CustodyServiceSuite) dispatch(transferID id.TransferID, from id.PartyID, tx string) *DispatchResult {
	s.expectLedger(tx, nil)
	res, err := s.service.DispatchTransfer(s.ctx, transferID, from)
	s.Require().NoError(err)
	s.Require().Equal(OutcomeSettled, res.Outcome)
	return res
}

func (s *CustodyServiceSuite) confirm(transferID id.TransferID, party id.PartyID) *ConfirmResult {
	res, err := s.service.ConfirmReceipt(s.ctx, ConfirmRequest{TransferID: transferID, ConfirmingParty: party})
	s.Require().NoError(err)
	return res
}

func (s *CustodyServiceSuite) unit(token id.TokenID) *unit.Unit {
	u, err := s.units.FindByID(s.ctx, token)
	s.Require().NoError(err)
	return u
}

func (s *CustodyServiceSuite) requireCode(err error, code dErrors.Code) {
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), err.Error())
}

func (s *CustodyServiceSuite) eventTypes() []events.Type {
	types := make([]events.Type, 0, len(s.published))
	for _, e := range s.published {
		types = append(types, e.Type)
	}
	return types
}

// =============================================================================
// MintUnits
// =============================================================================

func (s *CustodyServiceSuite) TestMintUnits() {
	s.Run("mints one unit per token with batch serials and a completed record", func() {
		s.fresh()
		res := s.mint("b001", "T1", "T2", "T3")

		s.Equal("B001", res.BatchNumber)
		s.Equal([]string{"B001-T1", "B001-T2", "B001-T3"}, res.UnitSerials)
		s.Equal([]id.TokenID{"T1", "T2", "T3"}, res.TokenIDs)

		records, err := s.records.FindByBatch(s.ctx, shared.MustBatchNumber("B001"))
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Equal(production.StatusCompleted, records[0].Status)
		s.Equal(res.ProductionRecordID, records[0].ID)

		units, err := s.units.FindByBatch(s.ctx, shared.MustBatchNumber("B001"))
		s.Require().NoError(err)
		s.Len(units, 3)
		for _, u := range units {
			s.Equal(unit.StatusMinted, u.Status)
			s.Equal(manufacturer, u.Holder)
			s.Equal(res.ProductionRecordID, u.ProductionRecordID)
		}
		s.Contains(s.eventTypes(), events.TypeProductionCompleted)
		s.Contains(s.eventTypes(), events.TypeUnitMinted)
	})

	s.Run("existing token fails listing duplicates and persists nothing", func() {
		s.fresh()
		s.mint("B001", "T1", "T2")

		_, err := s.service.MintUnits(s.ctx, MintRequest{
			Manufacturer: manufacturer,
			ProductID:    product,
			TokenIDs:     []id.TokenID{"T9", "T2", "T1"},
			Batch:        "B002",
		})
		s.requireCode(err, dErrors.CodeConflict)
		s.Contains(err.Error(), "T1, T2")

		_, err = s.units.FindByID(s.ctx, "T9")
		s.ErrorIs(err, sentinel.ErrNotFound)
		records, err := s.records.FindByBatch(s.ctx, shared.MustBatchNumber("B002"))
		s.Require().NoError(err)
		s.Empty(records)
	})

	s.Run("unit write failure marks the production record failed", func() {
		s.fresh()
		s.service.repos.Units = &unitStoreDouble{UnitStore: s.units, createErr: errors.New("disk full")}

		_, err := s.service.MintUnits(s.ctx, MintRequest{
			Manufacturer: manufacturer, ProductID: product, Batch: "B001",
			TokenIDs: []id.TokenID{"T1", "T2"}, ExpiresAt: s.clock.AddDate(2, 0, 0),
		})
		s.requireCode(err, dErrors.CodeInternal)

		records, err := s.records.FindByBatch(s.ctx, shared.MustBatchNumber("B001"))
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Equal(production.StatusFailed, records[0].Status)
		_, err = s.units.FindByID(s.ctx, "T1")
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.Contains(s.eventTypes(), events.TypeProductionFailed)
		s.NotContains(s.eventTypes(), events.TypeUnitMinted)
	})

	s.Run("token minted concurrently conflicts instead of being overwritten", func() {
		s.fresh()
		rivalRecord := id.NewProductionRecordID()
		s.service.repos.Units = &unitStoreDouble{UnitStore: s.units, beforeCreate: func() {
			rival, err := unit.Mint(unit.MintParams{
				TokenID:            "T2",
				ProductID:          product,
				OriginatingParty:   manufacturer,
				Batch:              shared.MustBatchNumber("B000"),
				Serial:             "B000-T2",
				ProductionRecordID: rivalRecord,
			}, s.clock)
			s.Require().NoError(err)
			s.Require().NoError(s.units.Save(s.ctx, rival))
		}}

		_, err := s.service.MintUnits(s.ctx, MintRequest{
			Manufacturer: manufacturer, ProductID: product, Batch: "B001",
			TokenIDs: []id.TokenID{"T1", "T2"}, ExpiresAt: s.clock.AddDate(2, 0, 0),
		})
		s.requireCode(err, dErrors.CodeConflict)

		kept := s.unit("T2")
		s.Equal(rivalRecord, kept.ProductionRecordID)
		s.Equal("B000-T2", kept.Serial)
		_, err = s.units.FindByID(s.ctx, "T1")
		s.ErrorIs(err, sentinel.ErrNotFound)

		records, err := s.records.FindByBatch(s.ctx, shared.MustBatchNumber("B001"))
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Equal(production.StatusFailed, records[0].Status)
	})

	s.Run("token repeated within the request is rejected", func() {
		s.fresh()
		_, err := s.service.MintUnits(s.ctx, MintRequest{
			Manufacturer: manufacturer, ProductID: product, Batch: "B001",
			TokenIDs: []id.TokenID{"T1", "T1"},
		})
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("declared quantity must match the token list", func() {
		s.fresh()
		qty := 5
		_, err := s.service.MintUnits(s.ctx, MintRequest{
			Manufacturer: manufacturer, ProductID: product, Batch: "B001",
			TokenIDs: []id.TokenID{"T1", "T2"}, Quantity: &qty,
		})
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("product of another manufacturer is unauthorized", func() {
		s.fresh()
		_, err := s.service.MintUnits(s.ctx, MintRequest{
			Manufacturer: otherMaker, ProductID: product, Batch: "B001",
			TokenIDs: []id.TokenID{"T1"},
		})
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("non-manufacturer cannot mint", func() {
		s.fresh()
		_, err := s.service.MintUnits(s.ctx, MintRequest{
			Manufacturer: distributor, ProductID: product, Batch: "B001",
			TokenIDs: []id.TokenID{"T1"},
		})
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("unknown product is not found", func() {
		s.fresh()
		_, err := s.service.MintUnits(s.ctx, MintRequest{
			Manufacturer: manufacturer, ProductID: "NOPE", Batch: "B001",
			TokenIDs: []id.TokenID{"T1"},
		})
		s.requireCode(err, dErrors.CodeNotFound)
	})
}

// =============================================================================
// TransferToNextParty
// =============================================================================

func (s *CustodyServiceSuite) TestTransferToNextParty() {
	s.Run("issues a manufacturer transfer without moving custody", func() {
		s.fresh()
		minted := s.mint("B001", "T1", "T2", "T3")
		res := s.issue(manufacturer, distributor, "INV-1", "T1", "T2", "T3")

		s.Equal(handoff.KindManufacturer, res.Kind)
		s.Equal(handoff.StatusIssued, res.Status)
		s.Equal("INV-1", res.DocumentNumber)

		t, err := s.mfrXfers.FindByID(s.ctx, res.TransferID)
		s.Require().NoError(err)
		s.Equal(shared.MustBatchNumber("B001"), t.Batch)
		s.Require().NotNil(t.ProductionRecordID)
		s.Equal(minted.ProductionRecordID, *t.ProductionRecordID)
		s.Equal(3, t.Quantity.Int())
		s.Equal(manufacturer, s.unit("T1").Holder)

		record, err := s.records.FindByID(s.ctx, minted.ProductionRecordID)
		s.Require().NoError(err)
		s.NotNil(record.DistributedAt)
	})

	s.Run("generates a prefixed document number when none is supplied", func() {
		s.fresh()
		s.mint("B001", "T1")
		res := s.issue(manufacturer, distributor, "", "T1")
		s.Equal("INV-GEN-1", res.DocumentNumber)
	})

	s.Run("reused document number from the same issuer conflicts", func() {
		s.fresh()
		s.mint("B001", "T1", "T2")
		s.issue(manufacturer, distributor, "INV-1", "T1")
		_, err := s.service.TransferToNextParty(s.ctx, TransferRequest{
			InitiatingParty: manufacturer, Recipient: distributor, ProductID: product,
			UnitIDs: []id.TokenID{"T2"}, DocumentNumber: "INV-1",
		})
		s.requireCode(err, dErrors.CodeConflict)
	})

	s.Run("units already in an unsettled handoff are claimed", func() {
		s.fresh()
		s.mint("B001", "T1", "T2")
		first := s.issue(manufacturer, distributor, "INV-1", "T1", "T2")
		_, err := s.service.TransferToNextParty(s.ctx, TransferRequest{
			InitiatingParty: manufacturer, Recipient: distributor, ProductID: product,
			UnitIDs: []id.TokenID{"T2"},
		})
		s.requireCode(err, dErrors.CodeConflict)
		s.Contains(err.Error(), first.TransferID.String())
	})

	s.Run("issue-time ledger transaction does not release the claim", func() {
		s.fresh()
		s.mint("B001", "T1")
		first, err := s.service.TransferToNextParty(s.ctx, TransferRequest{
			InitiatingParty: manufacturer, Recipient: distributor, ProductID: product,
			UnitIDs: []id.TokenID{"T1"}, DocumentNumber: "INV-1", LedgerTx: "0x" + txA,
		})
		s.Require().NoError(err)
		s.Equal(handoff.StatusIssued, first.Status)

		t, err := s.mfrXfers.FindByID(s.ctx, first.TransferID)
		s.Require().NoError(err)
		s.True(t.IsSettled())
		s.Equal(manufacturer, s.unit("T1").Holder)

		_, err = s.service.TransferToNextParty(s.ctx, TransferRequest{
			InitiatingParty: manufacturer, Recipient: otherDist, ProductID: product,
			UnitIDs: []id.TokenID{"T1"}, DocumentNumber: "INV-2",
		})
		s.requireCode(err, dErrors.CodeConflict)
		s.Contains(err.Error(), first.TransferID.String())
	})

	s.Run("issue-time ledger transaction moves custody on dispatch without a ledger call", func() {
		s.fresh()
		s.mint("B001", "T1")
		first, err := s.service.TransferToNextParty(s.ctx, TransferRequest{
			InitiatingParty: manufacturer, Recipient: distributor, ProductID: product,
			UnitIDs: []id.TokenID{"T1"}, DocumentNumber: "INV-1", LedgerTx: "0x" + txA,
		})
		s.Require().NoError(err)

		res, err := s.service.DispatchTransfer(s.ctx, first.TransferID, manufacturer)
		s.Require().NoError(err)
		s.Equal(OutcomeSettled, res.Outcome)
		s.Equal("0x"+txA, res.LedgerTx)
		s.Equal(distributor, s.unit("T1").Holder)

		next := s.issue(distributor, pharmacy, "DINV-1", "T1")
		s.Equal(handoff.KindDistributor, next.Kind)
	})

	s.Run("unknown unit is inconsistent and names it", func() {
		s.fresh()
		s.mint("B001", "T1")
		_, err := s.service.TransferToNextParty(s.ctx, TransferRequest{
			InitiatingParty: manufacturer, Recipient: distributor, ProductID: product,
			UnitIDs: []id.TokenID{"T1", "GHOST"},
		})
		s.requireCode(err, dErrors.CodeInconsistent)
		s.Contains(err.Error(), "GHOST")
	})

	s.Run("recipient must hold the next role in the chain", func() {
		s.fresh()
		s.mint("B001", "T1")
		_, err := s.service.TransferToNextParty(s.ctx, TransferRequest{
			InitiatingParty: manufacturer, Recipient: pharmacy, ProductID: product,
			UnitIDs: []id.TokenID{"T1"},
		})
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("units held by someone else are unauthorized", func() {
		s.fresh()
		s.mint("B001", "T1")
		_, err := s.service.TransferToNextParty(s.ctx, TransferRequest{
			InitiatingParty: distributor, Recipient: pharmacy, ProductID: product,
			UnitIDs: []id.TokenID{"T1"},
		})
		s.requireCode(err, dErrors.CodeUnauthorized)
		s.Contains(err.Error(), "T1")
	})

	s.Run("pricing is computed from unit price and tax", func() {
		s.fresh()
		s.mint("B001", "T1", "T2")
		price := decimal.RequireFromString("10.00")
		res, err := s.service.TransferToNextParty(s.ctx, TransferRequest{
			InitiatingParty: manufacturer, Recipient: distributor, ProductID: product,
			UnitIDs: []id.TokenID{"T1", "T2"}, UnitPrice: &price, Currency: "EUR",
			TaxRate: decimal.RequireFromString("0.20"),
		})
		s.Require().NoError(err)
		t, err := s.mfrXfers.FindByID(s.ctx, res.TransferID)
		s.Require().NoError(err)
		s.Require().NotNil(t.Pricing)
		s.Equal("24.00 EUR", t.Pricing.FinalAmount.String())
	})
}

// =============================================================================
// DispatchTransfer and ledger settlement
// =============================================================================

func (s *CustodyServiceSuite) TestDispatchTransfer() {
	s.Run("ledger success moves every unit to the recipient", func() {
		s.fresh()
		s.mint("B001", "T1", "T2")
		issued := s.issue(manufacturer, distributor, "INV-1", "T1", "T2")

		res := s.dispatch(issued.TransferID, manufacturer, txA)
		s.Equal(handoff.StatusSent, res.Status)
		s.Equal("0x"+txA, res.LedgerTx)

		for _, token := range []id.TokenID{"T1", "T2"} {
			u := s.unit(token)
			s.Equal(distributor, u.Holder)
			s.Equal(unit.StatusTransferred, u.Status)
			s.Require().NotNil(u.LedgerTx)
			s.Equal("0x"+txA, u.LedgerTx.String())
		}
		s.Contains(s.eventTypes(), events.TypeHandoffLedgerSettled)
		s.Contains(s.eventTypes(), events.TypeUnitTransferred)
	})

	s.Run("ledger failure leaves the transfer sent and pending", func() {
		s.fresh()
		s.mint("B001", "T1")
		issued := s.issue(manufacturer, distributor, "INV-1", "T1")

		s.expectLedger("", fmt.Errorf("gateway timeout: %w", sentinel.ErrIndeterminate))
		res, err := s.service.DispatchTransfer(s.ctx, issued.TransferID, manufacturer)
		s.Require().NoError(err)
		s.Equal(OutcomeLedgerPending, res.Outcome)
		s.True(res.LedgerPending)
		s.Contains(res.LedgerError, "gateway timeout")

		t, err := s.mfrXfers.FindByID(s.ctx, issued.TransferID)
		s.Require().NoError(err)
		s.Equal(handoff.StatusSent, t.Status)
		s.True(t.LedgerPending)
		s.Nil(t.LedgerTx)
		s.Equal(manufacturer, s.unit("T1").Holder)
	})

	s.Run("retry settles a pending transfer once", func() {
		s.fresh()
		s.mint("B001", "T1")
		issued := s.issue(manufacturer, distributor, "INV-1", "T1")
		s.expectLedger("", ports.ErrLedgerRejected)
		_, err := s.service.DispatchTransfer(s.ctx, issued.TransferID, manufacturer)
		s.Require().NoError(err)

		s.expectLedger(txA, nil)
		res, err := s.service.RetryLedgerSettlement(s.ctx, issued.TransferID, manufacturer)
		s.Require().NoError(err)
		s.Equal(OutcomeSettled, res.Outcome)
		s.Equal(distributor, s.unit("T1").Holder)

		_, err = s.service.RetryLedgerSettlement(s.ctx, issued.TransferID, manufacturer)
		s.requireCode(err, dErrors.CodeAlreadyDone)
	})

	s.Run("settle pending sweeps every leg", func() {
		s.fresh()
		s.mint("B001", "T1")
		issued := s.issue(manufacturer, distributor, "INV-1", "T1")
		s.expectLedger("", sentinel.ErrUnavailable)
		_, err := s.service.DispatchTransfer(s.ctx, issued.TransferID, manufacturer)
		s.Require().NoError(err)

		s.expectLedger(txB, nil)
		settled, err := s.service.SettlePending(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, settled)
		s.Equal(distributor, s.unit("T1").Holder)
	})

	s.Run("indeterminate outcome is swept once under the same idempotency key", func() {
		s.fresh()
		s.mint("B001", "T1")
		issued := s.issue(manufacturer, distributor, "INV-1", "T1")

		var keys []string
		s.expectLedgerKey(&keys, "", fmt.Errorf("gateway timeout: %w", sentinel.ErrIndeterminate))
		_, err := s.service.DispatchTransfer(s.ctx, issued.TransferID, manufacturer)
		s.Require().NoError(err)
		t, err := s.mfrXfers.FindByID(s.ctx, issued.TransferID)
		s.Require().NoError(err)
		s.Equal(handoff.LedgerIndeterminate, t.LedgerOutcome)

		s.expectLedgerKey(&keys, txA, nil)
		settled, err := s.service.SettlePending(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, settled)

		settled, err = s.service.SettlePending(s.ctx)
		s.Require().NoError(err)
		s.Zero(settled)
		s.Equal([]string{issued.TransferID.String(), issued.TransferID.String()}, keys)
	})

	s.Run("rejected outcome is left for an explicit retry", func() {
		s.fresh()
		s.mint("B001", "T1")
		issued := s.issue(manufacturer, distributor, "INV-1", "T1")
		s.expectLedger("", fmt.Errorf("unknown token: %w", ports.ErrLedgerRejected))
		_, err := s.service.DispatchTransfer(s.ctx, issued.TransferID, manufacturer)
		s.Require().NoError(err)

		t, err := s.mfrXfers.FindByID(s.ctx, issued.TransferID)
		s.Require().NoError(err)
		s.Equal(handoff.LedgerRejected, t.LedgerOutcome)
		s.True(t.LedgerPending)

		for range 3 {
			settled, err := s.service.SettlePending(s.ctx)
			s.Require().NoError(err)
			s.Zero(settled)
		}

		s.expectLedger(txA, nil)
		res, err := s.service.RetryLedgerSettlement(s.ctx, issued.TransferID, manufacturer)
		s.Require().NoError(err)
		s.Equal(OutcomeSettled, res.Outcome)
		t, err = s.mfrXfers.FindByID(s.ctx, issued.TransferID)
		s.Require().NoError(err)
		s.Empty(t.LedgerOutcome)
	})

	s.Run("units recalled after dispatch never reach the ledger", func() {
		s.fresh()
		s.mint("B001", "T1")
		issued := s.issue(manufacturer, distributor, "INV-1", "T1")
		s.expectLedger("", sentinel.ErrUnavailable)
		_, err := s.service.DispatchTransfer(s.ctx, issued.TransferID, manufacturer)
		s.Require().NoError(err)
		_, err = s.service.RecallBatch(s.ctx, manufacturer, "B001")
		s.Require().NoError(err)

		_, err = s.service.RetryLedgerSettlement(s.ctx, issued.TransferID, manufacturer)
		s.requireCode(err, dErrors.CodeInvalidState)
		s.Contains(err.Error(), "T1")

		settled, err := s.service.SettlePending(s.ctx)
		s.Require().NoError(err)
		s.Zero(settled)

		_, err = s.service.SettleTransfer(s.ctx, issued.TransferID, "0x"+txA)
		s.requireCode(err, dErrors.CodeInvalidState)

		u := s.unit("T1")
		s.Equal(manufacturer, u.Holder)
		s.Equal(unit.StatusRecalled, u.Status)
		s.Nil(u.LedgerTx)
	})

	s.Run("externally observed settlement is idempotent", func() {
		s.fresh()
		s.mint("B001", "T1")
		issued := s.issue(manufacturer, distributor, "INV-1", "T1")
		s.expectLedger("", ports.ErrLedgerRejected)
		_, err := s.service.DispatchTransfer(s.ctx, issued.TransferID, manufacturer)
		s.Require().NoError(err)

		res, err := s.service.SettleTransfer(s.ctx, issued.TransferID, "0x"+txA)
		s.Require().NoError(err)
		s.Equal(OutcomeSettled, res.Outcome)
		s.Equal(distributor, s.unit("T1").Holder)

		again, err := s.service.SettleTransfer(s.ctx, issued.TransferID, "0x"+txA)
		s.Require().NoError(err)
		s.Equal(res.LedgerTx, again.LedgerTx)
	})

	s.Run("only the issuer can dispatch", func() {
		s.fresh()
		s.mint("B001", "T1")
		issued := s.issue(manufacturer, distributor, "INV-1", "T1")
		_, err := s.service.DispatchTransfer(s.ctx, issued.TransferID, distributor)
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("dispatching a settled transfer is already done", func() {
		s.fresh()
		s.mint("B001", "T1")
		issued := s.issue(manufacturer, distributor, "INV-1", "T1")
		s.dispatch(issued.TransferID, manufacturer, txA)
		_, err := s.service.DispatchTransfer(s.ctx, issued.TransferID, manufacturer)
		s.requireCode(err, dErrors.CodeAlreadyDone)
	})

	s.Run("unknown transfer is not found", func() {
		s.fresh()
		_, err := s.service.DispatchTransfer(s.ctx, id.NewTransferID(), manufacturer)
		s.requireCode(err, dErrors.CodeNotFound)
	})
}

// =============================================================================
// ConfirmReceipt
// =============================================================================

func (s *CustodyServiceSuite) TestConfirmReceipt() {
	s.Run("confirms a settled transfer and back-links the receipt", func() {
		s.fresh()
		s.mint("B001", "T1", "T2")
		issued := s.issue(manufacturer, distributor, "INV-1", "T1", "T2")
		s.dispatch(issued.TransferID, manufacturer, txA)

		res := s.confirm(issued.TransferID, distributor)
		s.Equal(receipt.StatusConfirmed, res.Status)
		s.Equal("B001", res.BatchNumber)
		s.False(res.AlreadyConfirmed)

		r, err := s.distRcpts.FindByID(s.ctx, res.ReceiptID)
		s.Require().NoError(err)
		s.Equal(2, r.ReceivedQuantity.Int())
		s.NotNil(r.ConfirmedAt)

		t, err := s.mfrXfers.FindByID(s.ctx, issued.TransferID)
		s.Require().NoError(err)
		s.Require().NotNil(t.ReceiptID)
		s.Equal(res.ReceiptID, *t.ReceiptID)
		s.Contains(s.eventTypes(), events.TypeReceiptConfirmed)
	})

	s.Run("second confirmation returns the existing receipt", func() {
		s.fresh()
		s.mint("B001", "T1")
		issued := s.issue(manufacturer, distributor, "INV-1", "T1")
		s.dispatch(issued.TransferID, manufacturer, txA)

		first := s.confirm(issued.TransferID, distributor)
		second := s.confirm(issued.TransferID, distributor)
		s.True(second.AlreadyConfirmed)
		s.Equal(first.ReceiptID, second.ReceiptID)

		receipts, err := s.distRcpts.FindByOriginatingTransfer(s.ctx, issued.TransferID)
		s.Require().NoError(err)
		s.Len(receipts, 1)
	})

	s.Run("transfer never sent is invalid state naming the status", func() {
		s.fresh()
		s.mint("B001", "T1")
		t, err := handoff.Create(handoff.ManufacturerLifecycle, handoff.CreateParams{
			FromParty:      manufacturer,
			ToParty:        distributor,
			ProductID:      product,
			DocumentNumber: shared.MustDocumentNumber("INV-DRAFT"),
			UnitIDs:        []id.TokenID{"T1"},
		}, s.clock)
		s.Require().NoError(err)
		s.Require().NoError(s.mfrXfers.Save(s.ctx, t))

		_, err = s.service.ConfirmReceipt(s.ctx, ConfirmRequest{TransferID: t.ID, ConfirmingParty: distributor})
		s.requireCode(err, dErrors.CodeInvalidState)
		s.Contains(err.Error(), string(handoff.StatusPending))
	})

	s.Run("units still held by the sender are unauthorized", func() {
		s.fresh()
		s.mint("B001", "T1", "T2")
		issued := s.issue(manufacturer, distributor, "INV-1", "T1", "T2")
		s.expectLedger("", ports.ErrLedgerRejected)
		_, err := s.service.DispatchTransfer(s.ctx, issued.TransferID, manufacturer)
		s.Require().NoError(err)

		_, err = s.service.ConfirmReceipt(s.ctx, ConfirmRequest{TransferID: issued.TransferID, ConfirmingParty: distributor})
		s.requireCode(err, dErrors.CodeUnauthorized)
		s.Contains(err.Error(), "T1, T2")
	})

	s.Run("only the addressed party may confirm", func() {
		s.fresh()
		s.mint("B001", "T1")
		issued := s.issue(manufacturer, distributor, "INV-1", "T1")
		s.dispatch(issued.TransferID, manufacturer, txA)
		_, err := s.service.ConfirmReceipt(s.ctx, ConfirmRequest{TransferID: issued.TransferID, ConfirmingParty: pharmacy})
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("missing unit record is inconsistent", func() {
		s.fresh()
		s.mint("B001", "T1")
		t, err := handoff.Create(handoff.ManufacturerLifecycle, handoff.CreateParams{
			FromParty:      manufacturer,
			ToParty:        distributor,
			ProductID:      product,
			DocumentNumber: shared.MustDocumentNumber("INV-BROKEN"),
			UnitIDs:        []id.TokenID{"T1", "LOST"},
		}, s.clock)
		s.Require().NoError(err)
		s.Require().NoError(t.Issue(s.clock))
		s.Require().NoError(t.Send(nil, s.clock))
		s.Require().NoError(s.mfrXfers.Save(s.ctx, t))

		_, err = s.service.ConfirmReceipt(s.ctx, ConfirmRequest{TransferID: t.ID, ConfirmingParty: distributor})
		s.requireCode(err, dErrors.CodeInconsistent)
	})
}

// =============================================================================
// End-to-end chain
// =============================================================================

func (s *CustodyServiceSuite) TestFullChain() {
	s.fresh()
	s.mint("B001", "T1", "T2", "T3")

	inv := s.issue(manufacturer, distributor, "INV-1", "T1", "T2", "T3")
	s.dispatch(inv.TransferID, manufacturer, txA)
	s.confirm(inv.TransferID, distributor)

	ci := s.issue(distributor, pharmacy, "CI-1", "T1", "T2")
	s.Equal(handoff.KindDistributor, ci.Kind)
	s.dispatch(ci.TransferID, distributor, txB)
	pharmacyReceipt := s.confirm(ci.TransferID, pharmacy)

	s.Equal(pharmacy, s.unit("T1").Holder)
	s.Equal(pharmacy, s.unit("T2").Holder)
	s.Equal(distributor, s.unit("T3").Holder)

	ciTransfer, err := s.distXfers.FindByID(s.ctx, ci.TransferID)
	s.Require().NoError(err)
	s.Require().NotNil(ciTransfer.PriorTransferID)
	s.Equal(inv.TransferID, *ciTransfer.PriorTransferID)

	r, err := s.pharmRcpt.FindByID(s.ctx, pharmacyReceipt.ReceiptID)
	s.Require().NoError(err)
	s.Equal(receipt.KindPharmacy, r.Kind)

	sold, err := s.service.SellUnit(s.ctx, "T1", pharmacy, "")
	s.Require().NoError(err)
	s.Equal(unit.StatusSold, sold.Status)

	_, err = s.service.SellUnit(s.ctx, "T3", distributor, "")
	s.requireCode(err, dErrors.CodeUnauthorized)
}

// =============================================================================
// Lifecycle operations
// =============================================================================

func (s *CustodyServiceSuite) TestRecallBatch() {
	s.Run("recalls live units and skips terminal ones", func() {
		s.fresh()
		s.mint("B001", "T1", "T2", "T3")
		u := s.unit("T3")
		s.Require().NoError(u.MarkExpired(s.clock))
		s.Require().NoError(s.units.Save(s.ctx, u))

		res, err := s.service.RecallBatch(s.ctx, manufacturer, "B001")
		s.Require().NoError(err)
		s.ElementsMatch([]id.TokenID{"T1", "T2"}, res.Recalled)
		s.Equal([]id.TokenID{"T3"}, res.Skipped)
		s.Equal(unit.StatusRecalled, s.unit("T1").Status)
	})

	s.Run("another manufacturer cannot recall", func() {
		s.fresh()
		s.mint("B001", "T1")
		_, err := s.service.RecallBatch(s.ctx, otherMaker, "B001")
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("unknown batch is not found", func() {
		s.fresh()
		_, err := s.service.RecallBatch(s.ctx, manufacturer, "B404")
		s.requireCode(err, dErrors.CodeNotFound)
	})
}

func (s *CustodyServiceSuite) TestExpireUnits() {
	s.fresh()
	s.mint("B001", "T1", "T2")
	s.clock = s.clock.AddDate(3, 0, 0)

	expired, err := s.service.ExpireUnits(s.ctx)
	s.Require().NoError(err)
	s.ElementsMatch([]id.TokenID{"T1", "T2"}, expired)
	s.Equal(unit.StatusExpired, s.unit("T1").Status)

	again, err := s.service.ExpireUnits(s.ctx)
	s.Require().NoError(err)
	s.Empty(again)
}

func (s *CustodyServiceSuite) TestCancelTransfer() {
	s.Run("issuer cancels an unsettled transfer and frees its units", func() {
		s.fresh()
		s.mint("B001", "T1")
		issued := s.issue(manufacturer, distributor, "INV-1", "T1")

		res, err := s.service.CancelTransfer(s.ctx, issued.TransferID, manufacturer)
		s.Require().NoError(err)
		s.Equal(handoff.StatusCancelled, res.Status)

		s.issue(manufacturer, distributor, "INV-2", "T1")
	})

	s.Run("settled transfer cannot be cancelled", func() {
		s.fresh()
		s.mint("B001", "T1")
		issued := s.issue(manufacturer, distributor, "INV-1", "T1")
		s.dispatch(issued.TransferID, manufacturer, txA)
		_, err := s.service.CancelTransfer(s.ctx, issued.TransferID, manufacturer)
		s.requireCode(err, dErrors.CodeInvalidState)
		s.Contains(err.Error(), "custody has moved")
	})

	s.Run("issue-time ledger transaction blocks cancel without claiming custody moved", func() {
		s.fresh()
		s.mint("B001", "T1")
		issued, err := s.service.TransferToNextParty(s.ctx, TransferRequest{
			InitiatingParty: manufacturer, Recipient: distributor, ProductID: product,
			UnitIDs: []id.TokenID{"T1"}, DocumentNumber: "INV-1", LedgerTx: "0x" + txA,
		})
		s.Require().NoError(err)

		_, err = s.service.CancelTransfer(s.ctx, issued.TransferID, manufacturer)
		s.requireCode(err, dErrors.CodeInvalidState)
		s.Contains(err.Error(), "ledger transaction 0x"+txA)
		s.NotContains(err.Error(), "custody has moved")
		s.Equal(manufacturer, s.unit("T1").Holder)
	})
}

func (s *CustodyServiceSuite) TestPublishFailureDoesNotRollBack() {
	s.ctrl = gomock.NewController(s.T())
	failing := mocks.NewMockEventPublisher(s.ctrl)
	failing.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker down")).AnyTimes()
	s.service.publisher = failing

	s.mint("B001", "T1")
	s.Equal(manufacturer, s.unit("T1").Holder)
}
