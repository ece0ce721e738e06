package provenance_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"pharmatrace/internal/custody/domain/catalog"
	"pharmatrace/internal/custody/domain/handoff"
	"pharmatrace/internal/custody/domain/receipt"
	"pharmatrace/internal/custody/domain/shared"
	"pharmatrace/internal/custody/ports"
	"pharmatrace/internal/custody/ports/mocks"
	"pharmatrace/internal/custody/service"
	"pharmatrace/internal/custody/store/memory"
	"pharmatrace/internal/provenance"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/sentinel"
)

const (
	manufacturer id.PartyID   = "MFR-1"
	distributor  id.PartyID   = "DIST-1"
	pharmacy     id.PartyID   = "PHARM-1"
	product      id.ProductID = "PROD-1"
)

// =============================================================================
// Provenance Engine Test Suite
// =============================================================================
// Scenarios are built through the custody service so documents look exactly
// as the use cases leave them.

type EngineSuite struct {
	suite.Suite
	ctx     context.Context
	ctrl    *gomock.Controller
	ledger  *mocks.MockLedger
	src     provenance.Sources
	units   *memory.UnitStore
	mfr     *memory.TransferStore
	dist    *memory.TransferStore
	rcptD   *memory.ReceiptStore
	rcptP   *memory.ReceiptStore
	clock   time.Time
	custody *service.Service
	engine  *provenance.Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.fresh()
}

func (s *EngineSuite) fresh(opts ...provenance.Option) {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.ledger = mocks.NewMockLedger(s.ctrl)
	publisher := mocks.NewMockEventPublisher(s.ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	txCount := 0
	s.ledger.EXPECT().RegisterHandoff(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, ports.HandoffRegistration) (shared.TransactionReference, error) {
			txCount++
			return shared.MustTransactionReference(fmt.Sprintf("0x%064x", txCount)), nil
		}).AnyTimes()

	s.units = memory.NewUnitStore()
	records := memory.NewProductionStore()
	s.mfr = memory.NewTransferStore(handoff.KindManufacturer)
	s.dist = memory.NewTransferStore(handoff.KindDistributor)
	s.rcptD = memory.NewReceiptStore(receipt.KindDistribution)
	s.rcptP = memory.NewReceiptStore(receipt.KindPharmacy)
	cat := memory.NewCatalogStore()
	s.clock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	s.Require().NoError(cat.SaveProduct(s.ctx, catalog.Product{ID: product, Name: "Amoxicillin 500mg", Manufacturer: manufacturer}))
	for i, p := range []catalog.Party{
		{ID: manufacturer, Name: "Acme Pharma", Role: catalog.RoleManufacturer},
		{ID: distributor, Name: "Northern Wholesale", Role: catalog.RoleDistributor},
		{ID: pharmacy, Name: "Corner Pharmacy", Role: catalog.RolePharmacy},
	} {
		addr, err := shared.NewLedgerAddress("0x" + strings.Repeat(fmt.Sprint(i+1), 40))
		s.Require().NoError(err)
		p.LedgerAddress = addr
		s.Require().NoError(cat.SaveParty(s.ctx, p))
	}

	s.src = provenance.Sources{
		Units:                 s.units,
		Production:            records,
		ManufacturerTransfers: s.mfr,
		DistributorTransfers:  s.dist,
		DistributionReceipts:  s.rcptD,
		PharmacyReceipts:      s.rcptP,
		Catalog:               cat,
	}
	s.custody = service.New(service.Repositories{
		Units:                 s.units,
		Production:            records,
		ManufacturerTransfers: s.mfr,
		DistributorTransfers:  s.dist,
		DistributionReceipts:  s.rcptD,
		PharmacyReceipts:      s.rcptP,
		Catalog:               cat,
	},
		service.WithLedger(s.ledger),
		service.WithPublisher(publisher),
		service.WithClock(func() time.Time { return s.clock }),
	)
	opts = append([]provenance.Option{
		provenance.WithMetrics(provenance.NewMetrics(prometheus.NewRegistry())),
		provenance.WithClock(func() time.Time { return s.clock }),
	}, opts...)
	s.engine = provenance.New(s.src, opts...)
}

func (s *EngineSuite) tick() {
	s.clock = s.clock.Add(time.Hour)
}

func (s *EngineSuite) mint(batch string, tokens ...id.TokenID) {
	_, err := s.custody.MintUnits(s.ctx, service.MintRequest{
		Manufacturer: manufacturer,
		ProductID:    product,
		TokenIDs:     tokens,
		Batch:        batch,
		ExpiresAt:    s.clock.AddDate(2, 0, 0),
	})
	s.Require().NoError(err)
	s.tick()
}

// handoff issues, dispatches and confirms one leg of the chain.
func (s *EngineSuite) handoff(from, to id.PartyID, doc string, tokens ...id.TokenID) id.TransferID {
	res, err := s.custody.TransferToNextParty(s.ctx, service.TransferRequest{
		InitiatingParty: from,
		Recipient:       to,
		ProductID:       product,
		UnitIDs:         tokens,
		DocumentNumber:  doc,
	})
	s.Require().NoError(err)
	s.tick()
	dispatched, err := s.custody.DispatchTransfer(s.ctx, res.TransferID, from)
	s.Require().NoError(err)
	s.Require().Equal(service.OutcomeSettled, dispatched.Outcome)
	s.tick()
	_, err = s.custody.ConfirmReceipt(s.ctx, service.ConfirmRequest{TransferID: res.TransferID, ConfirmingParty: to})
	s.Require().NoError(err)
	s.tick()
	return res.TransferID
}

// chain mints T1..T3, ships all to the distributor and forwards T1 and T2.
func (s *EngineSuite) chain() {
	s.mint("B001", "T1", "T2", "T3")
	s.handoff(manufacturer, distributor, "INV-1", "T1", "T2", "T3")
	s.handoff(distributor, pharmacy, "DN-1", "T1", "T2")
}

var fullJourney = []provenance.StageKind{
	provenance.StageManufacturing,
	provenance.StageManufacturerToDistributor,
	provenance.StageDistributorReceived,
	provenance.StageDistributorToPharmacy,
	provenance.StagePharmacyReceived,
}

func (s *EngineSuite) TestReconstructJourney() {
	s.Run("forwarded unit has all five stages in order", func() {
		s.fresh()
		s.chain()

		p, err := s.engine.Reconstruct(s.ctx, "T1")
		s.Require().NoError(err)
		s.Equal(fullJourney, p.StageKinds())
		s.Equal("B001", p.BatchNumber)
		s.Equal(3, p.Siblings)
		s.Require().NotNil(p.CurrentHolder)
		s.Equal(pharmacy, p.CurrentHolder.PartyID)
		s.Equal("Corner Pharmacy", p.CurrentHolder.Name)
		s.Empty(p.DataQuality)

		for i := 1; i < len(p.Journey); i++ {
			s.False(p.Journey[i].OccurredAt.Before(p.Journey[i-1].OccurredAt), "stage %s out of order", p.Journey[i].Kind)
		}
		s.Equal("INV-1", p.Journey[1].DocumentNumber)
		s.Equal("DN-1", p.Journey[3].DocumentNumber)
		s.NotEmpty(p.Journey[3].LedgerTx)
	})

	s.Run("unit left at the distributor stops after distributor receipt", func() {
		s.fresh()
		s.chain()

		p, err := s.engine.Reconstruct(s.ctx, "T3")
		s.Require().NoError(err)
		s.Equal(fullJourney[:3], p.StageKinds())
		s.Equal(distributor, p.CurrentHolder.PartyID)
	})

	s.Run("units that travelled together share a journey", func() {
		s.fresh()
		s.chain()

		first, err := s.engine.Reconstruct(s.ctx, "T1")
		s.Require().NoError(err)
		second, err := s.engine.Reconstruct(s.ctx, "T2")
		s.Require().NoError(err)
		s.Equal(first.Journey, second.Journey)
	})

	s.Run("resolves by serial and by batch number", func() {
		s.fresh()
		s.chain()

		bySerial, err := s.engine.Reconstruct(s.ctx, "B001-T3")
		s.Require().NoError(err)
		s.Equal(id.TokenID("T3"), bySerial.Unit.TokenID)

		byBatch, err := s.engine.Reconstruct(s.ctx, "b001")
		s.Require().NoError(err)
		s.Equal("B001", byBatch.BatchNumber)
	})

	s.Run("freshly minted unit has only the manufacturing stage", func() {
		s.fresh()
		s.mint("B009", "T9")

		p, err := s.engine.Reconstruct(s.ctx, "T9")
		s.Require().NoError(err)
		s.Equal(fullJourney[:1], p.StageKinds())
		s.Equal(manufacturer, p.Journey[0].FromParty)
	})

	s.Run("unknown identifier is not found", func() {
		s.fresh()
		_, err := s.engine.Reconstruct(s.ctx, "NOPE")
		s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
	})

	s.Run("blank identifier is invalid", func() {
		s.fresh()
		_, err := s.engine.Reconstruct(s.ctx, "  ")
		s.Equal(dErrors.CodeValidation, dErrors.CodeOf(err))
	})
}

func (s *EngineSuite) TestLegacyDocuments() {
	s.Run("transfer without a unit list matches by batch", func() {
		s.fresh()
		s.mint("B001", "T1")
		legacy := &handoff.Transfer{
			ID:             id.NewTransferID(),
			Kind:           handoff.KindManufacturer,
			FromParty:      manufacturer,
			ToParty:        distributor,
			ProductID:      product,
			Batch:          shared.MustBatchNumber("B001"),
			DocumentNumber: shared.MustDocumentNumber("OLD-1"),
			IssueDate:      s.clock,
			Quantity:       shared.MustCount(1, "units"),
			Status:         handoff.StatusConfirmed,
			CreatedAt:      s.clock,
			UpdatedAt:      s.clock,
		}
		s.Require().NoError(s.mfr.Save(s.ctx, legacy))

		p, err := s.engine.Reconstruct(s.ctx, "T1")
		s.Require().NoError(err)
		s.Equal(fullJourney[:2], p.StageKinds())
		s.Equal("OLD-1", p.Journey[1].DocumentNumber)
	})

	s.Run("transfer listing other units of the batch does not match", func() {
		s.fresh()
		s.mint("B001", "T1", "T2")
		s.handoff(manufacturer, distributor, "INV-1", "T2")

		p, err := s.engine.Reconstruct(s.ctx, "T1")
		s.Require().NoError(err)
		s.Equal(fullJourney[:1], p.StageKinds())
	})

	s.Run("receipt whose transfer is gone falls back to its batch", func() {
		s.fresh()
		s.mint("B001", "T1")
		orphan, err := receipt.Create(mustReceiptLifecycle(receipt.KindDistribution), receipt.CreateParams{
			FromParty:             manufacturer,
			ToParty:               distributor,
			ReceivedQuantity:      shared.MustCount(1, "units"),
			OriginatingTransferID: id.NewTransferID(),
			Batch:                 shared.MustBatchNumber("B001"),
		}, s.clock)
		s.Require().NoError(err)
		s.Require().NoError(s.rcptD.Save(s.ctx, orphan))

		p, err := s.engine.Reconstruct(s.ctx, "T1")
		s.Require().NoError(err)
		s.Equal([]provenance.StageKind{provenance.StageManufacturing, provenance.StageDistributorReceived}, p.StageKinds())
	})
}

func (s *EngineSuite) TestDataQuality() {
	s.Run("several open receipts for one transfer are reported", func() {
		s.fresh()
		s.mint("B001", "T1")
		transferID := s.handoff(manufacturer, distributor, "INV-1", "T1")
		extra, err := receipt.Create(mustReceiptLifecycle(receipt.KindDistribution), receipt.CreateParams{
			FromParty:             manufacturer,
			ToParty:               distributor,
			ReceivedQuantity:      shared.MustCount(1, "units"),
			OriginatingTransferID: transferID,
			Batch:                 shared.MustBatchNumber("B001"),
		}, s.clock)
		s.Require().NoError(err)
		s.Require().NoError(s.rcptD.Save(s.ctx, extra))

		p, err := s.engine.Reconstruct(s.ctx, "T1")
		s.Require().NoError(err)
		s.Require().Len(p.DataQuality, 1)
		s.Contains(p.DataQuality[0], "2 non-rejected receipts")
		s.Equal(2, p.Journey[2].MatchCount)
	})

	s.Run("second production record for the batch is reported", func() {
		s.fresh()
		s.mint("B001", "T1")
		s.mint("B001", "T2")

		p, err := s.engine.Reconstruct(s.ctx, "T1")
		s.Require().NoError(err)
		s.Contains(strings.Join(p.DataQuality, "\n"), "2 production records")
	})
}

func (s *EngineSuite) TestCrossValidation() {
	s.Run("ledger events are attached", func() {
		s.fresh()
		s.mint("B001", "T1")
		s.engine = provenance.New(s.src, provenance.WithLedger(s.ledger))
		s.ledger.EXPECT().EventLog(gomock.Any(), id.TokenID("T1")).
			Return([]ports.LedgerEvent{{TxRef: "0x1", Kind: "mint"}}, nil)

		p, err := s.engine.Reconstruct(s.ctx, "T1")
		s.Require().NoError(err)
		s.Len(p.LedgerEvents, 1)
		s.Empty(p.LedgerError)
	})

	s.Run("ledger failure does not fail reconstruction", func() {
		s.fresh()
		s.mint("B001", "T1")
		s.engine = provenance.New(s.src, provenance.WithLedger(s.ledger))
		s.ledger.EXPECT().EventLog(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrUnavailable)

		p, err := s.engine.Reconstruct(s.ctx, "T1")
		s.Require().NoError(err)
		s.Equal(fullJourney[:1], p.StageKinds())
		s.NotEmpty(p.LedgerError)
	})
}

type memoryCache struct {
	entries map[string]*provenance.Provenance
	failGet bool
	sets    int
}

func (c *memoryCache) Get(_ context.Context, identifier string) (*provenance.Provenance, error) {
	if c.failGet {
		return nil, errors.New("cache down")
	}
	p, ok := c.entries[identifier]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p, nil
}

func (c *memoryCache) Set(_ context.Context, identifier string, p *provenance.Provenance) error {
	c.entries[identifier] = p
	c.sets++
	return nil
}

func (s *EngineSuite) TestCache() {
	s.Run("second read is served from the cache", func() {
		cache := &memoryCache{entries: map[string]*provenance.Provenance{}}
		s.fresh(provenance.WithCache(cache))
		s.mint("B001", "T1")

		first, err := s.engine.Reconstruct(s.ctx, "T1")
		s.Require().NoError(err)
		s.handoff(manufacturer, distributor, "INV-1", "T1")
		second, err := s.engine.Reconstruct(s.ctx, "T1")
		s.Require().NoError(err)

		s.Same(first, second)
		s.Equal(1, cache.sets)
	})

	s.Run("cache read failure falls through to reconstruction", func() {
		cache := &memoryCache{entries: map[string]*provenance.Provenance{}, failGet: true}
		s.fresh(provenance.WithCache(cache))
		s.mint("B001", "T1")

		p, err := s.engine.Reconstruct(s.ctx, "T1")
		s.Require().NoError(err)
		s.Equal(fullJourney[:1], p.StageKinds())
	})
}

func mustReceiptLifecycle(k receipt.Kind) receipt.Lifecycle {
	lc, ok := receipt.LifecycleFor(k)
	if !ok {
		panic("unknown receipt kind " + string(k))
	}
	return lc
}
