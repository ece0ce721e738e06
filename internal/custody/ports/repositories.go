// Package ports declares the collaborators the custody use cases and the
// provenance engine depend on. Stores return sentinel errors from
// pkg/platform/sentinel; callers translate them.
package ports

import (
	"context"
	"time"

	"pharmatrace/internal/custody/domain/catalog"
	"pharmatrace/internal/custody/domain/handoff"
	"pharmatrace/internal/custody/domain/production"
	"pharmatrace/internal/custody/domain/receipt"
	"pharmatrace/internal/custody/domain/shared"
	"pharmatrace/internal/custody/domain/unit"
	id "pharmatrace/pkg/domain"
)

type UnitRepository interface {
	FindByID(ctx context.Context, token id.TokenID) (*unit.Unit, error)
	// FindByIDs returns exactly the matching subset, in no particular order.
	FindByIDs(ctx context.Context, tokens []id.TokenID) ([]*unit.Unit, error)
	FindBySerial(ctx context.Context, serial string) (*unit.Unit, error)
	FindByBatch(ctx context.Context, batch shared.BatchNumber) ([]*unit.Unit, error)
	FindByHolder(ctx context.Context, holder id.PartyID) ([]*unit.Unit, error)
	// FindExpiringBefore returns non-terminal units whose expiry date is before t.
	FindExpiringBefore(ctx context.Context, t time.Time) ([]*unit.Unit, error)
	Save(ctx context.Context, u *unit.Unit) error
	// SaveMany persists all units or none.
	SaveMany(ctx context.Context, units []*unit.Unit) error
	// CreateMany inserts new units, all or none. Any token id that already
	// exists fails the call with sentinel.ErrConflict.
	CreateMany(ctx context.Context, units []*unit.Unit) error
}

type ProductionRecordRepository interface {
	FindByID(ctx context.Context, recordID id.ProductionRecordID) (*production.Record, error)
	FindByBatch(ctx context.Context, batch shared.BatchNumber) ([]*production.Record, error)
	Save(ctx context.Context, r *production.Record) error
}

// TransferRepository is scoped to one handoff kind.
type TransferRepository interface {
	FindByID(ctx context.Context, transferID id.TransferID) (*handoff.Transfer, error)
	FindByDocumentNumber(ctx context.Context, doc shared.DocumentNumber) (*handoff.Transfer, error)
	// FindByParty returns transfers the party sent or received.
	FindByParty(ctx context.Context, party id.PartyID) ([]*handoff.Transfer, error)
	FindByUnit(ctx context.Context, token id.TokenID) ([]*handoff.Transfer, error)
	FindByBatch(ctx context.Context, batch shared.BatchNumber) ([]*handoff.Transfer, error)
	FindByProductionRecords(ctx context.Context, recordIDs []id.ProductionRecordID) ([]*handoff.Transfer, error)
	// FindLedgerPending returns SENT transfers whose ledger step has not
	// settled, leaving out those the ledger definitely rejected.
	FindLedgerPending(ctx context.Context) ([]*handoff.Transfer, error)
	Save(ctx context.Context, t *handoff.Transfer) error
}

// ReceiptRepository is scoped to one receipt kind.
type ReceiptRepository interface {
	FindByID(ctx context.Context, receiptID id.ReceiptID) (*receipt.Receipt, error)
	FindByOriginatingTransfer(ctx context.Context, transferID id.TransferID) ([]*receipt.Receipt, error)
	FindByTransfers(ctx context.Context, transferIDs []id.TransferID) ([]*receipt.Receipt, error)
	FindByParty(ctx context.Context, party id.PartyID) ([]*receipt.Receipt, error)
	FindByBatch(ctx context.Context, batch shared.BatchNumber) ([]*receipt.Receipt, error)
	Save(ctx context.Context, r *receipt.Receipt) error
}

type Catalog interface {
	FindProduct(ctx context.Context, productID id.ProductID) (*catalog.Product, error)
	FindParty(ctx context.Context, partyID id.PartyID) (*catalog.Party, error)
}
