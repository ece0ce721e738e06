// Package events defines the domain events raised by custody aggregates.
//
// Events are transport-agnostic: aggregates record them, use cases drain them
// after persistence and hand them to a publisher (memory, outbox, kafka).
package events

import (
	"time"

	"github.com/google/uuid"

	id "pharmatrace/pkg/domain"
)

// Type names a domain event. Values are stable wire identifiers.
type Type string

const (
	TypeUnitMinted              Type = "unit.minted"
	TypeUnitTransferred         Type = "unit.transferred"
	TypeUnitSold                Type = "unit.sold"
	TypeUnitExpired             Type = "unit.expired"
	TypeUnitRecalled            Type = "unit.recalled"
	TypeProductManufactured     Type = "production.manufactured"
	TypeProductionCompleted     Type = "production.completed"
	TypeProductionFailed        Type = "production.failed"
	TypeProductionDistributed   Type = "production.distributed"
	TypeCustodyHandoffInitiated Type = "handoff.initiated"
	TypeHandoffStatusChanged    Type = "handoff.status_changed"
	TypeHandoffLedgerSettled    Type = "handoff.ledger_settled"
	TypeCustodyReceived         Type = "receipt.received"
	TypeReceiptStatusChanged    Type = "receipt.status_changed"
	TypeReceiptConfirmed        Type = "receipt.confirmed"
)

// AggregateType names the kind of aggregate that raised an event.
type AggregateType string

const (
	AggregateUnit             AggregateType = "unit"
	AggregateProductionRecord AggregateType = "production_record"
	AggregateTransfer         AggregateType = "transfer"
	AggregateReceipt          AggregateType = "receipt"
)

// Event is one recorded fact. Data holds one of the payload structs below.
type Event struct {
	ID            uuid.UUID     `json:"id"`
	Type          Type          `json:"type"`
	AggregateType AggregateType `json:"aggregate_type"`
	AggregateID   string        `json:"aggregate_id"`
	OccurredAt    time.Time     `json:"occurred_at"`
	Data          any           `json:"data"`
}

// New stamps an event with a fresh id.
func New(t Type, aggregateType AggregateType, aggregateID string, at time.Time, data any) Event {
	return Event{
		ID:            uuid.New(),
		Type:          t,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    at.UTC(),
		Data:          data,
	}
}

// Recorder accumulates events on an aggregate until they are pulled.
type Recorder struct {
	pending []Event
}

func (r *Recorder) Record(e Event) {
	r.pending = append(r.pending, e)
}

// PullEvents returns and clears the recorded events.
func (r *Recorder) PullEvents() []Event {
	out := r.pending
	r.pending = nil
	return out
}

// Pending reports how many events are waiting to be pulled.
func (r *Recorder) Pending() int {
	return len(r.pending)
}

type UnitMinted struct {
	TokenID            id.TokenID            `json:"token_id"`
	ProductID          id.ProductID          `json:"product_id"`
	OriginatingParty   id.PartyID            `json:"originating_party"`
	Batch              string                `json:"batch"`
	Serial             string                `json:"serial"`
	Quantity           string                `json:"quantity"`
	ProductionRecordID id.ProductionRecordID `json:"production_record_id"`
}

type UnitTransferred struct {
	TokenID  id.TokenID `json:"token_id"`
	From     id.PartyID `json:"from"`
	To       id.PartyID `json:"to"`
	LedgerTx string     `json:"ledger_tx,omitempty"`
}

type UnitSold struct {
	TokenID  id.TokenID `json:"token_id"`
	Holder   id.PartyID `json:"holder"`
	LedgerTx string     `json:"ledger_tx,omitempty"`
}

// UnitRetired covers the terminal side-states (expired, recalled).
type UnitRetired struct {
	TokenID        id.TokenID `json:"token_id"`
	PreviousStatus string     `json:"previous_status"`
}

type ProductManufactured struct {
	ProductionRecordID id.ProductionRecordID `json:"production_record_id"`
	ProducingParty     id.PartyID            `json:"producing_party"`
	ProductID          id.ProductID          `json:"product_id"`
	Batch              string                `json:"batch"`
	Quantity           string                `json:"quantity"`
}

type ProductionStatusChanged struct {
	ProductionRecordID id.ProductionRecordID `json:"production_record_id"`
	Batch              string                `json:"batch"`
	Status             string                `json:"status"`
	LedgerTx           string                `json:"ledger_tx,omitempty"`
}

// CustodyHandoffInitiated is the canonical record of an intended transfer.
type CustodyHandoffInitiated struct {
	TransferID     id.TransferID `json:"transfer_id"`
	Kind           string        `json:"kind"`
	FromParty      id.PartyID    `json:"from_party"`
	ToParty        id.PartyID    `json:"to_party"`
	ProductID      id.ProductID  `json:"product_id"`
	DocumentNumber string        `json:"document_number"`
	Quantity       string        `json:"quantity"`
	UnitIDs        []id.TokenID  `json:"unit_ids"`
}

type HandoffStatusChanged struct {
	TransferID id.TransferID `json:"transfer_id"`
	Kind       string        `json:"kind"`
	From       string        `json:"from"`
	To         string        `json:"to"`
	LedgerTx   string        `json:"ledger_tx,omitempty"`
}

type HandoffLedgerSettled struct {
	TransferID id.TransferID `json:"transfer_id"`
	LedgerTx   string        `json:"ledger_tx"`
	UnitIDs    []id.TokenID  `json:"unit_ids"`
}

type CustodyReceived struct {
	ReceiptID             id.ReceiptID  `json:"receipt_id"`
	Kind                  string        `json:"kind"`
	FromParty             id.PartyID    `json:"from_party"`
	ToParty               id.PartyID    `json:"to_party"`
	OriginatingTransferID id.TransferID `json:"originating_transfer_id"`
	Batch                 string        `json:"batch,omitempty"`
	ReceivedQuantity      string        `json:"received_quantity"`
}

type ReceiptStatusChanged struct {
	ReceiptID id.ReceiptID `json:"receipt_id"`
	Kind      string       `json:"kind"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	LedgerTx  string       `json:"ledger_tx,omitempty"`
}
