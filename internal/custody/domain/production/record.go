// Package production models a manufacturing run that anchors a batch of Units.
package production

import (
	"strings"
	"time"

	"pharmatrace/internal/custody/domain/events"
	"pharmatrace/internal/custody/domain/shared"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Record is one manufacturing run. Several records may share a batch number
// in legacy data; readers treat that as a data-quality signal.
type Record struct {
	ID             id.ProductionRecordID        `json:"id"`
	ProducingParty id.PartyID                   `json:"producing_party"`
	ProductID      id.ProductID                 `json:"product_id"`
	Batch          shared.BatchNumber           `json:"batch"`
	Quantity       shared.Quantity              `json:"quantity"`
	ManufacturedAt time.Time                    `json:"manufactured_at"`
	ExpiresAt      time.Time                    `json:"expires_at,omitzero"`
	Content        shared.ContentReference      `json:"content"`
	Status         Status                       `json:"status"`
	LedgerTx       *shared.TransactionReference `json:"ledger_tx,omitempty"`
	// DistributedAt is informational; set once every unit has left the producer.
	DistributedAt *time.Time `json:"distributed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	recorder events.Recorder
}

type CreateParams struct {
	ProducingParty id.PartyID
	ProductID      id.ProductID
	Batch          shared.BatchNumber
	Quantity       shared.Quantity
	ManufacturedAt time.Time
	ExpiresAt      time.Time
	Content        shared.ContentReference
}

// Create opens a PENDING production record and raises ProductManufactured.
func Create(p CreateParams, now time.Time) (*Record, error) {
	var missing []string
	if p.ProducingParty == "" {
		missing = append(missing, "producing_party")
	}
	if p.ProductID == "" {
		missing = append(missing, "product_id")
	}
	if p.Batch.IsZero() {
		missing = append(missing, "batch")
	}
	if len(missing) > 0 {
		return nil, dErrors.Newf(dErrors.CodeValidation, "production record is missing required fields: %s", strings.Join(missing, ", "))
	}
	if p.Quantity.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "production quantity must be positive")
	}
	manufactured := p.ManufacturedAt
	if manufactured.IsZero() {
		manufactured = now
	}
	if !p.ExpiresAt.IsZero() && !p.ExpiresAt.After(manufactured) {
		return nil, dErrors.New(dErrors.CodeValidation, "expiry date must be after manufacture date")
	}

	r := &Record{
		ID:             id.NewProductionRecordID(),
		ProducingParty: p.ProducingParty,
		ProductID:      p.ProductID,
		Batch:          p.Batch,
		Quantity:       p.Quantity,
		ManufacturedAt: manufactured,
		ExpiresAt:      p.ExpiresAt,
		Content:        p.Content,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.record(events.TypeProductManufactured, now, events.ProductManufactured{
		ProductionRecordID: r.ID,
		ProducingParty:     r.ProducingParty,
		ProductID:          r.ProductID,
		Batch:              r.Batch.String(),
		Quantity:           r.Quantity.String(),
	})
	return r, nil
}

// Complete closes a PENDING run. A record cannot be completed twice.
func (r *Record) Complete(ledgerTx *shared.TransactionReference, now time.Time) error {
	if r.Status != StatusPending {
		return dErrors.Newf(dErrors.CodeInvalidState, "production record %s cannot be completed: status is %s", r.ID, r.Status)
	}
	r.Status = StatusCompleted
	r.LedgerTx = ledgerTx
	r.UpdatedAt = now
	r.record(events.TypeProductionCompleted, now, events.ProductionStatusChanged{
		ProductionRecordID: r.ID,
		Batch:              r.Batch.String(),
		Status:             string(r.Status),
		LedgerTx:           txString(ledgerTx),
	})
	return nil
}

func (r *Record) MarkFailed(now time.Time) error {
	if r.Status != StatusPending {
		return dErrors.Newf(dErrors.CodeInvalidState, "production record %s cannot fail: status is %s", r.ID, r.Status)
	}
	r.Status = StatusFailed
	r.UpdatedAt = now
	r.record(events.TypeProductionFailed, now, events.ProductionStatusChanged{
		ProductionRecordID: r.ID,
		Batch:              r.Batch.String(),
		Status:             string(r.Status),
	})
	return nil
}

// MarkDistributed sets the distributed marker on a completed record. It
// reports false when the record is not completed or already marked.
func (r *Record) MarkDistributed(now time.Time) bool {
	if r.Status != StatusCompleted || r.DistributedAt != nil {
		return false
	}
	at := now
	r.DistributedAt = &at
	r.UpdatedAt = now
	r.record(events.TypeProductionDistributed, now, events.ProductionStatusChanged{
		ProductionRecordID: r.ID,
		Batch:              r.Batch.String(),
		Status:             "DISTRIBUTED",
	})
	return true
}

func (r *Record) IsCompleted() bool { return r.Status == StatusCompleted }

func (r *Record) PullEvents() []events.Event {
	return r.recorder.PullEvents()
}

func (r *Record) record(t events.Type, now time.Time, data any) {
	r.recorder.Record(events.New(t, events.AggregateProductionRecord, r.ID.String(), now, data))
}

func txString(ref *shared.TransactionReference) string {
	if ref == nil {
		return ""
	}
	return ref.String()
}
