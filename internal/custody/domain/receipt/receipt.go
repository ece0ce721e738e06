// Package receipt models a receiving party's confirmation of custody for the
// units named by one transfer.
package receipt

import (
	"strings"
	"time"

	"pharmatrace/internal/custody/domain/events"
	"pharmatrace/internal/custody/domain/shared"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
)

// QualityCheck is the free-form inspection outcome recorded on receipt.
type QualityCheck struct {
	Passed    bool   `json:"passed"`
	Inspector string `json:"inspector,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type Receipt struct {
	ID                    id.ReceiptID                 `json:"id"`
	Kind                  Kind                         `json:"kind"`
	FromParty             id.PartyID                   `json:"from_party"`
	ToParty               id.PartyID                   `json:"to_party"`
	OriginatingTransferID id.TransferID                `json:"originating_transfer_id"`
	ProductionRecordID    *id.ProductionRecordID       `json:"production_record_id,omitempty"`
	Batch                 shared.BatchNumber           `json:"batch"`
	ReceivedQuantity      shared.Quantity              `json:"received_quantity"`
	ReceiptDate           time.Time                    `json:"receipt_date"`
	ReceivedBy            string                       `json:"received_by,omitempty"`
	ReceiptAddress        string                       `json:"receipt_address,omitempty"`
	QualityCheck          *QualityCheck                `json:"quality_check,omitempty"`
	Notes                 string                       `json:"notes,omitempty"`
	Status                Status                       `json:"status"`
	LedgerTx              *shared.TransactionReference `json:"ledger_tx,omitempty"`
	ConfirmedAt           *time.Time                   `json:"confirmed_at,omitempty"`
	CreatedAt             time.Time                    `json:"created_at"`
	UpdatedAt             time.Time                    `json:"updated_at"`

	recorder events.Recorder
}

type CreateParams struct {
	FromParty             id.PartyID
	ToParty               id.PartyID
	ReceivedQuantity      shared.Quantity
	OriginatingTransferID id.TransferID
	ProductionRecordID    *id.ProductionRecordID
	Batch                 shared.BatchNumber
	ReceiptDate           time.Time
	ReceivedBy            string
	ReceiptAddress        string
	QualityCheck          *QualityCheck
	Notes                 string
}

// Create opens a PENDING receipt and raises CustodyReceived.
func Create(lc Lifecycle, p CreateParams, now time.Time) (*Receipt, error) {
	if lc.Kind == "" {
		return nil, dErrors.New(dErrors.CodeInternal, "receipt lifecycle is not configured")
	}
	var missing []string
	if p.FromParty == "" {
		missing = append(missing, "from_party")
	}
	if p.ToParty == "" {
		missing = append(missing, "to_party")
	}
	if p.OriginatingTransferID.IsNil() {
		missing = append(missing, "originating_transfer_id")
	}
	if len(missing) > 0 {
		return nil, dErrors.Newf(dErrors.CodeValidation, "receipt is missing required fields: %s", strings.Join(missing, ", "))
	}
	if p.ReceivedQuantity.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "received quantity must be positive")
	}
	date := p.ReceiptDate
	if date.IsZero() {
		date = now
	}

	r := &Receipt{
		ID:                    id.NewReceiptID(),
		Kind:                  lc.Kind,
		FromParty:             p.FromParty,
		ToParty:               p.ToParty,
		OriginatingTransferID: p.OriginatingTransferID,
		ProductionRecordID:    p.ProductionRecordID,
		Batch:                 p.Batch,
		ReceivedQuantity:      p.ReceivedQuantity,
		ReceiptDate:           date,
		ReceivedBy:            strings.TrimSpace(p.ReceivedBy),
		ReceiptAddress:        strings.TrimSpace(p.ReceiptAddress),
		QualityCheck:          p.QualityCheck,
		Notes:                 strings.TrimSpace(p.Notes),
		Status:                StatusPending,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	r.record(events.TypeCustodyReceived, now, events.CustodyReceived{
		ReceiptID:             r.ID,
		Kind:                  string(r.Kind),
		FromParty:             r.FromParty,
		ToParty:               r.ToParty,
		OriginatingTransferID: r.OriginatingTransferID,
		Batch:                 r.Batch.String(),
		ReceivedQuantity:      r.ReceivedQuantity.String(),
	})
	return r, nil
}

func (r *Receipt) Lifecycle() Lifecycle {
	lc, _ := LifecycleFor(r.Kind)
	return lc
}

func (r *Receipt) MarkInTransit(now time.Time) error {
	return r.move(StatusInTransit, nil, now)
}

func (r *Receipt) MarkAsReceived(now time.Time) error {
	return r.move(StatusReceived, nil, now)
}

// ConfirmReceipt is the idempotency guard against double confirmation:
// a second call fails with AlreadyDone.
func (r *Receipt) ConfirmReceipt(ledgerTx *shared.TransactionReference, now time.Time) error {
	if r.Status == StatusConfirmed {
		return dErrors.Newf(dErrors.CodeAlreadyDone, "receipt %s is already %s", r.ID, StatusConfirmed)
	}
	at := now
	if err := r.move(StatusConfirmed, ledgerTx, now); err != nil {
		return err
	}
	r.ConfirmedAt = &at
	return nil
}

// Reject is allowed from any non-terminal status.
func (r *Receipt) Reject(now time.Time) error {
	if r.Status == StatusRejected {
		return dErrors.Newf(dErrors.CodeAlreadyDone, "receipt %s is already %s", r.ID, StatusRejected)
	}
	if r.Status.IsTerminal() {
		return dErrors.Newf(dErrors.CodeInvalidState, "receipt %s cannot be rejected: status is %s", r.ID, r.Status)
	}
	r.setStatus(StatusRejected, nil, now)
	return nil
}

func (r *Receipt) move(to Status, ledgerTx *shared.TransactionReference, now time.Time) error {
	if !r.Lifecycle().Allows(r.Status, to) {
		return dErrors.Newf(dErrors.CodeInvalidState, "receipt %s cannot move to %s: status is %s", r.ID, to, r.Status)
	}
	r.setStatus(to, ledgerTx, now)
	return nil
}

func (r *Receipt) setStatus(to Status, ledgerTx *shared.TransactionReference, now time.Time) {
	from := r.Status
	r.Status = to
	if ledgerTx != nil {
		r.LedgerTx = ledgerTx
	}
	r.UpdatedAt = now
	// Confirmation is announced once, under its own type.
	typ := events.TypeReceiptStatusChanged
	if to == StatusConfirmed {
		typ = events.TypeReceiptConfirmed
	}
	r.record(typ, now, events.ReceiptStatusChanged{
		ReceiptID: r.ID,
		Kind:      string(r.Kind),
		From:      string(from),
		To:        string(to),
		LedgerTx:  txString(ledgerTx),
	})
}

func (r *Receipt) IsConfirmed() bool { return r.Status == StatusConfirmed }
func (r *Receipt) IsRejected() bool  { return r.Status == StatusRejected }

func (r *Receipt) PullEvents() []events.Event {
	return r.recorder.PullEvents()
}

func (r *Receipt) record(t events.Type, now time.Time, data any) {
	r.recorder.Record(events.New(t, events.AggregateReceipt, r.ID.String(), now, data))
}

func txString(ref *shared.TransactionReference) string {
	if ref == nil {
		return ""
	}
	return ref.String()
}
