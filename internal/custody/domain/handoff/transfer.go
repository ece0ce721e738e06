// Package handoff models custody handoff documents (invoices) between parties.
//
// Manufacturer→distributor and distributor→pharmacy transfers are one
// aggregate parameterised by a Lifecycle. Transfers record intent; they never
// move a Unit's holder themselves.
package handoff

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"pharmatrace/internal/custody/domain/events"
	"pharmatrace/internal/custody/domain/shared"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
)

type Transfer struct {
	ID                 id.TransferID          `json:"id"`
	Kind               Kind                   `json:"kind"`
	FromParty          id.PartyID             `json:"from_party"`
	ToParty            id.PartyID             `json:"to_party"`
	ProductID          id.ProductID           `json:"product_id"`
	ProductionRecordID *id.ProductionRecordID `json:"production_record_id,omitempty"`
	PriorTransferID    *id.TransferID         `json:"prior_transfer_id,omitempty"`
	Batch              shared.BatchNumber     `json:"batch"`
	DocumentNumber     shared.DocumentNumber  `json:"document_number"`
	IssueDate          time.Time              `json:"issue_date"`
	// UnitIDs is authoritative; Quantity is a display and billing field.
	UnitIDs       []id.TokenID                 `json:"unit_ids"`
	Quantity      shared.Quantity              `json:"quantity"`
	Pricing       *Pricing                     `json:"pricing,omitempty"`
	Status        Status                       `json:"status"`
	LedgerTx      *shared.TransactionReference `json:"ledger_tx,omitempty"`
	LedgerPending bool                         `json:"ledger_pending"`
	LedgerOutcome LedgerOutcome                `json:"ledger_outcome,omitempty"`
	ReceiptID     *id.ReceiptID                `json:"receipt_id,omitempty"`
	Notes         string                       `json:"notes,omitempty"`
	CreatedAt     time.Time                    `json:"created_at"`
	UpdatedAt     time.Time                    `json:"updated_at"`

	recorder events.Recorder
}

type CreateParams struct {
	FromParty          id.PartyID
	ToParty            id.PartyID
	ProductID          id.ProductID
	ProductionRecordID *id.ProductionRecordID
	PriorTransferID    *id.TransferID
	Batch              shared.BatchNumber
	DocumentNumber     shared.DocumentNumber
	// Quantity defaults to len(UnitIDs) when zero.
	Quantity  shared.Quantity
	UnitIDs   []id.TokenID
	IssueDate time.Time
	Pricing   *Pricing
	Notes     string
}

// Create opens a transfer in the lifecycle's initial status and raises
// CustodyHandoffInitiated with the full unit list.
func Create(lc Lifecycle, p CreateParams, now time.Time) (*Transfer, error) {
	if lc.Kind == "" {
		return nil, dErrors.New(dErrors.CodeInternal, "transfer lifecycle is not configured")
	}
	var missing []string
	if p.FromParty == "" {
		missing = append(missing, "from_party")
	}
	if p.ToParty == "" {
		missing = append(missing, "to_party")
	}
	if p.ProductID == "" {
		missing = append(missing, "product_id")
	}
	if p.DocumentNumber.IsZero() {
		missing = append(missing, "document_number")
	}
	if len(missing) > 0 {
		return nil, dErrors.Newf(dErrors.CodeValidation, "transfer is missing required fields: %s", strings.Join(missing, ", "))
	}
	if p.FromParty == p.ToParty {
		return nil, dErrors.New(dErrors.CodeValidation, "transfer sender and recipient must differ")
	}
	if len(p.UnitIDs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "transfer must name at least one unit")
	}
	qty := p.Quantity
	if qty.IsZero() {
		qty = shared.MustCount(len(p.UnitIDs), "units")
	}
	issueDate := p.IssueDate
	if issueDate.IsZero() {
		issueDate = now
	}

	t := &Transfer{
		ID:                 id.NewTransferID(),
		Kind:               lc.Kind,
		FromParty:          p.FromParty,
		ToParty:            p.ToParty,
		ProductID:          p.ProductID,
		ProductionRecordID: p.ProductionRecordID,
		PriorTransferID:    p.PriorTransferID,
		Batch:              p.Batch,
		DocumentNumber:     p.DocumentNumber,
		IssueDate:          issueDate,
		UnitIDs:            slices.Clone(p.UnitIDs),
		Quantity:           qty,
		Pricing:            p.Pricing,
		Status:             lc.Initial(),
		Notes:              strings.TrimSpace(p.Notes),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	t.record(events.TypeCustodyHandoffInitiated, now, events.CustodyHandoffInitiated{
		TransferID:     t.ID,
		Kind:           string(t.Kind),
		FromParty:      t.FromParty,
		ToParty:        t.ToParty,
		ProductID:      t.ProductID,
		DocumentNumber: t.DocumentNumber.String(),
		Quantity:       t.Quantity.String(),
		UnitIDs:        slices.Clone(t.UnitIDs),
	})
	return t, nil
}

// Lifecycle resolves the role configuration from Kind.
func (t *Transfer) Lifecycle() Lifecycle {
	lc, _ := LifecycleFor(t.Kind)
	return lc
}

func (t *Transfer) Issue(now time.Time) error {
	return t.advance(ActionIssue, nil, now)
}

func (t *Transfer) Send(ledgerTx *shared.TransactionReference, now time.Time) error {
	return t.advance(ActionSend, ledgerTx, now)
}

func (t *Transfer) Confirm(now time.Time) error {
	return t.advance(ActionConfirm, nil, now)
}

// MarkDelivered closes a manufacturer transfer.
func (t *Transfer) MarkDelivered(ledgerTx *shared.TransactionReference, now time.Time) error {
	return t.advance(ActionDeliver, ledgerTx, now)
}

// MarkPaid closes a distributor transfer.
func (t *Transfer) MarkPaid(ledgerTx *shared.TransactionReference, now time.Time) error {
	return t.advance(ActionPay, ledgerTx, now)
}

// Cancel is allowed from any status that is not terminal.
func (t *Transfer) Cancel(now time.Time) error {
	lc := t.Lifecycle()
	if t.Status == StatusCancelled {
		return dErrors.Newf(dErrors.CodeAlreadyDone, "transfer %s is already %s", t.ID, StatusCancelled)
	}
	if lc.IsTerminal(t.Status) {
		return dErrors.Newf(dErrors.CodeInvalidState, "transfer %s cannot be cancelled: status is %s", t.ID, t.Status)
	}
	t.setStatus(StatusCancelled, nil, now)
	return nil
}

func (t *Transfer) advance(a Action, ledgerTx *shared.TransactionReference, now time.Time) error {
	lc := t.Lifecycle()
	tr, ok := lc.transitions[a]
	if !ok {
		return dErrors.Newf(dErrors.CodeInvalidState, "%s transfers do not support %s (status is %s)", t.Kind, a, t.Status)
	}
	if t.Status != tr.from {
		return dErrors.Newf(dErrors.CodeInvalidState, "transfer %s cannot %s: status is %s, expected %s", t.ID, a, t.Status, tr.from)
	}
	t.setStatus(tr.to, ledgerTx, now)
	return nil
}

func (t *Transfer) setStatus(to Status, ledgerTx *shared.TransactionReference, now time.Time) {
	from := t.Status
	t.Status = to
	if ledgerTx != nil {
		t.LedgerTx = ledgerTx
		t.LedgerPending = false
		t.LedgerOutcome = ""
	}
	t.UpdatedAt = now
	t.record(events.TypeHandoffStatusChanged, now, events.HandoffStatusChanged{
		TransferID: t.ID,
		Kind:       string(t.Kind),
		From:       string(from),
		To:         string(to),
		LedgerTx:   txString(ledgerTx),
	})
}

// CanBeTransferred reports whether a downstream handoff may reference this one.
func (t *Transfer) CanBeTransferred() bool {
	return t.Lifecycle().IsInFlight(t.Status)
}

func (t *Transfer) IsTerminal() bool {
	return t.Lifecycle().IsTerminal(t.Status)
}

func (t *Transfer) IsCancelled() bool { return t.Status == StatusCancelled }

// IsSettled reports whether the ledger step has completed.
func (t *Transfer) IsSettled() bool { return t.LedgerTx != nil }

// HasUnitList is false for legacy bulk transfers recorded without unit ids.
func (t *Transfer) HasUnitList() bool { return len(t.UnitIDs) > 0 }

func (t *Transfer) Contains(token id.TokenID) bool {
	return slices.Contains(t.UnitIDs, token)
}

// MarkLedgerPending records that the business step succeeded but the ledger
// step did not, and how the last attempt failed. It reports whether anything
// changed.
func (t *Transfer) MarkLedgerPending(outcome LedgerOutcome, now time.Time) bool {
	if t.LedgerTx != nil {
		return false
	}
	if t.LedgerPending && t.LedgerOutcome == outcome {
		return false
	}
	t.LedgerPending = true
	t.LedgerOutcome = outcome
	t.UpdatedAt = now
	return true
}

// AwaitsLedgerSweep reports whether the background retry should pick this
// transfer up. A rejected handoff waits for an explicit retry.
func (t *Transfer) AwaitsLedgerSweep() bool {
	return t.Status == StatusSent && t.LedgerTx == nil && t.LedgerOutcome != LedgerRejected
}

// AttachLedgerTx settles the ledger step. Re-attaching the same reference is
// AlreadyDone; a different one is a conflict.
func (t *Transfer) AttachLedgerTx(ref shared.TransactionReference, now time.Time) error {
	if ref.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "ledger transaction reference is required")
	}
	if t.Status == StatusCancelled {
		return dErrors.Newf(dErrors.CodeInvalidState, "transfer %s cannot be settled: status is %s", t.ID, t.Status)
	}
	if t.LedgerTx != nil {
		if *t.LedgerTx == ref {
			return dErrors.Newf(dErrors.CodeAlreadyDone, "transfer %s is already settled by %s", t.ID, ref)
		}
		return dErrors.Newf(dErrors.CodeConflict, "transfer %s is settled by %s, not %s", t.ID, t.LedgerTx, ref)
	}
	t.LedgerTx = &ref
	t.LedgerPending = false
	t.LedgerOutcome = ""
	t.UpdatedAt = now
	t.record(events.TypeHandoffLedgerSettled, now, events.HandoffLedgerSettled{
		TransferID: t.ID,
		LedgerTx:   ref.String(),
		UnitIDs:    slices.Clone(t.UnitIDs),
	})
	return nil
}

// LinkReceipt back-links the confirming receipt. It reports whether the link changed.
func (t *Transfer) LinkReceipt(receiptID id.ReceiptID, now time.Time) bool {
	if t.ReceiptID != nil && *t.ReceiptID == receiptID {
		return false
	}
	t.ReceiptID = &receiptID
	t.UpdatedAt = now
	return true
}

func (t *Transfer) PullEvents() []events.Event {
	return t.recorder.PullEvents()
}

func (t *Transfer) record(typ events.Type, now time.Time, data any) {
	t.recorder.Record(events.New(typ, events.AggregateTransfer, t.ID.String(), now, data))
}

func (t *Transfer) String() string {
	return fmt.Sprintf("transfer(%s %s %s %s→%s)", t.ID, t.DocumentNumber, t.Status, t.FromParty, t.ToParty)
}

func txString(ref *shared.TransactionReference) string {
	if ref == nil {
		return ""
	}
	return ref.String()
}
