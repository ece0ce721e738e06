// Package unit models one serialized, individually traceable item of product.
//
// A Unit's Holder is the single source of truth for who physically has the
// item. It changes only through Transfer; terminal statuses never move it.
package unit

import (
	"fmt"
	"strings"
	"time"

	"pharmatrace/internal/custody/domain/events"
	"pharmatrace/internal/custody/domain/shared"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
)

// Status is the lifecycle position of a Unit.
type Status string

const (
	StatusMinted      Status = "MINTED"
	StatusTransferred Status = "TRANSFERRED"
	StatusSold        Status = "SOLD"
	StatusExpired     Status = "EXPIRED"
	StatusRecalled    Status = "RECALLED"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusSold, StatusExpired, StatusRecalled:
		return true
	}
	return false
}

func (s Status) IsValid() bool {
	switch s {
	case StatusMinted, StatusTransferred, StatusSold, StatusExpired, StatusRecalled:
		return true
	}
	return false
}

// Unit is one traceable item.
type Unit struct {
	TokenID            id.TokenID                   `json:"token_id"`
	ProductID          id.ProductID                 `json:"product_id"`
	OriginatingParty   id.PartyID                   `json:"originating_party"`
	Batch              shared.BatchNumber           `json:"batch"`
	Serial             string                       `json:"serial"`
	Quantity           shared.Quantity              `json:"quantity"`
	ManufacturedAt     time.Time                    `json:"manufactured_at"`
	ExpiresAt          time.Time                    `json:"expires_at,omitzero"`
	Content            shared.ContentReference      `json:"content"`
	Holder             id.PartyID                   `json:"holder"`
	Status             Status                       `json:"status"`
	LedgerTx           *shared.TransactionReference `json:"ledger_tx,omitempty"`
	ProductionRecordID id.ProductionRecordID        `json:"production_record_id"`
	CreatedAt          time.Time                    `json:"created_at"`
	UpdatedAt          time.Time                    `json:"updated_at"`

	recorder events.Recorder
}

// MintParams carries everything needed to create a Unit.
type MintParams struct {
	TokenID            id.TokenID
	ProductID          id.ProductID
	OriginatingParty   id.PartyID
	Batch              shared.BatchNumber
	Serial             string
	Quantity           shared.Quantity
	ManufacturedAt     time.Time
	ExpiresAt          time.Time
	Content            shared.ContentReference
	ProductionRecordID id.ProductionRecordID
}

// SerialFor composes the serial label of a Unit from its batch and token.
func SerialFor(batch shared.BatchNumber, token id.TokenID) string {
	return batch.String() + "-" + token.String()
}

// Mint creates a Unit in MINTED status held by its originating party.
func Mint(p MintParams, now time.Time) (*Unit, error) {
	var missing []string
	if p.TokenID == "" {
		missing = append(missing, "token_id")
	}
	if p.ProductID == "" {
		missing = append(missing, "product_id")
	}
	if p.OriginatingParty == "" {
		missing = append(missing, "originating_party")
	}
	if p.Batch.IsZero() {
		missing = append(missing, "batch")
	}
	if p.ProductionRecordID.IsNil() {
		missing = append(missing, "production_record_id")
	}
	if len(missing) > 0 {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unit is missing required fields: %s", strings.Join(missing, ", "))
	}
	if !p.ExpiresAt.IsZero() && !p.ManufacturedAt.IsZero() && !p.ExpiresAt.After(p.ManufacturedAt) {
		return nil, dErrors.New(dErrors.CodeValidation, "expiry date must be after manufacture date")
	}

	serial := strings.TrimSpace(p.Serial)
	if serial == "" {
		serial = SerialFor(p.Batch, p.TokenID)
	}
	qty := p.Quantity
	if qty.IsZero() {
		qty = shared.MustCount(1, "units")
	}

	u := &Unit{
		TokenID:            p.TokenID,
		ProductID:          p.ProductID,
		OriginatingParty:   p.OriginatingParty,
		Batch:              p.Batch,
		Serial:             serial,
		Quantity:           qty,
		ManufacturedAt:     p.ManufacturedAt,
		ExpiresAt:          p.ExpiresAt,
		Content:            p.Content,
		Holder:             p.OriginatingParty,
		Status:             StatusMinted,
		ProductionRecordID: p.ProductionRecordID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	u.record(events.TypeUnitMinted, now, events.UnitMinted{
		TokenID:            u.TokenID,
		ProductID:          u.ProductID,
		OriginatingParty:   u.OriginatingParty,
		Batch:              u.Batch.String(),
		Serial:             u.Serial,
		Quantity:           u.Quantity.String(),
		ProductionRecordID: u.ProductionRecordID,
	})
	return u, nil
}

// IsExpiredAt reports whether the expiry date has passed.
func (u *Unit) IsExpiredAt(now time.Time) bool {
	return !u.ExpiresAt.IsZero() && now.After(u.ExpiresAt)
}

// CanBeTransferred is true for MINTED or TRANSFERRED units not past expiry.
func (u *Unit) CanBeTransferred(now time.Time) bool {
	if u.Status != StatusMinted && u.Status != StatusTransferred {
		return false
	}
	return !u.IsExpiredAt(now)
}

// Transfer moves the Unit to a new holder.
func (u *Unit) Transfer(newHolder id.PartyID, ledgerTx *shared.TransactionReference, now time.Time) error {
	if newHolder == "" {
		return dErrors.New(dErrors.CodeValidation, "new holder is required")
	}
	if u.Status.IsTerminal() {
		return dErrors.Newf(dErrors.CodeInvalidState, "unit %s cannot be transferred: status is %s", u.TokenID, u.Status)
	}
	if u.IsExpiredAt(now) {
		return dErrors.Newf(dErrors.CodeInvalidState, "unit %s cannot be transferred: expired on %s", u.TokenID, u.ExpiresAt.Format(time.DateOnly))
	}
	from := u.Holder
	u.Holder = newHolder
	u.Status = StatusTransferred
	if ledgerTx != nil {
		u.LedgerTx = ledgerTx
	}
	u.UpdatedAt = now
	u.record(events.TypeUnitTransferred, now, events.UnitTransferred{
		TokenID:  u.TokenID,
		From:     from,
		To:       newHolder,
		LedgerTx: txString(ledgerTx),
	})
	return nil
}

// Sell dispenses a Unit. Only TRANSFERRED units can be sold.
func (u *Unit) Sell(ledgerTx *shared.TransactionReference, now time.Time) error {
	if u.Status != StatusTransferred {
		return dErrors.Newf(dErrors.CodeInvalidState, "unit %s cannot be sold: status is %s, expected %s", u.TokenID, u.Status, StatusTransferred)
	}
	u.Status = StatusSold
	if ledgerTx != nil {
		u.LedgerTx = ledgerTx
	}
	u.UpdatedAt = now
	u.record(events.TypeUnitSold, now, events.UnitSold{
		TokenID:  u.TokenID,
		Holder:   u.Holder,
		LedgerTx: txString(ledgerTx),
	})
	return nil
}

// MarkExpired moves a non-terminal Unit to EXPIRED.
func (u *Unit) MarkExpired(now time.Time) error {
	return u.retire(StatusExpired, events.TypeUnitExpired, now)
}

// Recall moves a non-terminal Unit to RECALLED.
func (u *Unit) Recall(now time.Time) error {
	return u.retire(StatusRecalled, events.TypeUnitRecalled, now)
}

func (u *Unit) retire(target Status, eventType events.Type, now time.Time) error {
	if u.Status == target {
		return dErrors.Newf(dErrors.CodeAlreadyDone, "unit %s is already %s", u.TokenID, target)
	}
	if u.Status.IsTerminal() {
		return dErrors.Newf(dErrors.CodeInvalidState, "unit %s cannot become %s: status is %s", u.TokenID, target, u.Status)
	}
	previous := u.Status
	u.Status = target
	u.UpdatedAt = now
	u.record(eventType, now, events.UnitRetired{TokenID: u.TokenID, PreviousStatus: string(previous)})
	return nil
}

// AttachLedgerTx records a ledger transaction without changing status.
func (u *Unit) AttachLedgerTx(ref shared.TransactionReference, now time.Time) {
	u.LedgerTx = &ref
	u.UpdatedAt = now
}

// PullEvents drains the events raised since the last pull.
func (u *Unit) PullEvents() []events.Event {
	return u.recorder.PullEvents()
}

func (u *Unit) record(t events.Type, now time.Time, data any) {
	u.recorder.Record(events.New(t, events.AggregateUnit, u.TokenID.String(), now, data))
}

func txString(ref *shared.TransactionReference) string {
	if ref == nil {
		return ""
	}
	return ref.String()
}

func (u *Unit) String() string {
	return fmt.Sprintf("unit(%s %s holder=%s)", u.TokenID, u.Status, u.Holder)
}
