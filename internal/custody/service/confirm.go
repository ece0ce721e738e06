package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"pharmatrace/internal/custody/domain/handoff"
	"pharmatrace/internal/custody/domain/receipt"
	"pharmatrace/internal/custody/domain/shared"
	"pharmatrace/internal/custody/domain/unit"
	"pharmatrace/internal/custody/ports"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/sentinel"
	strutil "pharmatrace/pkg/platform/strings"
)

// ConfirmReceipt records that the receiving party has taken possession of
// the units named by a SENT transfer. A transfer already confirmed returns
// the existing receipt with AlreadyConfirmed set rather than an error.
func (s *Service) ConfirmReceipt(ctx context.Context, req ConfirmRequest) (_ *ConfirmResult, err error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "ConfirmReceipt",
		attribute.String("transfer_id", req.TransferID.String()),
		attribute.String("party_id", req.ConfirmingParty.String()),
	)
	defer func() {
		endSpan(span, err)
		s.metrics.ObserveUseCase("confirm", start)
	}()

	ledgerTx, err := shared.ParseOptionalTransactionReference(req.LedgerTx)
	if err != nil {
		return nil, err
	}

	t, err := s.findTransfer(ctx, req.TransferID)
	if err != nil {
		return nil, err
	}
	if t.ToParty != req.ConfirmingParty {
		return nil, dErrors.Newf(dErrors.CodeUnauthorized, "transfer %s is addressed to %s, not %s", t.ID, t.ToParty, req.ConfirmingParty)
	}
	if t.Status != handoff.StatusSent {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "transfer %s cannot be confirmed: status is %s, expected %s", t.ID, t.Status, handoff.StatusSent)
	}

	units, err := s.loadExactly(ctx, t.UnitIDs)
	if err != nil {
		return nil, err
	}
	if err := checkHeldBy(req.ConfirmingParty, units); err != nil {
		return nil, err
	}
	batch, recordID := s.resolveReceiptBatch(ctx, t, units)

	repo, lc := s.receiptsFor(t.Kind)
	now := s.now(ctx)
	r, confirmed, err := s.existingReceipt(ctx, repo, t)
	if err != nil {
		return nil, err
	}
	if confirmed {
		s.metrics.IncrementIdempotentConfirm(string(lc.Kind))
		s.logger.InfoContext(ctx, "receipt already confirmed",
			"transfer_id", t.ID.String(),
			"receipt_id", r.ID.String(),
		)
		return &ConfirmResult{
			ReceiptID:        r.ID,
			Status:           r.Status,
			BatchNumber:      r.Batch.String(),
			AlreadyConfirmed: true,
		}, nil
	}
	if r == nil {
		qty, err := receivedQuantity(req.ReceivedQuantity, units)
		if err != nil {
			return nil, err
		}
		r, err = receipt.Create(lc, receipt.CreateParams{
			FromParty:             t.FromParty,
			ToParty:               t.ToParty,
			ReceivedQuantity:      qty,
			OriginatingTransferID: t.ID,
			ProductionRecordID:    recordID,
			Batch:                 batch,
			ReceiptDate:           req.ReceiptDate,
			ReceivedBy:            req.ReceivedBy,
			ReceiptAddress:        req.ReceiptAddress,
			QualityCheck:          req.QualityCheck,
			Notes:                 req.Notes,
		}, now)
		if err != nil {
			return nil, err
		}
	}

	if err := r.ConfirmReceipt(ledgerTx, now); err != nil {
		return nil, err
	}
	if err := repo.Save(ctx, r); err != nil {
		return nil, translateSave(err, "receipt")
	}
	if t.LinkReceipt(r.ID, now) {
		if err := s.transfersFor(t.Kind).Save(ctx, t); err != nil {
			return nil, translateSave(err, "transfer")
		}
	}

	s.publish(ctx, append(r.PullEvents(), t.PullEvents()...))
	s.metrics.IncrementReceiptConfirmed(string(lc.Kind))
	s.logger.InfoContext(ctx, "custody receipt confirmed",
		"transfer_id", t.ID.String(),
		"receipt_id", r.ID.String(),
		"party_id", req.ConfirmingParty.String(),
		"unit_ids", strutil.Join(t.UnitIDs, ","),
	)

	return &ConfirmResult{
		ReceiptID:   r.ID,
		Status:      r.Status,
		BatchNumber: r.Batch.String(),
	}, nil
}

// checkHeldBy verifies custody from the units' own records, independent of
// what the transfer document claims.
func checkHeldBy(party id.PartyID, units []*unit.Unit) error {
	var mismatched []id.TokenID
	for _, u := range units {
		if u.Holder != party {
			mismatched = append(mismatched, u.TokenID)
		}
	}
	if len(mismatched) > 0 {
		return dErrors.Newf(dErrors.CodeUnauthorized, "units are not held by %s: %s", party, strutil.Join(mismatched, ", "))
	}
	return nil
}

// resolveReceiptBatch prefers the originating production record's batch over
// the unit's denormalised copy.
func (s *Service) resolveReceiptBatch(ctx context.Context, t *handoff.Transfer, units []*unit.Unit) (shared.BatchNumber, *id.ProductionRecordID) {
	first := units[0]
	batch := first.Batch
	recordID := t.ProductionRecordID
	if recordID == nil && !first.ProductionRecordID.IsNil() {
		rid := first.ProductionRecordID
		recordID = &rid
	}
	if recordID == nil {
		return batch, nil
	}
	record, err := s.repos.Production.FindByID(ctx, *recordID)
	switch {
	case err == nil:
		if !record.Batch.IsZero() {
			batch = record.Batch
		}
	case errors.Is(err, sentinel.ErrNotFound):
		s.logger.WarnContext(ctx, "unit references a missing production record",
			"token_id", first.TokenID.String(),
			"production_record_id", recordID.String(),
		)
	default:
		s.logger.WarnContext(ctx, "failed to load production record for receipt batch",
			"production_record_id", recordID.String(),
			"error", err,
		)
	}
	return batch, recordID
}

// existingReceipt returns the receipt to advance for t. confirmed is true
// when some receipt for t is already CONFIRMED, in which case that receipt
// is returned. More than one open receipt is reported and the latest used.
func (s *Service) existingReceipt(ctx context.Context, repo ports.ReceiptRepository, t *handoff.Transfer) (*receipt.Receipt, bool, error) {
	receipts, err := repo.FindByOriginatingTransfer(ctx, t.ID)
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load receipts")
	}
	var open []*receipt.Receipt
	for _, r := range receipts {
		if r.IsConfirmed() {
			return r, true, nil
		}
		if !r.IsRejected() {
			open = append(open, r)
		}
	}
	if len(open) == 0 {
		return nil, false, nil
	}
	if len(open) > 1 {
		s.logger.WarnContext(ctx, "multiple open receipts for one transfer",
			"transfer_id", t.ID.String(),
			"receipt_count", len(open),
		)
	}
	latest := open[0]
	for _, r := range open[1:] {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest, false, nil
}

func receivedQuantity(requested *int, units []*unit.Unit) (shared.Quantity, error) {
	label := units[0].Quantity.Unit()
	if label == "" {
		label = "units"
	}
	n := len(units)
	if requested != nil {
		if *requested <= 0 {
			return shared.Quantity{}, dErrors.New(dErrors.CodeValidation, "received quantity must be positive")
		}
		n = *requested
	}
	return shared.CountOf(n, label)
}
