package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"pharmatrace/internal/custody/domain/catalog"
	"pharmatrace/internal/custody/domain/events"
	"pharmatrace/internal/custody/domain/handoff"
	"pharmatrace/internal/custody/domain/shared"
	"pharmatrace/internal/custody/domain/unit"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/sentinel"
)

// SellUnit dispenses a unit held by a pharmacy.
func (s *Service) SellUnit(ctx context.Context, token id.TokenID, pharmacy id.PartyID, txRef string) (_ *unit.Unit, err error) {
	ctx, span := startSpan(ctx, "SellUnit",
		attribute.String("token_id", token.String()),
		attribute.String("party_id", pharmacy.String()),
	)
	defer func() { endSpan(span, err) }()

	ledgerTx, err := shared.ParseOptionalTransactionReference(txRef)
	if err != nil {
		return nil, err
	}
	party, err := s.findParty(ctx, pharmacy)
	if err != nil {
		return nil, err
	}
	if party.Role != catalog.RolePharmacy {
		return nil, dErrors.Newf(dErrors.CodeUnauthorized, "party %s is a %s; only pharmacies dispense units", party.ID, party.Role)
	}
	u, err := s.GetUnit(ctx, token)
	if err != nil {
		return nil, err
	}
	if u.Holder != pharmacy {
		return nil, dErrors.Newf(dErrors.CodeUnauthorized, "unit %s is not held by %s", u.TokenID, pharmacy)
	}
	if err := u.Sell(ledgerTx, s.now(ctx)); err != nil {
		return nil, err
	}
	if err := s.repos.Units.Save(ctx, u); err != nil {
		return nil, translateSave(err, "unit")
	}
	s.publish(ctx, u.PullEvents())
	s.logger.InfoContext(ctx, "unit sold",
		"token_id", u.TokenID.String(),
		"party_id", pharmacy.String(),
	)
	return u, nil
}

// RecallBatch marks every non-terminal unit of a batch RECALLED. Only the
// manufacturer that originated the batch may recall it.
func (s *Service) RecallBatch(ctx context.Context, manufacturer id.PartyID, batchNumber string) (_ *RecallResult, err error) {
	ctx, span := startSpan(ctx, "RecallBatch",
		attribute.String("party_id", manufacturer.String()),
		attribute.String("batch", batchNumber),
	)
	defer func() { endSpan(span, err) }()

	batch, err := shared.NewBatchNumber(batchNumber)
	if err != nil {
		return nil, err
	}
	units, err := s.repos.Units.FindByBatch(ctx, batch)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load batch units")
	}
	if len(units) == 0 {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "batch %s has no units", batch)
	}
	for _, u := range units {
		if u.OriginatingParty != manufacturer {
			return nil, dErrors.Newf(dErrors.CodeUnauthorized, "batch %s was not produced by %s", batch, manufacturer)
		}
	}

	now := s.now(ctx)
	result := &RecallResult{BatchNumber: batch.String()}
	changed := make([]*unit.Unit, 0, len(units))
	for _, u := range units {
		if err := u.Recall(now); err != nil {
			if dErrors.HasCode(err, dErrors.CodeAlreadyDone) || dErrors.HasCode(err, dErrors.CodeInvalidState) {
				result.Skipped = append(result.Skipped, u.TokenID)
				continue
			}
			return nil, err
		}
		changed = append(changed, u)
		result.Recalled = append(result.Recalled, u.TokenID)
	}
	if len(changed) > 0 {
		if err := s.repos.Units.SaveMany(ctx, changed); err != nil {
			return nil, translateSave(err, "recalled units")
		}
	}

	var evts []events.Event
	for _, u := range changed {
		evts = append(evts, u.PullEvents()...)
	}
	s.publish(ctx, evts)
	s.logger.WarnContext(ctx, "batch recalled",
		"batch", batch.String(),
		"party_id", manufacturer.String(),
		"recalled", len(result.Recalled),
		"skipped", len(result.Skipped),
	)
	return result, nil
}

// ExpireUnits marks every non-terminal unit past its expiry date EXPIRED and
// returns the affected token ids.
func (s *Service) ExpireUnits(ctx context.Context) (_ []id.TokenID, err error) {
	ctx, span := startSpan(ctx, "ExpireUnits")
	defer func() { endSpan(span, err) }()

	now := s.now(ctx)
	units, err := s.repos.Units.FindExpiringBefore(ctx, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load expiring units")
	}
	var expired []id.TokenID
	changed := make([]*unit.Unit, 0, len(units))
	for _, u := range units {
		if err := u.MarkExpired(now); err != nil {
			continue
		}
		changed = append(changed, u)
		expired = append(expired, u.TokenID)
	}
	if len(changed) == 0 {
		return nil, nil
	}
	if err := s.repos.Units.SaveMany(ctx, changed); err != nil {
		return nil, translateSave(err, "expired units")
	}
	var evts []events.Event
	for _, u := range changed {
		evts = append(evts, u.PullEvents()...)
	}
	s.publish(ctx, evts)
	s.logger.InfoContext(ctx, "units expired", "count", len(expired))
	return expired, nil
}

// CancelTransfer withdraws a transfer before custody has moved.
func (s *Service) CancelTransfer(ctx context.Context, transferID id.TransferID, party id.PartyID) (_ *TransferResult, err error) {
	ctx, span := startSpan(ctx, "CancelTransfer",
		attribute.String("transfer_id", transferID.String()),
		attribute.String("party_id", party.String()),
	)
	defer func() { endSpan(span, err) }()

	t, err := s.findTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.FromParty != party {
		return nil, dErrors.Newf(dErrors.CodeUnauthorized, "transfer %s was not issued by %s", t.ID, party)
	}
	if t.IsSettled() && !t.IsCancelled() {
		return nil, s.settledCancelError(ctx, t)
	}
	if err := t.Cancel(s.now(ctx)); err != nil {
		return nil, err
	}
	if err := s.transfersFor(t.Kind).Save(ctx, t); err != nil {
		return nil, translateSave(err, "transfer")
	}
	s.publish(ctx, t.PullEvents())
	s.logger.InfoContext(ctx, "custody handoff cancelled",
		"transfer_id", t.ID.String(),
		"party_id", party.String(),
	)
	return transferResult(t), nil
}

// settledCancelError explains why a transfer with a recorded ledger
// transaction cannot be withdrawn, naming whether its units have moved.
func (s *Service) settledCancelError(ctx context.Context, t *handoff.Transfer) error {
	units, err := s.repos.Units.FindByIDs(ctx, t.UnitIDs)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load transfer units")
	}
	for _, u := range units {
		if u.Holder == t.ToParty {
			return dErrors.Newf(dErrors.CodeInvalidState, "transfer %s cannot be cancelled: status is %s and custody has moved to %s", t.ID, t.Status, t.ToParty)
		}
	}
	return dErrors.Newf(dErrors.CodeInvalidState, "transfer %s cannot be cancelled: status is %s and ledger transaction %s is recorded", t.ID, t.Status, t.LedgerTx)
}

// GetTransfer returns a transfer of either leg.
func (s *Service) GetTransfer(ctx context.Context, transferID id.TransferID) (*handoff.Transfer, error) {
	return s.findTransfer(ctx, transferID)
}

func (s *Service) GetUnit(ctx context.Context, token id.TokenID) (*unit.Unit, error) {
	u, err := s.repos.Units.FindByID(ctx, token)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "unit %s not found", token)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load unit")
	}
	return u, nil
}

func transferResult(t *handoff.Transfer) *TransferResult {
	return &TransferResult{
		TransferID:     t.ID,
		Kind:           t.Kind,
		DocumentNumber: t.DocumentNumber.String(),
		Status:         t.Status,
		UnitIDs:        t.UnitIDs,
	}
}
