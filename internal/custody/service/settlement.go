package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"pharmatrace/internal/custody/domain/handoff"
	"pharmatrace/internal/custody/domain/shared"
	"pharmatrace/internal/custody/domain/unit"
	"pharmatrace/internal/custody/ports"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/sentinel"
)

// DispatchTransfer marks an issued transfer SENT, persists that business
// step, then registers the handoff on the ledger. Custody moves only when the
// ledger answers with a transaction; otherwise the transfer stays SENT with
// its ledger step pending and the result says so.
func (s *Service) DispatchTransfer(ctx context.Context, transferID id.TransferID, party id.PartyID) (_ *DispatchResult, err error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "DispatchTransfer",
		attribute.String("transfer_id", transferID.String()),
		attribute.String("party_id", party.String()),
	)
	defer func() {
		endSpan(span, err)
		s.metrics.ObserveUseCase("dispatch", start)
	}()

	t, err := s.findTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.FromParty != party {
		return nil, dErrors.Newf(dErrors.CodeUnauthorized, "transfer %s was not issued by %s", t.ID, party)
	}
	if t.Status == handoff.StatusSent {
		if t.IsSettled() {
			return nil, dErrors.Newf(dErrors.CodeAlreadyDone, "transfer %s is already dispatched and settled", t.ID)
		}
		return s.settle(ctx, t)
	}

	units, err := s.loadExactly(ctx, t.UnitIDs)
	if err != nil {
		return nil, err
	}
	now := s.now(ctx)
	if err := checkMovable(t, units, now); err != nil {
		return nil, err
	}
	if err := t.Send(nil, now); err != nil {
		return nil, err
	}
	if err := s.transfersFor(t.Kind).Save(ctx, t); err != nil {
		return nil, translateSave(err, "transfer")
	}
	s.publish(ctx, t.PullEvents())
	s.logger.InfoContext(ctx, "custody handoff sent",
		"transfer_id", t.ID.String(),
		"document_number", t.DocumentNumber.String(),
	)

	if t.IsSettled() {
		if err := s.applySettlement(ctx, t, units, *t.LedgerTx); err != nil {
			return nil, err
		}
		return settledResult(t), nil
	}
	return s.settleUnits(ctx, t, units)
}

// RetryLedgerSettlement retries only the ledger step of a SENT transfer.
func (s *Service) RetryLedgerSettlement(ctx context.Context, transferID id.TransferID, party id.PartyID) (_ *DispatchResult, err error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "RetryLedgerSettlement",
		attribute.String("transfer_id", transferID.String()),
	)
	defer func() {
		endSpan(span, err)
		s.metrics.ObserveUseCase("ledger_retry", start)
	}()

	t, err := s.findTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.FromParty != party {
		return nil, dErrors.Newf(dErrors.CodeUnauthorized, "transfer %s was not issued by %s", t.ID, party)
	}
	if t.Status != handoff.StatusSent {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "transfer %s ledger step cannot be retried: status is %s, expected %s", t.ID, t.Status, handoff.StatusSent)
	}
	if t.IsSettled() {
		return nil, dErrors.Newf(dErrors.CodeAlreadyDone, "transfer %s is already settled by %s", t.ID, t.LedgerTx)
	}
	return s.settle(ctx, t)
}

// SettleTransfer records a ledger transaction observed outside this service
// (for example a ledger webhook) and moves custody. Repeating the same
// reference returns the settled state.
func (s *Service) SettleTransfer(ctx context.Context, transferID id.TransferID, txRef string) (_ *DispatchResult, err error) {
	ctx, span := startSpan(ctx, "SettleTransfer",
		attribute.String("transfer_id", transferID.String()),
	)
	defer func() { endSpan(span, err) }()

	ref, err := shared.NewTransactionReference(txRef)
	if err != nil {
		return nil, err
	}
	t, err := s.findTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.LedgerTx != nil && *t.LedgerTx == ref {
		return settledResult(t), nil
	}
	if t.Status != handoff.StatusSent {
		return nil, dErrors.Newf(dErrors.CodeInvalidState, "transfer %s cannot be settled: status is %s, expected %s", t.ID, t.Status, handoff.StatusSent)
	}
	units, err := s.loadExactly(ctx, t.UnitIDs)
	if err != nil {
		return nil, err
	}
	if err := checkSettleable(t, units, s.now(ctx)); err != nil {
		return nil, err
	}
	if err := s.applySettlement(ctx, t, units, ref); err != nil {
		return nil, err
	}
	return settledResult(t), nil
}

// SettlePending retries every transfer whose ledger step is still pending
// and was not definitely rejected. Retries reuse the transfer id as the
// ledger idempotency key. It returns the number settled; individual failures
// are logged.
func (s *Service) SettlePending(ctx context.Context) (int, error) {
	settled := 0
	for _, repo := range []ports.TransferRepository{s.repos.ManufacturerTransfers, s.repos.DistributorTransfers} {
		pending, err := repo.FindLedgerPending(ctx)
		if err != nil {
			return settled, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list ledger-pending transfers")
		}
		for _, t := range pending {
			res, err := s.settle(ctx, t)
			if err != nil {
				s.logger.WarnContext(ctx, "ledger settlement retry failed",
					"transfer_id", t.ID.String(),
					"error", err,
				)
				continue
			}
			if res.Outcome == OutcomeSettled {
				settled++
			}
		}
	}
	return settled, nil
}

func (s *Service) settle(ctx context.Context, t *handoff.Transfer) (*DispatchResult, error) {
	units, err := s.loadExactly(ctx, t.UnitIDs)
	if err != nil {
		return nil, err
	}
	return s.settleUnits(ctx, t, units)
}

// settleUnits performs the ledger step. Ledger failures never roll back the
// persisted SENT status; they are reported as a pending outcome.
func (s *Service) settleUnits(ctx context.Context, t *handoff.Transfer, units []*unit.Unit) (*DispatchResult, error) {
	if err := checkSettleable(t, units, s.now(ctx)); err != nil {
		return nil, err
	}
	ref, ledgerErr := s.registerOnLedger(ctx, t)
	if ledgerErr != nil {
		outcome := classifyLedgerError(ledgerErr)
		s.metrics.IncrementLedgerOutcome(string(outcome))
		s.logger.WarnContext(ctx, "ledger step pending",
			"transfer_id", t.ID.String(),
			"result", string(outcome),
			"error", ledgerErr,
		)
		if t.MarkLedgerPending(outcome, s.now(ctx)) {
			if err := s.transfersFor(t.Kind).Save(ctx, t); err != nil {
				return nil, translateSave(err, "transfer")
			}
		}
		return &DispatchResult{
			TransferID:    t.ID,
			Status:        t.Status,
			Outcome:       OutcomeLedgerPending,
			LedgerPending: true,
			LedgerError:   ledgerErr.Error(),
		}, nil
	}

	s.metrics.IncrementLedgerOutcome(OutcomeSettled)
	if err := s.applySettlement(ctx, t, units, ref); err != nil {
		return nil, err
	}
	return settledResult(t), nil
}

func (s *Service) registerOnLedger(ctx context.Context, t *handoff.Transfer) (shared.TransactionReference, error) {
	if s.ledger == nil {
		return shared.TransactionReference{}, fmt.Errorf("no ledger configured: %w", sentinel.ErrUnavailable)
	}
	from, err := s.findParty(ctx, t.FromParty)
	if err != nil {
		return shared.TransactionReference{}, err
	}
	to, err := s.findParty(ctx, t.ToParty)
	if err != nil {
		return shared.TransactionReference{}, err
	}
	if !from.HasLedgerAccount() || !to.HasLedgerAccount() {
		return shared.TransactionReference{}, fmt.Errorf("party without ledger address: %w", ports.ErrLedgerRejected)
	}
	return s.ledger.RegisterHandoff(ctx, ports.HandoffRegistration{
		IdempotencyKey: t.ID.String(),
		From:           from.LedgerAddress,
		To:             to.LedgerAddress,
		UnitIDs:        t.UnitIDs,
	})
}

func classifyLedgerError(err error) handoff.LedgerOutcome {
	switch {
	case errors.Is(err, ports.ErrLedgerRejected):
		return handoff.LedgerRejected
	case errors.Is(err, sentinel.ErrUnavailable):
		return handoff.LedgerUnavailable
	default:
		return handoff.LedgerIndeterminate
	}
}

// applySettlement records the ledger transaction on the transfer and moves
// every unit to the recipient. Units are saved before the transfer so a
// crash leaves the transfer retryable rather than falsely settled.
func (s *Service) applySettlement(ctx context.Context, t *handoff.Transfer, units []*unit.Unit, ref shared.TransactionReference) error {
	now := s.now(ctx)
	var moveErrs []error
	for _, u := range units {
		if u.Holder == t.ToParty {
			continue
		}
		if err := u.Transfer(t.ToParty, &ref, now); err != nil {
			moveErrs = append(moveErrs, err)
		}
	}
	if err := s.repos.Units.SaveMany(ctx, units); err != nil {
		return translateSave(err, "transferred units")
	}
	if err := t.AttachLedgerTx(ref, now); err != nil && !dErrors.HasCode(err, dErrors.CodeAlreadyDone) {
		return err
	}
	if err := s.transfersFor(t.Kind).Save(ctx, t); err != nil {
		return translateSave(err, "transfer")
	}

	evts := t.PullEvents()
	for _, u := range units {
		evts = append(evts, u.PullEvents()...)
	}
	s.publish(ctx, evts)
	s.logger.InfoContext(ctx, "custody handoff settled",
		"transfer_id", t.ID.String(),
		"ledger_tx", ref.String(),
		"recipient_id", t.ToParty.String(),
	)

	if len(moveErrs) > 0 {
		return s.inconsistent(ctx,
			fmt.Sprintf("ledger settled transfer %s but some units could not move: %v", t.ID, errors.Join(moveErrs...)),
			"transfer_id", t.ID.String(),
		)
	}
	return nil
}

// checkMovable verifies the sender still holds every unit and each can move.
func checkMovable(t *handoff.Transfer, units []*unit.Unit, now time.Time) error {
	var notHeld, blocked []string
	for _, u := range units {
		if u.Holder != t.FromParty {
			notHeld = append(notHeld, u.TokenID.String())
		}
		if !u.CanBeTransferred(now) {
			blocked = append(blocked, fmt.Sprintf("%s (%s)", u.TokenID, u.Status))
		}
	}
	if len(notHeld) > 0 {
		return dErrors.Newf(dErrors.CodeUnauthorized, "units no longer held by %s: %v", t.FromParty, notHeld)
	}
	if len(blocked) > 0 {
		return dErrors.Newf(dErrors.CodeInvalidState, "units cannot be transferred: %v", blocked)
	}
	return nil
}

// checkSettleable is checkMovable for a transfer whose settlement may have
// been partly applied: units already with the recipient are accepted.
func checkSettleable(t *handoff.Transfer, units []*unit.Unit, now time.Time) error {
	pending := make([]*unit.Unit, 0, len(units))
	for _, u := range units {
		if u.Holder != t.ToParty {
			pending = append(pending, u)
		}
	}
	return checkMovable(t, pending, now)
}

func settledResult(t *handoff.Transfer) *DispatchResult {
	res := &DispatchResult{
		TransferID: t.ID,
		Status:     t.Status,
		Outcome:    OutcomeSettled,
	}
	if t.LedgerTx != nil {
		res.LedgerTx = t.LedgerTx.String()
	}
	return res
}
