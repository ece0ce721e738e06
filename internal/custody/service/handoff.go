package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"pharmatrace/internal/custody/domain/catalog"
	"pharmatrace/internal/custody/domain/events"
	"pharmatrace/internal/custody/domain/handoff"
	"pharmatrace/internal/custody/domain/production"
	"pharmatrace/internal/custody/domain/shared"
	"pharmatrace/internal/custody/domain/unit"
	"pharmatrace/internal/custody/ports"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/sentinel"
	strutil "pharmatrace/pkg/platform/strings"
)

const maxDocumentNumberAttempts = 5

// lifecycleForSender picks the handoff leg from the initiating party's role.
func lifecycleForSender(role catalog.Role) (handoff.Lifecycle, bool) {
	switch role {
	case catalog.RoleManufacturer:
		return handoff.ManufacturerLifecycle, true
	case catalog.RoleDistributor:
		return handoff.DistributorLifecycle, true
	}
	return handoff.Lifecycle{}, false
}

// TransferToNextParty issues a handoff document for units the initiating
// party holds. It does not move custody; DispatchTransfer does, once the
// ledger has recorded the handoff.
func (s *Service) TransferToNextParty(ctx context.Context, req TransferRequest) (_ *TransferResult, err error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "TransferToNextParty",
		attribute.String("party_id", req.InitiatingParty.String()),
		attribute.String("recipient_id", req.Recipient.String()),
		attribute.Int("unit_count", len(req.UnitIDs)),
	)
	defer func() {
		endSpan(span, err)
		s.metrics.ObserveUseCase("transfer", start)
	}()

	tokens := strutil.DedupeAndTrim(req.UnitIDs)
	if len(tokens) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one unit id is required")
	}
	ledgerTx, err := shared.ParseOptionalTransactionReference(req.LedgerTx)
	if err != nil {
		return nil, err
	}

	sender, err := s.findParty(ctx, req.InitiatingParty)
	if err != nil {
		return nil, err
	}
	lc, ok := lifecycleForSender(sender.Role)
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeUnauthorized, "party %s is a %s and cannot hand units on", sender.ID, sender.Role)
	}
	recipient, err := s.findParty(ctx, req.Recipient)
	if err != nil {
		return nil, err
	}
	if string(recipient.Role) != lc.ToRole {
		return nil, dErrors.Newf(dErrors.CodeValidation, "recipient %s is a %s, expected a %s", recipient.ID, recipient.Role, lc.ToRole)
	}
	product, err := s.findProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if lc.Kind == handoff.KindManufacturer && !product.OwnedBy(sender.ID) {
		return nil, dErrors.Newf(dErrors.CodeUnauthorized, "product %s does not belong to %s", product.ID, sender.ID)
	}

	units, err := s.loadExactly(ctx, tokens)
	if err != nil {
		return nil, err
	}
	now := s.now(ctx)
	if err := s.checkTransferable(ctx, lc, sender.ID, product.ID, units, now); err != nil {
		return nil, err
	}

	quantity := shared.MustCount(len(units), "units")
	if req.Quantity != nil {
		if *req.Quantity <= 0 {
			return nil, dErrors.New(dErrors.CodeValidation, "quantity must be positive")
		}
		if *req.Quantity != len(units) {
			s.logger.WarnContext(ctx, "transfer quantity differs from unit list",
				"quantity", *req.Quantity,
				"unit_count", len(units),
			)
		}
		quantity = shared.MustCount(*req.Quantity, "units")
	}

	var pricing *handoff.Pricing
	if req.UnitPrice != nil {
		price, err := shared.NewMonetaryAmount(*req.UnitPrice, req.Currency)
		if err != nil {
			return nil, err
		}
		pricing, err = handoff.NewPricing(price, quantity.Int(), req.TaxRate)
		if err != nil {
			return nil, err
		}
	}

	linkage, err := s.resolveLinkage(ctx, lc, sender.ID, units)
	if err != nil {
		return nil, err
	}

	repo := s.transfersFor(lc.Kind)
	transfer, err := s.issueWithDocumentNumber(ctx, repo, lc, req.DocumentNumber, func(doc shared.DocumentNumber) (*handoff.Transfer, error) {
		t, err := handoff.Create(lc, handoff.CreateParams{
			FromParty:          sender.ID,
			ToParty:            recipient.ID,
			ProductID:          product.ID,
			ProductionRecordID: linkage.productionRecordID,
			PriorTransferID:    linkage.priorTransferID,
			Batch:              linkage.batch,
			DocumentNumber:     doc,
			Quantity:           quantity,
			UnitIDs:            tokens,
			IssueDate:          req.IssueDate,
			Pricing:            pricing,
			Notes:              req.Notes,
		}, now)
		if err != nil {
			return nil, err
		}
		if err := t.Issue(now); err != nil {
			return nil, err
		}
		if ledgerTx != nil {
			if err := t.AttachLedgerTx(*ledgerTx, now); err != nil {
				return nil, err
			}
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}

	evts := transfer.PullEvents()
	if lc.Kind == handoff.KindManufacturer {
		evts = append(evts, s.markDistributed(ctx, linkage.records, now)...)
	}
	s.publish(ctx, evts)
	s.metrics.IncrementHandoffIssued(string(lc.Kind))
	s.logger.InfoContext(ctx, "custody handoff issued",
		"transfer_id", transfer.ID.String(),
		"kind", string(lc.Kind),
		"document_number", transfer.DocumentNumber.String(),
		"party_id", sender.ID.String(),
		"recipient_id", recipient.ID.String(),
		"unit_ids", strutil.Join(tokens, ","),
	)

	return &TransferResult{
		TransferID:     transfer.ID,
		Kind:           transfer.Kind,
		DocumentNumber: transfer.DocumentNumber.String(),
		Status:         transfer.Status,
		UnitIDs:        slices.Clone(transfer.UnitIDs),
	}, nil
}

// loadExactly loads every named unit. A partial result is referential
// corruption and is never silently accepted.
func (s *Service) loadExactly(ctx context.Context, tokens []id.TokenID) ([]*unit.Unit, error) {
	units, err := s.repos.Units.FindByIDs(ctx, tokens)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load units")
	}
	if len(units) != len(tokens) {
		found := make([]id.TokenID, 0, len(units))
		for _, u := range units {
			found = append(found, u.TokenID)
		}
		missing := strutil.Missing(tokens, found)
		return nil, s.inconsistent(ctx,
			fmt.Sprintf("requested %d units but found %d; missing: %s", len(tokens), len(units), strutil.Join(missing, ", ")),
			"unit_ids", strutil.Join(tokens, ","),
		)
	}
	byID := make(map[id.TokenID]*unit.Unit, len(units))
	for _, u := range units {
		byID[u.TokenID] = u
	}
	ordered := make([]*unit.Unit, 0, len(tokens))
	for _, t := range tokens {
		ordered = append(ordered, byID[t])
	}
	return ordered, nil
}

func (s *Service) checkTransferable(ctx context.Context, lc handoff.Lifecycle, sender id.PartyID, product id.ProductID, units []*unit.Unit, now time.Time) error {
	var wrongProduct, notHeld, blocked []string
	for _, u := range units {
		if u.ProductID != product {
			wrongProduct = append(wrongProduct, u.TokenID.String())
		}
		if u.Holder != sender {
			notHeld = append(notHeld, u.TokenID.String())
		}
		if !u.CanBeTransferred(now) {
			blocked = append(blocked, fmt.Sprintf("%s (%s)", u.TokenID, u.Status))
		}
	}
	if len(wrongProduct) > 0 {
		return dErrors.Newf(dErrors.CodeValidation, "units are not of product %s: %s", product, strutil.Join(wrongProduct, ", "))
	}
	if len(notHeld) > 0 {
		return dErrors.Newf(dErrors.CodeUnauthorized, "units not held by %s: %s", sender, strutil.Join(notHeld, ", "))
	}
	if len(blocked) > 0 {
		return dErrors.Newf(dErrors.CodeInvalidState, "units cannot be transferred: %s", strutil.Join(blocked, ", "))
	}
	return s.checkUnclaimed(ctx, s.transfersFor(lc.Kind), units)
}

// checkUnclaimed rejects units already named by another in-flight handoff
// whose custody move has not been applied. A ledger transaction attached at
// issue time does not release the claim; only the recipient holding the unit
// does.
func (s *Service) checkUnclaimed(ctx context.Context, repo ports.TransferRepository, units []*unit.Unit) error {
	var claimedBy id.TransferID
	var claimed []id.TokenID
	for _, u := range units {
		transfers, err := repo.FindByUnit(ctx, u.TokenID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check in-flight transfers")
		}
		for _, t := range transfers {
			if t.ProductID == u.ProductID && t.CanBeTransferred() && u.Holder != t.ToParty {
				claimedBy = t.ID
				claimed = append(claimed, u.TokenID)
				break
			}
		}
	}
	if len(claimed) > 0 {
		return dErrors.Newf(dErrors.CodeConflict, "units already claimed by in-flight transfer %s: %s", claimedBy, strutil.Join(claimed, ", "))
	}
	return nil
}

type transferLinkage struct {
	batch              shared.BatchNumber
	productionRecordID *id.ProductionRecordID
	priorTransferID    *id.TransferID
	records            []*production.Record
}

// resolveLinkage denormalises batch and production linkage onto the new
// transfer and, for the distributor leg, finds the manufacturer transfer the
// units arrived with.
func (s *Service) resolveLinkage(ctx context.Context, lc handoff.Lifecycle, sender id.PartyID, units []*unit.Unit) (transferLinkage, error) {
	var link transferLinkage
	batches := map[shared.BatchNumber]struct{}{}
	var recordIDs []id.ProductionRecordID
	for _, u := range units {
		batches[u.Batch] = struct{}{}
		if !u.ProductionRecordID.IsNil() && !slices.Contains(recordIDs, u.ProductionRecordID) {
			recordIDs = append(recordIDs, u.ProductionRecordID)
		}
	}
	if len(batches) == 1 {
		link.batch = units[0].Batch
	}
	if len(recordIDs) == 1 {
		rid := recordIDs[0]
		link.productionRecordID = &rid
	}
	for _, rid := range recordIDs {
		r, err := s.repos.Production.FindByID(ctx, rid)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			return link, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load production record")
		}
		link.records = append(link.records, r)
	}

	if lc.Kind == handoff.KindDistributor {
		prior, err := s.repos.ManufacturerTransfers.FindByUnit(ctx, units[0].TokenID)
		if err != nil {
			return link, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load prior transfers")
		}
		for i := len(prior) - 1; i >= 0; i-- {
			if prior[i].ToParty == sender && !prior[i].IsCancelled() {
				pid := prior[i].ID
				link.priorTransferID = &pid
				break
			}
		}
	}
	return link, nil
}

// markDistributed sets the informational distributed marker once every
// referenced production record is completed.
func (s *Service) markDistributed(ctx context.Context, records []*production.Record, now time.Time) []events.Event {
	for _, r := range records {
		if !r.IsCompleted() {
			return nil
		}
	}
	var evts []events.Event
	for _, r := range records {
		if !r.MarkDistributed(now) {
			continue
		}
		if err := s.repos.Production.Save(ctx, r); err != nil {
			s.logger.WarnContext(ctx, "failed to mark production record distributed",
				"production_record_id", r.ID.String(),
				"error", err,
			)
			continue
		}
		evts = append(evts, r.PullEvents()...)
	}
	return evts
}

// issueWithDocumentNumber persists a new transfer under a document number
// unique for its issuer. Generated numbers are regenerated on collision;
// caller-supplied numbers fail with a conflict.
func (s *Service) issueWithDocumentNumber(
	ctx context.Context,
	repo ports.TransferRepository,
	lc handoff.Lifecycle,
	requested string,
	build func(shared.DocumentNumber) (*handoff.Transfer, error),
) (*handoff.Transfer, error) {
	if requested != "" {
		doc, err := shared.NewDocumentNumber(requested)
		if err != nil {
			return nil, err
		}
		t, err := build(doc)
		if err != nil {
			return nil, err
		}
		existing, err := repo.FindByDocumentNumber(ctx, doc)
		switch {
		case err == nil && existing.FromParty == t.FromParty:
			return nil, dErrors.Newf(dErrors.CodeConflict, "document number %s already issued by %s", doc, t.FromParty)
		case err != nil && !errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check document number")
		}
		if err := repo.Save(ctx, t); err != nil {
			return nil, translateSave(err, "transfer")
		}
		return t, nil
	}

	for attempt := 0; attempt < maxDocumentNumberAttempts; attempt++ {
		doc, err := shared.NewDocumentNumber(s.docNumber(lc.DocumentPrefix))
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generated document number is invalid")
		}
		if _, err := repo.FindByDocumentNumber(ctx, doc); err == nil {
			s.logger.WarnContext(ctx, "generated document number collided", "document_number", doc.String())
			continue
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check document number")
		}
		t, err := build(doc)
		if err != nil {
			return nil, err
		}
		if err := repo.Save(ctx, t); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				continue
			}
			return nil, translateSave(err, "transfer")
		}
		return t, nil
	}
	return nil, dErrors.Newf(dErrors.CodeConflict, "could not generate a unique document number after %d attempts", maxDocumentNumberAttempts)
}
