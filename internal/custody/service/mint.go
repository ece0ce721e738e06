package service

import (
	"context"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"pharmatrace/internal/custody/domain/catalog"
	"pharmatrace/internal/custody/domain/production"
	"pharmatrace/internal/custody/domain/shared"
	"pharmatrace/internal/custody/domain/unit"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	strutil "pharmatrace/pkg/platform/strings"
)

// MintUnits records a completed production run and mints one Unit per token
// id. Either every Unit of the request is persisted or none is.
func (s *Service) MintUnits(ctx context.Context, req MintRequest) (_ *MintResult, err error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "MintUnits",
		attribute.String("party_id", req.Manufacturer.String()),
		attribute.String("batch", req.Batch),
		attribute.Int("token_count", len(req.TokenIDs)),
	)
	defer func() {
		endSpan(span, err)
		s.metrics.ObserveUseCase("mint", start)
	}()

	if dups := strutil.Duplicates(req.TokenIDs); len(dups) > 0 {
		return nil, dErrors.Newf(dErrors.CodeValidation, "token ids repeated in request: %s", strutil.Join(dups, ", "))
	}
	tokens := strutil.DedupeAndTrim(req.TokenIDs)
	if len(tokens) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one token id is required")
	}
	if req.Quantity != nil && *req.Quantity != len(tokens) {
		return nil, dErrors.Newf(dErrors.CodeValidation, "declared quantity %d does not match %d token ids", *req.Quantity, len(tokens))
	}
	batch, err := shared.NewBatchNumber(req.Batch)
	if err != nil {
		return nil, err
	}
	var content shared.ContentReference
	if req.ContentHash != "" || req.ContentURL != "" {
		content, err = shared.NewContentReference(req.ContentHash, req.ContentURL)
		if err != nil {
			return nil, err
		}
	}
	ledgerTx, err := shared.ParseOptionalTransactionReference(req.LedgerTx)
	if err != nil {
		return nil, err
	}

	party, err := s.findParty(ctx, req.Manufacturer)
	if err != nil {
		return nil, err
	}
	if party.Role != catalog.RoleManufacturer {
		return nil, dErrors.Newf(dErrors.CodeUnauthorized, "party %s is a %s and cannot mint units", party.ID, party.Role)
	}
	product, err := s.findProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.OwnedBy(req.Manufacturer) {
		return nil, dErrors.Newf(dErrors.CodeUnauthorized, "product %s does not belong to %s", product.ID, req.Manufacturer)
	}

	existing, err := s.repos.Units.FindByIDs(ctx, tokens)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing units")
	}
	if len(existing) > 0 {
		dups := make([]id.TokenID, 0, len(existing))
		for _, u := range existing {
			dups = append(dups, u.TokenID)
		}
		slices.Sort(dups)
		return nil, dErrors.Newf(dErrors.CodeConflict, "token ids already minted: %s", strutil.Join(dups, ", "))
	}

	now := s.now(ctx)
	record, err := production.Create(production.CreateParams{
		ProducingParty: req.Manufacturer,
		ProductID:      product.ID,
		Batch:          batch,
		Quantity:       shared.MustCount(len(tokens), "units"),
		ManufacturedAt: req.ManufacturedAt,
		ExpiresAt:      req.ExpiresAt,
		Content:        content,
	}, now)
	if err != nil {
		return nil, err
	}

	units := make([]*unit.Unit, 0, len(tokens))
	serials := make([]string, 0, len(tokens))
	for _, token := range tokens {
		u, err := unit.Mint(unit.MintParams{
			TokenID:            token,
			ProductID:          product.ID,
			OriginatingParty:   req.Manufacturer,
			Batch:              batch,
			Serial:             unit.SerialFor(batch, token),
			ManufacturedAt:     record.ManufacturedAt,
			ExpiresAt:          record.ExpiresAt,
			Content:            content,
			ProductionRecordID: record.ID,
		}, now)
		if err != nil {
			return nil, err
		}
		if ledgerTx != nil {
			u.AttachLedgerTx(*ledgerTx, now)
		}
		units = append(units, u)
		serials = append(serials, u.Serial)
	}

	if err := s.repos.Production.Save(ctx, record); err != nil {
		return nil, translateSave(err, "production record")
	}
	// The lookup above only gives a readable duplicate list; a concurrent
	// mint of the same token is caught by the insert-only write.
	if err := s.repos.Units.CreateMany(ctx, units); err != nil {
		s.abandonRecord(ctx, record)
		return nil, translateSave(err, "minted units")
	}
	if err := record.Complete(ledgerTx, now); err != nil {
		return nil, err
	}
	if err := s.repos.Production.Save(ctx, record); err != nil {
		return nil, translateSave(err, "production record")
	}

	evts := record.PullEvents()
	for _, u := range units {
		evts = append(evts, u.PullEvents()...)
	}
	s.publish(ctx, evts)
	s.metrics.IncrementMint(len(units))
	s.logger.InfoContext(ctx, "units minted",
		"production_record_id", record.ID.String(),
		"batch", batch.String(),
		"party_id", req.Manufacturer.String(),
		"unit_count", len(units),
	)

	return &MintResult{
		ProductionRecordID: record.ID,
		BatchNumber:        batch.String(),
		UnitSerials:        serials,
		TokenIDs:           tokens,
	}, nil
}

// abandonRecord marks the run FAILED when its units could not be stored.
func (s *Service) abandonRecord(ctx context.Context, record *production.Record) {
	record.PullEvents()
	if err := record.MarkFailed(s.now(ctx)); err != nil {
		return
	}
	if err := s.repos.Production.Save(ctx, record); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark production record failed",
			"production_record_id", record.ID.String(),
			"error", err,
		)
		return
	}
	s.publish(ctx, record.PullEvents())
}
