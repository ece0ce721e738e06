// Package provenance reconstructs the custody journey of a single unit from
// the production, handoff and receipt documents that reference it.
package provenance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"pharmatrace/internal/custody/domain/handoff"
	"pharmatrace/internal/custody/domain/production"
	"pharmatrace/internal/custody/domain/receipt"
	"pharmatrace/internal/custody/domain/shared"
	"pharmatrace/internal/custody/domain/unit"
	"pharmatrace/internal/custody/ports"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/sentinel"
)

var tracer = otel.Tracer("pharmatrace/internal/provenance")

const sideChannelTimeout = 3 * time.Second

// Sources are the read sides of the custody stores.
type Sources struct {
	Units                 ports.UnitRepository
	Production            ports.ProductionRecordRepository
	ManufacturerTransfers ports.TransferRepository
	DistributorTransfers  ports.TransferRepository
	DistributionReceipts  ports.ReceiptRepository
	PharmacyReceipts      ports.ReceiptRepository
	Catalog               ports.Catalog
}

// MetadataFetcher downloads and verifies off-chain unit metadata.
type MetadataFetcher interface {
	Fetch(ctx context.Context, ref shared.ContentReference) ([]byte, error)
}

// Cache stores reconstructed results. Get returns sentinel.ErrNotFound on a miss.
type Cache interface {
	Get(ctx context.Context, identifier string) (*Provenance, error)
	Set(ctx context.Context, identifier string, p *Provenance) error
}

type Engine struct {
	src      Sources
	ledger   ports.Ledger
	metadata MetadataFetcher
	cache    Cache
	logger   *slog.Logger
	metrics  *Metrics
	clock    func() time.Time
	group    singleflight.Group
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithLedger enables best-effort cross-validation against the ledger's event log.
func WithLedger(l ports.Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

func WithMetadata(m MetadataFetcher) Option {
	return func(e *Engine) { e.metadata = m }
}

func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func New(src Sources, opts ...Option) *Engine {
	e := &Engine{
		src:    src,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconstruct resolves identifier as a token id, a serial, or a batch number
// (first match wins) and returns the unit's provenance.
func (e *Engine) Reconstruct(ctx context.Context, identifier string) (_ *Provenance, err error) {
	start := time.Now()
	identifier = strings.TrimSpace(identifier)
	ctx, span := tracer.Start(ctx, "provenance.Reconstruct")
	span.SetAttributes(attribute.String("identifier", identifier))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		}
		span.End()
		e.metrics.observe(start)
	}()

	if identifier == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "identifier is required")
	}

	if e.cache != nil {
		cached, err := e.cache.Get(ctx, identifier)
		switch {
		case err == nil:
			e.metrics.cacheHit()
			return cached, nil
		case !errors.Is(err, sentinel.ErrNotFound):
			e.logger.WarnContext(ctx, "provenance cache read failed", "identifier", identifier, "error", err)
		}
		e.metrics.cacheMiss()
	}

	v, err, _ := e.group.Do(identifier, func() (any, error) {
		return e.reconstruct(ctx, identifier)
	})
	if err != nil {
		return nil, err
	}
	p := v.(*Provenance)

	if e.cache != nil {
		if err := e.cache.Set(ctx, identifier, p); err != nil {
			e.logger.WarnContext(ctx, "provenance cache write failed", "identifier", identifier, "error", err)
		}
	}
	return p, nil
}

func (e *Engine) reconstruct(ctx context.Context, identifier string) (*Provenance, error) {
	u, err := e.resolveUnit(ctx, identifier)
	if err != nil {
		return nil, err
	}
	batch, err := e.resolveBatch(ctx, u)
	if err != nil {
		return nil, err
	}
	siblings, err := e.src.Units.FindByBatch(ctx, batch)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load batch units")
	}
	records, err := e.src.Production.FindByBatch(ctx, batch)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load production records")
	}

	scope := membership{token: u.TokenID, batch: batch}
	for _, r := range records {
		scope.recordIDs = append(scope.recordIDs, r.ID)
	}
	if !u.ProductionRecordID.IsNil() && !slices.Contains(scope.recordIDs, u.ProductionRecordID) {
		scope.recordIDs = append(scope.recordIDs, u.ProductionRecordID)
	}

	docs, err := e.gather(ctx, scope)
	if err != nil {
		return nil, err
	}
	matched, err := e.match(ctx, scope, docs)
	if err != nil {
		return nil, err
	}

	p := &Provenance{
		Unit:            summarize(u),
		BatchNumber:     batch.String(),
		Journey:         buildJourney(records, matched),
		Siblings:        len(siblings),
		ReconstructedAt: e.clock().UTC(),
	}
	p.DataQuality = e.dataQuality(u, batch, records, matched, p.Journey)
	p.CurrentHolder = e.holder(ctx, u)
	e.crossValidate(ctx, u, p)
	return p, nil
}

func (e *Engine) resolveUnit(ctx context.Context, identifier string) (*unit.Unit, error) {
	u, err := e.src.Units.FindByID(ctx, id.TokenID(identifier))
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load unit")
	}
	u, err = e.src.Units.FindBySerial(ctx, identifier)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load unit by serial")
	}
	if batch, berr := shared.NewBatchNumber(identifier); berr == nil {
		units, err := e.src.Units.FindByBatch(ctx, batch)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load batch units")
		}
		if len(units) > 0 {
			return units[0], nil
		}
	}
	return nil, dErrors.Newf(dErrors.CodeNotFound, "no unit matches %q", identifier)
}

// resolveBatch prefers the linked production record's batch over the unit's copy.
func (e *Engine) resolveBatch(ctx context.Context, u *unit.Unit) (shared.BatchNumber, error) {
	if u.ProductionRecordID.IsNil() {
		return u.Batch, nil
	}
	r, err := e.src.Production.FindByID(ctx, u.ProductionRecordID)
	switch {
	case err == nil && !r.Batch.IsZero():
		return r.Batch, nil
	case err == nil, errors.Is(err, sentinel.ErrNotFound):
		return u.Batch, nil
	default:
		return shared.BatchNumber{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load production record")
	}
}

// documents holds every candidate document before the membership rule runs.
type documents struct {
	mfrTransfers  []*handoff.Transfer
	distTransfers []*handoff.Transfer
	distReceipts  []*receipt.Receipt
	pharmReceipts []*receipt.Receipt
}

// gather queries the four document types concurrently. Receipts are looked
// up both by batch and by the candidate transfers they confirm.
func (e *Engine) gather(ctx context.Context, scope membership) (*documents, error) {
	docs := &documents{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ts, err := candidateTransfers(gctx, e.src.ManufacturerTransfers, scope)
		docs.mfrTransfers = ts
		return err
	})
	g.Go(func() error {
		ts, err := candidateTransfers(gctx, e.src.DistributorTransfers, scope)
		docs.distTransfers = ts
		return err
	})
	var distByBatch, pharmByBatch []*receipt.Receipt
	g.Go(func() error {
		rs, err := e.src.DistributionReceipts.FindByBatch(gctx, scope.batch)
		distByBatch = rs
		return err
	})
	g.Go(func() error {
		rs, err := e.src.PharmacyReceipts.FindByBatch(gctx, scope.batch)
		pharmByBatch = rs
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query custody documents")
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		rs, err := e.src.DistributionReceipts.FindByTransfers(gctx, transferIDs(docs.mfrTransfers))
		docs.distReceipts = mergeReceipts(distByBatch, rs)
		return err
	})
	g.Go(func() error {
		rs, err := e.src.PharmacyReceipts.FindByTransfers(gctx, transferIDs(docs.distTransfers))
		docs.pharmReceipts = mergeReceipts(pharmByBatch, rs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query custody receipts")
	}
	return docs, nil
}

func candidateTransfers(ctx context.Context, repo ports.TransferRepository, scope membership) ([]*handoff.Transfer, error) {
	byUnit, err := repo.FindByUnit(ctx, scope.token)
	if err != nil {
		return nil, err
	}
	byBatch, err := repo.FindByBatch(ctx, scope.batch)
	if err != nil {
		return nil, err
	}
	byRecord, err := repo.FindByProductionRecords(ctx, scope.recordIDs)
	if err != nil {
		return nil, err
	}
	seen := map[id.TransferID]struct{}{}
	var out []*handoff.Transfer
	for _, list := range [][]*handoff.Transfer{byUnit, byBatch, byRecord} {
		for _, t := range list {
			if _, ok := seen[t.ID]; ok {
				continue
			}
			seen[t.ID] = struct{}{}
			out = append(out, t)
		}
	}
	return out, nil
}

func mergeReceipts(lists ...[]*receipt.Receipt) []*receipt.Receipt {
	seen := map[id.ReceiptID]struct{}{}
	var out []*receipt.Receipt
	for _, list := range lists {
		for _, r := range list {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

func transferIDs(ts []*handoff.Transfer) []id.TransferID {
	out := make([]id.TransferID, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

// matched holds the documents that passed the membership rule.
type matched struct {
	mfrTransfers  []*handoff.Transfer
	distTransfers []*handoff.Transfer
	distReceipts  []*receipt.Receipt
	pharmReceipts []*receipt.Receipt
}

func (e *Engine) match(ctx context.Context, scope membership, docs *documents) (*matched, error) {
	m := &matched{
		mfrTransfers:  scope.transfers(docs.mfrTransfers),
		distTransfers: scope.transfers(docs.distTransfers),
	}
	var err error
	if m.distReceipts, err = scope.receipts(ctx, docs.distReceipts, docs.mfrTransfers, e.src.ManufacturerTransfers); err != nil {
		return nil, err
	}
	if m.pharmReceipts, err = scope.receipts(ctx, docs.pharmReceipts, docs.distTransfers, e.src.DistributorTransfers); err != nil {
		return nil, err
	}
	return m, nil
}

func (e *Engine) holder(ctx context.Context, u *unit.Unit) *HolderSummary {
	h := &HolderSummary{PartyID: u.Holder, Since: u.UpdatedAt}
	party, err := e.src.Catalog.FindParty(ctx, u.Holder)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			e.logger.WarnContext(ctx, "failed to load holder", "party_id", u.Holder.String(), "error", err)
		}
		return h
	}
	h.Name = party.Name
	h.Role = string(party.Role)
	return h
}

// crossValidate attaches the ledger's event log and the metadata check.
// Neither failure is fatal.
func (e *Engine) crossValidate(ctx context.Context, u *unit.Unit, p *Provenance) {
	if e.ledger != nil {
		lctx, cancel := context.WithTimeout(ctx, sideChannelTimeout)
		evts, err := e.ledger.EventLog(lctx, u.TokenID)
		cancel()
		if err != nil {
			p.LedgerError = err.Error()
			e.logger.WarnContext(ctx, "ledger event log unavailable", "token_id", u.TokenID.String(), "error", err)
		} else {
			p.LedgerEvents = evts
		}
	}
	if e.metadata != nil && !u.Content.IsZero() {
		mctx, cancel := context.WithTimeout(ctx, sideChannelTimeout)
		body, err := e.metadata.Fetch(mctx, u.Content)
		cancel()
		if err != nil {
			p.Metadata = &MetadataStatus{Error: err.Error()}
		} else {
			p.Metadata = &MetadataStatus{Verified: true, Bytes: len(body)}
		}
	}
}

func summarize(u *unit.Unit) UnitSummary {
	s := UnitSummary{
		TokenID:        u.TokenID,
		Serial:         u.Serial,
		ProductID:      u.ProductID,
		Batch:          u.Batch.String(),
		Status:         string(u.Status),
		ManufacturedAt: u.ManufacturedAt,
		ContentHash:    u.Content.Hash(),
		ContentURL:     u.Content.URL(),
	}
	if !u.ExpiresAt.IsZero() {
		exp := u.ExpiresAt
		s.ExpiresAt = &exp
	}
	if u.LedgerTx != nil {
		s.LedgerTx = u.LedgerTx.String()
	}
	return s
}

// buildJourney orders the representative documents. Stages with no
// matching document are omitted.
func buildJourney(records []*production.Record, m *matched) []Stage {
	var journey []Stage
	if r := latest(records, func(r *production.Record) (time.Time, string) { return r.CreatedAt, r.ID.String() }); r != nil {
		journey = append(journey, Stage{
			Kind:       StageManufacturing,
			DocumentID: r.ID.String(),
			FromParty:  r.ProducingParty,
			Status:     string(r.Status),
			OccurredAt: r.ManufacturedAt,
			LedgerTx:   txString(r.LedgerTx),
			MatchCount: len(records),
		})
	}
	if t := latestTransfer(m.mfrTransfers); t != nil {
		journey = append(journey, transferStage(StageManufacturerToDistributor, t, len(m.mfrTransfers)))
	}
	if r := latestReceipt(m.distReceipts); r != nil {
		journey = append(journey, receiptStage(StageDistributorReceived, r, len(m.distReceipts)))
	}
	if t := latestTransfer(m.distTransfers); t != nil {
		journey = append(journey, transferStage(StageDistributorToPharmacy, t, len(m.distTransfers)))
	}
	if r := latestReceipt(m.pharmReceipts); r != nil {
		journey = append(journey, receiptStage(StagePharmacyReceived, r, len(m.pharmReceipts)))
	}
	return journey
}

func transferStage(kind StageKind, t *handoff.Transfer, count int) Stage {
	return Stage{
		Kind:           kind,
		DocumentID:     t.ID.String(),
		DocumentNumber: t.DocumentNumber.String(),
		FromParty:      t.FromParty,
		ToParty:        t.ToParty,
		Status:         string(t.Status),
		OccurredAt:     t.IssueDate,
		LedgerTx:       txString(t.LedgerTx),
		MatchCount:     count,
	}
}

func receiptStage(kind StageKind, r *receipt.Receipt, count int) Stage {
	at := r.ReceiptDate
	if r.ConfirmedAt != nil {
		at = *r.ConfirmedAt
	}
	return Stage{
		Kind:       kind,
		DocumentID: r.ID.String(),
		FromParty:  r.FromParty,
		ToParty:    r.ToParty,
		Status:     string(r.Status),
		OccurredAt: at,
		LedgerTx:   txString(r.LedgerTx),
		MatchCount: count,
	}
}

func latestTransfer(ts []*handoff.Transfer) *handoff.Transfer {
	return latest(ts, func(t *handoff.Transfer) (time.Time, string) { return t.CreatedAt, t.ID.String() })
}

func latestReceipt(rs []*receipt.Receipt) *receipt.Receipt {
	return latest(rs, func(r *receipt.Receipt) (time.Time, string) { return r.CreatedAt, r.ID.String() })
}

// latest picks the most recently created document, breaking ties by id so
// the choice does not depend on store ordering.
func latest[T any](in []*T, key func(*T) (time.Time, string)) *T {
	var best *T
	var bestAt time.Time
	var bestID string
	for _, v := range in {
		at, docID := key(v)
		if best == nil || at.After(bestAt) || (at.Equal(bestAt) && docID > bestID) {
			best, bestAt, bestID = v, at, docID
		}
	}
	return best
}

func txString(ref *shared.TransactionReference) string {
	if ref == nil {
		return ""
	}
	return ref.String()
}

// dataQuality lists the anomalies a reader should know about. They are
// reported, never repaired.
func (e *Engine) dataQuality(u *unit.Unit, batch shared.BatchNumber, records []*production.Record, m *matched, journey []Stage) []string {
	var warnings []string
	if len(records) > 1 {
		e.metrics.warning("multiple_production_records")
		warnings = append(warnings, fmt.Sprintf("batch %s has %d production records", batch, len(records)))
	}
	if len(records) == 0 {
		e.metrics.warning("missing_production_record")
		warnings = append(warnings, fmt.Sprintf("batch %s has no production record", batch))
	}
	for _, group := range [][]*receipt.Receipt{m.distReceipts, m.pharmReceipts} {
		open := map[id.TransferID]int{}
		var order []id.TransferID
		for _, r := range group {
			if r.IsRejected() {
				continue
			}
			if open[r.OriginatingTransferID] == 0 {
				order = append(order, r.OriginatingTransferID)
			}
			open[r.OriginatingTransferID]++
		}
		for _, tid := range order {
			if open[tid] > 1 {
				e.metrics.warning("multiple_receipts")
				warnings = append(warnings, fmt.Sprintf("transfer %s has %d non-rejected receipts", tid, open[tid]))
			}
		}
	}
	if n := len(journey); n > 0 {
		last := journey[n-1]
		received := last.Kind == StageDistributorReceived || last.Kind == StagePharmacyReceived
		if received && last.Status == string(receipt.StatusConfirmed) && last.ToParty != u.Holder {
			e.metrics.warning("holder_mismatch")
			warnings = append(warnings, fmt.Sprintf("unit %s is held by %s but its last confirmed receipt names %s", u.TokenID, u.Holder, last.ToParty))
		}
	}
	return warnings
}
