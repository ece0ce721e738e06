// Package service implements the custody use cases: minting units, handing
// them to the next party, settling handoffs on the ledger and confirming
// receipt. Each call runs load → validate → mutate → persist → publish in
// that order; nothing is persisted until every precondition has passed.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pharmatrace/internal/custody/domain/catalog"
	"pharmatrace/internal/custody/domain/events"
	"pharmatrace/internal/custody/domain/handoff"
	"pharmatrace/internal/custody/domain/receipt"
	"pharmatrace/internal/custody/metrics"
	"pharmatrace/internal/custody/ports"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/sentinel"
	"pharmatrace/pkg/requestcontext"
)

var tracer = otel.Tracer("pharmatrace/internal/custody/service")

// Repositories groups the stores the use cases read and write. Transfers and
// receipts have one repository per leg of the chain.
type Repositories struct {
	Units                 ports.UnitRepository
	Production            ports.ProductionRecordRepository
	ManufacturerTransfers ports.TransferRepository
	DistributorTransfers  ports.TransferRepository
	DistributionReceipts  ports.ReceiptRepository
	PharmacyReceipts      ports.ReceiptRepository
	Catalog               ports.Catalog
}

// Service orchestrates custody aggregates.
type Service struct {
	repos     Repositories
	ledger    ports.Ledger
	publisher ports.EventPublisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	clock     func() time.Time
	docNumber func(prefix string) string
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLedger(l ports.Ledger) Option {
	return func(s *Service) {
		s.ledger = l
	}
}

func WithPublisher(p ports.EventPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithDocumentNumbers overrides document number generation.
func WithDocumentNumbers(gen func(prefix string) string) Option {
	return func(s *Service) {
		s.docNumber = gen
	}
}

// New constructs a Service.
func New(repos Repositories, opts ...Option) *Service {
	s := &Service{
		repos:     repos,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		docNumber: generateDocumentNumber,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// now prefers an injected clock, then the request-scoped time.
func (s *Service) now(ctx context.Context) time.Time {
	if s.clock != nil {
		return s.clock().UTC()
	}
	return requestcontext.Now(ctx).UTC()
}

func (s *Service) transfersFor(k handoff.Kind) ports.TransferRepository {
	if k == handoff.KindDistributor {
		return s.repos.DistributorTransfers
	}
	return s.repos.ManufacturerTransfers
}

// receiptsFor returns the receipt repository and lifecycle that confirm a
// transfer of kind k.
func (s *Service) receiptsFor(k handoff.Kind) (ports.ReceiptRepository, receipt.Lifecycle) {
	if k == handoff.KindDistributor {
		return s.repos.PharmacyReceipts, receipt.PharmacyLifecycle
	}
	return s.repos.DistributionReceipts, receipt.DistributionLifecycle
}

// findTransfer looks a transfer up in both legs of the chain.
func (s *Service) findTransfer(ctx context.Context, transferID id.TransferID) (*handoff.Transfer, error) {
	for _, repo := range []ports.TransferRepository{s.repos.ManufacturerTransfers, s.repos.DistributorTransfers} {
		t, err := repo.FindByID(ctx, transferID)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load transfer")
		}
	}
	return nil, dErrors.Newf(dErrors.CodeNotFound, "transfer %s not found", transferID)
}

func (s *Service) findParty(ctx context.Context, partyID id.PartyID) (*catalog.Party, error) {
	p, err := s.repos.Catalog.FindParty(ctx, partyID)
	if err != nil {
		return nil, translateLoad(err, fmt.Sprintf("party %s", partyID))
	}
	return p, nil
}

func (s *Service) findProduct(ctx context.Context, productID id.ProductID) (*catalog.Product, error) {
	p, err := s.repos.Catalog.FindProduct(ctx, productID)
	if err != nil {
		return nil, translateLoad(err, fmt.Sprintf("product %s", productID))
	}
	return p, nil
}

// translateLoad maps a store error on a single-aggregate read.
func translateLoad(err error, what string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, what+" not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load "+what)
}

func translateSave(err error, what string) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeConflict, what+" conflicts with an existing record")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save "+what)
}

// inconsistent logs referential corruption at ERROR before surfacing it.
func (s *Service) inconsistent(ctx context.Context, msg string, args ...any) error {
	s.logger.ErrorContext(ctx, "custody data inconsistent", append([]any{"detail", msg}, args...)...)
	return dErrors.New(dErrors.CodeInconsistent, msg)
}

// publish hands events to the publisher. Failures happen after persistence
// and are logged and counted, never rolled back.
func (s *Service) publish(ctx context.Context, evts []events.Event) {
	if s.publisher == nil || len(evts) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, evts...); err != nil {
		s.metrics.IncrementPublishFailure()
		s.logger.ErrorContext(ctx, "failed to publish domain events",
			"event_count", len(evts),
			"error", err,
		)
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "custody."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !dErrors.HasCode(err, dErrors.CodeAlreadyDone) {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}
