// Package httptransport exposes the custody use cases and provenance lookups
// over JSON/HTTP.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"pharmatrace/internal/custody/domain/handoff"
	"pharmatrace/internal/custody/domain/unit"
	"pharmatrace/internal/custody/service"
	"pharmatrace/internal/provenance"
	id "pharmatrace/pkg/domain"
	dErrors "pharmatrace/pkg/domain-errors"
	"pharmatrace/pkg/platform/httputil"
	"pharmatrace/pkg/platform/middleware/auth"
	"pharmatrace/pkg/requestcontext"
)

// CustodyService is the subset of the custody service the handlers call.
type CustodyService interface {
	MintUnits(ctx context.Context, req service.MintRequest) (*service.MintResult, error)
	TransferToNextParty(ctx context.Context, req service.TransferRequest) (*service.TransferResult, error)
	DispatchTransfer(ctx context.Context, transferID id.TransferID, party id.PartyID) (*service.DispatchResult, error)
	RetryLedgerSettlement(ctx context.Context, transferID id.TransferID, party id.PartyID) (*service.DispatchResult, error)
	SettleTransfer(ctx context.Context, transferID id.TransferID, txRef string) (*service.DispatchResult, error)
	CancelTransfer(ctx context.Context, transferID id.TransferID, party id.PartyID) (*service.TransferResult, error)
	ConfirmReceipt(ctx context.Context, req service.ConfirmRequest) (*service.ConfirmResult, error)
	SellUnit(ctx context.Context, token id.TokenID, pharmacy id.PartyID, txRef string) (*unit.Unit, error)
	RecallBatch(ctx context.Context, manufacturer id.PartyID, batchNumber string) (*service.RecallResult, error)
	ExpireUnits(ctx context.Context) ([]id.TokenID, error)
	SettlePending(ctx context.Context) (int, error)
	GetTransfer(ctx context.Context, transferID id.TransferID) (*handoff.Transfer, error)
	GetUnit(ctx context.Context, token id.TokenID) (*unit.Unit, error)
}

// ProvenanceService reconstructs unit histories.
type ProvenanceService interface {
	Reconstruct(ctx context.Context, identifier string) (*provenance.Provenance, error)
}

// Handler wires custody endpoints to the services.
type Handler struct {
	custody    CustodyService
	provenance ProvenanceService
	logger     *slog.Logger
}

func New(custody CustodyService, provenance ProvenanceService, logger *slog.Logger) *Handler {
	return &Handler{
		custody:    custody,
		provenance: provenance,
		logger:     logger,
	}
}

// Register mounts the public API. Everything except provenance lookups
// requires a calling party.
func (h *Handler) Register(r chi.Router) {
	r.Get("/provenance/{identifier}", h.HandleProvenance)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireParty(h.logger))

		r.Post("/mints", h.HandleMint)
		r.Post("/transfers", h.HandleTransfer)
		r.Get("/transfers/{id}", h.HandleGetTransfer)
		r.Post("/transfers/{id}/dispatch", h.HandleDispatch)
		r.Post("/transfers/{id}/ledger-retry", h.HandleLedgerRetry)
		r.Post("/transfers/{id}/cancel", h.HandleCancel)
		r.Post("/transfers/{id}/receipt", h.HandleConfirmReceipt)
		r.Get("/units/{id}", h.HandleGetUnit)
		r.Post("/units/{id}/sale", h.HandleSale)
		r.Post("/batches/{batch}/recall", h.HandleRecall)
	})
}

// RegisterOperator mounts operator endpoints. Callers guard the router.
func (h *Handler) RegisterOperator(r chi.Router) {
	r.Post("/transfers/{id}/settlement", h.HandleSettlement)
	r.Post("/ledger-settlement", h.HandleSettlePending)
	r.Post("/expiry", h.HandleExpire)
}

// fail logs and writes err. Client errors log at WARN, the rest at ERROR.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error, attrs ...any) {
	attrs = append(attrs,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
		"party_id", requestcontext.Party(ctx).String(),
	)
	if dErrors.ToHTTPStatus(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}

func transferIDParam(r *http.Request) (id.TransferID, error) {
	return id.ParseTransferID(chi.URLParam(r, "id"))
}

func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// writeSettlement answers a dispatch or retry. A pending ledger step is 202;
// an already-settled transfer is reported with its current state.
func (h *Handler) writeSettlement(ctx context.Context, w http.ResponseWriter, transferID id.TransferID, res *service.DispatchResult, err error, msg string, start time.Time) {
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeAlreadyDone) {
			h.writeCurrentTransfer(ctx, w, transferID)
			return
		}
		h.fail(ctx, w, msg, err, "transfer_id", transferID.String())
		return
	}
	status := http.StatusOK
	if res.LedgerPending {
		status = http.StatusAccepted
	}
	h.logger.InfoContext(ctx, "transfer settlement answered",
		"request_id", requestcontext.RequestID(ctx),
		"transfer_id", transferID.String(),
		"outcome", res.Outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, status, res)
}

func (h *Handler) writeCurrentTransfer(ctx context.Context, w http.ResponseWriter, transferID id.TransferID) {
	t, err := h.custody.GetTransfer(ctx, transferID)
	if err != nil {
		h.fail(ctx, w, "failed to load transfer", err, "transfer_id", transferID.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}
