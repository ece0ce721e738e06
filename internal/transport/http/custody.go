package httptransport

import (
	"net/http"
	"time"

	"pharmatrace/internal/custody/service"
	id "pharmatrace/pkg/domain"
	"pharmatrace/pkg/platform/httputil"
	"pharmatrace/pkg/requestcontext"
)

// HandleMint handles POST /v1/mints.
func (h *Handler) HandleMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	party := requestcontext.Party(ctx)

	req, ok := httputil.DecodeAndPrepare[MintRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.custody.MintUnits(ctx, service.MintRequest{
		Manufacturer:   party,
		ProductID:      req.productID,
		TokenIDs:       req.tokenIDs,
		Batch:          req.Batch,
		Quantity:       req.Quantity,
		ManufacturedAt: req.ManufacturedAt,
		ExpiresAt:      req.ExpiresAt,
		ContentHash:    req.ContentHash,
		ContentURL:     req.ContentURL,
		LedgerTx:       req.LedgerTx,
	})
	if err != nil {
		h.fail(ctx, w, "mint failed", err, "batch", req.Batch)
		return
	}
	h.logger.InfoContext(ctx, "units minted",
		"request_id", requestID,
		"party_id", party.String(),
		"production_record_id", res.ProductionRecordID.String(),
		"count", len(res.TokenIDs),
	)
	httputil.WriteJSON(w, http.StatusCreated, res)
}

// HandleTransfer handles POST /v1/transfers.
func (h *Handler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	party := requestcontext.Party(ctx)

	req, ok := httputil.DecodeAndPrepare[TransferRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.custody.TransferToNextParty(ctx, service.TransferRequest{
		InitiatingParty: party,
		Recipient:       req.recipient,
		ProductID:       req.productID,
		UnitIDs:         req.unitIDs,
		DocumentNumber:  req.DocumentNumber,
		Quantity:        req.Quantity,
		IssueDate:       req.IssueDate,
		UnitPrice:       req.UnitPrice,
		Currency:        req.Currency,
		TaxRate:         req.TaxRate,
		LedgerTx:        req.LedgerTx,
		Notes:           req.Notes,
	})
	if err != nil {
		h.fail(ctx, w, "transfer failed", err, "recipient", req.Recipient)
		return
	}
	h.logger.InfoContext(ctx, "transfer issued",
		"request_id", requestID,
		"party_id", party.String(),
		"transfer_id", res.TransferID.String(),
		"document_number", res.DocumentNumber,
	)
	httputil.WriteJSON(w, http.StatusCreated, res)
}

// HandleGetTransfer handles GET /v1/transfers/{id}.
func (h *Handler) HandleGetTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	transferID, err := transferIDParam(r)
	if err != nil {
		h.fail(ctx, w, "invalid transfer id", err)
		return
	}
	h.writeCurrentTransfer(ctx, w, transferID)
}

// HandleDispatch handles POST /v1/transfers/{id}/dispatch.
func (h *Handler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	transferID, err := transferIDParam(r)
	if err != nil {
		h.fail(ctx, w, "invalid transfer id", err)
		return
	}
	res, err := h.custody.DispatchTransfer(ctx, transferID, requestcontext.Party(ctx))
	h.writeSettlement(ctx, w, transferID, res, err, "dispatch failed", start)
}

// HandleLedgerRetry handles POST /v1/transfers/{id}/ledger-retry.
func (h *Handler) HandleLedgerRetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	transferID, err := transferIDParam(r)
	if err != nil {
		h.fail(ctx, w, "invalid transfer id", err)
		return
	}
	res, err := h.custody.RetryLedgerSettlement(ctx, transferID, requestcontext.Party(ctx))
	h.writeSettlement(ctx, w, transferID, res, err, "ledger retry failed", start)
}

// HandleCancel handles POST /v1/transfers/{id}/cancel.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	transferID, err := transferIDParam(r)
	if err != nil {
		h.fail(ctx, w, "invalid transfer id", err)
		return
	}
	res, err := h.custody.CancelTransfer(ctx, transferID, requestcontext.Party(ctx))
	if err != nil {
		h.fail(ctx, w, "cancel failed", err, "transfer_id", transferID.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleConfirmReceipt handles POST /v1/transfers/{id}/receipt.
func (h *Handler) HandleConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	party := requestcontext.Party(ctx)
	transferID, err := transferIDParam(r)
	if err != nil {
		h.fail(ctx, w, "invalid transfer id", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ConfirmRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.custody.ConfirmReceipt(ctx, service.ConfirmRequest{
		TransferID:       transferID,
		ConfirmingParty:  party,
		ReceivedQuantity: req.ReceivedQuantity,
		ReceiptDate:      req.ReceiptDate,
		ReceivedBy:       req.ReceivedBy,
		ReceiptAddress:   req.ReceiptAddress,
		QualityCheck:     req.QualityCheck,
		Notes:            req.Notes,
		LedgerTx:         req.LedgerTx,
	})
	if err != nil {
		h.fail(ctx, w, "receipt confirmation failed", err, "transfer_id", transferID.String())
		return
	}
	status := http.StatusCreated
	if res.AlreadyConfirmed {
		status = http.StatusOK
	}
	h.logger.InfoContext(ctx, "receipt confirmed",
		"request_id", requestID,
		"party_id", party.String(),
		"transfer_id", transferID.String(),
		"receipt_id", res.ReceiptID.String(),
		"already_confirmed", res.AlreadyConfirmed,
	)
	httputil.WriteJSON(w, status, res)
}

// HandleGetUnit handles GET /v1/units/{id}.
func (h *Handler) HandleGetUnit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, err := id.ParseTokenID(pathParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid unit id", err)
		return
	}
	u, err := h.custody.GetUnit(ctx, token)
	if err != nil {
		h.fail(ctx, w, "failed to load unit", err, "token_id", token.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

// HandleSale handles POST /v1/units/{id}/sale. The body is optional.
func (h *Handler) HandleSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, err := id.ParseTokenID(pathParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "invalid unit id", err)
		return
	}
	req := &SaleRequest{}
	if r.ContentLength != 0 {
		var ok bool
		req, ok = httputil.DecodeAndPrepare[SaleRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
		if !ok {
			return
		}
	}
	u, err := h.custody.SellUnit(ctx, token, requestcontext.Party(ctx), req.LedgerTx)
	if err != nil {
		h.fail(ctx, w, "sale failed", err, "token_id", token.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

// HandleRecall handles POST /v1/batches/{batch}/recall.
func (h *Handler) HandleRecall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batch := pathParam(r, "batch")
	res, err := h.custody.RecallBatch(ctx, requestcontext.Party(ctx), batch)
	if err != nil {
		h.fail(ctx, w, "recall failed", err, "batch", batch)
		return
	}
	h.logger.InfoContext(ctx, "batch recalled",
		"request_id", requestcontext.RequestID(ctx),
		"batch", res.BatchNumber,
		"recalled", len(res.Recalled),
		"skipped", len(res.Skipped),
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}
