package httptransport

import (
	"net/http"
	"time"

	"pharmatrace/pkg/platform/httputil"
	"pharmatrace/pkg/requestcontext"
)

// HandleSettlement handles POST /v1/operator/transfers/{id}/settlement, the
// ledger gateway callback reporting a mined handoff.
func (h *Handler) HandleSettlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	transferID, err := transferIDParam(r)
	if err != nil {
		h.fail(ctx, w, "invalid transfer id", err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[SettlementRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.custody.SettleTransfer(ctx, transferID, req.TxRef)
	h.writeSettlement(ctx, w, transferID, res, err, "settlement failed", start)
}

// HandleSettlePending handles POST /v1/operator/ledger-settlement.
func (h *Handler) HandleSettlePending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settled, err := h.custody.SettlePending(ctx)
	if err != nil {
		h.fail(ctx, w, "pending settlement sweep failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"settled": settled})
}

// HandleExpire handles POST /v1/operator/expiry.
func (h *Handler) HandleExpire(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	expired, err := h.custody.ExpireUnits(ctx)
	if err != nil {
		h.fail(ctx, w, "expiry sweep failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"expired": expired, "count": len(expired)})
}
