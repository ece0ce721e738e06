package httptransport

import (
	"net/http"
	"time"

	"pharmatrace/pkg/platform/httputil"
	"pharmatrace/pkg/requestcontext"
)

// HandleProvenance handles GET /v1/provenance/{identifier}.
func (h *Handler) HandleProvenance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	identifier := pathParam(r, "identifier")
	p, err := h.provenance.Reconstruct(ctx, identifier)
	if err != nil {
		h.fail(ctx, w, "provenance lookup failed", err, "identifier", identifier)
		return
	}
	h.logger.InfoContext(ctx, "provenance reconstructed",
		"request_id", requestcontext.RequestID(ctx),
		"token_id", p.Unit.TokenID.String(),
		"stages", len(p.Journey),
		"warnings", len(p.DataQuality),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, p)
}
