// Package auth resolves the calling party. Authentication happens at the
// upstream gateway, which forwards the verified party in X-Party-ID.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	id "pharmatrace/pkg/domain"
	request "pharmatrace/pkg/platform/middleware/request"
	"pharmatrace/pkg/requestcontext"
)

const HeaderPartyID = "X-Party-ID"

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireParty rejects requests without a well-formed X-Party-ID and stores
// the party in the request context.
func RequireParty(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw := r.Header.Get(HeaderPartyID)
			if raw == "" {
				logger.WarnContext(ctx, "unauthorized access - missing party",
					"request_id", request.GetRequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing X-Party-ID header")
				return
			}
			party, err := id.ParsePartyID(raw)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid party",
					"error", err,
					"request_id", request.GetRequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid X-Party-ID header")
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithParty(ctx, party)))
		})
	}
}
