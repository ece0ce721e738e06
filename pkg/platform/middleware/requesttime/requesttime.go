// Package requesttime pins one "now" per HTTP request so every step of a use
// case stamps the same instant.
package requesttime

import (
	"net/http"
	"time"

	"pharmatrace/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
