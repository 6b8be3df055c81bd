package middleware

import (
	"log/slog"
	"net/http"

	"github.com/mtarek-dev/partyhost/pkg/validate"
)

// NewConnectionLimiter bounds websocket upgrade attempts per client IP with
// a sliding window, absorbing reconnect storms from a single misbehaving
// client without touching everyone else.
func NewConnectionLimiter(logger *slog.Logger, limiter *validate.SlidingWindow) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if !limiter.Allow(reqMeta.IP) {
				logger.Warn("Connection attempt limit reached", slog.String("ip", reqMeta.IP))
				http.Error(w, "Too Many Connection Attempts", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
