package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/MrEthical07/authsession/internal/logger"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// Recover turns a panic into a 500 and reports it to Sentry. Without an
// initialized Sentry client the report is a no-op.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			hub := sentry.CurrentHub().Clone()
			hub.WithScope(func(scope *sentry.Scope) {
				scope.SetRequest(r)
				scope.SetTag("request_id", RequestIDFromContext(r.Context()))
				scope.SetExtra("stack", string(debug.Stack()))
				hub.CaptureException(fmt.Errorf("panic: %v", rec))
			})

			logger.From(r.Context()).Error("panic recovered",
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			writeError(w, http.StatusInternalServerError, "internal")
		}()

		next.ServeHTTP(w, r)
	})
}
