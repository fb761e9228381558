package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/careviah/caregiver/internal/api/models"
)

// Recovery returns a middleware that turns a handler panic into a 500
// problem response. If the handler already started the response, the
// connection is left for net/http to abort instead.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := newStatusWriter(w)

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				requestID := GetRequestID(r.Context())
				event := log.Error().
					Str("request_id", requestID).
					Str("method", r.Method).
					Str("route", routePattern(r)).
					Interface("error", rec).
					Bytes("stack", debug.Stack())
				if visitID := urlParam(r, "visitId"); visitID != "" {
					event = event.Str("visit_id", visitID)
				}
				event.Msg("panic recovered")

				span := trace.SpanFromContext(r.Context())
				span.SetStatus(codes.Error, fmt.Sprint(rec))

				if sw.headerSent {
					panic(http.ErrAbortHandler)
				}
				problem := models.NewInternalError(requestID, "an unexpected error occurred")
				problem.Instance = r.URL.Path
				problem.Write(sw)
			}()

			next.ServeHTTP(sw, r)
		})
	}
}
