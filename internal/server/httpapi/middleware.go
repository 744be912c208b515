package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/michalmalinowski87/photovault/internal/common"
	"github.com/michalmalinowski87/photovault/internal/logging"
	"github.com/michalmalinowski87/photovault/internal/server/auth"
)

type ctxKey int

const ownerKey ctxKey = iota

// ownerFrom returns the authenticated caller id stored by the auth
// middleware. Empty only for routes that bypass auth.
func ownerFrom(ctx context.Context) string {
	id, _ := ctx.Value(ownerKey).(string)
	return id
}

// Auth validates the bearer token and stores the caller id in the request
// context.
func Auth(secretKey []byte, logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(common.AccessTokenHeaderName)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeUnauthorized(w)
				return
			}

			userID, err := auth.GetUserIDFromToken(token, secretKey)
			if err != nil {
				logger.Debug(r.Context(), "token rejected", "error", err)
				writeUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), ownerKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":{"code":"Unauthorized","message":"missing or invalid bearer token"}}`))
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLog logs one line per request with method, path, status and
// duration.
func RequestLog(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info(r.Context(), "request",
				"method", r.Method, "path", r.URL.Path,
				"status", rec.status, "duration", time.Since(start).String())
		})
	}
}
