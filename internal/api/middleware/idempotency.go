package middleware

import (
	"bytes"
	"io"
	"net/http"

	apierrors "github.com/dxcp/dxcp/internal/api/errors"
	"github.com/dxcp/dxcp/internal/idempotency"
)

// IdempotencyMiddleware enforces idempotent replay semantics for
// mutating routes: every mutation must carry an
// Idempotency-Key header; a replayed key with a matching fingerprint
// short-circuits with the cached response, a matching-but-in-flight key
// is rejected, and a mismatched fingerprint is a conflict. The wrapped
// handler's response is captured via a ResponseRecorder-like shim so it
// can be persisted by Complete once the handler returns.
func IdempotencyMiddleware(store *idempotency.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				apierrors.WriteError(w, apierrors.IdempotencyKeyRequired().WithRequestID(GetRequestID(r.Context())))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidRequest, "could not read request body").WithRequestID(GetRequestID(r.Context())))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			principal := getClientID(r)
			fingerprint := idempotency.Fingerprint(r.Method, r.URL.Path, body)

			record, replay, err := store.Begin(r.Context(), principal, key, fingerprint)
			if err != nil {
				writeIdempotencyError(w, r, err)
				return
			}

			if replay {
				for name, value := range record.Headers {
					w.Header().Set(name, value)
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(IdempotencyReplayedHeader, "true")
				w.WriteHeader(record.ResponseCode)
				_, _ = w.Write(record.ResponseBody)
				return
			}

			rec := newResponseRecorder(w)
			next.ServeHTTP(rec, r)

			headers := map[string]string{}
			if ct := rec.Header().Get("Content-Type"); ct != "" {
				headers["Content-Type"] = ct
			}
			_ = store.Complete(r.Context(), principal, key, rec.status, rec.body.Bytes(), headers)
		})
	}
}

func writeIdempotencyError(w http.ResponseWriter, r *http.Request, err error) {
	switch err.(type) {
	case *idempotency.ErrConflict:
		apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeConflict, err.Error()).WithRequestID(GetRequestID(r.Context())))
	case *idempotency.ErrInFlight:
		apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeConflict, err.Error()).WithRequestID(GetRequestID(r.Context())))
	default:
		apierrors.WriteError(w, apierrors.InternalError("idempotency check failed").WithRequestID(GetRequestID(r.Context())))
	}
}

// responseRecorder buffers the wrapped handler's response so it can be
// persisted by IdempotencyMiddleware after the handler returns, the
// same status-capturing ResponseWriter wrapper shape used by the
// logging middleware.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
