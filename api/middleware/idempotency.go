package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/plm/crossbridge/apperr"
	"github.com/plm/crossbridge/idempotency"
)

// Idempotent wraps a mutating handler with exactly-once replay semantics
// keyed by (endpoint, user, Idempotency-Key). endpoint should be a short
// stable name such as "initiate" or "confirm", not the URL path.
func Idempotent(store *idempotency.Store, endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		parsed, err := uuid.Parse(key)
		if err != nil || parsed.Version() != 4 {
			WriteError(w, apperr.New(apperr.InvalidIdempotencyKey, "Idempotency-Key header must be a UUID-v4"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			WriteError(w, apperr.New(apperr.InvalidInput, "failed to read request body"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		user := UserID(r)
		outcome, rec, err := store.Check(r.Context(), endpoint, user, key, body)
		if err != nil {
			WriteError(w, err)
			return
		}

		switch outcome {
		case idempotency.Replay:
			for k, v := range rec.Headers {
				w.Header().Set(k, v)
			}
			w.Header().Set("Idempotent-Replayed", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.Status)
			w.Write(rec.Body)
			return
		case idempotency.Conflict:
			WriteError(w, apperr.New(apperr.IdempotencyConflict, "idempotency key reused with a different request body"))
			return
		}

		rw := &recordingWriter{ResponseWriter: w, status: http.StatusOK, header: make(http.Header)}
		next(rw, r)

		headers := map[string]string{}
		for k := range rw.header {
			headers[k] = rw.header.Get(k)
		}
		store.Store(r.Context(), endpoint, user, key, body, rw.status, headers, rw.body.Bytes())
	}
}

// recordingWriter buffers the response so it can be persisted for replay
// after next has already written it to the real ResponseWriter.
type recordingWriter struct {
	http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(status int) {
	w.status = status
	for k, v := range w.ResponseWriter.Header() {
		w.header[k] = v
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
