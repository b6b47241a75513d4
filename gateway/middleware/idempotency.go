package middleware

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"janus/crypto"
	"janus/gateway/idempotency"
	"janus/observability"
)

// IdempotencyHeader names the client supplied replay key.
const IdempotencyHeader = "Idempotency-Key"

// ReplayedHeader is set on responses served from the store.
const ReplayedHeader = "Idempotent-Replayed"

// Idempotency replays the stored response of a previous mutation carrying the
// same Idempotency-Key. Keys are scoped to the caller; reusing a key for a
// different request fails with 422. Server errors are never stored.
type Idempotency struct {
	store  idempotency.Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	inflight sync.Map
}

func NewIdempotency(store idempotency.Store, ttl time.Duration, logger *slog.Logger) *Idempotency {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Idempotency{store: store, ttl: ttl, logger: logger, now: time.Now}
}

func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
		if i == nil || i.store == nil || key == "" || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > 128 {
			writeError(w, http.StatusBadRequest, "invalid_idempotency_key", "idempotency key too long")
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "unable to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		scoped := key
		if caller, ok := CallerFromContext(r.Context()); ok {
			scoped = crypto.FormatAddress(caller) + ":" + key
		}
		if _, busy := i.inflight.LoadOrStore(scoped, struct{}{}); busy {
			writeError(w, http.StatusConflict, "idempotency_in_progress", "a request with this idempotency key is in progress")
			return
		}
		defer i.inflight.Delete(scoped)

		fingerprint := idempotency.Fingerprint(r.Method, r.URL.Path, body)
		metrics := observability.Idempotency()

		record, err := i.store.Get(r.Context(), scoped, i.now())
		switch {
		case err == nil:
			if record.Fingerprint != fingerprint {
				metrics.RecordLookup("conflict")
				writeError(w, http.StatusUnprocessableEntity, "idempotency_conflict", "idempotency key reused with a different request")
				return
			}
			metrics.RecordLookup("hit")
			if record.ContentType != "" {
				w.Header().Set("Content-Type", record.ContentType)
			}
			w.Header().Set(ReplayedHeader, "true")
			w.WriteHeader(record.Status)
			_, _ = w.Write(record.Body)
			return
		case errors.Is(err, idempotency.ErrNotFound):
			metrics.RecordLookup("miss")
		default:
			i.logger.Error("idempotency lookup failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "idempotency_unavailable", "idempotency store unavailable")
			return
		}

		recorder := &captureRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		if recorder.status >= http.StatusInternalServerError {
			return
		}
		now := i.now()
		stored := &idempotency.Record{
			Key:         scoped,
			RequestID:   RequestIDFromContext(r.Context()),
			Fingerprint: fingerprint,
			Method:      r.Method,
			Path:        r.URL.Path,
			Status:      recorder.status,
			ContentType: recorder.Header().Get("Content-Type"),
			Body:        recorder.buf.Bytes(),
			CreatedAt:   now,
			ExpiresAt:   now.Add(i.ttl),
		}
		if err := i.store.Put(r.Context(), stored); err != nil {
			i.logger.Error("idempotency store failed", "error", err, "key", key)
		}
	})
}

// captureRecorder tees the response into a buffer.
type captureRecorder struct {
	http.ResponseWriter
	buf         bytes.Buffer
	status      int
	wroteHeader bool
}

func (rr *captureRecorder) WriteHeader(status int) {
	if !rr.wroteHeader {
		rr.status = status
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *captureRecorder) Write(b []byte) (int, error) {
	rr.wroteHeader = true
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}
