package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Header carries the client supplied key.
const Header = "Idempotency-Key"

// ReplayHeader marks responses served from the store.
const ReplayHeader = "Idempotent-Replayed"

const maxBody = 1 << 20

// Middleware replays the recorded response when a request repeats an
// Idempotency-Key. scope namespaces keys per caller; requests without the
// header pass through untouched. Server errors release the key so the client
// may retry.
func Middleware(store *Store, scope func(*http.Request) string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := strings.TrimSpace(r.Header.Get(Header))
			if clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(clientKey) > MaxKeyLength {
				writeError(w, http.StatusBadRequest, "invalid_idempotency_key", "idempotency key too long")
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
			if err != nil || len(body) > maxBody {
				writeError(w, http.StatusBadRequest, "bad_request", "unreadable request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := r.Method + " " + r.URL.Path + "\x00" + clientKey
			if scope != nil {
				key = scope(r) + "\x00" + key
			}
			fingerprint := digest(body)

			state, recorded, err := store.Reserve(key, fingerprint)
			if err != nil {
				logger.Error("idempotency reserve failed", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusServiceUnavailable, "idempotency_unavailable", "idempotency store unavailable")
				return
			}
			switch state {
			case StatePending:
				writeError(w, http.StatusConflict, "idempotency_in_progress", "a request with this idempotency key is in flight")
				return
			case StateDone:
				if recorded.Fingerprint != fingerprint {
					writeError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", "idempotency key reused with a different request")
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(ReplayHeader, "true")
				w.WriteHeader(recorded.Status)
				_, _ = w.Write(recorded.Body)
				return
			}

			rec := &capture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status >= http.StatusInternalServerError {
				if err := store.Release(key); err != nil {
					logger.Error("idempotency release failed", "path", r.URL.Path, "error", err)
				}
				return
			}
			err = store.Complete(key, Response{Status: rec.status, Body: rec.body.Bytes(), Fingerprint: fingerprint})
			if err != nil {
				logger.Error("idempotency record failed", "path", r.URL.Path, "status", rec.status, "error", err)
			}
		})
	}
}

type capture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capture) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *capture) Write(p []byte) (int, error) {
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

func digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
