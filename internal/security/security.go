// Package security holds HTTP hardening middleware for the tax API.
package security

import (
	"net/http"

	"github.com/noah-isme/taxinput/internal/common"
)

// DefaultMaxBody bounds compute requests, which carry two amounts.
const DefaultMaxBody = 4 << 10

// BodyLimit caps request payloads, answering 413 when exceeded.
type BodyLimit struct {
	Max int64
}

// Middleware rejects declared oversized bodies up front and caps the rest while they are read.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	limit := b.Max
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > limit {
			TooLarge(w, limit)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

// TooLarge writes the canonical 413 error body.
func TooLarge(w http.ResponseWriter, limit int64) {
	common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", map[string]any{"max_bytes": limit})
}

// Headers sets response headers for API traffic. Record listings include IC
// numbers, so responses are never cached.
type Headers struct {
	HSTS bool
}

// Middleware attaches the headers before delegating.
func (h Headers) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "no-referrer")
		headers.Set("Cache-Control", "no-store")
		if h.HSTS && r.TLS != nil {
			headers.Set("Strict-Transport-Security", "max-age=31536000")
		}
		next.ServeHTTP(w, r)
	})
}
