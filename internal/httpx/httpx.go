// Package httpx holds small HTTP helpers shared by the broker's front ends.
package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// WriteJSONError emits a minimal JSON error body for transport-level
// rejections. Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || strings.HasPrefix(ct, "application/json") {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// CORS configures the cross-origin policy applied in front of both front
// ends. AllowOrigins supports the "*" wildcard, which echoes the caller's
// origin so credentialed requests still work.
type CORS struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       int64
}

func (c *CORS) originAllowed(origin string) (string, bool) {
	for _, o := range c.AllowOrigins {
		if o == "*" {
			if origin == "" {
				return "*", true
			}
			return origin, true
		}
		if o == origin {
			return origin, true
		}
	}
	return "", false
}

// Middleware wraps next with CORS header handling; OPTIONS preflights are
// answered directly.
func (c *CORS) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.setHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *CORS) setHeaders(w http.ResponseWriter, r *http.Request) {
	if c == nil || len(c.AllowOrigins) == 0 {
		return
	}
	if allowed, ok := c.originAllowed(r.Header.Get("Origin")); ok {
		w.Header().Set("Access-Control-Allow-Origin", allowed)
	}
	if len(c.AllowMethods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(c.AllowMethods, ", "))
	}
	if len(c.AllowHeaders) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(c.AllowHeaders, ", "))
	}
	if c.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", strconv.FormatInt(c.MaxAge, 10))
	}
}
