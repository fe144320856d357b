package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods  = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsAllowHeaders  = "Content-Type, Authorization, X-Requested-With, " + RequestIDHeader
	corsExposeHeaders = RequestIDHeader
)

// CORSMiddleware handles Cross-Origin Resource Sharing for the dashboard and API clients
type CORSMiddleware struct {
	origins map[string]struct{}
}

// NewCORSMiddleware creates a CORS middleware.
// No origins (or a "*" entry) allows any origin.
func NewCORSMiddleware(allowedOrigins ...string) *CORSMiddleware {
	c := &CORSMiddleware{}
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if o == "*" {
			return &CORSMiddleware{}
		}
		if c.origins == nil {
			c.origins = make(map[string]struct{})
		}
		c.origins[o] = struct{}{}
	}
	return c
}

func (c *CORSMiddleware) allowed(origin string) bool {
	if c.origins == nil {
		return true
	}
	_, ok := c.origins[origin]
	return ok
}

// Wrap wraps an http.Handler with CORS headers.
// Preflight requests are answered here and never reach next.
func (c *CORSMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Add("Vary", "Origin")
		ok := c.allowed(origin)
		if ok {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if !ok {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
