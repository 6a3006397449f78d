package web

import (
	"net/http"
)

// SecurityHeaders defines the security headers applied to JSON endpoints
type SecurityHeaders struct {
	// Content Security Policy
	CSP string
	// X-Content-Type-Options, prevents MIME sniffing
	XContentTypeOptions string
	// Cache-Control, webhook and health answers are never cacheable
	CacheControl string
	// Referrer-Policy
	ReferrerPolicy string
}

// APISecurityHeaders returns headers for the health and webhook endpoints.
// TLS and HSTS are left to the fronting proxy.
func APISecurityHeaders() *SecurityHeaders {
	return &SecurityHeaders{
		CSP:                 "default-src 'none'; frame-ancestors 'none'",
		XContentTypeOptions: "nosniff",
		CacheControl:        "no-store",
		ReferrerPolicy:      "no-referrer",
	}
}

// SecurityMiddleware wraps an http.Handler with security headers
func SecurityMiddleware(headers *SecurityHeaders) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers.Apply(w)
			next.ServeHTTP(w, r)
		})
	}
}

// Apply sets every non-empty header on w
func (sh *SecurityHeaders) Apply(w http.ResponseWriter) {
	set := func(name, value string) {
		if value != "" {
			w.Header().Set(name, value)
		}
	}
	set("Content-Security-Policy", sh.CSP)
	set("X-Content-Type-Options", sh.XContentTypeOptions)
	set("Cache-Control", sh.CacheControl)
	set("Referrer-Policy", sh.ReferrerPolicy)
}

// LimitBody caps request bodies at maxBytes. Larger bodies fail on read.
func LimitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Chain applies middlewares so the first one listed runs outermost.
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
