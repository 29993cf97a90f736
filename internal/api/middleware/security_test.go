package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	for _, header := range []string{
		"X-Content-Type-Options",
		"X-Frame-Options",
		"Content-Security-Policy",
	} {
		if rec.Header().Get(header) == "" {
			t.Errorf("missing %s header", header)
		}
	}
}

func TestMaxBodySize(t *testing.T) {
	handler := MaxBodySize(64)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/send", strings.NewReader(strings.Repeat("x", 128)))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status %d for oversized body, want 413", rec.Code)
	}
}

func TestValidateRequestRejectsSuspiciousPaths(t *testing.T) {
	handler := ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []string{
		"/lookup/../etc/passwd",
		"/lookup/%3Cscript%3E",
	}
	for _, path := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", path, nil)
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("path %q: status %d, want 400", path, rec.Code)
		}
	}

	// DIDs pass through untouched
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/lookup/did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("DID lookup path rejected with %d", rec.Code)
	}
}

func TestNormalizePath(t *testing.T) {
	if got := normalizePath("/lookup/did:key:z6Mk"); got != "/lookup/:did" {
		t.Fatalf("normalizePath = %q, want /lookup/:did", got)
	}
	if got := normalizePath("/send"); got != "/send" {
		t.Fatalf("normalizePath = %q, want /send", got)
	}
}
