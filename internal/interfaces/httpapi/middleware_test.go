package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireInternalJobToken(t *testing.T) {
	t.Parallel()

	var reached bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})

	t.Run("unconfigured token disables the route", func(t *testing.T) {
		reached = false
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/internal/refresh", nil)
		req.Header.Set("X-Internal-Job-Token", "anything")

		RequireInternalJobToken("", next).ServeHTTP(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		if reached {
			t.Fatalf("handler must not run without a configured token")
		}
	})

	t.Run("missing token", func(t *testing.T) {
		reached = false
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/internal/refresh", nil)

		RequireInternalJobToken("secret", next).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		if reached {
			t.Fatalf("handler must not run without the token")
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		reached = false
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/internal/refresh", nil)
		req.Header.Set("X-Internal-Job-Token", "guess")

		RequireInternalJobToken("secret", next).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		if reached {
			t.Fatalf("handler must not run with a wrong token")
		}
	})

	t.Run("valid token", func(t *testing.T) {
		reached = false
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/internal/refresh", nil)
		req.Header.Set("X-Internal-Job-Token", "secret")

		RequireInternalJobToken("secret", next).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if !reached {
			t.Fatalf("handler must run with the valid token")
		}
	})
}

func TestCORS(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("no origin header passes through", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/sources", nil)

		CORS([]string{"https://app.example.com"}, next).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Fatalf("no CORS headers expected without an Origin")
		}
	})

	t.Run("allowed origin is echoed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/sources", nil)
		req.Header.Set("Origin", "https://app.example.com")

		CORS([]string{"https://app.example.com"}, next).ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Fatalf("allow origin = %q", got)
		}
		if rec.Header().Get("Vary") != "Origin" {
			t.Fatalf("expected Vary: Origin")
		}
	})

	t.Run("wildcard allows any origin", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/sources", nil)
		req.Header.Set("Origin", "https://elsewhere.example.com")

		CORS([]string{"*"}, next).ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("allow origin = %q, want *", got)
		}
	})

	t.Run("disallowed origin gets no CORS headers", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/sources", nil)
		req.Header.Set("Origin", "https://evil.example.com")

		CORS([]string{"https://app.example.com"}, next).ServeHTTP(rec, req)

		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Fatalf("disallowed origin must not receive CORS headers")
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request still served, status = %d", rec.Code)
		}
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/v1/sources", nil)
		req.Header.Set("Origin", "https://app.example.com")

		CORS([]string{"https://app.example.com"}, next).ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("preflight status = %d, want 204", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Methods") == "" {
			t.Fatalf("expected preflight method headers")
		}
	})
}

func TestShouldTraceRequest(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"/healthz", "/health", "/livez", "/readyz"} {
		if shouldTraceRequest(path) {
			t.Fatalf("%s must not be traced", path)
		}
	}
	if !shouldTraceRequest("/v1/entities/search") {
		t.Fatalf("api paths must be traced")
	}
}
