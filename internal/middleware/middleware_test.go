package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"

	"munportal/internal/logging"
)

func TestChain(t *testing.T) {
	var calls []string

	m1 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls = append(calls, "m1-before")
			next.ServeHTTP(w, r)
			calls = append(calls, "m1-after")
		})
	}
	m2 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls = append(calls, "m2-before")
			next.ServeHTTP(w, r)
			calls = append(calls, "m2-after")
		})
	}
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "handler")
	})

	h := Chain(final, m1, m2)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	expected := []string{
		"m1-before",
		"m2-before",
		"handler",
		"m2-after",
		"m1-after",
	}
	if len(calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d", len(expected), len(calls))
	}
	for i := range expected {
		if calls[i] != expected[i] {
			t.Errorf("at %d: expected %q, got %q", i, expected[i], calls[i])
		}
	}
}

type staticAuth bool

func (a staticAuth) Authenticated(context.Context) bool { return bool(a) }

func TestRequireSession(t *testing.T) {
	tests := []struct {
		name     string
		auth     bool
		wantCode int
	}{
		{"authenticated", true, http.StatusOK},
		{"anonymous", false, http.StatusSeeOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireSession(staticAuth(tt.auth), "/secretariat-7f3a", logging.Nop())(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/priority/registrations", nil))

			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if !tt.auth && rr.Header().Get("Location") != "/secretariat-7f3a" {
				t.Errorf("Location = %q", rr.Header().Get("Location"))
			}
		})
	}
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	h := chimw.RequestID(AccessLog(logging.NewWithWriter(&buf, "info"))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	out := buf.String()
	for _, want := range []string{`"path":"/healthz"`, `"status":418`, `"method":"GET"`, `"request_id":"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %s", out, want)
		}
	}
}
