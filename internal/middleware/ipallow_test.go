package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"munportal/internal/logging"
)

func TestIPAllow_RejectsOutsideCIDR(t *testing.T) {
	mw, err := IPAllow(logging.Nop(), []string{"10.0.0.0/8"}, nil)
	if err != nil {
		t.Fatalf("IPAllow error: %v", err)
	}

	called := false
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.RemoteAddr = "192.168.1.2:12345"

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if called {
		t.Fatal("next handler must not run for a rejected ip")
	}
}

func TestIPAllow_AllowsInsideCIDR(t *testing.T) {
	mw, err := IPAllow(logging.Nop(), []string{"10.0.0.0/8"}, nil)
	if err != nil {
		t.Fatalf("IPAllow error: %v", err)
	}

	called := false
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.RemoteAddr = "10.1.2.3:12345"

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !called {
		t.Fatalf("expected next handler to be called for allowed IP")
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestIPAllow_IgnoresHeadersFromUntrustedPeer(t *testing.T) {
	mw, err := IPAllow(logging.Nop(), []string{"10.0.0.0/8"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for _, header := range []string{"X-Forwarded-For", "X-Real-IP", "True-Client-IP"} {
		t.Run(header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
			req.RemoteAddr = "192.168.1.5:4000"
			req.Header.Set(header, "10.1.2.3")

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != http.StatusNotFound {
				t.Fatalf("expected status 404, got %d", rr.Code)
			}
		})
	}
}

func TestIPAllow_TrustedProxy(t *testing.T) {
	mw, err := IPAllow(logging.Nop(), []string{"10.0.0.0/8"}, []string{"172.16.0.0/12"})
	if err != nil {
		t.Fatal(err)
	}
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	tests := []struct {
		name     string
		xff      string
		realIP   string
		wantCode int
	}{
		{"forwarded client inside", "10.9.9.9", "", http.StatusOK},
		{"forwarded client outside", "192.168.1.2", "", http.StatusNotFound},
		{"spoofed leftmost hop", "10.9.9.9, 192.168.1.2", "", http.StatusNotFound},
		{"trusted hops skipped", "10.9.9.9, 172.16.0.7", "", http.StatusOK},
		{"real ip header", "", "10.4.4.4", http.StatusOK},
		{"no headers uses proxy address", "", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
			req.RemoteAddr = "172.16.0.1:4000"
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.wantCode {
				t.Fatalf("expected status %d, got %d", tt.wantCode, rr.Code)
			}
		})
	}
}

func TestIPAllow_EmptyAllowsAll(t *testing.T) {
	mw, err := IPAllow(logging.Nop(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	called := false
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("expected pass through")
	}
}

func TestIPAllow_InvalidCIDR(t *testing.T) {
	if _, err := IPAllow(logging.Nop(), []string{"not-a-cidr"}, nil); err == nil {
		t.Fatal("expected error for invalid cidr")
	}
	if _, err := IPAllow(logging.Nop(), []string{"10.0.0.0/8"}, []string{"proxy"}); err == nil {
		t.Fatal("expected error for invalid trusted proxy cidr")
	}
}
