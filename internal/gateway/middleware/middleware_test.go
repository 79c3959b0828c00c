package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"conduit/internal/gateway/handlers"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCORS(t *testing.T) {
	handler := CORS(okHandler)

	t.Run("sets CORS headers", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		if w.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Error("missing Access-Control-Allow-Origin header")
		}
		if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), ProtocolVersionHeader) {
			t.Error("protocol version header should be allowed")
		}
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	})

	t.Run("handles preflight OPTIONS request", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/", nil))
		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
		}
	})
}

func TestLoggingAssignsRequestID(t *testing.T) {
	var seen string
	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if seen == "" {
		t.Fatal("request id not in context")
	}
	if w.Header().Get(RequestIDHeader) != seen {
		t.Errorf("response id = %q, context id = %q", w.Header().Get(RequestIDHeader), seen)
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if seen != "caller-id" {
		t.Errorf("caller id not kept: %q", seen)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Errorf("clientIP = %q", got)
	}
	req.Header.Set("X-Real-IP", "10.0.0.2")
	if got := clientIP(req); got != "10.0.0.2" {
		t.Errorf("clientIP = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "10.0.0.3")
	if got := clientIP(req); got != "10.0.0.3" {
		t.Errorf("clientIP = %q", got)
	}
}

func TestRecovery(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var resp handlers.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != handlers.ErrCodeInternalError {
		t.Errorf("code = %q", resp.Error.Code)
	}
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Enabled: true, RequestsPerMinute: 60, Burst: 3})
	defer rl.Stop()

	now := time.Now()
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		allowed, remaining, _ := rl.Allow("a")
		if !allowed || remaining != 2-i {
			t.Errorf("request %d: allowed=%v remaining=%d", i+1, allowed, remaining)
		}
	}
	if allowed, _, _ := rl.Allow("a"); allowed {
		t.Error("4th request should be denied")
	}
	if allowed, _, _ := rl.Allow("b"); !allowed {
		t.Error("other clients have their own bucket")
	}

	now = now.Add(time.Second)
	if allowed, _, _ := rl.Allow("a"); !allowed {
		t.Error("one token should refill after a second")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Enabled: true, RequestsPerMinute: 60, Burst: 1})
	defer rl.Stop()
	handler := rl.RateLimit(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.1.1:1"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Header().Get("X-RateLimit-Limit") != "60" {
		t.Errorf("first request: %d %v", w.Code, w.Header())
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	rl.Stop()
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Enabled: false, Burst: 1})
	defer rl.Stop()
	for i := 0; i < 10; i++ {
		if allowed, _, _ := rl.Allow("a"); !allowed {
			t.Fatal("disabled limiter denied a request")
		}
	}
}

func TestNegotiator(t *testing.T) {
	n, err := NewNegotiator(VersionConfig{Current: "1.2.0", Accept: ">= 1.0.0, < 2.0.0", Deprecated: "< 1.1.0"})
	if err != nil {
		t.Fatalf("NewNegotiator: %v", err)
	}

	var negotiated string
	handler := n.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		negotiated = ProtocolVersionFrom(r.Context()).String()
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		status     int
		negotiated string
		deprecated bool
	}{
		{"no header uses current", "", http.StatusOK, "1.2.0", false},
		{"short form", "1", http.StatusOK, "1.0.0", true},
		{"exact", "1.1.3", http.StatusOK, "1.1.3", false},
		{"too new", "2.0.0", http.StatusNotAcceptable, "", false},
		{"garbage", "one", http.StatusBadRequest, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			negotiated = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(ProtocolVersionHeader, tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if negotiated != tt.negotiated {
				t.Errorf("negotiated = %q, want %q", negotiated, tt.negotiated)
			}
			if w.Header().Get(ProtocolVersionHeader) != "1.2.0" {
				t.Errorf("server version header = %q", w.Header().Get(ProtocolVersionHeader))
			}
			if (w.Header().Get("Deprecation") == "true") != tt.deprecated {
				t.Errorf("deprecation header = %q", w.Header().Get("Deprecation"))
			}
		})
	}
}

func TestNewNegotiatorRejectsBadConfig(t *testing.T) {
	cases := []VersionConfig{
		{Current: "x", Accept: ">= 1"},
		{Current: "1.0.0", Accept: "!!"},
		{Current: "3.0.0", Accept: "< 2.0.0"},
	}
	for _, c := range cases {
		if _, err := NewNegotiator(c); err == nil {
			t.Errorf("expected error for %+v", c)
		}
	}
}
