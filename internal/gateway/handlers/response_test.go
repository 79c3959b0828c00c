package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendJSON(t *testing.T) {
	w := httptest.NewRecorder()
	SendJSON(w, http.StatusCreated, map[string]string{"id": "a1"})

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["id"] != "a1" {
		t.Errorf("body = %v", body)
	}
}

func TestSendJSONNilBody(t *testing.T) {
	w := httptest.NewRecorder()
	SendJSON(w, http.StatusAccepted, nil)
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", w.Body.String())
	}
}

func TestSendError(t *testing.T) {
	w := httptest.NewRecorder()
	SendError(w, http.StatusConflict, ErrCodeConflict, "already resolved")

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != ErrCodeConflict || resp.Error.Message != "already resolved" {
		t.Errorf("unexpected error body: %+v", resp)
	}
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Decision string `json:"decision"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"decision":"approved"}`))
	var b body
	if err := DecodeJSON(r, &b); err != nil || b.Decision != "approved" {
		t.Errorf("DecodeJSON = %+v, %v", b, err)
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"decision":"approved","extra":1}`))
	if err := DecodeJSON(r, &b); err == nil {
		t.Error("unknown field should be rejected")
	}
}

func TestHealthHandler(t *testing.T) {
	InitStartTime()

	t.Run("ok", func(t *testing.T) {
		w := httptest.NewRecorder()
		HealthHandler("1.2.3", HealthCheck{Name: "storage", Check: func() error { return nil }}).
			ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
		var resp HealthResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Status != "ok" || resp.Version != "1.2.3" || resp.Components["storage"] != "ok" {
			t.Errorf("unexpected response: %+v", resp)
		}
	})

	t.Run("degraded", func(t *testing.T) {
		w := httptest.NewRecorder()
		HealthHandler("1.2.3", HealthCheck{Name: "storage", Check: func() error { return errors.New("locked") }}).
			ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", w.Code)
		}
		var resp HealthResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Status != "degraded" || resp.Components["storage"] != "locked" {
			t.Errorf("unexpected response: %+v", resp)
		}
	})
}
