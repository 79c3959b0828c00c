package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"conduit/internal/approval"
)

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func waitSubscribers(t *testing.T, hub *Hub, session string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(session) != n {
		if time.Now().After(deadline) {
			t.Fatalf("Subscribers(%q) = %d, want %d", session, hub.Subscribers(session), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClient_PingPong(t *testing.T) {
	hub := startHub(t)
	conn := dial(t, hub)

	conn.WriteJSON(WSMessage{Type: TypePing})
	if env := readEnvelope(t, conn); env.Type != TypePong {
		t.Errorf("type = %q, want pong", env.Type)
	}
}

func TestClient_SubscribeReceivesBroadcast(t *testing.T) {
	hub := startHub(t)
	conn := dial(t, hub)

	conn.WriteJSON(WSMessage{Type: TypeSubscribe, Session: "s1"})
	waitSubscribers(t, hub, "s1", 1)

	hub.BroadcastToSession("s1", TypeTaskStatus, map[string]string{"state": "working"})

	env := readEnvelope(t, conn)
	if env.Type != TypeTaskStatus || env.Session != "s1" {
		t.Errorf("got %+v", env)
	}
}

func TestClient_InvalidMessages(t *testing.T) {
	hub := startHub(t)
	conn := dial(t, hub)

	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	if env := readEnvelope(t, conn); env.Code != CodeInvalidMessage {
		t.Errorf("code = %q, want %q", env.Code, CodeInvalidMessage)
	}

	conn.WriteJSON(WSMessage{Type: "bogus"})
	if env := readEnvelope(t, conn); env.Code != CodeInvalidMessage {
		t.Errorf("code = %q, want %q", env.Code, CodeInvalidMessage)
	}

	conn.WriteJSON(WSMessage{Type: TypeSubscribe})
	if env := readEnvelope(t, conn); env.Code != CodeInvalidRequest {
		t.Errorf("code = %q, want %q", env.Code, CodeInvalidRequest)
	}
}

func TestClient_ApprovalResponse(t *testing.T) {
	hub := startHub(t)

	var (
		mu  sync.Mutex
		got ApprovalResponse
	)
	hub.SetApprovalHandler(func(ctx context.Context, resp ApprovalResponse) error {
		switch resp.RequestID {
		case "late":
			return approval.ErrAlreadyResolved
		case "missing":
			return approval.ErrRequestNotFound
		case "broken":
			return errors.New("boom")
		}
		mu.Lock()
		got = resp
		mu.Unlock()
		return nil
	})
	conn := dial(t, hub)

	tests := []struct {
		name     string
		msg      WSMessage
		wantType string
		wantCode string
	}{
		{"approved", WSMessage{Type: TypeApprovalResponse, RequestID: "r1", Decision: "yes", By: "alice"}, TypeAck, ""},
		{"no request id", WSMessage{Type: TypeApprovalResponse, Decision: "approved"}, TypeError, CodeInvalidRequest},
		{"bad decision", WSMessage{Type: TypeApprovalResponse, RequestID: "r1", Decision: "maybe"}, TypeError, CodeInvalidRequest},
		{"late", WSMessage{Type: TypeApprovalResponse, RequestID: "late", Decision: "denied"}, TypeError, CodeAlreadyResolved},
		{"unknown", WSMessage{Type: TypeApprovalResponse, RequestID: "missing", Decision: "denied"}, TypeError, CodeNotFound},
		{"handler failure", WSMessage{Type: TypeApprovalResponse, RequestID: "broken", Decision: "denied"}, TypeError, CodeApprovalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteJSON(tt.msg); err != nil {
				t.Fatalf("write: %v", err)
			}
			env := readEnvelope(t, conn)
			if env.Type != tt.wantType || env.Code != tt.wantCode {
				t.Errorf("got type=%q code=%q, want type=%q code=%q", env.Type, env.Code, tt.wantType, tt.wantCode)
			}
		})
	}

	mu.Lock()
	defer mu.Unlock()
	if got.RequestID != "r1" || got.By != "alice" || got.Decision != "yes" {
		t.Errorf("handler received %+v", got)
	}
}

func TestClient_ApprovalResponseDefaultsResolver(t *testing.T) {
	hub := startHub(t)
	by := make(chan string, 1)
	hub.SetApprovalHandler(func(ctx context.Context, resp ApprovalResponse) error {
		by <- resp.By
		return nil
	})
	conn := dial(t, hub)

	conn.WriteJSON(WSMessage{Type: TypeApprovalResponse, RequestID: "r1", Decision: "approved"})
	readEnvelope(t, conn)

	if who := <-by; !strings.HasPrefix(who, "ws:") {
		t.Errorf("by = %q, want ws: prefix", who)
	}
}

func TestClient_Chat(t *testing.T) {
	hub := startHub(t)
	var (
		mu            sync.Mutex
		session, text string
	)
	hub.SetChatHandler(func(ctx context.Context, sessionID, msg string) (string, error) {
		if msg == "fail" {
			return "", errors.New("queue closed")
		}
		mu.Lock()
		session, text = sessionID, msg
		mu.Unlock()
		return "m1", nil
	})
	conn := dial(t, hub)

	conn.WriteJSON(WSMessage{Type: TypeChat, Session: "s1", Message: "hello"})
	env := readEnvelope(t, conn)
	if env.Type != TypeAck || env.Session != "s1" || !strings.Contains(string(env.Data), "m1") {
		t.Errorf("got %+v", env)
	}
	mu.Lock()
	if session != "s1" || text != "hello" {
		t.Errorf("handler got %q/%q", session, text)
	}
	mu.Unlock()
	if hub.Subscribers("s1") != 1 {
		t.Error("chat should subscribe the client to its session")
	}

	conn.WriteJSON(WSMessage{Type: TypeChat, Session: "s1"})
	if env := readEnvelope(t, conn); env.Code != CodeInvalidRequest {
		t.Errorf("code = %q, want %q", env.Code, CodeInvalidRequest)
	}

	conn.WriteJSON(WSMessage{Type: TypeChat, Session: "s1", Message: "fail"})
	if env := readEnvelope(t, conn); env.Code != CodeChatError {
		t.Errorf("code = %q, want %q", env.Code, CodeChatError)
	}
}

func TestClient_ChatWithoutHandler(t *testing.T) {
	hub := startHub(t)
	conn := dial(t, hub)

	conn.WriteJSON(WSMessage{Type: TypeChat, Message: "hi"})
	if env := readEnvelope(t, conn); env.Code != CodeChatError {
		t.Errorf("code = %q, want %q", env.Code, CodeChatError)
	}
}

func TestServeWs_RejectsOrigin(t *testing.T) {
	hub := startHub(t)
	hub.SetAllowedOrigins([]string{"http://good.example"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("resp = %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://good.example"}})
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	conn.Close()
}
