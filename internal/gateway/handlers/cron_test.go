package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"conduit/internal/cron"
	"conduit/internal/queue"
	"conduit/internal/storage"
)

type recordingEnqueuer struct {
	sessions []string
}

func (e *recordingEnqueuer) Enqueue(sessionID string, parts []queue.Part, kind queue.Kind, metadata map[string]any) (*queue.QueuedMessage, error) {
	e.sessions = append(e.sessions, sessionID)
	return &queue.QueuedMessage{ID: uuid.NewString(), SessionID: sessionID, Parts: parts, Kind: kind}, nil
}

func setupCronHandler(t *testing.T) (*mux.Router, *recordingEnqueuer) {
	t.Helper()
	db, err := storage.Open(storage.MemoryPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	enq := &recordingEnqueuer{}
	scheduler := cron.NewScheduler(cron.NewJobStore(db.DB), cron.NewHistoryStore(db.DB), enq, nil)
	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}
	t.Cleanup(func() { <-scheduler.Stop().Done() })

	router := mux.NewRouter()
	NewCronHandler(scheduler).RegisterRoutes(router)
	return router, enq
}

func doRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCronHandlerLifecycle(t *testing.T) {
	router, enq := setupCronHandler(t)

	w := doRequest(router, http.MethodPost, "/api/v1/cron/jobs",
		`{"name":"digest","schedule":"@daily","session_id":"s1","message":"summarize","enabled":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doRequest(router, http.MethodPost, "/api/v1/cron/jobs",
		`{"name":"digest","schedule":"@daily","session_id":"s1","message":"again"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create: status = %d, want 409", w.Code)
	}

	w = doRequest(router, http.MethodGet, "/api/v1/cron/jobs/digest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: status = %d", w.Code)
	}
	var job cron.Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.NextRun == nil {
		t.Error("enabled job should report next run")
	}

	w = doRequest(router, http.MethodPost, "/api/v1/cron/jobs/digest/run", "")
	if w.Code != http.StatusOK {
		t.Fatalf("run: status = %d, body = %s", w.Code, w.Body.String())
	}
	if len(enq.sessions) != 1 || enq.sessions[0] != "s1" {
		t.Errorf("enqueued sessions = %v", enq.sessions)
	}

	w = doRequest(router, http.MethodGet, "/api/v1/cron/history?job=digest", "")
	var hist struct {
		Entries []cron.HistoryEntry `json:"entries"`
	}
	if err := json.NewDecoder(w.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Entries) != 1 || hist.Entries[0].Status != cron.StatusEnqueued {
		t.Errorf("history = %+v", hist.Entries)
	}

	w = doRequest(router, http.MethodPatch, "/api/v1/cron/jobs/digest", `{"schedule":"bogus"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad patch: status = %d, want 400", w.Code)
	}

	w = doRequest(router, http.MethodDelete, "/api/v1/cron/jobs/digest", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d, want 204", w.Code)
	}
	w = doRequest(router, http.MethodGet, "/api/v1/cron/jobs/digest", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", w.Code)
	}
}

func TestCronHandlerRejectsBadBody(t *testing.T) {
	router, _ := setupCronHandler(t)

	w := doRequest(router, http.MethodPost, "/api/v1/cron/jobs", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	w = doRequest(router, http.MethodPost, "/api/v1/cron/jobs", `{"name":"x","schedule":"@daily","session_id":"s1"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing message: status = %d, want 400", w.Code)
	}

	w = doRequest(router, http.MethodGet, "/api/v1/cron/jobs", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"jobs":[]`) {
		t.Errorf("empty list: %d %s", w.Code, w.Body.String())
	}
}
