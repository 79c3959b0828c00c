package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"conduit/internal/approval"
)

func TestApprovals_RecordAndGet(t *testing.T) {
	db := openTestDB(t)
	created := time.UnixMilli(1_700_000_000_000)

	req := &approval.Request{
		ID:        "req-1",
		Type:      "shell:sudo",
		SessionID: "s1",
		Timeout:   2 * time.Minute,
		CreatedAt: created,
		ExpiresAt: created.Add(2 * time.Minute),
		Metadata:  map[string]any{"command": "sudo ls"},
	}
	if err := db.RecordRequest(req); err != nil {
		t.Fatalf("RecordRequest failed: %v", err)
	}

	rec, err := db.GetApproval("req-1")
	if err != nil {
		t.Fatalf("GetApproval failed: %v", err)
	}
	if rec.Result != nil {
		t.Error("undecided request should have no result")
	}
	if rec.Request.Timeout != 2*time.Minute || rec.Request.Metadata["command"] != "sudo ls" {
		t.Errorf("request = %+v", rec.Request)
	}

	res := &approval.Result{
		RequestID: "req-1",
		SessionID: "s1",
		Decision:  approval.DecisionDenied,
		DecidedBy: "alice",
		Note:      "not today",
		DecidedAt: created.Add(time.Minute),
	}
	if err := db.RecordDecision(req, res); err != nil {
		t.Fatalf("RecordDecision failed: %v", err)
	}

	rec, _ = db.GetApproval("req-1")
	if rec.Result == nil || rec.Result.Decision != approval.DecisionDenied || rec.Result.DecidedBy != "alice" {
		t.Errorf("result = %+v", rec.Result)
	}

	late := *res
	late.Decision = approval.DecisionApproved
	if err := db.RecordDecision(req, &late); !errors.Is(err, ErrNotFound) {
		t.Errorf("second decision = %v, want ErrNotFound", err)
	}
	rec, _ = db.GetApproval("req-1")
	if rec.Result.Decision != approval.DecisionDenied {
		t.Error("first decision must be kept")
	}

	if _, err := db.GetApproval("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetApproval missing = %v, want ErrNotFound", err)
	}
}

func TestApprovals_List(t *testing.T) {
	db := openTestDB(t)
	base := time.UnixMilli(1_700_000_000_000)

	for i, sid := range []string{"s1", "s2", "s1"} {
		req := &approval.Request{
			ID:        string(rune('a' + i)),
			Type:      "tool:shell",
			SessionID: sid,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			ExpiresAt: base.Add(time.Hour),
		}
		if err := db.RecordRequest(req); err != nil {
			t.Fatal(err)
		}
	}

	all, err := db.ListApprovals("", 0)
	if err != nil {
		t.Fatalf("ListApprovals failed: %v", err)
	}
	if len(all) != 3 || all[0].Request.ID != "c" {
		t.Errorf("all = %d records, first %q", len(all), all[0].Request.ID)
	}

	s1, _ := db.ListApprovals("s1", 0)
	if len(s1) != 2 {
		t.Errorf("s1 records = %d, want 2", len(s1))
	}

	limited, _ := db.ListApprovals("", 1)
	if len(limited) != 1 {
		t.Errorf("limited records = %d, want 1", len(limited))
	}
}

func TestApprovals_GateRecorder(t *testing.T) {
	db := openTestDB(t)
	gate := approval.New(approval.Config{Recorder: db})
	defer gate.Close()

	ctx := context.Background()
	req, err := gate.Request(ctx, "tool:shell", "s1", time.Minute, nil)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if err := gate.Resolve(req.ID, approval.DecisionApproved, approval.By("bob")); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, err := gate.Await(ctx, req.ID); err != nil {
		t.Fatalf("Await failed: %v", err)
	}

	rec, err := db.GetApproval(req.ID)
	if err != nil {
		t.Fatalf("GetApproval failed: %v", err)
	}
	if rec.Result == nil || rec.Result.Decision != approval.DecisionApproved || rec.Result.DecidedBy != "bob" {
		t.Errorf("recorded result = %+v", rec.Result)
	}
}
