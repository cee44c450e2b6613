package db

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestAudit(t *testing.T) *AuditLog {
	t.Helper()

	audit, err := NewAuditLog(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewAuditLog: %v", err)
	}
	t.Cleanup(func() { audit.Close() })
	return audit
}

func TestRecordAndListCommands(t *testing.T) {
	audit := newTestAudit(t)
	now := time.Now()

	if err := audit.RecordCommand(1, 42, "status", now); err != nil {
		t.Fatalf("RecordCommand: %v", err)
	}
	if err := audit.RecordCommand(1, 43, "say hi", now.Add(time.Second)); err != nil {
		t.Fatalf("RecordCommand: %v", err)
	}

	recs, err := audit.RecentCommands(10)
	if err != nil {
		t.Fatalf("RecentCommands: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records: got %d want 2", len(recs))
	}
	// Most recent first.
	if recs[0].RequestID != 43 || recs[1].RequestID != 42 {
		t.Fatalf("unexpected order: %d, %d", recs[0].RequestID, recs[1].RequestID)
	}
	if recs[0].RepliedAt != nil {
		t.Fatalf("fresh command already marked replied")
	}
}

func TestMarkReplied(t *testing.T) {
	audit := newTestAudit(t)
	now := time.Now()

	if err := audit.RecordCommand(7, 42, "status", now); err != nil {
		t.Fatalf("RecordCommand: %v", err)
	}
	if err := audit.MarkReplied(7, 42, now.Add(time.Second)); err != nil {
		t.Fatalf("MarkReplied: %v", err)
	}

	recs, err := audit.RecentCommands(1)
	if err != nil {
		t.Fatalf("RecentCommands: %v", err)
	}
	if len(recs) != 1 || recs[0].RepliedAt == nil {
		t.Fatalf("reply timestamp not recorded: %#v", recs)
	}
}

func TestPruneBefore(t *testing.T) {
	audit := newTestAudit(t)
	old := time.Now().AddDate(0, 0, -60)
	recent := time.Now()

	audit.RecordCommand(1, 1, "old", old)
	audit.RecordCommand(1, 2, "new", recent)
	audit.RecordAuthAttempt("10.0.0.1:5000", false, old)

	removed, err := audit.PruneBefore(time.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("PruneBefore: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed rows: got %d want 2", removed)
	}

	recs, err := audit.RecentCommands(10)
	if err != nil {
		t.Fatalf("RecentCommands: %v", err)
	}
	if len(recs) != 1 || recs[0].Body != "new" {
		t.Fatalf("wrong rows survived prune: %#v", recs)
	}
}
