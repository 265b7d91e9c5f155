package index

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state", "sync.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRecords_UpsertGetList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rec := Record{
		PairID:       "p1",
		RelativePath: "docs/report.docx",
		RemoteID:     "r1",
		Size:         42,
		LocalMTime:   now.Add(-time.Hour),
		RemoteMTime:  now.Add(-time.Minute),
		LocalHash:    "abc",
		RemoteHash:   "abc",
		Status:       StatusSynced,
		LastSyncTime: now,
	}
	if err := db.UpsertRecord(ctx, rec); err != nil {
		t.Fatalf("UpsertRecord() error = %v", err)
	}

	got, err := db.GetRecord(ctx, "p1", "docs/report.docx")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if got == nil {
		t.Fatal("Expected record, got nil")
	}
	if got.RemoteID != "r1" || got.Size != 42 || got.Status != StatusSynced {
		t.Errorf("Unexpected record: %+v", got)
	}
	if !got.LastSyncTime.Equal(now) {
		t.Errorf("Expected last sync %v, got %v", now, got.LastSyncTime)
	}
	if !got.Confirmed() {
		t.Error("Expected record to be confirmed")
	}

	rec.Status = StatusErrorUpload
	rec.Size = 43
	if err := db.UpsertRecord(ctx, rec); err != nil {
		t.Fatalf("UpsertRecord() update error = %v", err)
	}
	got, _ = db.GetRecord(ctx, "p1", "docs/report.docx")
	if got.Status != StatusErrorUpload || got.Size != 43 {
		t.Errorf("Expected updated record, got %+v", got)
	}

	missing, err := db.GetRecord(ctx, "p1", "nope")
	if err != nil {
		t.Fatalf("GetRecord() missing error = %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for untracked path, got %+v", missing)
	}

	if err := db.UpsertRecord(ctx, Record{PairID: "p2", RelativePath: "other", Status: StatusSynced}); err != nil {
		t.Fatalf("UpsertRecord() error = %v", err)
	}
	records, err := db.ListRecords(ctx, "p1")
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected 1 record scoped to p1, got %d", len(records))
	}
}

func TestRecords_ZeroTimesRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.UpsertRecord(ctx, Record{PairID: "p", RelativePath: "a.txt", Status: StatusPendingUpload}); err != nil {
		t.Fatalf("UpsertRecord() error = %v", err)
	}
	got, err := db.GetRecord(ctx, "p", "a.txt")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if !got.LastSyncTime.IsZero() || !got.RemoteMTime.IsZero() {
		t.Errorf("Expected zero times, got %+v", got)
	}
	if got.Confirmed() {
		t.Error("Record without remote id should not be confirmed")
	}
	if !got.Status.NeedsRetry() {
		t.Error("Pending record should need retry")
	}
}

func TestDeleteRecord_RemovesSubtree(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, p := range []string{"a", "a/b.txt", "a/c/d.txt", "ab.txt", "b"} {
		if err := db.UpsertRecord(ctx, Record{PairID: "p", RelativePath: p, Status: StatusSynced}); err != nil {
			t.Fatalf("UpsertRecord(%s) error = %v", p, err)
		}
	}

	if err := db.DeleteRecord(ctx, "p", "a"); err != nil {
		t.Fatalf("DeleteRecord() error = %v", err)
	}

	records, err := db.ListRecords(ctx, "p")
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 remaining records, got %d: %+v", len(records), records)
	}
	if records[0].RelativePath != "ab.txt" || records[1].RelativePath != "b" {
		t.Errorf("Unexpected remaining records: %+v", records)
	}
}

func TestReplaceRecords(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.UpsertRecord(ctx, Record{PairID: "p", RelativePath: "old", Status: StatusSynced}); err != nil {
		t.Fatalf("UpsertRecord() error = %v", err)
	}
	err := db.ReplaceRecords(ctx, "p", []Record{
		{RelativePath: "new1", Status: StatusSynced},
		{RelativePath: "new2", Status: StatusPendingDownload},
	})
	if err != nil {
		t.Fatalf("ReplaceRecords() error = %v", err)
	}
	records, _ := db.ListRecords(ctx, "p")
	if len(records) != 2 || records[0].RelativePath != "new1" || records[0].PairID != "p" {
		t.Errorf("Unexpected records after replace: %+v", records)
	}
}

func TestLog_AppendAndList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	entries := []LogEntry{
		{PairID: "p", Timestamp: ts, Action: "upload", Path: "a.txt", Success: true, BytesTransferred: 10, Duration: 1500 * time.Millisecond},
		{PairID: "p", Timestamp: ts.Add(time.Second), Action: "download", Path: "b.txt", Success: false, Error: "checksum mismatch"},
		{PairID: "q", Timestamp: ts, Action: "upload", Path: "c.txt", Success: true},
	}
	for _, e := range entries {
		if err := db.AppendLog(ctx, e); err != nil {
			t.Fatalf("AppendLog() error = %v", err)
		}
	}

	got, err := db.ListLog(ctx, "p", 0)
	if err != nil {
		t.Fatalf("ListLog() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(got))
	}
	if got[0].Path != "b.txt" || got[0].Success || got[0].Error != "checksum mismatch" {
		t.Errorf("Expected newest entry first, got %+v", got[0])
	}
	if got[1].Duration != 1500*time.Millisecond || got[1].BytesTransferred != 10 {
		t.Errorf("Unexpected first entry: %+v", got[1])
	}

	limited, err := db.ListLog(ctx, "p", 1)
	if err != nil {
		t.Fatalf("ListLog() error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected 1 entry with limit, got %d", len(limited))
	}
}

func TestPairs_CRUD(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	pair := Pair{
		ID:             "pair-1",
		LocalRoot:      "/home/u/Drive",
		RemoteRootID:   "root-id",
		RemoteRootPath: "/Backups",
		Strategy:       "keep_both",
		Exclude:        []string{"*.bak"},
		CreatedAt:      created,
	}
	if err := db.UpsertPair(ctx, pair); err != nil {
		t.Fatalf("UpsertPair() error = %v", err)
	}
	if err := db.UpsertRecord(ctx, Record{PairID: "pair-1", RelativePath: "x", Status: StatusSynced}); err != nil {
		t.Fatalf("UpsertRecord() error = %v", err)
	}
	if err := db.AppendLog(ctx, LogEntry{PairID: "pair-1", Timestamp: created, Action: "upload", Path: "x", Success: true}); err != nil {
		t.Fatalf("AppendLog() error = %v", err)
	}

	got, err := db.GetPair(ctx, "pair-1")
	if err != nil {
		t.Fatalf("GetPair() error = %v", err)
	}
	if got == nil || got.RemoteRootPath != "/Backups" || len(got.Exclude) != 1 || !got.CreatedAt.Equal(created) {
		t.Fatalf("Unexpected pair: %+v", got)
	}

	got.LastRunAt = created.Add(time.Hour)
	got.LastState = "completed"
	if err := db.UpsertPair(ctx, *got); err != nil {
		t.Fatalf("UpsertPair() update error = %v", err)
	}
	pairs, err := db.ListPairs(ctx)
	if err != nil {
		t.Fatalf("ListPairs() error = %v", err)
	}
	if len(pairs) != 1 || pairs[0].LastState != "completed" {
		t.Errorf("Unexpected pairs: %+v", pairs)
	}

	if err := db.DeletePair(ctx, "pair-1"); err != nil {
		t.Fatalf("DeletePair() error = %v", err)
	}
	gone, err := db.GetPair(ctx, "pair-1")
	if err != nil {
		t.Fatalf("GetPair() error = %v", err)
	}
	if gone != nil {
		t.Error("Expected pair to be deleted")
	}
	records, _ := db.ListRecords(ctx, "pair-1")
	if len(records) != 0 {
		t.Errorf("Expected records to be deleted with pair, got %d", len(records))
	}
	logs, _ := db.ListLog(ctx, "pair-1", 0)
	if len(logs) != 0 {
		t.Errorf("Expected log to be deleted with pair, got %d", len(logs))
	}
}
