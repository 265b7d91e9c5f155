package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/dl-alexandre/drivesync/internal/localfs"
	"github.com/dl-alexandre/drivesync/internal/sync/exclude"
	"github.com/dl-alexandre/drivesync/internal/sync/index"
	"github.com/spf13/afero"
)

func writeFile(t *testing.T, p *localfs.AferoProvider, name, content string, mtime time.Time) {
	t.Helper()
	if err := afero.WriteFile(p.Fs(), name, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", name, err)
	}
	if err := p.Chtimes(name, mtime); err != nil {
		t.Fatalf("Chtimes(%s) error = %v", name, err)
	}
}

func TestScanLocal(t *testing.T) {
	p := localfs.NewMem()
	mtime := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	writeFile(t, p, "/root/a.txt", "hello", mtime)
	writeFile(t, p, "/root/docs/b.md", "world", mtime)
	writeFile(t, p, "/root/.DS_Store", "junk", mtime)
	writeFile(t, p, "/root/build/out.o", "bin", mtime)

	matcher := exclude.New([]string{"build/"})
	entries, err := ScanLocal(context.Background(), p, "/root", matcher, nil, nil)
	if err != nil {
		t.Fatalf("ScanLocal() error = %v", err)
	}

	want := []string{"a.txt", "docs", "docs/b.md"}
	if len(entries) != len(want) {
		t.Fatalf("Expected %d entries, got %d: %+v", len(want), len(entries), entries)
	}
	for i, w := range want {
		if entries[i].RelativePath != w {
			t.Errorf("Entry %d: expected %s, got %s", i, w, entries[i].RelativePath)
		}
	}

	a := entries[0]
	if a.IsDir || a.Size != 5 || a.Name != "a.txt" {
		t.Errorf("Unexpected file entry: %+v", a)
	}
	if a.ContentHash != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("Expected md5 of hello, got %s", a.ContentHash)
	}
	if !a.ModifiedTime.Equal(mtime) {
		t.Errorf("Expected mtime %v, got %v", mtime, a.ModifiedTime)
	}
	if !entries[1].IsDir {
		t.Error("Expected docs to be a directory")
	}
}

func TestScanLocal_ReusesTrackedHash(t *testing.T) {
	p := localfs.NewMem()
	mtime := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	writeFile(t, p, "/root/a.txt", "hello", mtime)
	writeFile(t, p, "/root/b.txt", "hello", mtime)

	prev := map[string]index.Record{
		"a.txt": {RelativePath: "a.txt", Size: 5, LocalMTime: mtime, LocalHash: "cached"},
		"b.txt": {RelativePath: "b.txt", Size: 5, LocalMTime: mtime.Add(-time.Minute), LocalHash: "stale"},
	}

	entries, err := ScanLocal(context.Background(), p, "/root", nil, prev, nil)
	if err != nil {
		t.Fatalf("ScanLocal() error = %v", err)
	}
	if entries[0].ContentHash != "cached" {
		t.Errorf("Expected tracked hash to be reused, got %s", entries[0].ContentHash)
	}
	if entries[1].ContentHash == "stale" {
		t.Error("Expected modified file to be rehashed")
	}
}

func TestScanLocal_Cancelled(t *testing.T) {
	p := localfs.NewMem()
	writeFile(t, p, "/root/a.txt", "x", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ScanLocal(ctx, p, "/root", nil, nil, nil); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestScanLocal_MissingRoot(t *testing.T) {
	p := localfs.NewMem()
	if _, err := ScanLocal(context.Background(), p, "/missing", nil, nil, nil); err == nil {
		t.Error("Expected error for missing root")
	}
}
