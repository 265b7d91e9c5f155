package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestNew_Schedule(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{"descriptor", "@every 15m", false},
		{"standard spec", "*/5 * * * *", false},
		{"empty disables", "", false},
		{"garbage", "every now and then", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(func(context.Context, string) error { return nil }, Options{Schedule: tt.schedule})
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTrigger_Coalesces(t *testing.T) {
	s, err := New(func(context.Context, string) error { return nil }, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.Trigger(ReasonManual)
	s.Trigger(ReasonSchedule)
	if len(s.triggers) != 1 {
		t.Errorf("Expected 1 queued trigger, got %d", len(s.triggers))
	}
	if got := <-s.triggers; got != ReasonManual {
		t.Errorf("Expected first reason kept, got %s", got)
	}
}

func TestDebouncer_CoalescesBursts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fired := make(chan struct{}, 10)
	d := newDebouncer(clock, 5*time.Second, func() { fired <- struct{}{} })

	d.touch()
	clock.Advance(3 * time.Second)
	d.touch()
	d.touch()

	clock.Advance(4 * time.Second)
	select {
	case <-fired:
		t.Fatal("Expected no fire before the burst settles")
	case <-time.After(50 * time.Millisecond):
	}

	clock.Advance(time.Second)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("Expected fire after quiet period")
	}
	select {
	case <-fired:
		t.Error("Expected a single fire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDebouncer_Stop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fired := make(chan struct{}, 1)
	d := newDebouncer(clock, time.Second, func() { fired <- struct{}{} })

	d.touch()
	d.stop()
	clock.Advance(2 * time.Second)
	select {
	case <-fired:
		t.Error("Expected no fire after stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRun_StartManualAndStop(t *testing.T) {
	reasons := make(chan string, 4)
	s, err := New(func(ctx context.Context, reason string) error {
		reasons <- reason
		return nil
	}, Options{Schedule: "@every 1h", RunOnStart: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	expectReason(t, reasons, ReasonStart)
	s.Trigger(ReasonManual)
	expectReason(t, reasons, ReasonManual)

	if next := s.Next(); next.IsZero() {
		t.Error("Expected a next scheduled run")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRun_RemotePollTriggersOnChange(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reasons := make(chan string, 4)
	polled := make(chan int, 4)
	polls := 0
	s, err := New(func(ctx context.Context, reason string) error {
		reasons <- reason
		return nil
	}, Options{
		Clock:        clock,
		PollInterval: time.Minute,
		RemotePoll: func(ctx context.Context) (bool, error) {
			polls++
			polled <- polls
			return polls == 2, nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	clock.BlockUntil(1)
	clock.Advance(time.Minute)
	<-polled
	select {
	case r := <-reasons:
		t.Fatalf("Expected no sync without remote changes, got %s", r)
	case <-time.After(50 * time.Millisecond):
	}

	clock.Advance(time.Minute)
	<-polled
	expectReason(t, reasons, ReasonRemote)
}

func TestRun_WatchTriggersAfterChanges(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	reasons := make(chan string, 4)
	s, err := New(func(ctx context.Context, reason string) error {
		reasons <- reason
		return nil
	}, Options{
		WatchRoot: root,
		Debounce:  20 * time.Millisecond,
		Ignore: func(relPath string, isDir bool) bool {
			return filepath.Ext(relPath) == ".tmp"
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(root, "sub", "scratch.tmp"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	select {
	case got := <-reasons:
		t.Fatalf("Expected ignored file to not trigger, got %s", got)
	case <-time.After(200 * time.Millisecond):
	}

	if err := os.WriteFile(filepath.Join(root, "sub", "a.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	expectReason(t, reasons, ReasonWatch)

	cancel()
	<-done
}

func TestWatchOpen_ClosedDuringAndJustAfterSync(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s, err := New(func(context.Context, string) error { return nil }, Options{
		Clock:       clock,
		WatchSettle: time.Second,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !s.watchOpen() {
		t.Fatal("Expected changes to count before any sync")
	}
	s.beginRun()
	if s.watchOpen() {
		t.Error("Expected changes during a sync to be dropped")
	}
	s.endRun()
	clock.Advance(500 * time.Millisecond)
	if s.watchOpen() {
		t.Error("Expected changes within the settle window to be dropped")
	}
	clock.Advance(500 * time.Millisecond)
	if !s.watchOpen() {
		t.Error("Expected changes after the settle window to count")
	}
}

func TestRun_OwnWritesDoNotRetrigger(t *testing.T) {
	root := t.TempDir()
	reasons := make(chan string, 4)
	s, err := New(func(ctx context.Context, reason string) error {
		reasons <- reason
		if reason != ReasonStart {
			return nil
		}
		// Same shape as a download: partial file, rename, then mtime.
		partial := filepath.Join(root, "report.pdf.drivesync-partial")
		final := filepath.Join(root, "report.pdf")
		if err := os.WriteFile(partial, []byte("pdf"), 0644); err != nil {
			return err
		}
		if err := os.Rename(partial, final); err != nil {
			return err
		}
		mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		return os.Chtimes(final, mtime, mtime)
	}, Options{
		RunOnStart:  true,
		WatchRoot:   root,
		Debounce:    20 * time.Millisecond,
		WatchSettle: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	expectReason(t, reasons, ReasonStart)
	select {
	case got := <-reasons:
		t.Fatalf("Expected the sync's own writes to not trigger another sync, got %s", got)
	case <-time.After(400 * time.Millisecond):
	}

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	expectReason(t, reasons, ReasonWatch)

	cancel()
	<-done
}

func expectReason(t *testing.T, reasons <-chan string, want string) {
	t.Helper()
	select {
	case got := <-reasons:
		if got != want {
			t.Errorf("Expected reason %s, got %s", want, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Timed out waiting for %s", want)
	}
}
