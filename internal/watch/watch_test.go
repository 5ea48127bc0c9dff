package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestRun_PicksUpPreexistingFilesInNameOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.csv", "a.csv"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("id\n1\n"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}

	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startRun(t, ctx, dir, 50*time.Millisecond, rec.record)

	waitFor(t, 3*time.Second, func() bool { return len(rec.names()) == 2 })
	got := rec.names()
	if got[0] != "a.csv" || got[1] != "b.csv" {
		t.Errorf("processed order = %v, want [a.csv b.csv]", got)
	}
}

func TestRun_WaitsForDroppedFileToSettle(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var contents []string
	fn := func(_ context.Context, path string) error {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		mu.Lock()
		contents = append(contents, string(b))
		mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startRun(t, ctx, dir, 150*time.Millisecond, fn)

	// Let the watcher finish its startup sweep, so the file dropped
	// below reaches it through the event path and the settle window
	// applies; the sweep would process a pre-existing file at once.
	time.Sleep(100 * time.Millisecond)

	// Write the file in two installments, like a slow network copy.
	path := filepath.Join(dir, "incoming.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.WriteString("id,val\nr01,aaa\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := f.WriteString("r02,bbb\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(contents) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if want := "id,val\nr01,aaa\nr02,bbb\n"; contents[0] != want {
		t.Errorf("handler saw %q, want the fully settled file", contents[0])
	}
}

func TestRun_IgnoresNonSourceEntries(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startRun(t, ctx, dir, 50*time.Millisecond, rec.record)

	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write note.txt: %v", err)
	}
	// A directory with a .csv suffix, like a run dir, must not match.
	if err := os.Mkdir(filepath.Join(dir, "archive.csv"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "good.csv"), []byte("id\n1\n"), 0o644); err != nil {
		t.Fatalf("write good.csv: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool { return len(rec.names()) == 1 })
	if got := rec.names(); got[0] != "good.csv" {
		t.Errorf("processed = %v, want [good.csv]", got)
	}
}

func TestRun_HandlerErrorDoesNotStopWatch(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var calls []string
	fn := func(_ context.Context, path string) error {
		mu.Lock()
		calls = append(calls, filepath.Base(path))
		mu.Unlock()
		if filepath.Base(path) == "bad.csv" {
			return errors.New("gateway rejected everything")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startRun(t, ctx, dir, 50*time.Millisecond, fn)

	if err := os.WriteFile(filepath.Join(dir, "bad.csv"), []byte("id\n1\n"), 0o644); err != nil {
		t.Fatalf("write bad.csv: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	})

	if err := os.WriteFile(filepath.Join(dir, "good.csv"), []byte("id\n1\n"), 0o644); err != nil {
		t.Fatalf("write good.csv: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 2
	})
}

func TestRun_ReturnsNilOnCancel(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	done := startRun(t, ctx, dir, 50*time.Millisecond, (&recorder{}).record)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v on cancel, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_MissingDirFails(t *testing.T) {
	err := Run(context.Background(), filepath.Join(t.TempDir(), "absent"), time.Second, (&recorder{}).record)
	if err == nil {
		t.Fatal("expected error for missing directory, got nil")
	}
}

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) record(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, filepath.Base(path))
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func startRun(t *testing.T, ctx context.Context, dir string, settle time.Duration, fn Handler) chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- Run(ctx, dir, settle, fn) }()
	return done
}

// waitFor polls cond every 10ms until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
