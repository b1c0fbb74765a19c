package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	l, err := zap.NewDevelopment()
	if err != nil {
		t.Fatal(err)
	}
	return l.Sugar()
}

func writeCollector(t *testing.T, base string, interval int, name, body string) string {
	t.Helper()
	dir := filepath.Join(base, itoa(interval))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestPopulateRegistersNewCollector(t *testing.T) {
	base := t.TempDir()
	writeCollector(t, base, 60, "ping", "#!/bin/sh\necho hi\n")

	r := New(testLogger(t))
	if err := r.Populate(base); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	d, ok := r.Get("ping")
	if !ok {
		t.Fatal("expected ping to be registered")
	}
	if d.Interval != 60*time.Second {
		t.Fatalf("interval = %v, want 60s", d.Interval)
	}
}

func TestPopulateSkipsNonExecutableAndDotfiles(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "60")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".hidden"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := New(testLogger(t))
	if err := r.Populate(base); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if len(r.Snapshot()) != 0 {
		t.Fatalf("expected no collectors registered, got %d", len(r.Snapshot()))
	}
}

func TestPopulateForgetsDeletedAfterGeneration(t *testing.T) {
	base := t.TempDir()
	writeCollector(t, base, 60, "ping", "#!/bin/sh\necho hi\n")

	r := New(testLogger(t))
	if err := r.Populate(base); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if _, ok := r.Get("ping"); !ok {
		t.Fatal("expected ping registered")
	}

	// Manually simulate 31s having passed without a re-sighting.
	d, _ := r.Get("ping")
	d.Generation = time.Now().Add(-31 * time.Second)
	r.sweep(time.Now())

	if _, ok := r.Get("ping"); ok {
		t.Fatal("expected ping to be forgotten after stale generation")
	}
}

func TestPopulateRespawnsLiveLongRunningOnMtimeAdvance(t *testing.T) {
	base := t.TempDir()
	path := writeCollector(t, base, 0, "stream",
		"#!/bin/sh\nwhile true; do echo x 1 1700000000; sleep 1; done\n")

	r := New(testLogger(t))
	if err := r.Populate(base); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	original, ok := r.Get("stream")
	if !ok {
		t.Fatal("expected stream registered")
	}
	if err := original.Spawn(); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !original.Alive() {
		t.Fatal("expected original descriptor to be alive")
	}

	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	if err := r.Populate(base); err != nil {
		t.Fatalf("second Populate: %v", err)
	}

	// A live long-running collector whose file mtime advances must be
	// shut down and replaced, not left running the stale binary.
	if original.Alive() {
		t.Fatal("expected original descriptor to be shut down after mtime advance")
	}
	replaced, ok := r.Get("stream")
	if !ok {
		t.Fatal("expected stream still registered after respawn")
	}
	if replaced == original {
		t.Fatal("expected a new descriptor to replace the live one")
	}
	if replaced.Alive() {
		t.Fatal("expected the replacement descriptor to not yet have a spawned child")
	}
}
