package collector

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSpawnCollectAndReap(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "ping", "#!/bin/sh\necho 'net.ping 1 1700000000 host=a'\n")

	d := New("ping", 10*time.Second, path, time.Now())
	if err := d.Spawn(); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !d.Alive() {
		t.Fatal("expected descriptor to be alive after Spawn")
	}

	deadline := time.Now().Add(2 * time.Second)
	var lines []string
	for time.Now().Before(deadline) {
		got, _, err := d.Collect()
		if err != nil {
			t.Fatalf("Collect: %v", err)
		}
		lines = append(lines, got...)
		if res, ok := d.TryReap(); ok {
			if res.Code != 0 {
				t.Fatalf("expected clean exit, got %+v", res)
			}
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(lines) != 1 || lines[0] != "net.ping 1 1700000000 host=a" {
		t.Fatalf("expected one collected line, got %v", lines)
	}
}

func TestEligibleToSpawn(t *testing.T) {
	d := New("x", 0, "/bin/true", time.Now())
	now := time.Now()
	if !d.EligibleToSpawn(now) {
		t.Fatal("non-dead descriptor should always be eligible")
	}

	d.Dead = true
	d.LastSpawn = now
	if d.EligibleToSpawn(now) {
		t.Fatal("freshly dead descriptor should be quarantined")
	}
	if !d.EligibleToSpawn(now.Add(61 * time.Minute)) {
		t.Fatal("descriptor should be eligible again after quarantine")
	}
}

func TestShutdownIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "stream", "#!/bin/sh\nwhile true; do echo x 1 1700000000; sleep 1; done\n")
	d := New("stream", 0, path, time.Now())
	if err := d.Spawn(); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := d.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if d.Alive() {
		t.Fatal("expected descriptor to be not-alive after Shutdown")
	}
	// Idempotent: calling again must not panic or error.
	if err := d.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
