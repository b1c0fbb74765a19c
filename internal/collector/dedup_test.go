package collector

import (
	"testing"
	"time"
)

func TestParseSample(t *testing.T) {
	cases := []struct {
		line    string
		wantOK  bool
		metric  string
		value   float64
		tagsLen int
	}{
		{"net.ping 1 1700000000 host=a", true, "net.ping", 1, 1},
		{"s.x 42 1700000000", true, "s.x", 42, 0},
		{"s.x 42 9999999999999", false, "", 0, 0}, // timestamp beyond sanity bound
		{"bad=tag=extra 1 1700000000 k=v", false, "", 0, 0},
	}
	for _, c := range cases {
		s, ok := ParseSample(c.line)
		if ok != c.wantOK {
			t.Fatalf("ParseSample(%q) ok = %v, want %v", c.line, ok, c.wantOK)
		}
		if !ok {
			continue
		}
		if s.Metric != c.metric || s.Value != c.value || len(s.Tags) != c.tagsLen {
			t.Fatalf("ParseSample(%q) = %+v", c.line, s)
		}
	}
}

func TestDedupCacheSuppressesWithinWindow(t *testing.T) {
	c := NewDedupCache()
	now := time.Unix(1700000000, 0)
	s, ok := ParseSample("net.ping 1 1700000000 host=a")
	if !ok {
		t.Fatal("parse failed")
	}

	decision, line := c.Filter(s, now, 300*time.Second, false)
	if decision != DecisionForward || line != s.Line {
		t.Fatalf("first sighting should forward original line, got %v %q", decision, line)
	}

	// Same value, same key, within window: suppressed.
	for i := 1; i <= 3; i++ {
		decision, _ = c.Filter(s, now.Add(time.Duration(i)*time.Second), 300*time.Second, false)
		if decision != DecisionSuppress {
			t.Fatalf("repeat #%d should be suppressed, got %v", i, decision)
		}
	}
}

func TestDedupCacheForwardsAfterWindowWithNewTimestamp(t *testing.T) {
	c := NewDedupCache()
	now := time.Unix(1700000000, 0)
	s, _ := ParseSample("net.ping 1 1700000000 host=a")

	c.Filter(s, now, 300*time.Second, false)

	later := now.Add(301 * time.Second)
	decision, line := c.Filter(s, later, 300*time.Second, false)
	if decision != DecisionForward {
		t.Fatalf("expected forward after window elapsed, got %v", decision)
	}
	wantTS := "1700000301"
	if !contains(line, wantTS) {
		t.Fatalf("expected rewritten line to carry current timestamp %s, got %q", wantTS, line)
	}
}

func TestDedupCacheForwardsOnValueChange(t *testing.T) {
	c := NewDedupCache()
	now := time.Unix(1700000000, 0)
	s1, _ := ParseSample("net.ping 1 1700000000 host=a")
	s2, _ := ParseSample("net.ping 2 1700000001 host=a")

	c.Filter(s1, now, 300*time.Second, false)
	decision, line := c.Filter(s2, now.Add(time.Second), 300*time.Second, false)
	if decision != DecisionForward || line != s2.Line {
		t.Fatalf("value change should forward new line, got %v %q", decision, line)
	}
}

func TestDedupOnlyZero(t *testing.T) {
	c := NewDedupCache()
	now := time.Unix(1700000000, 0)
	s, _ := ParseSample("net.ping 1 1700000000 host=a")

	// deduponlyzero is set and the value is non-zero: always forward.
	for i := 0; i < 3; i++ {
		decision, _ := c.Filter(s, now.Add(time.Duration(i)*time.Second), 300*time.Second, true)
		if decision != DecisionForward {
			t.Fatalf("non-zero value with deduponlyzero should always forward, got %v", decision)
		}
	}
}

func TestEvictBefore(t *testing.T) {
	c := NewDedupCache()
	now := time.Unix(1700000000, 0)
	s, _ := ParseSample("net.ping 1 1700000000 host=a")
	c.Filter(s, now, 300*time.Second, false)

	if c.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", c.Len())
	}
	c.EvictBefore(now.Add(-time.Second))
	if c.Len() != 1 {
		t.Fatalf("entry should survive cutoff before its first-seen time")
	}
	c.EvictBefore(now.Add(time.Second))
	if c.Len() != 0 {
		t.Fatalf("expected entry to be evicted, got %d remaining", c.Len())
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
