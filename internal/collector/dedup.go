package collector

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxReasonableTimestamp is the sanity upper bound from spec.md §6 (the
// tcollector-era ~year-2040 cutoff). Anything past this is invalid.
const maxReasonableTimestamp = 2209212000

// maxDedupEntries is a per-collector hard cap on cache size, defence in
// depth against unbounded growth if eviction ever falls behind
// (spec.md §9, "Dedup cache growth").
const maxDedupEntries = 20000

// Sample is a parsed collector output line: `<metric> <value> <ts> [tag=value...]`.
type Sample struct {
	Metric    string
	Value     float64
	HasValue  bool
	Timestamp int64
	Tags      map[string]string
	Line      string
}

// ParseSample parses one line of collector output per spec.md §6's wire
// format. ok is false for malformed lines (spec.md §7, "Malformed output
// line" → counted invalid, dropped).
func ParseSample(line string) (Sample, bool) {
	fields := strings.Fields(line)
	if len(fields) < 1 || strings.Contains(fields[0], "=") {
		return Sample{}, false
	}
	s := Sample{Metric: fields[0], Line: line, Tags: map[string]string{}}

	rest := fields[1:]
	if len(rest) > 0 {
		if v, err := strconv.ParseFloat(rest[0], 64); err == nil {
			s.Value = v
			s.HasValue = true
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		if ts, err := strconv.ParseInt(rest[0], 10, 64); err == nil {
			if ts > maxReasonableTimestamp {
				return Sample{}, false
			}
			s.Timestamp = ts
			rest = rest[1:]
		}
	}
	for _, kv := range rest {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return Sample{}, false
		}
		s.Tags[parts[0]] = parts[1]
	}
	return s, true
}

// FingerprintKey is the dedup key: metric plus its sorted tag set.
func (s Sample) FingerprintKey() string {
	keys := make([]string, 0, len(s.Tags))
	for k := range s.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(s.Metric)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s.Tags[k])
	}
	return b.String()
}

// dedupEntry is the cached state for one (metric, tag-set) fingerprint.
type dedupEntry struct {
	value     float64
	repeated  bool
	line      string
	firstSeen time.Time
}

// DedupCache maps a line's fingerprint to the last value seen for it,
// implementing spec.md §4.5's consecutive-duplicate suppression.
type DedupCache struct {
	mu      sync.Mutex
	entries map[string]*dedupEntry
}

// NewDedupCache returns an empty cache.
func NewDedupCache() DedupCache {
	return DedupCache{entries: make(map[string]*dedupEntry)}
}

// Decision is the dedup filter's verdict for one observed line.
type Decision int

const (
	// DecisionForward means the line (possibly rewritten with a new
	// timestamp) should be handed to the queue.
	DecisionForward Decision = iota
	// DecisionSuppress means the line is a within-window repeat.
	DecisionSuppress
)

// Filter applies spec.md §4.5's dedup policy to one sample. now is the
// observation time; dedupInterval is the suppression window;
// onlyZero restricts dedup to zero-valued samples (deduponlyzero).
// When the decision is DecisionForward, outLine is the line to enqueue
// — either the original line, or (on a same-value re-sighting past the
// window) a synthesized line carrying the current timestamp so
// downstream sees continuity.
func (c *DedupCache) Filter(s Sample, now time.Time, dedupInterval time.Duration, onlyZero bool) (decision Decision, outLine string) {
	if dedupInterval <= 0 || (onlyZero && (!s.HasValue || s.Value != 0)) {
		return DecisionForward, s.Line
	}

	key := s.FingerprintKey()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		if len(c.entries) >= maxDedupEntries {
			// Defence in depth: never let one noisy collector exhaust
			// memory even if eviction has fallen behind.
			return DecisionForward, s.Line
		}
		c.entries[key] = &dedupEntry{value: s.Value, line: s.Line, firstSeen: now}
		return DecisionForward, s.Line
	}

	if e.value != s.Value {
		e.value = s.Value
		e.line = s.Line
		e.repeated = false
		e.firstSeen = now
		return DecisionForward, s.Line
	}

	if now.Sub(e.firstSeen) < dedupInterval {
		e.repeated = true
		return DecisionSuppress, ""
	}

	// Same value, but the window elapsed: forward a synthesized line
	// with the current timestamp so downstream sees continuity, and
	// reset the window.
	e.firstSeen = now
	e.repeated = false
	synthesized := rewriteTimestamp(s, now)
	e.line = synthesized
	return DecisionForward, synthesized
}

// rewriteTimestamp replaces a sample's timestamp field with now's UNIX
// seconds, preserving the metric/value/tags text.
func rewriteTimestamp(s Sample, now time.Time) string {
	var b strings.Builder
	b.WriteString(s.Metric)
	if s.HasValue {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(s.Value, 'g', -1, 64))
	}
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(now.Unix(), 10))
	keys := make([]string, 0, len(s.Tags))
	for k := range s.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s.Tags[k])
	}
	return b.String()
}

// EvictBefore removes entries whose FirstSeen predates cutoff (spec.md
// §4.1/§4.5).
func (c *DedupCache) EvictBefore(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.firstSeen.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}

// Len reports the number of cached fingerprints (used by tests and
// status introspection).
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
