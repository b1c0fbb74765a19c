package ratelimit

import (
	"fmt"
	"time"
)

// CheckResult is the outcome of a rate limit check against one sink's
// tracker.
type CheckResult struct {
	Exceeded bool
	Current  int
	Limit    int
	Reason   string
}

// Check compares the current count against limit.
func Check(count int, limit Limit) CheckResult {
	if !limit.Enabled() {
		return CheckResult{}
	}
	if count >= limit.MaxSends {
		return CheckResult{
			Exceeded: true,
			Current:  count,
			Limit:    limit.MaxSends,
			Reason: fmt.Sprintf("rate limit exceeded: %d/%d sends in %s window",
				count, limit.MaxSends, limit.Window),
		}
	}
	return CheckResult{}
}

// Allow reports whether a send against tracker is permitted under limit
// right now, incrementing the counter if so. A disabled limit always
// allows and never tracks (spec.md §4.9's sinks default to unlimited).
func Allow(tracker *Tracker, limit Limit, now time.Time) (bool, CheckResult) {
	if !limit.Enabled() {
		return true, CheckResult{}
	}
	count := tracker.Snapshot(limit.Window, now)
	result := Check(count, limit)
	if result.Exceeded {
		return false, result
	}
	tracker.Increment(limit.Window, now)
	return true, CheckResult{}
}
