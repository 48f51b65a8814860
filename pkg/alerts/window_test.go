package alerts

import (
	"testing"
	"time"
)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://api.x.com/a?x=1", "https://api.x.com/a"},
		{"https://api.x.com/a?y=2", "https://api.x.com/a"},
		{"https://api.x.com/a#frag", "https://api.x.com/a"},
		{"http://host:8080/v1/users?page=3", "http://host:8080/v1/users"},
		{"not a url at all", "not a url at all"},
		{"/relative/path", "/relative/path"},
	}
	for _, tt := range tests {
		if got := NormalizeEndpoint(tt.in); got != tt.want {
			t.Errorf("NormalizeEndpoint(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWindow_RecordAndTrim(t *testing.T) {
	base := time.Now()
	w := newFailureWindows()
	window := 60 * time.Second

	w.now = fixedClock(base)
	if got := w.record("r1", "ep", window); got != 1 {
		t.Errorf("record at t=0: got %d, want 1", got)
	}
	w.now = fixedClock(base.Add(10 * time.Second))
	if got := w.record("r1", "ep", window); got != 2 {
		t.Errorf("record at t=10: got %d, want 2", got)
	}
	w.now = fixedClock(base.Add(20 * time.Second))
	if got := w.record("r1", "ep", window); got != 3 {
		t.Errorf("record at t=20: got %d, want 3", got)
	}

	// At t=70 the window covers [10, 70]: t=0 has expired, t=10 is on the
	// boundary and still counts.
	w.now = fixedClock(base.Add(70 * time.Second))
	if got := w.record("r1", "ep", window); got != 3 {
		t.Errorf("record at t=70: got %d, want 3 (t=0 expired)", got)
	}
}

func TestWindow_CountTrimsWithoutRecording(t *testing.T) {
	base := time.Now()
	w := newFailureWindows()

	w.now = fixedClock(base)
	w.record("r1", "ep", time.Minute)

	w.now = fixedClock(base.Add(2 * time.Minute))
	if got := w.count("r1", "ep"); got != 0 {
		t.Errorf("count after expiry: got %d, want 0", got)
	}
}

func TestWindow_EndpointTotalSumsAcrossRules(t *testing.T) {
	base := time.Now()
	w := newFailureWindows()
	w.now = fixedClock(base)

	w.record("r1", "ep", time.Minute)
	w.record("r1", "ep", time.Minute)
	w.record("r2", "ep", time.Minute)
	w.record("r1", "other", time.Minute)

	if got := w.endpointTotal("ep"); got != 3 {
		t.Errorf("endpointTotal: got %d, want 3", got)
	}
}

func TestWindow_ClearEndpoint(t *testing.T) {
	base := time.Now()
	w := newFailureWindows()
	w.now = fixedClock(base)

	w.record("r1", "ep", time.Minute)
	w.record("r2", "ep", time.Minute)
	w.record("r1", "other", time.Minute)

	w.clearEndpoint("ep")

	if got := w.endpointTotal("ep"); got != 0 {
		t.Errorf("endpointTotal after clear: got %d, want 0", got)
	}
	if got := w.endpointTotal("other"); got != 1 {
		t.Errorf("other endpoint after clear: got %d, want 1", got)
	}
}

func TestWindow_Snapshot(t *testing.T) {
	base := time.Now()
	w := newFailureWindows()
	w.now = fixedClock(base)

	w.record("r1", "ep", time.Minute)
	w.record("r1", "ep", time.Minute)

	snap := w.snapshot()
	if got := snap[windowKey("r1", "ep")]; got != 2 {
		t.Errorf("snapshot[r1|ep]: got %d, want 2", got)
	}
}
