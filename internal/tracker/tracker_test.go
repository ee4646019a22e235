package tracker

import "testing"

func newTestTracker() *Tracker {
	t := New(10, 0.5)
	t.now = func() int64 { return 1700000000 }
	return t
}

func TestUpdate_FullSuccessBecomesAccessible(t *testing.T) {
	trk := newTestTracker()

	trk.Update("example.com", "r1", true, true, 0.2)

	m := trk.Metrics("example.com", "r1")
	if m == nil {
		t.Fatal("Metrics() returned nil after update")
	}
	if m.State != StateAccessible {
		t.Errorf("Expected state %q, got %q", StateAccessible, m.State)
	}
	if m.TotalAttempts != 1 || m.NetworkSuccessCount != 1 || m.UserSuccessCount != 1 {
		t.Errorf("Counter mismatch: total=%d net=%d user=%d", m.TotalAttempts, m.NetworkSuccessCount, m.UserSuccessCount)
	}
	if m.AvgResponseTime != 0.2 {
		t.Errorf("First sample should initialise EMA directly, got %v", m.AvgResponseTime)
	}
}

func TestUpdate_EMAWeighting(t *testing.T) {
	trk := newTestTracker()

	trk.Update("example.com", "r1", true, true, 1.0)
	trk.Update("example.com", "r1", true, true, 2.0)

	m := trk.Metrics("example.com", "r1")
	want := 1.0*0.7 + 2.0*0.3
	if diff := m.AvgResponseTime - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("EMA = %v, want %v", m.AvgResponseTime, want)
	}
}

func TestUpdate_PartialSuccess(t *testing.T) {
	trk := newTestTracker()

	trk.Update("example.com", "r1", true, false, 0.1)

	m := trk.Metrics("example.com", "r1")
	if m.State != StatePartiallyAccessible {
		t.Errorf("Expected state %q, got %q", StatePartiallyAccessible, m.State)
	}
	if m.PartialSuccessCount != 1 {
		t.Errorf("PartialSuccessCount = %d, want 1", m.PartialSuccessCount)
	}
	if m.ConsecutiveFailures != 0 {
		t.Errorf("Partial outcomes must not count as network failures, got %d", m.ConsecutiveFailures)
	}
}

func TestUpdate_InaccessibleOnFourthFailure(t *testing.T) {
	trk := newTestTracker()

	for i := 0; i < 3; i++ {
		trk.Update("example.com", "r1", false, false, 0)
		m := trk.Metrics("example.com", "r1")
		if m.State == StateInaccessible {
			t.Fatalf("State turned Inaccessible after %d failures, threshold is >3", i+1)
		}
	}

	trk.Update("example.com", "r1", false, false, 0)
	m := trk.Metrics("example.com", "r1")
	if m.State != StateInaccessible {
		t.Errorf("Expected Inaccessible exactly on the 4th consecutive failure, got %q", m.State)
	}
	if m.ConsecutiveFailures != 4 {
		t.Errorf("ConsecutiveFailures = %d, want 4", m.ConsecutiveFailures)
	}
}

func TestUpdate_RecoveryFromInaccessible(t *testing.T) {
	trk := newTestTracker()

	for i := 0; i < 4; i++ {
		trk.Update("example.com", "r1", false, false, 0)
	}
	trk.Update("example.com", "r1", true, true, 0.3)

	m := trk.Metrics("example.com", "r1")
	if m.State != StateAccessible {
		t.Errorf("Expected recovery to Accessible, got %q", m.State)
	}
	if m.RecoveryCount != 1 {
		t.Errorf("RecoveryCount = %d, want 1", m.RecoveryCount)
	}
	if m.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures should reset on success, got %d", m.ConsecutiveFailures)
	}
}

func TestSlidingWindow_EvictsOldestAndNeverExceedsN(t *testing.T) {
	trk := New(3, 0.5)

	// Three failures, then two successes: window must hold [F, T, T].
	for i := 0; i < 3; i++ {
		trk.Update("example.com", "r1", false, false, 0)
	}
	trk.Update("example.com", "r1", true, true, 0.1)
	trk.Update("example.com", "r1", true, true, 0.1)

	m := trk.Metrics("example.com", "r1")
	window := m.RecentAttempts()
	if len(window) != 3 {
		t.Fatalf("Window size = %d, want 3", len(window))
	}
	if window[0] != false || window[1] != true || window[2] != true {
		t.Errorf("Window = %v, want [false true true]", window)
	}
	want := 2.0 / 3.0
	if diff := m.SuccessRate - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("SuccessRate = %v, want %v", m.SuccessRate, want)
	}
}

func TestInvariants_CounterOrdering(t *testing.T) {
	trk := newTestTracker()

	outcomes := []struct{ net, user bool }{
		{true, true}, {true, false}, {false, false}, {true, true}, {false, false},
	}
	for _, o := range outcomes {
		trk.Update("example.com", "r1", o.net, o.user, 0.1)
	}

	m := trk.Metrics("example.com", "r1")
	if m.UserSuccessCount > m.NetworkSuccessCount {
		t.Errorf("user_success %d > network_success %d", m.UserSuccessCount, m.NetworkSuccessCount)
	}
	if m.NetworkSuccessCount > m.TotalAttempts {
		t.Errorf("network_success %d > total_attempts %d", m.NetworkSuccessCount, m.TotalAttempts)
	}
	if m.PartialSuccessCount != m.NetworkSuccessCount-m.UserSuccessCount {
		t.Errorf("partial_success %d != network - user (%d)", m.PartialSuccessCount, m.NetworkSuccessCount-m.UserSuccessCount)
	}
	if m.SuccessRate < 0 || m.SuccessRate > 1 {
		t.Errorf("SuccessRate out of range: %v", m.SuccessRate)
	}
}

func TestAccessibleRunways_StateAndThresholdRule(t *testing.T) {
	trk := newTestTracker()

	// r1: fully accessible.
	trk.Update("example.com", "r1", true, true, 0.1)

	// r2: partial with high success rate (1 success in window before the
	// partial pushes the rate to 0.5).
	trk.Update("example.com", "r2", true, true, 0.1)
	trk.Update("example.com", "r2", true, false, 0.1)

	// r3: partial with rate below threshold.
	trk.Update("example.com", "r3", true, false, 0.1)

	// r4: inaccessible.
	for i := 0; i < 4; i++ {
		trk.Update("example.com", "r4", false, false, 0)
	}

	accessible := trk.AccessibleRunways("example.com")
	got := make(map[string]bool, len(accessible))
	for _, id := range accessible {
		got[id] = true
	}

	if !got["r1"] {
		t.Error("r1 (Accessible) missing from accessible set")
	}
	if !got["r2"] {
		t.Error("r2 (Partial, rate 0.5 >= threshold) missing from accessible set")
	}
	if got["r3"] {
		t.Error("r3 (Partial, rate 0 < threshold) must not be accessible")
	}
	if got["r4"] {
		t.Error("r4 (Inaccessible) must not be accessible")
	}
}

func TestMetrics_ReturnsCopy(t *testing.T) {
	trk := newTestTracker()
	trk.Update("example.com", "r1", true, true, 0.1)

	m := trk.Metrics("example.com", "r1")
	m.TotalAttempts = 999
	m.State = StateInaccessible

	fresh := trk.Metrics("example.com", "r1")
	if fresh.TotalAttempts != 1 || fresh.State != StateAccessible {
		t.Error("Mutating a returned metrics copy leaked into the tracker")
	}
}

func TestMetrics_UnknownPairIsNil(t *testing.T) {
	trk := newTestTracker()
	if m := trk.Metrics("nope", "r1"); m != nil {
		t.Errorf("Expected nil metrics for unknown pair, got %+v", m)
	}
	if targets := trk.Targets(); len(targets) != 0 {
		t.Errorf("Expected no targets, got %v", targets)
	}
}

func TestMarkTesting_OnlyFromUnknown(t *testing.T) {
	trk := newTestTracker()

	trk.MarkTesting("example.com", "r1")
	if m := trk.Metrics("example.com", "r1"); m.State != StateTesting {
		t.Errorf("Expected Testing state, got %q", m.State)
	}

	trk.Update("example.com", "r1", true, true, 0.1)
	trk.MarkTesting("example.com", "r1")
	if m := trk.Metrics("example.com", "r1"); m.State != StateAccessible {
		t.Errorf("MarkTesting must not clobber a settled state, got %q", m.State)
	}
}
