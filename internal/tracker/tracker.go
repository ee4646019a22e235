package tracker

import (
	"sync"
	"time"
)

// RunwayState is the per-(target, runway) accessibility classification.
type RunwayState string

const (
	StateUnknown             RunwayState = "unknown"
	StateAccessible          RunwayState = "accessible"
	StatePartiallyAccessible RunwayState = "partially_accessible"
	StateInaccessible        RunwayState = "inaccessible"
	// StateTesting marks a pair a probe has claimed but not yet resolved.
	StateTesting RunwayState = "testing"
)

// emaAlpha weights the newest response-time sample.
const emaAlpha = 0.3

// consecutiveFailureLimit is the count above which a pair turns
// Inaccessible (the 4th network failure in a row crosses it).
const consecutiveFailureLimit = 3

// TargetMetrics accumulates outcomes for one (target, runway) pair.
type TargetMetrics struct {
	Target   string `json:"target"`
	RunwayID string `json:"runway_id"`

	TotalAttempts       uint64 `json:"total_attempts"`
	NetworkSuccessCount uint64 `json:"network_success_count"`
	UserSuccessCount    uint64 `json:"user_success_count"`
	PartialSuccessCount uint64 `json:"partial_success_count"`
	FailureCount        uint64 `json:"failure_count"`
	RecoveryCount       uint64 `json:"recovery_count"`

	LastSuccessTime int64 `json:"last_success_time"`
	LastFailureTime int64 `json:"last_failure_time"`

	AvgResponseTime     float64 `json:"avg_response_time"`
	SuccessRate         float64 `json:"success_rate"`
	ConsecutiveFailures int     `json:"consecutive_failures"`

	State RunwayState `json:"state"`

	// recentAttempts is a bounded ring of the last N user-success bits.
	recentAttempts []bool
}

// RecentAttempts returns a copy of the sliding window, oldest first.
func (m *TargetMetrics) RecentAttempts() []bool {
	out := make([]bool, len(m.recentAttempts))
	copy(out, m.recentAttempts)
	return out
}

func (m *TargetMetrics) updateSuccessRate() {
	if len(m.recentAttempts) == 0 {
		m.SuccessRate = 0
		return
	}
	successes := 0
	for _, ok := range m.recentAttempts {
		if ok {
			successes++
		}
	}
	m.SuccessRate = float64(successes) / float64(len(m.recentAttempts))
}

// clone returns a deep copy safe to hand to observers.
func (m *TargetMetrics) clone() *TargetMetrics {
	cp := *m
	cp.recentAttempts = m.RecentAttempts()
	return &cp
}

// Tracker maintains the sliding-window success model for every
// (target, runway) pair. All access is serialised by one lock; the
// critical sections are O(runways for one target).
type Tracker struct {
	mu        sync.Mutex
	metrics   map[string]map[string]*TargetMetrics
	window    int
	threshold float64

	now func() int64 // epoch seconds, swappable in tests
}

func New(window int, threshold float64) *Tracker {
	if window <= 0 {
		window = 10
	}
	return &Tracker{
		metrics:   make(map[string]map[string]*TargetMetrics),
		window:    window,
		threshold: threshold,
		now:       func() int64 { return time.Now().Unix() },
	}
}

func (t *Tracker) getOrCreateLocked(target, runwayID string) *TargetMetrics {
	byRunway, ok := t.metrics[target]
	if !ok {
		byRunway = make(map[string]*TargetMetrics)
		t.metrics[target] = byRunway
	}
	m, ok := byRunway[runwayID]
	if !ok {
		m = &TargetMetrics{Target: target, RunwayID: runwayID, State: StateUnknown}
		byRunway[runwayID] = m
	}
	return m
}

// Update applies one observed outcome. Entries materialise on first
// update; there is no eviction.
func (t *Tracker) Update(target, runwayID string, networkSuccess, userSuccess bool, responseTimeSecs float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.getOrCreateLocked(target, runwayID)
	m.TotalAttempts++
	now := t.now()

	m.recentAttempts = append(m.recentAttempts, userSuccess)
	if len(m.recentAttempts) > t.window {
		m.recentAttempts = m.recentAttempts[1:]
	}

	switch {
	case networkSuccess && userSuccess:
		m.NetworkSuccessCount++
		m.UserSuccessCount++
		if m.State == StateInaccessible {
			m.RecoveryCount++
		}
		m.State = StateAccessible
		m.LastSuccessTime = now
		m.ConsecutiveFailures = 0

		if m.AvgResponseTime == 0 {
			m.AvgResponseTime = responseTimeSecs
		} else {
			m.AvgResponseTime = m.AvgResponseTime*(1-emaAlpha) + responseTimeSecs*emaAlpha
		}

	case networkSuccess && !userSuccess:
		m.NetworkSuccessCount++
		m.PartialSuccessCount++
		m.State = StatePartiallyAccessible

	default:
		m.FailureCount++
		m.LastFailureTime = now
		m.ConsecutiveFailures++
		if m.ConsecutiveFailures > consecutiveFailureLimit {
			m.State = StateInaccessible
		}
	}

	m.updateSuccessRate()
}

// MarkTesting flags a pair as claimed by a probe until a definitive
// outcome arrives. Pairs with settled state keep it.
func (t *Tracker) MarkTesting(target, runwayID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.getOrCreateLocked(target, runwayID)
	if m.State == StateUnknown {
		m.State = StateTesting
	}
}

// AccessibleRunways returns the runway ids currently eligible for target:
// Accessible pairs, plus PartiallyAccessible pairs whose success rate
// meets the threshold. The order is stable within a single call.
func (t *Tracker) AccessibleRunways(target string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	byRunway, ok := t.metrics[target]
	if !ok {
		return nil
	}

	accessible := make([]string, 0, len(byRunway))
	for id, m := range byRunway {
		switch m.State {
		case StateAccessible:
			accessible = append(accessible, id)
		case StatePartiallyAccessible:
			if m.SuccessRate >= t.threshold {
				accessible = append(accessible, id)
			}
		}
	}
	return accessible
}

// Metrics returns a copy of the metrics for one pair, or nil if the pair
// has never been updated.
func (t *Tracker) Metrics(target, runwayID string) *TargetMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	byRunway, ok := t.metrics[target]
	if !ok {
		return nil
	}
	m, ok := byRunway[runwayID]
	if !ok {
		return nil
	}
	return m.clone()
}

// Targets returns every target the tracker has seen.
func (t *Tracker) Targets() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	targets := make([]string, 0, len(t.metrics))
	for target := range t.metrics {
		targets = append(targets, target)
	}
	return targets
}

// MetricsForTarget returns copies of all per-runway metrics for target.
func (t *Tracker) MetricsForTarget(target string) map[string]*TargetMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	byRunway, ok := t.metrics[target]
	if !ok {
		return map[string]*TargetMetrics{}
	}
	out := make(map[string]*TargetMetrics, len(byRunway))
	for id, m := range byRunway {
		out[id] = m.clone()
	}
	return out
}
