package routing

import (
	"fmt"
	"sync"

	"github.com/tayyebi/smart-proxy/internal/runway"
	"github.com/tayyebi/smart-proxy/internal/tracker"
)

// Mode selects how a runway is picked from the accessible set.
type Mode string

const (
	ModeLatency         Mode = "latency"
	ModeFirstAccessible Mode = "first_accessible"
	ModeRoundRobin      Mode = "round_robin"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLatency, ModeFirstAccessible, ModeRoundRobin:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown routing mode %q", s)
}

// Engine picks one runway per request from the tracker's accessible view.
// The mode is runtime-mutable and takes effect on the very next Select.
type Engine struct {
	tracker *tracker.Tracker

	modeMu sync.Mutex
	mode   Mode

	rrMu    sync.Mutex
	rrIndex map[string]int // per-target round-robin cursor
}

func New(t *tracker.Tracker, mode Mode) *Engine {
	return &Engine{
		tracker: t,
		mode:    mode,
		rrIndex: make(map[string]int),
	}
}

func (e *Engine) SetMode(mode Mode) {
	e.modeMu.Lock()
	e.mode = mode
	e.modeMu.Unlock()
}

func (e *Engine) GetMode() Mode {
	e.modeMu.Lock()
	defer e.modeMu.Unlock()
	return e.mode
}

// Select filters the snapshot down to the accessible set for target and
// applies the current mode. It returns nil when nothing is accessible;
// the caller falls back to active probing.
func (e *Engine) Select(target string, runways []*runway.Runway) *runway.Runway {
	mode := e.GetMode()

	accessibleIDs := e.tracker.AccessibleRunways(target)
	if len(accessibleIDs) == 0 {
		e.ResetCursor(target)
		return nil
	}

	idSet := make(map[string]struct{}, len(accessibleIDs))
	for _, id := range accessibleIDs {
		idSet[id] = struct{}{}
	}

	accessible := make([]*runway.Runway, 0, len(accessibleIDs))
	for _, rw := range runways {
		if _, ok := idSet[rw.ID]; ok {
			accessible = append(accessible, rw)
		}
	}
	if len(accessible) == 0 {
		e.ResetCursor(target)
		return nil
	}

	switch mode {
	case ModeLatency:
		return e.selectByLatency(target, accessible)
	case ModeRoundRobin:
		return e.selectRoundRobin(target, accessible)
	default:
		return accessible[0]
	}
}

// selectByLatency picks the lowest EMA response time; pairs without a
// positive average fall back to first-accessible.
func (e *Engine) selectByLatency(target string, runways []*runway.Runway) *runway.Runway {
	var best *runway.Runway
	bestLatency := 0.0

	for _, rw := range runways {
		m := e.tracker.Metrics(target, rw.ID)
		if m == nil || m.AvgResponseTime <= 0 {
			continue
		}
		if best == nil || m.AvgResponseTime < bestLatency {
			best = rw
			bestLatency = m.AvgResponseTime
		}
	}

	if best != nil {
		return best
	}
	return runways[0]
}

// selectRoundRobin advances the per-target cursor. The cursor persists
// across calls and is only reset when the accessible set becomes empty.
func (e *Engine) selectRoundRobin(target string, runways []*runway.Runway) *runway.Runway {
	e.rrMu.Lock()
	defer e.rrMu.Unlock()

	index := e.rrIndex[target]
	selected := runways[index%len(runways)]
	e.rrIndex[target] = (index + 1) % len(runways)
	return selected
}

// ResetCursor clears the round-robin position for a target.
func (e *Engine) ResetCursor(target string) {
	e.rrMu.Lock()
	delete(e.rrIndex, target)
	e.rrMu.Unlock()
}
