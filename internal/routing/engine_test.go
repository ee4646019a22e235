package routing

import (
	"testing"

	"github.com/tayyebi/smart-proxy/internal/runway"
	"github.com/tayyebi/smart-proxy/internal/tracker"
)

func testRunway(id string) *runway.Runway {
	return &runway.Runway{ID: id, Interface: "eth0", SourceIP: "192.0.2.1", IsDirect: true}
}

// setupAccessible marks every runway fully accessible with the given
// response times.
func setupAccessible(trk *tracker.Tracker, target string, latencies map[string]float64) []*runway.Runway {
	runways := make([]*runway.Runway, 0, len(latencies))
	for _, id := range []string{"r1", "r2", "r3"} {
		latency, ok := latencies[id]
		if !ok {
			continue
		}
		trk.Update(target, id, true, true, latency)
		runways = append(runways, testRunway(id))
	}
	return runways
}

func TestSelect_EmptyAccessibleSetReturnsNil(t *testing.T) {
	trk := tracker.New(10, 0.5)
	engine := New(trk, ModeLatency)

	if rw := engine.Select("example.com", []*runway.Runway{testRunway("r1")}); rw != nil {
		t.Errorf("Expected nil with no accessible runways, got %s", rw.ID)
	}
}

func TestSelect_SnapshotFilteredByAccessibleSet(t *testing.T) {
	trk := tracker.New(10, 0.5)
	engine := New(trk, ModeFirstAccessible)

	trk.Update("example.com", "r2", true, true, 0.1)

	// The snapshot contains r1 and r2 but only r2 is accessible.
	selected := engine.Select("example.com", []*runway.Runway{testRunway("r1"), testRunway("r2")})
	if selected == nil || selected.ID != "r2" {
		t.Fatalf("Expected r2, got %v", selected)
	}
}

func TestSelect_LatencyPicksLowestAverage(t *testing.T) {
	trk := tracker.New(10, 0.5)
	engine := New(trk, ModeLatency)

	runways := setupAccessible(trk, "example.com", map[string]float64{
		"r1": 0.9, "r2": 0.2, "r3": 0.5,
	})

	selected := engine.Select("example.com", runways)
	if selected == nil || selected.ID != "r2" {
		t.Fatalf("Expected r2 (lowest EMA), got %v", selected)
	}
}

func TestSelect_LatencyFallsBackToFirstWithoutAverages(t *testing.T) {
	trk := tracker.New(10, 0.5)
	engine := New(trk, ModeLatency)

	// Accessible, but with zero response time samples the EMA stays 0.
	trk.Update("example.com", "r1", true, true, 0)
	trk.Update("example.com", "r2", true, true, 0)

	runways := []*runway.Runway{testRunway("r1"), testRunway("r2")}
	selected := engine.Select("example.com", runways)
	if selected == nil || selected.ID != "r1" {
		t.Fatalf("Expected first-accessible fallback to r1, got %v", selected)
	}
}

func TestSelect_RoundRobinIsExactOverStableSet(t *testing.T) {
	trk := tracker.New(10, 0.5)
	engine := New(trk, ModeRoundRobin)

	runways := setupAccessible(trk, "example.com", map[string]float64{
		"r1": 0.1, "r2": 0.1, "r3": 0.1,
	})

	want := []string{"r1", "r2", "r3", "r1", "r2", "r3", "r1", "r2", "r3"}
	for i, expected := range want {
		selected := engine.Select("example.com", runways)
		if selected == nil || selected.ID != expected {
			t.Fatalf("Call %d: expected %s, got %v", i+1, expected, selected)
		}
	}
}

func TestSelect_RoundRobinCursorIsPerTarget(t *testing.T) {
	trk := tracker.New(10, 0.5)
	engine := New(trk, ModeRoundRobin)

	runwaysA := setupAccessible(trk, "a.example", map[string]float64{"r1": 0.1, "r2": 0.1})
	runwaysB := setupAccessible(trk, "b.example", map[string]float64{"r1": 0.1, "r2": 0.1})

	if rw := engine.Select("a.example", runwaysA); rw.ID != "r1" {
		t.Fatalf("a.example first pick = %s, want r1", rw.ID)
	}
	if rw := engine.Select("b.example", runwaysB); rw.ID != "r1" {
		t.Fatalf("b.example cursor must be independent, got %s", rw.ID)
	}
	if rw := engine.Select("a.example", runwaysA); rw.ID != "r2" {
		t.Fatalf("a.example second pick = %s, want r2", rw.ID)
	}
}

func TestSetMode_ObservableOnNextSelect(t *testing.T) {
	trk := tracker.New(10, 0.5)
	engine := New(trk, ModeRoundRobin)

	runways := setupAccessible(trk, "example.com", map[string]float64{
		"r1": 0.9, "r2": 0.1,
	})

	if rw := engine.Select("example.com", runways); rw.ID != "r1" {
		t.Fatalf("Round robin first pick = %s, want r1", rw.ID)
	}

	engine.SetMode(ModeLatency)
	if got := engine.GetMode(); got != ModeLatency {
		t.Fatalf("GetMode() = %s after SetMode", got)
	}
	if rw := engine.Select("example.com", runways); rw.ID != "r2" {
		t.Errorf("Mode switch must apply on the very next select, got %s", rw.ID)
	}
}

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"latency", "first_accessible", "round_robin"} {
		if _, err := ParseMode(valid); err != nil {
			t.Errorf("ParseMode(%q) returned error: %v", valid, err)
		}
	}
	if _, err := ParseMode("fastest"); err == nil {
		t.Error("ParseMode must reject unknown modes")
	}
}
