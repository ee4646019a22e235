package health

import (
	"sync"
	"time"

	"github.com/tayyebi/smart-proxy/internal/runway"
	"github.com/tayyebi/smart-proxy/internal/shared/logger"
	"github.com/tayyebi/smart-proxy/internal/tracker"
)

const (
	// Per-cycle bounds that keep a large tracker from stampeding probes.
	maxTargetsPerCycle  = 10
	maxFailedPerTarget  = 5
	maxPartialPerTarget = 3
)

// Monitor re-probes failed and partially accessible (target, runway)
// pairs on a fixed cadence. Known-accessible pairs are skipped; the
// request path exercises those.
type Monitor struct {
	runwayMgr *runway.Manager
	tracker   *tracker.Tracker
	interval  time.Duration
	timeout   time.Duration

	ticker   *time.Ticker
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewMonitor(mgr *runway.Manager, trk *tracker.Tracker, interval, timeout time.Duration) *Monitor {
	return &Monitor{
		runwayMgr: mgr,
		tracker:   trk,
		interval:  interval,
		timeout:   timeout,
		stopChan:  make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	l := logger.WithComponent("Health/Monitor")
	l.Info().Str("interval", m.interval.String()).Msg("Health monitor starting.")

	m.ticker = time.NewTicker(m.interval)
	m.wg.Add(1)
	go m.loop()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()
	if m.ticker != nil {
		m.ticker.Stop()
	}
	logger.Info().Msg("Health monitor stopped.")
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ticker.C:
			m.runCycle()
		case <-m.stopChan:
			return
		}
	}
}

// runCycle executes one background pass. Panics are swallowed so a bad
// cycle never kills the loop; the next tick retries.
func (m *Monitor) runCycle() {
	l := logger.WithComponent("Health/Monitor")
	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Msg("Health cycle panicked; continuing.")
		}
	}()

	m.runwayMgr.RefreshInterfaces()

	targets := m.tracker.Targets()
	if len(targets) == 0 {
		return
	}
	if len(targets) > maxTargetsPerCycle {
		targets = targets[:maxTargetsPerCycle]
	}

	probed := 0
	for _, target := range targets {
		select {
		case <-m.stopChan:
			return
		default:
		}
		probed += m.checkTarget(target)
	}

	l.Debug().Int("targets", len(targets)).Int("probes", probed).Msg("Health cycle complete.")
}

// checkTarget probes up to maxFailedPerTarget inaccessible pairs and up
// to maxPartialPerTarget partially accessible pairs for one target.
func (m *Monitor) checkTarget(target string) int {
	metrics := m.tracker.MetricsForTarget(target)

	var failed, partial []string
	for id, tm := range metrics {
		switch tm.State {
		case tracker.StateInaccessible:
			failed = append(failed, id)
		case tracker.StatePartiallyAccessible:
			partial = append(partial, id)
		}
	}

	if len(failed) > maxFailedPerTarget {
		failed = failed[:maxFailedPerTarget]
	}
	if len(partial) > maxPartialPerTarget {
		partial = partial[:maxPartialPerTarget]
	}

	probed := 0
	for _, id := range append(failed, partial...) {
		rw := m.runwayMgr.GetRunway(id)
		if rw == nil {
			continue
		}
		netOK, userOK, rtt := m.runwayMgr.TestRunwayAccessibility(target, rw, m.timeout)
		m.tracker.Update(target, id, netOK, userOK, rtt)
		probed++
	}
	return probed
}
