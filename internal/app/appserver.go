package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/tayyebi/smart-proxy/internal/dnsclient"
	"github.com/tayyebi/smart-proxy/internal/health"
	"github.com/tayyebi/smart-proxy/internal/netif"
	"github.com/tayyebi/smart-proxy/internal/proxy"
	"github.com/tayyebi/smart-proxy/internal/routing"
	"github.com/tayyebi/smart-proxy/internal/runway"
	"github.com/tayyebi/smart-proxy/internal/service/web"
	"github.com/tayyebi/smart-proxy/internal/shared/logger"
	"github.com/tayyebi/smart-proxy/internal/shared/types"
	"github.com/tayyebi/smart-proxy/internal/tracker"
)

// AppServer wires the core subsystems together and supervises their
// lifecycle: runway discovery, the proxy front-end, the health monitor,
// and the optional status web UI.
type AppServer struct {
	cfg *types.Config

	inventory *netif.Inventory
	resolver  *dnsclient.Resolver
	runwayMgr *runway.Manager
	tracker   *tracker.Tracker
	routing   *routing.Engine
	proxy     *proxy.Server
	monitor   *health.Monitor
	webServer *web.Server
	hub       *web.Hub

	running  bool
	runMu    sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg *types.Config) *AppServer {
	inventory := netif.NewInventory()
	resolver := dnsclient.NewResolver(cfg.DNSServers, time.Duration(cfg.DNSTimeout*float64(time.Second)))
	runwayMgr := runway.NewManager(cfg, inventory, resolver)
	trk := tracker.New(cfg.SuccessRateWindow, cfg.SuccessRateThreshold)

	mode, err := routing.ParseMode(cfg.RoutingMode)
	if err != nil {
		mode = routing.ModeLatency
	}
	engine := routing.New(trk, mode)

	proxyServer := proxy.NewServer(cfg, runwayMgr, engine, trk)
	monitor := health.NewMonitor(
		runwayMgr, trk,
		time.Duration(cfg.HealthCheckInterval)*time.Second,
		time.Duration(cfg.AccessibilityTimeout)*time.Second,
	)

	hub := web.NewHub()
	webServer := web.NewServer(cfg, runwayMgr, engine, trk, proxyServer, hub)
	proxyServer.SetObserver(hub.BroadcastConnectionLog)

	return &AppServer{
		cfg:       cfg,
		inventory: inventory,
		resolver:  resolver,
		runwayMgr: runwayMgr,
		tracker:   trk,
		routing:   engine,
		proxy:     proxyServer,
		monitor:   monitor,
		webServer: webServer,
		hub:       hub,
		stopChan:  make(chan struct{}),
	}
}

// Start brings every subsystem up. A bind/listen failure of the proxy
// front-end is fatal and returned.
func (s *AppServer) Start() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return fmt.Errorf("app server already running")
	}

	runways := s.runwayMgr.DiscoverRunways()
	logger.Info().Int("count", len(runways)).Msg("Runways discovered.")

	if err := s.proxy.Start(); err != nil {
		return fmt.Errorf("proxy front-end: %w", err)
	}

	s.monitor.Start()

	go s.hub.Run()
	s.webServer.Start(&s.wg)

	s.wg.Add(1)
	go s.statsLoop()

	s.running = true
	logger.Info().Msg("Smart proxy service started.")
	return nil
}

// Stop shuts everything down cooperatively; outstanding request handlers
// drain under their socket timeouts.
func (s *AppServer) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	s.runMu.Unlock()

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})

	s.monitor.Stop()
	s.proxy.Stop()
	s.webServer.Stop()
	s.wg.Wait()
	logger.Info().Msg("Smart proxy service stopped.")
}

func (s *AppServer) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

// Wait blocks until every supervised goroutine has exited.
func (s *AppServer) Wait() {
	s.wg.Wait()
}

// statsLoop periodically aggregates proxy stats and broadcasts them to
// dashboard clients.
func (s *AppServer) statsLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var lastSent, lastReceived uint64
	var lastTimestamp time.Time

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			sent := s.proxy.TotalBytesSent()
			received := s.proxy.TotalBytesReceived()

			var upRate, downRate uint64
			if !lastTimestamp.IsZero() {
				elapsed := now.Sub(lastTimestamp).Seconds()
				if elapsed > 0 {
					upRate = uint64(float64(sent-lastSent) / elapsed)
					downRate = uint64(float64(received-lastReceived) / elapsed)
				}
			}
			lastSent, lastReceived, lastTimestamp = sent, received, now

			s.hub.BroadcastDashboardUpdate(&web.DashboardStats{
				Timestamp:          now,
				ActiveConnections:  s.proxy.ActiveConnections(),
				TotalConnections:   s.proxy.TotalConnections(),
				TotalBytesSent:     sent,
				TotalBytesReceived: received,
				UplinkRate:         upRate,
				DownlinkRate:       downRate,
			})

		case <-s.stopChan:
			return
		}
	}
}

// --- Read surface used by the control CLI and tests ---

func (s *AppServer) RunwayManager() *runway.Manager { return s.runwayMgr }
func (s *AppServer) Tracker() *tracker.Tracker      { return s.tracker }
func (s *AppServer) Routing() *routing.Engine       { return s.routing }
func (s *AppServer) Proxy() *proxy.Server           { return s.proxy }
