package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tayyebi/smart-proxy/internal/proxy"
	"github.com/tayyebi/smart-proxy/internal/routing"
	"github.com/tayyebi/smart-proxy/internal/runway"
	"github.com/tayyebi/smart-proxy/internal/shared/logger"
	"github.com/tayyebi/smart-proxy/internal/shared/types"
	"github.com/tayyebi/smart-proxy/internal/tracker"
)

const sessionCookie = "smartproxy_session"

// Server is the optional embedded status web UI: a read-only JSON view of
// the core plus three actions (mode switch, manual test, interface
// reload). It is disabled when the configured port is 0.
type Server struct {
	cfg       *types.Config
	runwayMgr *runway.Manager
	routing   *routing.Engine
	tracker   *tracker.Tracker
	prox      *proxy.Server
	hub       *Hub

	httpServer *http.Server
	startTime  time.Time

	sessionsMu sync.Mutex
	sessions   map[string]time.Time
}

func NewServer(cfg *types.Config, mgr *runway.Manager, engine *routing.Engine, trk *tracker.Tracker, prox *proxy.Server, hub *Hub) *Server {
	return &Server{
		cfg:       cfg,
		runwayMgr: mgr,
		routing:   engine,
		tracker:   trk,
		prox:      prox,
		hub:       hub,
		sessions:  make(map[string]time.Time),
	}
}

// Start launches the UI server in the background. A port of 0 disables it.
func (s *Server) Start(wg *sync.WaitGroup) {
	if s.cfg.WebUIListenPort <= 0 {
		logger.Info().Msg("Status web UI is disabled (webui_listen_port is 0).")
		return
	}

	s.startTime = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.withSession(s.handleStatus))
	mux.HandleFunc("/api/runways", s.withSession(s.handleRunways))
	mux.HandleFunc("/api/targets", s.withSession(s.handleTargets))
	mux.HandleFunc("/api/connections", s.withSession(s.handleConnections))
	mux.HandleFunc("/api/stats", s.withSession(s.handleStats))
	mux.HandleFunc("/api/action", s.withSession(s.handleAction))
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(s.hub, w, r)
	})

	addr := net.JoinHostPort(s.cfg.WebUIListenHost, strconv.Itoa(s.cfg.WebUIListenPort))
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Str("listen_addr", addr).Msg("Status web UI started.")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Status web UI failed.")
		}
	}()
}

// Stop shuts the UI server down.
func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.httpServer.Shutdown(ctx)
}

// withSession issues a session cookie on first contact so dashboards can
// keep per-viewer state client side.
func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie(sessionCookie); err != nil {
			id := uuid.New().String()
			s.sessionsMu.Lock()
			s.sessions[id] = time.Now()
			s.sessionsMu.Unlock()
			http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: id, Path: "/"})
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "running",
		"routing_mode":   string(s.routing.GetMode()),
		"runways_count":  len(s.runwayMgr.GetAllRunways()),
		"targets_count":  len(s.tracker.Targets()),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleRunways(w http.ResponseWriter, r *http.Request) {
	all := s.runwayMgr.GetAllRunways()
	infos := make([]runway.Info, 0, len(all))
	for _, rw := range all {
		infos = append(infos, rw.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runways": infos})
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	if target := r.URL.Query().Get("target"); target != "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"target":  target,
			"metrics": s.tracker.MetricsForTarget(target),
		})
		return
	}

	targets := s.tracker.Targets()
	out := make(map[string]interface{}, len(targets))
	for _, target := range targets {
		out[target] = map[string]interface{}{
			"accessible_runways": s.tracker.AccessibleRunways(target),
			"metrics":            s.tracker.MetricsForTarget(target),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"targets": out})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connections": s.prox.ActiveConnectionsInfo(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_connections":   s.prox.ActiveConnections(),
		"total_connections":    s.prox.TotalConnections(),
		"total_bytes_sent":     s.prox.TotalBytesSent(),
		"total_bytes_received": s.prox.TotalBytesReceived(),
		"dns_cache_entries":    s.runwayMgr.Resolver().CacheSize(),
	})
}

// actionRequest is the body of POST /api/action.
type actionRequest struct {
	Action   string `json:"action"`
	Mode     string `json:"mode,omitempty"`
	Target   string `json:"target,omitempty"`
	RunwayID string `json:"runway_id,omitempty"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	switch req.Action {
	case "set_mode":
		mode, err := routing.ParseMode(req.Mode)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.routing.SetMode(mode)
		logger.Info().Str("mode", req.Mode).Msg("Routing mode changed via web UI.")
		writeJSON(w, http.StatusOK, map[string]string{"result": "ok", "mode": req.Mode})

	case "test":
		if req.Target == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "target required"})
			return
		}
		writeJSON(w, http.StatusOK, s.testTarget(req.Target, req.RunwayID))

	case "reload":
		s.runwayMgr.RefreshInterfaces()
		logger.Info().Msg("Interface refresh and runway rediscovery triggered via web UI.")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"result":        "ok",
			"runways_count": len(s.runwayMgr.GetAllRunways()),
		})

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown action"})
	}
}

// testTarget probes one runway (or every runway) against a target and
// applies the outcomes to the tracker.
func (s *Server) testTarget(target, runwayID string) map[string]interface{} {
	timeout := time.Duration(s.cfg.AccessibilityTimeout) * time.Second

	runways := s.runwayMgr.GetAllRunways()
	if runwayID != "" {
		rw := s.runwayMgr.GetRunway(runwayID)
		if rw == nil {
			return map[string]interface{}{"error": "unknown runway id"}
		}
		runways = []*runway.Runway{rw}
	}

	results := make([]map[string]interface{}, 0, len(runways))
	for _, rw := range runways {
		netOK, userOK, rtt := s.runwayMgr.TestRunwayAccessibility(target, rw, timeout)
		s.tracker.Update(target, rw.ID, netOK, userOK, rtt)
		results = append(results, map[string]interface{}{
			"runway_id":       rw.ID,
			"network_success": netOK,
			"user_success":    userOK,
			"rtt_s":           rtt,
		})
	}
	return map[string]interface{}{"target": target, "results": results}
}
