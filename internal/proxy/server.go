package proxy

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tayyebi/smart-proxy/internal/dnsclient"
	"github.com/tayyebi/smart-proxy/internal/routing"
	"github.com/tayyebi/smart-proxy/internal/runway"
	"github.com/tayyebi/smart-proxy/internal/shared/logger"
	"github.com/tayyebi/smart-proxy/internal/shared/types"
	"github.com/tayyebi/smart-proxy/internal/tracker"
)

const maxRetries = 2

// socks5Reject is the protocol-native refusal: no acceptable methods.
var socks5Reject = []byte{0x05, 0xFF}

// Server is the HTTP forward-proxy front-end. One goroutine per accepted
// client; accept stalls once maxConcurrentConnections handlers are live
// so the kernel backlog absorbs bursts.
type Server struct {
	cfg       *types.Config
	runwayMgr *runway.Manager
	routing   *routing.Engine
	tracker   *tracker.Tracker
	resolver  *dnsclient.Resolver
	registry  *Registry

	listener net.Listener
	running  atomic.Bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	sem      chan struct{}

	activeConnections  atomic.Int64
	totalConnections   atomic.Uint64
	totalBytesSent     atomic.Uint64
	totalBytesReceived atomic.Uint64

	// observer, when set, receives a copy of every finished connection
	// record for live dashboards.
	observer func(ConnectionRecord)
}

func NewServer(cfg *types.Config, mgr *runway.Manager, engine *routing.Engine, trk *tracker.Tracker) *Server {
	maxConns := cfg.MaxConcurrentConnections
	if maxConns <= 0 {
		maxConns = 100
	}
	return &Server{
		cfg:       cfg,
		runwayMgr: mgr,
		routing:   engine,
		tracker:   trk,
		resolver:  mgr.Resolver(),
		registry:  NewRegistry(),
		stopChan:  make(chan struct{}),
		sem:       make(chan struct{}, maxConns),
	}
}

// SetObserver registers a callback for finished connections. Must be
// called before Start.
func (s *Server) SetObserver(fn func(ConnectionRecord)) {
	s.observer = fn
}

// Start binds the listen socket and launches the accept loop. Bind or
// listen failure is fatal to the front-end and returned to the caller.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("proxy server already running")
	}

	addr := net.JoinHostPort(s.cfg.ProxyListenHost, strconv.Itoa(s.cfg.ProxyListenPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	logger.Info().Str("listen_addr", addr).Msg("Proxy server started.")
	return nil
}

// Stop closes the listener and drains outstanding handlers.
func (s *Server) Stop() {
	if !s.running.Swap(false) {
		return
	}
	close(s.stopChan)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	logger.Info().Msg("Proxy server stopped.")
}

func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	l := logger.WithComponent("Proxy/Accept")

	for {
		// Backpressure: hold the accept until a handler slot frees up.
		select {
		case s.sem <- struct{}{}:
		case <-s.stopChan:
			return
		}

		conn, err := s.listener.Accept()
		if err != nil {
			<-s.sem
			select {
			case <-s.stopChan:
				return
			default:
			}
			l.Warn().Err(err).Msg("Accept failed.")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			defer conn.Close()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection runs the full per-client pipeline: demux, parse,
// target extraction, runway selection with probe fallback, forwarding
// with retry, validation, and the response write. Every tracker update
// for the request happens before the client response is written.
func (s *Server) handleConnection(conn net.Conn) {
	start := time.Now()
	clientIP, clientPort := peerAddress(conn)

	rec := &ConnectionRecord{
		ID:         connID(clientIP, clientPort, start.Unix()),
		ClientIP:   clientIP,
		ClientPort: clientPort,
		StartTime:  start.Unix(),
		Status:     StatusConnecting,
	}
	s.registry.Add(rec)
	s.activeConnections.Add(1)
	s.totalConnections.Add(1)

	ev := logger.ConnectionEvent{
		Event:      "disconnect",
		ClientIP:   clientIP,
		ClientPort: clientPort,
	}

	finish := func() {
		ev.DurationMS = float64(time.Since(start).Milliseconds())
		logger.LogConnection(ev)
		if s.observer != nil {
			snap := *rec
			snap.Duration = int64(time.Since(start).Seconds())
			s.observer(snap)
		}
		s.registry.Remove(rec.ID)
		s.activeConnections.Add(-1)
	}
	defer finish()

	fail := func(errMsg string) {
		ev.Event = "error"
		ev.Error = errMsg
		s.registry.Update(rec.ID, func(r *ConnectionRecord) {
			r.Status = StatusError
			r.Error = errMsg
		})
	}

	networkTimeout := time.Duration(s.cfg.NetworkTimeout) * time.Second
	if err := conn.SetDeadline(time.Now().Add(networkTimeout)); err != nil {
		fail("failed to arm client socket deadline")
		return
	}

	reader := bufio.NewReader(conn)

	// Protocol demux: a SOCKS5 greeting starts with 0x05, HTTP methods
	// are ASCII letters.
	first, err := reader.Peek(1)
	if err != nil {
		fail("connection closed before protocol detection")
		return
	}
	if first[0] == 0x05 {
		conn.Write(socks5Reject)
		fail("SOCKS5 protocol not supported (HTTP proxy only)")
		return
	}

	req, err := parseRequest(reader)
	if err != nil {
		conn.Write(simpleResponse(400))
		fail("failed to parse HTTP request")
		return
	}

	ev.Method = req.Method
	ev.Path = req.Path

	if req.Method == "CONNECT" {
		host, port, err := connectTarget(req)
		if err != nil {
			conn.Write(simpleResponse(400))
			fail("CONNECT without Host header")
			return
		}
		ev.TargetHost, ev.TargetPort = host, port
		conn.Write(simpleResponse(501))
		fail("CONNECT tunnelling not implemented")
		return
	}

	targetHost, targetPort, err := extractTarget(req)
	if err != nil {
		conn.Write(simpleResponse(400))
		fail("no target host specified")
		return
	}

	ev.TargetHost, ev.TargetPort = targetHost, targetPort
	s.registry.Update(rec.ID, func(r *ConnectionRecord) {
		r.TargetHost = targetHost
		r.TargetPort = targetPort
		r.Method = req.Method
		r.Path = req.Path
		r.Status = StatusActive
	})

	allRunways := s.runwayMgr.GetAllRunways()
	selected := s.routing.Select(targetHost, allRunways)
	if selected == nil {
		selected = s.probeAllRunways(targetHost, allRunways)
	}
	if selected == nil {
		// Probing may have outlived the initial deadline.
		conn.SetDeadline(time.Now().Add(networkTimeout))
		conn.Write(simpleResponse(502))
		fail("no accessible runway found")
		return
	}

	ev.RunwayID = selected.ID
	s.registry.Update(rec.ID, func(r *ConnectionRecord) {
		r.RunwayID = selected.ID
	})

	for attempt := 0; attempt < maxRetries; attempt++ {
		result, exchErr := s.doExchange(req, targetHost, targetPort, selected)
		s.tracker.Update(targetHost, selected.ID, result.NetOK, result.UserOK, result.RTTSecs)

		if result.NetOK {
			payload := buildResponse(result.Version, result.StatusCode, result.StatusText, result.Headers, result.Body)

			conn.SetDeadline(time.Now().Add(networkTimeout))
			sent, writeErr := conn.Write(payload)
			if writeErr != nil {
				// Headers may already be on the wire; the client sees
				// truncation, nothing more we can do.
				fail("client write failed mid-response")
				return
			}

			s.totalBytesSent.Add(uint64(sent))
			s.totalBytesReceived.Add(uint64(len(req.Body)))

			ev.StatusCode = result.StatusCode
			ev.BytesSent = uint64(sent)
			ev.BytesReceived = uint64(len(req.Body))
			s.registry.Update(rec.ID, func(r *ConnectionRecord) {
				r.Status = StatusCompleted
				r.StatusCode = result.StatusCode
				r.BytesTx = uint64(sent)
				r.BytesRx = uint64(len(req.Body))
			})
			return
		}

		if exchErr != nil {
			logger.Debug().Err(exchErr).Str("runway_id", selected.ID).Int("attempt", attempt+1).Msg("Exchange attempt failed.")
		}

		if attempt < maxRetries-1 {
			alt := s.alternativeRunway(targetHost, selected.ID)
			if alt == nil {
				break
			}
			selected = alt
			ev.RunwayID = selected.ID
			s.registry.Update(rec.ID, func(r *ConnectionRecord) {
				r.RunwayID = selected.ID
			})
		}
	}

	conn.SetDeadline(time.Now().Add(networkTimeout))
	conn.Write(simpleResponse(502))
	ev.StatusCode = 502
	fail("all runway attempts failed")
}

func peerAddress(conn net.Conn) (string, int) {
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP.String(), addr.Port
	}
	host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// --- Read-only stats surface for observers ---

func (s *Server) ActiveConnections() int64   { return s.activeConnections.Load() }
func (s *Server) TotalConnections() uint64   { return s.totalConnections.Load() }
func (s *Server) TotalBytesSent() uint64     { return s.totalBytesSent.Load() }
func (s *Server) TotalBytesReceived() uint64 { return s.totalBytesReceived.Load() }

// ActiveConnectionsInfo snapshots the live connection records.
func (s *Server) ActiveConnectionsInfo() []ConnectionRecord {
	return s.registry.Snapshot()
}
