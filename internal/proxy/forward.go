package proxy

import (
	"bufio"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tayyebi/smart-proxy/internal/dnsclient"
	"github.com/tayyebi/smart-proxy/internal/runway"
	"github.com/tayyebi/smart-proxy/internal/shared/logger"
	"github.com/tayyebi/smart-proxy/internal/validator"
)

// hopByHopHeaders are stripped when proxying (RFC 7230 section 6).
var hopByHopHeaders = map[string]struct{}{
	"host":             {},
	"connection":       {},
	"proxy-connection": {},
}

// exchangeResult is the outcome of one attempt to carry a request over a
// runway.
type exchangeResult struct {
	NetOK      bool
	UserOK     bool
	StatusCode int
	StatusText string
	Version    string
	Headers    map[string]string
	Body       []byte
	RTTSecs    float64
}

// doExchange resolves the target over the runway's DNS, dials the origin
// through the runway, forwards the request, and reads and validates the
// response. Transport failures are returned as errors with NetOK=false
// for the caller's tracker update; an origin status outside 2xx/3xx is
// returned with a nil error and NetOK=false.
func (s *Server) doExchange(req *httpMessage, targetHost string, targetPort int, rw *runway.Runway) (*exchangeResult, error) {
	l := logger.WithComponent("Proxy/Forward")
	failed := &exchangeResult{}

	var resolvedIP string
	if dnsclient.IsIPAddress(targetHost) || dnsclient.IsPrivateIP(targetHost) {
		resolvedIP = targetHost
	} else {
		ip, _, err := s.resolver.ResolveVia(rw.DNS, targetHost)
		if err != nil {
			return failed, fmt.Errorf("resolve %s via %s: %w", targetHost, rw.DNS.Host, err)
		}
		resolvedIP = ip
	}

	timeout := time.Duration(s.cfg.NetworkTimeout) * time.Second
	start := time.Now()

	conn, absoluteForm, err := s.runwayMgr.DialOrigin(rw, resolvedIP, targetPort, timeout)
	if err != nil {
		return failed, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return failed, fmt.Errorf("origin deadline: %w", err)
	}

	if _, err := conn.Write(buildForwardRequest(req, targetHost, targetPort, absoluteForm)); err != nil {
		return failed, fmt.Errorf("write to origin: %w", err)
	}

	// The full response may take longer than a single socket operation;
	// the validation timeout bounds the whole read.
	if s.cfg.UserValidationTimeout > 0 {
		conn.SetDeadline(time.Now().Add(time.Duration(s.cfg.UserValidationTimeout) * time.Second))
	}

	resp, err := parseResponse(bufio.NewReader(conn))
	if err != nil {
		return failed, fmt.Errorf("read origin response: %w", err)
	}
	rtt := time.Since(start).Seconds()

	netOK, userOK := validator.ValidateHTTP(resp.StatusCode, resp.Body)
	l.Debug().
		Str("target", targetHost).
		Str("runway_id", rw.ID).
		Int("status_code", resp.StatusCode).
		Bool("network_success", netOK).
		Bool("user_success", userOK).
		Float64("rtt_s", rtt).
		Msg("Exchange finished.")

	return &exchangeResult{
		NetOK:      netOK,
		UserOK:     userOK,
		StatusCode: resp.StatusCode,
		StatusText: resp.StatusText,
		Version:    resp.Version,
		Headers:    resp.Headers,
		Body:       resp.Body,
		RTTSecs:    rtt,
	}, nil
}

// buildForwardRequest serialises the outbound request: request line in
// origin or absolute form, hop-by-hop headers stripped, Host injected.
func buildForwardRequest(req *httpMessage, targetHost string, targetPort int, absoluteForm bool) []byte {
	path := originFormPath(req.Path)
	if absoluteForm {
		path = absoluteFormPath(req.Path, targetHost, targetPort)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s\r\n", req.Method, path, req.Version)

	names := make([]string, 0, len(req.Headers))
	for name := range req.Headers {
		if _, hop := hopByHopHeaders[name]; hop {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "%s: %s\r\n", name, req.Headers[name])
	}

	fmt.Fprintf(&sb, "Host: %s\r\n\r\n", hostHeaderValue(targetHost, targetPort))

	out := make([]byte, 0, sb.Len()+len(req.Body))
	out = append(out, sb.String()...)
	return append(out, req.Body...)
}

// probeAllRunways walks the catalog with direct runways first, probing
// each pair under the accessibility timeout and feeding every outcome to
// the tracker. The first runway whose probe reports user success wins.
func (s *Server) probeAllRunways(target string, runways []*runway.Runway) *runway.Runway {
	l := logger.WithComponent("Proxy/ProbeAll")
	timeout := time.Duration(s.cfg.AccessibilityTimeout) * time.Second

	prioritized := make([]*runway.Runway, 0, len(runways))
	for _, rw := range runways {
		if rw.IsDirect {
			prioritized = append(prioritized, rw)
		}
	}
	for _, rw := range runways {
		if !rw.IsDirect {
			prioritized = append(prioritized, rw)
		}
	}

	for _, rw := range prioritized {
		s.tracker.MarkTesting(target, rw.ID)
		netOK, userOK, rtt := s.runwayMgr.TestRunwayAccessibility(target, rw, timeout)
		s.tracker.Update(target, rw.ID, netOK, userOK, rtt)

		if userOK {
			l.Info().Str("target", target).Str("runway_id", rw.ID).Msg("Probe found a working runway.")
			return rw
		}
	}

	l.Warn().Str("target", target).Int("runways_probed", len(prioritized)).Msg("No runway passed probing.")
	return nil
}

// alternativeRunway picks any accessible runway for target other than the
// one that just failed.
func (s *Server) alternativeRunway(target, currentID string) *runway.Runway {
	for _, id := range s.tracker.AccessibleRunways(target) {
		if id == currentID {
			continue
		}
		if rw := s.runwayMgr.GetRunway(id); rw != nil {
			return rw
		}
	}
	return nil
}
