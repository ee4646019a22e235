package runway

import (
	"net"
	"strconv"
	"time"

	"github.com/tayyebi/smart-proxy/internal/dnsclient"
	"github.com/tayyebi/smart-proxy/internal/shared/logger"
)

// TestRunwayAccessibility probes one (target, runway) pair under timeout
// and returns (network success, user success, response time in seconds).
// Probes carry no client payload and never mutate the tracker; the caller
// applies the outcome. user success mirrors network success here - only a
// real HTTP exchange through the request path can refine it.
func (m *Manager) TestRunwayAccessibility(target string, rw *Runway, timeout time.Duration) (bool, bool, float64) {
	l := logger.WithComponent("Runway/Prober")

	if rw == nil || !rw.Usable() {
		return false, false, 0
	}

	var resolvedIP string
	if dnsclient.IsIPAddress(target) || dnsclient.IsPrivateIP(target) {
		resolvedIP = target
	} else {
		ip, _, err := m.resolver.ResolveVia(rw.DNS, target)
		if err != nil {
			l.Debug().Err(err).Str("target", target).Str("runway_id", rw.ID).Msg("Probe DNS resolution failed.")
			return false, false, 0
		}
		resolvedIP = ip
	}

	start := time.Now()
	var netOK bool
	if rw.IsDirect {
		netOK = m.probeDirect(rw, resolvedIP, timeout)
	} else {
		netOK = m.probeProxyHop(rw, timeout)
	}
	rtt := time.Since(start).Seconds()

	l.Debug().
		Str("target", target).
		Str("runway_id", rw.ID).
		Bool("network_success", netOK).
		Float64("rtt_s", rtt).
		Msg("Probe finished.")

	return netOK, netOK, rtt
}

// probeDirect attempts a TCP connect to resolvedIP:80 from the runway's
// source address.
func (m *Manager) probeDirect(rw *Runway, resolvedIP string, timeout time.Duration) bool {
	if _, ok := m.inventory.Get(rw.Interface); !ok {
		return false
	}

	dialer := net.Dialer{Timeout: timeout}
	if src := net.ParseIP(rw.SourceIP); src != nil {
		dialer.LocalAddr = &net.TCPAddr{IP: src}
	}

	conn, err := dialer.Dial("tcp", net.JoinHostPort(resolvedIP, strconv.Itoa(80)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// probeProxyHop attempts a TCP connect to the upstream proxy itself;
// accessibility of the hop is what matters for proxy runways. The shared
// proxy record is updated so every runway over the hop observes it.
func (m *Manager) probeProxyHop(rw *Runway, timeout time.Duration) bool {
	if rw.Proxy == nil {
		return false
	}

	conn, err := net.DialTimeout("tcp", rw.Proxy.Addr(), timeout)
	if err != nil {
		rw.Proxy.markFailure()
		return false
	}
	conn.Close()
	rw.Proxy.markSuccess(time.Now().Unix())
	return true
}
