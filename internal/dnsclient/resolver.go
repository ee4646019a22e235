package dnsclient

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/tayyebi/smart-proxy/internal/shared/logger"
	"github.com/tayyebi/smart-proxy/internal/shared/types"
)

// Error kinds surfaced by Resolve. Callers match with errors.Is.
var (
	ErrTimeout          = errors.New("dns: timeout")
	ErrRefused          = errors.New("dns: server refused")
	ErrMalformed        = errors.New("dns: malformed message")
	ErrNoAnswer         = errors.New("dns: no A answer")
	ErrAllServersFailed = errors.New("dns: all servers failed")
)

// Resolver is a stub RFC 1035 client speaking UDP to a fixed server list,
// with a shared TTL cache. It resolves A records only.
type Resolver struct {
	servers []types.DNSServerConf
	timeout time.Duration
	cache   *ttlCache
}

func NewResolver(servers []types.DNSServerConf, timeout time.Duration) *Resolver {
	return &Resolver{
		servers: servers,
		timeout: timeout,
		cache:   newTTLCache(),
	}
}

// IsIPAddress reports whether target parses as a dotted-quad IPv4 literal.
func IsIPAddress(target string) bool {
	ip := net.ParseIP(target)
	return ip != nil && ip.To4() != nil
}

// IsPrivateIP reports whether ip is an RFC 1918 or loopback IPv4 literal.
func IsPrivateIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return false
	}
	return parsed.IsPrivate() || parsed.IsLoopback()
}

// Resolve looks up domain, trying the configured servers in order and
// returning the failure of the last attempt if every server fails.
// Literal IPv4 inputs short-circuit with rtt 0.
func (r *Resolver) Resolve(domain string) (string, float64, error) {
	if IsIPAddress(domain) {
		return domain, 0, nil
	}

	if ip, ok := r.cache.get(domain); ok {
		return ip, 0, nil
	}

	var lastErr error = ErrAllServersFailed
	for _, server := range r.servers {
		ip, rtt, err := r.query(server, domain)
		if err != nil {
			lastErr = err
			continue
		}
		r.cache.put(domain, ip)
		return ip, rtt, nil
	}
	return "", 0, lastErr
}

// ResolveVia looks up domain through a single server, sharing the cache
// with Resolve. Runways pin their lookups to their own resolver this way.
func (r *Resolver) ResolveVia(server types.DNSServerConf, domain string) (string, float64, error) {
	if IsIPAddress(domain) {
		return domain, 0, nil
	}

	if ip, ok := r.cache.get(domain); ok {
		return ip, 0, nil
	}

	ip, rtt, err := r.query(server, domain)
	if err != nil {
		return "", 0, err
	}
	r.cache.put(domain, ip)
	return ip, rtt, nil
}

// query performs one UDP exchange with one server.
func (r *Resolver) query(server types.DNSServerConf, domain string) (string, float64, error) {
	l := logger.WithComponent("DNS/Resolver")

	id := newTransactionID()
	packet, err := buildQuery(id, domain)
	if err != nil {
		return "", 0, err
	}

	port := server.Port
	if port <= 0 {
		port = 53
	}
	addr := net.JoinHostPort(server.Host, strconv.Itoa(port))

	conn, err := net.DialTimeout("udp", addr, r.timeout)
	if err != nil {
		return "", 0, fmt.Errorf("%w: dial %s: %v", ErrTimeout, addr, err)
	}
	defer conn.Close()

	start := time.Now()
	if err := conn.SetDeadline(start.Add(r.timeout)); err != nil {
		return "", 0, fmt.Errorf("%w: deadline: %v", ErrTimeout, err)
	}

	if _, err := conn.Write(packet); err != nil {
		return "", 0, fmt.Errorf("%w: send to %s: %v", ErrTimeout, addr, err)
	}

	resp := make([]byte, 512)
	n, err := conn.Read(resp)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return "", 0, fmt.Errorf("%w: %s", ErrTimeout, addr)
		}
		return "", 0, fmt.Errorf("%w: recv from %s: %v", ErrTimeout, addr, err)
	}
	rtt := float64(time.Since(start).Milliseconds())

	ip, err := parseResponse(resp[:n], id)
	if err != nil {
		l.Debug().Err(err).Str("server", addr).Str("domain", domain).Msg("DNS answer rejected.")
		return "", 0, err
	}

	l.Debug().Str("domain", domain).Str("ip", ip).Str("server", addr).Float64("rtt_ms", rtt).Msg("Resolved.")
	return ip, rtt, nil
}

// CacheSize exposes the number of live cache entries for observers.
func (r *Resolver) CacheSize() int {
	return r.cache.len()
}

// Servers returns the configured server list.
func (r *Resolver) Servers() []types.DNSServerConf {
	return r.servers
}
