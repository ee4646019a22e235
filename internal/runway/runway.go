package runway

import (
	"net"
	"strconv"
	"sync/atomic"

	"github.com/tayyebi/smart-proxy/internal/shared/types"
)

// UpstreamProxy is the shared record for one configured proxy hop. Every
// runway built over the same (type, host, port) points at the same record,
// so a probe outcome on one runway is observed by all of them.
type UpstreamProxy struct {
	Type string
	Host string
	Port int

	accessible   atomic.Bool
	lastSuccess  atomic.Int64
	failureCount atomic.Int64
}

func NewUpstreamProxy(conf types.UpstreamProxyConf) *UpstreamProxy {
	p := &UpstreamProxy{Type: conf.Type, Host: conf.Host, Port: conf.Port}
	p.accessible.Store(true)
	return p
}

// Key identifies the flyweight record.
func (p *UpstreamProxy) Key() string {
	return p.Type + "_" + net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p *UpstreamProxy) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p *UpstreamProxy) Accessible() bool   { return p.accessible.Load() }
func (p *UpstreamProxy) LastSuccess() int64 { return p.lastSuccess.Load() }
func (p *UpstreamProxy) FailureCount() int64 {
	return p.failureCount.Load()
}

func (p *UpstreamProxy) markSuccess(now int64) {
	p.accessible.Store(true)
	p.lastSuccess.Store(now)
	p.failureCount.Store(0)
}

func (p *UpstreamProxy) markFailure() {
	p.accessible.Store(false)
	p.failureCount.Add(1)
}

// Runway is one concrete egress path: a local interface, an optional
// upstream proxy hop, and the DNS resolver to use for the path.
type Runway struct {
	ID        string
	Interface string
	SourceIP  string
	Proxy     *UpstreamProxy // nil for direct runways
	DNS       types.DNSServerConf
	IsDirect  bool

	// usable flips to false when the interface disappears from the
	// inventory. The ID survives for the process lifetime regardless.
	usable atomic.Bool
}

func (r *Runway) Usable() bool { return r.usable.Load() }

// Info is the read-only projection served to observers.
type Info struct {
	ID        string `json:"id"`
	Interface string `json:"interface"`
	SourceIP  string `json:"source_ip"`
	IsDirect  bool   `json:"is_direct"`
	Usable    bool   `json:"usable"`
	DNSHost   string `json:"dns_host"`
	DNSName   string `json:"dns_name,omitempty"`

	ProxyType         string `json:"proxy_type,omitempty"`
	ProxyAddr         string `json:"proxy_addr,omitempty"`
	ProxyAccessible   *bool  `json:"proxy_accessible,omitempty"`
	ProxyFailureCount int64  `json:"proxy_failure_count,omitempty"`
}

func (r *Runway) Snapshot() Info {
	info := Info{
		ID:        r.ID,
		Interface: r.Interface,
		SourceIP:  r.SourceIP,
		IsDirect:  r.IsDirect,
		Usable:    r.Usable(),
		DNSHost:   r.DNS.Host,
		DNSName:   r.DNS.Name,
	}
	if r.Proxy != nil {
		accessible := r.Proxy.Accessible()
		info.ProxyType = r.Proxy.Type
		info.ProxyAddr = r.Proxy.Addr()
		info.ProxyAccessible = &accessible
		info.ProxyFailureCount = r.Proxy.FailureCount()
	}
	return info
}
