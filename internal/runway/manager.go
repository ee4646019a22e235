package runway

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tayyebi/smart-proxy/internal/dnsclient"
	"github.com/tayyebi/smart-proxy/internal/netif"
	"github.com/tayyebi/smart-proxy/internal/shared/logger"
	"github.com/tayyebi/smart-proxy/internal/shared/types"
)

// Manager owns the runway catalog: the cross product of usable local
// interfaces, configured upstream proxies, and DNS resolvers. The catalog
// is append-mostly; runway ids are stable and unique for the process
// lifetime, and interface removal marks runways unusable without deleting
// them.
type Manager struct {
	wantInterfaces []string
	dnsServers     []types.DNSServerConf
	inventory      *netif.Inventory
	resolver       *dnsclient.Resolver

	mu        sync.Mutex
	proxies   map[string]*UpstreamProxy // flyweight table keyed by (type, host, port)
	proxyList []*UpstreamProxy
	runways   map[string]*Runway
	order     []string // catalog insertion order, for stable iteration
	counter   int
}

func NewManager(cfg *types.Config, inventory *netif.Inventory, resolver *dnsclient.Resolver) *Manager {
	m := &Manager{
		wantInterfaces: cfg.Interfaces,
		dnsServers:     cfg.DNSServers,
		inventory:      inventory,
		resolver:       resolver,
		proxies:        make(map[string]*UpstreamProxy),
		runways:        make(map[string]*Runway),
	}

	for _, conf := range cfg.UpstreamProxies {
		p := NewUpstreamProxy(conf)
		if _, exists := m.proxies[p.Key()]; exists {
			continue
		}
		m.proxies[p.Key()] = p
		m.proxyList = append(m.proxyList, p)
	}

	return m
}

// DiscoverRunways builds runways for every usable interface that does not
// have them yet, then returns the full catalog.
func (m *Manager) DiscoverRunways() []*Runway {
	l := logger.WithComponent("Runway/Manager")

	names := m.selectInterfaceNames()

	m.mu.Lock()
	defer m.mu.Unlock()

	built := 0
	for _, name := range names {
		info, ok := m.inventory.Get(name)
		if !ok {
			continue
		}
		if m.hasRunwaysForLocked(name) {
			m.setUsableLocked(name, true)
			continue
		}
		built += m.buildForInterfaceLocked(name, info.IPv4)
	}

	// Runways whose interface vanished stay in the catalog but stop
	// being usable.
	current := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := m.inventory.Get(name); ok {
			current[name] = struct{}{}
		}
	}
	for _, rw := range m.runways {
		_, alive := current[rw.Interface]
		rw.usable.Store(alive)
	}

	if built > 0 {
		l.Info().Int("new_runways", built).Int("total", len(m.runways)).Msg("Runway discovery complete.")
	}
	return m.allLocked()
}

// selectInterfaceNames resolves the configured interface list against the
// inventory; the literal "auto" expands to every IPv4 interface found.
func (m *Manager) selectInterfaceNames() []string {
	auto := false
	for _, name := range m.wantInterfaces {
		if name == "auto" {
			auto = true
			break
		}
	}

	var names []string
	if auto {
		names = m.inventory.Names()
	} else {
		for _, name := range m.wantInterfaces {
			if _, ok := m.inventory.Get(name); ok {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func (m *Manager) hasRunwaysForLocked(iface string) bool {
	for _, rw := range m.runways {
		if rw.Interface == iface {
			return true
		}
	}
	return false
}

func (m *Manager) setUsableLocked(iface string, usable bool) {
	for _, rw := range m.runways {
		if rw.Interface == iface {
			rw.usable.Store(usable)
		}
	}
}

// buildForInterfaceLocked creates the direct runways first, then the
// proxy runways, one per DNS resolver each.
func (m *Manager) buildForInterfaceLocked(iface, sourceIP string) int {
	built := 0

	for _, dns := range m.dnsServers {
		id := fmt.Sprintf("direct_%s_%s_%d", iface, dns.Host, m.counter)
		m.counter++
		m.insertLocked(&Runway{
			ID:        id,
			Interface: iface,
			SourceIP:  sourceIP,
			DNS:       dns,
			IsDirect:  true,
		})
		built++
	}

	for _, p := range m.proxyList {
		for _, dns := range m.dnsServers {
			id := fmt.Sprintf("proxy_%s_%s_%s_%s_%d", iface, p.Type, p.Host, dns.Host, m.counter)
			m.counter++
			m.insertLocked(&Runway{
				ID:        id,
				Interface: iface,
				SourceIP:  sourceIP,
				Proxy:     p,
				DNS:       dns,
				IsDirect:  false,
			})
			built++
		}
	}
	return built
}

func (m *Manager) insertLocked(rw *Runway) {
	rw.usable.Store(true)
	m.runways[rw.ID] = rw
	m.order = append(m.order, rw.ID)
}

// RefreshInterfaces re-queries the OS and reconciles the catalog.
func (m *Manager) RefreshInterfaces() {
	m.inventory.Refresh()
	m.DiscoverRunways()
}

// GetRunway returns the runway with the given id, or nil.
func (m *Manager) GetRunway(id string) *Runway {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runways[id]
}

// GetAllRunways returns the catalog in insertion order.
func (m *Manager) GetAllRunways() []*Runway {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allLocked()
}

func (m *Manager) allLocked() []*Runway {
	out := make([]*Runway, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.runways[id])
	}
	return out
}

// UpstreamProxies returns the flyweight records.
func (m *Manager) UpstreamProxies() []*UpstreamProxy {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*UpstreamProxy, len(m.proxyList))
	copy(out, m.proxyList)
	return out
}

// Resolver exposes the shared DNS resolver for the request path.
func (m *Manager) Resolver() *dnsclient.Resolver {
	return m.resolver
}
