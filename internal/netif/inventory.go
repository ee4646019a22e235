package netif

import (
	"net"
	"sync"
	"time"

	"github.com/tayyebi/smart-proxy/internal/shared/logger"
)

// Interface is one local IPv4 interface as last observed by a refresh.
type Interface struct {
	Name     string `json:"name"`
	IPv4     string `json:"ipv4"`
	Netmask  string `json:"netmask,omitempty"`
	LastSeen int64  `json:"last_seen"`
}

// Inventory enumerates local IPv4 interfaces. Refresh replaces the
// snapshot atomically: consumers observe either the old or the new list,
// never a half-merged one.
type Inventory struct {
	mu     sync.RWMutex
	byName map[string]Interface
	static bool
}

func NewInventory() *Inventory {
	inv := &Inventory{byName: make(map[string]Interface)}
	inv.Refresh()
	return inv
}

// NewStatic builds an inventory over a fixed interface list that Refresh
// leaves untouched. Used by tests.
func NewStatic(ifaces []Interface) *Inventory {
	byName := make(map[string]Interface, len(ifaces))
	for _, entry := range ifaces {
		byName[entry.Name] = entry
	}
	return &Inventory{byName: byName, static: true}
}

// SetStatic replaces the snapshot of a static inventory.
func (inv *Inventory) SetStatic(ifaces []Interface) {
	byName := make(map[string]Interface, len(ifaces))
	for _, entry := range ifaces {
		byName[entry.Name] = entry
	}
	inv.mu.Lock()
	inv.byName = byName
	inv.static = true
	inv.mu.Unlock()
}

// Refresh re-queries the OS and swaps in a fresh snapshot. Interfaces
// that vanished are dropped from the list; runways referencing them are
// the catalog's concern, not ours.
func (inv *Inventory) Refresh() {
	l := logger.WithComponent("NetIf/Inventory")

	inv.mu.RLock()
	isStatic := inv.static
	inv.mu.RUnlock()
	if isStatic {
		return
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		l.Warn().Err(err).Msg("Interface enumeration failed, keeping previous snapshot.")
		return
	}

	now := time.Now().Unix()
	fresh := make(map[string]Interface)

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			entry := Interface{
				Name:     iface.Name,
				IPv4:     ip4.String(),
				LastSeen: now,
			}
			if ones, bits := ipNet.Mask.Size(); bits == 32 {
				entry.Netmask = net.IP(net.CIDRMask(ones, 32)).String()
			}
			fresh[iface.Name] = entry
			break // first IPv4 address per interface
		}
	}

	inv.mu.Lock()
	old := inv.byName
	inv.byName = fresh
	inv.mu.Unlock()

	for name := range fresh {
		if _, ok := old[name]; !ok {
			l.Debug().Str("interface", name).Msg("Interface appeared.")
		}
	}
	for name := range old {
		if _, ok := fresh[name]; !ok {
			l.Debug().Str("interface", name).Msg("Interface disappeared.")
		}
	}
}

// List returns the current snapshot as a slice copy.
func (inv *Inventory) List() []Interface {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	out := make([]Interface, 0, len(inv.byName))
	for _, entry := range inv.byName {
		out = append(out, entry)
	}
	return out
}

// Get returns the interface with the given name, if present.
func (inv *Inventory) Get(name string) (Interface, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	entry, ok := inv.byName[name]
	return entry, ok
}

// Names returns the names in the current snapshot.
func (inv *Inventory) Names() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	out := make([]string, 0, len(inv.byName))
	for name := range inv.byName {
		out = append(out, name)
	}
	return out
}
