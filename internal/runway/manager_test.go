package runway

import (
	"regexp"
	"testing"
	"time"

	"github.com/tayyebi/smart-proxy/internal/dnsclient"
	"github.com/tayyebi/smart-proxy/internal/netif"
	"github.com/tayyebi/smart-proxy/internal/shared/types"
)

func testManager(t *testing.T, interfaces []netif.Interface, cfg *types.Config) *Manager {
	t.Helper()
	inventory := netif.NewStatic(interfaces)
	resolver := dnsclient.NewResolver(cfg.DNSServers, time.Second)
	return NewManager(cfg, inventory, resolver)
}

func baseConfig() *types.Config {
	return &types.Config{
		Interfaces: []string{"auto"},
		DNSServers: []types.DNSServerConf{
			{Host: "8.8.8.8", Port: 53},
			{Host: "1.1.1.1", Port: 53},
		},
		UpstreamProxies: []types.UpstreamProxyConf{
			{Type: "http", Host: "203.0.113.1", Port: 3128},
			{Type: "socks5", Host: "203.0.113.2", Port: 1080},
		},
	}
}

var (
	directIDPattern = regexp.MustCompile(`^direct_[^_]+_[^_]+_\d+$`)
	proxyIDPattern  = regexp.MustCompile(`^proxy_[^_]+_[^_]+_[^_]+_[^_]+_\d+$`)
)

func TestDiscoverRunways_CrossProductAndIDs(t *testing.T) {
	mgr := testManager(t, []netif.Interface{
		{Name: "eth0", IPv4: "192.0.2.10"},
		{Name: "wlan0", IPv4: "192.0.2.20"},
	}, baseConfig())

	runways := mgr.DiscoverRunways()

	// 2 interfaces x (2 direct + 2 proxies x 2 dns) = 2 x 6.
	if len(runways) != 12 {
		t.Fatalf("runway count = %d, want 12", len(runways))
	}

	seen := make(map[string]bool)
	for _, rw := range runways {
		if seen[rw.ID] {
			t.Errorf("duplicate runway id %q", rw.ID)
		}
		seen[rw.ID] = true

		if rw.IsDirect {
			if rw.Proxy != nil {
				t.Errorf("%s: direct runway carries a proxy", rw.ID)
			}
			if !directIDPattern.MatchString(rw.ID) {
				t.Errorf("direct id %q does not match direct_<iface>_<dns>_<n>", rw.ID)
			}
		} else {
			if rw.Proxy == nil {
				t.Errorf("%s: proxy runway without proxy record", rw.ID)
			}
			if !proxyIDPattern.MatchString(rw.ID) {
				t.Errorf("proxy id %q does not match proxy_<iface>_<type>_<host>_<dns>_<n>", rw.ID)
			}
		}
		if !rw.Usable() {
			t.Errorf("%s: freshly discovered runway must be usable", rw.ID)
		}
	}
}

func TestDiscoverRunways_DirectRunwaysComeFirstPerInterface(t *testing.T) {
	mgr := testManager(t, []netif.Interface{{Name: "eth0", IPv4: "192.0.2.10"}}, baseConfig())

	runways := mgr.DiscoverRunways()
	if len(runways) < 3 {
		t.Fatalf("runway count = %d", len(runways))
	}
	if !runways[0].IsDirect || !runways[1].IsDirect {
		t.Error("the direct runways must precede the proxy runways in catalog order")
	}
	if runways[2].IsDirect {
		t.Error("proxy runways expected after the direct block")
	}
}

func TestDiscoverRunways_Idempotent(t *testing.T) {
	mgr := testManager(t, []netif.Interface{{Name: "eth0", IPv4: "192.0.2.10"}}, baseConfig())

	first := mgr.DiscoverRunways()
	second := mgr.DiscoverRunways()

	if len(first) != len(second) {
		t.Fatalf("rediscovery changed the catalog: %d -> %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("catalog order changed at %d: %s -> %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestDiscoverRunways_ProxyFlyweightShared(t *testing.T) {
	mgr := testManager(t, []netif.Interface{
		{Name: "eth0", IPv4: "192.0.2.10"},
		{Name: "wlan0", IPv4: "192.0.2.20"},
	}, baseConfig())

	var httpRunways []*Runway
	for _, rw := range mgr.DiscoverRunways() {
		if rw.Proxy != nil && rw.Proxy.Type == "http" {
			httpRunways = append(httpRunways, rw)
		}
	}
	if len(httpRunways) < 2 {
		t.Fatalf("expected several http-proxy runways, got %d", len(httpRunways))
	}

	first := httpRunways[0].Proxy
	for _, rw := range httpRunways[1:] {
		if rw.Proxy != first {
			t.Fatal("runways over the same hop must share one proxy record")
		}
	}

	first.markFailure()
	for _, rw := range httpRunways {
		if rw.Proxy.Accessible() {
			t.Fatal("hop failure must be observed by every runway sharing the record")
		}
		if rw.Proxy.FailureCount() != 1 {
			t.Fatalf("FailureCount = %d, want 1", rw.Proxy.FailureCount())
		}
	}
}

func TestInterfaceRemoval_MarksUnusableKeepsIDs(t *testing.T) {
	inventory := netif.NewStatic([]netif.Interface{
		{Name: "eth0", IPv4: "192.0.2.10"},
		{Name: "wlan0", IPv4: "192.0.2.20"},
	})
	cfg := baseConfig()
	resolver := dnsclient.NewResolver(cfg.DNSServers, time.Second)
	mgr := NewManager(cfg, inventory, resolver)

	before := mgr.DiscoverRunways()

	inventory.SetStatic([]netif.Interface{{Name: "eth0", IPv4: "192.0.2.10"}})
	after := mgr.DiscoverRunways()

	if len(after) != len(before) {
		t.Fatalf("interface removal must not delete runways: %d -> %d", len(before), len(after))
	}

	for _, rw := range after {
		switch rw.Interface {
		case "wlan0":
			if rw.Usable() {
				t.Errorf("%s: runway on a vanished interface must be unusable", rw.ID)
			}
		case "eth0":
			if !rw.Usable() {
				t.Errorf("%s: surviving interface runway must stay usable", rw.ID)
			}
		}
	}

	// The interface coming back restores usability without new ids.
	inventory.SetStatic([]netif.Interface{
		{Name: "eth0", IPv4: "192.0.2.10"},
		{Name: "wlan0", IPv4: "192.0.2.20"},
	})
	restored := mgr.DiscoverRunways()
	if len(restored) != len(before) {
		t.Fatalf("reappearing interface must reuse existing runways: %d -> %d", len(before), len(restored))
	}
	for _, rw := range restored {
		if !rw.Usable() {
			t.Errorf("%s: must be usable again", rw.ID)
		}
	}
}

func TestGetRunway(t *testing.T) {
	mgr := testManager(t, []netif.Interface{{Name: "eth0", IPv4: "192.0.2.10"}}, baseConfig())
	runways := mgr.DiscoverRunways()

	if got := mgr.GetRunway(runways[0].ID); got != runways[0] {
		t.Error("GetRunway must return the catalog entry")
	}
	if got := mgr.GetRunway("direct_missing_none_999"); got != nil {
		t.Errorf("unknown id must return nil, got %v", got)
	}
}

func TestTestRunwayAccessibility_UnusableRunwayFailsFast(t *testing.T) {
	mgr := testManager(t, []netif.Interface{{Name: "eth0", IPv4: "192.0.2.10"}}, baseConfig())
	runways := mgr.DiscoverRunways()

	rw := runways[0]
	rw.usable.Store(false)

	start := time.Now()
	netOK, userOK, _ := mgr.TestRunwayAccessibility("example.com", rw, 5*time.Second)
	if netOK || userOK {
		t.Error("unusable runway must probe as inaccessible")
	}
	if time.Since(start) > time.Second {
		t.Error("unusable runway must fail fast, not wait for the timeout")
	}
}
