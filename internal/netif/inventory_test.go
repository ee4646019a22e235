package netif

import "testing"

func TestStaticInventory(t *testing.T) {
	inv := NewStatic([]Interface{
		{Name: "eth0", IPv4: "192.0.2.10", Netmask: "255.255.255.0"},
		{Name: "wlan0", IPv4: "192.0.2.20"},
	})

	if len(inv.List()) != 2 {
		t.Fatalf("List() = %v", inv.List())
	}

	entry, ok := inv.Get("eth0")
	if !ok || entry.IPv4 != "192.0.2.10" {
		t.Errorf("Get(eth0) = %+v, %v", entry, ok)
	}
	if _, ok := inv.Get("tun0"); ok {
		t.Error("Get on an absent interface must report false")
	}

	// Refresh must not clobber a static snapshot.
	inv.Refresh()
	if len(inv.List()) != 2 {
		t.Error("Refresh replaced a static snapshot")
	}

	inv.SetStatic([]Interface{{Name: "eth0", IPv4: "192.0.2.10"}})
	if names := inv.Names(); len(names) != 1 || names[0] != "eth0" {
		t.Errorf("Names() after SetStatic = %v", names)
	}
}

func TestOSInventory_ReturnsConsistentSnapshot(t *testing.T) {
	inv := NewInventory()

	// Whatever the host has, every listed entry must carry a name and an
	// IPv4 address.
	for _, entry := range inv.List() {
		if entry.Name == "" || entry.IPv4 == "" {
			t.Errorf("incomplete interface entry: %+v", entry)
		}
		if got, ok := inv.Get(entry.Name); !ok || got.IPv4 != entry.IPv4 {
			t.Errorf("Get(%s) inconsistent with List()", entry.Name)
		}
	}
}
