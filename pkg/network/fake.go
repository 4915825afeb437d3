package network

import (
	"context"
	"sync"
)

// Fake is an in-memory BridgeDriver for tests and the shipped default
// until a real netlink binding is linked in.
type Fake struct {
	mu sync.Mutex

	interfaces map[string]bool
	addresses  map[string][]string
	mtu        map[string]int
	remotes    map[string][]string

	// uplinkMTU lets a test set the uplink's reported MTU; hosts default
	// to 1500 (the common Ethernet uplink MTU) when unset.
	uplinkMTU map[string]int
}

// NewFake creates an empty fake bridge driver.
func NewFake() *Fake {
	return &Fake{
		interfaces: make(map[string]bool),
		addresses:  make(map[string][]string),
		mtu:        make(map[string]int),
		remotes:    make(map[string][]string),
		uplinkMTU:  make(map[string]int),
	}
}

func (f *Fake) CreateVLANInterface(_ context.Context, name, _ string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interfaces[name] = true
	return nil
}

func (f *Fake) CreateVXLANInterface(_ context.Context, name, _ string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interfaces[name] = true
	return nil
}

func (f *Fake) CreateBridge(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interfaces[name] = true
	return nil
}

func (f *Fake) AttachToBridge(_ context.Context, _, _ string) error { return nil }

// UplinkMTU returns the uplink's configured MTU, defaulting to 1500.
func (f *Fake) UplinkMTU(_ context.Context, uplink string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mtu, ok := f.uplinkMTU[uplink]; ok {
		return mtu, nil
	}
	return 1500, nil
}

// SetUplinkMTU lets a test control what UplinkMTU reports for uplink.
func (f *Fake) SetUplinkMTU(uplink string, mtu int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uplinkMTU[uplink] = mtu
}

func (f *Fake) SetMTU(_ context.Context, iface string, mtu int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mtu[iface] = mtu
	return nil
}

func (f *Fake) DisableTXChecksumOffload(_ context.Context, _ string) error { return nil }
func (f *Fake) DisableIPv6(_ context.Context, _ string) error              { return nil }
func (f *Fake) DisableDAD(_ context.Context, _ string) error               { return nil }

func (f *Fake) AddAddress(_ context.Context, iface, cidr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.addresses[iface] {
		if a == cidr {
			return nil
		}
	}
	f.addresses[iface] = append(f.addresses[iface], cidr)
	return nil
}

func (f *Fake) RemoveAddress(_ context.Context, iface, cidr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.addresses[iface][:0]
	for _, a := range f.addresses[iface] {
		if a != cidr {
			out = append(out, a)
		}
	}
	f.addresses[iface] = out
	return nil
}

func (f *Fake) DestroyInterface(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.interfaces, name)
	delete(f.addresses, name)
	return nil
}

func (f *Fake) SetVXLANRemotes(_ context.Context, name string, remotes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remotes[name] = append([]string(nil), remotes...)
	return nil
}

// Addresses returns the addresses currently assigned to iface, for test
// assertions.
func (f *Fake) Addresses(iface string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.addresses[iface]...)
}
