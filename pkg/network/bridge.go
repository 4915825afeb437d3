package network

import "context"

// BridgeDriver is the local L2/L3 networking boundary a tenant network
// instance is materialized through (§4.5): VLAN/VXLAN interface creation,
// bridge membership, checksum/DAD tuning, and address management. Kept
// behind an interface the way pkg/hypervisor and pkg/blockstore are, so
// the actual netlink/ip(8) calls can be swapped for a Fake in tests.
type BridgeDriver interface {
	// CreateVLANInterface creates a VLAN sub-interface of the uplink for a
	// bridged network.
	CreateVLANInterface(ctx context.Context, name, uplink string, vlan int) error
	// CreateVXLANInterface creates a VXLAN interface for a managed network,
	// VNI = network id, UDP 4789, sourced from the cluster interface.
	CreateVXLANInterface(ctx context.Context, name, clusterIface string, vni int) error
	CreateBridge(ctx context.Context, name string) error
	AttachToBridge(ctx context.Context, iface, bridge string) error
	// UplinkMTU returns the current MTU of the named uplink interface, the
	// ceiling a bridged network's MTU must not exceed (§4.5).
	UplinkMTU(ctx context.Context, uplink string) (int, error)
	SetMTU(ctx context.Context, iface string, mtu int) error
	DisableTXChecksumOffload(ctx context.Context, iface string) error
	DisableIPv6(ctx context.Context, iface string) error
	DisableDAD(ctx context.Context, iface string) error
	AddAddress(ctx context.Context, iface, cidr string) error
	RemoveAddress(ctx context.Context, iface, cidr string) error
	DestroyInterface(ctx context.Context, name string) error
	// SetVXLANRemotes replaces the FDB remote peer set for a managed
	// network's VXLAN interface.
	SetVXLANRemotes(ctx context.Context, name string, remotes []string) error
}
