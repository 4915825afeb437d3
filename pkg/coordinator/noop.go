package coordinator

import "context"

// NoopServiceSet is a ServiceSet that does nothing, used when a node runs
// without pkg/network wired in (e.g. the contention tests in this package).
type NoopServiceSet struct{}

func (NoopServiceSet) StopClientAPIs(context.Context) error  { return nil }
func (NoopServiceSet) StartClientAPIs(context.Context) error { return nil }

func (NoopServiceSet) StopDNSAggregator(context.Context) error  { return nil }
func (NoopServiceSet) StartDNSAggregator(context.Context) error { return nil }

func (NoopServiceSet) StopTenantDHCP(context.Context) error  { return nil }
func (NoopServiceSet) StartTenantDHCP(context.Context) error { return nil }

func (NoopServiceSet) AddUpstreamFloatingIP(context.Context) error    { return nil }
func (NoopServiceSet) RemoveUpstreamFloatingIP(context.Context) error { return nil }

func (NoopServiceSet) AddClusterStorageFloatingIPs(context.Context) error    { return nil }
func (NoopServiceSet) RemoveClusterStorageFloatingIPs(context.Context) error { return nil }

func (NoopServiceSet) AddMetadataLinkLocalIP(context.Context) error    { return nil }
func (NoopServiceSet) RemoveMetadataLinkLocalIP(context.Context) error { return nil }

func (NoopServiceSet) AddManagedNetworkGateways(context.Context) error    { return nil }
func (NoopServiceSet) RemoveManagedNetworkGateways(context.Context) error { return nil }

func (NoopServiceSet) PromoteAuxiliaryLeader(context.Context) error { return nil }
