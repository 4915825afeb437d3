package main

import (
	"context"

	"github.com/parallelvirtualcluster/pvcd/pkg/coordinator"
	"github.com/parallelvirtualcluster/pvcd/pkg/network"
)

// serviceSet composes *network.Manager (gateways, floating IPs, DHCP,
// client APIs) with the DNS aggregator into the single coordinator.ServiceSet
// the hand-off protocol drives. network.Manager covers every method but the
// two DNS ones, which are forwarded explicitly.
type serviceSet struct {
	*network.Manager
	dns *coordinator.DNSAggregator
}

func (s *serviceSet) StartDNSAggregator(ctx context.Context) error {
	return s.dns.StartDNSAggregator(ctx)
}

func (s *serviceSet) StopDNSAggregator(ctx context.Context) error {
	return s.dns.StopDNSAggregator(ctx)
}
