package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/miekg/dns"

	"github.com/parallelvirtualcluster/pvcd/pkg/log"
	"github.com/parallelvirtualcluster/pvcd/pkg/store"
	"github.com/parallelvirtualcluster/pvcd/pkg/treekv"
	"github.com/parallelvirtualcluster/pvcd/pkg/types"
)

// DNSAggregator is the concrete "DNS aggregator" the hand-off table names
// (§4.2 phase B/G): a miekg/dns server that answers queries for every
// managed tenant network's domain suffix by forwarding to that network's
// configured nameservers, started only while this node holds the
// coordinator primary role.
type DNSAggregator struct {
	store     *store.Store
	bindAddr  string
	forwarder func(question dns.Question, nameservers []string) (*dns.Msg, error)

	mu     sync.Mutex
	server *dns.Server
}

// NewDNSAggregator creates a DNSAggregator bound to bindAddr (UDP), e.g.
// "127.0.0.1:5353".
func NewDNSAggregator(s *store.Store, bindAddr string) *DNSAggregator {
	a := &DNSAggregator{store: s, bindAddr: bindAddr}
	a.forwarder = a.forward
	return a
}

// StartDNSAggregator implements coordinator.ServiceSet.
func (a *DNSAggregator) StartDNSAggregator(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return nil
	}

	mux := dns.NewServeMux()
	mux.HandleFunc(".", a.handle)

	srv := &dns.Server{Addr: a.bindAddr, Net: "udp", Handler: mux}
	a.server = srv

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		a.server = nil
		return fmt.Errorf("start dns aggregator: %w", err)
	default:
		return nil
	}
}

// StopDNSAggregator implements coordinator.ServiceSet.
func (a *DNSAggregator) StopDNSAggregator(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return nil
	}
	err := a.server.ShutdownContext(ctx)
	a.server = nil
	return err
}

func (a *DNSAggregator) handle(w dns.ResponseWriter, r *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(r)

	for _, q := range r.Question {
		suffix, nameservers := a.resolveDelegation(q.Name)
		if suffix == "" {
			continue
		}
		resp, err := a.forwarder(q, nameservers)
		if err != nil {
			log.Errorf(fmt.Sprintf("dns aggregator: forward %s", q.Name), err)
			continue
		}
		msg.Answer = append(msg.Answer, resp.Answer...)
	}
	w.WriteMsg(msg)
}

// resolveDelegation finds the managed network whose domain suffix is the
// longest match for qname, returning its configured nameservers.
func (a *DNSAggregator) resolveDelegation(qname string) (string, []string) {
	for _, item := range treekv.List(a.store, "network") {
		var netType types.NetworkType
		if !treekv.Get(a.store, "network.type", item, &netType) || netType != types.NetworkManaged {
			continue
		}
		var suffix string
		treekv.Get(a.store, "network.domain_suffix", item, &suffix)
		if suffix == "" || !dns.IsSubDomain(suffix, qname) {
			continue
		}
		var nameservers []string
		treekv.Get(a.store, "network.nameservers", item, &nameservers)
		return suffix, nameservers
	}
	return "", nil
}

func (a *DNSAggregator) forward(q dns.Question, nameservers []string) (*dns.Msg, error) {
	if len(nameservers) == 0 {
		return nil, fmt.Errorf("no nameservers configured for %s", q.Name)
	}
	m := new(dns.Msg)
	m.SetQuestion(q.Name, q.Qtype)

	c := new(dns.Client)
	var lastErr error
	for _, ns := range nameservers {
		resp, _, err := c.Exchange(m, fmt.Sprintf("%s:53", ns))
		if err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}
