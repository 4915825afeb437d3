package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Pool dials cluster peers on demand and caches the connections, since a
// node doesn't know its full peer set up front — membership grows as
// Join calls land. Safe for concurrent use.
type Pool struct {
	creds credentials.TransportCredentials

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewPool creates a Pool that dials peers using creds (mTLS, built from
// pkg/security by the caller).
func NewPool(creds credentials.TransportCredentials) *Pool {
	return &Pool{creds: creds, conns: make(map[string]*grpc.ClientConn)}
}

func (p *Pool) conn(addr string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[addr]; ok {
		return c, nil
	}
	c, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(p.creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	p.conns[addr] = c
	return c, nil
}

// Close tears down every cached connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for addr, c := range p.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.conns, addr)
	}
	return firstErr
}

// Join asks addr's node to add (nodeID, raftAddr) as a Raft voter. If the
// peer isn't the Raft leader, it redirects once to the leader address it
// reports.
func (p *Pool) Join(ctx context.Context, addr, nodeID, raftAddr string) (*JoinReply, error) {
	reply, err := p.join(ctx, addr, nodeID, raftAddr)
	if err != nil {
		return nil, err
	}
	if reply.Accepted || reply.LeaderAddr == "" || reply.LeaderAddr == addr {
		return reply, nil
	}
	return p.join(ctx, reply.LeaderAddr, nodeID, raftAddr)
}

func (p *Pool) join(ctx context.Context, addr, nodeID, raftAddr string) (*JoinReply, error) {
	conn, err := p.conn(addr)
	if err != nil {
		return nil, err
	}
	req := &JoinRequest{RequestID: uuid.New().String(), NodeID: nodeID, RaftAddr: raftAddr}
	reply := new(JoinReply)
	if err := conn.Invoke(ctx, "/"+serviceName+"/Join", req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// NotifyPrimary tells addr that newPrimary has won contention (§4.2).
// Best-effort: callers should log and continue on error, never block the
// hand-off protocol's store-driven correctness on it.
func (p *Pool) NotifyPrimary(ctx context.Context, addr, newPrimary string) error {
	conn, err := p.conn(addr)
	if err != nil {
		return err
	}
	req := &NotifyPrimaryRequest{RequestID: uuid.New().String(), NewPrimary: newPrimary}
	return conn.Invoke(ctx, "/"+serviceName+"/NotifyPrimary", req, new(NotifyPrimaryReply))
}

// NotifyMigrate kicks addr's node to start watching for an incoming live
// migration of uuid (§4.4 step 4). Best-effort accelerant; the destination
// also discovers the migration via its own store watch regardless.
func (p *Pool) NotifyMigrate(ctx context.Context, addr, vmUUID, source, destination string) error {
	conn, err := p.conn(addr)
	if err != nil {
		return err
	}
	req := &NotifyMigrateRequest{RequestID: uuid.New().String(), UUID: vmUUID, Source: source, Destination: destination}
	return conn.Invoke(ctx, "/"+serviceName+"/NotifyMigrate", req, new(NotifyMigrateReply))
}
