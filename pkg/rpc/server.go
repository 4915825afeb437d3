package rpc

import (
	"context"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/parallelvirtualcluster/pvcd/pkg/log"
	"github.com/parallelvirtualcluster/pvcd/pkg/store"
)

// Server answers the three cluster RPCs over mTLS (credentials supplied by
// the caller, built from pkg/security, mirroring the teacher's
// pkg/api/server.go credential setup).
type Server struct {
	store *store.Store

	onNotifyPrimary func(ctx context.Context, newPrimary string)
	onNotifyMigrate func(ctx context.Context, uuid, source, destination string)

	grpcServer *grpc.Server
	logger     zerolog.Logger
}

// NewServer builds a Server bound to s, serving behind creds.
func NewServer(s *store.Store, creds credentials.TransportCredentials) *Server {
	srv := &Server{
		store:  s,
		logger: log.WithComponent("rpc"),
	}
	srv.grpcServer = grpc.NewServer(grpc.Creds(creds))
	srv.grpcServer.RegisterService(&serviceDesc, Handler(srv))
	return srv
}

// OnNotifyPrimary registers the callback invoked when a peer reports a new
// primary (§4.2). Typically wired to the coordinator Manager's hand-off
// watch-refresh so it doesn't wait a full watch round-trip.
func (s *Server) OnNotifyPrimary(fn func(ctx context.Context, newPrimary string)) {
	s.onNotifyPrimary = fn
}

// OnNotifyMigrate registers the callback invoked when a peer kicks off a
// live migration (§4.4 step 4). Typically wired to the vm Manager so the
// destination begins its receive-side watch immediately.
func (s *Server) OnNotifyMigrate(fn func(ctx context.Context, uuid, source, destination string)) {
	s.onNotifyMigrate = fn
}

// Serve blocks accepting connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop gracefully drains in-flight RPCs and stops the listener.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// Join implements Handler. Only the current Raft leader may accept new
// voters (§4.1); a non-leader redirects the caller to whichever node it
// last saw as leader.
func (s *Server) Join(ctx context.Context, req *JoinRequest) (*JoinReply, error) {
	if !s.store.IsRaftLeader() {
		return &JoinReply{Accepted: false, LeaderAddr: s.store.LeaderAddr()}, nil
	}
	if err := s.store.Join(req.NodeID, req.RaftAddr); err != nil {
		return nil, err
	}
	s.logger.Info().Str("request_id", req.RequestID).Str("node_id", req.NodeID).Str("raft_addr", req.RaftAddr).Msg("accepted cluster join")
	return &JoinReply{Accepted: true}, nil
}

// NotifyPrimary implements Handler.
func (s *Server) NotifyPrimary(ctx context.Context, req *NotifyPrimaryRequest) (*NotifyPrimaryReply, error) {
	if s.onNotifyPrimary != nil {
		s.onNotifyPrimary(ctx, req.NewPrimary)
	}
	return &NotifyPrimaryReply{}, nil
}

// NotifyMigrate implements Handler.
func (s *Server) NotifyMigrate(ctx context.Context, req *NotifyMigrateRequest) (*NotifyMigrateReply, error) {
	if s.onNotifyMigrate != nil {
		s.onNotifyMigrate(ctx, req.UUID, req.Source, req.Destination)
	}
	return &NotifyMigrateReply{}, nil
}
