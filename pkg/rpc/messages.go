// Package rpc is the cluster's inter-node control channel (SPEC_FULL.md
// DOMAIN STACK): a hand-rolled gRPC service, since this tree has no protoc
// toolchain to generate one. Messages are plain Go structs carried over a
// JSON wire codec registered under grpc's content-subtype negotiation
// (codec.go), so the real google.golang.org/grpc transport, credentials,
// and call machinery all run unmodified — only the usual .pb.go layer is
// replaced.
//
// Three RPCs cover the inter-node calls the rest of the daemon cannot make
// through the replicated store alone:
//
//   - Join: a brand new node has no Raft membership yet, so it cannot
//     call Store.Join locally (§4.1) — it dials an existing member's rpc
//     server and asks to be added as a voter.
//   - NotifyPrimary: the §4.2 hand-off protocol's contention and phases
//     are all store-mediated (lock acquisition, watched state), so this is
//     a best-effort latency accelerant only — the new primary pings the
//     node it displaced so that node stops issuing writes before it would
//     otherwise observe the store change through its own watch.
//   - NotifyMigrate: likewise, §4.4 step 4's sync-lock handshake is fully
//     implemented by the source and destination reading/writing
//     domain.migrate keys directly (pkg/vm/migrate.go) — NotifyMigrate is
//     an optional direct kick so the destination begins its receive watch
//     immediately instead of waiting on Raft replication lag.
package rpc

// JoinRequest asks the receiving node, if it is the current Raft leader, to
// add the caller as a voting member. RequestID correlates this call across
// the caller's and receiver's logs (mirrors the teacher's pkg/api/server.go
// convention of stamping every mutating request with a fresh uuid.New()).
type JoinRequest struct {
	RequestID string
	NodeID    string
	RaftAddr  string
}

// JoinReply reports the outcome of a JoinRequest. If Accepted is false and
// LeaderAddr is set, the caller should redial the current leader instead.
type JoinReply struct {
	Accepted   bool
	LeaderAddr string
}

// NotifyPrimaryRequest tells the receiving node that NewPrimary has won
// primary contention (§4.2).
type NotifyPrimaryRequest struct {
	RequestID  string
	NewPrimary string
}

// NotifyPrimaryReply is empty; the call is fire-and-forget best effort.
type NotifyPrimaryReply struct{}

// NotifyMigrateRequest tells the receiving node to expect an incoming live
// migration for UUID (§4.4 step 4).
type NotifyMigrateRequest struct {
	RequestID   string
	UUID        string
	Source      string
	Destination string
}

// NotifyMigrateReply is empty; the call is fire-and-forget best effort.
type NotifyMigrateReply struct{}
