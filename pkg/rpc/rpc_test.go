package rpc_test

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/parallelvirtualcluster/pvcd/pkg/rpc"
	"github.com/parallelvirtualcluster/pvcd/pkg/store"
)

func newTestStore(t *testing.T, nodeID string) *store.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "rpc-store-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := store.New(store.Config{
		NodeID:    nodeID,
		BindAddr:  "127.0.0.1:0",
		DataDir:   dir,
		Bootstrap: true,
	}, store.SchemaV1)
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown() })

	require.Eventually(t, s.IsRaftLeader, 5*time.Second, 10*time.Millisecond)
	return s
}

func startTestServer(t *testing.T, s *store.Store) (addr string, srv *rpc.Server) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv = rpc.NewServer(s, insecure.NewCredentials())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	return lis.Addr().String(), srv
}

func TestPool_JoinAcceptedByLeader(t *testing.T) {
	s := newTestStore(t, "cx1")
	addr, _ := startTestServer(t, s)

	pool := rpc.NewPool(insecure.NewCredentials())
	t.Cleanup(func() { pool.Close() })

	reply, err := pool.Join(context.Background(), addr, "cx2", "127.0.0.1:9999")
	require.NoError(t, err)
	require.True(t, reply.Accepted)
}

func TestPool_JoinRedirectsWhenNotLeader(t *testing.T) {
	// A non-bootstrapped store never elects itself leader on its own, so
	// its rpc server's Join handler always takes the non-leader branch.
	dir, err := os.MkdirTemp("", "rpc-follower-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	follower, err := store.New(store.Config{
		NodeID:    "cx3",
		BindAddr:  "127.0.0.1:0",
		DataDir:   dir,
		Bootstrap: false,
	}, store.SchemaV1)
	require.NoError(t, err)
	t.Cleanup(func() { follower.Shutdown() })

	followerAddr, _ := startTestServer(t, follower)

	pool := rpc.NewPool(insecure.NewCredentials())
	t.Cleanup(func() { pool.Close() })

	reply, err := pool.Join(context.Background(), followerAddr, "cx2", "127.0.0.1:9999")
	require.NoError(t, err)
	require.False(t, reply.Accepted)
	require.Empty(t, reply.LeaderAddr)
}

func TestPool_NotifyPrimaryInvokesHook(t *testing.T) {
	s := newTestStore(t, "cx1")
	addr, srv := startTestServer(t, s)

	received := make(chan string, 1)
	srv.OnNotifyPrimary(func(ctx context.Context, newPrimary string) {
		received <- newPrimary
	})

	pool := rpc.NewPool(insecure.NewCredentials())
	t.Cleanup(func() { pool.Close() })

	require.NoError(t, pool.NotifyPrimary(context.Background(), addr, "cx2"))

	select {
	case got := <-received:
		require.Equal(t, "cx2", got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for NotifyPrimary callback")
	}
}

func TestPool_NotifyMigrateInvokesHook(t *testing.T) {
	s := newTestStore(t, "cx1")
	addr, srv := startTestServer(t, s)

	type call struct{ uuid, source, dest string }
	received := make(chan call, 1)
	srv.OnNotifyMigrate(func(ctx context.Context, uuid, source, destination string) {
		received <- call{uuid, source, destination}
	})

	pool := rpc.NewPool(insecure.NewCredentials())
	t.Cleanup(func() { pool.Close() })

	require.NoError(t, pool.NotifyMigrate(context.Background(), addr, "vm1", "cx1", "cx2"))

	select {
	case got := <-received:
		require.Equal(t, call{"vm1", "cx1", "cx2"}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for NotifyMigrate callback")
	}
}
