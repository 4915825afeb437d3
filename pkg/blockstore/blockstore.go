// Package blockstore defines the RBD-shaped client interface the core
// treats the distributed block store through (§6): volumes addressed as
// "pool/image", plus per-image advisory locks the VM start sequence (§4.4
// step 3) uses to prevent split-brain image corruption during migration
// and fencing recovery. Out of scope per spec.md §1; only the client
// contract is in scope.
package blockstore

import "context"

// Lock is one advisory lock holder on an image, as returned by lock_list.
type Lock struct {
	ID      string
	Locker  string // opaque locker identity the storage layer assigned
	Address string // network address of the holder, used to identify "this node"
}

// Client is the block store's client contract (§6).
type Client interface {
	Create(ctx context.Context, pool, name string, sizeBytes int64) error
	Clone(ctx context.Context, pool, src, dst string) error
	Map(ctx context.Context, pool, name string) (devicePath string, err error)
	Unmap(ctx context.Context, pool, name string) error
	LockList(ctx context.Context, pool, image string) ([]Lock, error)
	LockRemove(ctx context.Context, pool, image, lockID, locker string) error

	// Stats mirrors the cluster/health/pool/OSD stats the storage
	// collector writes into the tree every keepalive (§4.3 step 2,
	// primary only). OSDCount in the result can be the literal "?"
	// sentinel when the storage layer is unreachable (§9(c)) — callers
	// must never attempt arithmetic on it.
	Stats(ctx context.Context) (ClusterStats, error)
}

// ClusterStats mirrors types.StorageStats but is shaped like the block
// store's native response before translation into the coordination tree.
type ClusterStats struct {
	Health   string
	OSDCount string
	Pools    map[string]PoolStats
}

// PoolStats is one pool's utilization.
type PoolStats struct {
	UsedBytes  int64
	TotalBytes int64
}
