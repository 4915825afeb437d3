package blockstore

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client used by tests and shipped as the default
// until a real RBD binding is linked in.
type Fake struct {
	mu sync.Mutex

	volumes map[string]int64       // "pool/image" -> size
	locks   map[string][]Lock      // "pool/image" -> holders
	nextID  int
	Stats_  ClusterStats
}

func imageKey(pool, name string) string { return pool + "/" + name }

// NewFake creates an empty fake block store client.
func NewFake() *Fake {
	return &Fake{
		volumes: make(map[string]int64),
		locks:   make(map[string][]Lock),
		Stats_:  ClusterStats{Health: "HEALTH_OK", OSDCount: "3", Pools: map[string]PoolStats{}},
	}
}

func (f *Fake) Create(_ context.Context, pool, name string, sizeBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[imageKey(pool, name)] = sizeBytes
	return nil
}

func (f *Fake) Clone(_ context.Context, pool, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	size, ok := f.volumes[imageKey(pool, src)]
	if !ok {
		return fmt.Errorf("source image %s/%s does not exist", pool, src)
	}
	f.volumes[imageKey(pool, dst)] = size
	return nil
}

func (f *Fake) Map(_ context.Context, pool, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.volumes[imageKey(pool, name)]; !ok {
		return "", fmt.Errorf("image %s/%s does not exist", pool, name)
	}
	return fmt.Sprintf("/dev/rbd/%s/%s", pool, name), nil
}

func (f *Fake) Unmap(_ context.Context, _, _ string) error { return nil }

func (f *Fake) LockList(_ context.Context, pool, image string) ([]Lock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Lock(nil), f.locks[imageKey(pool, image)]...), nil
}

func (f *Fake) LockRemove(_ context.Context, pool, image, lockID, locker string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := imageKey(pool, image)
	out := f.locks[key][:0]
	for _, l := range f.locks[key] {
		if l.ID == lockID && l.Locker == locker {
			continue
		}
		out = append(out, l)
	}
	f.locks[key] = out
	return nil
}

// AddLock lets a test pre-seed a held lock, e.g. to simulate a lock held by
// a different host (§4.4 step 3's unsafe-to-proceed path).
func (f *Fake) AddLock(pool, image, locker, address string) Lock {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	l := Lock{ID: fmt.Sprintf("%d", f.nextID), Locker: locker, Address: address}
	key := imageKey(pool, image)
	f.locks[key] = append(f.locks[key], l)
	return l
}

func (f *Fake) Stats(_ context.Context) (ClusterStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Stats_, nil
}
