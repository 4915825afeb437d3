package hypervisor

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Driver used by unit tests and shipped as the
// default until a real libvirt binding is linked in (SPEC_FULL.md §4.4).
type Fake struct {
	mu sync.Mutex

	domains map[string]DomainState
	xml     map[string]string

	// FailCreate, when set, makes CreateXML fail for the named uuid,
	// exercising the "convergence failure" path (§7).
	FailCreate map[string]error
	// FailMigrate makes Migrate fail for the named uuid, exercising the
	// live-migration retry/fallback path (§4.4, §8).
	FailMigrate map[string]error
}

// NewFake creates an empty fake hypervisor connection.
func NewFake() *Fake {
	return &Fake{
		domains:     make(map[string]DomainState),
		xml:         make(map[string]string),
		FailCreate:  make(map[string]error),
		FailMigrate: make(map[string]error),
	}
}

func (f *Fake) CreateXML(_ context.Context, uuid, xmlSpec string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailCreate[uuid]; ok && err != nil {
		return err
	}
	f.xml[uuid] = xmlSpec
	f.domains[uuid] = StateRunning
	return nil
}

func (f *Fake) Destroy(_ context.Context, uuid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.domains[uuid] = StateNotPresent
	return nil
}

func (f *Fake) Shutdown(_ context.Context, uuid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.domains[uuid] != StateRunning {
		return fmt.Errorf("domain %s is not running", uuid)
	}
	f.domains[uuid] = StateShutoff
	return nil
}

func (f *Fake) Migrate(_ context.Context, uuid, _ string, _ MigrateFlags) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailMigrate[uuid]; ok && err != nil {
		return err
	}
	f.domains[uuid] = StateNotPresent
	return nil
}

func (f *Fake) State(_ context.Context, uuid string) (DomainState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.domains[uuid]
	if !ok {
		return StateNotPresent, nil
	}
	return s, nil
}

func (f *Fake) XMLDesc(_ context.Context, uuid string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.xml[uuid], nil
}

func (f *Fake) InterfaceStats(_ context.Context, _ string) (InterfaceStats, error) {
	return InterfaceStats{}, nil
}

func (f *Fake) BlockStats(_ context.Context, _ string) (BlockStats, error) {
	return BlockStats{}, nil
}

func (f *Fake) MemoryStats(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

func (f *Fake) AttachDevice(_ context.Context, _, _ string) error { return nil }
func (f *Fake) DetachDevice(_ context.Context, _, _ string) error { return nil }

func (f *Fake) ConsoleStream(ctx context.Context, _ string) (<-chan string, error) {
	ch := make(chan string)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *Fake) ListRunning(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for uuid, s := range f.domains {
		if s == StateRunning {
			out = append(out, uuid)
		}
	}
	return out, nil
}

// SetState lets a test force the hypervisor's observed state directly,
// e.g. to simulate "the hypervisor says it isn't running" (§4.3 step 2).
func (f *Fake) SetState(uuid string, s DomainState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.domains[uuid] = s
}
