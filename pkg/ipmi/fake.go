package ipmi

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Power implementation for tests.
type Fake struct {
	mu sync.Mutex

	state map[string]string // host -> "on"/"off"

	// FailPowerOff/FailPowerOn, when set for a host, make that step fail,
	// exercising the fence-recovery retry policy (§4.3).
	FailPowerOff map[string]error
	FailPowerOn  map[string]error
}

// NewFake creates a Fake with every host defaulting to powered on.
func NewFake() *Fake {
	return &Fake{
		state:        make(map[string]string),
		FailPowerOff: make(map[string]error),
		FailPowerOn:  make(map[string]error),
	}
}

func (f *Fake) PowerOff(_ context.Context, host, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailPowerOff[host]; ok && err != nil {
		return err
	}
	f.state[host] = "off"
	return nil
}

func (f *Fake) PowerOn(_ context.Context, host, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailPowerOn[host]; ok && err != nil {
		return err
	}
	f.state[host] = "on"
	return nil
}

func (f *Fake) Status(_ context.Context, host, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.state[host]
	if !ok {
		return "", fmt.Errorf("unknown host %s", host)
	}
	return s, nil
}

// SetStatus seeds a host's initial power state.
func (f *Fake) SetStatus(host, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[host] = status
}
