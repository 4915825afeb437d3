// Package ipmi wraps the external ipmitool-shaped power control used by
// the fencer (§4.3): power-off, verify-off, power-on against a peer's
// stored BMC credentials. Shelled out to an external binary the same way
// the teacher's pkg/runtime wraps containerd, kept behind an interface so
// tests can substitute a Fake.
package ipmi

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Power is the control surface the fencer drives.
type Power interface {
	PowerOff(ctx context.Context, host, user, pass string) error
	PowerOn(ctx context.Context, host, user, pass string) error
	// Status returns "on" or "off".
	Status(ctx context.Context, host, user, pass string) (string, error)
}

// Tool shells out to ipmitool. The binary path is configurable for tests
// and alternate installs (e.g. "freeipmi").
type Tool struct {
	Binary  string
	Timeout time.Duration
}

// NewTool returns a Tool using the system "ipmitool" binary.
func NewTool(timeout time.Duration) *Tool {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Tool{Binary: "ipmitool", Timeout: timeout}
}

func (t *Tool) run(ctx context.Context, host, user, pass string, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	full := append([]string{"-I", "lanplus", "-H", host, "-U", user, "-P", pass}, args...)
	cmd := exec.CommandContext(cctx, t.Binary, full...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ipmitool %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func (t *Tool) PowerOff(ctx context.Context, host, user, pass string) error {
	_, err := t.run(ctx, host, user, pass, "chassis", "power", "off")
	return err
}

func (t *Tool) PowerOn(ctx context.Context, host, user, pass string) error {
	_, err := t.run(ctx, host, user, pass, "chassis", "power", "on")
	return err
}

func (t *Tool) Status(ctx context.Context, host, user, pass string) (string, error) {
	out, err := t.run(ctx, host, user, pass, "chassis", "power", "status")
	if err != nil {
		return "", err
	}
	if strings.Contains(strings.ToLower(out), "is on") {
		return "on", nil
	}
	return "off", nil
}
