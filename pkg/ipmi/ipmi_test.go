package ipmi_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parallelvirtualcluster/pvcd/pkg/ipmi"
)

func TestFake_PowerCycle(t *testing.T) {
	f := ipmi.NewFake()
	f.SetStatus("bmc1", "on")
	ctx := context.Background()

	require.NoError(t, f.PowerOff(ctx, "bmc1", "u", "p"))
	status, err := f.Status(ctx, "bmc1", "u", "p")
	require.NoError(t, err)
	require.Equal(t, "off", status)

	require.NoError(t, f.PowerOn(ctx, "bmc1", "u", "p"))
	status, err = f.Status(ctx, "bmc1", "u", "p")
	require.NoError(t, err)
	require.Equal(t, "on", status)
}

func TestFake_InjectedFailure(t *testing.T) {
	f := ipmi.NewFake()
	f.SetStatus("bmc1", "on")
	f.FailPowerOff["bmc1"] = context.DeadlineExceeded

	err := f.PowerOff(context.Background(), "bmc1", "u", "p")
	require.Error(t, err)
}
