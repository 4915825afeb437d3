package netctl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDir_WriteFile_AtomicRename(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDir(dir)
	require.NoError(t, err)

	require.NoError(t, d.WriteFile("hosts.conf", []byte("aa:bb,10.0.0.1,vm1\n")))

	got, err := os.ReadFile(filepath.Join(dir, "hosts.conf"))
	require.NoError(t, err)
	require.Equal(t, "aa:bb,10.0.0.1,vm1\n", string(got))

	_, err = os.Stat(filepath.Join(dir, "hosts.conf.tmp"))
	require.True(t, os.IsNotExist(err))
}

func TestDir_WriteFile_Overwrites(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDir(dir)
	require.NoError(t, err)

	require.NoError(t, d.WriteFile("f", []byte("one")))
	require.NoError(t, d.WriteFile("f", []byte("two")))

	got, err := os.ReadFile(filepath.Join(dir, "f"))
	require.NoError(t, err)
	require.Equal(t, "two", string(got))
}

func TestCommandReloader_EmptyArgvIsNoop(t *testing.T) {
	r := &CommandReloader{}
	require.NoError(t, r.Reload())
}

func TestCommandReloader_RunsCommand(t *testing.T) {
	r := &CommandReloader{Argv: []string{"true"}}
	require.NoError(t, r.Reload())
}

func TestCommandReloader_FailureIncludesOutput(t *testing.T) {
	r := &CommandReloader{Argv: []string{"false"}}
	require.Error(t, r.Reload())
}

func TestNoopReloader(t *testing.T) {
	require.NoError(t, NoopReloader{}.Reload())
}
