package cli

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/safeguard/internal/testutil"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testOptions returns root options whose config points the store at a
// temporary directory.
func testOptions(t *testing.T, env map[string]string) *RootOptions {
	t.Helper()
	dir := t.TempDir()
	vars := map[string]string{"SAFEGUARD_STORE_PATH": filepath.Join(dir, "safeguard.db")}
	for k, v := range env {
		vars[k] = v
	}
	return &RootOptions{
		Format: "text",
		Getenv: func(k string) string { return vars[k] },
		clock:  testutil.NewFakeClock(testNow),
	}
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "safeguard", cmd.Use)
	assert.Contains(t, cmd.Long, "circuit breaker")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"serve"},
		{"canary", "run"},
		{"canary", "validate"},
		{"ledger", "reap"},
		{"audit", "query"},
		{"watch"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--format", "xml", "ledger", "reap"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCanaryRunFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"canary", "run"})
	require.NoError(t, err)

	planFlag := runCmd.Flags().Lookup("plan")
	require.NotNil(t, planFlag)
	assert.Equal(t, "p", planFlag.Shorthand)
	require.NotNil(t, runCmd.Flags().Lookup("metrics-url"))
	require.NotNil(t, runCmd.Flags().Lookup("metrics-file"))
	require.NotNil(t, runCmd.Flags().Lookup("traffic-url"))
}

func TestBadConfigIsCommandError(t *testing.T) {
	opts := testOptions(t, map[string]string{"SAFEGUARD_LEDGER_BACKEND": "etcd"})
	cmd := NewLedgerCommand(opts)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"reap"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}
