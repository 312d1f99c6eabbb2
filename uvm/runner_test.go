package uvm

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/uvmreg/uvmreg/model"
	"github.com/uvmreg/uvmreg/policy"
)

func testRunner(t *testing.T) *Runner {
	t.Helper()
	return NewRunner(zerolog.Nop(), policy.Default(), UVMClassifier{}, "/tmp/mpact")
}

func TestRun_MissingArtifactShortCircuits(t *testing.T) {
	r := testRunner(t)
	// Any subprocess invocation would be a bug for a missing artifact.
	r.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		t.Fatal("subprocess invoked for missing artifact")
		return nil
	}

	res := r.Run(context.Background(), filepath.Join(t.TempDir(), "missing.elf"), "", "//tests:missing")
	require.Equal(t, model.StatusArtifactMissing, res.Status)
	require.Equal(t, "ELF file not found", res.Reason)
	require.Empty(t, res.Log)
}

func TestRun_LicenseFailureRetriedExactlyThreeTimes(t *testing.T) {
	dir := t.TempDir()
	elf := filepath.Join(dir, "test.elf")
	require.NoError(t, os.WriteFile(elf, []byte("elf"), 0755))

	counter := filepath.Join(dir, "count")
	script := fmt.Sprintf(`echo x >> %s; n=$(wc -l < %s); echo "attempt $n: 1-800-VERILOG license checkout failed"; exit 1`, counter, counter)

	r := testRunner(t)
	invocations := 0
	r.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		invocations++
		return exec.CommandContext(ctx, "sh", "-c", script)
	}

	res := r.Run(context.Background(), elf, "", "//tests:licensed")
	require.Equal(t, 3, invocations)
	require.Equal(t, model.StatusFail, res.Status)
	// The returned result reflects the third attempt's output.
	require.Contains(t, res.Log, "attempt 3")
}

func TestRun_NonLicenseFailureNotRetried(t *testing.T) {
	dir := t.TempDir()
	elf := filepath.Join(dir, "test.elf")
	require.NoError(t, os.WriteFile(elf, []byte("elf"), 0755))

	r := testRunner(t)
	invocations := 0
	r.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		invocations++
		return exec.CommandContext(ctx, "sh", "-c", `echo "UVM_FATAL @ 10: reporter [TIMEOUT] boom"; exit 1`)
	}

	res := r.Run(context.Background(), elf, "", "//tests:broken")
	require.Equal(t, 1, invocations)
	require.Equal(t, model.StatusFail, res.Status)
	require.Equal(t, "UVM_FATAL @ 10: reporter [TIMEOUT] boom", res.Reason)
}

func TestRun_SuccessFirstAttempt(t *testing.T) {
	dir := t.TempDir()
	elf := filepath.Join(dir, "test.elf")
	require.NoError(t, os.WriteFile(elf, []byte("elf"), 0755))

	r := testRunner(t)
	invocations := 0
	r.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		invocations++
		return exec.CommandContext(ctx, "sh", "-c", `echo "UVM_ERROR :    0"; echo "UVM_FATAL :    0"`)
	}

	res := r.Run(context.Background(), elf, "", "//tests:good")
	require.Equal(t, 1, invocations)
	require.Equal(t, model.StatusPass, res.Status)
	require.Equal(t, model.PassReason, res.Reason)
}

func TestRun_InvocationErrorYieldsExecFail(t *testing.T) {
	dir := t.TempDir()
	elf := filepath.Join(dir, "test.elf")
	require.NoError(t, os.WriteFile(elf, []byte("elf"), 0755))

	r := testRunner(t)
	r.command = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, filepath.Join(dir, "no-such-binary"))
	}

	res := r.Run(context.Background(), elf, "", "//tests:exec")
	require.Equal(t, model.StatusExecFail, res.Status)
	require.NotEmpty(t, res.Reason)
	require.Empty(t, res.Log)
}

func TestHarnessArgs(t *testing.T) {
	r := testRunner(t)

	args, err := r.harnessArgs("some/test.elf", "", "//tests:plain")
	require.NoError(t, err)
	require.Equal(t, "-C", args[0])
	require.Equal(t, harnessDir, args[1])
	require.Equal(t, "run", args[2])
	require.Contains(t, args, "UVM_VERBOSITY=UVM_HIGH")
	for _, a := range args {
		require.NotContains(t, a, "SPIKE_LOG=")
		require.NotContains(t, a, "TEST_TIMEOUT_NS=")
	}

	args, err = r.harnessArgs("some/test.elf", "some/test.spike.log", "//tests/cocotb/rvv/ml_ops:rvv_matmul")
	require.NoError(t, err)

	var haveTimeout, haveSpikeLog bool
	for _, a := range args {
		if a == "TEST_TIMEOUT_NS=100000000" {
			haveTimeout = true
		}
		if len(a) > len("SPIKE_LOG=") && a[:len("SPIKE_LOG=")] == "SPIKE_LOG=" {
			haveSpikeLog = true
		}
	}
	require.True(t, haveTimeout, "timeout override should be passed: %v", args)
	require.True(t, haveSpikeLog, "spike log should be passed: %v", args)
}
