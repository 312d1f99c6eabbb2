package regress

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/uvmreg/uvmreg/model"
	"github.com/uvmreg/uvmreg/policy"
)

type fakeGenerator struct {
	ok    bool
	calls int
}

func (g *fakeGenerator) Generate(ctx context.Context, elf, logPath string, entry uint64, timeout time.Duration) bool {
	g.calls++
	_ = os.WriteFile(logPath, []byte("core   0: 0x00000100 (0x00000013) nop\n"), 0644)
	return g.ok
}

type fakeRunner struct {
	result    model.SimulationResult
	spikeLogs []string
	elfs      []string
}

func (r *fakeRunner) Run(ctx context.Context, elf, spikeLog, target string) model.SimulationResult {
	r.elfs = append(r.elfs, elf)
	r.spikeLogs = append(r.spikeLogs, spikeLog)
	return r.result
}

func newOrchestrator(t *testing.T, runner SimulationRunner, gen TraceGenerator) (*Orchestrator, string) {
	t.Helper()
	workDir := t.TempDir()
	outputDir := filepath.Join(t.TempDir(), "uvm_regression_test")
	o := New(zerolog.Nop(), policy.Default(), runner, gen, workDir, outputDir)
	o.entryPoint = func(string) (uint64, error) { return 0x100, nil }
	return o, outputDir
}

func writeElf(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("not really an elf"), 0644))
	return path
}

func TestRun_PassEndToEnd(t *testing.T) {
	runner := &fakeRunner{result: model.SimulationResult{
		Status: model.StatusPass,
		Reason: model.PassReason,
		Log:    "UVM_ERROR :    0\n",
	}}
	gen := &fakeGenerator{ok: true}
	o, outputDir := newOrchestrator(t, runner, gen)

	elf := writeElf(t, "align_test.elf")
	rows, err := o.Run(context.Background(), []model.TestCase{
		{Target: "//tests/cocotb:align_test", Elf: elf},
	})
	require.NoError(t, err)

	require.Equal(t, []model.ReportRow{{
		Target:  "//tests/cocotb:align_test",
		Status:  model.StatusPass,
		Reason:  "None",
		LogPath: filepath.Join("logs", "tests_cocotb_align_test.log"),
	}}, rows)

	// The runner got a fresh work-dir copy and the successful trace.
	require.Len(t, runner.elfs, 1)
	require.NotEqual(t, elf, runner.elfs[0])
	require.Equal(t, 1, gen.calls)
	require.NotEmpty(t, runner.spikeLogs[0])

	// Raw log persisted verbatim.
	body, err := os.ReadFile(filepath.Join(outputDir, "logs", "tests_cocotb_align_test.log"))
	require.NoError(t, err)
	require.Equal(t, "UVM_ERROR :    0\n", string(body))

	// Trace persisted without the failure suffix.
	_, err = os.Stat(filepath.Join(outputDir, "logs", "tests_cocotb_align_test.elf.spike.log"))
	require.NoError(t, err)

	// Report and archive written.
	_, err = os.Stat(filepath.Join(outputDir, "uvm_results.csv"))
	require.NoError(t, err)
	_, err = os.Stat(outputDir + ".zip")
	require.NoError(t, err)
}

func TestRun_MissingSourceIsFailRowAndBatchContinues(t *testing.T) {
	runner := &fakeRunner{result: model.SimulationResult{Status: model.StatusPass, Reason: model.PassReason}}
	o, outputDir := newOrchestrator(t, runner, &fakeGenerator{ok: true})

	elf := writeElf(t, "ok.elf")
	rows, err := o.Run(context.Background(), []model.TestCase{
		{Target: "//tests:gone", Elf: ""},
		{Target: "//tests:ok", Elf: elf},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, model.StatusFail, rows[0].Status)
	require.Equal(t, "ELF source not found (Build failed?)", rows[0].Reason)
	require.Equal(t, model.StatusPass, rows[1].Status)

	// Both cases appear in the report, one row each.
	f, err := os.Open(filepath.Join(outputDir, "uvm_results.csv"))
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
}

func TestRun_SpikeDenylistSkipsTraceGeneration(t *testing.T) {
	runner := &fakeRunner{result: model.SimulationResult{Status: model.StatusPass, Reason: model.PassReason}}
	gen := &fakeGenerator{ok: true}
	o, _ := newOrchestrator(t, runner, gen)

	elf := writeElf(t, "stress.elf")
	_, err := o.Run(context.Background(), []model.TestCase{
		{Target: "//tests/cocotb:stress_test", Elf: elf},
	})
	require.NoError(t, err)

	require.Equal(t, 0, gen.calls)
	require.Equal(t, []string{""}, runner.spikeLogs)
}

func TestRun_FailedTracePersistedWithSuffixAndNotPassedOn(t *testing.T) {
	runner := &fakeRunner{result: model.SimulationResult{Status: model.StatusPass, Reason: model.PassReason}}
	gen := &fakeGenerator{ok: false}
	o, outputDir := newOrchestrator(t, runner, gen)

	elf := writeElf(t, "slow.elf")
	_, err := o.Run(context.Background(), []model.TestCase{
		{Target: "//tests:slow", Elf: elf},
	})
	require.NoError(t, err)

	require.Equal(t, []string{""}, runner.spikeLogs)
	_, err = os.Stat(filepath.Join(outputDir, "logs", "tests_slow.elf.spike.log.fail"))
	require.NoError(t, err)
}

func TestRun_NoTraceGeneratorRunsWithoutCoSim(t *testing.T) {
	runner := &fakeRunner{result: model.SimulationResult{Status: model.StatusPass, Reason: model.PassReason}}
	o, _ := newOrchestrator(t, runner, nil)

	elf := writeElf(t, "plain.elf")
	_, err := o.Run(context.Background(), []model.TestCase{
		{Target: "//tests:plain", Elf: elf},
	})
	require.NoError(t, err)
	require.Equal(t, []string{""}, runner.spikeLogs)
}

func TestCheckSpikeTimeouts(t *testing.T) {
	gen := &fakeGenerator{ok: false}
	o, _ := newOrchestrator(t, nil, gen)

	good := writeElf(t, "a.elf")
	failed := o.CheckSpikeTimeouts(context.Background(), []model.TestCase{
		{Target: "//tests:a", Elf: good},
		{Target: "//tests:missing", Elf: ""},
	})

	// The failing generator flags //tests:a; the missing artifact is
	// skipped, not flagged.
	require.Equal(t, []string{"//tests:a"}, failed)
}

func TestSafeName(t *testing.T) {
	require.Equal(t, "tests_cocotb_align_test", SafeName("//tests/cocotb:align_test"))
	require.Equal(t, "third_party_riscv-tests_rv32ui-p-add", SafeName("//third_party/riscv-tests:rv32ui-p-add"))
}

func TestAnyFailed(t *testing.T) {
	require.False(t, AnyFailed([]model.ReportRow{
		{Status: model.StatusPass},
		{Status: model.StatusArtifactMissing},
		{Status: model.StatusExecFail},
	}))
	require.True(t, AnyFailed([]model.ReportRow{
		{Status: model.StatusPass},
		{Status: model.StatusFail},
	}))
}
