// Package regress sequences the regression pipeline per test case: artifact
// staging, golden-trace generation, simulation, classification, and
// reporting.
package regress

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/uvmreg/uvmreg/elfinfo"
	"github.com/uvmreg/uvmreg/model"
	"github.com/uvmreg/uvmreg/policy"
	"github.com/uvmreg/uvmreg/report"
)

// TraceGenerator produces a golden execution trace for an artifact.
type TraceGenerator interface {
	Generate(ctx context.Context, elf, logPath string, entry uint64, timeout time.Duration) bool
}

// SimulationRunner executes the device simulator against an artifact.
type SimulationRunner interface {
	Run(ctx context.Context, elf, spikeLog, target string) model.SimulationResult
}

// logsSubdir holds the per-target raw logs inside the output directory.
const logsSubdir = "logs"

// defaultSpikeTimeout bounds golden-trace generation during a regression.
const defaultSpikeTimeout = 30 * time.Second

// checkSpikeTimeout is the short bound used by the timeout-check mode.
const checkSpikeTimeout = 10 * time.Second

// Orchestrator owns the per-run working area and drives each test case
// through the pipeline. One orchestrator instance owns its work and output
// directories exclusively; test cases run strictly sequentially.
type Orchestrator struct {
	logger    zerolog.Logger
	policy    *policy.Tables
	runner    SimulationRunner
	spike     TraceGenerator // nil when no reference simulator is available
	workDir   string
	outputDir string

	// entryPoint is a seam for tests that stage non-ELF fixtures.
	entryPoint func(string) (uint64, error)
}

// New returns an orchestrator writing per-test copies into workDir and
// logs/report into outputDir. spike may be nil to disable co-simulation.
func New(logger zerolog.Logger, tables *policy.Tables, runner SimulationRunner, spike TraceGenerator, workDir, outputDir string) *Orchestrator {
	return &Orchestrator{
		logger:     logger,
		policy:     tables,
		runner:     runner,
		spike:      spike,
		workDir:    workDir,
		outputDir:  outputDir,
		entryPoint: elfinfo.EntryPoint,
	}
}

// Run processes every test case, writes the tabular report and the archive,
// and returns the report rows. A single case's failure never aborts the
// batch; only report/archive persistence errors are returned.
func (o *Orchestrator) Run(ctx context.Context, cases []model.TestCase) ([]model.ReportRow, error) {
	logsDir := filepath.Join(o.outputDir, logsSubdir)
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	o.logger.Info().Str("dir", o.outputDir).Msg("Regression results will be stored here")

	rows := make([]model.ReportRow, 0, len(cases))
	for i, tc := range cases {
		o.logger.Info().Msgf("[%d/%d] Processing %s", i+1, len(cases), tc.Target)

		result := o.processCase(ctx, tc, logsDir)

		logName := SafeName(tc.Target) + ".log"
		logPath := filepath.Join(logsDir, logName)
		if err := os.WriteFile(logPath, []byte(result.Log), 0644); err != nil {
			o.logger.Warn().Err(err).Str("path", logPath).Msg("Failed to write log file")
		}

		rows = append(rows, model.ReportRow{
			Target:  tc.Target,
			Status:  result.Status,
			Reason:  result.Reason,
			LogPath: filepath.Join(logsSubdir, logName),
		})
		o.logger.Info().Msgf("  Result: %s - %s", result.Status, result.Reason)
	}

	csvPath, err := report.WriteCSV(o.outputDir, rows)
	if err != nil {
		return rows, err
	}
	o.logger.Info().Str("path", csvPath).Msg("Results written")

	zipPath, err := report.Archive(o.outputDir)
	if err != nil {
		return rows, err
	}
	if abs, err := filepath.Abs(zipPath); err == nil {
		zipPath = abs
	}
	o.logger.Info().Str("path", zipPath).Msg("Artifact created")

	return rows, nil
}

// processCase stages the artifact, generates the golden trace when enabled,
// and runs the simulation. Every error is converted into a FAIL result so
// the batch continues.
func (o *Orchestrator) processCase(ctx context.Context, tc model.TestCase, logsDir string) model.SimulationResult {
	if tc.Elf == "" {
		return model.SimulationResult{
			Status: model.StatusFail,
			Reason: "ELF source not found (Build failed?)",
		}
	}
	if _, err := os.Stat(tc.Elf); err != nil {
		return model.SimulationResult{
			Status: model.StatusFail,
			Reason: "ELF source not found (Build failed?)",
		}
	}

	dest, entry, err := o.stageArtifact(tc)
	if err != nil {
		return model.SimulationResult{
			Status: model.StatusFail,
			Reason: fmt.Sprintf("Copy/Setup failed: %v", err),
			Log:    err.Error(),
		}
	}

	spikeLog := o.generateTrace(ctx, tc.Target, dest, entry, logsDir, defaultSpikeTimeout)

	return o.runner.Run(ctx, dest, spikeLog, tc.Target)
}

// stageArtifact copies the artifact into the work dir as a fresh,
// freshly-permissioned copy and reads its entry point. Stale copies from a
// previous case with the same name are removed first to avoid permission
// errors.
func (o *Orchestrator) stageArtifact(tc model.TestCase) (dest string, entry uint64, err error) {
	dest = filepath.Join(o.workDir, SafeName(tc.Target)+".elf")
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return "", 0, err
	}
	if err := copyFile(tc.Elf, dest); err != nil {
		return "", 0, err
	}
	if err := os.Chmod(dest, 0755); err != nil {
		return "", 0, err
	}

	entry, err = o.entryPoint(dest)
	if err != nil {
		// A missing entry point is survivable: Spike seeds the PC at 0.
		o.logger.Error().Err(err).Str("elf", dest).Msg("Error reading ELF entry point")
		entry = 0
	}
	return dest, entry, nil
}

// generateTrace runs the reference simulator when one is available and the
// target allows co-simulation. The trace file is persisted under logsDir
// with a name reflecting success or failure; only a successful trace is
// handed to the device simulator.
func (o *Orchestrator) generateTrace(ctx context.Context, target, elf string, entry uint64, logsDir string, timeout time.Duration) string {
	if o.spike == nil {
		return ""
	}
	if o.policy.SpikeDenylisted(target) {
		o.logger.Info().Str("target", target).Msg("Skipping Spike generation (in spike denylist)")
		return ""
	}

	traceName := SafeName(target) + ".elf.spike.log"
	tracePath := filepath.Join(o.workDir, traceName)
	if err := os.Remove(tracePath); err != nil && !os.IsNotExist(err) {
		o.logger.Warn().Err(err).Str("path", tracePath).Msg("Failed to remove stale Spike log")
	}

	ok := o.spike.Generate(ctx, elf, tracePath, entry, timeout)

	if _, err := os.Stat(tracePath); err == nil {
		destName := traceName
		if !ok {
			destName += ".fail"
		}
		if err := copyFile(tracePath, filepath.Join(logsDir, destName)); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to persist Spike log")
		}
		if !ok {
			o.logger.Warn().
				Str("target", target).
				Str("log", filepath.Join(logsSubdir, destName)).
				Msg("Spike log generation failed or timed out")
		}
	}

	if !ok {
		return ""
	}
	return tracePath
}

// CheckSpikeTimeouts runs only golden-trace generation against every case
// with a short timeout and returns the targets that failed, to surface
// candidates for the spike denylist.
func (o *Orchestrator) CheckSpikeTimeouts(ctx context.Context, cases []model.TestCase) []string {
	o.logger.Info().Msg("Checking Spike timeouts")

	var failed []string
	for i, tc := range cases {
		o.logger.Info().Msgf("[%d/%d] Checking %s", i+1, len(cases), tc.Target)

		if tc.Elf == "" {
			o.logger.Warn().Str("target", tc.Target).Msg("  SKIP (ELF not found)")
			continue
		}
		if _, err := os.Stat(tc.Elf); err != nil {
			o.logger.Warn().Str("target", tc.Target).Msg("  SKIP (ELF not found)")
			continue
		}

		dest, entry, err := o.stageArtifact(tc)
		if err != nil {
			o.logger.Error().Err(err).Str("target", tc.Target).Msg("  ERROR")
			failed = append(failed, tc.Target)
			continue
		}

		tracePath := dest + ".spike.log"
		if o.spike.Generate(ctx, dest, tracePath, entry, checkSpikeTimeout) {
			o.logger.Info().Str("target", tc.Target).Msg("  PASS")
		} else {
			o.logger.Error().Str("target", tc.Target).Msg("  FAIL")
			failed = append(failed, tc.Target)
		}
	}
	return failed
}

// AnyFailed reports whether any row carries the FAIL status. Missing
// artifacts and exec failures do not flip the process exit code.
func AnyFailed(rows []model.ReportRow) bool {
	for _, row := range rows {
		if row.Status == model.StatusFail {
			return true
		}
	}
	return false
}

// SafeName sanitizes a target label into a filesystem-safe name, e.g.
// //tests/cocotb:align_test -> tests_cocotb_align_test.
func SafeName(target string) string {
	name := strings.TrimPrefix(target, "//")
	name = strings.ReplaceAll(name, ":", "_")
	name = strings.ReplaceAll(name, "/", "_")
	return name
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
