// Package uvm invokes the UVM device simulator through its make harness and
// classifies the resulting output.
package uvm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"

	"github.com/uvmreg/uvmreg/model"
	"github.com/uvmreg/uvmreg/policy"
	"github.com/uvmreg/uvmreg/retry"
)

// licenseFailureMarker appears in the simulator output when the license
// server rejected the run; these failures are transient and worth retrying.
const licenseFailureMarker = "1-800-VERILOG"

// maxAttempts bounds the license-failure retry loop.
const maxAttempts = 3

// harnessDir is the makefile directory of the UVM harness.
const harnessDir = "tests/uvm"

// mpactRootEnv names the toolchain root consumed by the harness.
const mpactRootEnv = "CORALNPU_MPACT"

// Runner executes the device simulator for one artifact at a time.
type Runner struct {
	logger     zerolog.Logger
	policy     *policy.Tables
	classifier Classifier
	mpactRoot  string

	// command builds the harness invocation; replaced in tests.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewRunner returns a runner invoking the harness under harnessDir with the
// given toolchain root.
func NewRunner(logger zerolog.Logger, tables *policy.Tables, classifier Classifier, mpactRoot string) *Runner {
	return &Runner{
		logger:     logger,
		policy:     tables,
		classifier: classifier,
		mpactRoot:  mpactRoot,
		command:    exec.CommandContext,
	}
}

// attemptOutcome is one harness invocation's exit code and combined output.
type attemptOutcome struct {
	exitCode int
	output   string
}

// Run invokes the device simulator against elf. A non-empty spikeLog is
// passed to the harness for in-simulator co-simulation checking. Missing
// artifacts short-circuit to BUILD_ARTIFACT_MISSING without any subprocess;
// license failures are retried up to maxAttempts; an invocation error (as
// opposed to a non-zero exit) yields EXEC_FAIL. The final attempt's output
// is classified and returned verbatim as the result log.
func (r *Runner) Run(ctx context.Context, elf, spikeLog, target string) model.SimulationResult {
	r.logger.Info().Str("elf", elf).Msg("Running UVM")

	if _, err := os.Stat(elf); err != nil {
		// The caller aggregates many of these into one report; a missing
		// artifact is a row, never a crash.
		return model.SimulationResult{
			Status: model.StatusArtifactMissing,
			Reason: "ELF file not found",
		}
	}

	args, err := r.harnessArgs(elf, spikeLog, target)
	if err != nil {
		return model.SimulationResult{Status: model.StatusExecFail, Reason: Sanitize(err.Error())}
	}

	outcome, exhausted, err := retry.Do(maxAttempts,
		func(o attemptOutcome) bool {
			return o.exitCode != 0 && strings.Contains(o.output, licenseFailureMarker)
		},
		func(attempt int) (attemptOutcome, error) {
			if attempt > 1 {
				r.logger.Warn().
					Int("attempt", attempt).
					Int("max_attempts", maxAttempts).
					Msgf("License failure detected (%s), retrying", licenseFailureMarker)
			}
			return r.attempt(ctx, args)
		})
	if err != nil {
		return model.SimulationResult{Status: model.StatusExecFail, Reason: Sanitize(err.Error())}
	}
	if exhausted {
		r.logger.Error().Msgf("License failure detected (%s), max retries reached", licenseFailureMarker)
	}

	status, reason := r.classifier.Classify(outcome.exitCode, outcome.output)
	return model.SimulationResult{Status: status, Reason: reason, Log: outcome.output}
}

// harnessArgs assembles the make invocation for one artifact.
func (r *Runner) harnessArgs(elf, spikeLog, target string) ([]string, error) {
	absElf, err := filepath.Abs(elf)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ELF path: %w", err)
	}

	args := []string{"-C", harnessDir, "run", "UVM_VERBOSITY=UVM_HIGH",
		fmt.Sprintf("TEST_ELF=%s", absElf)}

	if ns, ok := r.policy.Timeout(target); ok {
		r.logger.Info().Int64("timeout_ns", ns).Msg("Using custom timeout")
		args = append(args, fmt.Sprintf("TEST_TIMEOUT_NS=%d", ns))
	}

	if spikeLog != "" {
		absLog, err := filepath.Abs(spikeLog)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve Spike log path: %w", err)
		}
		args = append(args, fmt.Sprintf("SPIKE_LOG=%s", absLog))
	}

	return args, nil
}

// attempt runs the harness once, capturing combined output. A non-zero exit
// is an outcome, not an error; only failures to invoke the process at all
// surface as errors.
func (r *Runner) attempt(ctx context.Context, args []string) (attemptOutcome, error) {
	cmd := r.command(ctx, "make", args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%s", mpactRootEnv, r.mpactRoot))

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	r.logger.Debug().Str("command", shellescape.QuoteCommand(cmd.Args)).Msg("Running UVM harness")

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return attemptOutcome{exitCode: exitErr.ExitCode(), output: buf.String()}, nil
		}
		return attemptOutcome{}, err
	}
	return attemptOutcome{exitCode: 0, output: buf.String()}, nil
}
