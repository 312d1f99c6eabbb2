// Package spike drives the Spike golden reference simulator to produce
// commit traces for co-simulation checking.
package spike

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"

	"github.com/uvmreg/uvmreg/policy"
	"github.com/uvmreg/uvmreg/proc"
)

// spikeBinRelPath is where bazel places the Spike binary after building it.
const spikeBinRelPath = "bazel-bin/external/riscv_isa_sim/riscv_isa_sim/bin/spike"

// Build compiles the Spike simulator via bazel and returns the absolute path
// of the resulting binary. Failure here is fatal for the run: without Spike
// no golden trace can be produced.
func Build(ctx context.Context, logger zerolog.Logger) (string, error) {
	logger.Info().Msg("Building Spike simulator")

	cmd := exec.CommandContext(ctx, "bazel", "build", "@riscv_isa_sim//:riscv_isa_sim")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("spike build failed: %w", err)
	}

	bin, err := filepath.Abs(spikeBinRelPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve spike binary path: %w", err)
	}
	if _, err := os.Stat(bin); err != nil {
		return "", fmt.Errorf("spike binary not found after build: %w", err)
	}
	return bin, nil
}

// Generator produces golden execution traces for test artifacts.
type Generator struct {
	logger zerolog.Logger
	policy *policy.Tables
	bin    string
}

// NewGenerator returns a generator using the Spike binary at bin.
func NewGenerator(logger zerolog.Logger, tables *policy.Tables, bin string) *Generator {
	return &Generator{logger: logger, policy: tables, bin: bin}
}

// Generate runs Spike against the ELF with the program counter seeded at
// entry and commit logging enabled, capturing combined output to logPath.
// The child runs in its own process group; on timeout the whole group is
// terminated and Generate returns false. A non-zero exit also returns
// false. Same inputs produce the same trace, modulo simulator
// nondeterminism.
func (g *Generator) Generate(ctx context.Context, elf, logPath string, entry uint64, timeout time.Duration) bool {
	g.logger.Info().
		Str("elf", elf).
		Str("entry", fmt.Sprintf("0x%x", entry)).
		Msg("Generating Spike log")

	logFile, err := os.Create(logPath)
	if err != nil {
		g.logger.Error().Err(err).Str("path", logPath).Msg("Failed to create Spike log file")
		return false
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, g.bin,
		fmt.Sprintf("-m%s", g.policy.MemoryMapArg()),
		fmt.Sprintf("--isa=%s", g.policy.ISA()),
		"--misaligned",
		"-l", "--log-commits",
		fmt.Sprintf("--pc=%d", entry),
		elf,
	)
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	g.logger.Debug().Str("command", shellescape.QuoteCommand(cmd.Args)).Msg("Running Spike")

	sup, err := proc.Start(cmd)
	if err != nil {
		g.logger.Error().Err(err).Msg("Spike generation failed")
		return false
	}

	if err := sup.Wait(timeout); err != nil {
		if err == proc.ErrTimeout {
			g.logger.Warn().Int("pid", sup.Pid()).Msg("Spike timed out")
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			g.logger.Error().Int("exit_code", exitErr.ExitCode()).Msg("Spike failed")
		} else {
			g.logger.Error().Err(err).Msg("Spike generation failed")
		}
		return false
	}
	return true
}
