package uvm

// This file contains the one-time compilation of the UVM simulator via its
// make harness.

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog"
)

// mpactRiscvRootEnv names the optional second toolchain root consumed by
// the harness.
const mpactRiscvRootEnv = "CORALNPU_MPACT_RISCV"

// BuildSimulator compiles the UVM simulator (simv). Failure is fatal for
// the regression.
func BuildSimulator(ctx context.Context, logger zerolog.Logger, mpactRoot, mpactRiscvRoot string) error {
	logger.Info().Msg("Building UVM simulator (simv)")

	cmd := exec.CommandContext(ctx, "make", "-C", harnessDir, "compile")
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%s", mpactRootEnv, mpactRoot))
	if mpactRiscvRoot != "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", mpactRiscvRootEnv, mpactRiscvRoot))
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("simulator build failed: %w", err)
	}
	return nil
}
