package cli

// This file contains Git integration utilities for pinning the external
// toolchain checkouts to specific commits.

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

func (a *App) checkoutCommit(repoRoot, commit string) error {
	a.logger.Info().Str("repo", repoRoot).Str("commit", commit).Msg("Checking out commit")

	if info, err := os.Stat(filepath.Join(repoRoot, ".git")); err != nil || !info.IsDir() {
		return fmt.Errorf("%s is not a git repository, cannot checkout commit", repoRoot)
	}

	// Fetch first to ensure we have the commit.
	cmd := exec.Command("git", "-C", repoRoot, "fetch")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to fetch in %s: %w", repoRoot, err)
	}

	cmd = exec.Command("git", "-C", repoRoot, "checkout", commit)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to checkout commit %s in %s: %w", commit, repoRoot, err)
	}
	return nil
}
