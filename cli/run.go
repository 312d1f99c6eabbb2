package cli

// This file contains the top-level regression sequencing: toolchain setup,
// target discovery, building, and dispatch into the orchestrator.

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/uvmreg/uvmreg/bazel"
	"github.com/uvmreg/uvmreg/model"
	"github.com/uvmreg/uvmreg/policy"
	"github.com/uvmreg/uvmreg/regress"
	"github.com/uvmreg/uvmreg/report"
	"github.com/uvmreg/uvmreg/spike"
	"github.com/uvmreg/uvmreg/uvm"
)

const (
	mpactRootEnv        = "CORALNPU_MPACT"
	mpactRiscvRootEnv   = "CORALNPU_MPACT_RISCV"
	defaultMpactRoot    = "/tmp/copybara-mpact"
	suiteTargetPrefix   = "//third_party/riscv-tests:"
	workDirPrefix       = "uvm_reg_"
	outputDirTimeFormat = "20060102_150405"
)

// session holds everything shared by the run and timeout-check modes once
// discovery and building are done.
type session struct {
	tables         *policy.Tables
	cases          []model.TestCase
	mpactRoot      string
	mpactRiscvRoot string
}

func (a *App) run(ctx *cli.Context) error {
	sess, err := a.prepare(ctx)
	if err != nil {
		return err
	}
	a.logger.Info().Int("tests", len(sess.cases)).Msg("Tests to run")

	spikeBin, err := spike.Build(ctx.Context, a.logger)
	if err != nil {
		return err
	}

	if err := uvm.BuildSimulator(ctx.Context, a.logger, sess.mpactRoot, sess.mpactRiscvRoot); err != nil {
		return err
	}

	workDir, cleanup, err := a.makeWorkDir(ctx.Bool("keep-work"))
	if err != nil {
		return err
	}
	defer cleanup()

	outputDir := ctx.String("output-dir")
	if outputDir == "" {
		outputDir = fmt.Sprintf("uvm_regression_%s", time.Now().Format(outputDirTimeFormat))
	}

	gen := spike.NewGenerator(a.logger, sess.tables, spikeBin)
	runner := uvm.NewRunner(a.logger, sess.tables, uvm.UVMClassifier{}, sess.mpactRoot)
	orch := regress.New(a.logger, sess.tables, runner, gen, workDir, outputDir)

	rows, err := orch.Run(ctx.Context, sess.cases)
	if err != nil {
		return err
	}

	if regress.AnyFailed(rows) {
		return fmt.Errorf("regression failed, see %s", filepath.Join(outputDir, report.FileName))
	}
	return nil
}

func (a *App) listTargets(ctx *cli.Context) error {
	tables, err := policy.Load(ctx.String("policy"))
	if err != nil {
		return err
	}

	catalog := bazel.NewCatalog(a.logger, tables)
	targets, err := catalog.Discover(ctx.Context, ctx.Int("limit"), ctx.String("target"))
	if err != nil {
		return err
	}

	a.logger.Info().Msg("Targets to be verified:")
	for _, t := range targets {
		fmt.Println(t)
	}
	a.logger.Info().Msg("(Note: riscv-tests are discovered after build and not listed here unless built)")
	return nil
}

func (a *App) checkSpikeTimeouts(ctx *cli.Context) error {
	sess, err := a.prepare(ctx)
	if err != nil {
		return err
	}

	spikeBin, err := spike.Build(ctx.Context, a.logger)
	if err != nil {
		return err
	}

	workDir, cleanup, err := a.makeWorkDir(ctx.Bool("keep-work"))
	if err != nil {
		return err
	}
	defer cleanup()

	gen := spike.NewGenerator(a.logger, sess.tables, spikeBin)
	orch := regress.New(a.logger, sess.tables, nil, gen, workDir, workDir)

	failed := orch.CheckSpikeTimeouts(ctx.Context, sess.cases)

	fmt.Println("\n--- Suggested spike denylist ---")
	fmt.Println("spike_denylist:")
	for _, t := range failed {
		fmt.Printf("  - %q\n", t)
	}
	return nil
}

// prepare resolves the toolchain roots, loads policy, discovers targets,
// builds them, and resolves their artifacts into test cases.
func (a *App) prepare(ctx *cli.Context) (*session, error) {
	mpactRoot, mpactRiscvRoot, err := a.toolchainRoots(ctx)
	if err != nil {
		return nil, err
	}

	if commit := ctx.String("mpact-commit"); commit != "" {
		if err := a.checkoutCommit(mpactRoot, commit); err != nil {
			return nil, err
		}
	}
	if commit := ctx.String("mpact-riscv-commit"); commit != "" && mpactRiscvRoot != "" {
		if err := a.checkoutCommit(mpactRiscvRoot, commit); err != nil {
			return nil, err
		}
	}

	a.logger.Info().Str("mpact_root", mpactRoot).Msg("Using MPACT root")
	if mpactRiscvRoot != "" {
		a.logger.Info().Str("mpact_riscv_root", mpactRiscvRoot).Msg("Using MPACT RISCV root")
	}

	tables, err := policy.Load(ctx.String("policy"))
	if err != nil {
		return nil, err
	}

	catalog := bazel.NewCatalog(a.logger, tables)
	targets, err := catalog.Discover(ctx.Context, ctx.Int("limit"), ctx.String("target"))
	if err != nil {
		return nil, err
	}

	resolver := bazel.NewResolver(a.logger, tables)
	cases := a.prepareCases(ctx.Context, ctx, resolver, targets)

	return &session{
		tables:         tables,
		cases:          cases,
		mpactRoot:      mpactRoot,
		mpactRiscvRoot: mpactRiscvRoot,
	}, nil
}

// prepareCases builds the target list (plus the riscv-tests suite unless
// skipped) and resolves every target to its artifact. Build failures are
// warnings; the affected targets surface later as missing artifacts.
func (a *App) prepareCases(ctx context.Context, cliCtx *cli.Context, resolver *bazel.Resolver, targets []string) []model.TestCase {
	single := cliCtx.String("target")
	skipSuite := cliCtx.Bool("skip-riscv-tests")

	// Suite pseudo-targets never build individually; the suite target
	// covers them.
	toBuild := make([]string, 0, len(targets)+1)
	for _, t := range targets {
		if !strings.HasPrefix(t, suiteTargetPrefix) {
			toBuild = append(toBuild, t)
		}
	}
	if !skipSuite {
		toBuild = append(toBuild, bazel.SuiteTarget())
	}
	resolver.Build(ctx, toBuild)

	var cases []model.TestCase

	if !skipSuite {
		for _, tc := range resolver.DiscoverSuite(ctx) {
			if single != "" && single != tc.Target {
				continue
			}
			cases = append(cases, tc)
		}
	}

	if len(targets) > 0 {
		a.logger.Info().Msg("Resolving standard target artifacts")
	}
	for _, t := range targets {
		if single != "" && single != t {
			continue
		}
		if elf, ok := resolver.Resolve(ctx, t); ok {
			cases = append(cases, model.TestCase{Target: t, Elf: elf})
		}
	}

	if limit := cliCtx.Int("limit"); limit > 0 && limit < len(cases) {
		cases = cases[:limit]
	}
	return cases
}

func (a *App) toolchainRoots(ctx *cli.Context) (mpactRoot, mpactRiscvRoot string, err error) {
	if root := ctx.String("mpact-root"); root != "" {
		mpactRoot, err = filepath.Abs(root)
		if err != nil {
			return "", "", fmt.Errorf("failed to resolve mpact-root: %w", err)
		}
	} else if root := os.Getenv(mpactRootEnv); root != "" {
		mpactRoot = root
	} else {
		mpactRoot = defaultMpactRoot
	}

	if root := ctx.String("mpact-riscv-root"); root != "" {
		mpactRiscvRoot, err = filepath.Abs(root)
		if err != nil {
			return "", "", fmt.Errorf("failed to resolve mpact-riscv-root: %w", err)
		}
	} else {
		mpactRiscvRoot = os.Getenv(mpactRiscvRootEnv)
	}

	return mpactRoot, mpactRiscvRoot, nil
}

// makeWorkDir creates the per-run scoped working directory. The returned
// cleanup removes it unless keep is set; it runs on all exit paths.
func (a *App) makeWorkDir(keep bool) (string, func(), error) {
	workDir, err := os.MkdirTemp("", workDirPrefix)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	a.logger.Info().Str("dir", workDir).Msg("Using temp ELF directory")

	cleanup := func() {
		if keep {
			a.logger.Info().Str("dir", workDir).Msg("Keeping work directory (cleanup skipped)")
			return
		}
		if err := os.RemoveAll(workDir); err != nil {
			a.logger.Warn().Err(err).Str("dir", workDir).Msg("Failed to clean up work directory")
		}
	}
	return workDir, cleanup, nil
}
