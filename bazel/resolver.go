package bazel

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/uvmreg/uvmreg/model"
	"github.com/uvmreg/uvmreg/policy"
)

// suiteTarget is the pre-packaged conformance suite whose output tree is
// scanned for additional test artifacts.
const suiteTarget = "//third_party/riscv-tests:all_files"

// SuiteTarget returns the conformance-suite label, exported so the build
// step can include it.
func SuiteTarget() string { return suiteTarget }

// Filename patterns for the conformance-suite scan: the suite ships ELF
// images named after the ISA subset plus disassembly dumps next to them.
const (
	suiteIncludePattern = "rv32*"
	suiteExcludePattern = "*.dump"
)

// Resolver maps targets to their built executable artifacts.
type Resolver struct {
	logger zerolog.Logger
	policy *policy.Tables
}

// NewResolver returns a resolver consulting the given policy tables.
func NewResolver(logger zerolog.Logger, tables *policy.Tables) *Resolver {
	return &Resolver{logger: logger, policy: tables}
}

// Build compiles the given targets in one bazel invocation. A partial build
// failure is reported as false but is not an error: targets that failed to
// build simply resolve to no artifact later.
func (r *Resolver) Build(ctx context.Context, targets []string) bool {
	r.logger.Info().Int("targets", len(targets)).Msg("Building targets")

	cmd := exec.CommandContext(ctx, "bazel", append([]string{"build"}, targets...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	r.logger.Debug().Str("command", shellescape.QuoteCommand(cmd.Args)).Msg("Running bazel build")

	if err := cmd.Run(); err != nil {
		r.logger.Warn().Err(err).Msg("Some targets failed to build, continuing with available artifacts")
		return false
	}
	return true
}

// Resolve returns the path of the ELF artifact produced for the target, or
// ("", false) if the query fails or no ELF is among the outputs. A missing
// artifact is a reportable outcome, not an error.
func (r *Resolver) Resolve(ctx context.Context, target string) (string, bool) {
	cmd := exec.CommandContext(ctx, "bazel", "cquery", "--output=files", target)
	output, err := cmd.Output()
	if err != nil {
		r.logger.Error().Err(err).Str("target", target).Msg("Failed to query artifact path")
		return "", false
	}

	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasSuffix(line, ".elf") {
			return line, true
		}
	}
	return "", false
}

// DiscoverSuite queries the output directories of the conformance suite and
// walks them for test ELFs, assigning each a pseudo-target label derived
// from its filename. Denylisted pseudo-targets are dropped. The result is
// sorted for determinism.
func (r *Resolver) DiscoverSuite(ctx context.Context) []model.TestCase {
	r.logger.Info().Msg("Collecting riscv-tests artifacts")

	cmd := exec.CommandContext(ctx, "bazel", "cquery", suiteTarget, "--output=files")
	output, err := cmd.Output()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to query riscv-tests outputs")
		return nil
	}

	dirs := strings.Split(strings.TrimSpace(string(output)), "\n")
	return r.suiteCasesFromDirs(dirs)
}

// suiteCasesFromDirs walks the suite output directories and selects the
// test images, dropping denylisted pseudo-targets.
func (r *Resolver) suiteCasesFromDirs(dirs []string) []model.TestCase {
	var cases []model.TestCase
	for _, dir := range dirs {
		dir = strings.TrimSpace(dir)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}

		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if !suiteArtifact(d.Name()) {
				return nil
			}
			pseudo := fmt.Sprintf("//third_party/riscv-tests:%s", d.Name())
			if r.policy.Denylisted(pseudo) {
				return nil
			}
			cases = append(cases, model.TestCase{Target: pseudo, Elf: path})
			return nil
		})
		if err != nil {
			r.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to walk riscv-tests output directory")
		}
	}

	sort.Slice(cases, func(i, j int) bool { return cases[i].Target < cases[j].Target })
	return cases
}

// suiteArtifact reports whether a filename looks like a conformance-suite
// test image rather than a disassembly dump.
func suiteArtifact(name string) bool {
	if ok, _ := doublestar.Match(suiteExcludePattern, name); ok {
		return false
	}
	ok, _ := doublestar.Match(suiteIncludePattern, name)
	return ok
}
