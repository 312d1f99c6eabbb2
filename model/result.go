package model

// Status is the closed classification of a test case's outcome.
type Status string

const (
	// StatusPass means the simulation completed with no failure detected.
	StatusPass Status = "PASS"
	// StatusFail means the simulation (or its setup) failed for a reason
	// recorded alongside the status.
	StatusFail Status = "FAIL"
	// StatusArtifactMissing means the built ELF for the target could not be
	// found, typically because the build failed.
	StatusArtifactMissing Status = "BUILD_ARTIFACT_MISSING"
	// StatusExecFail means the simulator process could not be invoked at all.
	StatusExecFail Status = "EXEC_FAIL"
)

// PassReason is the reason sentinel used when no failure was detected.
const PassReason = "None"

// SimulationResult is the outcome of one simulator invocation.
type SimulationResult struct {
	// Status of the run
	Status Status
	// Reason is a single-line, sanitized human string
	Reason string
	// Log is the full combined stdout/stderr text of the final attempt
	Log string
}

// TestCase pairs a target identifier with its built artifact.
type TestCase struct {
	// Target is the build-system label (or synthesized pseudo-label)
	Target string
	// Elf is the path to the built executable image; empty if the build
	// failed to produce one
	Elf string
}

// ReportRow is the unit written to the tabular report.
type ReportRow struct {
	// Target identifier
	Target string
	// Status of the test case
	Status Status
	// Reason is a sanitized single-line string
	Reason string
	// LogPath is relative to the report's directory
	LogPath string
}
