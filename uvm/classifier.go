package uvm

import (
	"regexp"
	"strings"

	"github.com/uvmreg/uvmreg/model"
)

// Classifier turns a simulator invocation's exit code and combined output
// into a verdict. Implementations must be pure functions of their inputs:
// the same pair always yields the same verdict, whichever retry attempt
// produced it.
type Classifier interface {
	Classify(exitCode int, output string) (model.Status, string)
}

// UVMClassifier classifies the UVM simulator's output dialect.
type UVMClassifier struct{}

// markerRe matches UVM error/fatal lines, e.g.
// "UVM_ERROR file.sv(123) @ 100: ..." or "UVM_FATAL @ 100: ...".
var markerRe = regexp.MustCompile(`^\s*UVM_(?:FATAL|ERROR)`)

// zeroCountRe matches summary lines reporting a zero count, e.g.
// "UVM_ERROR :    0". Those must not be treated as failures.
var zeroCountRe = regexp.MustCompile(`:\s+0\s*$`)

// busDecodeError marks a bus decode fault anywhere in the output.
const busDecodeError = "AXI_DECERR"

// Classify applies, in order: UVM error/fatal marker scan (ignoring
// zero-count summary lines), then exit-code handling with the bus-decode
// and last-line fallbacks. A zero exit code does not override a detected
// UVM error. Reasons are sanitized for the delimited report.
func (UVMClassifier) Classify(exitCode int, output string) (model.Status, string) {
	marker := findMarkerLine(output)

	if exitCode != 0 {
		switch {
		case marker != "":
			return model.StatusFail, Sanitize(marker)
		case strings.Contains(output, busDecodeError):
			return model.StatusFail, Sanitize(busDecodeError + " detected")
		default:
			return model.StatusFail, Sanitize("Make failed: " + lastNonEmptyLine(output))
		}
	}

	if marker != "" {
		return model.StatusFail, Sanitize(marker)
	}

	return model.StatusPass, model.PassReason
}

// findMarkerLine returns the first trimmed UVM error/fatal line whose
// trailing count is not exactly zero, or "". Lines are split without any
// length cap: simulator logs can carry arbitrarily long lines and a marker
// after one must still be found.
func findMarkerLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !markerRe.MatchString(line) {
			continue
		}
		if zeroCountRe.MatchString(line) {
			continue
		}
		return strings.TrimSpace(line)
	}
	return ""
}

func lastNonEmptyLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return "Unknown"
}

// Sanitize makes a reason safe for the comma-delimited report: field
// delimiters become semicolons and line breaks become spaces.
func Sanitize(reason string) string {
	reason = strings.ReplaceAll(reason, ",", ";")
	reason = strings.ReplaceAll(reason, "\r\n", " ")
	reason = strings.ReplaceAll(reason, "\n", " ")
	return reason
}
