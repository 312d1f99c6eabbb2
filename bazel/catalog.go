// Package bazel wraps the bazel invocations the regression depends on:
// target discovery, building, and artifact resolution. Queries use
// structured (XML) output rather than scraping bazel's human-readable text.
package bazel

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"

	"github.com/uvmreg/uvmreg/policy"
)

// binaryKind is the bazel rule kind of the test binaries driven by the
// regression.
const binaryKind = "coralnpu_v2_binary"

// Catalog discovers the test targets eligible for the regression.
type Catalog struct {
	logger zerolog.Logger
	policy *policy.Tables
}

// NewCatalog returns a catalog consulting the given policy tables.
func NewCatalog(logger zerolog.Logger, tables *policy.Tables) *Catalog {
	return &Catalog{logger: logger, policy: tables}
}

// queryResult mirrors the parts of bazel's query XML output we consume.
type queryResult struct {
	XMLName xml.Name    `xml:"query"`
	Rules   []queryRule `xml:"rule"`
}

type queryRule struct {
	Name   string       `xml:"name,attr"`
	Labels []queryLabel `xml:"label"`
}

type queryLabel struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// linkerScript returns the rule's linker_script attribute, if declared.
func (r queryRule) linkerScript() (string, bool) {
	for _, l := range r.Labels {
		if l.Name == "linker_script" {
			return l.Value, true
		}
	}
	return "", false
}

// Discover returns the sorted list of eligible targets. A non-empty single
// bypasses discovery and is returned alone; limit > 0 truncates the result.
// A failed or malformed query is an error: the run cannot proceed without a
// target list.
func (c *Catalog) Discover(ctx context.Context, limit int, single string) ([]string, error) {
	if single != "" {
		return []string{single}, nil
	}

	c.logger.Info().Msg("Querying bazel targets")
	cmd := exec.CommandContext(ctx, "bazel", "query",
		fmt.Sprintf("kind(%s, //...)", binaryKind), "--output=xml")
	c.logger.Debug().Str("command", shellescape.QuoteCommand(cmd.Args)).Msg("Running bazel query")

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("bazel query failed: %w", err)
	}

	targets, err := c.filterQueryXML(output)
	if err != nil {
		return nil, err
	}

	sort.Strings(targets)
	if limit > 0 && limit < len(targets) {
		targets = targets[:limit]
	}
	return targets, nil
}

// filterQueryXML parses query output and applies the denylist and the
// default-linker-script filter.
func (c *Catalog) filterQueryXML(data []byte) ([]string, error) {
	var result queryResult
	if err := xml.Unmarshal(stripXMLProlog(data), &result); err != nil {
		return nil, fmt.Errorf("failed to parse bazel query output: %w", err)
	}

	var targets []string
	for _, rule := range result.Rules {
		if c.policy.Denylisted(rule.Name) {
			c.logger.Debug().Str("target", rule.Name).Msg("Skipping denylisted target")
			continue
		}

		script, ok := rule.linkerScript()
		if !ok {
			// No linker_script attribute: not a well-formed candidate.
			continue
		}

		if script != defaultLinkerScript(rule.Name) {
			// Custom linker scripts imply a memory layout this pipeline
			// does not model.
			c.logger.Debug().
				Str("target", rule.Name).
				Str("linker_script", script).
				Msg("Skipping target with non-default linker script")
			continue
		}

		targets = append(targets, rule.Name)
	}
	return targets, nil
}

// stripXMLProlog drops the leading XML declaration. bazel emits an XML 1.1
// prolog while encoding/xml only accepts 1.0; the payload itself is
// 1.0-compatible.
func stripXMLProlog(data []byte) []byte {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if !bytes.HasPrefix(trimmed, []byte("<?xml")) {
		return data
	}
	end := bytes.Index(trimmed, []byte("?>"))
	if end < 0 {
		return data
	}
	return trimmed[end+2:]
}

// defaultLinkerScript computes the expected default linker script label for
// a target, <package>:<name>.ld. The //package form implies :package.
func defaultLinkerScript(target string) string {
	pkg := target
	name := target
	if idx := strings.Index(target, ":"); idx >= 0 {
		pkg = target[:idx]
		name = target[idx+1:]
	} else {
		name = target[strings.LastIndex(target, "/")+1:]
	}
	return fmt.Sprintf("%s:%s.ld", pkg, name)
}
