// Package cluster groups run records into per-task-definition aggregates and
// classifies them (flaky, environment-dependent, failing environments).
package cluster

import (
	"sort"
	"strconv"
	"strings"

	"github.com/dejo1307/envmap/internal/codes"
	"github.com/dejo1307/envmap/internal/graph"
	"github.com/dejo1307/envmap/internal/ident"
)

// Signature identifies a task definition. Runs with equal signatures are the
// same task for aggregation.
type Signature string

// SignatureOf derives a run's task signature from the task name, the
// normalized command, and the normalized requirement fingerprint.
//
// Determinism rules:
//   - Command whitespace is trimmed and collapsed, then lowercased.
//   - Each requirement list is lowercased and sorted independently.
//   - Args and the selected environment do not participate.
func SignatureOf(run graph.RunRecord) Signature {
	key := strings.TrimSpace(run.Task.Name) + "\x00" +
		NormalizeCommand(run.Task.Command) + "\x00" +
		RequirementFingerprint(run.Task.Requires)
	return Signature(ident.StableID(ident.KindSig, key))
}

// NormalizeCommand trims, collapses internal whitespace, and lowercases cmd.
func NormalizeCommand(cmd string) string {
	return strings.ToLower(strings.Join(strings.Fields(cmd), " "))
}

// RequirementFingerprint renders requirements in a canonical form.
func RequirementFingerprint(req *graph.Requirements) string {
	if req == nil {
		return ""
	}
	return "pkgs=" + canonicalList(req.Packages) +
		";features=" + canonicalList(req.Features) +
		";tags=" + canonicalList(req.Tags) +
		";x64=" + strconv.FormatBool(req.Require64Bit)
}

func canonicalList(items []string) string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.ToLower(strings.TrimSpace(it))
		if it != "" {
			out = append(out, it)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// FailureCode returns the code a failed run is attributed to. A dominant issue
// supplied by the probe wins over the run's own error classification.
func FailureCode(run graph.RunRecord) string {
	if strings.TrimSpace(run.DominantIssue) != "" {
		return codes.Normalize(run.DominantIssue)
	}
	return codes.Normalize(run.Outcome.ErrorCode)
}
