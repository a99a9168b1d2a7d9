package cluster

import (
	"sort"

	"github.com/dejo1307/envmap/internal/graph"
	"github.com/dejo1307/envmap/internal/ident"
)

// Flakiness thresholds on success rate, both exclusive.
const (
	FlakyMinRate = 0.20
	FlakyMaxRate = 0.95
)

// Options controls how runs are keyed.
type Options struct {
	// CaseInsensitive lowercases environment paths before keying.
	CaseInsensitive bool
}

// Histogram counts failure codes and remembers first-seen order.
type Histogram struct {
	counts map[string]int
	order  []string
}

func newHistogram() *Histogram {
	return &Histogram{counts: make(map[string]int)}
}

// Add records one occurrence of code.
func (h *Histogram) Add(code string) {
	if _, ok := h.counts[code]; !ok {
		h.order = append(h.order, code)
	}
	h.counts[code]++
}

// Count returns occurrences of code.
func (h *Histogram) Count(code string) int { return h.counts[code] }

// Codes returns codes in first-seen order.
func (h *Histogram) Codes() []string {
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// Counts returns a copy of the code counts.
func (h *Histogram) Counts() map[string]int {
	out := make(map[string]int, len(h.counts))
	for k, v := range h.counts {
		out[k] = v
	}
	return out
}

// Dominant returns the most frequent code. Ties resolve to the
// lexicographically smallest code so the result never depends on map order
// or on which record happened to arrive first.
func (h *Histogram) Dominant() string {
	best, bestCount := "", 0
	for code, n := range h.counts {
		if n > bestCount || (n == bestCount && code < best) {
			best, bestCount = code, n
		}
	}
	return best
}

// EnvStats are per-environment counters inside a cluster.
type EnvStats struct {
	Key          string // normalized environment path
	Path         string // first-seen raw path
	Runs         int
	Successes    int
	Failures     int
	FailureCodes *Histogram
}

// FailureRate is failures over runs on this environment.
func (s *EnvStats) FailureRate() float64 {
	if s.Runs == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Runs)
}

// Cluster aggregates all runs of one task definition.
type Cluster struct {
	Signature       Signature
	Name            string
	Command         string // normalized
	Requires        *graph.Requirements
	Runs            int
	Successes       int
	Failures        int
	SuccessRate     float64
	LastSeen        string
	FailureCodes    *Histogram
	DominantFailure string

	envs   []*EnvStats
	envIdx map[string]int
}

func newCluster(sig Signature, run graph.RunRecord) *Cluster {
	return &Cluster{
		Signature:    sig,
		Name:         run.Task.Name,
		Command:      NormalizeCommand(run.Task.Command),
		Requires:     run.Task.Requires,
		FailureCodes: newHistogram(),
		envIdx:       make(map[string]int),
	}
}

func (c *Cluster) add(run graph.RunRecord, envKey string) {
	c.Runs++
	if run.Timestamp > c.LastSeen {
		c.LastSeen = run.Timestamp
	}

	idx, ok := c.envIdx[envKey]
	if !ok {
		idx = len(c.envs)
		c.envIdx[envKey] = idx
		c.envs = append(c.envs, &EnvStats{Key: envKey, Path: run.Env.Path, FailureCodes: newHistogram()})
	}
	es := c.envs[idx]
	es.Runs++

	if run.Outcome.Success {
		c.Successes++
		es.Successes++
		return
	}
	code := FailureCode(run)
	c.Failures++
	c.FailureCodes.Add(code)
	es.Failures++
	es.FailureCodes.Add(code)
}

func (c *Cluster) freeze() {
	if c.Runs > 0 {
		c.SuccessRate = float64(c.Successes) / float64(c.Runs)
	}
	c.DominantFailure = c.FailureCodes.Dominant()
}

// Envs returns per-environment stats in first-seen order.
func (c *Cluster) Envs() []*EnvStats {
	out := make([]*EnvStats, len(c.envs))
	copy(out, c.envs)
	return out
}

// Env returns the stats for a normalized environment key, or nil.
func (c *Cluster) Env(key string) *EnvStats {
	idx, ok := c.envIdx[key]
	if !ok {
		return nil
	}
	return c.envs[idx]
}

// IsFlaky reports whether the task both passes and fails with a success rate
// strictly between FlakyMinRate and FlakyMaxRate. Mostly-failing tasks are a
// systemic failure, not a flake.
func (c *Cluster) IsFlaky() bool {
	if c.Successes == 0 || c.Failures == 0 {
		return false
	}
	return c.SuccessRate > FlakyMinRate && c.SuccessRate < FlakyMaxRate
}

// IsEnvDependentFlaky reports whether the task always passes on some
// environment while always failing on a different one. Environments with mixed
// results count toward neither side.
func (c *Cluster) IsEnvDependentFlaky() bool {
	if len(c.envs) < 2 {
		return false
	}
	allPass, allFail := false, false
	for _, es := range c.envs {
		switch {
		case es.Successes > 0 && es.Failures == 0:
			allPass = true
		case es.Failures > 0 && es.Successes == 0:
			allFail = true
		}
	}
	return allPass && allFail
}

// EnvFailure is one entry of FailingEnvs.
type EnvFailure struct {
	Key         string  `json:"key"`
	Path        string  `json:"path"`
	Failures    int     `json:"failures"`
	Runs        int     `json:"runs"`
	FailureRate float64 `json:"failure_rate"`
}

// FailingEnvs ranks environments with at least one failure by descending
// failure count (ties keep first-seen order), truncated to limit when limit > 0.
func (c *Cluster) FailingEnvs(limit int) []EnvFailure {
	var out []EnvFailure
	for _, es := range c.envs {
		if es.Failures == 0 {
			continue
		}
		out = append(out, EnvFailure{
			Key:         es.Key,
			Path:        es.Path,
			Failures:    es.Failures,
			Runs:        es.Runs,
			FailureRate: es.FailureRate(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Failures > out[j].Failures
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Build folds runs into clusters and freezes them. The result is sorted by
// descending run count; ties keep first-seen order.
func Build(runs []graph.RunRecord, opts Options) []*Cluster {
	var clusters []*Cluster
	bySig := make(map[Signature]*Cluster)

	for _, run := range runs {
		sig := SignatureOf(run)
		c, ok := bySig[sig]
		if !ok {
			c = newCluster(sig, run)
			bySig[sig] = c
			clusters = append(clusters, c)
		}
		c.add(run, ident.NormalizePath(run.Env.Path, opts.CaseInsensitive))
	}

	for _, c := range clusters {
		c.freeze()
	}
	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].Runs > clusters[j].Runs
	})
	return clusters
}
