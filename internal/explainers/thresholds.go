package explainers

// Insight rule thresholds. Rules compare against these exactly; changing one
// changes which insights a given fleet produces.
const (
	// Top recurring issue is high severity from this many occurrences.
	TopIssueHighCount = 3

	// Blast radius needs at least this many environments under one base and
	// at least half of them (rounded up) bad.
	BlastRadiusMinChildren = 3

	// Hygiene fires when a leak or injected-path finding appears in this many
	// reports.
	HygieneMinReports = 2

	// High entropy needs this many reports carrying this many distinct
	// non-info finding codes.
	EntropyMinReports = 5
	EntropyMinCodes   = 8

	// Flaky task insights and the worst environments named in each.
	MaxFlakyInsights  = 3
	MaxFlakyWorstEnvs = 2

	// Environment-dependent flakes reported beyond the flaky ones.
	MaxEnvDependentInsights = 2

	// Failure hotspots: top environments by FAILED_RUN weight, each needing
	// at least HotspotMinWeight failures.
	MaxHotspots      = 2
	HotspotMinWeight = 3

	// Contagion fires when one failure code accounts for at least this share
	// of failed runs.
	ContagionMinShare = 0.5
)

// FallbackText is the single insight emitted when no rule fires.
const FallbackText = "No systemic risk detected"
