// Package codes is the single lookup table for the open-ended string taxonomies
// that flow through envmap: probe finding codes and task error classifications.
//
// Rollup, insight, and rendering code never branch on individual codes beyond
// the handful of capability codes exported here; everything else is a table
// lookup with a documented fallback entry.
package codes

import "strings"

// Finding codes with dedicated capability semantics.
const (
	SSLBroken       = "ssl_broken"
	UserSiteLeak    = "user_site_leak"
	PathInjected    = "pythonpath_injected"
	BaseMissing     = "base_missing"
	PipMissing      = "pip_missing"
	PipBroken       = "pip_broken"
	VersionEOL      = "version_eol"
	ArchMismatch    = "arch_mismatch"
	StdlibShadowed  = "stdlib_shadowed"
	SitePackagesRO  = "site_packages_readonly"
	DepConflict     = "dependency_conflict"
	ProbeFailed     = "probe_failed"
	ProbeTimeout    = "probe_timeout"
	EncodingDefault = "encoding_not_utf8"
)

// Error classification codes attached to task runs.
const (
	ErrTimeout          = "timeout"
	ErrImport           = "import_error"
	ErrModuleNotFound   = "module_not_found"
	ErrSSL              = "ssl_error"
	ErrPermission       = "permission_denied"
	ErrOOM              = "out_of_memory"
	ErrNonZeroExit      = "nonzero_exit"
	ErrInterpreterCrash = "interpreter_crash"
)

// Unknown is the fallback code for findings and failures without a code.
const Unknown = "unknown"

// Entry describes one code in the taxonomy.
type Entry struct {
	Code   string
	Weight int    // relative severity weight, higher is worse
	Hint   string // one-line remediation
	Glyph  string // short visual marker for diagrams
}

var table = map[string]Entry{
	SSLBroken:       {SSLBroken, 9, "Rebuild the interpreter against a working OpenSSL or reinstall certifi", "🔒"},
	UserSiteLeak:    {UserSiteLeak, 6, "Set PYTHONNOUSERSITE=1 or recreate the environment without user site-packages", "💧"},
	PathInjected:    {PathInjected, 7, "Unset PYTHONPATH for task execution; install packages into the environment instead", "💉"},
	BaseMissing:     {BaseMissing, 10, "Base interpreter no longer exists; recreate the environment from an installed base", "🕳"},
	PipMissing:      {PipMissing, 5, "Bootstrap pip with python -m ensurepip --upgrade", "📦"},
	PipBroken:       {PipBroken, 6, "Reinstall pip with python -m ensurepip --upgrade --default-pip", "📦"},
	VersionEOL:      {VersionEOL, 4, "Migrate to a supported interpreter release", "⌛"},
	ArchMismatch:    {ArchMismatch, 7, "Use an interpreter built for the host architecture", "🧬"},
	StdlibShadowed:  {StdlibShadowed, 6, "Rename local modules that shadow the standard library", "👥"},
	SitePackagesRO:  {SitePackagesRO, 3, "Fix ownership of site-packages or use a per-user environment", "🔏"},
	DepConflict:     {DepConflict, 5, "Resolve conflicting requirements with pip check and pin versions", "⚔"},
	ProbeFailed:     {ProbeFailed, 8, "Interpreter failed to start; verify the executable and its shared libraries", "💥"},
	ProbeTimeout:    {ProbeTimeout, 6, "Interpreter startup timed out; check sitecustomize and .pth hooks", "⏱"},
	EncodingDefault: {EncodingDefault, 2, "Set PYTHONUTF8=1 for consistent text encoding", "🔤"},

	ErrTimeout:          {ErrTimeout, 5, "Raise the task timeout or investigate slow startup hooks", "⏱"},
	ErrImport:           {ErrImport, 6, "Install the missing dependency into the selected environment", "🧩"},
	ErrModuleNotFound:   {ErrModuleNotFound, 6, "Install the missing module or route the task to an environment that has it", "🧩"},
	ErrSSL:              {ErrSSL, 8, "Route TLS-dependent tasks away from environments with broken SSL", "🔒"},
	ErrPermission:       {ErrPermission, 4, "Check file ownership of the environment and working directory", "🔏"},
	ErrOOM:              {ErrOOM, 5, "Reduce task memory or route to a 64-bit interpreter", "🧠"},
	ErrNonZeroExit:      {ErrNonZeroExit, 3, "Inspect the task's diagnostic output", "✖"},
	ErrInterpreterCrash: {ErrInterpreterCrash, 9, "Interpreter crashed; rebuild the environment", "💥"},

	Unknown: {Unknown, 1, "Inspect the environment report for details", "❓"},
}

// Lookup returns the taxonomy entry for code, or the Unknown entry with Code
// set to the normalized code when the code is not in the table.
func Lookup(code string) Entry {
	key := Normalize(code)
	if e, ok := table[key]; ok {
		return e
	}
	fallback := table[Unknown]
	fallback.Code = key
	return fallback
}

// Normalize folds a finding or failure code to its canonical form: trimmed,
// lowercased, and Unknown when empty.
func Normalize(code string) string {
	c := strings.ToLower(strings.TrimSpace(code))
	if c == "" {
		return Unknown
	}
	return c
}

// Hint returns the remediation hint for code.
func Hint(code string) string { return Lookup(code).Hint }

// Glyph returns the diagram glyph for code.
func Glyph(code string) string { return Lookup(code).Glyph }
