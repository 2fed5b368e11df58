package preflight

import (
	"context"
	"strings"

	"overdub/internal/config"
	"overdub/internal/deps"
)

// Result reports the outcome of a single preflight check. A failed advisory
// check is reported but does not make the host unready.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Advisory bool   `json:"advisory,omitempty"`
	Detail   string `json:"detail"`
}

// Report bundles binary availability and readiness checks.
type Report struct {
	Dependencies []deps.Status `json:"dependencies"`
	Checks       []Result      `json:"checks"`
}

// Ready reports whether every required binary exists and every non-advisory
// check passed.
func (r Report) Ready() bool {
	if len(deps.MissingRequired(r.Dependencies)) > 0 {
		return false
	}
	for _, c := range r.Checks {
		if !c.Passed && !c.Advisory {
			return false
		}
	}
	return true
}

// Options toggles the slower checks.
type Options struct {
	// CheckLLM performs a live request against the translation endpoint.
	CheckLLM bool
}

// Run evaluates binaries and readiness checks for cfg.
func Run(ctx context.Context, cfg *config.Config, opts Options) Report {
	if cfg == nil {
		return Report{}
	}
	return Report{
		Dependencies: deps.CheckBinaries(ctx, deps.Requirements(cfg)),
		Checks:       RunAll(ctx, cfg, opts),
	}
}

// RunAll executes the directory, disk, memory, and optional LLM checks.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckFreeSpace("Staging free space", cfg.Paths.StagingDir, MinFreeBytes),
		CheckFreeSpace("Output free space", cfg.Paths.OutputDir, MinFreeBytes),
		CheckMemory(ctx, MinAvailableMemory),
	}
	if opts.CheckLLM && strings.TrimSpace(cfg.Translation.APIKey) != "" {
		results = append(results, CheckLLM(ctx, "Translation LLM", cfg))
	}
	return results
}
