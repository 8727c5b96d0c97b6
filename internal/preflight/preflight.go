package preflight

import (
	"context"

	"storyloom/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll executes the checks that gate serving: writable directories, the
// concatenation binaries, and the backend when one is given.
func RunAll(ctx context.Context, cfg *config.Config, backend HealthChecker) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
	}
	results = append(results, CheckTools(ctx, cfg)...)

	if err := cfg.RequireBackendKey(); err != nil {
		results = append(results, Result{Name: "Gemini API", Detail: err.Error()})
	} else if backend != nil {
		results = append(results, CheckBackend(ctx, "Gemini API", backend))
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}
