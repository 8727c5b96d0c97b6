package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"storyloom/internal/config"
	"storyloom/internal/deps"
)

// HealthChecker is a backend that can verify its credentials.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckBackend verifies that the generative backend is reachable and the key
// is valid. It uses a 30-second timeout.
func CheckBackend(ctx context.Context, name string, backend HealthChecker) Result {
	if backend == nil {
		return Result{Name: name, Detail: "backend not configured"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := backend.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeBackendError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the binaries the concatenator shells out to.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries([]deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Required for combining clips",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Verifies combined videos",
			Optional:    !cfg.Concat.VerifyOutput,
		},
	})
}

// CheckTools turns the dependency statuses into results, with the tool
// version in the detail when it can be read.
func CheckTools(ctx context.Context, cfg *config.Config) []Result {
	statuses := CheckSystemDeps(cfg)
	results := make([]Result, 0, len(statuses))
	for _, status := range statuses {
		if !status.Available {
			results = append(results, Result{Name: status.Name, Optional: status.Optional, Detail: status.Detail})
			continue
		}
		detail := status.Path
		if version, err := deps.ToolVersion(ctx, status.Path); err == nil {
			detail = fmt.Sprintf("%s (version %s)", status.Path, version)
		}
		results = append(results, Result{Name: status.Name, Passed: true, Optional: status.Optional, Detail: detail})
	}
	return results
}

// summarizeBackendError produces a human-readable summary for backend health failures.
func summarizeBackendError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (backend unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (backend unreachable)"
	}
	return err.Error()
}
