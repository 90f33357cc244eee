package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const defaultTimeout = 5 * time.Second

// Check is a single startup verification. Critical checks must pass for
// the run to proceed; non-critical failures are logged and skipped.
type Check struct {
	Name     string
	Critical bool
	Fn       func(ctx context.Context) error
}

// Result holds the outcome of one check.
type Result struct {
	Check    Check
	Err      error
	Duration time.Duration
}

// Run executes the checks in order, bounding each with its own timeout so
// a single hung dependency cannot stall startup.
func Run(ctx context.Context, checks []Check) []Result {
	results := make([]Result, len(checks))
	for i, c := range checks {
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		err := c.Fn(checkCtx)
		cancel()
		results[i] = Result{Check: c, Err: err, Duration: time.Since(start)}
	}
	return results
}

// Verify runs the checks, logs a summary, and returns a joined error if
// any critical check failed.
func Verify(ctx context.Context, checks []Check) error {
	var critical []error

	for _, r := range Run(ctx, checks) {
		status := "PASS"
		if r.Err != nil {
			status = "FAIL"
		}
		msg := fmt.Sprintf("[%s] %-20s (%v)", status, r.Check.Name, r.Duration.Round(time.Millisecond))

		if r.Err != nil {
			slog.Error(msg, "error", r.Err)
			if r.Check.Critical {
				critical = append(critical, fmt.Errorf("%s: %w", r.Check.Name, r.Err))
			}
		} else {
			slog.Info(msg)
		}
	}

	return errors.Join(critical...)
}
