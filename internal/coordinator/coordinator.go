// Package coordinator fans a single audit out across the registered
// detectors and folds their results into one aggregated report. Detector
// failures are isolated at the goroutine boundary: a panicking or erroring
// detector is replaced by an empty result under its key and never disturbs
// its siblings or the caller.
package coordinator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/analysis/core"
	"github.com/ode0x/solaudit/internal/analysis/detectors/accessctl"
	"github.com/ode0x/solaudit/internal/analysis/detectors/extcall"
	"github.com/ode0x/solaudit/internal/analysis/detectors/gasopt"
	"github.com/ode0x/solaudit/internal/analysis/detectors/overflow"
	"github.com/ode0x/solaudit/internal/analysis/detectors/reentrancy"
	"github.com/ode0x/solaudit/internal/config"
)

// Coordinator runs a fixed detector set concurrently over contract source.
// It holds no per-run state; one instance may serve many audits at once.
type Coordinator struct {
	detectors []core.Detector
	limit     int
	logger    *zap.Logger
}

// Option customizes a Coordinator at construction time.
type Option func(*Coordinator)

// WithDetectors replaces the default detector set. Primarily used by tests
// to inject failing or stub detectors.
func WithDetectors(detectors ...core.Detector) Option {
	return func(c *Coordinator) {
		c.detectors = detectors
	}
}

// WithConcurrency overrides the configured fan-out limit.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		c.limit = n
	}
}

// DefaultDetectors returns the standard detector set in registration order.
func DefaultDetectors(logger *zap.Logger) []core.Detector {
	return []core.Detector{
		reentrancy.NewDetector(logger),
		accessctl.NewDetector(logger),
		overflow.NewDetector(logger),
		extcall.NewDetector(logger),
		gasopt.NewDetector(logger),
	}
}

// New creates a Coordinator with its dependencies injected.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if cfg == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize coordinator with nil dependencies")
	}

	c := &Coordinator{
		limit:  cfg.Engine.WorkerConcurrency,
		logger: logger.Named("coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.detectors) == 0 {
		c.detectors = DefaultDetectors(logger)
	}
	if c.limit <= 0 {
		c.limit = len(c.detectors)
	}

	seen := make(map[string]bool, len(c.detectors))
	for _, det := range c.detectors {
		if seen[det.Key()] {
			return nil, fmt.Errorf("duplicate detector key %q", det.Key())
		}
		seen[det.Key()] = true
	}

	return c, nil
}

// Keys returns the sorted registry keys of the configured detectors.
func (c *Coordinator) Keys() []string {
	keys := make([]string, len(c.detectors))
	for i, det := range c.detectors {
		keys[i] = det.Key()
	}
	sort.Strings(keys)
	return keys
}

// RunAll executes every registered detector concurrently against its own
// view of the source and aggregates the results. The report is keyed by
// detector, so its content is identical regardless of completion order.
// RunAll never returns an error: failed detectors are recorded in the
// report's FailedDetectors list with an empty result under their key.
func (c *Coordinator) RunAll(ctx context.Context, source string) schemas.AggregatedReport {
	src := core.NewSource(source)
	if src.IsEmpty() {
		c.logger.Debug("Source is empty; detectors will report their defaults")
	}

	var (
		mu      sync.Mutex
		results = make(map[string]schemas.DetectorResult, len(c.detectors))
		failed  []string
	)

	g := new(errgroup.Group)
	g.SetLimit(c.limit)

	for _, det := range c.detectors {
		g.Go(func() error {
			result, err := c.runDetector(ctx, det, src)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Warn("Detector failed, substituting empty result",
					zap.String("detector", det.Key()),
					zap.Error(err),
				)
				results[det.Key()] = schemas.EmptyDetectorResult(det.Key())
				failed = append(failed, det.Key())
				return nil
			}
			results[det.Key()] = result
			return nil
		})
	}
	// Failures are captured per detector above; the group itself never
	// carries an error.
	_ = g.Wait()

	assertComplete(c.detectors, results)
	sort.Strings(failed)

	return schemas.AggregatedReport{
		Results:         results,
		Summary:         summarize(results),
		Degraded:        len(failed) > 0,
		FailedDetectors: failed,
	}
}

// runDetector invokes one detector with a panic boundary so a programming
// error inside a detector degrades only that detector's result.
func (c *Coordinator) runDetector(ctx context.Context, det core.Detector, src *core.Source) (result schemas.DetectorResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Detector panicked",
				zap.String("detector", det.Key()),
				zap.Any("panicValue", r),
				zap.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("detector %s panicked: %v", det.Key(), r)
		}
	}()
	return det.Detect(ctx, src)
}

// summarize folds per-detector results into the combined check and
// severity tallies.
func summarize(results map[string]schemas.DetectorResult) schemas.Summary {
	counts := make(map[schemas.Severity]int, len(schemas.AllSeverities()))
	for _, s := range schemas.AllSeverities() {
		counts[s] = 0
	}

	summary := schemas.Summary{SeverityCounts: counts}
	for _, res := range results {
		summary.TotalChecks += len(res.Checks)
		for _, passed := range res.Checks {
			if passed {
				summary.PassedChecks++
			}
		}
		for _, f := range res.Findings {
			counts[f.Severity]++
		}
	}
	return summary
}

// assertComplete panics when a registered key is missing from the results
// map. RunAll writes every key on both the success and failure paths, so a
// missing key is a programming error, never a runtime condition.
func assertComplete(detectors []core.Detector, results map[string]schemas.DetectorResult) {
	for _, det := range detectors {
		if _, ok := results[det.Key()]; !ok {
			panic(fmt.Sprintf("aggregation inconsistency: detector %q missing from results", det.Key()))
		}
	}
}
