// Package engine runs batch audits. It discovers Solidity sources under a
// root path and fans them out to a pool of workers, each running the full
// audit pipeline with a per-task timeout. Cancellation stops scheduling
// immediately; results already produced are kept, so an interrupted batch
// still reports the audits that finished.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/config"
)

// solidityExt is the extension batch discovery selects on.
const solidityExt = ".sol"

// ErrNoSources is returned by Run when discovery finds nothing to audit.
var ErrNoSources = errors.New("no solidity sources found")

// FileResult pairs a discovered source path with its audit outcome. Err is
// set when the file could not be read or its audit failed; the rest of the
// batch is unaffected.
type FileResult struct {
	Path   string
	Report *schemas.AuditReport
	Err    error
}

// BatchResult aggregates one engine run. Results holds every task that was
// scheduled, ordered by path; tasks the producer never handed out before a
// cancellation are absent.
type BatchResult struct {
	Results   []FileResult
	Completed int
	Failed    int
	Cancelled bool
	Duration  time.Duration
}

// Engine fans source files out to a pool of audit workers.
type Engine struct {
	auditor schemas.Auditor
	log     *zap.Logger

	concurrency int
	queueSize   int
	taskTimeout time.Duration
}

// New creates a batch engine sized from the engine configuration.
func New(cfg *config.Config, logger *zap.Logger, auditor schemas.Auditor) (*Engine, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("cannot initialize engine with nil dependencies")
	}
	if auditor == nil {
		return nil, errors.New("engine requires an auditor")
	}

	concurrency := cfg.Engine.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	queueSize := cfg.Engine.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	taskTimeout := cfg.Engine.DefaultTaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = 2 * time.Minute
	}

	return &Engine{
		auditor:     auditor,
		log:         logger.Named("engine"),
		concurrency: concurrency,
		queueSize:   queueSize,
		taskTimeout: taskTimeout,
	}, nil
}

// DiscoverSources resolves root to the list of files to audit. A file path
// is returned as-is; a directory is walked for .sol files, with hidden
// directories skipped. The result is sorted so batch output is stable.
func DiscoverSources(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to access %s: %w", root, err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), solidityExt) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	sort.Strings(paths)
	return paths, nil
}

// Run audits every source under root and returns the aggregated outcome.
// The error is reserved for discovery problems; per-file failures land in
// the result, and a cancelled context yields the partial result with the
// Cancelled flag set rather than an error.
func (e *Engine) Run(ctx context.Context, root string) (*BatchResult, error) {
	paths, err := DiscoverSources(root)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoSources, root)
	}
	return e.run(ctx, paths), nil
}

func (e *Engine) run(ctx context.Context, paths []string) *BatchResult {
	start := time.Now()

	workers := e.concurrency
	if workers > len(paths) {
		workers = len(paths)
	}
	e.log.Info("Batch audit started",
		zap.Int("sources", len(paths)),
		zap.Int("workers", workers),
	)

	tasks := make(chan string, e.queueSize)
	go func() {
		defer close(tasks)
		for _, path := range paths {
			select {
			case <-ctx.Done():
				return
			case tasks <- path:
			}
		}
	}()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]FileResult, len(paths))
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			log := e.log.With(zap.Int("worker", id))
			for {
				select {
				case <-ctx.Done():
					log.Debug("Context cancelled, worker shutting down")
					return
				case path, ok := <-tasks:
					if !ok {
						return
					}
					if ctx.Err() != nil {
						log.Warn("Context cancelled before task started", zap.String("path", path))
						return
					}
					res := e.auditFile(ctx, path, log)
					mu.Lock()
					results[path] = res
					mu.Unlock()
				}
			}
		}(i + 1)
	}
	wg.Wait()

	batch := &BatchResult{Cancelled: ctx.Err() != nil}
	for _, path := range paths {
		res, ok := results[path]
		if !ok {
			continue
		}
		batch.Results = append(batch.Results, res)
		if res.Err != nil {
			batch.Failed++
		} else {
			batch.Completed++
		}
	}
	batch.Duration = time.Since(start)

	e.log.Info("Batch audit finished",
		zap.Int("completed", batch.Completed),
		zap.Int("failed", batch.Failed),
		zap.Bool("cancelled", batch.Cancelled),
		zap.Duration("duration", batch.Duration),
	)
	return batch
}

// auditFile reads one source file and runs it through the auditor under
// the per-task timeout.
func (e *Engine) auditFile(ctx context.Context, path string, log *zap.Logger) FileResult {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Error("Failed to read source file", zap.String("path", path), zap.Error(err))
		return FileResult{Path: path, Err: fmt.Errorf("failed to read source file: %w", err)}
	}

	meta := schemas.ContractMeta{Name: contractName(path)}

	taskCtx, cancel := context.WithTimeout(ctx, e.taskTimeout)
	defer cancel()

	report, err := e.auditor.Audit(taskCtx, string(raw), meta)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			log.Warn("Audit timed out", zap.String("path", path), zap.Duration("timeout", e.taskTimeout))
		case errors.Is(err, context.Canceled):
			log.Warn("Audit cancelled", zap.String("path", path))
		default:
			log.Error("Audit failed", zap.String("path", path), zap.Error(err))
		}
		return FileResult{Path: path, Err: err}
	}

	log.Info("Audit complete",
		zap.String("path", path),
		zap.Float64("riskScore", report.RiskScore),
		zap.Int("findings", len(report.Aggregated.Findings())),
	)
	return FileResult{Path: path, Report: report}
}

// contractName derives a display name from the file name.
func contractName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
