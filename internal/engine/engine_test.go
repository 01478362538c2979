package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/config"
)

// stubAuditor stands in for the audit pipeline. auditFunc can be swapped
// per test to simulate slow, failing, or blocking audits.
type stubAuditor struct {
	mu        sync.Mutex
	audited   []string
	auditFunc func(ctx context.Context, source string, meta schemas.ContractMeta) (*schemas.AuditReport, error)
}

func (s *stubAuditor) Audit(ctx context.Context, source string, meta schemas.ContractMeta) (*schemas.AuditReport, error) {
	s.mu.Lock()
	s.audited = append(s.audited, meta.Name)
	s.mu.Unlock()
	if s.auditFunc != nil {
		return s.auditFunc(ctx, source, meta)
	}
	return &schemas.AuditReport{ID: meta.Name, Contract: meta, RiskScore: 1.0}, nil
}

func (s *stubAuditor) auditedNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.audited...)
}

func testConfig(workers int, timeout time.Duration) *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			WorkerConcurrency:  workers,
			QueueSize:          16,
			DefaultTaskTimeout: timeout,
		},
	}
}

// writeSources lays out a contract tree with distractors that discovery
// must ignore.
func writeSources(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	files := map[string]string{
		"Vault.sol":         "contract Vault {}",
		"Token.sol":         "contract Token {}",
		"nested/Oracle.sol": "contract Oracle {}",
		"README.md":         "# not solidity",
		".build/Hidden.sol": "contract Hidden {}",
		"nested/notes.txt":  "scratch",
		"nested/UPPER.SOL":  "contract Upper {}",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func TestDiscoverSources(t *testing.T) {
	t.Parallel()

	t.Run("directory walk", func(t *testing.T) {
		t.Parallel()
		root := writeSources(t)

		paths, err := DiscoverSources(root)
		require.NoError(t, err)

		assert.Equal(t, []string{
			filepath.Join(root, "Token.sol"),
			filepath.Join(root, "Vault.sol"),
			filepath.Join(root, "nested", "Oracle.sol"),
			filepath.Join(root, "nested", "UPPER.SOL"),
		}, paths)
	})

	t.Run("single file returned as-is", func(t *testing.T) {
		t.Parallel()
		root := writeSources(t)
		file := filepath.Join(root, "Vault.sol")

		paths, err := DiscoverSources(file)
		require.NoError(t, err)
		assert.Equal(t, []string{file}, paths)
	})

	t.Run("missing path", func(t *testing.T) {
		t.Parallel()
		_, err := DiscoverSources(filepath.Join(t.TempDir(), "nope"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to access")
	})
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	auditor := &stubAuditor{}

	t.Run("nil config", func(t *testing.T) {
		_, err := New(nil, logger, auditor)
		require.Error(t, err)
	})

	t.Run("nil auditor", func(t *testing.T) {
		_, err := New(testConfig(2, time.Second), logger, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires an auditor")
	})

	t.Run("zero config falls back to defaults", func(t *testing.T) {
		e, err := New(&config.Config{}, logger, auditor)
		require.NoError(t, err)
		assert.Equal(t, 4, e.concurrency)
		assert.Equal(t, 256, e.queueSize)
		assert.Equal(t, 2*time.Minute, e.taskTimeout)
	})
}

func TestRunAuditsEverySource(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := writeSources(t)
	auditor := &stubAuditor{}
	e, err := New(testConfig(2, 5*time.Second), zaptest.NewLogger(t), auditor)
	require.NoError(t, err)

	batch, err := e.Run(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 4, batch.Completed)
	assert.Zero(t, batch.Failed)
	assert.False(t, batch.Cancelled)
	assert.Greater(t, batch.Duration, time.Duration(0))

	require.Len(t, batch.Results, 4)
	// Results come back in discovery order regardless of which worker
	// finished first.
	assert.Equal(t, filepath.Join(root, "Token.sol"), batch.Results[0].Path)
	assert.Equal(t, filepath.Join(root, "Vault.sol"), batch.Results[1].Path)
	for _, res := range batch.Results {
		require.NoError(t, res.Err)
		require.NotNil(t, res.Report)
	}

	// Contract names are derived from file names.
	assert.ElementsMatch(t, []string{"Token", "Vault", "Oracle", "UPPER"}, auditor.auditedNames())
}

func TestRunSingleFile(t *testing.T) {
	t.Parallel()

	root := writeSources(t)
	auditor := &stubAuditor{}
	e, err := New(testConfig(2, 5*time.Second), zaptest.NewLogger(t), auditor)
	require.NoError(t, err)

	batch, err := e.Run(context.Background(), filepath.Join(root, "Vault.sol"))
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Completed)
	require.Len(t, batch.Results, 1)
	assert.Equal(t, "Vault", batch.Results[0].Report.Contract.Name)
}

func TestRunFailureIsolation(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := writeSources(t)
	auditor := &stubAuditor{
		auditFunc: func(_ context.Context, _ string, meta schemas.ContractMeta) (*schemas.AuditReport, error) {
			if meta.Name == "Token" {
				return nil, errors.New("detector exploded")
			}
			return &schemas.AuditReport{ID: meta.Name, Contract: meta}, nil
		},
	}
	e, err := New(testConfig(2, 5*time.Second), zaptest.NewLogger(t), auditor)
	require.NoError(t, err)

	batch, err := e.Run(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 3, batch.Completed)
	assert.Equal(t, 1, batch.Failed)
	assert.False(t, batch.Cancelled)

	require.Len(t, batch.Results, 4)
	failed := batch.Results[0] // Token.sol sorts first
	assert.Equal(t, filepath.Join(root, "Token.sol"), failed.Path)
	require.Error(t, failed.Err)
	assert.Nil(t, failed.Report)
}

func TestRunUnreadableFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "Gone.sol")
	require.NoError(t, os.WriteFile(path, []byte("contract Gone {}"), 0o644))

	auditor := &stubAuditor{}
	e, err := New(testConfig(1, time.Second), zaptest.NewLogger(t), auditor)
	require.NoError(t, err)

	// Discover first, then remove the file so the read fails.
	paths, err := DiscoverSources(root)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.NoError(t, os.Remove(path))

	batch := e.run(context.Background(), paths)
	assert.Equal(t, 1, batch.Failed)
	require.Len(t, batch.Results, 1)
	assert.ErrorContains(t, batch.Results[0].Err, "failed to read source file")
	assert.Empty(t, auditor.auditedNames())
}

func TestRunNoSources(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	e, err := New(testConfig(2, time.Second), zaptest.NewLogger(t), &stubAuditor{})
	require.NoError(t, err)

	_, err = e.Run(context.Background(), root)
	require.ErrorIs(t, err, ErrNoSources)
}

func TestRunPerTaskTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := writeSources(t)
	auditor := &stubAuditor{
		auditFunc: func(ctx context.Context, _ string, _ schemas.ContractMeta) (*schemas.AuditReport, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	e, err := New(testConfig(4, 20*time.Millisecond), zaptest.NewLogger(t), auditor)
	require.NoError(t, err)

	batch, err := e.Run(context.Background(), root)
	require.NoError(t, err)

	assert.Zero(t, batch.Completed)
	assert.Equal(t, 4, batch.Failed)
	assert.False(t, batch.Cancelled)
	for _, res := range batch.Results {
		assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	}
}

func TestRunContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := writeSources(t)

	started := make(chan struct{}, 8)
	auditor := &stubAuditor{
		auditFunc: func(ctx context.Context, _ string, meta schemas.ContractMeta) (*schemas.AuditReport, error) {
			started <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	e, err := New(testConfig(2, time.Minute), zaptest.NewLogger(t), auditor)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	// Cancel once both workers are mid-audit.
	go func() {
		<-started
		<-started
		cancel()
	}()
	t.Cleanup(cancel)

	batch, err := e.Run(ctx, root)
	require.NoError(t, err)

	assert.True(t, batch.Cancelled)
	assert.Zero(t, batch.Completed)
	// The two in-flight audits surface as failures; the rest were never
	// scheduled.
	assert.LessOrEqual(t, len(batch.Results), 4)
	for _, res := range batch.Results {
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
}
