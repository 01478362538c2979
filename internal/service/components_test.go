package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ode0x/solaudit/api/schemas"
)

type failingCloserAdvisor struct{}

func (failingCloserAdvisor) Narrative(_ context.Context, _ *schemas.AuditReport) (string, error) {
	return "", nil
}

func (failingCloserAdvisor) Close() error { return errors.New("close failed") }

func TestBuildDefaultComponents(t *testing.T) {
	c, err := Build(context.Background(), newTestConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Shutdown()

	assert.NotNil(t, c.Coordinator)
	assert.NotNil(t, c.Parser)
	assert.NotNil(t, c.Reasoner)
	assert.NotNil(t, c.Oracle, "oracle is enabled by default")
	assert.Nil(t, c.Store, "store is disabled by default")
	assert.NotNil(t, c.Advisor, "advisor is a noop when disabled, never nil")
	assert.NotNil(t, c.Fetcher)
	require.NotNil(t, c.Auditor)

	// The wired auditor produces a complete report end to end.
	report, err := c.Auditor.Audit(context.Background(), "contract Probe {}", schemas.ContractMeta{Name: "Probe"})
	require.NoError(t, err)
	assert.Equal(t, 24, report.Aggregated.Summary.TotalChecks)
}

func TestBuildNilDependencies(t *testing.T) {
	t.Parallel()

	_, err := Build(context.Background(), nil, zaptest.NewLogger(t))
	require.Error(t, err)

	_, err = Build(context.Background(), newTestConfig(t), nil)
	require.Error(t, err)
}

func TestBuildOracleDisabled(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Oracle.Enabled = false

	c, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Shutdown()

	assert.Nil(t, c.Oracle)
	assert.NotNil(t, c.Auditor)
}

func TestBuildAdvisorMisconfigured(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Advisor.Enabled = true
	cfg.Advisor.APIKey = ""

	_, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize advisor")
}

func TestBuildStoreFailure(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Store.Enabled = true
	cfg.Store.URL = "://not-a-url"

	_, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize audit store")
}

func TestShutdownSurvivesAdvisorCloseError(t *testing.T) {
	c := &Components{
		Advisor: failingCloserAdvisor{},
		log:     zaptest.NewLogger(t),
	}

	assert.NotPanics(t, c.Shutdown)
}
