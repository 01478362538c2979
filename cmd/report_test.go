package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/config"
)

// fakeStore serves canned audit history without a database.
type fakeStore struct {
	reports   map[string]*schemas.AuditReport
	records   []schemas.AuditRecord
	lastLimit int
}

func (s *fakeStore) SaveReport(ctx context.Context, report *schemas.AuditReport) error {
	return nil
}

func (s *fakeStore) GetReport(ctx context.Context, id string) (*schemas.AuditReport, error) {
	report, ok := s.reports[id]
	if !ok {
		return nil, fmt.Errorf("audit %s not found", id)
	}
	return report, nil
}

func (s *fakeStore) ListAudits(ctx context.Context, limit int) ([]schemas.AuditRecord, error) {
	s.lastLimit = limit
	return s.records, nil
}

// stubProvider hands the command a fake store and records cleanup.
type stubProvider struct {
	store   schemas.Store
	err     error
	cleaned bool
}

func (p *stubProvider) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.Store, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.store, func() { p.cleaned = true }, nil
}

// executeReportCommand runs the report command against the given
// provider instead of the live database.
func executeReportCommand(t *testing.T, provider storeProvider, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand()
	root.RemoveCommand(findCommand(t, root, "report"))
	root.AddCommand(newReportCmd(provider))

	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestReportRendersStoredAudit(t *testing.T) {
	stored := &schemas.AuditReport{
		ID:        "a3f1",
		Contract:  schemas.ContractMeta{Name: "Vault", Network: "sepolia"},
		RiskScore: 6.4,
		CreatedAt: time.Now().UTC(),
	}
	provider := &stubProvider{store: &fakeStore{reports: map[string]*schemas.AuditReport{"a3f1": stored}}}

	outPath := filepath.Join(t.TempDir(), "report.json")
	_, err := executeReportCommand(t, provider, "report", "--id", "a3f1", "-f", "json", "-o", outPath)
	require.NoError(t, err)
	assert.True(t, provider.cleaned)

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var audited schemas.AuditReport
	require.NoError(t, json.Unmarshal(raw, &audited))
	assert.Equal(t, "a3f1", audited.ID)
	assert.Equal(t, "Vault", audited.Contract.Name)
	assert.InDelta(t, 6.4, audited.RiskScore, 0.001)
}

func TestReportUnknownID(t *testing.T) {
	provider := &stubProvider{store: &fakeStore{reports: map[string]*schemas.AuditReport{}}}

	_, err := executeReportCommand(t, provider, "report", "--id", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load audit missing")
	assert.True(t, provider.cleaned)
}

func TestReportListsAudits(t *testing.T) {
	st := &fakeStore{records: []schemas.AuditRecord{
		{ID: "a1", ContractName: "Vault", Network: "ethereum", RiskScore: 2.4, CreatedAt: time.Now().UTC()},
		{ID: "a2", Address: testAddress, Network: "sepolia", RiskScore: 8.1, CreatedAt: time.Now().UTC()},
	}}
	provider := &stubProvider{store: st}

	_, err := executeReportCommand(t, provider, "report")
	require.NoError(t, err)
	assert.Equal(t, 20, st.lastLimit)
	assert.True(t, provider.cleaned)
}

func TestReportListLimitFlag(t *testing.T) {
	st := &fakeStore{}
	provider := &stubProvider{store: st}

	_, err := executeReportCommand(t, provider, "report", "--limit", "5")
	require.NoError(t, err)
	assert.Equal(t, 5, st.lastLimit)
}

func TestReportProviderFailure(t *testing.T) {
	provider := &stubProvider{err: fmt.Errorf("connection refused")}

	_, err := executeReportCommand(t, provider, "report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestReportWithoutStoreConfigured(t *testing.T) {
	// The default provider refuses to run without a store URL.
	_, err := executeCommand(t, "report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit store is not configured")
}
