package reentrancy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/analysis/core"
)

const vulnerableWithdraw = `pragma solidity ^0.8.20;

contract Vault {
    uint256 public balance;

    function withdraw(uint256 x) external {
        (bool ok, ) = token.call{value: x}("");
        require(ok);
        balance -= x;
    }
}`

const guardedWithdraw = `pragma solidity ^0.8.20;

contract Vault is ReentrancyGuard {
    uint256 public balance;

    function withdraw(uint256 x) external nonReentrant {
        balance -= x;
        (bool ok, ) = token.call{value: x}("");
        require(ok);
    }
}`

func newDetector(t *testing.T) *Detector {
	t.Helper()
	return NewDetector(zap.NewNop())
}

func TestDetectVulnerableWithdraw(t *testing.T) {
	t.Parallel()

	res, err := newDetector(t).Detect(context.Background(), core.NewSource(vulnerableWithdraw))
	require.NoError(t, err)

	assert.False(t, res.Checks["reentrancy_guard_present"])
	assert.False(t, res.Checks["no_state_after_call"])
	assert.True(t, res.Checks["uses_pull_payment"], "withdraw function counts as a pull pattern")

	require.Len(t, res.Findings, 1)
	f := res.Findings[0]
	assert.Equal(t, schemas.SeverityHigh, f.Severity)
	assert.Equal(t, schemas.CategoryReentrancy, f.Category)
	assert.Equal(t, "Line 7", f.Location, "finding cites the external call line")
	assert.Contains(t, f.Description, "withdraw")

	require.NotNil(t, f.Fix)
	assert.Contains(t, f.Fix.Fixed, "nonReentrant")
	require.Len(t, res.Fixes, 1)
}

func TestDetectGuardedContract(t *testing.T) {
	t.Parallel()

	res, err := newDetector(t).Detect(context.Background(), core.NewSource(guardedWithdraw))
	require.NoError(t, err)

	assert.True(t, res.Checks["reentrancy_guard_present"])
	assert.True(t, res.Checks["checks_effects_interactions"], "state write precedes the call")
	assert.Empty(t, res.Findings, "guarded contracts produce no reentrancy findings")
}

func TestDetectCompoundAssignmentStateWrite(t *testing.T) {
	t.Parallel()

	// Compound assignments (-=, +=) count as state writes just like plain
	// assignment.
	src := core.NewSource(`function drain(uint256 x) external {
    token.call{value: x}("");

    balance -= x;
}`)
	res, err := newDetector(t).Detect(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, res.Checks["no_state_after_call"])
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "Line 2", res.Findings[0].Location)
}

func TestDetectEmptyInput(t *testing.T) {
	t.Parallel()

	res, err := newDetector(t).Detect(context.Background(), core.NewSource(""))
	require.NoError(t, err)

	// Degenerate input still yields the full check set at safe defaults.
	assert.Len(t, res.Checks, 4)
	assert.False(t, res.Checks["reentrancy_guard_present"])
	assert.True(t, res.Checks["no_state_after_call"])
	assert.Empty(t, res.Findings)
}

func TestDetectDeterministic(t *testing.T) {
	t.Parallel()

	d := newDetector(t)
	first, err := d.Detect(context.Background(), core.NewSource(vulnerableWithdraw))
	require.NoError(t, err)
	second, err := d.Detect(context.Background(), core.NewSource(vulnerableWithdraw))
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical input yields identical results, IDs included")
}

func TestDetectCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newDetector(t).Detect(ctx, core.NewSource(vulnerableWithdraw))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStateWriteOutsideWindowIgnored(t *testing.T) {
	t.Parallel()

	src := core.NewSource(`function withdraw(uint256 x) external {
    token.call{value: x}("");
    emit Withdrawn(x);
    emit Done();
    emit Settled();
    emit Flushed();
    balance -= x;
}`)
	res, err := newDetector(t).Detect(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.Checks["no_state_after_call"], "state write beyond the scan window is not flagged")
}
