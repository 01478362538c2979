package gasopt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/analysis/core"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	return NewDetector(zap.NewNop())
}

func TestMemoryParameterOnExternalFunction(t *testing.T) {
	t.Parallel()

	source := `contract DataProcessor {
    function process(uint256[] memory data) external {
        emit Processed(data);
    }
}`

	d := newTestDetector(t)
	result, err := d.Detect(context.Background(), core.NewSource(source))
	require.NoError(t, err)

	assert.False(t, result.Checks["optimal_data_location"])
	require.Len(t, result.Findings, 1)

	f := result.Findings[0]
	assert.Equal(t, "Gas: Read-Only Parameter Copied to Memory", f.Title)
	assert.Equal(t, schemas.SeverityLow, f.Severity)
	assert.Equal(t, schemas.CategoryGasOptimization, f.Category)
	assert.Equal(t, 2, f.Line)
	require.NotNil(t, f.Fix)
	assert.Contains(t, f.Fix.Fixed, "calldata")
	assert.NotContains(t, f.Fix.Fixed, " memory ")
}

func TestCalldataParameterPasses(t *testing.T) {
	t.Parallel()

	source := `contract DataProcessor {
    function process(uint256[] calldata data) external {
        emit Processed(data);
    }
}`

	d := newTestDetector(t)
	result, err := d.Detect(context.Background(), core.NewSource(source))
	require.NoError(t, err)

	assert.True(t, result.Checks["optimal_data_location"])
	assert.Empty(t, result.Findings)
}

func TestSuboptimalStoragePacking(t *testing.T) {
	t.Parallel()

	// A 20-byte address between two 16-byte halves wastes a slot that
	// sorting by size would reclaim.
	source := `contract Vault {
    address owner;
    uint128 low;
    uint128 high;
}`

	d := newTestDetector(t)
	result, err := d.Detect(context.Background(), core.NewSource(source))
	require.NoError(t, err)

	assert.False(t, result.Checks["efficient_storage_packing"])
	require.Len(t, result.Findings, 1)

	f := result.Findings[0]
	assert.Equal(t, "Gas: Suboptimal Storage Packing", f.Title)
	assert.Equal(t, "Contract storage layout", f.Location)
	require.NotNil(t, f.Fix)
	assert.Equal(t, "    address owner;\n    uint128 low;\n    uint128 high;", f.Fix.Original)
	assert.Equal(t, "    uint128 high;\n    uint128 low;\n    address owner;", f.Fix.Fixed)
}

func TestTightPackingPasses(t *testing.T) {
	t.Parallel()

	source := `contract Vault {
    uint128 low;
    uint128 high;
    address owner;
}`

	d := newTestDetector(t)
	result, err := d.Detect(context.Background(), core.NewSource(source))
	require.NoError(t, err)

	assert.True(t, result.Checks["efficient_storage_packing"])
	assert.Empty(t, result.Findings)
}

func TestLoopInefficiencies(t *testing.T) {
	t.Parallel()

	source := `contract Looper {
    uint256 count;
    function tally() public {
        for (uint256 i; i < items.length; i++) {
            count += 1;
        }
    }
}`

	d := newTestDetector(t)
	result, err := d.Detect(context.Background(), core.NewSource(source))
	require.NoError(t, err)

	assert.False(t, result.Checks["optimized_loops"])
	require.Len(t, result.Findings, 2)

	lengthFinding := result.Findings[0]
	assert.Equal(t, "Gas: Array Length Read Every Loop Iteration", lengthFinding.Title)
	assert.Equal(t, 4, lengthFinding.Line)
	require.NotNil(t, lengthFinding.Fix)
	assert.Contains(t, lengthFinding.Fix.Fixed, "uint256 length = items.length;")
	assert.Contains(t, lengthFinding.Fix.Fixed, "i < length;")

	incFinding := result.Findings[1]
	assert.Equal(t, "Gas: Post-Increment in Loop", incFinding.Title)
	require.NotNil(t, incFinding.Fix)
	assert.Contains(t, incFinding.Fix.Fixed, "++i")
	assert.NotContains(t, incFinding.Fix.Fixed, "i++")
}

func TestRedundantStorageReads(t *testing.T) {
	t.Parallel()

	source := `contract Tracker {
    function update() internal {
        total = total + fee;
        require(total < cap);
        emit Updated(total);
    }
}`

	d := newTestDetector(t)
	result, err := d.Detect(context.Background(), core.NewSource(source))
	require.NoError(t, err)

	assert.False(t, result.Checks["cached_storage_reads"])
	require.Len(t, result.Findings, 1)

	f := result.Findings[0]
	assert.Equal(t, "Gas: Redundant Storage Reads", f.Title)
	assert.Contains(t, f.Description, "'total' read 4 times")
	assert.Equal(t, 2, f.Line)
	assert.Equal(t, "Cache total in memory at start of function", f.Recommendation)
}

func TestRedundantReadFindingsCapped(t *testing.T) {
	t.Parallel()

	source := `contract Multi {
    function a() internal { x1 = x1 + x1 + x1; }
    function b() internal { x2 = x2 + x2 + x2; }
    function c() internal { x3 = x3 + x3 + x3; }
    function d() internal { x4 = x4 + x4 + x4; }
}`

	d := newTestDetector(t)
	result, err := d.Detect(context.Background(), core.NewSource(source))
	require.NoError(t, err)

	assert.False(t, result.Checks["cached_storage_reads"])
	require.Len(t, result.Findings, 3)

	// First-occurrence order keeps repeated runs identical.
	assert.Contains(t, result.Findings[0].Description, "'x1'")
	assert.Contains(t, result.Findings[1].Description, "'x2'")
	assert.Contains(t, result.Findings[2].Description, "'x3'")
}

func TestConstantCandidates(t *testing.T) {
	t.Parallel()

	source := `contract Fees {
    uint256 public rate = 300;
    address public treasury = 0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B;
    uint256 public constant MAX = 10000;
}`

	d := newTestDetector(t)
	result, err := d.Detect(context.Background(), core.NewSource(source))
	require.NoError(t, err)

	assert.False(t, result.Checks["uses_constants"])
	require.Len(t, result.Findings, 2)

	assert.Equal(t, "Gas: Variable Could Be Constant", result.Findings[0].Title)
	assert.Contains(t, result.Findings[0].Description, "'rate'")
	assert.Equal(t, 2, result.Findings[0].Line)
	assert.Contains(t, result.Findings[1].Description, "'treasury'")
	assert.Equal(t, "Declare treasury as constant or immutable", result.Findings[1].Recommendation)
}

func TestCleanContract(t *testing.T) {
	t.Parallel()

	source := `pragma solidity ^0.8.20;
contract Clean {
    uint128 public a;
    uint128 public b;
    function get(uint256 id) external view returns (uint256) {
        return id;
    }
}`

	d := newTestDetector(t)
	result, err := d.Detect(context.Background(), core.NewSource(source))
	require.NoError(t, err)

	expected := map[string]bool{
		"optimal_data_location":     true,
		"efficient_storage_packing": true,
		"optimized_loops":           true,
		"cached_storage_reads":      true,
		"uses_constants":            true,
	}
	assert.Equal(t, expected, result.Checks)
	assert.Empty(t, result.Findings)
}

func TestEmptyInput(t *testing.T) {
	t.Parallel()

	d := newTestDetector(t)
	result, err := d.Detect(context.Background(), core.NewSource(""))
	require.NoError(t, err)

	assert.Len(t, result.Checks, 5)
	for name, passed := range result.Checks {
		assert.True(t, passed, "check %s should pass on empty input", name)
	}
	assert.Empty(t, result.Findings)
}
