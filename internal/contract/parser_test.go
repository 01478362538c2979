package contract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
)

const vaultSource = `// SPDX-License-Identifier: MIT
pragma solidity ^0.8.19;

import "@openzeppelin/contracts/access/Ownable.sol";
import {ReentrancyGuard} from "@openzeppelin/contracts/security/ReentrancyGuard.sol";

/*
 * Vault with fee handling.
 */
contract Vault is Ownable, ReentrancyGuard {
    uint256 public constant MAX_FEE = 500;
    uint256 public feeBps;
    address payable public treasury;
    mapping(address => uint256) public balances;
    uint256 private immutable deployedAt;
    bool paused;

    event Deposited(address indexed from, uint256 amount);
    event FeeChanged(uint256 feeBps);

    modifier whenNotPaused() {
        require(!paused);
        _;
    }

    function deposit() external payable whenNotPaused {
        balances[msg.sender] += msg.value;
        emit Deposited(msg.sender, msg.value);
    }

    function setFee(uint256 newFee) public onlyOwner {
        require(newFee <= MAX_FEE);
        feeBps = newFee;
    }

    function quote(uint256 amount) internal view returns (uint256) {
        uint256 fee = amount * feeBps;
        return fee / 10000;
    }
}

interface IVault {
    function deposit() external payable;
}

library FeeMath {
    function applyBps(uint256 amount, uint256 bps) internal pure returns (uint256) {
        return amount * bps / 10000;
    }
}`

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	return NewParser(zap.NewNop())
}

func TestParsePragmaAndImports(t *testing.T) {
	t.Parallel()

	structure := newTestParser(t).Parse(vaultSource)

	assert.Equal(t, "^0.8.19", structure.Pragma)
	assert.Equal(t, []string{
		"@openzeppelin/contracts/access/Ownable.sol",
		"@openzeppelin/contracts/security/ReentrancyGuard.sol",
	}, structure.Imports)
}

func TestParseContractDeclarations(t *testing.T) {
	t.Parallel()

	structure := newTestParser(t).Parse(vaultSource)

	require.Len(t, structure.Contracts, 3)

	vault := structure.Contracts[0]
	assert.Equal(t, "Vault", vault.Name)
	assert.Equal(t, "contract", vault.Kind)
	assert.Equal(t, []string{"Ownable", "ReentrancyGuard"}, vault.Inherits)

	assert.Equal(t, "IVault", structure.Contracts[1].Name)
	assert.Equal(t, "interface", structure.Contracts[1].Kind)
	assert.Empty(t, structure.Contracts[1].Inherits)

	assert.Equal(t, "FeeMath", structure.Contracts[2].Name)
	assert.Equal(t, "library", structure.Contracts[2].Kind)
}

func TestParseFunctions(t *testing.T) {
	t.Parallel()

	structure := newTestParser(t).Parse(vaultSource)

	names := make([]string, len(structure.Functions))
	for i, fn := range structure.Functions {
		names[i] = fn.Name
	}
	assert.Equal(t, []string{"deposit", "setFee", "quote", "deposit", "applyBps"}, names)

	deposit := structure.Functions[0]
	assert.Equal(t, "external", deposit.Visibility)
	assert.Equal(t, "payable", deposit.Mutability)
	assert.Equal(t, []string{"whenNotPaused"}, deposit.Modifiers)

	setFee := structure.Functions[1]
	assert.Equal(t, "public", setFee.Visibility)
	assert.Empty(t, setFee.Mutability)
	assert.Equal(t, []string{"onlyOwner"}, setFee.Modifiers)

	quote := structure.Functions[2]
	assert.Equal(t, "internal", quote.Visibility)
	assert.Equal(t, "view", quote.Mutability)
	assert.Empty(t, quote.Modifiers)

	applyBps := structure.Functions[4]
	assert.Equal(t, "pure", applyBps.Mutability)
}

func TestParseStateVariables(t *testing.T) {
	t.Parallel()

	structure := newTestParser(t).Parse(vaultSource)

	require.Len(t, structure.StateVariables, 6)

	maxFee := structure.StateVariables[0]
	assert.Equal(t, "MAX_FEE", maxFee.Name)
	assert.Equal(t, "uint256", maxFee.Type)
	assert.Equal(t, "public", maxFee.Visibility)
	assert.True(t, maxFee.Constant)

	treasury := structure.StateVariables[2]
	assert.Equal(t, "treasury", treasury.Name)
	assert.Equal(t, "address payable", treasury.Type)

	balances := structure.StateVariables[3]
	assert.Equal(t, "balances", balances.Name)
	assert.Equal(t, "mapping(address => uint256)", balances.Type)

	deployedAt := structure.StateVariables[4]
	assert.True(t, deployedAt.Immutable)
	assert.Equal(t, "private", deployedAt.Visibility)

	paused := structure.StateVariables[5]
	assert.Equal(t, "paused", paused.Name)
	assert.Empty(t, paused.Visibility)
}

func TestParseEventsAndModifiers(t *testing.T) {
	t.Parallel()

	structure := newTestParser(t).Parse(vaultSource)

	require.Len(t, structure.Events, 2)
	assert.Equal(t, "Deposited", structure.Events[0].Name)
	assert.Equal(t, "FeeChanged", structure.Events[1].Name)

	require.Len(t, structure.Modifiers, 1)
	assert.Equal(t, "whenNotPaused", structure.Modifiers[0].Name)
}

func TestFunctionLocalsAreNotStateVariables(t *testing.T) {
	t.Parallel()

	structure := newTestParser(t).Parse(vaultSource)

	for _, sv := range structure.StateVariables {
		assert.NotEqual(t, "fee", sv.Name, "function-local declarations must not appear in the outline")
	}
}

func TestModifierArgumentsStripped(t *testing.T) {
	t.Parallel()

	source := `contract Roles {
    function grant(address account) external onlyRole(ADMIN_ROLE) {
        members[account] = true;
    }
}`

	structure := newTestParser(t).Parse(source)
	require.Len(t, structure.Functions, 1)
	assert.Equal(t, []string{"onlyRole"}, structure.Functions[0].Modifiers)
}

func TestCommentedDeclarationsSkipped(t *testing.T) {
	t.Parallel()

	source := `// contract Ghost {
/*
contract Phantom {
    uint256 public hidden;
}
*/
contract Real {
    uint256 public visible;
}`

	structure := newTestParser(t).Parse(source)
	require.Len(t, structure.Contracts, 1)
	assert.Equal(t, "Real", structure.Contracts[0].Name)
	require.Len(t, structure.StateVariables, 1)
	assert.Equal(t, "visible", structure.StateVariables[0].Name)
}

func TestParseEmptySource(t *testing.T) {
	t.Parallel()

	structure := newTestParser(t).Parse("")
	assert.Empty(t, structure.Pragma)
	assert.Empty(t, structure.Contracts)
	assert.Empty(t, structure.Functions)
	assert.Empty(t, structure.StateVariables)
}

func TestFactsFromOutline(t *testing.T) {
	t.Parallel()

	structure := schemas.ContractStructure{
		Pragma: ">=0.8.0 <0.9.0",
		Contracts: []schemas.ContractDecl{
			{Name: "Vault", Kind: "contract", Inherits: []string{"Ownable"}},
			{Name: "IVault", Kind: "interface"},
		},
	}

	atoms := Facts(structure)
	assert.Equal(t, []string{
		"(contract Vault contract)",
		"(inherits Vault Ownable)",
		"(contract IVault interface)",
		`(pragma ">=0.8.0 <0.9.0")`,
	}, atoms)
}

// FuzzParse feeds the outline parser arbitrary text. Parsing never fails
// by contract, so the properties to hold are survival, determinism, and
// that every recorded declaration points at a real line of the input.
func FuzzParse(f *testing.F) {
	f.Add(vaultSource)
	f.Add("")
	f.Add("pragma solidity ^0.8.19;")
	f.Add("contract A{function f()public{}}")
	f.Add("}}}}{{{{")
	f.Add("/* unterminated comment\ncontract Hidden {")

	f.Fuzz(func(t *testing.T, source string) {
		parser := NewParser(zap.NewNop())

		structure := parser.Parse(source)
		assert.Equal(t, structure, parser.Parse(source), "outline must be deterministic")

		lineCount := len(strings.Split(source, "\n"))
		checkLine := func(what string, line int) {
			assert.GreaterOrEqual(t, line, 1, "%s line must be 1-based", what)
			assert.LessOrEqual(t, line, lineCount, "%s line must point into the input", what)
		}
		for _, decl := range structure.Contracts {
			assert.Contains(t, []string{"contract", "interface", "library"}, decl.Kind)
			checkLine("contract", decl.Line)
		}
		for _, fn := range structure.Functions {
			assert.NotEmpty(t, fn.Name)
			checkLine("function", fn.Line)
		}
		for _, sv := range structure.StateVariables {
			checkLine("state variable", sv.Line)
		}
		for _, ev := range structure.Events {
			checkLine("event", ev.Line)
		}
		for _, mod := range structure.Modifiers {
			checkLine("modifier", mod.Line)
		}
	})
}
