package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const testAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

// vulnerableSource trips three detectors: an unprotected state-changing
// function, an external call before the balance update, and unchecked
// arithmetic.
const vulnerableSource = `
contract Vulnerable {
    uint256 public balance;

    function withdraw(uint256 x) public {
        (bool ok, ) = token.call{value: x}("");
        require(ok);
        balance -= x;
    }
}
`

// executeCommand runs a fresh root command with the given args and
// returns everything it printed.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// createTempConfig writes a throwaway YAML config and returns its path.
func createTempConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// findCommand locates a direct subcommand by name.
func findCommand(t *testing.T, root *cobra.Command, name string) *cobra.Command {
	t.Helper()

	for _, sub := range root.Commands() {
		if sub.Name() == name {
			return sub
		}
	}
	t.Fatalf("command %q not registered", name)
	return nil
}
