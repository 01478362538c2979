package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ode0x/solaudit/cmd"
)

// main is the entry point when building from the repository root. The
// canonical binary, with signal-aware shutdown, lives at cmd/solaudit.
func main() {
	if err := cmd.Execute(context.Background()); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
