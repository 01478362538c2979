// Package report renders finished audit reports into the supported
// output formats: Markdown for humans, JSON for tooling, SARIF for code
// scanning surfaces, and JUnit XML for CI gates.
package report

import (
	"fmt"
	"io"
	"os"

	"github.com/ode0x/solaudit/api/schemas"
)

// Reporter writes audit reports to an output. Write may be called more
// than once (a batch run produces one report per contract); Close
// finalizes the output and releases any underlying file handle.
type Reporter interface {
	Write(report *schemas.AuditReport) error
	Close() error
}

// Formats lists the accepted format names for flag help and validation.
func Formats() []string {
	return []string{"markdown", "json", "sarif", "junit"}
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for the given format writing to outputPath.
// An empty path or "stdout" writes to standard output.
func New(format, outputPath, toolVersion string) (Reporter, error) {
	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	if isStdOut {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	cleanup := func() {
		if !isStdOut {
			writer.Close()
		}
	}

	switch format {
	case "markdown", "md":
		return NewMarkdownReporter(writer), nil
	case "json":
		return NewJSONReporter(writer), nil
	case "sarif":
		return NewSARIFReporter(writer, toolVersion), nil
	case "junit":
		return NewJUnitReporter(writer, toolVersion), nil
	default:
		cleanup()
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
