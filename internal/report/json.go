package report

import (
	"fmt"
	"io"
	"sync"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
	"github.com/ode0x/solaudit/internal/observability"
)

// JSONReporter streams each audit report as one indented JSON document.
type JSONReporter struct {
	writer  io.WriteCloser
	encoder *json.Encoder
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewJSONReporter creates a reporter that writes JSON output.
func NewJSONReporter(writer io.WriteCloser) *JSONReporter {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return &JSONReporter{
		writer:  writer,
		encoder: encoder,
		logger:  observability.GetLogger().Named("json_reporter"),
	}
}

// Write encodes the report to the output.
func (r *JSONReporter) Write(report *schemas.AuditReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.encoder.Encode(report); err != nil {
		return fmt.Errorf("encode report %s: %w", report.ID, err)
	}
	r.logger.Debug("Wrote JSON report", zap.String("reportID", report.ID))
	return nil
}

// Close closes the underlying writer.
func (r *JSONReporter) Close() error {
	return r.writer.Close()
}
