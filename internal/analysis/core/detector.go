package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/ode0x/solaudit/api/schemas"
)

// Detector is the contract every vulnerability detector implements. A
// detector is a pure function of its input source: it holds no mutable
// state across invocations, and Detect must return a best-effort result
// for malformed, empty, or adversarial input rather than an error. The
// error return is reserved for genuine internal failures; the coordinator
// isolates those so one detector can never take down an audit run.
type Detector interface {
	// Key is the stable registry identifier, used as the aggregation map
	// key (e.g. "reentrancy"). It never changes between runs.
	Key() string
	Name() string
	Description() string
	Detect(ctx context.Context, src *Source) (schemas.DetectorResult, error)
}

// BaseDetector provides the common identity fields for concrete detector
// implementations. It is intended to be embedded to reduce boilerplate.
type BaseDetector struct {
	key         string
	name        string
	description string
	Logger      *zap.Logger // Exposed for use in specific detector implementations.
}

// NewBaseDetector creates a BaseDetector with a named sub-logger derived
// from the detector key.
func NewBaseDetector(key, name, description string, logger *zap.Logger) *BaseDetector {
	return &BaseDetector{
		key:         key,
		name:        name,
		description: description,
		Logger:      logger.Named(key),
	}
}

// Key returns the detector's stable registry key.
func (b *BaseDetector) Key() string {
	return b.key
}

// Name returns the detector's human-readable name.
func (b *BaseDetector) Name() string {
	return b.name
}

// Description returns the detector's description.
func (b *BaseDetector) Description() string {
	return b.description
}
