// Package metrics provides metrics recorder adapters.
package metrics

import (
	"github.com/philiph/samlauth/internal/core/ports"
)

// NoopMetricsRecorder is a no-op implementation for when metrics are disabled.
type NoopMetricsRecorder struct{}

// NewNoopMetricsRecorder creates a new no-op metrics recorder.
func NewNoopMetricsRecorder() *NoopMetricsRecorder {
	return &NoopMetricsRecorder{}
}

// RecordLoginAttempt does nothing.
func (n *NoopMetricsRecorder) RecordLoginAttempt(code string) {}

// RecordSessionCreated does nothing.
func (n *NoopMetricsRecorder) RecordSessionCreated() {}

// RecordReplayRejected does nothing.
func (n *NoopMetricsRecorder) RecordReplayRejected() {}

// RecordLogout does nothing.
func (n *NoopMetricsRecorder) RecordLogout(state string) {}

var _ ports.MetricsRecorder = (*NoopMetricsRecorder)(nil)
