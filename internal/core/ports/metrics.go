package ports

// MetricsRecorder is the port interface for recording metrics.
// Implementations are adapters (PrometheusRecorder for production,
// NoopRecorder for disabled/testing).
type MetricsRecorder interface {
	// RecordLoginAttempt records an ACS validation outcome. The code is the
	// stable error code, or "success".
	RecordLoginAttempt(code string)

	// RecordSessionCreated records a new session creation.
	RecordSessionCreated()

	// RecordReplayRejected records a response rejected because its request
	// ID was already consumed or unknown.
	RecordReplayRejected()

	// RecordLogout records a terminal single-logout state.
	RecordLogout(state string)
}
