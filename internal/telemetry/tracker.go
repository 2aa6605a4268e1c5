package telemetry

import (
	"time"

	"go.uber.org/zap"
)

// Tracker records the standard actions a remote reports about itself.
// Sink failures are logged and never returned.
type Tracker struct {
	sink      Sink
	remoteApp string
	logger    *zap.Logger
}

func NewTracker(sink Sink, remoteApp string, logger *zap.Logger) *Tracker {
	if sink == nil {
		sink = Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{sink: sink, remoteApp: remoteApp, logger: logger}
}

// TrackComponentLoad records how long a component took to load.
func (t *Tracker) TrackComponentLoad(component string, load time.Duration) {
	t.record("componentLoaded", map[string]any{
		"component": component,
		"loadTime":  load.Milliseconds(),
	})
}

// TrackUserInteraction records a user action against a target.
func (t *Tracker) TrackUserInteraction(action, target string, metadata map[string]any) {
	attrs := map[string]any{
		"action": action,
		"target": target,
	}
	for k, v := range metadata {
		attrs[k] = v
	}
	t.record("userInteraction", attrs)
}

// TrackAPICall records the duration and status of a call.
func (t *Tracker) TrackAPICall(endpoint string, d time.Duration, status int) {
	t.record("apiCall", map[string]any{
		"endpoint": endpoint,
		"duration": d.Milliseconds(),
		"status":   status,
	})
}

// ReportError forwards err with the remote name attached.
func (t *Tracker) ReportError(err error, attrs map[string]any) {
	merged := map[string]any{"remoteApp": t.remoteApp}
	for k, v := range attrs {
		merged[k] = v
	}
	if e := t.sink.ReportError(err, merged); e != nil {
		t.logger.Warn("failed to report error", zap.Error(e))
	}
}

func (t *Tracker) record(action string, attrs map[string]any) {
	attrs["remoteApp"] = t.remoteApp
	if err := t.sink.RecordAction(action, attrs); err != nil {
		t.logger.Warn("failed to record action", zap.String("action", action), zap.Error(err))
	}
}
