// Package federation composes independently built components into the host
// around a single shared store.
package federation

import (
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-federation/internal/perf"
	"github.com/celerix-dev/celerix-federation/internal/telemetry"
	"github.com/celerix-dev/celerix-federation/pkg/sdk"
)

// Host is the context handed to every component factory. It carries the
// singletons shared across the composition.
type Host struct {
	Info      perf.Info
	Store     sdk.UserStore
	Timeline  *perf.Timeline
	Telemetry telemetry.Sink
	Logger    *zap.Logger
}

// NewHost fills the optional singletons.
func NewHost(info perf.Info, store sdk.UserStore, tl *perf.Timeline, sink telemetry.Sink, logger *zap.Logger) *Host {
	if tl == nil {
		tl = perf.NewTimeline()
	}
	if sink == nil {
		sink = telemetry.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{Info: info, Store: store, Timeline: tl, Telemetry: sink, Logger: logger}
}

// Monitor returns a monitor for app on the shared timeline.
func (h *Host) Monitor(app perf.Info) *perf.Monitor {
	return perf.NewMonitor(app, h.Timeline, h.Telemetry, h.Logger.Named(app.App))
}

// reportError forwards err to the sink and logs sink failures.
func (h *Host) reportError(err error, attrs map[string]any) {
	if e := h.Telemetry.ReportError(err, attrs); e != nil {
		h.Logger.Warn("failed to report error", zap.Error(e))
	}
}
