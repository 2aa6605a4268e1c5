package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Setup builds the sink of a binary: Prometheus collectors on reg and, when
// credentials are configured, the New Relic agent. It never fails; a backend
// that cannot start is left out with a warning. The returned func flushes
// the backends.
func Setup(nr NewRelicConfig, reg prometheus.Registerer, namespace string, logger *zap.Logger) (Sink, func()) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var sinks []Sink
	shutdown := func() {}

	if reg != nil {
		p, err := NewPrometheus(reg, namespace)
		if err != nil {
			logger.Warn("prometheus sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, p)
		}
	}

	agent, err := NewNewRelic(nr)
	switch {
	case errors.Is(err, ErrDisabled):
		logger.Info("new relic disabled: license key or application id not set")
	case err != nil:
		logger.Warn("new relic sink disabled", zap.Error(err))
	default:
		logger.Info("new relic enabled", zap.String("app", nr.AppName), zap.String("region", nr.Region))
		sinks = append(sinks, agent)
		shutdown = func() { agent.Shutdown(5 * time.Second) }
	}

	return Combine(sinks...), shutdown
}
