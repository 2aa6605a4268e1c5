package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// ErrDisabled is returned when telemetry credentials are not configured.
var ErrDisabled = errors.New("telemetry disabled: credentials not configured")

// NewRelicConfig holds the agent credentials and region.
type NewRelicConfig struct {
	AppName       string
	LicenseKey    string
	ApplicationID string
	AccountID     string
	AgentID       string
	Region        string
	Labels        map[string]string
}

// Enabled reports whether the mandatory credentials are present.
func (c NewRelicConfig) Enabled() bool {
	return c.LicenseKey != "" && c.ApplicationID != ""
}

// collectorHost maps a region to its collector endpoint.
// An empty result keeps the agent default.
func collectorHost(region string) string {
	switch strings.ToLower(region) {
	case "eu", "eu01":
		return "collector.eu01.nr-data.net"
	case "gov", "fedramp":
		return "gov-collector.newrelic.com"
	}
	return ""
}

// NewRelic forwards sink traffic to a New Relic agent.
type NewRelic struct {
	app *newrelic.Application

	mu    sync.RWMutex
	attrs map[string]any
}

// NewNewRelic starts the agent. It returns ErrDisabled without credentials.
func NewNewRelic(cfg NewRelicConfig) (*NewRelic, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}

	labels := map[string]string{"applicationID": cfg.ApplicationID}
	if cfg.AccountID != "" {
		labels["accountID"] = cfg.AccountID
	}
	if cfg.AgentID != "" {
		labels["agentID"] = cfg.AgentID
	}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		func(c *newrelic.Config) {
			if host := collectorHost(cfg.Region); host != "" {
				c.Host = host
			}
			c.Labels = labels
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start new relic agent: %w", err)
	}
	return &NewRelic{app: app, attrs: make(map[string]any)}, nil
}

// RecordAction records a custom event carrying the page attributes.
func (n *NewRelic) RecordAction(name string, attrs map[string]any) error {
	n.mu.RLock()
	params := make(map[string]any, len(n.attrs)+len(attrs))
	for k, v := range n.attrs {
		params[k] = eventValue(v)
	}
	n.mu.RUnlock()

	for k, v := range attrs {
		params[k] = eventValue(v)
	}
	n.app.RecordCustomEvent(name, params)
	return nil
}

// SetAttribute keeps the attribute for later events and records numeric
// values as custom metrics.
func (n *NewRelic) SetAttribute(name string, value any) error {
	n.mu.Lock()
	n.attrs[name] = value
	n.mu.Unlock()

	if f, ok := toFloat(value); ok {
		n.app.RecordCustomMetric("Custom/"+name, f)
	}
	return nil
}

// ReportError notices err on a short-lived transaction.
func (n *NewRelic) ReportError(err error, attrs map[string]any) error {
	if err == nil {
		return nil
	}
	txn := n.app.StartTransaction("ReportError")
	defer txn.End()

	for k, v := range attrs {
		txn.AddAttribute(k, eventValue(v))
	}
	txn.NoticeError(err)
	return nil
}

// Shutdown flushes pending data.
func (n *NewRelic) Shutdown(timeout time.Duration) {
	n.app.Shutdown(timeout)
}

// eventValue narrows v to the types custom events accept.
func eventValue(v any) any {
	switch v.(type) {
	case string, bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return v
	}
	return fmt.Sprint(v)
}
