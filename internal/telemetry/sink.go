// Package telemetry forwards actions, attributes and errors to an external monitoring sink.
package telemetry

import (
	"errors"
	"fmt"
)

// Sink is an optional monitoring backend.
// Callers treat every failure as best-effort.
type Sink interface {
	// RecordAction records a named action with an attribute bag.
	RecordAction(name string, attrs map[string]any) error
	// SetAttribute sets a page-level custom attribute.
	SetAttribute(name string, value any) error
	// ReportError reports an error with context.
	ReportError(err error, attrs map[string]any) error
}

// Noop is the sink used when no backend is configured.
type Noop struct{}

func (Noop) RecordAction(string, map[string]any) error { return nil }
func (Noop) SetAttribute(string, any) error            { return nil }
func (Noop) ReportError(error, map[string]any) error   { return nil }

// IsNoop reports whether s forwards nowhere.
func IsNoop(s Sink) bool {
	switch v := s.(type) {
	case nil, Noop, *Noop:
		return true
	case Multi:
		return len(v) == 0
	}
	return false
}

// Multi fans every call out to each sink.
type Multi []Sink

// Combine builds a Multi without no-op members.
// It returns Noop when nothing remains.
func Combine(sinks ...Sink) Sink {
	var out Multi
	for _, s := range sinks {
		if !IsNoop(s) {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return Noop{}
	case 1:
		return out[0]
	}
	return out
}

func (m Multi) RecordAction(name string, attrs map[string]any) error {
	var errs []error
	for _, s := range m {
		if err := s.RecordAction(name, attrs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) SetAttribute(name string, value any) error {
	var errs []error
	for _, s := range m {
		if err := s.SetAttribute(name, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) ReportError(err error, attrs map[string]any) error {
	var errs []error
	for _, s := range m {
		if e := s.ReportError(err, attrs); e != nil {
			errs = append(errs, e)
		}
	}
	return errors.Join(errs...)
}

// toFloat converts a numeric attribute value.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// stringAttr renders an attribute value as a label.
func stringAttr(attrs map[string]any, key, fallback string) string {
	v, ok := attrs[key]
	if !ok || v == nil {
		return fallback
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return fallback
		}
		return s
	}
	return fmt.Sprint(v)
}
