package perf

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-federation/internal/telemetry"
)

// Measure types.
const (
	TypeCTLT        = "CTLT" // component total load time
	TypeCDLT        = "CDLT" // component data load time
	TypePTLT        = "PTLT" // platform total load time
	TypeCALT        = "CALT" // component asset load time
	TypeTLT         = "TLT"  // total load time
	TypeInteraction = "interaction"
)

// Info identifies the application that owns a Monitor.
type Info struct {
	App     string
	Team    string
	Version string
}

// Monitor writes namespaced marks and measures for one application and
// forwards every measure to a telemetry sink. It never fails its caller.
type Monitor struct {
	info   Info
	tl     *Timeline
	sink   telemetry.Sink
	logger *zap.Logger
}

// NewMonitor returns a Monitor for info. Team and version default to
// "platform" and "1.0.0".
func NewMonitor(info Info, tl *Timeline, sink telemetry.Sink, logger *zap.Logger) *Monitor {
	if info.Team == "" {
		info.Team = "platform"
	}
	if info.Version == "" {
		info.Version = "1.0.0"
	}
	if tl == nil {
		tl = NewTimeline()
	}
	if sink == nil {
		sink = telemetry.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{info: info, tl: tl, sink: sink, logger: logger.Named("perf")}
}

// App returns the namespace of the monitor.
func (m *Monitor) App() string { return m.info.App }

// Timeline returns the timeline the monitor writes to.
func (m *Monitor) Timeline() *Timeline { return m.tl }

func (m *Monitor) MarkComponentLoadStart(component string, md Metadata) {
	m.start(m.name(component, "load", "start"), m.detail(TypeCTLT, "componentName", component, md))
}

func (m *Monitor) MarkComponentLoadEnd(component string, md Metadata) (Entry, bool) {
	return m.end(m.name(component, "load"), m.name(component, TypeCTLT),
		m.detail(TypeCTLT, "componentName", component, md))
}

func (m *Monitor) MarkDataLoadStart(operation string, md Metadata) {
	m.start(m.name(operation, "data", "start"), m.detail(TypeCDLT, "operationName", operation, md))
}

func (m *Monitor) MarkDataLoadEnd(operation string, md Metadata) (Entry, bool) {
	return m.end(m.name(operation, "data"), m.name(operation, TypeCDLT),
		m.detail(TypeCDLT, "operationName", operation, md))
}

func (m *Monitor) MarkInteractionStart(interaction string, md Metadata) {
	m.start(m.name("interaction", interaction, "start"),
		m.detail(TypeInteraction, "interactionName", interaction, md))
}

func (m *Monitor) MarkInteractionEnd(interaction string, md Metadata) (Entry, bool) {
	return m.end(m.name("interaction", interaction), m.name("interaction", interaction, "duration"),
		m.detail(TypeInteraction, "interactionName", interaction, md))
}

func (m *Monitor) MarkPlatformLoadStart(md Metadata) {
	m.start(m.name("platform", "load", "start"), m.detail(TypePTLT, "", "", md))
}

func (m *Monitor) MarkPlatformLoadEnd(md Metadata) (Entry, bool) {
	return m.end(m.name("platform", "load"), m.name(TypePTLT), m.detail(TypePTLT, "", "", md))
}

func (m *Monitor) MarkRemoteAssetStart(remote string, md Metadata) {
	m.start(m.name("remote", remote, "asset", "start"), m.detail(TypeCALT, "remoteName", remote, md))
}

func (m *Monitor) MarkRemoteAssetEnd(remote string, md Metadata) (Entry, bool) {
	return m.end(m.name("remote", remote, "asset"), m.name("remote", remote, TypeCALT),
		m.detail(TypeCALT, "remoteName", remote, md))
}

// CalculateTotalLoadTime measures from the timeline origin to now and logs
// a summary of every measure of this application.
func (m *Monitor) CalculateTotalLoadTime(md Metadata) Entry {
	detail := m.detail(TypeTLT, "", "", md)
	e := m.tl.MeasureRange(m.name(TypeTLT), 0, m.tl.Now(), detail)
	m.report(e, detail)
	m.LogPerformanceSummary()
	return e
}

// LogPerformanceSummary logs every measure of this application.
func (m *Monitor) LogPerformanceSummary() {
	measures := m.GetAllMeasures()
	if len(measures) == 0 {
		return
	}
	fields := make([]zap.Field, 0, len(measures))
	for _, e := range measures {
		fields = append(fields, zap.String(e.Name, fmt.Sprintf("%.2fms", e.Millis())))
	}
	m.logger.Info("performance summary", fields...)
}

// GetAllMeasures returns the measures in this application's namespace.
func (m *Monitor) GetAllMeasures() []Entry {
	prefix := m.info.App + ":"
	var out []Entry
	for _, e := range m.tl.EntriesByType(EntryMeasure) {
		if strings.HasPrefix(e.Name, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// ClearMeasures removes this application's marks and measures. Each removal
// is attempted independently.
func (m *Monitor) ClearMeasures() {
	prefix := m.info.App + ":"
	seen := make(map[string]bool)
	for _, typ := range []EntryType{EntryMeasure, EntryMark} {
		for _, e := range m.tl.EntriesByType(typ) {
			key := string(typ) + "/" + e.Name
			if !strings.HasPrefix(e.Name, prefix) || seen[key] {
				continue
			}
			seen[key] = true
			m.clear(typ, e.Name)
		}
	}
}

func (m *Monitor) clear(typ EntryType, name string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Debug("could not clear entry", zap.String("name", name), zap.Any("panic", r))
		}
	}()
	if typ == EntryMark {
		m.tl.ClearMarks(name)
	} else {
		m.tl.ClearMeasures(name)
	}
}

func (m *Monitor) start(mark string, detail Metadata) {
	m.tl.Mark(mark, detail)
}

// end writes the end mark of base and measures from its start mark.
func (m *Monitor) end(base, measure string, detail Metadata) (Entry, bool) {
	startMark, endMark := base+":start", base+":end"
	m.tl.Mark(endMark, detail)

	e, err := m.tl.Measure(measure, startMark, endMark, detail)
	if err != nil {
		m.logger.Warn("could not measure", zap.String("measure", measure), zap.Error(err))
		return Entry{}, false
	}
	m.report(e, detail)
	return e, true
}

func (m *Monitor) report(e Entry, detail Metadata) {
	m.logger.Info("measure",
		zap.String("name", e.Name),
		zap.String("duration", fmt.Sprintf("%.2fms", e.Millis())),
		zap.Any("detail", detail),
	)
	m.forward(e, detail)
}

// forward sends the measure to the sink. Failures are warnings only.
func (m *Monitor) forward(e Entry, detail Metadata) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("telemetry sink panicked", zap.String("measure", e.Name), zap.Any("panic", r))
		}
	}()

	ms := math.Round(e.Millis())
	measureType, _ := detail["measureType"].(string)
	if measureType == "" {
		measureType = "unknown"
	}

	attrs := map[string]any{
		"measureName": e.Name,
		"duration":    ms,
		"measureType": measureType,
		"appName":     m.info.App,
		"team":        m.info.Team,
		"version":     m.info.Version,
	}
	for k, v := range detail {
		if _, ok := attrs[k]; !ok {
			attrs[k] = v
		}
	}

	if err := m.sink.RecordAction(telemetry.ActionPerformanceMeasure, attrs); err != nil {
		m.logger.Warn("failed to send measure", zap.String("measure", e.Name), zap.Error(err))
		return
	}
	for _, name := range []string{
		"perf_" + strings.ReplaceAll(e.Name, ":", "_"),
		"perf_" + measureType,
	} {
		if err := m.sink.SetAttribute(name, ms); err != nil {
			m.logger.Warn("failed to set attribute", zap.String("attribute", name), zap.Error(err))
		}
	}
}

func (m *Monitor) name(parts ...string) string {
	return m.info.App + ":" + strings.Join(parts, ":")
}

// detail builds the entry detail. Caller metadata wins over the defaults.
func (m *Monitor) detail(measureType, key, value string, md Metadata) Metadata {
	d := Metadata{
		"team":        m.info.Team,
		"version":     m.info.Version,
		"measureType": measureType,
	}
	if key != "" {
		d[key] = value
	}
	for k, v := range md {
		d[k] = v
	}
	return d
}
