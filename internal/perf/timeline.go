// Package perf records named marks and derived measures on a shared timeline.
package perf

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrMarkNotFound is returned when a measure references an unknown mark.
var ErrMarkNotFound = errors.New("mark not found")

// DefaultCapacity bounds the number of entries kept by a Timeline.
const DefaultCapacity = 1000

// EntryType distinguishes marks from measures.
type EntryType string

const (
	EntryMark    EntryType = "mark"
	EntryMeasure EntryType = "measure"
)

// Metadata is the free-form detail carried by an entry.
type Metadata map[string]any

// Entry is a timeline record. StartTime is relative to the timeline origin.
// Marks have a zero Duration.
type Entry struct {
	Name      string        `json:"name"`
	Type      EntryType     `json:"entryType"`
	StartTime time.Duration `json:"startTime"`
	Duration  time.Duration `json:"duration"`
	Detail    Metadata      `json:"detail,omitempty"`
}

// Millis returns the duration in milliseconds.
func (e Entry) Millis() float64 {
	return float64(e.Duration) / float64(time.Millisecond)
}

// TimelineOption configures a Timeline.
type TimelineOption func(*Timeline)

// WithCapacity sets the maximum number of entries; the oldest are dropped first.
func WithCapacity(n int) TimelineOption {
	return func(t *Timeline) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) TimelineOption {
	return func(t *Timeline) { t.now = now }
}

// Timeline is a process-wide record of marks and measures, safe for
// concurrent use.
type Timeline struct {
	mu       sync.RWMutex
	origin   time.Time
	now      func() time.Time
	capacity int
	entries  []Entry
}

func NewTimeline(opts ...TimelineOption) *Timeline {
	t := &Timeline{
		now:      time.Now,
		capacity: DefaultCapacity,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.origin = t.now()
	return t
}

// Origin returns the instant the timeline was created.
func (t *Timeline) Origin() time.Time {
	return t.origin
}

// Now returns the time elapsed since the origin.
func (t *Timeline) Now() time.Duration {
	return t.now().Sub(t.origin)
}

// Mark records a named instant.
func (t *Timeline) Mark(name string, detail Metadata) Entry {
	e := Entry{Name: name, Type: EntryMark, StartTime: t.Now(), Detail: copyMetadata(detail)}
	t.mu.Lock()
	t.append(e)
	t.mu.Unlock()
	return e
}

// Measure records the span between the latest startMark and the latest
// endMark. An empty endMark measures up to now.
func (t *Timeline) Measure(name, startMark, endMark string, detail Metadata) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start, ok := t.latest(startMark, EntryMark)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrMarkNotFound, startMark)
	}

	end := t.Now()
	if endMark != "" {
		e, ok := t.latest(endMark, EntryMark)
		if !ok {
			return Entry{}, fmt.Errorf("%w: %s", ErrMarkNotFound, endMark)
		}
		end = e.StartTime
	}

	m := Entry{
		Name:      name,
		Type:      EntryMeasure,
		StartTime: start.StartTime,
		Duration:  max(end-start.StartTime, 0),
		Detail:    copyMetadata(detail),
	}
	t.append(m)
	return m, nil
}

// MeasureRange records a measure between two offsets from the origin.
func (t *Timeline) MeasureRange(name string, start, end time.Duration, detail Metadata) Entry {
	m := Entry{
		Name:      name,
		Type:      EntryMeasure,
		StartTime: start,
		Duration:  max(end-start, 0),
		Detail:    copyMetadata(detail),
	}
	t.mu.Lock()
	t.append(m)
	t.mu.Unlock()
	return m
}

// EntriesByName returns the entries called name, oldest first. An empty
// typ matches both marks and measures.
func (t *Timeline) EntriesByName(name string, typ EntryType) []Entry {
	return t.filter(func(e Entry) bool {
		return e.Name == name && (typ == "" || e.Type == typ)
	})
}

// EntriesByType returns every entry of typ, oldest first.
func (t *Timeline) EntriesByType(typ EntryType) []Entry {
	return t.filter(func(e Entry) bool { return e.Type == typ })
}

// ClearMarks removes the marks called name, or every mark if name is empty.
func (t *Timeline) ClearMarks(name string) {
	t.remove(EntryMark, name)
}

// ClearMeasures removes the measures called name, or every measure if name is empty.
func (t *Timeline) ClearMeasures(name string) {
	t.remove(EntryMeasure, name)
}

func (t *Timeline) append(e Entry) {
	t.entries = append(t.entries, e)
	if over := len(t.entries) - t.capacity; over > 0 {
		t.entries = append(t.entries[:0:0], t.entries[over:]...)
	}
}

func (t *Timeline) latest(name string, typ EntryType) (Entry, bool) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if e := t.entries[i]; e.Name == name && e.Type == typ {
			return e, true
		}
	}
	return Entry{}, false
}

func (t *Timeline) filter(keep func(Entry) bool) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Entry
	for _, e := range t.entries {
		if keep(e) {
			e.Detail = copyMetadata(e.Detail)
			out = append(out, e)
		}
	}
	return out
}

func (t *Timeline) remove(typ EntryType, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.Type == typ && (name == "" || e.Name == name) {
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
}

func copyMetadata(md Metadata) Metadata {
	if md == nil {
		return nil
	}
	out := make(Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
