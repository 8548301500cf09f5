package telemetry

import "time"

// Event classifies why an observation was published.
type Event uint8

const (
	// EventChanged fires when the value differs from the previous one.
	EventChanged Event = 1 << iota
	// EventRefreshed fires when the source re-reported the same value.
	EventRefreshed
)

// EventAll matches every event kind.
const EventAll = EventChanged | EventRefreshed

// Observation is one timestamped report of a signal's value.
//
// ChangedAt is when the source last saw the value change; ObservedAt is
// when the source last confirmed the value, changed or not. Either may
// be absent for sources that do not report it.
type Observation struct {
	Entity     Entity
	Signal     Signal
	Value      Value
	Enabled    bool
	ChangedAt  *time.Time
	ObservedAt *time.Time
}

// Watermark returns the freshest timestamp the observation carries,
// preferring ObservedAt over ChangedAt. Returns nil when the
// observation is undated.
func (o Observation) Watermark() *time.Time {
	if o.ObservedAt != nil {
		return o.ObservedAt
	}
	return o.ChangedAt
}

// EventTime returns the best timestamp for stamping record fields:
// ChangedAt when present, otherwise ObservedAt, otherwise now in UTC.
func (o Observation) EventTime() time.Time {
	if o.ChangedAt != nil {
		return *o.ChangedAt
	}
	if o.ObservedAt != nil {
		return *o.ObservedAt
	}
	return time.Now().UTC()
}
