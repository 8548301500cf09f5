package telemetry

import (
	"testing"
	"time"
)

func TestPublishClassifiesEvents(t *testing.T) {
	bus := NewBus()
	car := Vehicle("WVWZZZ")

	var events []Event
	bus.Subscribe(car, SignalChargingState, EventAll, func(_ Observation, ev Event) {
		events = append(events, ev)
	})

	bus.Publish(Observation{Entity: car, Signal: SignalChargingState, Value: Text("off"), Enabled: true})
	bus.Publish(Observation{Entity: car, Signal: SignalChargingState, Value: Text("off"), Enabled: true})
	bus.Publish(Observation{Entity: car, Signal: SignalChargingState, Value: Text("charging"), Enabled: true})
	bus.Publish(Observation{Entity: car, Signal: SignalChargingState, Value: Text("charging"), Enabled: false})

	want := []Event{EventChanged, EventRefreshed, EventChanged, EventChanged}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d: got %v, want %v", i, events[i], want[i])
		}
	}
}

func TestSubscribeMask(t *testing.T) {
	bus := NewBus()
	car := Vehicle("WVWZZZ")

	var calls int
	bus.Subscribe(car, SignalOdometer, EventChanged, func(_ Observation, _ Event) {
		calls++
	})

	bus.Publish(Observation{Entity: car, Signal: SignalOdometer, Value: Number(12000), Enabled: true})
	bus.Publish(Observation{Entity: car, Signal: SignalOdometer, Value: Number(12000), Enabled: true})
	bus.Publish(Observation{Entity: car, Signal: SignalOdometer, Value: Number(12001), Enabled: true})

	if calls != 2 {
		t.Errorf("got %d calls, want 2 (refreshed must be filtered)", calls)
	}
}

func TestSubscribeFiltersSignalAndEntity(t *testing.T) {
	bus := NewBus()
	car := Vehicle("WVWZZZ")
	battery := Drive("WVWZZZ", 0)

	var calls int
	bus.Subscribe(battery, SignalLevel, EventAll, func(_ Observation, _ Event) {
		calls++
	})

	bus.Publish(Observation{Entity: car, Signal: SignalLevel, Value: Number(80), Enabled: true})
	bus.Publish(Observation{Entity: battery, Signal: SignalRange, Value: Number(250), Enabled: true})
	bus.Publish(Observation{Entity: battery, Signal: SignalLevel, Value: Number(80), Enabled: true})

	if calls != 1 {
		t.Errorf("got %d calls, want 1", calls)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	car := Vehicle("WVWZZZ")

	var calls int
	tok := bus.Subscribe(car, SignalOdometer, EventAll, func(_ Observation, _ Event) {
		calls++
	})
	bus.Publish(Observation{Entity: car, Signal: SignalOdometer, Value: Number(1), Enabled: true})
	bus.Unsubscribe(tok)
	bus.Publish(Observation{Entity: car, Signal: SignalOdometer, Value: Number(2), Enabled: true})

	if calls != 1 {
		t.Errorf("got %d calls after unsubscribe, want 1", calls)
	}
}

func TestCurrentHelpers(t *testing.T) {
	bus := NewBus()
	car := Vehicle("WVWZZZ")

	if _, ok := bus.CurrentNumber(car, SignalOdometer); ok {
		t.Error("CurrentNumber reported a value before any publish")
	}

	bus.Publish(Observation{Entity: car, Signal: SignalOdometer, Value: Number(12345), Enabled: true})
	if v, ok := bus.CurrentNumber(car, SignalOdometer); !ok || v != 12345 {
		t.Errorf("CurrentNumber = %v, %v; want 12345, true", v, ok)
	}
	if _, ok := bus.CurrentText(car, SignalOdometer); ok {
		t.Error("CurrentText accepted a numeric value")
	}

	bus.Publish(Observation{Entity: car, Signal: SignalOdometer, Value: Number(12346), Enabled: false})
	if _, ok := bus.CurrentNumber(car, SignalOdometer); ok {
		t.Error("CurrentNumber reported a disabled value")
	}
}

func TestEntityID(t *testing.T) {
	if got := Vehicle("WVWZZZ").ID(); got != "WVWZZZ" {
		t.Errorf("vehicle ID = %q", got)
	}
	if got := Drive("WVWZZZ", 1).ID(); got != "WVWZZZ:1" {
		t.Errorf("drive ID = %q", got)
	}
	if Drive("WVWZZZ", 0).IsVehicle() {
		t.Error("drive entity claims to be a vehicle")
	}
}

func TestObservationTimestamps(t *testing.T) {
	changed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	observed := changed.Add(time.Minute)

	obs := Observation{ChangedAt: &changed, ObservedAt: &observed}
	if w := obs.Watermark(); w == nil || !w.Equal(observed) {
		t.Errorf("Watermark = %v, want %v", w, observed)
	}
	if et := obs.EventTime(); !et.Equal(changed) {
		t.Errorf("EventTime = %v, want %v", et, changed)
	}

	obs = Observation{ObservedAt: &observed}
	if et := obs.EventTime(); !et.Equal(observed) {
		t.Errorf("EventTime without ChangedAt = %v, want %v", et, observed)
	}

	obs = Observation{}
	if obs.Watermark() != nil {
		t.Error("Watermark on undated observation should be nil")
	}
	if obs.EventTime().IsZero() {
		t.Error("EventTime on undated observation should fall back to now")
	}
}

func TestValueEqual(t *testing.T) {
	if !Text("a").Equal(Text("a")) {
		t.Error("equal texts compare unequal")
	}
	if Text("1").Equal(Number(1)) {
		t.Error("text and number compare equal")
	}
	if !Number(1.5).Equal(Number(1.5)) {
		t.Error("equal numbers compare unequal")
	}
}

func TestParseValue(t *testing.T) {
	if v := ParseValue("42.5"); v.Kind != KindNumber || v.Number != 42.5 {
		t.Errorf("ParseValue(42.5) = %#v", v)
	}
	if v := ParseValue("charging"); v.Kind != KindText || v.Text != "charging" {
		t.Errorf("ParseValue(charging) = %#v", v)
	}
}
