package telemetry

import (
	"fmt"
	"strconv"
)

// ValueKind discriminates the payload carried by a Value.
type ValueKind int

const (
	KindText ValueKind = iota
	KindNumber
)

// Value is the payload of an observation: either a text value (state
// strings, identity attributes) or a numeric one (levels, positions,
// temperatures). Comparing values of different kinds never reports
// equal.
type Value struct {
	Kind   ValueKind
	Text   string
	Number float64
}

// Text returns a text-kind value.
func Text(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// Number returns a numeric-kind value.
func Number(f float64) Value {
	return Value{Kind: KindNumber, Number: f}
}

// Equal reports whether v and w carry the same kind and payload.
func (v Value) Equal(w Value) bool {
	if v.Kind != w.Kind {
		return false
	}
	if v.Kind == KindNumber {
		return v.Number == w.Number
	}
	return v.Text == w.Text
}

// String renders the payload for storage and logs.
func (v Value) String() string {
	if v.Kind == KindNumber {
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	}
	return v.Text
}

// ParseValue interprets raw as a number when it parses as one and as
// text otherwise. Ingest uses it for payloads without a declared type.
func ParseValue(raw string) Value {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Number(f)
	}
	return Text(raw)
}

// GoString aids test failure output.
func (v Value) GoString() string {
	if v.Kind == KindNumber {
		return fmt.Sprintf("telemetry.Number(%v)", v.Number)
	}
	return fmt.Sprintf("telemetry.Text(%q)", v.Text)
}
