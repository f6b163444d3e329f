package core

import (
	"fmt"
	"strings"
	"time"
)

// Event is one normalized audit log record. Fields are addressed by
// dot-separated paths into the original nested JSON document.
type Event struct {
	Fields map[string]interface{}
}

// NewEvent normalizes a raw decoded JSON record into an Event.
// Only JSON objects are valid records.
func NewEvent(raw interface{}) (*Event, error) {
	fields, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("record is not a JSON object")
	}
	return &Event{Fields: fields}, nil
}

// Get resolves a dot-separated field path. The second return value
// reports whether the full path exists.
func (e *Event) Get(path string) (interface{}, bool) {
	if e == nil || e.Fields == nil {
		return nil, false
	}
	var cur interface{} = e.Fields
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString resolves a field path and renders the value as a string.
// Missing paths return the empty string.
func (e *Event) GetString(path string) string {
	v, ok := e.Get(path)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; keep integers clean.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Timestamp parses the event's timestamp from the given field.
// Audit exports use RFC 3339 ("2023-07-10T11:42:36Z").
func (e *Event) Timestamp(field string) (time.Time, error) {
	s := e.GetString(field)
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp field %q missing", field)
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Azure activity logs carry fractional seconds.
		ts, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	return ts.UTC(), nil
}

// TimestampedEvent is a base-rule match retained for the global
// correlation pass. It is created during ingestion and never mutated
// afterward. Raw keeps the undecoded record so contributing events of
// a generate-flagged correlation can still be emitted in raw mode.
type TimestampedEvent struct {
	Event     *Event
	Raw       interface{}
	Timestamp time.Time
	Rule      *Rule
}
