// Package event defines the collaboration event model shared by the
// live stream, the history loader, and the replay engine.
package event

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"
)

// Event is one recorded message exchange between two named agents.
// Payload carries any metadata beyond the known fields, passed through
// unmodified to the presentation layer.
type Event struct {
	ID          string
	SourceAgent string
	TargetAgent string
	Timestamp   time.Time
	Payload     map[string]any
}

// DeriveID computes a stable identifier from the identifying triple.
// Servers usually assign ids; when one is missing, the same event seen
// via both the stream and a history page must still collide here.
func DeriveID(source, target string, ts time.Time) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", source, target, ts.UnixNano())
	return fmt.Sprintf("ev-%016x", h.Sum64())
}

// reserved field names lifted out of the payload during decoding.
var knownFields = map[string]bool{
	"id":           true,
	"source_agent": true,
	"target_agent": true,
	"timestamp":    true,
}

// Decode parses one wire record (a stream frame or a history entry)
// into an Event. Both sources use the same shape:
//
//	{"id": ..., "source_agent": ..., "target_agent": ..., "timestamp": ..., ...}
//
// timestamp is either an RFC 3339 string or a unix-milliseconds number.
// Unknown fields become the payload. A record missing either agent or
// the timestamp is rejected.
func Decode(data []byte) (Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("parse record: %w", err)
	}

	var e Event
	if v, ok := raw["id"]; ok {
		if err := json.Unmarshal(v, &e.ID); err != nil {
			return Event{}, fmt.Errorf("parse id: %w", err)
		}
	}
	if v, ok := raw["source_agent"]; ok {
		if err := json.Unmarshal(v, &e.SourceAgent); err != nil {
			return Event{}, fmt.Errorf("parse source_agent: %w", err)
		}
	}
	if v, ok := raw["target_agent"]; ok {
		if err := json.Unmarshal(v, &e.TargetAgent); err != nil {
			return Event{}, fmt.Errorf("parse target_agent: %w", err)
		}
	}
	if e.SourceAgent == "" || e.TargetAgent == "" {
		return Event{}, fmt.Errorf("record missing source_agent or target_agent")
	}

	v, ok := raw["timestamp"]
	if !ok {
		return Event{}, fmt.Errorf("record missing timestamp")
	}
	ts, err := decodeTimestamp(v)
	if err != nil {
		return Event{}, err
	}
	e.Timestamp = ts

	if e.ID == "" {
		e.ID = DeriveID(e.SourceAgent, e.TargetAgent, e.Timestamp)
	}

	// Everything else is opaque payload.
	for k, rv := range raw {
		if knownFields[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(rv, &val); err != nil {
			return Event{}, fmt.Errorf("parse payload field %q: %w", k, err)
		}
		if e.Payload == nil {
			e.Payload = make(map[string]any)
		}
		e.Payload[k] = val
	}

	return e, nil
}

func decodeTimestamp(v json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		return ts, nil
	}
	var ms int64
	if err := json.Unmarshal(v, &ms); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Time{}, fmt.Errorf("timestamp is neither RFC 3339 nor unix millis: %s", v)
}
