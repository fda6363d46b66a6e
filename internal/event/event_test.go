package event

import (
	"testing"
	"time"
)

func TestDecodeFullRecord(t *testing.T) {
	data := []byte(`{
		"id": "ev-1",
		"source_agent": "alice",
		"target_agent": "bob",
		"timestamp": "2026-08-27T10:00:00Z",
		"kind": "task_handoff",
		"size": 512
	}`)

	e, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if e.ID != "ev-1" {
		t.Errorf("expected id ev-1, got %q", e.ID)
	}
	if e.SourceAgent != "alice" || e.TargetAgent != "bob" {
		t.Errorf("unexpected agents: %q -> %q", e.SourceAgent, e.TargetAgent)
	}
	want := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	if !e.Timestamp.Equal(want) {
		t.Errorf("expected timestamp %v, got %v", want, e.Timestamp)
	}
	if e.Payload["kind"] != "task_handoff" {
		t.Errorf("payload kind missing: %+v", e.Payload)
	}
	if e.Payload["size"] != float64(512) {
		t.Errorf("payload size missing: %+v", e.Payload)
	}
	if _, ok := e.Payload["id"]; ok {
		t.Error("known field id leaked into payload")
	}
}

func TestDecodeUnixMillisTimestamp(t *testing.T) {
	data := []byte(`{"source_agent":"a","target_agent":"b","timestamp":1756288800000}`)
	e, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !e.Timestamp.Equal(time.UnixMilli(1756288800000)) {
		t.Errorf("unexpected timestamp %v", e.Timestamp)
	}
}

func TestDecodeDerivesMissingID(t *testing.T) {
	data := []byte(`{"source_agent":"a","target_agent":"b","timestamp":1000}`)
	e1, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if e1.ID == "" {
		t.Fatal("expected derived id")
	}

	// The same record arriving via a different source must derive the
	// same id so the store can deduplicate.
	e2, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if e1.ID != e2.ID {
		t.Errorf("derived ids differ: %q vs %q", e1.ID, e2.ID)
	}
}

func TestDeriveIDDistinguishesTriples(t *testing.T) {
	ts := time.UnixMilli(1000)
	a := DeriveID("a", "b", ts)
	if b := DeriveID("b", "a", ts); a == b {
		t.Error("swapped agents should derive different ids")
	}
	if b := DeriveID("a", "b", ts.Add(time.Millisecond)); a == b {
		t.Error("different timestamps should derive different ids")
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"missing agents", `{"timestamp":1000}`},
		{"missing target", `{"source_agent":"a","timestamp":1000}`},
		{"missing timestamp", `{"source_agent":"a","target_agent":"b"}`},
		{"bad timestamp", `{"source_agent":"a","target_agent":"b","timestamp":"yesterday"}`},
		{"timestamp wrong type", `{"source_agent":"a","target_agent":"b","timestamp":[1]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.data)); err == nil {
				t.Errorf("Decode(%s) should fail", tc.data)
			}
		})
	}
}
