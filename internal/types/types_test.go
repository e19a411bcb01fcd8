package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRecord_Kind(t *testing.T) {
	tests := []struct {
		name   string
		record Record
		want   Kind
	}{
		{name: "position", record: Position{}, want: KindPosition},
		{name: "sog cog", record: SOGCOG{}, want: KindSOGCOG},
		{name: "apparent wind", record: Wind{}, want: KindWindApparent},
		{name: "true wind", record: Wind{True: true}, want: KindWindTrue},
		{name: "wind direction", record: WindDirection{}, want: KindWindMWD},
		{name: "baro", record: Baro{}, want: KindBaro},
		{name: "depth", record: Depth{}, want: KindDepth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.Kind(); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessage_MarshalJSON(t *testing.T) {
	raw := "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
	msg := NewMessage(Position{Latitude: 48.1173, Longitude: 11.5167, SOG: Float(22.4)}, raw,
		time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal message: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}

	if fields[KeyType] != "position" {
		t.Errorf("type = %v, want position", fields[KeyType])
	}
	if fields[KeyRaw] != raw {
		t.Errorf("raw = %v, want %v", fields[KeyRaw], raw)
	}
	if fields[KeyTimestamp] != "2024-06-01T12:00:00Z" {
		t.Errorf("timestamp = %v", fields[KeyTimestamp])
	}
	if fields["lat"] != 48.1173 || fields["lon"] != 11.5167 || fields["sog"] != 22.4 {
		t.Errorf("unexpected position fields: %v", fields)
	}
	if _, ok := fields["cogTrue"]; ok {
		t.Error("absent cogTrue must be omitted, not zero")
	}
}

func TestMessage_MarshalJSON_WindOmitsTrueFlag(t *testing.T) {
	msg := NewMessage(Wind{True: true, Angle: Float(45)}, "$WIMWV", time.Time{})

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal message: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if fields[KeyType] != "wind_true" {
		t.Errorf("type = %v, want wind_true", fields[KeyType])
	}
	if _, ok := fields["True"]; ok {
		t.Error("True flag leaked into JSON")
	}
	if _, ok := fields["speed"]; ok {
		t.Error("absent speed must be omitted")
	}
	if _, ok := fields[KeyTimestamp]; ok {
		t.Error("zero timestamp must be omitted")
	}
}

func TestMessage_MarshalJSON_NilRecord(t *testing.T) {
	if _, err := json.Marshal(Message{Raw: "$X"}); err == nil {
		t.Error("expected error for message without record")
	}
}
