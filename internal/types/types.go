package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the observation carried by a decoded record
type Kind string

const (
	KindPosition     Kind = "position"
	KindSOGCOG       Kind = "sog_cog"
	KindWindApparent Kind = "wind_apparent"
	KindWindTrue     Kind = "wind_true"
	KindWindMWD      Kind = "wind_mwd"
	KindBaro         Kind = "baro"
	KindDepth        Kind = "depth"
)

// Reserved keys added to every outgoing message next to the record fields
const (
	KeyType      = "type"
	KeyRaw       = "raw"
	KeyTimestamp = "timestamp"
)

// Record is a decoded sentence. Optional values are nil when the sentence
// did not carry them.
type Record interface {
	Kind() Kind
}

// Position is a fix from RMC or GLL
type Position struct {
	Latitude  float64  `json:"lat"`
	Longitude float64  `json:"lon"`
	SOG       *float64 `json:"sog,omitempty"`
	COGTrue   *float64 `json:"cogTrue,omitempty"`
}

func (Position) Kind() Kind { return KindPosition }

// SOGCOG is speed and course over ground from VTG
type SOGCOG struct {
	SOG     *float64 `json:"sog,omitempty"`
	COGTrue *float64 `json:"cogTrue,omitempty"`
}

func (SOGCOG) Kind() Kind { return KindSOGCOG }

// Wind is an MWV report. Speed is in knots.
type Wind struct {
	True  bool     `json:"-"`
	Angle *float64 `json:"angle,omitempty"`
	Speed *float64 `json:"speed,omitempty"`
}

func (w Wind) Kind() Kind {
	if w.True {
		return KindWindTrue
	}
	return KindWindApparent
}

// WindDirection is an MWD report: true wind direction and speed in knots
type WindDirection struct {
	Direction *float64 `json:"direction,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
}

func (WindDirection) Kind() Kind { return KindWindMWD }

// Baro holds barometric pressure (hPa) and air temperature (Celsius)
type Baro struct {
	PressureHPa *float64 `json:"pressureHpa,omitempty"`
	AirTempC    *float64 `json:"airTempC,omitempty"`
}

func (Baro) Kind() Kind { return KindBaro }

// Depth is water depth in meters from DBT or DPT
type Depth struct {
	Meters float64 `json:"depthM"`
}

func (Depth) Kind() Kind { return KindDepth }

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}

// Message is a record on its way to subscribers
type Message struct {
	Record     Record
	Raw        string
	ReceivedAt time.Time
}

// NewMessage wraps a decoded record with the sentence it came from
func NewMessage(rec Record, raw string, receivedAt time.Time) Message {
	return Message{Record: rec, Raw: raw, ReceivedAt: receivedAt.UTC()}
}

// MarshalJSON flattens the record fields and adds the reserved keys
func (m Message) MarshalJSON() ([]byte, error) {
	if m.Record == nil {
		return nil, fmt.Errorf("message has no record")
	}
	data, err := json.Marshal(m.Record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s record: %w", m.Record.Kind(), err)
	}

	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten %s record: %w", m.Record.Kind(), err)
	}
	fields[KeyType] = m.Record.Kind()
	fields[KeyRaw] = m.Raw
	if !m.ReceivedAt.IsZero() {
		fields[KeyTimestamp] = m.ReceivedAt.Format(time.RFC3339Nano)
	}
	return json.Marshal(fields)
}
