package types

import (
	"encoding/json"
	"time"
)

// Control message types exchanged during the connection handshake.
const (
	MessageAuth       = "auth"
	MessageAuthOK     = "auth_ok"
	MessageAuthFailed = "auth_failed"
)

// Message is an inbound stream message. Data holds the raw JSON object
// exactly as it arrived on the wire.
type Message struct {
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	ReceivedAt time.Time       `json:"received_at"`
}

// MessageHandler receives every non-control message dispatched by the stream.
type MessageHandler func(msg Message)

// AuthMessage is sent immediately after the connection opens.
type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// ConnectionState is the lifecycle state of the shared stream connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
)

// Status is the current connection state plus diagnostics.
type Status struct {
	State   ConnectionState `json:"state"`
	Detail  string          `json:"detail,omitempty"`
	Attempt int             `json:"attempt"`
	Since   time.Time       `json:"since"`
}

// StatusEvent is one entry of the bounded status log.
type StatusEvent struct {
	At      time.Time       `json:"at"`
	State   ConnectionState `json:"state"`
	Detail  string          `json:"detail,omitempty"`
	Attempt int             `json:"attempt"`
}

// Frame is a single decoded telemetry update for one entity. Fields is
// partial: a frame carries only the fields its producer measured.
type Frame struct {
	EntityID  string
	Sequence  *int64
	Timestamp time.Time
	Fields    map[string]Value
}

// Value is a numeric or string field value.
type Value struct {
	Num    float64 `json:"num,omitempty"`
	Str    string  `json:"str,omitempty"`
	IsText bool    `json:"is_text,omitempty"`
}

// Number returns a numeric Value.
func Number(v float64) Value { return Value{Num: v} }

// Text returns a string Value.
func Text(s string) Value { return Value{Str: s, IsText: true} }

// Snapshot is the merged, latest-known field set for one entity.
type Snapshot struct {
	EntityID      string           `json:"entity_id"`
	Fields        map[string]Value `json:"fields"`
	LastSequence  *int64           `json:"last_sequence,omitempty"`
	LastTimestamp time.Time        `json:"last_timestamp"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Fields = make(map[string]Value, len(s.Fields))
	for k, v := range s.Fields {
		out.Fields[k] = v
	}
	if s.LastSequence != nil {
		seq := *s.LastSequence
		out.LastSequence = &seq
	}
	return out
}

// Num returns the numeric field and whether it is present.
func (s Snapshot) Num(name string) (float64, bool) {
	v, ok := s.Fields[name]
	if !ok || v.IsText {
		return 0, false
	}
	return v.Num, true
}

// Str returns the string field and whether it is present.
func (s Snapshot) Str(name string) (string, bool) {
	v, ok := s.Fields[name]
	if !ok || !v.IsText {
		return "", false
	}
	return v.Str, true
}

// Point is one full-field entry of a rolling series.
type Point struct {
	Timestamp time.Time          `json:"timestamp"`
	Sequence  *int64             `json:"sequence,omitempty"`
	Numbers   map[string]float64 `json:"numbers"`
	Strings   map[string]string  `json:"strings,omitempty"`
}

// AggregateStats is derived from a set of snapshots and never merged into.
// Averages are nil when no entity reported the metric.
type AggregateStats struct {
	Entities    int            `json:"entities"`
	Reporting   int            `json:"reporting"`
	StatusCount map[string]int `json:"status_count"`
	Samples     map[string]int `json:"samples"`
	AvgCPU      *float64       `json:"avg_cpu_usage"`
	AvgMemory   *float64       `json:"avg_memory_percent"`
	AvgDisk     *float64       `json:"avg_disk_percent"`
	AvgLoad     *float64       `json:"avg_load_1"`
	ComputedAt  time.Time      `json:"computed_at"`
}

// Conn abstracts a client WebSocket connection for testability.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() ([]byte, error)
	Close() error
}
