package aggregator

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"

	perrors "github.com/orchestra-mcp/pulse/src/errors"
	"github.com/orchestra-mcp/pulse/src/types"
)

// Keys that describe the frame itself rather than a measured field.
var reservedKeys = map[string]bool{
	"type":      true,
	"entity_id": true,
	"host_id":   true,
	"seq":       true,
	"sequence":  true,
	"timestamp": true,
	"ts":        true,
	"metrics":   true,
	"fields":    true,
}

// DecodeFrame turns a wire message into a telemetry frame.
//
// The entity is taken from entity_id or host_id, the sequence from seq, and
// the timestamp from timestamp (RFC 3339 or unix milliseconds), defaulting
// to the receive time. Fields come from a nested metrics or fields object
// when present, and from the remaining top-level keys otherwise. Nested
// objects, arrays and nulls are not fields and are skipped.
func DecodeFrame(msg types.Message) (types.Frame, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(msg.Data, &raw); err != nil {
		return types.Frame{}, perrors.Wrap(err, perrors.ErrDecode, "frame is not a JSON object")
	}

	var f types.Frame
	for _, key := range []string{"entity_id", "host_id"} {
		if v, ok := raw[key]; ok {
			id, err := decodeID(v)
			if err != nil {
				return types.Frame{}, perrors.Wrap(err, perrors.ErrDecode, "invalid "+key)
			}
			f.EntityID = id
			break
		}
	}
	if f.EntityID == "" {
		return types.Frame{}, perrors.New(perrors.ErrDecode, "frame has no entity id", "")
	}

	for _, key := range []string{"seq", "sequence"} {
		if v, ok := raw[key]; ok && !isNull(v) {
			seq, err := decodeSequence(v)
			if err != nil {
				return types.Frame{}, perrors.Wrap(err, perrors.ErrDecode, "invalid "+key)
			}
			f.Sequence = &seq
			break
		}
	}

	f.Timestamp = msg.ReceivedAt
	for _, key := range []string{"timestamp", "ts"} {
		if v, ok := raw[key]; ok && !isNull(v) {
			ts, err := decodeTimestamp(v)
			if err != nil {
				return types.Frame{}, perrors.Wrap(err, perrors.ErrDecode, "invalid "+key)
			}
			f.Timestamp = ts
			break
		}
	}

	source, topLevel := raw, true
	for _, key := range []string{"metrics", "fields"} {
		if v, ok := raw[key]; ok {
			var nested map[string]json.RawMessage
			if err := json.Unmarshal(v, &nested); err == nil && nested != nil {
				source, topLevel = nested, false
				break
			}
		}
	}

	f.Fields = make(map[string]types.Value, len(source))
	for key, v := range source {
		if topLevel && reservedKeys[key] {
			continue
		}
		if val, ok := decodeValue(v); ok {
			f.Fields[key] = val
		}
	}
	return f, nil
}

func decodeID(v json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

func decodeSequence(v json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return 0, err
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	fv, err := n.Float64()
	if err != nil {
		return 0, err
	}
	if fv != math.Trunc(fv) || math.Abs(fv) > math.MaxInt64 {
		return 0, strconv.ErrRange
	}
	return int64(fv), nil
}

func decodeTimestamp(v json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return time.Time{}, err
	}
	ms, err := n.Int64()
	if err != nil {
		fv, ferr := n.Float64()
		if ferr != nil {
			return time.Time{}, ferr
		}
		ms = int64(fv)
	}
	return time.UnixMilli(ms), nil
}

func decodeValue(v json.RawMessage) (types.Value, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return types.Value{}, false
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return types.Value{}, false
		}
		return types.Text(s), true
	case 't':
		return types.Number(1), true
	case 'f':
		return types.Number(0), true
	case '{', '[', 'n':
		return types.Value{}, false
	}
	var n float64
	if err := json.Unmarshal(v, &n); err != nil {
		return types.Value{}, false
	}
	return types.Number(n), true
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
