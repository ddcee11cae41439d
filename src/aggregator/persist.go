package aggregator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/orchestra-mcp/pulse/src/types"
)

const persistTimeout = 2 * time.Second

// SnapshotKey is the store key of an entity's last known snapshot.
func SnapshotKey(entityID string) string {
	return "pulse:entity:" + entityID + ":snapshot"
}

// SeriesKey is the store key of an entity's recent series.
func SeriesKey(entityID string) string {
	return "pulse:entity:" + entityID + ":series"
}

// hydrate loads the persisted snapshot and series. Missing, unreadable or
// foreign data leaves the aggregator empty.
func (a *Aggregator) hydrate() {
	if a.kv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if data, ok := a.load(ctx, SnapshotKey(a.entityID)); ok {
		var snap types.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			a.logger.Warn().Err(err).Msg("ignoring corrupt persisted snapshot")
		} else if snap.EntityID == a.entityID {
			if snap.Fields == nil {
				snap.Fields = map[string]types.Value{}
			}
			// A restarted producer may begin a new sequence; only the
			// timestamp guards ordering until the first fresh frame.
			snap.LastSequence = nil
			a.snapshot = snap
			for name, v := range snap.Fields {
				if v.IsText {
					a.text[name] = true
				} else {
					a.numeric[name] = true
				}
			}
		}
	}

	if data, ok := a.load(ctx, SeriesKey(a.entityID)); ok {
		var points []types.Point
		if err := json.Unmarshal(data, &points); err != nil {
			a.logger.Warn().Err(err).Msg("ignoring corrupt persisted series")
		} else {
			if len(points) > a.opts.Capacity {
				points = points[len(points)-a.opts.Capacity:]
			}
			for _, p := range points {
				a.series.push(p)
			}
		}
	}

	a.logger.Debug().
		Int("fields", len(a.snapshot.Fields)).
		Int("points", a.series.len()).
		Msg("hydrated")
}

func (a *Aggregator) load(ctx context.Context, key string) ([]byte, bool) {
	data, ok, err := a.kv.Get(ctx, key)
	if err != nil {
		a.opts.Metrics.StoreError("get")
		a.logger.Warn().Err(err).Str("key", key).Msg("store read failed")
		return nil, false
	}
	return data, ok
}

func (a *Aggregator) persistSnapshot(snap types.Snapshot) {
	a.save(SnapshotKey(a.entityID), snap)
}

func (a *Aggregator) persistSeries(points []types.Point) {
	a.save(SeriesKey(a.entityID), points)
}

// save writes v best-effort; failures are logged and otherwise ignored.
func (a *Aggregator) save(key string, v any) {
	if a.kv == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("encode failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := a.kv.Set(ctx, key, data); err != nil {
		a.opts.Metrics.StoreError("set")
		a.logger.Warn().Err(err).Str("key", key).Msg("store write failed")
	}
}
