// Package aggregator folds a stream of partial, possibly reordered or
// duplicated telemetry frames for one entity into a latest-known snapshot
// and a bounded rolling series.
package aggregator

import (
	"sort"
	"sync"
	"time"

	"github.com/orchestra-mcp/pulse/src/clock"
	"github.com/orchestra-mcp/pulse/src/metrics"
	"github.com/orchestra-mcp/pulse/src/observer"
	"github.com/orchestra-mcp/pulse/src/store"
	"github.com/orchestra-mcp/pulse/src/types"
	"github.com/rs/zerolog"
)

// DefaultPersistEvery is how many accepted frames pass between series writes.
const DefaultPersistEvery = 10

// Frame outcomes reported to metrics.
const (
	OutcomeAccepted  = "accepted"
	OutcomeStale     = "stale"
	OutcomeMalformed = "malformed"
)

// Options tunes an Aggregator.
type Options struct {
	// Capacity bounds the rolling series.
	Capacity int
	// PersistEvery is the number of accepted frames between series writes.
	// The snapshot is written on every accepted frame.
	PersistEvery int
	// Fields pre-declares numeric fields so every point carries them from
	// the first frame on.
	Fields  []string
	Clock   clock.Clock
	Metrics *metrics.Collector
}

// Aggregator maintains the snapshot and series of a single entity.
type Aggregator struct {
	entityID string
	opts     Options
	kv       store.KeyValueStore
	logger   zerolog.Logger
	changes  *observer.Registry[types.Snapshot]

	mu           sync.RWMutex
	snapshot     types.Snapshot
	series       *series
	numeric      map[string]bool
	text         map[string]bool
	sincePersist int
}

// New creates the aggregator for entityID and hydrates it from kv, which
// may be nil.
func New(entityID string, opts Options, kv store.KeyValueStore, logger zerolog.Logger) *Aggregator {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.PersistEvery <= 0 {
		opts.PersistEvery = DefaultPersistEvery
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	logger = logger.With().Str("component", "aggregator").Str("entity_id", entityID).Logger()

	a := &Aggregator{
		entityID: entityID,
		opts:     opts,
		kv:       kv,
		logger:   logger,
		changes:  observer.New[types.Snapshot](logger),
		snapshot: types.Snapshot{EntityID: entityID, Fields: map[string]types.Value{}},
		series:   newSeries(opts.Capacity),
		numeric:  make(map[string]bool),
		text:     make(map[string]bool),
	}
	for _, name := range opts.Fields {
		a.numeric[name] = true
	}
	a.hydrate()
	return a
}

// EntityID returns the entity this aggregator tracks.
func (a *Aggregator) EntityID() string { return a.entityID }

// HandleMessage decodes msg and applies it when it belongs to this entity.
// Malformed messages and frames for other entities are ignored.
func (a *Aggregator) HandleMessage(msg types.Message) {
	f, err := DecodeFrame(msg)
	if err != nil {
		a.opts.Metrics.Frame(OutcomeMalformed)
		a.logger.Debug().Err(err).Str("type", msg.Type).Msg("dropping undecodable frame")
		return
	}
	if f.EntityID != a.entityID {
		return
	}
	a.Apply(f)
}

// Apply merges f into the snapshot and series. It reports false when the
// frame was stale or a duplicate and left state untouched.
func (a *Aggregator) Apply(f types.Frame) bool {
	if f.Timestamp.IsZero() {
		f.Timestamp = a.opts.Clock.Now()
	}

	a.mu.Lock()
	if !a.accepts(f) {
		last := a.snapshot.LastSequence
		a.mu.Unlock()
		a.opts.Metrics.Frame(OutcomeStale)
		ev := a.logger.Debug().Time("timestamp", f.Timestamp)
		if f.Sequence != nil {
			ev = ev.Int64("seq", *f.Sequence)
		}
		if last != nil {
			ev = ev.Int64("last_seq", *last)
		}
		ev.Msg("dropping stale frame")
		return false
	}

	for name, v := range f.Fields {
		a.snapshot.Fields[name] = v
		if v.IsText {
			a.text[name] = true
		} else {
			a.numeric[name] = true
		}
	}
	if f.Sequence != nil {
		seq := *f.Sequence
		a.snapshot.LastSequence = &seq
	}
	if f.Timestamp.After(a.snapshot.LastTimestamp) {
		a.snapshot.LastTimestamp = f.Timestamp
	}
	a.series.push(a.pointLocked(f))

	snap := a.snapshot.Clone()
	a.sincePersist++
	persistSeries := a.sincePersist >= a.opts.PersistEvery
	var points []types.Point
	if persistSeries {
		a.sincePersist = 0
		points = a.series.points()
	}
	a.mu.Unlock()

	a.opts.Metrics.Frame(OutcomeAccepted)
	a.persistSnapshot(snap)
	if persistSeries {
		a.persistSeries(points)
	}
	a.changes.Dispatch(snap)
	return true
}

// accepts applies the ordering rule. Sequence numbers are authoritative when
// both sides carry one; otherwise the timestamp must be strictly newer.
// Must be called with a.mu held.
func (a *Aggregator) accepts(f types.Frame) bool {
	last := a.snapshot.LastSequence
	if f.Sequence != nil && last != nil {
		return *f.Sequence > *last
	}
	if a.snapshot.LastTimestamp.IsZero() {
		return true
	}
	return f.Timestamp.After(a.snapshot.LastTimestamp)
}

// pointLocked builds a full-field point from the merged snapshot. Known
// fields the entity has not reported default to 0 or "".
func (a *Aggregator) pointLocked(f types.Frame) types.Point {
	p := types.Point{
		Timestamp: f.Timestamp,
		Numbers:   make(map[string]float64, len(a.numeric)),
	}
	if f.Sequence != nil {
		seq := *f.Sequence
		p.Sequence = &seq
	}
	for name := range a.numeric {
		p.Numbers[name], _ = a.snapshot.Num(name)
	}
	if len(a.text) > 0 {
		p.Strings = make(map[string]string, len(a.text))
		for name := range a.text {
			p.Strings[name], _ = a.snapshot.Str(name)
		}
	}
	return p
}

// Snapshot returns a copy of the current snapshot.
func (a *Aggregator) Snapshot() types.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot.Clone()
}

// Series returns a copy of the rolling series, oldest first.
func (a *Aggregator) Series() []types.Point {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.series.points()
}

// Fields returns the known numeric and string field names, sorted.
func (a *Aggregator) Fields() (numeric, text []string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for name := range a.numeric {
		numeric = append(numeric, name)
	}
	for name := range a.text {
		text = append(text, name)
	}
	sort.Strings(numeric)
	sort.Strings(text)
	return numeric, text
}

// HasData reports whether any frame was accepted or hydrated.
func (a *Aggregator) HasData() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.snapshot.Fields) > 0 || !a.snapshot.LastTimestamp.IsZero()
}

// OnChange registers fn for every accepted frame. fn receives a copy.
func (a *Aggregator) OnChange(fn func(types.Snapshot)) (unsubscribe func()) {
	return a.changes.Subscribe(fn)
}

// Flush writes the snapshot and series to the store now.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	snap := a.snapshot.Clone()
	points := a.series.points()
	a.sincePersist = 0
	a.mu.Unlock()

	a.persistSnapshot(snap)
	a.persistSeries(points)
}

// LastUpdate returns the timestamp of the newest accepted frame.
func (a *Aggregator) LastUpdate() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot.LastTimestamp
}
