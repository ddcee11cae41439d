package fleet

import (
	"sort"
	"sync"
	"time"

	"github.com/orchestra-mcp/pulse/src/clock"
	"github.com/orchestra-mcp/pulse/src/metrics"
	"github.com/orchestra-mcp/pulse/src/observer"
	"github.com/orchestra-mcp/pulse/src/types"
	"github.com/rs/zerolog"
)

// DefaultWindow is the coalescing window for snapshot bursts.
const DefaultWindow = 200 * time.Millisecond

// Debouncer buffers snapshot updates and recomputes fleet statistics at most
// once per window. The window opens with the first buffered update and is
// not extended by later ones, so a steady stream still recomputes on time.
type Debouncer struct {
	window  time.Duration
	clock   clock.Clock
	metrics *metrics.Collector
	logger  zerolog.Logger
	subs    *observer.Registry[types.AggregateStats]

	mu         sync.Mutex
	explicit   bool
	members    map[string]bool
	ids        []string
	state      map[string]types.Snapshot
	pending    map[string]types.Snapshot
	dirty      bool
	timer      clock.Timer
	timerID    uint64
	current    types.AggregateStats
	recomputes int
	stopped    bool
}

// NewDebouncer creates a debouncer. A nil clock uses the wall clock.
func NewDebouncer(window time.Duration, clk clock.Clock, logger zerolog.Logger) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	if clk == nil {
		clk = clock.Real{}
	}
	logger = logger.With().Str("component", "fleet").Logger()
	return &Debouncer{
		window:  window,
		clock:   clk,
		logger:  logger,
		subs:    observer.New[types.AggregateStats](logger),
		state:   make(map[string]types.Snapshot),
		pending: make(map[string]types.Snapshot),
		current: types.AggregateStats{
			StatusCount: map[string]int{},
			Samples:     map[string]int{},
		},
	}
}

// WithMetrics attaches Prometheus collectors and returns d.
func (d *Debouncer) WithMetrics(c *metrics.Collector) *Debouncer {
	d.metrics = c
	return d
}

// Update buffers the latest snapshot of id. Later updates for the same id
// within a window replace earlier ones. Once SetEntities was called,
// updates for other ids are ignored.
func (d *Debouncer) Update(id string, snap types.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || (d.explicit && !d.members[id]) {
		return
	}
	d.pending[id] = snap.Clone()
	d.armLocked()
}

// SetEntities fixes the entity set the statistics cover. Snapshots of
// entities outside the set are discarded. Until it is called, every entity
// that sent an update is covered.
func (d *Debouncer) SetEntities(ids []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	keep := make(map[string]bool, len(ids))
	d.ids = d.ids[:0]
	for _, id := range ids {
		if !keep[id] {
			keep[id] = true
			d.ids = append(d.ids, id)
		}
	}
	d.explicit = true
	d.members = keep
	for id := range d.state {
		if !keep[id] {
			delete(d.state, id)
		}
	}
	for id := range d.pending {
		if !keep[id] {
			delete(d.pending, id)
		}
	}
	d.dirty = true
	d.armLocked()
}

// Subscribe registers fn for every recomputation result.
func (d *Debouncer) Subscribe(fn func(types.AggregateStats)) (unsubscribe func()) {
	return d.subs.Subscribe(fn)
}

// Current returns the latest statistics.
func (d *Debouncer) Current() types.AggregateStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneStats(d.current)
}

// Recomputes returns how many recomputation passes ran.
func (d *Debouncer) Recomputes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recomputes
}

// Flush cancels the pending window and recomputes immediately if anything
// is buffered.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	d.run(0, true)
}

// Stop cancels the pending window. Later updates are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) armLocked() {
	if d.timer != nil {
		return
	}
	d.timerID++
	id := d.timerID
	d.timer = d.clock.AfterFunc(d.window, func() { d.run(id, false) })
}

// run merges pending updates and recomputes once. Timer callbacks carry the
// id they were armed with; a callback from a cancelled window is ignored.
func (d *Debouncer) run(id uint64, flush bool) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if !flush {
		if id != d.timerID || d.timer == nil {
			d.mu.Unlock()
			return
		}
		d.timer = nil
	}
	if len(d.pending) == 0 && !d.dirty {
		d.mu.Unlock()
		return
	}

	merged := len(d.pending)
	for eid, snap := range d.pending {
		d.state[eid] = snap
	}
	d.pending = make(map[string]types.Snapshot)
	d.dirty = false

	stats := retain(d.current, Recompute(d.entityIDsLocked(), d.state))
	stats.ComputedAt = d.clock.Now()
	d.current = stats
	d.recomputes++
	out := cloneStats(stats)
	d.mu.Unlock()

	d.metrics.Recompute()
	d.logger.Debug().
		Int("merged", merged).
		Int("entities", out.Entities).
		Int("reporting", out.Reporting).
		Msg("fleet recomputed")
	d.subs.Dispatch(out)
}

// entityIDsLocked returns the covered ids. Must be called with d.mu held.
func (d *Debouncer) entityIDsLocked() []string {
	if d.explicit {
		return d.ids
	}
	ids := make([]string, 0, len(d.state))
	for id := range d.state {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
