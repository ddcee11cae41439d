package service

import (
	"sort"
	"sync"
	"time"

	"github.com/orchestra-mcp/pulse/src/aggregator"
	"github.com/orchestra-mcp/pulse/src/clock"
	"github.com/orchestra-mcp/pulse/src/fleet"
	"github.com/orchestra-mcp/pulse/src/metrics"
	"github.com/orchestra-mcp/pulse/src/status"
	"github.com/orchestra-mcp/pulse/src/store"
	"github.com/orchestra-mcp/pulse/src/types"
	"github.com/rs/zerolog"
)

// Source is the message stream the service consumes. *stream.Manager
// implements it.
type Source interface {
	Subscribe(handler types.MessageHandler) (unsubscribe func())
	Status() *status.Broadcaster
}

// Options configures a Service.
type Options struct {
	Aggregator aggregator.Options
	Debounce   time.Duration
	// AutoWatch creates an aggregator for every entity that sends a frame.
	AutoWatch bool
	Entities  []string
	Clock     clock.Clock
	Metrics   *metrics.Collector
}

type watched struct {
	agg   *aggregator.Aggregator
	unsub func()
}

// Service routes stream messages to per-entity aggregators and keeps fleet
// statistics over the watched entities.
type Service struct {
	opts   Options
	source Source
	kv     store.KeyValueStore
	fleet  *fleet.Debouncer
	logger zerolog.Logger

	// watchMu serializes Watch and Unwatch so fleet membership updates
	// apply in order.
	watchMu     sync.Mutex
	mu          sync.RWMutex
	entities    map[string]*watched
	unsubscribe func()
}

// New creates a service. Call Start to begin consuming the source.
func New(opts Options, source Source, kv store.KeyValueStore, logger zerolog.Logger) *Service {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	opts.Aggregator.Clock = opts.Clock
	opts.Aggregator.Metrics = opts.Metrics

	s := &Service{
		opts:     opts,
		source:   source,
		kv:       kv,
		fleet:    fleet.NewDebouncer(opts.Debounce, opts.Clock, logger).WithMetrics(opts.Metrics),
		logger:   logger.With().Str("component", "service").Logger(),
		entities: make(map[string]*watched),
	}
	for _, id := range opts.Entities {
		s.Watch(id)
	}
	return s
}

// Start subscribes to the source, which opens the shared connection.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		return
	}
	s.unsubscribe = s.source.Subscribe(s.handleMessage)
	s.logger.Info().Int("entities", len(s.entities)).Bool("auto_watch", s.opts.AutoWatch).Msg("service started")
}

// Close unsubscribes from the source and writes every aggregator's state
// to the store.
func (s *Service) Close() {
	s.mu.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	aggs := make([]*aggregator.Aggregator, 0, len(s.entities))
	for _, w := range s.entities {
		aggs = append(aggs, w.agg)
	}
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	for _, a := range aggs {
		a.Flush()
	}
	s.fleet.Stop()
}

// Watch starts aggregating frames for id and returns its aggregator.
// Watching an entity twice returns the existing aggregator.
func (s *Service) Watch(id string) *aggregator.Aggregator {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	s.mu.Lock()
	if w, ok := s.entities[id]; ok {
		s.mu.Unlock()
		return w.agg
	}

	agg := aggregator.New(id, s.opts.Aggregator, s.kv, s.logger)
	w := &watched{agg: agg}
	w.unsub = agg.OnChange(func(snap types.Snapshot) { s.fleet.Update(id, snap) })
	s.entities[id] = w
	ids := s.idsLocked()
	s.mu.Unlock()

	s.opts.Metrics.SetEntities(len(ids))
	s.fleet.SetEntities(ids)
	if agg.HasData() {
		// Warm start: show hydrated values before the first fresh frame.
		s.fleet.Update(id, agg.Snapshot())
	}
	s.logger.Debug().Str("entity_id", id).Msg("watching")
	return agg
}

// Unwatch stops aggregating id. Its persisted state is kept.
func (s *Service) Unwatch(id string) bool {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	s.mu.Lock()
	w, ok := s.entities[id]
	if ok {
		delete(s.entities, id)
	}
	ids := s.idsLocked()
	s.mu.Unlock()
	if !ok {
		return false
	}

	w.unsub()
	w.agg.Flush()
	s.opts.Metrics.SetEntities(len(ids))
	s.fleet.SetEntities(ids)
	s.logger.Debug().Str("entity_id", id).Msg("unwatched")
	return true
}

// Entities returns the watched entity ids, sorted.
func (s *Service) Entities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idsLocked()
}

// Snapshot returns the latest snapshot of id.
func (s *Service) Snapshot(id string) (types.Snapshot, bool) {
	a := s.aggregator(id)
	if a == nil {
		return types.Snapshot{}, false
	}
	return a.Snapshot(), true
}

// Series returns the rolling series of id.
func (s *Service) Series(id string) ([]types.Point, bool) {
	a := s.aggregator(id)
	if a == nil {
		return nil, false
	}
	return a.Series(), true
}

// Fleet returns the latest fleet statistics.
func (s *Service) Fleet() types.AggregateStats { return s.fleet.Current() }

// SubscribeFleet registers fn for every fleet recomputation.
func (s *Service) SubscribeFleet(fn func(types.AggregateStats)) (unsubscribe func()) {
	return s.fleet.Subscribe(fn)
}

// FlushFleet recomputes fleet statistics now.
func (s *Service) FlushFleet() { s.fleet.Flush() }

// Status returns the connection status.
func (s *Service) Status() types.Status { return s.source.Status().Current() }

// StatusLog returns the recent connection transitions, oldest first.
func (s *Service) StatusLog() []types.StatusEvent { return s.source.Status().Recent() }

func (s *Service) aggregator(id string) *aggregator.Aggregator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, ok := s.entities[id]; ok {
		return w.agg
	}
	return nil
}

// handleMessage runs on the stream's dispatch goroutine.
func (s *Service) handleMessage(msg types.Message) {
	f, err := aggregator.DecodeFrame(msg)
	if err != nil {
		s.opts.Metrics.Frame(aggregator.OutcomeMalformed)
		s.logger.Debug().Err(err).Str("type", msg.Type).Msg("ignoring non-telemetry message")
		return
	}

	a := s.aggregator(f.EntityID)
	if a == nil {
		if !s.opts.AutoWatch {
			return
		}
		a = s.Watch(f.EntityID)
	}
	a.Apply(f)
}

// idsLocked returns sorted watched ids. Must be called with s.mu held.
func (s *Service) idsLocked() []string {
	ids := make([]string, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
