// Package status holds the observable connection state of the shared
// stream. It owns no connection logic; the stream manager writes to it and
// everything else reads.
package status

import (
	"sync"

	"github.com/orchestra-mcp/pulse/src/clock"
	"github.com/orchestra-mcp/pulse/src/observer"
	"github.com/orchestra-mcp/pulse/src/types"
	"github.com/rs/zerolog"
)

// DefaultLogSize is the number of recent transitions retained.
const DefaultLogSize = 50

// Broadcaster holds the current connection status and a bounded log of
// recent transitions.
type Broadcaster struct {
	mu      sync.RWMutex
	current types.Status
	log     []types.StatusEvent
	head    int
	count   int

	clock  clock.Clock
	subs   *observer.Registry[types.Status]
	logger zerolog.Logger
}

// New creates a broadcaster in the disconnected state.
func New(logSize int, clk clock.Clock, logger zerolog.Logger) *Broadcaster {
	if logSize <= 0 {
		logSize = DefaultLogSize
	}
	if clk == nil {
		clk = clock.Real{}
	}
	logger = logger.With().Str("component", "status").Logger()
	return &Broadcaster{
		current: types.Status{State: types.StateDisconnected, Since: clk.Now()},
		log:     make([]types.StatusEvent, logSize),
		clock:   clk,
		subs:    observer.New[types.Status](logger),
		logger:  logger,
	}
}

// Set records a transition and notifies subscribers.
func (b *Broadcaster) Set(state types.ConnectionState, detail string, attempt int) {
	now := b.clock.Now()

	b.mu.Lock()
	b.current = types.Status{State: state, Detail: detail, Attempt: attempt, Since: now}
	b.log[b.head] = types.StatusEvent{At: now, State: state, Detail: detail, Attempt: attempt}
	b.head = (b.head + 1) % len(b.log)
	if b.count < len(b.log) {
		b.count++
	}
	cur := b.current
	b.mu.Unlock()

	b.logger.Debug().
		Str("state", string(state)).
		Int("attempt", attempt).
		Str("detail", detail).
		Msg("status changed")

	b.subs.Dispatch(cur)
}

// Current returns the latest status.
func (b *Broadcaster) Current() types.Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Recent returns the retained transitions, oldest first.
func (b *Broadcaster) Recent() []types.StatusEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]types.StatusEvent, b.count)
	start := (b.head - b.count + len(b.log)) % len(b.log)
	for i := 0; i < b.count; i++ {
		out[i] = b.log[(start+i)%len(b.log)]
	}
	return out
}

// Subscribe registers fn for status changes. fn is called once right away
// with the current status.
func (b *Broadcaster) Subscribe(fn func(types.Status)) (unsubscribe func()) {
	unsubscribe = b.subs.Subscribe(fn)
	fn(b.Current())
	return unsubscribe
}
