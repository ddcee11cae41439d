// Package stream owns the single shared streaming connection of the
// process. It authenticates on open, fans inbound messages out to every
// subscriber, and reconnects on its own: a short fixed delay after a
// graceful close, exponential backoff with jitter after anything else,
// and immediately when the host reports it became visible again.
package stream

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/pulse/src/clock"
	"github.com/orchestra-mcp/pulse/src/metrics"
	"github.com/orchestra-mcp/pulse/src/observer"
	"github.com/orchestra-mcp/pulse/src/status"
	"github.com/orchestra-mcp/pulse/src/types"
	"github.com/rs/zerolog"
)

// TokenSource returns the credential to authenticate with. It is called on
// every connection attempt so a refreshed credential is picked up.
type TokenSource func() string

// Options configures a Manager.
type Options struct {
	Endpoint      string
	Token         TokenSource
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffCap    int
	Jitter        time.Duration
	GracefulDelay time.Duration
	DialTimeout   time.Duration
}

// DefaultOptions returns the default reconnect tuning for endpoint.
func DefaultOptions(endpoint string) Options {
	return Options{
		Endpoint:      endpoint,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		BackoffCap:    5,
		Jitter:        time.Second,
		GracefulDelay: 500 * time.Millisecond,
		DialTimeout:   10 * time.Second,
	}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for reconnect timers.
func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithRand replaces the jitter source; fn must return values in [0, 1).
func WithRand(fn func() float64) Option { return func(m *Manager) { m.rand = fn } }

// WithMetrics attaches Prometheus collectors.
func WithMetrics(c *metrics.Collector) Option { return func(m *Manager) { m.metrics = c } }

type eventKind int

const (
	evDialed eventKind = iota
	evMessage
	evClosed
)

// connEvent is posted to the loop by dial and read goroutines.
type connEvent struct {
	gen    uint64
	kind   eventKind
	conn   types.Conn
	data   []byte
	code   int
	reason string
	err    error
}

// Manager manages the shared stream connection and its subscribers.
type Manager struct {
	id      string
	opts    Options
	backoff Backoff
	dialer  Dialer
	status  *status.Broadcaster
	subs    *observer.Registry[types.Message]
	clock   clock.Clock
	rand    func() float64
	metrics *metrics.Collector
	logger  zerolog.Logger

	wake     chan struct{}
	visible  chan struct{}
	events   chan connEvent
	retry    chan uint64
	done     chan struct{}
	stopOnce sync.Once

	// writeMu serializes writes; live is set only while authenticated.
	writeMu sync.Mutex
	live    types.Conn

	// Owned by the Run goroutine.
	ctx     context.Context
	conn    types.Conn
	gen     uint64
	dialing bool
	authed  bool
	attempt int
	timer   clock.Timer
	timerID uint64
}

// New creates a Manager. Call Run in a goroutine to start it; no connection
// is opened until the first subscriber arrives.
func New(opts Options, dialer Dialer, st *status.Broadcaster, logger zerolog.Logger, options ...Option) *Manager {
	def := DefaultOptions(opts.Endpoint)
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = def.BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = def.MaxDelay
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = def.BackoffCap
	}
	if opts.GracefulDelay <= 0 {
		opts.GracefulDelay = def.GracefulDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.Token == nil {
		opts.Token = func() string { return "" }
	}

	id := uuid.New().String()
	logger = logger.With().Str("component", "stream").Str("manager_id", id).Logger()

	m := &Manager{
		id:   id,
		opts: opts,
		backoff: Backoff{
			Base:   opts.BaseDelay,
			Max:    opts.MaxDelay,
			Cap:    opts.BackoffCap,
			Jitter: opts.Jitter,
		},
		dialer:  dialer,
		status:  st,
		subs:    observer.New[types.Message](logger),
		clock:   clock.Real{},
		rand:    rand.Float64,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		visible: make(chan struct{}, 1),
		events:  make(chan connEvent, 256),
		retry:   make(chan uint64, 1),
		done:    make(chan struct{}),
		ctx:     context.Background(),
	}
	for _, o := range options {
		o(m)
	}
	if m.status == nil {
		m.status = status.New(status.DefaultLogSize, m.clock, logger)
	}
	m.subs.OnPanic(m.metrics.HandlerPanic)
	return m
}

// ID returns the manager instance id used in logs.
func (m *Manager) ID() string { return m.id }

// Status returns the broadcaster carrying this manager's connection state.
func (m *Manager) Status() *status.Broadcaster { return m.status }

// SubscribeStatus registers fn for connection state changes.
func (m *Manager) SubscribeStatus(fn func(types.Status)) (unsubscribe func()) {
	return m.status.Subscribe(fn)
}

// Subscribe registers handler for every non-control inbound message and
// opens the connection if none exists. The connection stays open when the
// last subscriber leaves.
func (m *Manager) Subscribe(handler types.MessageHandler) (unsubscribe func()) {
	unsubscribe = m.subs.Subscribe(handler)
	signal(m.wake)
	return unsubscribe
}

// SubscriberCount returns the number of registered handlers.
func (m *Manager) SubscriberCount() int { return m.subs.Len() }

// Publish sends v as JSON over the live connection. It returns false when
// the connection is not authenticated or the write fails.
func (m *Manager) Publish(v any) bool {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.live == nil {
		return false
	}
	if err := m.live.WriteJSON(v); err != nil {
		m.logger.Debug().Err(err).Msg("publish failed")
		return false
	}
	return true
}

// OnVisible reports that the hosting environment resumed (a hidden page
// became visible, a suspended process continued). With subscribers present
// and no live connection, a reconnect starts right away, skipping any
// pending backoff.
func (m *Manager) OnVisible() {
	signal(m.visible)
}

// Run starts the manager event loop. Call in a goroutine.
func (m *Manager) Run(ctx context.Context) {
	m.ctx = ctx
	defer m.teardown()

	for {
		select {
		case <-m.wake:
			m.ensureConnected()
		case <-m.visible:
			m.handleVisible()
		case ev := <-m.events:
			m.handleEvent(ev)
		case id := <-m.retry:
			m.handleRetry(id)
		case <-ctx.Done():
			return
		case <-m.done:
			return
		}
	}
}

// Stop halts the event loop and closes the connection.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *Manager) teardown() {
	m.Stop()
	m.stopTimer()
	m.dropConnection()
	m.status.Set(types.StateDisconnected, "stopped", m.attempt)
	m.logger.Info().Msg("stream manager stopped")
}

func (m *Manager) ensureConnected() {
	if m.conn != nil || m.dialing || m.timer != nil {
		return
	}
	if m.subs.Len() == 0 {
		return
	}
	m.connect()
}

func (m *Manager) handleVisible() {
	if m.subs.Len() == 0 || m.conn != nil || m.dialing {
		return
	}
	m.logger.Info().Int("attempt", m.attempt).Msg("visible again, reconnecting now")
	m.metrics.Reconnect("visible")
	m.stopTimer()
	m.connect()
}

func (m *Manager) handleRetry(id uint64) {
	if id != m.timerID || m.timer == nil {
		return
	}
	m.timer = nil
	if m.subs.Len() == 0 {
		m.status.Set(types.StateDisconnected, "no subscribers", m.attempt)
		return
	}
	m.connect()
}

func (m *Manager) connect() {
	m.stopTimer()
	m.gen++
	gen := m.gen
	m.dialing = true
	m.status.Set(types.StateConnecting, "", m.attempt)

	ctx := m.ctx
	url := m.opts.Endpoint
	timeout := m.opts.DialTimeout
	m.logger.Debug().Str("endpoint", url).Int("attempt", m.attempt).Msg("dialing")

	go func() {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		conn, err := m.dialer.Dial(dialCtx, url)
		if !m.post(connEvent{gen: gen, kind: evDialed, conn: conn, err: err}) && conn != nil {
			conn.Close()
		}
	}()
}

func (m *Manager) handleEvent(ev connEvent) {
	if ev.gen != m.gen {
		// Belongs to a connection that was already replaced or dropped.
		if ev.kind == evDialed && ev.conn != nil {
			ev.conn.Close()
		}
		return
	}

	switch ev.kind {
	case evDialed:
		m.handleDialed(ev)
	case evMessage:
		m.handleMessage(ev.data)
	case evClosed:
		m.logger.Info().Int("code", ev.code).Str("reason", ev.reason).Msg("connection closed")
		m.dropConnection()
		if IsGraceful(ev.code) {
			m.scheduleReconnect(true, "closed: "+ev.reason)
		} else {
			m.scheduleReconnect(false, "closed abnormally: "+ev.reason)
		}
	}
}

func (m *Manager) handleDialed(ev connEvent) {
	m.dialing = false
	if ev.err != nil {
		m.logger.Warn().Err(ev.err).Int("attempt", m.attempt).Msg("dial failed")
		m.status.Set(types.StateError, ev.err.Error(), m.attempt)
		m.scheduleReconnect(false, ev.err.Error())
		return
	}

	m.conn = ev.conn
	m.authed = false

	auth := types.AuthMessage{Type: types.MessageAuth, Token: m.opts.Token()}
	m.writeMu.Lock()
	err := ev.conn.WriteJSON(auth)
	m.writeMu.Unlock()
	if err != nil {
		m.logger.Warn().Err(err).Msg("auth send failed")
		m.dropConnection()
		m.scheduleReconnect(false, "auth send failed")
		return
	}

	go m.readPump(m.gen, ev.conn)
}

func (m *Manager) handleMessage(data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		m.logger.Debug().Err(err).Int("bytes", len(data)).Msg("dropping malformed message")
		m.metrics.Dropped("malformed")
		return
	}

	switch envelope.Type {
	case types.MessageAuthOK:
		m.authed = true
		m.attempt = 0
		m.writeMu.Lock()
		m.live = m.conn
		m.writeMu.Unlock()
		m.metrics.SetConnected(true)
		m.status.Set(types.StateConnected, "", 0)
		m.logger.Info().Msg("stream authenticated")
		return
	case types.MessageAuthFailed:
		m.logger.Warn().Msg("authentication rejected")
		m.dropConnection()
		m.scheduleReconnect(false, "authentication failed")
		return
	}

	if !m.authed {
		m.metrics.Dropped("unauthenticated")
		return
	}

	m.metrics.Dispatched()
	m.subs.Dispatch(types.Message{
		Type:       envelope.Type,
		Data:       json.RawMessage(data),
		ReceivedAt: m.clock.Now(),
	})
}

// scheduleReconnect arms the single reconnect timer. Graceful closes wait a
// short fixed delay and do not count as failures.
func (m *Manager) scheduleReconnect(graceful bool, detail string) {
	if m.subs.Len() == 0 {
		m.status.Set(types.StateDisconnected, detail, m.attempt)
		return
	}

	var delay time.Duration
	trigger := "graceful"
	if graceful {
		delay = m.opts.GracefulDelay
	} else {
		trigger = "backoff"
		delay = m.backoff.Delay(m.attempt, m.rand)
		m.attempt++
	}

	m.status.Set(types.StateReconnecting, detail, m.attempt)
	m.metrics.Reconnect(trigger)
	m.logger.Info().
		Str("trigger", trigger).
		Dur("delay", delay).
		Int("attempt", m.attempt).
		Msg("reconnect scheduled")
	m.armTimer(delay)
}

func (m *Manager) armTimer(d time.Duration) {
	m.stopTimer()
	m.timerID++
	id := m.timerID
	m.timer = m.clock.AfterFunc(d, func() {
		select {
		case m.retry <- id:
		case <-m.done:
		}
	})
}

func (m *Manager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// dropConnection closes the current connection and invalidates every event
// still queued for it.
func (m *Manager) dropConnection() {
	m.writeMu.Lock()
	m.live = nil
	m.writeMu.Unlock()

	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.authed {
		m.metrics.SetConnected(false)
	}
	m.authed = false
	m.dialing = false
	m.gen++
}

// post hands an event to the loop. It reports false once the manager stopped.
func (m *Manager) post(ev connEvent) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
