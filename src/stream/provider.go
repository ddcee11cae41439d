package stream

import (
	"context"
	"sync"
)

// Provider owns the lifecycle of one Manager: created lazily on first use,
// started once, and shut down explicitly. Independent providers never share
// a connection.
type Provider struct {
	mu      sync.Mutex
	factory func() *Manager
	m       *Manager
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewProvider returns a provider that builds its manager with factory.
func NewProvider(factory func() *Manager) *Provider {
	return &Provider{factory: factory}
}

// Init replaces the factory. It has no effect once a manager exists.
func (p *Provider) Init(factory func() *Manager) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.factory = factory
	}
}

// GetOrCreate returns the running manager, creating and starting it on the
// first call.
func (p *Provider) GetOrCreate() *Manager {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m != nil {
		return p.m
	}

	m := p.factory()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	p.m = m
	p.cancel = cancel
	p.done = done
	return m
}

// Current returns the manager if one was created, or nil.
func (p *Provider) Current() *Manager {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m
}

// Shutdown stops the manager and waits for its loop to exit. A later
// GetOrCreate starts a fresh manager.
func (p *Provider) Shutdown() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.m, p.cancel, p.done = nil, nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
