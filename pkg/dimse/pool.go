package dimse

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// AssociationPool reuses associations to one remote AE across cascading
// C-FIND queries.
type AssociationPool struct {
	config      AssociationConfig
	maxSize     int
	maxIdleTime time.Duration

	mu          sync.Mutex
	idle        []*Association
	cleanTicker *time.Ticker
	done        chan struct{}
}

// PoolConfig holds configuration for an association pool
type PoolConfig struct {
	AssociationConfig
	MaxPoolSize int
	MaxIdleTime time.Duration
}

// NewAssociationPool creates a new association pool
func NewAssociationPool(config PoolConfig) *AssociationPool {
	if config.MaxPoolSize == 0 {
		config.MaxPoolSize = 5
	}
	if config.MaxIdleTime == 0 {
		config.MaxIdleTime = 5 * time.Minute
	}

	p := &AssociationPool{
		config:      config.AssociationConfig,
		maxSize:     config.MaxPoolSize,
		maxIdleTime: config.MaxIdleTime,
		cleanTicker: time.NewTicker(1 * time.Minute),
		done:        make(chan struct{}),
	}

	go p.cleanup()

	return p
}

// Get returns a connected association, reusing an idle one when available.
func (p *AssociationPool) Get(ctx context.Context) (*Association, error) {
	p.mu.Lock()
	for len(p.idle) > 0 {
		assoc := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if assoc.IsConnected() {
			p.mu.Unlock()
			return assoc, nil
		}
		assoc.Close()
	}
	p.mu.Unlock()

	assoc := NewAssociation(p.config)
	if err := assoc.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to open association: %w", err)
	}
	return assoc, nil
}

// Put returns an association to the pool.
func (p *AssociationPool) Put(assoc *Association) {
	if !assoc.IsConnected() {
		assoc.Close()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) >= p.maxSize {
		assoc.Close()
		return
	}
	p.idle = append(p.idle, assoc)
}

// Close closes all idle associations and stops the pool.
func (p *AssociationPool) Close() error {
	close(p.done)
	p.cleanTicker.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, assoc := range p.idle {
		assoc.Close()
	}
	p.idle = nil
	return nil
}

func (p *AssociationPool) cleanup() {
	for {
		select {
		case <-p.cleanTicker.C:
			p.removeIdle()
		case <-p.done:
			return
		}
	}
}

func (p *AssociationPool) removeIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	kept := p.idle[:0]
	for _, assoc := range p.idle {
		if now.Sub(assoc.LastUsed()) > p.maxIdleTime || !assoc.IsConnected() {
			assoc.Close()
			continue
		}
		kept = append(kept, assoc)
	}
	p.idle = kept
}
