package jsvm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

// PoolConfig sizes the runtime pool.
type PoolConfig struct {
	MaxSize        int
	IdleTimeout    time.Duration
	AcquireTimeout time.Duration
}

// DefaultPoolConfig returns the pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:        4,
		IdleTimeout:    5 * time.Minute,
		AcquireTimeout: 5 * time.Second,
	}
}

type vmInstance struct {
	vm       *goja.Runtime
	lastUsed time.Time
}

// VMPool hands out goja runtimes. A goja.Runtime is not goroutine-safe, so
// each one is owned by exactly one caller between Acquire and Release.
type VMPool struct {
	idle    chan *vmInstance
	cfg     PoolConfig
	created atomic.Int64
	active  atomic.Int64

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewVMPool creates a pool. Zero fields fall back to DefaultPoolConfig.
func NewVMPool(cfg PoolConfig) *VMPool {
	def := DefaultPoolConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	return &VMPool{
		idle: make(chan *vmInstance, cfg.MaxSize),
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Acquire returns an idle runtime, creates one below MaxSize, or waits for a
// release until ctx or the acquire timeout ends.
func (p *VMPool) Acquire(ctx context.Context) (*goja.Runtime, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}

	for {
		select {
		case inst := <-p.idle:
			if time.Since(inst.lastUsed) > p.cfg.IdleTimeout {
				p.created.Add(-1)
				continue
			}
			p.active.Add(1)
			return inst.vm, nil
		default:
		}
		break
	}

	for {
		n := p.created.Load()
		if n >= int64(p.cfg.MaxSize) {
			break
		}
		if p.created.CompareAndSwap(n, n+1) {
			p.active.Add(1)
			return goja.New(), nil
		}
	}

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()
	select {
	case inst := <-p.idle:
		p.active.Add(1)
		return inst.vm, nil
	case <-ctx.Done():
		return nil, ErrVMPoolExhausted
	case <-timer.C:
		return nil, ErrVMPoolExhausted
	case <-p.done:
		return nil, ErrClosed
	}
}

// Release returns vm to the pool after removing per-call globals.
func (p *VMPool) Release(vm *goja.Runtime) {
	if vm == nil {
		return
	}
	p.active.Add(-1)
	if p.isClosed() {
		p.created.Add(-1)
		return
	}

	_ = vm.GlobalObject().Delete(hostNamespace)
	_ = vm.GlobalObject().Delete("console")
	_ = vm.GlobalObject().Delete("handler")
	vm.ClearInterrupt()

	select {
	case p.idle <- &vmInstance{vm: vm, lastUsed: time.Now()}:
	default:
		p.created.Add(-1)
	}
}

// Close drops every idle runtime. Runtimes still checked out are discarded
// when released.
func (p *VMPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	for {
		select {
		case <-p.idle:
			p.created.Add(-1)
		default:
			return nil
		}
	}
}

func (p *VMPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	MaxSize int
	Created int
	Active  int
	Idle    int
}

// Stats returns current counters.
func (p *VMPool) Stats() PoolStats {
	return PoolStats{
		MaxSize: p.cfg.MaxSize,
		Created: int(p.created.Load()),
		Active:  int(p.active.Load()),
		Idle:    len(p.idle),
	}
}
