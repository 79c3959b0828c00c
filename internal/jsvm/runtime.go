package jsvm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"conduit/internal/tools"
	"conduit/pkg/logger"
)

// Config configures a Runtime.
type Config struct {
	Pool PoolConfig
	// Timeout bounds a single evaluation.
	Timeout time.Duration
}

// DefaultConfig returns runtime defaults.
func DefaultConfig() Config {
	return Config{Pool: DefaultPoolConfig(), Timeout: 5 * time.Second}
}

// Runtime evaluates scripts. It satisfies hooks.JSExecutor.
type Runtime struct {
	pool    *VMPool
	timeout time.Duration
	log     zerolog.Logger
	closed  atomic.Bool
}

// NewRuntime creates a runtime.
func NewRuntime(cfg Config) *Runtime {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Runtime{
		pool:    NewVMPool(cfg.Pool),
		timeout: cfg.Timeout,
		log:     logger.Component("jsvm"),
	}
}

// Eval runs script and returns its exported completion value. The script is
// interrupted when ctx ends or the runtime timeout passes.
func (r *Runtime) Eval(ctx context.Context, script, name string) (any, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	vm, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Release(vm)

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prog, err := goja.Compile(name, script, false)
	if err != nil {
		return nil, &ScriptSyntaxError{File: name, Message: err.Error()}
	}

	sessionID, _ := tools.SessionIDFromContext(ctx)
	if err := installHost(vm, r.log, sessionID, name); err != nil {
		return nil, fmt.Errorf("install host api: %w", err)
	}

	stop := make(chan struct{})
	watcher := make(chan struct{})
	go func() {
		defer close(watcher)
		select {
		case <-execCtx.Done():
			vm.Interrupt(execCtx.Err())
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		<-watcher
	}()

	start := time.Now()
	val, err := vm.RunProgram(prog)
	if err != nil {
		return nil, wrapError(err, name)
	}
	r.log.Debug().Str("script", name).Dur("elapsed", time.Since(start)).Msg("script evaluated")
	return exportValue(val), nil
}

// EvalFile reads path and evaluates it.
func (r *Runtime) EvalFile(ctx context.Context, path string) (any, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return r.Eval(ctx, string(src), filepath.Base(path))
}

// Stats returns pool counters.
func (r *Runtime) Stats() PoolStats { return r.pool.Stats() }

// Close shuts the runtime down.
func (r *Runtime) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.pool.Close()
}

func wrapError(err error, name string) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		cause := ErrTimeout
		if v, ok := interrupted.Value().(error); ok && errors.Is(v, context.Canceled) {
			cause = context.Canceled
		}
		return &ExecutionError{Script: name, Cause: cause}
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return &ExecutionError{Script: name, Cause: errors.New(exc.String())}
	}
	return &ExecutionError{Script: name, Cause: err}
}

func exportValue(val goja.Value) any {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}
