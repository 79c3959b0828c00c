package runner

import (
	"context"
	"sync"
	"time"
)

// sessionWorker serializes the turns of one session. A worker exits after
// WorkerIdleTimeout with nothing queued and is recreated on the next enqueue.
type sessionWorker struct {
	sessionID string
	wake      chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	// prev is the done channel of the worker this one replaced.
	prev <-chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	busy   bool
}

func newSessionWorker(sessionID string, prev <-chan struct{}) *sessionWorker {
	return &sessionWorker{
		sessionID: sessionID,
		wake:      make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
		done:      make(chan struct{}),
		prev:      prev,
	}
}

func (w *sessionWorker) stopped() bool {
	select {
	case <-w.closeCh:
		return true
	default:
		return false
	}
}

// stop ends the worker and cancels its running turn.
func (w *sessionWorker) stop() {
	w.closeOnce.Do(func() { close(w.closeCh) })
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()
}

// begin installs the cancel func of a turn. A worker stopped in the meantime
// cancels it right away.
func (w *sessionWorker) begin(cancel context.CancelFunc) {
	w.mu.Lock()
	w.cancel = cancel
	w.busy = true
	w.mu.Unlock()
	if w.stopped() {
		cancel()
	}
}

func (w *sessionWorker) end() {
	w.mu.Lock()
	w.cancel = nil
	w.busy = false
	w.mu.Unlock()
}

func (w *sessionWorker) isBusy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

// wake makes sure a worker is running for sessionID and nudges it.
func (r *Runner) wake(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	w, ok := r.workers[sessionID]
	if !ok {
		w = newSessionWorker(sessionID, r.retired[sessionID])
		delete(r.retired, sessionID)
		r.workers[sessionID] = w
		r.wg.Add(1)
		go r.work(w)
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) work(w *sessionWorker) {
	defer r.wg.Done()
	defer close(w.done)
	defer func() {
		if w.stopped() {
			r.history.reset(w.sessionID)
		}
	}()

	if w.prev != nil {
		select {
		case <-w.prev:
		case <-w.closeCh:
			return
		}
	}

	idle := time.NewTimer(r.cfg.WorkerIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-w.wake:
			r.drain(w)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.cfg.WorkerIdleTimeout)

		case <-idle.C:
			if r.retire(w) {
				r.log.Debug().Str("session_id", w.sessionID).Msg("session worker idle, exiting")
				return
			}
			idle.Reset(r.cfg.WorkerIdleTimeout)

		case <-w.closeCh:
			return
		}
	}
}

// drain runs turns until the session queue is empty.
func (r *Runner) drain(w *sessionWorker) {
	for !w.stopped() {
		batch, ok := r.queue.Drain(w.sessionID)
		if !ok {
			return
		}
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Error().Interface("panic", rec).Str("session_id", w.sessionID).Msg("panic in turn")
				}
			}()
			r.runTurn(w, batch)
		}()
	}
}

// retire removes an idle worker unless work arrived meanwhile.
func (r *Runner) retire(w *sessionWorker) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(w.wake) > 0 || r.queue.Len(w.sessionID) > 0 {
		return false
	}
	if r.workers[w.sessionID] == w {
		delete(r.workers, w.sessionID)
	}
	return true
}
