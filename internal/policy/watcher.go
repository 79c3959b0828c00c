package policy

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"conduit/pkg/logger"
)

const debounceDelay = 100 * time.Millisecond

// Watcher reloads a policy file into an Executor when it changes. A file
// that fails to parse leaves the previous policy active.
type Watcher struct {
	path     string
	exec     *Executor
	fsw      *fsnotify.Watcher
	onReload func(*Policy, error)
	log      zerolog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	started bool
	stopCh  chan struct{}
	done   chan struct{}
}

// NewWatcher watches path. The parent directory is watched so editors that
// replace the file by rename are picked up.
func NewWatcher(path string, exec *Executor) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		path:   filepath.Clean(path),
		exec:   exec,
		fsw:    fsw,
		log:    logger.Component("policy"),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// OnReload sets a callback run after every reload attempt. Set it before Start.
func (w *Watcher) OnReload(fn func(*Policy, error)) {
	w.onReload = fn
}

// Start begins watching.
func (w *Watcher) Start() error {
	if err := w.fsw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.run()
	return nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("policy watcher error")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	p, err := Load(w.path)
	if err != nil {
		w.log.Error().Err(err).Str("path", w.path).Msg("policy reload failed, keeping previous rules")
	} else {
		w.exec.SetPolicy(p)
		w.log.Info().Str("path", w.path).Int("rules", len(p.Rules)).Msg("policy reloaded")
	}
	if w.onReload != nil {
		w.onReload(p, err)
	}
}

// Stop stops watching. It is safe on a watcher that never started.
func (w *Watcher) Stop() error {
	select {
	case <-w.stopCh:
		return nil
	default:
	}
	close(w.stopCh)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	started := w.started
	w.mu.Unlock()
	err := w.fsw.Close()
	if started {
		<-w.done
	}
	return err
}
