// Package server assembles every conduit service into one running process.
// The serve command and tests share this single composition root.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"conduit/internal/approval"
	"conduit/internal/config"
	"conduit/internal/cron"
	"conduit/internal/gateway"
	"conduit/internal/gateway/handlers"
	"conduit/internal/gateway/websocket"
	"conduit/internal/hooks"
	hooksbuiltin "conduit/internal/hooks/builtin"
	"conduit/internal/jsvm"
	"conduit/internal/policy"
	"conduit/internal/provider"
	"conduit/internal/queue"
	"conduit/internal/runner"
	"conduit/internal/storage"
	"conduit/internal/todo"
	"conduit/internal/tools"
	"conduit/internal/tools/builtin"
)

// Server is the in-process conduit server.
type Server struct {
	cfg         *config.Config
	storagePath string
	version     string
	logger      zerolog.Logger

	db       *storage.DB
	audit    *approval.FileRecorder
	jsvm     *jsvm.Runtime
	hooks    *hooks.Manager
	policy   *policy.Executor
	watcher  *policy.Watcher
	gate     *approval.Gate
	todos    *todo.Store
	tools    *tools.Registry
	runner   *runner.Runner
	cron     *cron.Scheduler
	hub      *websocket.Hub
	gateway  *gateway.Server
	listener net.Listener

	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	mu        sync.RWMutex
	startedAt time.Time
	errChan   chan error
}

// ServerConfig holds configuration for the server.
type ServerConfig struct {
	// Config, when set, is used as is. Otherwise ConfigPath is loaded.
	Config      *config.Config
	ConfigPath  string
	StoragePath string
	Version     string
	Logger      zerolog.Logger
}

// NewServer loads configuration. Services are built by Start.
func NewServer(cfg ServerConfig) (*Server, error) {
	c := cfg.Config
	if c == nil {
		loaded, err := config.Load(cfg.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		c = loaded
	}
	if c.Gateway.Host == "" {
		c.Gateway.Host = "127.0.0.1"
	}

	storagePath := cfg.StoragePath
	if storagePath == "" {
		storagePath = c.Storage.Path
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:         c,
		storagePath: storagePath,
		version:     version,
		logger:      cfg.Logger,
		ctx:         ctx,
		cancel:      cancel,
		errChan:     make(chan error, 1),
	}, nil
}

// ErrorChan reports an error that stopped the gateway after Start returned.
func (s *Server) ErrorChan() <-chan error {
	return s.errChan
}

// Start builds every service, binds the gateway address and serves in the
// background. It returns once the server accepts connections.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.logger.Info().Msg("starting conduit server")
	if err := s.build(); err != nil {
		s.release()
		return err
	}

	ln, err := s.gateway.Listen()
	if err != nil {
		s.release()
		return err
	}
	s.listener = ln
	s.running = true
	s.startedAt = time.Now()

	go func() {
		if err := s.gateway.Serve(ln); err != nil {
			s.logger.Error().Err(err).Msg("gateway stopped")
			s.errChan <- err
		}
	}()

	s.logger.Info().
		Str("address", "http://"+ln.Addr().String()).
		Msg("conduit server started")
	return nil
}

// build constructs the services in dependency order.
func (s *Server) build() error {
	if err := s.openStorage(); err != nil {
		return err
	}

	s.jsvm = jsvm.NewRuntime(jsvm.Config{
		Pool: jsvm.PoolConfig{
			MaxSize:        s.cfg.JSVM.PoolSize,
			IdleTimeout:    s.cfg.JSVM.IdleTimeout,
			AcquireTimeout: s.cfg.JSVM.AcquireTimeout,
		},
		Timeout: s.cfg.JSVM.Timeout,
	})
	if err := s.buildHooks(); err != nil {
		return err
	}
	if err := s.buildPolicy(); err != nil {
		return err
	}

	s.hub = websocket.NewHub()
	if err := s.buildGate(); err != nil {
		return err
	}

	s.todos = todo.NewStore(s.todoConfig())
	s.tools = tools.NewRegistry()
	if err := builtin.RegisterBuiltins(s.tools); err != nil {
		return fmt.Errorf("register builtin tools: %w", err)
	}
	if err := todo.RegisterTools(s.tools, s.todos); err != nil {
		return fmt.Errorf("register todo tools: %w", err)
	}

	model, err := provider.New(provider.Config{
		Name:      s.cfg.Model.Provider,
		Endpoint:  s.cfg.Model.Endpoint,
		Model:     s.cfg.Model.Name,
		Timeout:   s.cfg.Model.Timeout,
		KeepAlive: s.cfg.Model.KeepAlive,
	}, s.tools)
	if err != nil {
		return err
	}

	s.runner, err = runner.NewRunner(queue.New(), model, s.tools, s.runnerConfig())
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}
	s.runner.SetHookManager(s.hooks)
	s.runner.SetPolicy(s.policy)
	s.runner.SetGate(s.gate)

	if err := s.buildCron(); err != nil {
		return err
	}

	deps := gateway.Deps{
		Version: s.version,
		Runner:  s.runner,
		Gate:    s.gate,
		Todos:   s.todos,
		Policy:  s.policy,
		Tools:   s.tools,
		DB:      s.db,
		Cron:    s.cron,
	}
	if p, ok := model.(provider.Pinger); ok {
		deps.Checks = append(deps.Checks, handlers.HealthCheck{
			Name:  "model",
			Check: func() error { return p.Ping(s.ctx) },
		})
	}
	if s.cfg.Storage.Driver == "memory" {
		// the in-memory database only backs cron; it is not the todo/approval store
		deps.DB = nil
	}

	s.gateway, err = gateway.NewServer(s.cfg, s.hub, deps)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	if s.watcher != nil {
		s.watcher.OnReload(s.gateway.NotifyPolicyReload)
		if err := s.watcher.Start(); err != nil {
			s.logger.Warn().Err(err).Msg("policy watcher not started")
			s.watcher.Stop()
			s.watcher = nil
		}
	}
	return nil
}

func (s *Server) openStorage() error {
	path := s.storagePath
	switch s.cfg.Storage.Driver {
	case "memory":
		path = storage.MemoryPath
	case "", "sqlite":
		if path == "" {
			p, err := config.DefaultDataPath()
			if err != nil {
				return err
			}
			path = p
		}
	default:
		return fmt.Errorf("unknown storage driver %q", s.cfg.Storage.Driver)
	}

	db, err := storage.Open(path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db
	s.logger.Info().Str("driver", s.cfg.Storage.Driver).Str("path", db.Path()).Msg("storage opened")
	return nil
}

// persistent reports whether todos and approvals go to the database.
func (s *Server) persistent() bool {
	return s.cfg.Storage.Driver != "memory"
}

func (s *Server) buildHooks() error {
	hc := s.cfg.Hooks
	s.hooks = hooks.NewManager(hooks.WithJSExecutor(s.jsvm))

	if hc.Logging {
		level, err := zerolog.ParseLevel(hc.LogLevel)
		if err != nil || level == zerolog.NoLevel {
			level = zerolog.DebugLevel
		}
		if err := hooksbuiltin.RegisterLoggingHooks(s.hooks, hooksbuiltin.LoggingConfig{Level: level}); err != nil {
			return fmt.Errorf("register logging hooks: %w", err)
		}
	}

	if hc.Filter.Enabled {
		if hc.Filter.SensitiveData {
			f, err := hooksbuiltin.NewSensitiveDataFilter()
			if err != nil {
				return err
			}
			if err := hooks.Register(s.hooks, hooks.BeforeModelRequest, f.Handler("builtin:filter:sensitive")); err != nil {
				return err
			}
		}
		if hc.Filter.InjectionCheck {
			f, err := hooksbuiltin.NewPromptInjectionDetector()
			if err != nil {
				return err
			}
			if err := hooks.Register(s.hooks, hooks.BeforeModelRequest, f.Handler("builtin:filter:injection")); err != nil {
				return err
			}
		}
	}

	if hc.RateLimit.Enabled {
		if _, err := hooksbuiltin.RegisterRateLimitHook(s.hooks, hooksbuiltin.RateLimitConfig{
			MaxCalls: hc.RateLimit.MaxCalls,
			Window:   hc.RateLimit.Window,
		}); err != nil {
			return fmt.Errorf("register rate limit hook: %w", err)
		}
	}

	for _, sc := range hc.Scripts {
		path, err := config.ExpandPath(sc.Path)
		if err != nil {
			return err
		}
		if err := hooks.RegisterScript(s.hooks, hooks.Site(sc.Site), sc.ID, path); err != nil {
			return fmt.Errorf("register script hook %s: %w", sc.ID, err)
		}
	}

	s.logger.Debug().Int("handlers", s.hooks.Count()).Msg("hooks registered")
	return nil
}

func (s *Server) buildPolicy() error {
	path, err := config.ExpandPath(s.cfg.Policy.Path)
	if err != nil {
		return err
	}

	p := policy.DefaultPolicy()
	if path != "" {
		// a missing file yields the default policy
		loaded, err := policy.Load(path)
		if err != nil {
			return fmt.Errorf("load policy: %w", err)
		}
		p = loaded
	}
	s.policy = policy.NewExecutor(p)

	if path != "" && s.cfg.Policy.Watch {
		w, err := policy.NewWatcher(path, s.policy)
		if err != nil {
			return fmt.Errorf("policy watcher: %w", err)
		}
		s.watcher = w
	}
	return nil
}

func (s *Server) buildGate() error {
	var recorders approval.MultiRecorder
	if s.persistent() {
		recorders = append(recorders, s.db)
	}
	if s.cfg.Approval.AuditFile != "" {
		path, err := config.ExpandPath(s.cfg.Approval.AuditFile)
		if err != nil {
			return err
		}
		audit, err := approval.NewFileRecorder(path)
		if err != nil {
			return fmt.Errorf("open approval audit file: %w", err)
		}
		s.audit = audit
		recorders = append(recorders, audit)
	}

	gc := approval.Config{
		DefaultTimeout: s.cfg.Approval.DefaultTimeout,
		MaxPending:     s.cfg.Approval.MaxPending,
		History:        s.cfg.Approval.History,
		Notifier:       approval.NewBroadcastNotifier(s.hub),
	}
	if len(recorders) > 0 {
		gc.Recorder = recorders
	}
	s.gate = approval.New(gc)
	return nil
}

func (s *Server) todoConfig() todo.Config {
	tc := todo.Config{MaxPerSession: s.cfg.Todo.MaxPerSession}
	if s.cfg.Todo.AllowSkip {
		tc.Transitions = todo.DefaultTransitions().WithSkip()
	}
	if s.persistent() {
		tc.Persister = s.db
	}
	return tc
}

func (s *Server) runnerConfig() runner.Config {
	rc := runner.DefaultConfig()
	if s.cfg.Runner.MaxIterations > 0 {
		rc = rc.WithMaxIterations(s.cfg.Runner.MaxIterations)
	}
	if s.cfg.Runner.TurnTimeout > 0 {
		rc = rc.WithTurnTimeout(s.cfg.Runner.TurnTimeout)
	}
	if s.cfg.Runner.MaxToolResultBytes > 0 {
		rc.MaxToolResultBytes = s.cfg.Runner.MaxToolResultBytes
	}
	if s.cfg.Queue.WorkerIdleTimeout > 0 {
		rc = rc.WithWorkerIdleTimeout(s.cfg.Queue.WorkerIdleTimeout)
	}
	return rc.
		WithDenialEndsTurn(s.cfg.Runner.DenialEndsTurn).
		WithSystemPrompt(s.cfg.Model.SystemPrompt)
}

// buildCron loads the configured jobs and starts the scheduler. Cron is
// skipped entirely when disabled.
func (s *Server) buildCron() error {
	if !s.cfg.Cron.Enabled {
		return nil
	}
	s.cron = cron.NewScheduler(
		cron.NewJobStore(s.db.DB),
		cron.NewHistoryStore(s.db.DB),
		s.runner,
		nil,
	)
	for _, j := range s.cfg.Cron.Jobs {
		if _, err := s.cron.SyncJob(s.ctx, cron.JobCreate{
			Name:      j.Name,
			Schedule:  j.Schedule,
			SessionID: j.SessionID,
			Message:   j.Message,
			Enabled:   true,
		}); err != nil {
			return fmt.Errorf("cron job %s: %w", j.Name, err)
		}
	}
	if err := s.cron.Start(s.ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	return nil
}

// Stop shuts every service down in reverse order.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	s.logger.Info().Msg("stopping conduit server")
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if s.cron != nil {
		select {
		case <-s.cron.Stop().Done():
		case <-ctx.Done():
		}
	}
	if err := s.runner.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("runner shutdown: %w", err))
	}
	s.gate.Close()
	if err := s.gateway.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.release()

	s.running = false
	s.logger.Info().Msg("conduit server stopped")
	return errors.Join(errs...)
}

// release closes what build opened. It tolerates a partial build.
func (s *Server) release() {
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("stop policy watcher")
		}
		s.watcher = nil
	}
	if s.hooks != nil {
		if err := s.hooks.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close hooks")
		}
	}
	if s.jsvm != nil {
		if err := s.jsvm.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close jsvm")
		}
	}
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close approval audit file")
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close storage")
		}
		s.db = nil
	}
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the bound gateway address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GetStartedAt returns when the server started.
func (s *Server) GetStartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// Config returns the effective configuration.
func (s *Server) Config() *config.Config { return s.cfg }

// Runner returns the turn runner. Nil before Start.
func (s *Server) Runner() *runner.Runner { return s.runner }

// Gate returns the approval gate. Nil before Start.
func (s *Server) Gate() *approval.Gate { return s.gate }
