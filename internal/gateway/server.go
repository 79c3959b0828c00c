// Package gateway provides the HTTP gateway server.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	v1 "conduit/api/v1"
	"conduit/internal/approval"
	"conduit/internal/config"
	"conduit/internal/cron"
	"conduit/internal/gateway/handlers"
	"conduit/internal/gateway/middleware"
	"conduit/internal/gateway/websocket"
	"conduit/internal/policy"
	"conduit/internal/queue"
	"conduit/internal/runner"
	"conduit/internal/storage"
	"conduit/internal/taskstate"
	"conduit/internal/todo"
	"conduit/internal/tools"
	"conduit/pkg/logger"
)

// Deps are the services the gateway exposes. Any of them may be nil.
type Deps struct {
	Version string
	Runner  *runner.Runner
	Gate    *approval.Gate
	Todos   *todo.Store
	Policy  *policy.Executor
	Tools   *tools.Registry
	DB      *storage.DB
	Cron    *cron.Scheduler
	// Checks are extra health checks, such as model reachability.
	Checks []handlers.HealthCheck
}

// Server represents the HTTP gateway server.
type Server struct {
	httpServer  *http.Server
	router      *mux.Router
	hub         *websocket.Hub
	config      *config.Config
	deps        Deps
	tracker     *taskstate.Tracker
	rateLimiter *middleware.RateLimiter
	negotiator  *middleware.Negotiator
	log         zerolog.Logger

	startOnce   sync.Once
	unsubscribe func()
	pumpDone    chan struct{}
}

// NewServer creates a gateway server and wires its routes and broadcasts.
func NewServer(cfg *config.Config, hub *websocket.Hub, deps Deps) (*Server, error) {
	negotiator, err := middleware.NewNegotiator(middleware.VersionConfig{
		Current: cfg.Protocol.Version,
		Accept:  cfg.Protocol.Accept,
	})
	if err != nil {
		return nil, fmt.Errorf("protocol version: %w", err)
	}

	rlConfig := middleware.DefaultRateLimiterConfig()
	rlConfig.Enabled = cfg.Gateway.RateLimit.Enabled
	if cfg.Gateway.RateLimit.RequestsPerMinute > 0 {
		rlConfig.RequestsPerMinute = cfg.Gateway.RateLimit.RequestsPerMinute
	}
	if cfg.Gateway.RateLimit.Burst > 0 {
		rlConfig.Burst = cfg.Gateway.RateLimit.Burst
	}
	rateLimiter := middleware.NewRateLimiter(rlConfig)

	router := mux.NewRouter()

	// Recovery -> Logging -> CORS -> RateLimit -> Version
	handler := middleware.Recovery(
		middleware.Logging(
			middleware.CORS(
				rateLimiter.RateLimit(
					negotiator.Middleware(router),
				),
			),
		),
	)

	s := &Server{
		httpServer: &http.Server{
			Handler:      handler,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 0, // websocket writes carry their own deadlines
			IdleTimeout:  120 * time.Second,
		},
		router:      router,
		hub:         hub,
		config:      cfg,
		deps:        deps,
		rateLimiter: rateLimiter,
		negotiator:  negotiator,
		log:         logger.Component("gateway"),
	}
	if deps.Runner != nil {
		s.tracker = deps.Runner.Tracker()
	}

	hub.SetAllowedOrigins(cfg.Gateway.AllowedOrigins)
	s.setupRoutes()
	s.wireBroadcasts()
	return s, nil
}

func (s *Server) setupRoutes() {
	var checks []handlers.HealthCheck
	if s.deps.DB != nil {
		checks = append(checks, handlers.HealthCheck{Name: "storage", Check: s.deps.DB.Ping})
	}
	checks = append(checks, s.deps.Checks...)
	health := handlers.HealthHandler(s.deps.Version, checks...)
	s.router.HandleFunc("/health", health).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/health", health).Methods(http.MethodGet)

	api := v1.NewRouter(&v1.RouterDeps{
		Runner:     s.deps.Runner,
		Gate:       s.deps.Gate,
		Tracker:    s.tracker,
		Todos:      s.deps.Todos,
		Policy:     s.deps.Policy,
		Tools:      s.deps.Tools,
		DB:         s.deps.DB,
		Negotiator: s.negotiator,
	})
	api.RegisterRoutes(s.router)

	if s.deps.Cron != nil {
		handlers.NewCronHandler(s.deps.Cron).RegisterRoutes(s.router)
	}

	s.router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(s.hub, w, r)
	})
}

// wireBroadcasts connects the services to the hub: approval decisions from
// sockets go to the gate, chat goes to the runner, and state changes are
// pushed to session subscribers.
func (s *Server) wireBroadcasts() {
	if s.deps.Gate != nil {
		gate := s.deps.Gate
		s.hub.SetApprovalHandler(func(ctx context.Context, resp websocket.ApprovalResponse) error {
			decision, err := approval.ParseDecision(resp.Decision)
			if err != nil {
				return err
			}
			opts := []approval.ResolveOption{approval.By(resp.By)}
			if resp.Note != "" {
				opts = append(opts, approval.WithNote(resp.Note))
			}
			if resp.SessionID != "" && resp.SessionID != websocket.AllSessions {
				opts = append(opts, approval.InSession(resp.SessionID))
			}
			return gate.Resolve(resp.RequestID, decision, opts...)
		})
	}

	if s.deps.Runner != nil {
		r := s.deps.Runner
		s.hub.SetChatHandler(func(ctx context.Context, sessionID, text string) (string, error) {
			msg, err := r.Enqueue(sessionID, []queue.Part{queue.TextPart(text)}, queue.KindDefault,
				map[string]any{"source": "websocket"})
			if err != nil {
				return "", err
			}
			return msg.ID, nil
		})
	}

	if s.tracker != nil {
		s.tracker.OnChange(func(st taskstate.SessionState) {
			s.hub.BroadcastToSession(st.SessionID, websocket.TypeTaskStatus, taskstate.View(st))
		})
	}

	if s.deps.Todos != nil {
		s.deps.Todos.OnChange(func(sessionID string, list []todo.Todo) {
			s.hub.BroadcastToSession(sessionID, websocket.TypeTodos, map[string]any{
				"todos":  list,
				"counts": todo.Summarize(list),
			})
		})
	}
}

// NotifyPolicyReload tells every client about a policy reload attempt.
// Pass it to policy.Watcher.OnReload.
func (s *Server) NotifyPolicyReload(p *policy.Policy, err error) {
	payload := map[string]any{"ok": err == nil}
	if err != nil {
		payload["error"] = err.Error()
	} else if p != nil {
		payload["rules"] = len(p.Rules)
		payload["require_approval"] = p.RequireApproval
	}
	s.hub.BroadcastAll(websocket.TypePolicyReload, payload)
}

// startBackground runs the hub and forwards runner events to subscribers.
func (s *Server) startBackground() {
	s.startOnce.Do(func() {
		handlers.InitStartTime()
		go s.hub.Run()

		if s.deps.Runner == nil {
			return
		}
		events, unsubscribe := s.deps.Runner.Subscribe(256)
		s.unsubscribe = unsubscribe
		s.pumpDone = make(chan struct{})
		go func() {
			defer close(s.pumpDone)
			for e := range events {
				s.hub.BroadcastToSession(e.SessionID, websocket.TypeEvent, e)
			}
		}()
	})
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Listen binds the configured address without serving.
func (s *Server) Listen() (net.Listener, error) {
	addr := fmt.Sprintf("%s:%d", s.config.Gateway.Host, s.config.Gateway.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// Serve serves on ln and blocks until the server stops.
func (s *Server) Serve(ln net.Listener) error {
	s.startBackground()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("protocol_version", s.negotiator.Current().String()).
		Msg("starting gateway server")

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down gateway server")

	s.rateLimiter.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)

	if s.unsubscribe != nil {
		s.unsubscribe()
		<-s.pumpDone
	}
	s.hub.Stop()

	if err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Router returns the underlying router for testing.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}
