package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/playout-core/internal/audit"
	"github.com/nerrad567/playout-core/internal/events"
	"github.com/nerrad567/playout-core/internal/infrastructure/config"
	"github.com/nerrad567/playout-core/internal/infrastructure/logging"
	"github.com/nerrad567/playout-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/playout-core/internal/jobs"
	"github.com/nerrad567/playout-core/internal/rundown"
	"github.com/nerrad567/playout-core/internal/worker"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultResultTimeout bounds how long a request waits for its job.
const defaultResultTimeout = 30 * time.Second

// Scheduler is the part of jobs.Scheduler the API uses.
type Scheduler interface {
	Enqueue(queueName, jobName string, payload any, opts jobs.EnqueueOptions) *jobs.Handle
	Stats(queueName string) jobs.QueueStats
	Running(queueName string) []jobs.RunningJob
}

// LoopStatus reports on a studio's dispatch loop.
type LoopStatus interface {
	Queue() string
	Stats() worker.Stats
}

// CommandSubscriber receives panel commands from the message bus.
type CommandSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config        config.APIConfig
	WS            config.WebSocketConfig
	Security      config.SecurityConfig
	Studios       []config.StudioConfig
	Logger        *logging.Logger
	Scheduler     Scheduler
	Store         rundown.Store
	Events        events.Publisher // job.completed; optional
	Loops         []LoopStatus     // optional, for /metrics
	MQTT          CommandSubscriber
	Audit         audit.Repository // command history; optional
	ExternalHub   *Hub // If set, the server uses this hub instead of creating its own
	ResultTimeout time.Duration
	Version       string
}

// Server is the operator HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg           config.APIConfig
	wsCfg         config.WebSocketConfig
	secCfg        config.SecurityConfig
	studios       map[string]config.StudioConfig
	logger        *logging.Logger
	scheduler     Scheduler
	store         rundown.Store
	events        events.Publisher
	loops         []LoopStatus
	mqtt          CommandSubscriber
	audit         audit.Repository
	auditCh       chan *audit.Entry
	resultTimeout time.Duration
	version       string
	startTime     time.Time
	server        *http.Server
	hub           *Hub
	tickets       *ticketStore
	cancel        context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("rundown store is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	s := &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		secCfg:        deps.Security,
		studios:       make(map[string]config.StudioConfig, len(deps.Studios)),
		logger:        deps.Logger,
		scheduler:     deps.Scheduler,
		store:         deps.Store,
		events:        deps.Events,
		loops:         deps.Loops,
		mqtt:          deps.MQTT,
		audit:         deps.Audit,
		resultTimeout: deps.ResultTimeout,
		version:       deps.Version,
		startTime:     time.Now(),
		hub:           deps.ExternalHub,
		tickets:       newTicketStore(),
	}
	for _, st := range deps.Studios {
		s.studios[st.ID] = st
	}
	if s.events == nil {
		s.events = events.Discard{}
	}
	if s.resultTimeout <= 0 {
		s.resultTimeout = defaultResultTimeout
	}
	if s.audit != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s, nil
}

// Hub returns the server's WebSocket hub, for registration as an event sink.
func (s *Server) Hub() *Hub { return s.hub }

// Start begins listening for HTTP connections.
//
// It subscribes to panel commands when MQTT is available, starts the
// ticket janitor and launches the HTTP listener in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)
	if s.auditCh != nil {
		go s.drainAuditLog(srvCtx)
	}

	if err := s.subscribeCommands(srvCtx); err != nil {
		s.logger.Warn("failed to subscribe to panel commands", "error", err)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
