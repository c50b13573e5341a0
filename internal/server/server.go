package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"browsergrid/internal/api"
	"browsergrid/internal/artifact"
	"browsergrid/internal/config"
	"browsergrid/internal/eventbus"
	"browsergrid/internal/launcher"
	"browsergrid/internal/monitor"
	"browsergrid/internal/session"
	"browsergrid/internal/session/repo"
	"browsergrid/internal/session/worker"
	"browsergrid/internal/token"

	"github.com/hibiken/asynq"
)

type Server struct {
	cfg          *config.Config
	deps         *Dependency
	httpServer   *http.Server
	asynqServer  *asynq.Server
	asynqMux     *asynq.ServeMux
	sweeper      *session.Sweeper
	orchestrator *session.Orchestrator
	repo         session.Repository
	logger       *slog.Logger
}

func NewServer(cfg *config.Config, deps *Dependency) *Server {
	logger := deps.Logger

	bus := eventbus.NewRedisBus(deps.Redis, logger)

	sessionRepo := repo.NewRepository(deps.PG, deps.Redis)
	callbackStore := repo.NewCallbackStore(deps.Redis)
	issuer := token.NewHMACIssuer([]byte(cfg.Token.Secret), cfg.Token.Issuer)

	dockerLauncher := launcher.NewDockerLauncher(deps.Docker, launcher.Config{
		Image:        cfg.Launcher.Image,
		NetworkName:  cfg.Launcher.NetworkName,
		MemoryMB:     cfg.Launcher.MemoryMB,
		CPU:          cfg.Launcher.CPU,
		DevtoolsPort: cfg.Launcher.DevtoolsPort,
		StopTimeout:  cfg.Launcher.StopTimeout,
	}, logger)

	queue := worker.NewQueue(deps.AsynqClient)

	orch := session.NewOrchestrator(
		sessionRepo,
		callbackStore,
		dockerLauncher,
		issuer,
		bus,
		queue,
		session.OrchestratorConfig{
			DefaultTimeout: cfg.Session.DefaultTimeout,
			MaxTimeout:     cfg.Session.MaxTimeout,
			ReadyTimeout:   cfg.Session.ReadyTimeout,
			PollInterval:   cfg.Session.PollInterval,
			ProbeInterval:  cfg.Session.ProbeInterval,
			MaxRetries:     cfg.Session.MaxRetries,
			CallbackTTL:    cfg.Session.CallbackTTL,
			DefaultRegion:  cfg.Session.DefaultRegion,
		},
		logger,
	)

	sweeper := session.NewSweeper(sessionRepo, bus, orch.TerminateSession, session.SweeperConfig{
		Interval:    cfg.Session.SweepInterval,
		IdleTimeout: cfg.Session.IdleTimeout,
		Retention:   cfg.Session.Retention,
	}, logger)

	provisionWorker := worker.NewProvisionWorker(orch, logger)

	asynqServer := asynq.NewServer(deps.AsynqRedis, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Logger:      newAsynqLogger(logger),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskSessionProvision, provisionWorker.HandleSessionProvision)

	artifacts := artifact.NewLocalStore(
		cfg.Artifact.Root,
		cfg.Artifact.BaseURL,
		[]byte(cfg.Token.Secret),
		cfg.Artifact.URLTTL,
	)

	handler := api.NewSessionHandler(orch, artifacts)
	router := api.SetupRouter(handler)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		cfg:          cfg,
		deps:         deps,
		httpServer:   httpServer,
		asynqServer:  asynqServer,
		asynqMux:     mux,
		sweeper:      sweeper,
		orchestrator: orch,
		repo:         sessionRepo,
		logger:       logger,
	}
}

func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.logger.Info("Starting Asynq worker", "concurrency", s.cfg.Worker.Concurrency)
		if err := s.asynqServer.Start(s.asynqMux); err != nil {
			s.logger.Error("Asynq worker failed", "error", err)
		}
	}()

	go func() {
		if err := monitor.StartMetricsServer(ctx, s.cfg.Metrics.Addr, s.logger); err != nil {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()

	go s.sweeper.Start()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", "addr", s.cfg.Server.Addr)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received, draining...")
	case err := <-errCh:
		return err
	}

	return s.Shutdown()
}

func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.asynqServer.Shutdown()
	s.sweeper.Stop()

	// No container outlives the platform.
	session.ReclaimAllActive(shutdownCtx, s.repo, s.orchestrator.TerminateSession, s.logger)

	s.logger.Info("Server stopped gracefully")
	return nil
}

type asynqLogger struct {
	l *slog.Logger
}

func newAsynqLogger(l *slog.Logger) *asynqLogger {
	return &asynqLogger{l: l.With("component", "asynq")}
}

func (a *asynqLogger) Debug(args ...any) { a.l.Debug("", "msg", args) }
func (a *asynqLogger) Info(args ...any)  { a.l.Info("", "msg", args) }
func (a *asynqLogger) Warn(args ...any)  { a.l.Warn("", "msg", args) }
func (a *asynqLogger) Error(args ...any) { a.l.Error("", "msg", args) }
func (a *asynqLogger) Fatal(args ...any) { a.l.Error("FATAL", "msg", args) }
