package server

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/customeros/exchangestack/api"
	"github.com/customeros/exchangestack/config"
	"github.com/customeros/exchangestack/interfaces"
	"github.com/customeros/exchangestack/internal/cron"
	"github.com/customeros/exchangestack/internal/logger"
	"github.com/customeros/exchangestack/internal/repository"
	"github.com/customeros/exchangestack/internal/tracing"
	"github.com/customeros/exchangestack/services"
	"github.com/customeros/exchangestack/services/events"
)

const shutdownTimeout = 15 * time.Second

// Server runs the account engine, the REST API and the cron jobs of one
// exchangestack process.
type Server struct {
	config       *config.Config
	log          logger.Logger
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	cronManager  *cron.CronManager
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, db *gorm.DB) (*Server, error) {
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		return nil, errors.Wrap(err, "initializing tracer")
	}
	opentracing.SetGlobalTracer(tracer)

	repos := repository.InitRepositories(db)
	svcs, err := services.InitServices(cfg, appLogger, repos)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	return &Server{
		config:       cfg,
		log:          appLogger,
		router:       router,
		services:     svcs,
		repositories: repos,
		cronManager:  cron.NewCronManager(cfg.Cron, appLogger, svcs.ExchangeService),
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:              ":" + cfg.AppConfig.APIPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Initialize wires the engine's events, the send queue consumer and the
// HTTP routes. It does not start anything.
func (s *Server) Initialize() error {
	s.services.ExchangeService.SetEventHandler(s.logMailEvent)

	var publisher interfaces.EventPublisher
	if s.services.EventsService != nil {
		publisher = s.services.EventsService.Publisher
		var subscriber interfaces.EventSubscriber = s.services.EventsService.Subscriber
		subscriber.RegisterListener(events.NewSendEmailListener(s.log, s.services.ExchangeService))
		if err := subscriber.ListenQueue(events.QueueSendEmail); err != nil {
			return errors.Wrap(err, "consuming send queue")
		}
	}

	api.RegisterRoutes(s.router, s.services.ExchangeService, publisher, s.repositories, s.config.AppConfig.APIKeys)
	return nil
}

func (s *Server) logMailEvent(_ context.Context, event interfaces.MailEvent) {
	s.log.Debugf("[%s] %s event in folder %s item %s (initial sync: %t)",
		event.AccountID, event.EventType, event.FolderID, event.ItemID, event.InitialSync)
}

// Run blocks until SIGINT or SIGTERM, or until the HTTP listener fails,
// then shuts everything down.
func (s *Server) Run() error {
	if err := s.Initialize(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.services.ExchangeService.Start(ctx); err != nil {
		return errors.Wrap(err, "starting exchange service")
	}
	s.cronManager.Start()

	listenErr := make(chan error, 1)
	go func() {
		defer tracing.RecoverAndLogToJaeger(s.log)
		s.log.Infof("HTTP server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()
	s.log.Info("ExchangeStack is running")

	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info("Shutdown signal received")
	case err := <-listenErr:
		runErr = errors.Wrap(err, "http server")
	}
	s.shutdown()
	return runErr
}

// shutdown stops the HTTP listener first and the broker connections last.
func (s *Server) shutdown() {
	defer tracing.RecoverAndLogToJaeger(s.log)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Errorf("HTTP server shutdown: %v", err)
	}
	s.cronManager.Stop()
	if err := s.services.ExchangeService.Stop(); err != nil {
		s.log.Errorf("Exchange service shutdown: %v", err)
	}
	if s.services.EventsService != nil {
		if err := s.services.EventsService.Close(); err != nil {
			s.log.Errorf("Events service shutdown: %v", err)
		}
	}
	if s.tracerCloser != nil {
		_ = s.tracerCloser.Close()
	}
	_ = s.log.Sync()
}
