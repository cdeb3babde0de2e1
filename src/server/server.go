package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/eduassist/api/src/config"
	"github.com/eduassist/api/src/drivers/storage"
	"github.com/eduassist/api/src/middleware"
	"github.com/eduassist/api/src/middleware/logic"
	"github.com/eduassist/api/src/services/content"
	"github.com/eduassist/api/src/services/operations"
	"github.com/eduassist/api/src/services/security"
)

// Server holds all dependencies for the API server.
type Server struct {
	cfg    *config.Config
	logger *logrus.Logger
	router *gin.Engine

	credentialStore *security.CredentialStore
	codeLedger      *security.CodeLedger
	localStore      *storage.LocalStore
	remoteStore     *storage.RemoteStore
	storageManager  *content.StorageManager
	maintenance     *operations.MaintenanceService
}

// NewServer creates and initializes all server dependencies.
func NewServer(cfg *config.Config, logger *logrus.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logger,
	}

	if err := s.initServices(); err != nil {
		return nil, fmt.Errorf("service init failed: %w", err)
	}

	s.initRouter()
	s.SetupRoutes()

	return s, nil
}

func (s *Server) initServices() error {
	credStore, err := security.NewCredentialStore(s.cfg.TokensDir, s.logger)
	if err != nil {
		return fmt.Errorf("credential store: %w", err)
	}
	s.credentialStore = credStore
	s.codeLedger = security.NewCodeLedger()

	localStore, err := storage.NewLocalStore(s.cfg.StorageRoot, s.logger)
	if err != nil {
		return fmt.Errorf("local storage: %w", err)
	}
	s.localStore = localStore

	s.remoteStore = storage.NewRemoteStore(storage.RemoteConfig{
		CredentialsPath: s.cfg.CredentialsPath,
		RedirectURL:     s.cfg.OAuthRedirectURL,
		Timeout:         s.cfg.RemoteTimeout,
	}, s.credentialStore, s.codeLedger, s.logger)

	manager, err := content.NewStorageManager(
		s.cfg.PreferencesPath,
		s.localStore,
		func() (storage.Provider, error) { return s.remoteStore, nil },
		s.logger,
	)
	if err != nil {
		return fmt.Errorf("storage manager: %w", err)
	}
	s.storageManager = manager

	maintenance, err := operations.NewMaintenanceService(
		s.credentialStore,
		s.cfg.TokensDir,
		s.cfg.CredentialSweepSchedule,
		s.logger,
	)
	if err != nil {
		return fmt.Errorf("maintenance service: %w", err)
	}
	s.maintenance = maintenance

	return nil
}

func (s *Server) initRouter() {
	if s.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	rateLimiter := logic.NewRateLimiter(s.cfg)
	s.router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.CORS(s.cfg, s.logger),
		rateLimiter.Middleware(),
	)
}

// Run starts the maintenance scheduler and the HTTP server, then waits for a
// shutdown signal.
func (s *Server) Run() error {
	if err := s.maintenance.Start(); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:           "0.0.0.0:" + s.cfg.Port,
		Handler:        s.router,
		ReadTimeout:    300 * time.Second,
		WriteTimeout:   300 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		s.logger.WithField("port", s.cfg.Port).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	s.logger.Info("Shutting down server...")
	s.maintenance.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("Server forced to shutdown")
		return err
	}

	s.logger.Info("Server exited")
	return nil
}
