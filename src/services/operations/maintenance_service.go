package operations

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/eduassist/api/src/services/security"
)

// legacySharedTokenFiles are credential files from before tokens were stored
// per user. A shared token lets one user's grant serve everyone, so the sweep
// removes them on sight.
var legacySharedTokenFiles = []string{"token.json", "token.pickle"}

// expiryWarningWindow flags tokens that will expire soon without a refresh
// token. Those users will be bounced back through consent.
const expiryWarningWindow = 24 * time.Hour

// MaintenanceService runs a scheduled sweep over the credential directory:
// it deletes legacy shared token files and logs bundles about to go stale.
// It never deletes a per-user bundle.
type MaintenanceService struct {
	store     *security.CredentialStore
	tokensDir string
	schedule  string
	logger    *logrus.Logger
	cron      *cron.Cron
}

// NewMaintenanceService validates the cron schedule up front so a bad config
// value fails at startup rather than silently never running.
func NewMaintenanceService(store *security.CredentialStore, tokensDir, schedule string, logger *logrus.Logger) (*MaintenanceService, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}

	return &MaintenanceService{
		store:     store,
		tokensDir: tokensDir,
		schedule:  schedule,
		logger:    logger,
		cron:      cron.New(),
	}, nil
}

// Start registers the sweep and starts the scheduler in its own goroutine.
func (s *MaintenanceService) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.Sweep(); err != nil {
			s.logger.WithError(err).Error("maintenance: sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("scheduling maintenance sweep: %w", err)
	}

	s.cron.Start()
	s.logger.WithField("schedule", s.schedule).Info("maintenance: credential sweep scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *MaintenanceService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one maintenance pass. Exported so it can run on demand.
func (s *MaintenanceService) Sweep() error {
	s.removeLegacyTokens()
	return s.flagExpiringBundles()
}

func (s *MaintenanceService) removeLegacyTokens() {
	for _, name := range legacySharedTokenFiles {
		path := filepath.Join(s.tokensDir, name)
		err := os.Remove(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			s.logger.WithError(err).WithField("file", path).Warn("maintenance: could not remove legacy shared token")
			continue
		}
		s.logger.WithField("file", path).Info("maintenance: removed legacy shared token file")
	}
}

func (s *MaintenanceService) flagExpiringBundles() error {
	bundles, err := s.store.List()
	if err != nil {
		return fmt.Errorf("listing credential bundles: %w", err)
	}

	for _, stored := range bundles {
		token := stored.Bundle.Token
		if token == nil || token.Expiry.IsZero() || token.RefreshToken != "" {
			continue
		}
		if time.Until(token.Expiry) < expiryWarningWindow {
			s.logger.WithFields(logrus.Fields{
				"file":   stored.File,
				"expiry": token.Expiry.Format(time.RFC3339),
			}).Warn("maintenance: token expiring without refresh token, user must reconnect")
		}
	}
	return nil
}
