package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/eduassist/api/src/models"
	"github.com/eduassist/api/src/services/security"
)

// driveScopes limits access to files this application created, plus the
// identity scopes the consent screen needs.
var driveScopes = []string{
	"https://www.googleapis.com/auth/drive.file",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/userinfo.email",
	"openid",
}

// defaultFolderPrefix names the per-user container on the remote side.
const defaultFolderPrefix = "EduAssist_"

// clientCredentials is the "web" object inside a Google credentials.json.
type clientCredentials struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthURI      string   `json:"auth_uri"`
	TokenURI     string   `json:"token_uri"`
	RedirectURIs []string `json:"redirect_uris"`
}

// RemoteConfig carries the knobs for constructing a RemoteStore.
type RemoteConfig struct {
	CredentialsPath string
	RedirectURL     string
	Timeout         time.Duration

	// Overridden by tests; empty selects the production Drive endpoints.
	APIBase    string
	UploadBase string

	// FolderPrefix defaults to "EduAssist_".
	FolderPrefix string
}

// RemoteStore stores files in the user's own Google Drive, reachable only
// after that user completes an OAuth consent flow. Authentication state is
// strictly per user: each user has their own credential bundle and their own
// Drive client, and no operation ever runs against another user's container.
type RemoteStore struct {
	cfg       RemoteConfig
	credStore *security.CredentialStore
	ledger    *security.CodeLedger
	logger    *logrus.Logger

	// mu guards clients so two concurrent requests during a user's first
	// authentication converge on a single client handle.
	mu      sync.Mutex
	clients map[string]*DriveClient
}

// NewRemoteStore builds the provider. Client credentials are validated
// lazily: the provider stays constructible (and unavailable) while
// credentials.json is absent.
func NewRemoteStore(cfg RemoteConfig, credStore *security.CredentialStore, ledger *security.CodeLedger, logger *logrus.Logger) *RemoteStore {
	if cfg.FolderPrefix == "" {
		cfg.FolderPrefix = defaultFolderPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &RemoteStore{
		cfg:       cfg,
		credStore: credStore,
		ledger:    ledger,
		logger:    logger,
		clients:   make(map[string]*DriveClient),
	}
}

// loadClientCredentials reads and validates credentials.json on every call,
// so dropping the file in place after startup brings the provider up without
// a restart, and a malformed file keeps it pinned unavailable.
func (s *RemoteStore) loadClientCredentials() (*clientCredentials, error) {
	data, err := os.ReadFile(s.cfg.CredentialsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: client credentials file %s not found", ErrProviderUnavailable, s.cfg.CredentialsPath)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading client credentials: %v", ErrProviderUnavailable, err)
	}

	var parsed struct {
		Web *clientCredentials `json:"web"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed client credentials: %v", ErrProviderUnavailable, err)
	}
	if parsed.Web == nil || parsed.Web.ClientID == "" || parsed.Web.ClientSecret == "" {
		return nil, fmt.Errorf("%w: client credentials missing web client id/secret", ErrProviderUnavailable)
	}
	return parsed.Web, nil
}

// oauthConfig translates the credentials file into an oauth2 config. The
// auth/token endpoints come from the file when present, which also lets
// tests point the token exchange at a local server.
func (s *RemoteStore) oauthConfig() (*oauth2.Config, error) {
	creds, err := s.loadClientCredentials()
	if err != nil {
		return nil, err
	}

	endpoint := google.Endpoint
	if creds.AuthURI != "" {
		endpoint.AuthURL = creds.AuthURI
	}
	if creds.TokenURI != "" {
		endpoint.TokenURL = creds.TokenURI
	}

	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  s.cfg.RedirectURL,
		Scopes:       driveScopes,
	}, nil
}

// HasClientCredentials reports whether a well-formed credentials file exists.
func (s *RemoteStore) HasClientCredentials() bool {
	_, err := s.loadClientCredentials()
	return err == nil
}

// EncodeState wraps a user identity into the OAuth state parameter so the
// callback can attribute the code without a server-side pending table.
func EncodeState(user string) string {
	return base64.StdEncoding.EncodeToString([]byte(user))
}

// DecodeState recovers the user identity from a callback state parameter.
func DecodeState(state string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(state)
	if err != nil || len(raw) == 0 {
		return "", fmt.Errorf("invalid state parameter")
	}
	return string(raw), nil
}

// AuthURL issues the consent URL for a specific user. Offline access plus a
// forced consent prompt so Google returns a refresh token.
func (s *RemoteStore) AuthURL(user string) (string, error) {
	cfg, err := s.oauthConfig()
	if err != nil {
		return "", err
	}

	authURL := cfg.AuthCodeURL(EncodeState(user),
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)

	s.logger.WithField("user", user).Info("drive: issued authorization URL")
	return authURL, nil
}

// CompleteAuth redeems an authorization code for the user encoded in state.
// The code is burned in the ledger before the exchange is attempted: a used
// code is never retried, even when its exchange fails, which closes every
// replay and double-spend race at the cost of one extra consent round trip.
// Returns the attributed user on success.
func (s *RemoteStore) CompleteAuth(ctx context.Context, code, state string) (string, error) {
	user, err := DecodeState(state)
	if err != nil {
		return "", err
	}

	cfg, err := s.oauthConfig()
	if err != nil {
		return "", err
	}

	if !s.ledger.MarkUsed(code) {
		s.logger.WithField("user", user).Warn("drive: rejected replayed authorization code")
		return "", security.ErrReplayedCode
	}

	exchangeCtx, cancel := s.opContext(ctx)
	defer cancel()

	tok, err := cfg.Exchange(exchangeCtx, code)
	if err != nil {
		return "", fmt.Errorf("token exchange for %s: %w", user, err)
	}

	// Replace any previous bundle and cached client wholesale.
	if err := s.credStore.Delete(user); err != nil {
		s.logger.WithError(err).WithField("user", user).Warn("drive: could not remove stale bundle")
	}
	s.dropClient(user)

	bundle := &security.CredentialBundle{Token: tok, Scopes: grantedScopes(tok)}
	if err := s.credStore.Save(user, bundle); err != nil {
		return "", fmt.Errorf("persisting credentials for %s: %w", user, err)
	}

	s.logger.WithFields(logrus.Fields{
		"user":   user,
		"expiry": tok.Expiry,
	}).Info("drive: user authenticated")

	return user, nil
}

// grantedScopes extracts the space-separated scope list the token endpoint
// returned, falling back to the requested scopes.
func grantedScopes(tok *oauth2.Token) []string {
	if raw, ok := tok.Extra("scope").(string); ok && raw != "" {
		return strings.Fields(raw)
	}
	return driveScopes
}

// Disconnect forgets the user's credential bundle and cached client.
func (s *RemoteStore) Disconnect(user string) error {
	s.dropClient(user)
	if err := s.credStore.Delete(user); err != nil {
		return err
	}
	s.logger.WithField("user", user).Info("drive: user disconnected")
	return nil
}

func (s *RemoteStore) dropClient(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, user)
}

// persistingTokenSource re-saves the user's bundle whenever the underlying
// source hands back a refreshed token, so silent refreshes survive restarts.
type persistingTokenSource struct {
	user   string
	scopes []string
	store  *security.CredentialStore
	src    oauth2.TokenSource
	logger *logrus.Logger

	mu   sync.Mutex
	last string // last persisted access token
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := p.store.Save(p.user, &security.CredentialBundle{Token: tok, Scopes: p.scopes}); err != nil {
			p.logger.WithError(err).WithField("user", p.user).Warn("drive: failed to persist refreshed token")
		} else {
			p.last = tok.AccessToken
			p.logger.WithFields(logrus.Fields{
				"user":   p.user,
				"expiry": tok.Expiry,
			}).Debug("drive: persisted refreshed token")
		}
	}
	return tok, nil
}

// opContext bounds a remote call with the configured timeout.
func (s *RemoteStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// tokenSource builds a refreshing, persisting token source for the user, or
// ErrAuthRequired when no bundle exists.
func (s *RemoteStore) tokenSource(user string) (oauth2.TokenSource, error) {
	cfg, err := s.oauthConfig()
	if err != nil {
		return nil, err
	}

	bundle, err := s.credStore.Load(user)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if bundle == nil {
		return nil, ErrAuthRequired
	}

	// Route refresh round trips through a bounded client.
	refreshCtx := context.WithValue(context.Background(), oauth2.HTTPClient,
		&http.Client{Timeout: s.cfg.Timeout})

	return &persistingTokenSource{
		user:   user,
		scopes: bundle.Scopes,
		store:  s.credStore,
		src:    cfg.TokenSource(refreshCtx, bundle.Token),
		logger: s.logger,
	}, nil
}

// IsAuthenticated reports whether this user holds a valid bundle right now,
// attempting a silent refresh when the stored token has expired. The result
// is computed per call and never cached.
func (s *RemoteStore) IsAuthenticated(ctx context.Context, user string) bool {
	ts, err := s.tokenSource(user)
	if err != nil {
		return false
	}

	if _, err := ts.Token(); err != nil {
		s.logger.WithError(err).WithField("user", user).Debug("drive: token not obtainable, consent needed")
		return false
	}
	return true
}

// IsAvailable implements the Provider availability check.
func (s *RemoteStore) IsAvailable(ctx context.Context, user string) bool {
	return s.IsAuthenticated(ctx, user)
}

// clientFor returns the user's cached Drive client, building one when
// missing. Serialized so racing first requests share one handle.
func (s *RemoteStore) clientFor(user string) (*DriveClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.clients[user]; ok {
		return client, nil
	}

	ts, err := s.tokenSource(user)
	if err != nil {
		return nil, err
	}

	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = s.cfg.Timeout

	client := NewDriveClient(s.cfg.APIBase, s.cfg.UploadBase, httpClient, s.logger)
	s.clients[user] = client
	return client, nil
}

// userFolder names the per-user container on the remote side.
func (s *RemoteStore) userFolder(user string) string {
	return s.cfg.FolderPrefix + models.SanitizeUserID(user)
}

// session resolves the authenticated client and the user's folder id. Every
// file operation goes through here so it can never run unauthenticated or
// against the wrong user's container.
func (s *RemoteStore) session(ctx context.Context, user string) (*DriveClient, string, error) {
	if !s.IsAuthenticated(ctx, user) {
		return nil, "", ErrAuthRequired
	}

	client, err := s.clientFor(user)
	if err != nil {
		return nil, "", err
	}

	folderID, err := client.EnsureFolder(ctx, s.userFolder(user))
	if err != nil {
		return nil, "", err
	}
	return client, folderID, nil
}

// SaveFile upserts: overwrite the existing remote object in place when the
// filename already exists in the user's folder, create otherwise.
func (s *RemoteStore) SaveFile(ctx context.Context, user, filename string, content io.Reader) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	client, folderID, err := s.session(opCtx, user)
	if err != nil {
		return err
	}

	existing, err := client.FindFile(opCtx, folderID, filename)
	switch {
	case err == nil:
		if err := client.UpdateFile(opCtx, existing.ID, content); err != nil {
			return err
		}
		s.logger.WithFields(logrus.Fields{"user": user, "filename": filename}).Debug("drive: updated file")
	case errors.Is(err, ErrNotFound):
		if _, err := client.CreateFile(opCtx, folderID, filename, content); err != nil {
			return err
		}
		s.logger.WithFields(logrus.Fields{"user": user, "filename": filename}).Debug("drive: created file")
	default:
		return err
	}
	return nil
}

func (s *RemoteStore) GetFile(ctx context.Context, user, filename string) (io.ReadCloser, error) {
	opCtx, cancel := s.opContext(ctx)

	client, folderID, err := s.session(opCtx, user)
	if err != nil {
		cancel()
		return nil, err
	}

	file, err := client.FindFile(opCtx, folderID, filename)
	if err != nil {
		cancel()
		return nil, err
	}

	body, err := client.Download(opCtx, file.ID)
	if err != nil {
		cancel()
		return nil, err
	}

	// The reader outlives this call; tie the timeout to its Close.
	return &cancelReadCloser{ReadCloser: body, cancel: cancel}, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (s *RemoteStore) DeleteFile(ctx context.Context, user, filename string) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	client, folderID, err := s.session(opCtx, user)
	if err != nil {
		return err
	}

	file, err := client.FindFile(opCtx, folderID, filename)
	if err != nil {
		return err
	}
	return client.Delete(opCtx, file.ID)
}

func (s *RemoteStore) ListFiles(ctx context.Context, user string) ([]models.FileRecord, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	client, folderID, err := s.session(opCtx, user)
	if err != nil {
		return nil, err
	}

	files, err := client.ListFolder(opCtx, folderID)
	if err != nil {
		return nil, err
	}

	records := make([]models.FileRecord, 0, len(files))
	for _, f := range files {
		records = append(records, models.FileRecord{
			Filename:     f.Name,
			Size:         f.SizeBytes(),
			UploadDate:   ParseDriveTime(f.CreatedTime),
			LastModified: ParseDriveTime(f.ModifiedTime),
			FileType:     models.FileType(f.Name),
			ProviderID:   f.ID,
		})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Filename < records[j].Filename })
	return records, nil
}

func (s *RemoteStore) FileExists(ctx context.Context, user, filename string) (bool, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	client, folderID, err := s.session(opCtx, user)
	if err != nil {
		return false, err
	}

	_, err = client.FindFile(opCtx, folderID, filename)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
