package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/eduassist/api/src/drivers/storage"
	"github.com/eduassist/api/src/models"
	"github.com/eduassist/api/src/services/content"
)

// GetStoragePreferences reports the caller's preferred provider, whether it
// is usable right now, and the providers they can pick from.
func GetStoragePreferences(manager *content.StorageManager, remote *storage.RemoteStore, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == "" {
			return
		}

		preference := manager.Preference(user)
		effective := models.ProviderLocal
		if preference == models.ProviderGoogleDrive && remote.IsAvailable(c.Request.Context(), user) {
			effective = models.ProviderGoogleDrive
		}

		c.JSON(http.StatusOK, gin.H{
			"preference": preference,
			"effective":  effective,
			"providers":  manager.ProviderNames(),
		})
	}
}

type setPreferenceRequest struct {
	Provider string `json:"provider" binding:"required"`
}

// SetStoragePreference updates and persists the caller's provider choice.
func SetStoragePreference(manager *content.StorageManager, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == "" {
			return
		}

		var req setPreferenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body must include a provider name"})
			return
		}

		if err := manager.SetPreference(user, req.Provider); err != nil {
			if errors.Is(err, content.ErrUnknownProvider) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown storage provider: " + req.Provider})
				return
			}
			logger.WithError(err).WithFields(logrus.Fields{
				"user":       user,
				"provider":   req.Provider,
				"request_id": c.GetString("request_id"),
			}).Error("storage: preference update failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save preference"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"preference": req.Provider})
	}
}

type migrateRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

// MigrateStorage moves all of the caller's files between providers and
// reports exactly which files moved and which did not.
func MigrateStorage(manager *content.StorageManager, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == "" {
			return
		}

		var req migrateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "request body must include from and to provider names"})
			return
		}

		report, err := manager.Migrate(c.Request.Context(), user, req.From, req.To)
		switch {
		case errors.Is(err, content.ErrUnknownProvider):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case errors.Is(err, content.ErrPartialMigration):
			c.JSON(http.StatusConflict, gin.H{
				"error":  "some files could not be moved",
				"report": report,
			})
			return
		case err != nil:
			logger.WithError(err).WithFields(logrus.Fields{
				"user":       user,
				"from":       req.From,
				"to":         req.To,
				"request_id": c.GetString("request_id"),
			}).Error("storage: migration failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "migration failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"report": report})
	}
}

// DriveAuthURL starts the consent flow and hands back the URL to visit.
func DriveAuthURL(remote *storage.RemoteStore, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == "" {
			return
		}

		url, err := remote.AuthURL(user)
		if err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"user":       user,
				"request_id": c.GetString("request_id"),
			}).Error("oauth: could not build consent URL")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Google Drive integration is not configured"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"auth_url": url})
	}
}

// DriveStatus reports whether the caller currently has a working Drive grant.
func DriveStatus(remote *storage.RemoteStore, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == "" {
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"configured":    remote.HasClientCredentials(),
			"authenticated": remote.IsAuthenticated(c.Request.Context(), user),
		})
	}
}

// DriveDisconnect discards the caller's stored grant. Their preference is
// left alone; reads simply fall back to local until they reconnect.
func DriveDisconnect(remote *storage.RemoteStore, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == "" {
			return
		}

		if err := remote.Disconnect(user); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"user":       user,
				"request_id": c.GetString("request_id"),
			}).Error("oauth: disconnect failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not remove stored credentials"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"disconnected": true})
	}
}
