package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/eduassist/api/src/handlers"
)

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// The OAuth callback is hit by the user's browser coming back from
	// Google, not by the frontend, so it lives outside /api.
	s.router.GET("/oauth2callback", handlers.OAuthCallback(s.remoteStore, s.cfg.FrontendURL, s.logger))

	s.setupStorageRoutes()
	s.setupDocumentRoutes()
}

func (s *Server) setupStorageRoutes() {
	group := s.router.Group("/api/v1/storage")
	{
		group.GET("/preferences", handlers.GetStoragePreferences(s.storageManager, s.remoteStore, s.logger))
		group.POST("/preferences", handlers.SetStoragePreference(s.storageManager, s.logger))
		group.POST("/migrate", handlers.MigrateStorage(s.storageManager, s.logger))

		drive := group.Group("/google-drive")
		{
			drive.GET("/auth", handlers.DriveAuthURL(s.remoteStore, s.logger))
			drive.GET("/status", handlers.DriveStatus(s.remoteStore, s.logger))
			drive.POST("/disconnect", handlers.DriveDisconnect(s.remoteStore, s.logger))
		}
	}
}

func (s *Server) setupDocumentRoutes() {
	group := s.router.Group("/api/v1/documents")
	{
		group.GET("", handlers.ListDocuments(s.storageManager, s.logger))
		group.POST("", handlers.UploadDocument(s.storageManager, s.logger))
		group.GET("/:filename", handlers.DownloadDocument(s.storageManager, s.logger))
		group.DELETE("/:filename", handlers.DeleteDocument(s.storageManager, s.logger))
	}
}
