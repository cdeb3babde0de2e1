package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/eduassist/api/src/drivers/storage"
	"github.com/eduassist/api/src/services/content"
)

// maxUploadBytes caps document uploads at 50 MiB.
const maxUploadBytes = 50 << 20

// ListDocuments returns the caller's files from whichever provider is
// currently effective for them.
func ListDocuments(manager *content.StorageManager, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == "" {
			return
		}

		provider := manager.ResolveEffective(c.Request.Context(), user)
		records, err := provider.ListFiles(c.Request.Context(), user)
		if err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"user":       user,
				"request_id": c.GetString("request_id"),
			}).Error("documents: list failed")
			writeStorageError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"files": records})
	}
}

// UploadDocument stores a multipart file upload under the caller's space.
func UploadDocument(manager *content.StorageManager, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == "" {
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "a file upload named 'file' is required"})
			return
		}
		if header.Filename == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "uploaded file has no name"})
			return
		}

		src, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
			return
		}
		defer src.Close()

		provider := manager.ResolveEffective(c.Request.Context(), user)
		if err := provider.SaveFile(c.Request.Context(), user, header.Filename, src); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"user":       user,
				"filename":   header.Filename,
				"request_id": c.GetString("request_id"),
			}).Error("documents: upload failed")
			writeStorageError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"filename": header.Filename,
			"size":     header.Size,
		})
	}
}

// DownloadDocument streams a stored file back to the caller.
func DownloadDocument(manager *content.StorageManager, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == "" {
			return
		}
		filename := c.Param("filename")

		provider := manager.ResolveEffective(c.Request.Context(), user)
		reader, err := provider.GetFile(c.Request.Context(), user, filename)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				logger.WithError(err).WithFields(logrus.Fields{
					"user":       user,
					"filename":   filename,
					"request_id": c.GetString("request_id"),
				}).Error("documents: download failed")
			}
			writeStorageError(c, err)
			return
		}
		defer reader.Close()

		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		c.Header("Content-Type", "application/octet-stream")
		c.Status(http.StatusOK)
		if _, err := io.Copy(c.Writer, reader); err != nil {
			// Headers are already gone; all we can do is log the broken stream.
			logger.WithError(err).WithField("filename", filename).Warn("documents: stream interrupted")
		}
	}
}

// DeleteDocument removes a stored file.
func DeleteDocument(manager *content.StorageManager, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := requireUser(c)
		if user == "" {
			return
		}
		filename := c.Param("filename")

		provider := manager.ResolveEffective(c.Request.Context(), user)
		if err := provider.DeleteFile(c.Request.Context(), user, filename); err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				logger.WithError(err).WithFields(logrus.Fields{
					"user":       user,
					"filename":   filename,
					"request_id": c.GetString("request_id"),
				}).Error("documents: delete failed")
			}
			writeStorageError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"deleted": filename})
	}
}

// writeStorageError maps provider errors onto HTTP statuses.
func writeStorageError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
	case errors.Is(err, storage.ErrInvalidFilename):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filename"})
	case errors.Is(err, storage.ErrAuthRequired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "storage provider requires authorization"})
	case errors.Is(err, storage.ErrProviderUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "storage provider unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage operation failed"})
	}
}
