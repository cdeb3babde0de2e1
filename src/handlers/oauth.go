package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/eduassist/api/src/drivers/storage"
	"github.com/eduassist/api/src/services/security"
)

// OAuthCallback finishes the Google consent flow. The browser lands here with
// a one-time code; the outcome is always a redirect back to the frontend so
// the user never sees a bare API response.
func OAuthCallback(remote *storage.RemoteStore, frontendURL string, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if errParam := c.Query("error"); errParam != "" {
			logger.WithField("reason", errParam).Warn("oauth: consent denied")
			redirectError(c, frontendURL, "authorization was denied")
			return
		}

		code := c.Query("code")
		state := c.Query("state")
		if code == "" || state == "" {
			redirectError(c, frontendURL, "missing authorization code")
			return
		}

		user, err := remote.CompleteAuth(c.Request.Context(), code, state)
		if err != nil {
			logger.WithError(err).WithField("request_id", c.GetString("request_id")).Error("oauth: token exchange failed")
			if errors.Is(err, security.ErrReplayedCode) {
				redirectError(c, frontendURL, "authorization code already used")
				return
			}
			redirectError(c, frontendURL, "could not complete authorization")
			return
		}

		logger.WithField("user", user).Info("oauth: drive connected")
		c.Redirect(http.StatusFound, frontendURL+"?auth=success&user="+url.QueryEscape(user))
	}
}

func redirectError(c *gin.Context, frontendURL, message string) {
	c.Redirect(http.StatusFound, frontendURL+"?auth=error&message="+url.QueryEscape(message))
}
