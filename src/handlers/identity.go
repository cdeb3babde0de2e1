package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// userHeader carries the caller's identity. The API gateway in front of this
// service authenticates the user and forwards the verified id here.
const userHeader = "X-User"

// requireUser pulls the user id from the request, writing a 400 and aborting
// when it is missing. Handlers call it first and bail on empty.
func requireUser(c *gin.Context) string {
	user := strings.TrimSpace(c.GetHeader(userHeader))
	if user == "" {
		user = strings.TrimSpace(c.Query("user_id"))
	}
	if user == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user identity is required"})
		return ""
	}
	return user
}
