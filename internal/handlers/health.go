package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mayfest/accounts/internal/database"
	appErrors "github.com/mayfest/accounts/pkg/errors"
	"github.com/mayfest/accounts/pkg/response"
)

const healthPingTimeout = 2 * time.Second

// ErrServiceUnavailable reports a failed readiness dependency.
var ErrServiceUnavailable = appErrors.New("SERVICE_UNAVAILABLE", "Service unavailable", http.StatusServiceUnavailable)

// Health reports readiness. The database is pinged on every call.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(requestContext(c), healthPingTimeout)
		defer cancel()

		if err := database.Ping(ctx, db); err != nil {
			response.Error(c, ErrServiceUnavailable.WithInternal(err))
			return
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok", "database": "ok"})
	}
}
