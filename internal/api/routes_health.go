package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mayfest/accounts/internal/app"
	"github.com/mayfest/accounts/internal/handlers"
)

func registerHealthRoutes(r *gin.Engine, db *gorm.DB, cfg *app.Config) {
	if !cfg.Monitoring.Health.Enabled {
		return
	}

	health := handlers.Health(db)
	r.GET("/health", health)
	r.GET("/api/health", health)
}
