package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/mayfest/accounts/internal/app"
	iauth "github.com/mayfest/accounts/internal/auth"
	"github.com/mayfest/accounts/internal/handlers"
	"github.com/mayfest/accounts/internal/middleware"
	"github.com/mayfest/accounts/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers the account routes.
func NewRouter(db *gorm.DB, tokens *iauth.TokenIssuer, accounts *services.AccountService, cfg *app.Config) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token issuer must be provided")
	}
	if accounts == nil {
		return nil, fmt.Errorf("account service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	cookie, err := cfg.Auth.RefreshCookieSettings()
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	registerHealthRoutes(r, db, cfg)
	registerMonitoringRoutes(r, cfg)

	api := r.Group("/api")
	registerProfileRoutes(api, handlers.NewAccountHandler(accounts, cookie), tokens, cfg.Auth.ServiceKey)

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
