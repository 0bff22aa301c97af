package api

import (
	"github.com/gin-gonic/gin"

	iauth "github.com/mayfest/accounts/internal/auth"
	"github.com/mayfest/accounts/internal/handlers"
	"github.com/mayfest/accounts/internal/middleware"
	"github.com/mayfest/accounts/internal/models"
)

func registerProfileRoutes(api *gin.RouterGroup, handler *handlers.AccountHandler, tokens *iauth.TokenIssuer, serviceKey string) {
	profile := api.Group("/profile")
	{
		profile.POST("/signup", handler.Signup)
		profile.POST("/signup/google", handler.SignupGoogle)
		profile.POST("/signup/verify-otp", handler.VerifyOTP)
		profile.POST("/login", handler.Login)
		profile.POST("/renew-token", handler.RenewToken)
		profile.POST("/auto-login", handler.AutoLogin)
		profile.POST("/email-otp", handler.EmailOTP)
		profile.POST("/forgot-password", handler.ForgotPassword)

		profile.GET("/me", middleware.Auth(tokens), handler.Me)
		profile.GET("/accounts/:id",
			middleware.RequireRoles(tokens, serviceKey, models.RoleAdmin, models.RoleManager, models.RoleService),
			handler.GetAccount,
		)
	}
}
