package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mayfest/accounts/internal/middleware"
	"github.com/mayfest/accounts/internal/models"
	"github.com/mayfest/accounts/internal/services"
	"github.com/mayfest/accounts/pkg/errors"
	"github.com/mayfest/accounts/pkg/response"
)

var resultMessages = map[string]string{
	services.ResultOTPSent:       "OTP sent to email",
	services.ResultNewOTPSent:    "A new OTP has been sent to your email.",
	services.ResultOTPStillValid: "The previous OTP is still valid.",
}

// RefreshCookie configures delivery of refresh tokens as an HttpOnly cookie.
// When enabled the token is removed from JSON bodies.
type RefreshCookie struct {
	Enabled  bool
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// AccountHandler exposes the account lifecycle under /api/profile.
type AccountHandler struct {
	accounts *services.AccountService
	cookie   RefreshCookie
}

// NewAccountHandler constructs the handler.
func NewAccountHandler(accounts *services.AccountService, cookie RefreshCookie) *AccountHandler {
	if cookie.Name == "" {
		cookie.Name = "refresh_token"
	}
	if cookie.Path == "" {
		cookie.Path = "/api/profile"
	}
	if cookie.SameSite == 0 {
		cookie.SameSite = http.SameSiteLaxMode
	}
	return &AccountHandler{accounts: accounts, cookie: cookie}
}

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=20"`
	FullName string `json:"fullName" validate:"required,min=1,max=255"`
	Phone    string `json:"phone" validate:"required,min=10,max=20"`
	Lang     string `json:"lang" validate:"omitempty,oneof=en vi"`
}

type signupGoogleRequest struct {
	GoogleAccessToken string `json:"googleAccessToken" validate:"required"`
}

type verifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,otp"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type emailOTPRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Lang         string `json:"lang" validate:"omitempty,oneof=en vi"`
	CaptchaToken string `json:"captchaToken"`
}

type forgotPasswordRequest struct {
	Email    string `json:"email" validate:"required,email"`
	OTP      string `json:"otp" validate:"required,otp"`
	Password string `json:"password" validate:"required,min=8,max=20"`
}

type codeResponse struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type tokenResponse struct {
	ID           string  `json:"id"`
	Email        string  `json:"email"`
	FullName     *string `json:"fullName"`
	Phone        *string `json:"phone"`
	Gender       *string `json:"gender"`
	Address      *string `json:"address"`
	Role         string  `json:"role"`
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token,omitempty"`
}

type profileResponse struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	FullName        *string   `json:"fullName"`
	Phone           *string   `json:"phone"`
	Gender          *string   `json:"gender"`
	Address         *string   `json:"address"`
	Role            string    `json:"role"`
	IsEmailVerified bool      `json:"isEmailVerified"`
	CreatedAt       time.Time `json:"createdAt"`
}

// POST /api/profile/signup
func (h *AccountHandler) Signup(c *gin.Context) {
	var req signupRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.accounts.Signup(requestContext(c), services.SignupInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Phone:    req.Phone,
		Lang:     req.Lang,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if result.Session != nil {
		h.writeSession(c, result.Session)
		return
	}

	status := http.StatusOK
	if result.Code == services.ResultOTPSent {
		status = http.StatusCreated
	}
	response.Success(c, status, newCodeResponse(result.Code))
}

// POST /api/profile/signup/google
func (h *AccountHandler) SignupGoogle(c *gin.Context) {
	var req signupGoogleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	session, err := h.accounts.SignupFederated(requestContext(c), req.GoogleAccessToken)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.writeSession(c, session)
}

// POST /api/profile/signup/verify-otp
func (h *AccountHandler) VerifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if !bindAndValidate(c, &req) {
		return
	}

	session, err := h.accounts.VerifyOTP(requestContext(c), req.Email, req.OTP)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.writeSession(c, session)
}

// POST /api/profile/login
func (h *AccountHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	session, err := h.accounts.Login(requestContext(c), req.Email, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.writeSession(c, session)
}

// POST /api/profile/renew-token
func (h *AccountHandler) RenewToken(c *gin.Context) {
	token, ok := h.refreshToken(c)
	if !ok {
		return
	}

	session, err := h.accounts.RenewToken(requestContext(c), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.writeSession(c, session)
}

// POST /api/profile/auto-login
func (h *AccountHandler) AutoLogin(c *gin.Context) {
	token, ok := h.refreshToken(c)
	if !ok {
		return
	}

	session, err := h.accounts.AutoLogin(requestContext(c), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.writeSession(c, session)
}

// POST /api/profile/email-otp
func (h *AccountHandler) EmailOTP(c *gin.Context) {
	var req emailOTPRequest
	if !bindAndValidate(c, &req) {
		return
	}

	code, err := h.accounts.RequestEmailOTP(requestContext(c), services.EmailOTPInput{
		Email:      req.Email,
		HumanToken: req.CaptchaToken,
		Lang:       req.Lang,
		RemoteIP:   c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, newCodeResponse(code))
}

// POST /api/profile/forgot-password
func (h *AccountHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	session, err := h.accounts.ForgotPassword(requestContext(c), req.Email, req.OTP, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.writeSession(c, session)
}

// GET /api/profile/me
func (h *AccountHandler) Me(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	h.writeProfile(c, claims.Profile.ID)
}

// GET /api/profile/accounts/:id
func (h *AccountHandler) GetAccount(c *gin.Context) {
	h.writeProfile(c, c.Param("id"))
}

func (h *AccountHandler) writeProfile(c *gin.Context, accountID string) {
	account, err := h.accounts.Profile(requestContext(c), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, newProfileResponse(account))
}

func (h *AccountHandler) writeSession(c *gin.Context, session *services.Session) {
	payload := tokenResponse{
		ID:           session.Profile.ID,
		Email:        session.Profile.Email,
		FullName:     session.Profile.FullName,
		Phone:        session.Profile.Phone,
		Gender:       session.Profile.Gender,
		Address:      session.Profile.Address,
		Role:         session.Role,
		AccessToken:  session.Tokens.AccessToken,
		RefreshToken: session.Tokens.RefreshToken,
	}

	if h.cookie.Enabled {
		maxAge := int(time.Until(session.Tokens.RefreshExpiresAt).Seconds())
		if maxAge < 0 {
			maxAge = 0
		}
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     h.cookie.Name,
			Value:    session.Tokens.RefreshToken,
			Path:     h.cookie.Path,
			Domain:   h.cookie.Domain,
			MaxAge:   maxAge,
			Secure:   h.cookie.Secure,
			HttpOnly: true,
			SameSite: h.cookie.SameSite,
		})
		payload.RefreshToken = ""
	}

	response.Success(c, http.StatusOK, payload)
}

// refreshToken reads the token from the JSON body, falling back to the cookie.
// An error response has been written when ok is false.
func (h *AccountHandler) refreshToken(c *gin.Context) (string, bool) {
	var req refreshRequest
	if c.Request.ContentLength != 0 {
		if !bindAndValidate(c, &req) {
			return "", false
		}
	}

	token := strings.TrimSpace(req.RefreshToken)
	if token == "" && h.cookie.Enabled {
		if cookie, err := c.Cookie(h.cookie.Name); err == nil {
			token = strings.TrimSpace(cookie)
		}
	}
	if token == "" {
		response.Error(c, errors.NewBadRequest("refresh token is required"))
		return "", false
	}
	return token, true
}

func newCodeResponse(code string) codeResponse {
	return codeResponse{Code: code, Message: resultMessages[code]}
}

func newProfileResponse(account *models.Account) profileResponse {
	return profileResponse{
		ID:              account.ID,
		Email:           account.Email,
		FullName:        account.FullName,
		Phone:           account.Phone,
		Gender:          account.Gender,
		Address:         account.Address,
		Role:            account.EffectiveRole(),
		IsEmailVerified: account.IsEmailVerified,
		CreatedAt:       account.CreatedAt,
	}
}

// requestContext scopes service calls to the inbound request.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}
