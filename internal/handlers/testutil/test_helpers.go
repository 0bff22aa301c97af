package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mayfest/accounts/internal/api"
	"github.com/mayfest/accounts/internal/app"
	iauth "github.com/mayfest/accounts/internal/auth"
	"github.com/mayfest/accounts/internal/auth/providers"
	sharedtestutil "github.com/mayfest/accounts/internal/database/testutil"
	"github.com/mayfest/accounts/internal/models"
	"github.com/mayfest/accounts/internal/services"
	"github.com/mayfest/accounts/pkg/crypto"
	"github.com/mayfest/accounts/pkg/response"
)

// ServiceKey is the machine-caller key configured for every test router.
const ServiceKey = "test-service-key"

// SentMail records one templated email.
type SentMail struct {
	To       string
	Subject  string
	Template string
	Vars     map[string]string
}

// MailRecorder captures outbound mail instead of delivering it.
type MailRecorder struct {
	mu   sync.Mutex
	sent []SentMail
}

// SendTemplate implements services.MailSender.
func (m *MailRecorder) SendTemplate(_ context.Context, to, subject, template string, vars map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMail{To: to, Subject: subject, Template: template, Vars: vars})
	return nil
}

// Sent returns a copy of the recorded mail.
func (m *MailRecorder) Sent() []SentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMail(nil), m.sent...)
}

// IdentityStub resolves federated tokens from a fixed table.
type IdentityStub struct {
	mu         sync.Mutex
	identities map[string]*providers.Identity
}

// Register makes token resolve to identity.
func (s *IdentityStub) Register(token string, identity *providers.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identities == nil {
		s.identities = make(map[string]*providers.Identity)
	}
	s.identities[token] = identity
}

// Introspect implements services.IdentityProvider.
func (s *IdentityStub) Introspect(_ context.Context, token string) (*providers.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[token]
	if !ok {
		return nil, providers.ErrInvalidToken
	}
	return identity, nil
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	Tokens   *iauth.TokenIssuer
	Hasher   *crypto.PasswordHasher
	Accounts *services.AccountService
	Mail     *MailRecorder
	Identity *IdentityStub
	Config   *app.Config
}

// EnvOption customises the configuration before the router is built.
type EnvOption func(*app.Config)

// WithRefreshCookie enables refresh token delivery through a cookie.
func WithRefreshCookie() EnvOption {
	return func(cfg *app.Config) {
		cfg.Auth.RefreshCookie.Enabled = true
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTConfig{
				AccessSecret:    "test-suite-access-secret-32-bytes!!",
				RefreshSecret:   "test-suite-refresh-secret-32-bytes!",
				Issuer:          "test-suite",
				AccessTokenTTL:  15 * time.Minute,
				RefreshTokenTTL: 7 * 24 * time.Hour,
			},
			Password:   crypto.PasswordConfig{BcryptCost: 4},
			OTP:        app.OTPConfig{Length: 4, TTL: 5 * time.Minute},
			Spam:       app.SpamConfig{Domains: []string{"mailinator.com"}},
			ServiceKey: ServiceKey,
		},
		Email: app.EmailConfig{
			ProductName: "MayFest",
			Website:     "https://mayfest.example",
			DefaultLang: "vi",
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	hasher, err := crypto.NewPasswordHasher(cfg.Auth.PasswordConfig())
	require.NoError(t, err)

	tokens, err := iauth.NewTokenIssuer(cfg.Auth.TokenConfig())
	require.NoError(t, err)

	otp, err := services.NewOTPService(db, cfg.Auth.OTPOptions()...)
	require.NoError(t, err)

	domains, err := cfg.Auth.SpamDomains()
	require.NoError(t, err)

	env := &Env{
		T:        t,
		DB:       db,
		Tokens:   tokens,
		Hasher:   hasher,
		Mail:     &MailRecorder{},
		Identity: &IdentityStub{},
		Config:   cfg,
	}

	env.Accounts, err = services.NewAccountService(db, services.AccountDependencies{
		Hasher:   hasher,
		OTP:      otp,
		Tokens:   tokens,
		Spam:     services.NewSpamFilter(domains...),
		Mail:     env.Mail,
		Identity: env.Identity,
	}, services.WithMailSettings(cfg.Email.MailSettings()))
	require.NoError(t, err)
	t.Cleanup(env.Accounts.Wait)

	env.Router, err = api.NewRouter(db, tokens, env.Accounts, cfg)
	require.NoError(t, err)

	return env
}

// CreateAccount inserts a verified, active account with the given role.
func (e *Env) CreateAccount(email, password, role string) *models.Account {
	e.T.Helper()

	hash, err := e.Hasher.Hash(password)
	require.NoError(e.T, err)

	account := &models.Account{
		Email:           email,
		PasswordHash:    &hash,
		Role:            role,
		IsActive:        true,
		IsEmailVerified: true,
	}
	require.NoError(e.T, e.DB.Create(account).Error)
	return account
}

// StoredOTP returns the code currently stored for email.
func (e *Env) StoredOTP(email string) string {
	e.T.Helper()

	var account models.Account
	require.NoError(e.T, e.DB.Where("email = ?", email).First(&account).Error)
	require.NotNil(e.T, account.OTP, "no otp stored for %s", email)
	return *account.OTP
}

// SessionPayload mirrors the token response of authenticating endpoints.
type SessionPayload struct {
	ID           string  `json:"id"`
	Email        string  `json:"email"`
	FullName     *string `json:"fullName"`
	Phone        *string `json:"phone"`
	Role         string  `json:"role"`
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
}

// CodePayload mirrors result-code responses.
type CodePayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Login authenticates with email and password and returns the issued session.
func (e *Env) Login(email, password string) SessionPayload {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/profile/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var session SessionPayload
	DecodeInto(e.T, resp.Data, &session)
	require.NotEmpty(e.T, session.AccessToken)
	require.Equal(e.T, email, session.Email)
	return session
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	headers := http.Header{}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}
	return e.RequestWithHeaders(method, path, body, headers)
}

// RequestWithHeaders executes a request with caller-supplied headers and cookies.
func (e *Env) RequestWithHeaders(method, path string, body any, headers http.Header, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)
	req.RemoteAddr = "203.0.113.10:4321"

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
