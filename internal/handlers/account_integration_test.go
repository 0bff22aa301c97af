package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mayfest/accounts/internal/auth/providers"
	"github.com/mayfest/accounts/internal/handlers/testutil"
	"github.com/mayfest/accounts/internal/middleware"
	"github.com/mayfest/accounts/internal/models"
	"github.com/mayfest/accounts/internal/services"
	"github.com/mayfest/accounts/pkg/validator"
)

func signupBody(email string) map[string]string {
	return map[string]string{
		"email":    email,
		"password": "Secret123!",
		"fullName": "Nguyen Van A",
		"phone":    "0912345678",
		"lang":     "vi",
	}
}

func TestSignupVerifyAndProfileFlow(t *testing.T) {
	env := testutil.NewEnv(t)
	email := "flow@example.com"

	w := env.Request(http.MethodPost, "/api/profile/signup", signupBody(email), "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var code testutil.CodePayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &code)
	require.Equal(t, services.ResultOTPSent, code.Code)

	env.Accounts.Wait()
	sent := env.Mail.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, email, sent[0].To)
	require.Equal(t, "signup_otp_vi", sent[0].Template)

	otp := env.StoredOTP(email)
	require.Equal(t, otp, sent[0].Vars["otp"])

	w = env.Request(http.MethodPost, "/api/profile/signup", signupBody(email), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &code)
	require.Equal(t, services.ResultOTPStillValid, code.Code)

	w = env.Request(http.MethodPost, "/api/profile/login", map[string]string{"email": email, "password": "Secret123!"}, "")
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	require.Equal(t, "EMAIL_NOT_VERIFIED", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPost, "/api/profile/signup/verify-otp", map[string]string{"email": email, "otp": otp}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var session testutil.SessionPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &session)
	require.Equal(t, email, session.Email)
	require.Equal(t, models.RoleUser, session.Role)
	require.NotEmpty(t, session.AccessToken)
	require.NotEmpty(t, session.RefreshToken)
	require.NotNil(t, session.Phone)
	require.Equal(t, "+84912345678", *session.Phone)

	w = env.Request(http.MethodPost, "/api/profile/signup/verify-otp", map[string]string{"email": email, "otp": otp}, "")
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	require.Equal(t, "INVALID_OTP", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodGet, "/api/profile/me", nil, session.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var profile struct {
		ID              string `json:"id"`
		Email           string `json:"email"`
		IsEmailVerified bool   `json:"isEmailVerified"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &profile)
	require.Equal(t, session.ID, profile.ID)
	require.True(t, profile.IsEmailVerified)

	env.Login(email, "Secret123!")
}

func TestSignupRejectsInvalidPayloads(t *testing.T) {
	env := testutil.NewEnv(t)

	body := signupBody("not-an-email")
	w := env.Request(http.MethodPost, "/api/profile/signup", body, "")
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	resp := testutil.DecodeResponse(t, w)
	require.Equal(t, "BAD_REQUEST", resp.Error.Code)
	require.Contains(t, resp.Error.Message, "valid email")

	body = signupBody("short@example.com")
	body["password"] = "short"
	w = env.Request(http.MethodPost, "/api/profile/signup", body, "")
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = env.Request(http.MethodPost, "/api/profile/signup", signupBody("bot@mailinator.com"), "")
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	require.Equal(t, "SPAM_EMAIL", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPost, "/api/profile/signup/verify-otp", map[string]string{"email": "a@example.com", "otp": "12a4"}, "")
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	require.Contains(t, testutil.DecodeResponse(t, w).Error.Message, "digits")
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateAccount("known@example.com", "Secret123!", models.RoleUser)

	wrong := env.Request(http.MethodPost, "/api/profile/login", map[string]string{"email": "known@example.com", "password": "Wrong123!"}, "")
	unknown := env.Request(http.MethodPost, "/api/profile/login", map[string]string{"email": "ghost@example.com", "password": "Secret123!"}, "")

	require.Equal(t, http.StatusUnauthorized, wrong.Code)
	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	require.Equal(t, wrong.Body.String(), unknown.Body.String())
}

func TestRenewTokenAndAutoLogin(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateAccount("renew@example.com", "Secret123!", models.RoleUser)
	session := env.Login("renew@example.com", "Secret123!")

	for _, path := range []string{"/api/profile/renew-token", "/api/profile/auto-login"} {
		w := env.Request(http.MethodPost, path, map[string]string{"refresh_token": session.RefreshToken}, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var renewed testutil.SessionPayload
		testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &renewed)
		require.Equal(t, session.ID, renewed.ID)
		require.NotEmpty(t, renewed.AccessToken)
		require.NotEmpty(t, renewed.RefreshToken)
	}

	w := env.Request(http.MethodPost, "/api/profile/renew-token", map[string]string{"refresh_token": session.AccessToken}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
	require.Equal(t, "INVALID_REFRESH_TOKEN", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPost, "/api/profile/renew-token", nil, "")
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestRefreshCookieDelivery(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithRefreshCookie())
	env.CreateAccount("cookie@example.com", "Secret123!", models.RoleUser)

	w := env.Request(http.MethodPost, "/api/profile/login", map[string]string{"email": "cookie@example.com", "password": "Secret123!"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var session testutil.SessionPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &session)
	require.Empty(t, session.RefreshToken)

	var refresh *http.Cookie
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == "refresh_token" {
			refresh = cookie
		}
	}
	require.NotNil(t, refresh)
	require.True(t, refresh.HttpOnly)
	require.Equal(t, "/api/profile", refresh.Path)
	require.Greater(t, refresh.MaxAge, 0)

	w = env.RequestWithHeaders(http.MethodPost, "/api/profile/auto-login", nil, http.Header{}, &http.Cookie{Name: refresh.Name, Value: refresh.Value})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestForgotPasswordFlow(t *testing.T) {
	env := testutil.NewEnv(t)
	email := "forgot@example.com"
	env.CreateAccount(email, "OldSecret1!", models.RoleUser)

	w := env.Request(http.MethodPost, "/api/profile/email-otp", map[string]string{"email": email, "lang": "en"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var code testutil.CodePayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &code)
	require.Equal(t, services.ResultOTPSent, code.Code)

	env.Accounts.Wait()
	sent := env.Mail.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "signup_otp_en", sent[0].Template)

	otp := env.StoredOTP(email)
	wrong := "0000"
	if otp == wrong {
		wrong = "1111"
	}
	w = env.Request(http.MethodPost, "/api/profile/forgot-password", map[string]string{
		"email":    email,
		"otp":      wrong,
		"password": "NewSecret1!",
	}, "")
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	require.Equal(t, "INVALID_OTP", testutil.DecodeResponse(t, w).Error.Code)

	w = env.Request(http.MethodPost, "/api/profile/forgot-password", map[string]string{
		"email":    email,
		"otp":      otp,
		"password": "NewSecret1!",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	env.Login(email, "NewSecret1!")

	w = env.Request(http.MethodPost, "/api/profile/login", map[string]string{"email": email, "password": "OldSecret1!"}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
}

func TestEmailOTPUnknownAccount(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodPost, "/api/profile/email-otp", map[string]string{"email": "nobody@example.com"}, "")
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
	require.Equal(t, "ACCOUNT_NOT_FOUND", testutil.DecodeResponse(t, w).Error.Code)
}

func TestSignupGoogle(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Identity.Register("google-token", &providers.Identity{
		Subject:       "google-sub-1",
		Email:         "federated@example.com",
		EmailVerified: true,
		FirstName:     "Thi",
		LastName:      "Tran",
		RawClaims:     map[string]any{"sub": "google-sub-1"},
	})

	w := env.Request(http.MethodPost, "/api/profile/signup/google", map[string]string{"googleAccessToken": "google-token"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var session testutil.SessionPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &session)
	require.Equal(t, "federated@example.com", session.Email)

	var account models.Account
	require.NoError(t, env.DB.Where("email = ?", "federated@example.com").First(&account).Error)
	require.True(t, account.IsEmailVerified)

	w = env.Request(http.MethodPost, "/api/profile/signup/google", map[string]string{"googleAccessToken": "forged"}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
	require.Equal(t, "INVALID_EXTERNAL_TOKEN", testutil.DecodeResponse(t, w).Error.Code)
}

func TestAccountLookupRequiresRole(t *testing.T) {
	env := testutil.NewEnv(t)
	member := env.CreateAccount("member@example.com", "Secret123!", models.RoleUser)
	env.CreateAccount("admin@example.com", "Secret123!", models.RoleAdmin)
	path := "/api/profile/accounts/" + member.ID

	w := env.Request(http.MethodGet, path, nil, "")
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	user := env.Login("member@example.com", "Secret123!")
	w = env.Request(http.MethodGet, path, nil, user.AccessToken)
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	require.Equal(t, "FORBIDDEN", testutil.DecodeResponse(t, w).Error.Code)

	admin := env.Login("admin@example.com", "Secret123!")
	w = env.Request(http.MethodGet, path, nil, admin.AccessToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	headers := http.Header{}
	headers.Set(middleware.ServiceKeyHeader, testutil.ServiceKey)
	w = env.RequestWithHeaders(http.MethodGet, path, nil, headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	headers.Set(middleware.ServiceKeyHeader, "wrong-key")
	w = env.RequestWithHeaders(http.MethodGet, path, nil, headers)
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/profile/accounts/missing-id", nil, admin.AccessToken)
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
}

func TestIssuedOTPLengthMatchesRequestRule(t *testing.T) {
	env := testutil.NewEnv(t)
	email := "length@example.com"

	w := env.Request(http.MethodPost, "/api/profile/signup", signupBody(email), "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	otp := env.StoredOTP(email)
	require.Len(t, otp, env.Config.Auth.OTP.Length)
	require.True(t, validator.IsOTP(otp))

	for _, path := range []string{"/api/profile/signup/verify-otp", "/api/profile/forgot-password"} {
		w = env.Request(http.MethodPost, path, map[string]string{
			"email":    email,
			"otp":      otp + "00",
			"password": "Another123!",
		}, "")
		require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		resp := testutil.DecodeResponse(t, w)
		require.Equal(t, "BAD_REQUEST", resp.Error.Code)
		require.Contains(t, resp.Error.Message, "otp must be 4 digits")
	}

	w = env.Request(http.MethodPost, "/api/profile/signup/verify-otp", map[string]string{"email": email, "otp": otp}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
