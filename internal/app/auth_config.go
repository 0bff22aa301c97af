package app

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mayfest/accounts/internal/auth"
	"github.com/mayfest/accounts/internal/auth/captcha"
	"github.com/mayfest/accounts/internal/auth/providers"
	"github.com/mayfest/accounts/internal/handlers"
	"github.com/mayfest/accounts/internal/services"
	"github.com/mayfest/accounts/pkg/crypto"
)

// TokenConfig converts AuthConfig into TokenIssuer parameters.
func (c AuthConfig) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		AccessSecret:    c.JWT.AccessSecret,
		RefreshSecret:   c.JWT.RefreshSecret,
		Issuer:          strings.TrimSpace(c.JWT.Issuer),
		AccessTokenTTL:  c.JWT.AccessTokenTTL,
		RefreshTokenTTL: c.JWT.RefreshTokenTTL,
	}
}

// PasswordConfig returns the hashing parameters for new passwords.
func (c AuthConfig) PasswordConfig() crypto.PasswordConfig {
	return c.Password
}

// OTPOptions converts the OTP settings into service options.
func (c AuthConfig) OTPOptions() []services.OTPOption {
	return []services.OTPOption{
		services.WithOTPLength(c.OTP.Length),
		services.WithOTPTTL(c.OTP.TTL),
	}
}

// TurnstileConfig returns the captcha verifier settings.
func (c AuthConfig) TurnstileConfig() captcha.Config {
	cfg := c.Captcha
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	cfg.VerifyURL = strings.TrimSpace(cfg.VerifyURL)
	return cfg
}

// ProviderConfig returns the federated identity provider settings.
func (c AuthConfig) ProviderConfig() providers.Config {
	cfg := c.Federated
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.OIDC.Issuer = strings.TrimSpace(cfg.OIDC.Issuer)
	cfg.OIDC.ClientID = strings.TrimSpace(cfg.OIDC.ClientID)
	return cfg
}

// SpamDomains merges the inline domain list with the optional JSON file.
func (c AuthConfig) SpamDomains() ([]string, error) {
	domains := append([]string(nil), c.Spam.Domains...)
	if path := strings.TrimSpace(c.Spam.DomainsFile); path != "" {
		loaded, err := services.LoadSpamDomains(path)
		if err != nil {
			return nil, err
		}
		domains = append(domains, loaded...)
	}
	return domains, nil
}

// RefreshCookieSettings converts the cookie options for the account handler.
func (c AuthConfig) RefreshCookieSettings() (handlers.RefreshCookie, error) {
	sameSite, err := parseSameSite(c.RefreshCookie.SameSite)
	if err != nil {
		return handlers.RefreshCookie{}, err
	}
	return handlers.RefreshCookie{
		Enabled:  c.RefreshCookie.Enabled,
		Name:     strings.TrimSpace(c.RefreshCookie.Name),
		Path:     strings.TrimSpace(c.RefreshCookie.Path),
		Domain:   strings.TrimSpace(c.RefreshCookie.Domain),
		Secure:   c.RefreshCookie.Secure,
		SameSite: sameSite,
	}, nil
}

func parseSameSite(value string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("auth.refresh_cookie.same_site %q must be lax, strict or none", value)
	}
}
