package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultGoogleUserInfoURL is Google's OpenID userinfo endpoint.
const DefaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// GoogleConfig configures the Google access token introspector.
type GoogleConfig struct {
	UserInfoURL string        `mapstructure:"userinfo_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// GoogleProvider resolves a Google OAuth2 access token into an Identity by
// calling the userinfo endpoint on behalf of the token holder.
type GoogleProvider struct {
	userInfoURL string
	timeout     time.Duration
	client      *http.Client
}

// NewGoogleProvider returns a provider using client as the base transport. A nil
// client uses http.DefaultClient.
func NewGoogleProvider(cfg GoogleConfig, client *http.Client) *GoogleProvider {
	url := strings.TrimSpace(cfg.UserInfoURL)
	if url == "" {
		url = DefaultGoogleUserInfoURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &GoogleProvider{userInfoURL: url, timeout: timeout, client: client}
}

func (p *GoogleProvider) Name() string { return "google" }

// Introspect fetches the userinfo document for accessToken. A non-200 answer
// means Google refused the token and maps to ErrInvalidToken.
func (p *GoogleProvider) Introspect(ctx context.Context, accessToken string) (*Identity, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	}
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("google provider: build request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google provider: userinfo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("google provider: read userinfo: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: google userinfo status %d", ErrInvalidToken, resp.StatusCode)
	}

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("google provider: decode userinfo: %w", err)
	}

	identity := &Identity{
		Provider:      p.Name(),
		Subject:       stringValue(claims, "sub"),
		Email:         strings.TrimSpace(stringValue(claims, "email")),
		EmailVerified: boolValue(claims, "email_verified"),
		FirstName:     stringValue(claims, "given_name"),
		LastName:      stringValue(claims, "family_name"),
		DisplayName:   stringValue(claims, "name"),
		Phone:         stringValue(claims, "phone_number"),
		AvatarURL:     stringValue(claims, "picture"),
		RawClaims:     claims,
	}
	if identity.Subject == "" {
		return nil, fmt.Errorf("%w: userinfo without subject", ErrInvalidToken)
	}

	return identity, nil
}
