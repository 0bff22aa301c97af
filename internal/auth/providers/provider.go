package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrInvalidToken is returned when the provider refuses the presented token.
var ErrInvalidToken = errors.New("identity provider: token rejected")

const defaultTimeout = 10 * time.Second

// Identity represents the claims returned from an external identity provider.
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
	DisplayName   string
	Phone         string
	AvatarURL     string
	RawClaims     map[string]any
}

// Name returns the best display name available.
func (i *Identity) Name() string {
	if i == nil {
		return ""
	}
	if name := strings.TrimSpace(i.DisplayName); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(i.FirstName) + " " + strings.TrimSpace(i.LastName))
}

// Provider exchanges an externally issued token for a verified identity.
type Provider interface {
	Name() string
	Introspect(ctx context.Context, token string) (*Identity, error)
}

// Config selects and configures the federated identity provider.
type Config struct {
	Provider string        `mapstructure:"provider"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Google   GoogleConfig  `mapstructure:"google"`
	OIDC     OIDCConfig    `mapstructure:"oidc"`
}

// New builds the provider named by cfg.Provider. OIDC discovery runs during
// construction and honours ctx.
func New(ctx context.Context, cfg Config, client *http.Client) (Provider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "google":
		google := cfg.Google
		if google.Timeout <= 0 {
			google.Timeout = timeout
		}
		return NewGoogleProvider(google, client), nil
	case "oidc":
		oidcCfg := cfg.OIDC
		if oidcCfg.Timeout <= 0 {
			oidcCfg.Timeout = timeout
		}
		return NewOIDCProvider(ctx, oidcCfg, client)
	default:
		return nil, fmt.Errorf("identity provider: unsupported provider %q", cfg.Provider)
	}
}

func stringValue(claims map[string]any, key string) string {
	if v, ok := claims[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func boolValue(claims map[string]any, key string) bool {
	if v, ok := claims[key]; ok {
		switch val := v.(type) {
		case bool:
			return val
		case string:
			return strings.EqualFold(val, "true")
		}
	}
	return false
}
