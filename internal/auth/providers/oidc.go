package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCConfig configures ID token verification against an OpenID Connect issuer.
type OIDCConfig struct {
	Issuer   string        `mapstructure:"issuer"`
	ClientID string        `mapstructure:"client_id"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// Now overrides the clock used for expiry checks.
	Now func() time.Time `mapstructure:"-"`
}

// OIDCProvider verifies ID tokens issued for ClientID.
type OIDCProvider struct {
	verifier *oidc.IDTokenVerifier
	client   *http.Client
	timeout  time.Duration
}

// NewOIDCProvider performs issuer discovery and prepares an ID token verifier.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig, client *http.Client) (*OIDCProvider, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("oidc provider: issuer is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("oidc provider: client id is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	discoveryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	issuer, err := oidc.NewProvider(discoveryCtx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: discovery failed: %w", err)
	}

	verifier := issuer.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
		Now:      cfg.Now,
	})

	return &OIDCProvider{verifier: verifier, client: client, timeout: timeout}, nil
}

func (p *OIDCProvider) Name() string { return "oidc" }

// Introspect verifies rawIDToken and maps its claims into an Identity.
func (p *OIDCProvider) Introspect(ctx context.Context, rawIDToken string) (*Identity, error) {
	rawIDToken = strings.TrimSpace(rawIDToken)
	if rawIDToken == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if p.client != nil {
		ctx = oidc.ClientContext(ctx, p.client)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("oidc provider: decode claims: %w", err)
	}

	return &Identity{
		Provider:      p.Name(),
		Subject:       idToken.Subject,
		Email:         strings.TrimSpace(stringValue(claims, "email")),
		EmailVerified: boolValue(claims, "email_verified"),
		FirstName:     stringValue(claims, "given_name"),
		LastName:      stringValue(claims, "family_name"),
		DisplayName:   stringValue(claims, "name"),
		Phone:         stringValue(claims, "phone_number"),
		AvatarURL:     stringValue(claims, "picture"),
		RawClaims:     claims,
	}, nil
}
