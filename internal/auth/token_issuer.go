package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/errgroup"

	appErrors "github.com/mayfest/accounts/pkg/errors"
)

const (
	// DefaultAccessTokenTTL defines the fallback validity period for access tokens.
	DefaultAccessTokenTTL = 15 * time.Minute
	// DefaultRefreshTokenTTL defines the fallback validity period for refresh tokens.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Token uses embedded in the "use" claim.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// TokenConfig bundles the configuration required to build a TokenIssuer.
type TokenConfig struct {
	AccessSecret    string
	RefreshSecret   string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Clock           func() time.Time
}

// Profile is the account snapshot carried by both tokens.
type Profile struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	FullName *string `json:"fullName"`
	Phone    *string `json:"phone"`
	Gender   *string `json:"gender"`
	Address  *string `json:"address"`
}

// Claims represents the custom claims embedded in issued JWTs.
type Claims struct {
	Profile
	Role string `json:"role"`
	Use  string `json:"use"`
	jwt.RegisteredClaims
}

// TokenPair is the result of a successful authentication.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type signer struct {
	secret []byte
	ttl    time.Duration
	use    string
}

// TokenIssuer mints and verifies access and refresh tokens. The two kinds never
// share secret material, so one can never be accepted in place of the other.
type TokenIssuer struct {
	access  signer
	refresh signer
	issuer  string
	now     func() time.Time
}

// NewTokenIssuer validates cfg and applies default lifetimes.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if cfg.AccessSecret == "" {
		return nil, errors.New("jwt: access secret must be provided")
	}
	if cfg.RefreshSecret == "" {
		return nil, errors.New("jwt: refresh secret must be provided")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("jwt: access and refresh secrets must differ")
	}

	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &TokenIssuer{
		access:  signer{secret: []byte(cfg.AccessSecret), ttl: accessTTL, use: UseAccess},
		refresh: signer{secret: []byte(cfg.RefreshSecret), ttl: refreshTTL, use: UseRefresh},
		issuer:  cfg.Issuer,
		now:     now,
	}, nil
}

// IssuePair signs an access and a refresh token for profile in parallel.
func (s *TokenIssuer) IssuePair(ctx context.Context, profile Profile, role string) (*TokenPair, error) {
	if profile.ID == "" {
		return nil, errors.New("jwt: account id is required")
	}

	now := s.now()
	pair := &TokenPair{
		AccessExpiresAt:  now.Add(s.access.ttl),
		RefreshExpiresAt: now.Add(s.refresh.ttl),
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		token, err := s.sign(s.access, profile, role, now)
		pair.AccessToken = token
		return err
	})
	g.Go(func() error {
		token, err := s.sign(s.refresh, profile, role, now)
		pair.RefreshToken = token
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return pair, nil
}

// VerifyAccess reports whether token is a valid access token and returns its claims.
func (s *TokenIssuer) VerifyAccess(token string) (*Claims, bool) {
	claims, err := s.parse(s.access, token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// VerifyRefresh validates a refresh token. Failures wrap the parse error in
// ErrInvalidRefreshToken.
func (s *TokenIssuer) VerifyRefresh(token string) (*Claims, error) {
	claims, err := s.parse(s.refresh, token)
	if err != nil {
		return nil, appErrors.ErrInvalidRefreshToken.WithInternal(err)
	}
	return claims, nil
}

// Renew validates refreshToken and issues a new pair from its embedded claims.
// The presented refresh token stays valid until it expires.
func (s *TokenIssuer) Renew(ctx context.Context, refreshToken string) (*Claims, *TokenPair, error) {
	claims, err := s.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.IssuePair(ctx, claims.Profile, claims.Role)
	if err != nil {
		return nil, nil, err
	}
	return claims, pair, nil
}

func (s *TokenIssuer) sign(sg signer, profile Profile, role string, now time.Time) (string, error) {
	claims := &Claims{
		Profile: profile,
		Role:    role,
		Use:     sg.use,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   profile.ID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(sg.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(sg.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign %s token: %w", sg.use, err)
	}
	return signed, nil
}

func (s *TokenIssuer) parse(sg signer, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("jwt: token string is empty")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var claims Claims
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return sg.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: parse %s token: %w", sg.use, err)
	}

	if claims.Use != sg.use {
		return nil, fmt.Errorf("jwt: expected %s token, got %q", sg.use, claims.Use)
	}
	if claims.Profile.ID == "" {
		return nil, errors.New("jwt: missing account id claim")
	}

	return &claims, nil
}
