// Package captcha verifies human-check tokens with Cloudflare Turnstile.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultVerifyURL is the Turnstile siteverify endpoint.
const DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// ErrRejected is returned when the token was checked and refused.
var ErrRejected = errors.New("captcha: token rejected")

// Config configures the Turnstile verifier.
type Config struct {
	Enabled   bool          `mapstructure:"enabled"`
	Secret    string        `mapstructure:"secret"`
	VerifyURL string        `mapstructure:"verify_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
	Action     string   `json:"action"`
}

// Turnstile checks tokens against the siteverify API. When disabled every
// token passes, which is only meant for local development.
type Turnstile struct {
	enabled   bool
	secret    string
	verifyURL string
	client    *http.Client
}

// NewTurnstile validates cfg. A nil client gets one bounded by cfg.Timeout.
func NewTurnstile(cfg Config, client *http.Client) (*Turnstile, error) {
	if cfg.Enabled && strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("captcha: secret is required when enabled")
	}

	verifyURL := strings.TrimSpace(cfg.VerifyURL)
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	return &Turnstile{
		enabled:   cfg.Enabled,
		secret:    cfg.Secret,
		verifyURL: verifyURL,
		client:    client,
	}, nil
}

// Enabled reports whether tokens are actually checked.
func (t *Turnstile) Enabled() bool { return t.enabled }

// Verify returns nil when Turnstile accepts token for remoteIP.
func (t *Turnstile) Verify(ctx context.Context, token, remoteIP string) error {
	if !t.enabled {
		return nil
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: missing token", ErrRejected)
	}

	form := url.Values{
		"secret":   {t.secret},
		"response": {token},
	}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("captcha: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("captcha: siteverify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("captcha: siteverify status %d", resp.StatusCode)
	}

	var result siteverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&result); err != nil {
		return fmt.Errorf("captcha: decode siteverify response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("%w: %s", ErrRejected, strings.Join(result.ErrorCodes, ","))
	}
	return nil
}
