package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newSiteverify(t *testing.T, status int) (*httptest.Server, *[]map[string]string) {
	t.Helper()
	var calls []map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		calls = append(calls, map[string]string{
			"secret":   r.PostForm.Get("secret"),
			"response": r.PostForm.Get("response"),
			"remoteip": r.PostForm.Get("remoteip"),
		})
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		ok := r.PostForm.Get("response") == "human"
		payload := map[string]any{"success": ok}
		if !ok {
			payload["error-codes"] = []string{"invalid-input-response"}
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestTurnstileAcceptsValidToken(t *testing.T) {
	server, calls := newSiteverify(t, http.StatusOK)
	verifier, err := NewTurnstile(Config{Enabled: true, Secret: "site-secret", VerifyURL: server.URL}, server.Client())
	require.NoError(t, err)

	require.NoError(t, verifier.Verify(context.Background(), "human", "203.0.113.9"))
	require.Len(t, *calls, 1)
	require.Equal(t, map[string]string{"secret": "site-secret", "response": "human", "remoteip": "203.0.113.9"}, (*calls)[0])
}

func TestTurnstileRejectsInvalidToken(t *testing.T) {
	server, _ := newSiteverify(t, http.StatusOK)
	verifier, err := NewTurnstile(Config{Enabled: true, Secret: "site-secret", VerifyURL: server.URL}, server.Client())
	require.NoError(t, err)

	err = verifier.Verify(context.Background(), "bot", "")
	require.ErrorIs(t, err, ErrRejected)
	require.ErrorContains(t, err, "invalid-input-response")
}

func TestTurnstileMissingTokenSkipsNetwork(t *testing.T) {
	server, calls := newSiteverify(t, http.StatusOK)
	verifier, err := NewTurnstile(Config{Enabled: true, Secret: "site-secret", VerifyURL: server.URL}, server.Client())
	require.NoError(t, err)

	require.ErrorIs(t, verifier.Verify(context.Background(), "  ", ""), ErrRejected)
	require.Empty(t, *calls)
}

func TestTurnstileUpstreamFailure(t *testing.T) {
	server, _ := newSiteverify(t, http.StatusBadGateway)
	verifier, err := NewTurnstile(Config{Enabled: true, Secret: "site-secret", VerifyURL: server.URL}, server.Client())
	require.NoError(t, err)

	err = verifier.Verify(context.Background(), "human", "")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrRejected)
}

func TestTurnstileDisabledAlwaysPasses(t *testing.T) {
	verifier, err := NewTurnstile(Config{}, nil)
	require.NoError(t, err)
	require.False(t, verifier.Enabled())
	require.NoError(t, verifier.Verify(context.Background(), "", ""))
}

func TestNewTurnstileRequiresSecret(t *testing.T) {
	_, err := NewTurnstile(Config{Enabled: true}, nil)
	require.Error(t, err)

	verifier, err := NewTurnstile(Config{Enabled: true, Secret: "s"}, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultVerifyURL, verifier.verifyURL)
}
