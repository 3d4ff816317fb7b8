package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"yieldvault/services/vaultd/server"
)

type capturedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]any
}

func stubServer(t *testing.T, status int, reply string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var seen []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := capturedRequest{Method: r.Method, Path: r.URL.RequestURI(), Auth: r.Header.Get("Authorization")}
		if r.ContentLength > 0 {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req.Body))
		}
		seen = append(seen, req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestDepositSendsRequest(t *testing.T) {
	srv, seen := stubServer(t, http.StatusOK, `{"shares":"10"}`)
	out, err := run(t, "--endpoint", srv.URL, "--token", "tok", "deposit", "0xabc", "0xdef", "10")
	require.NoError(t, err)
	require.Contains(t, out, `"shares": "10"`)
	require.Len(t, *seen, 1)
	got := (*seen)[0]
	require.Equal(t, http.MethodPost, got.Method)
	require.Equal(t, "/v1/deposit", got.Path)
	require.Equal(t, "Bearer tok", got.Auth)
	require.Equal(t, map[string]any{"user": "0xabc", "asset": "0xdef", "amount": "10"}, got.Body)
}

func TestClaimWithConversion(t *testing.T) {
	srv, seen := stubServer(t, http.StatusOK, `{"rewards":[]}`)
	_, err := run(t, "--endpoint", srv.URL, "claim", "0xabc", "--to", "0xfff")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"user": "0xabc", "convert": true, "asset": "0xfff"}, (*seen)[0].Body)
}

func TestAssetRemoveAndEvents(t *testing.T) {
	srv, seen := stubServer(t, http.StatusOK, `{}`)
	_, err := run(t, "--endpoint", srv.URL, "asset", "remove", "0xabc")
	require.NoError(t, err)
	_, err = run(t, "--endpoint", srv.URL, "events", "--limit", "3", "--type", "vault.deposit")
	require.NoError(t, err)
	require.Equal(t, http.MethodDelete, (*seen)[0].Method)
	require.Equal(t, "/v1/admin/assets/0xabc", (*seen)[0].Path)
	require.Equal(t, "/v1/events?limit=3&type=vault.deposit", (*seen)[1].Path)
}

func TestAPIErrorSurfaced(t *testing.T) {
	srv, _ := stubServer(t, http.StatusUnprocessableEntity, `{"error":"invalid_asset","message":"vault: invalid asset"}`)
	_, err := run(t, "--endpoint", srv.URL, "deposit", "0xabc", "0xdef", "1")
	require.ErrorContains(t, err, "invalid_asset")
}

func TestTokenVerifiesWithServerAuthenticator(t *testing.T) {
	out, err := run(t, "token", "--secret", "s3cret", "--sub", "0xabc", "--scope", server.ScopeUser)
	require.NoError(t, err)
	auth, err := server.NewAuthenticator(server.AuthConfig{HMACSecret: "s3cret"}, nil)
	require.NoError(t, err)
	principal, err := auth.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, "0xabc", principal.Subject)
	require.True(t, principal.HasScope(server.ScopeUser))
	require.False(t, principal.HasScope(server.ScopeAdmin))
}

func TestTokenRequiresSecret(t *testing.T) {
	t.Setenv(envSecret, "")
	_, err := run(t, "token")
	require.Error(t, err)
}
