package e2e

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoveryDocument(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodGet, "/.well-known/openid-configuration", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NotEmpty(t, str(body, "issuer"))
	assert.Contains(t, str(body, "authorization_endpoint"), "/oauth2/authorize")
	assert.Contains(t, str(body, "token_endpoint"), "/oauth2/token")
	assert.Contains(t, str(body, "userinfo_endpoint"), "/oauth2/userinfo")
	assert.Contains(t, str(body, "jwks_uri"), "/.well-known/jwks.json")

	rts, _ := body["response_types_supported"].([]any)
	assert.Contains(t, rts, "code")
	algs, _ := body["id_token_signing_alg_values_supported"].([]any)
	assert.Contains(t, algs, "RS256")
	pkce, _ := body["code_challenge_methods_supported"].([]any)
	assert.Contains(t, pkce, "S256")
	assert.Contains(t, pkce, "plain")
}

func TestJWKSShape(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodGet, "/.well-known/jwks.json", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	keys, ok := body["keys"].([]any)
	require.True(t, ok)
	require.Len(t, keys, 1)

	k, ok := keys[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "RSA", k["kty"])
	assert.Equal(t, "sig", k["use"])
	assert.Equal(t, "RS256", k["alg"])
	assert.NotEmpty(t, k["kid"])
	assert.NotEmpty(t, k["n"])
	assert.NotEmpty(t, k["e"])
	// material privado jamás sale por JWKS
	assert.NotContains(t, k, "d")
	assert.NotContains(t, k, "p")
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", str(body, "status"))
}
