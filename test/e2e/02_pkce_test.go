package e2e

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pkceEnv deja un usuario con sesión y consent openid listos para authorize.
type pkceEnv struct {
	*env
	clientID, clientSecret, bearer string
}

func newPKCEEnv(t *testing.T, email string) *pkceEnv {
	t.Helper()
	e := newEnv(t)
	clientID, clientSecret := e.createClient(t, "Native App", redirectURI)
	userID := e.registerVerifiedUser(t, email, "correct horse battery")
	_, sess := e.login(t, email, "correct horse battery", clientID, "")
	bearer := str(sess, "access_token")
	require.NotEmpty(t, bearer)
	e.grantConsent(t, clientID, userID, "openid")
	return &pkceEnv{env: e, clientID: clientID, clientSecret: clientSecret, bearer: bearer}
}

func (p *pkceEnv) issueCode(t *testing.T, challenge, method string) string {
	t.Helper()
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {p.clientID},
		"redirect_uri":  {redirectURI},
		"scope":         {"openid"},
	}
	if challenge != "" {
		params.Set("code_challenge", challenge)
		params.Set("code_challenge_method", method)
	}
	resp, q := p.authorize(t, p.bearer, params)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Empty(t, q.Get("error"), "authorize: %s", q.Get("error_description"))
	require.NotEmpty(t, q.Get("code"))
	return q.Get("code")
}

func (p *pkceEnv) exchange(t *testing.T, code, verifier string) (*http.Response, map[string]any) {
	t.Helper()
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
		"code":          {code},
		"redirect_uri":  {redirectURI},
	}
	if verifier != "" {
		form.Set("code_verifier", verifier)
	}
	return p.postForm(t, "/oauth2/token", form)
}

func TestPKCES256RoundTrip(t *testing.T) {
	p := newPKCEEnv(t, "pkce-s256@example.com")

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	code := p.issueCode(t, challenge, "S256")

	// verifier equivocado: invalid_grant y el code sobrevive
	resp, body := p.exchange(t, code, "not-the-right-verifier-aaaaaaaaaaaaaaaaaaaa")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_grant", str(body, "error"))

	// verifier ausente con challenge guardado
	resp, body = p.exchange(t, code, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", str(body, "error"))

	resp, tok := p.exchange(t, code, verifier)
	require.Equal(t, http.StatusOK, resp.StatusCode, "exchange: %v", tok)
	assert.NotEmpty(t, str(tok, "access_token"))
}

func TestPKCEPlain(t *testing.T) {
	p := newPKCEEnv(t, "pkce-plain@example.com")

	verifier := "plain-verifier-0123456789-0123456789-0123456789"
	code := p.issueCode(t, verifier, "plain")

	resp, tok := p.exchange(t, code, verifier)
	require.Equal(t, http.StatusOK, resp.StatusCode, "exchange: %v", tok)
	assert.NotEmpty(t, str(tok, "access_token"))
}

func TestVerifierWithoutChallengeRejected(t *testing.T) {
	p := newPKCEEnv(t, "pkce-none@example.com")

	code := p.issueCode(t, "", "")
	resp, body := p.exchange(t, code, "unexpected-verifier-aaaaaaaaaaaaaaaaaaaaaaa")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", str(body, "error"))
}

func TestChallengeWithoutMethodRejectedAtAuthorize(t *testing.T) {
	p := newPKCEEnv(t, "pkce-nomethod@example.com")

	resp, q := p.authorize(t, p.bearer, url.Values{
		"response_type":  {"code"},
		"client_id":      {p.clientID},
		"redirect_uri":   {redirectURI},
		"scope":          {"openid"},
		"code_challenge": {"abc"},
	})
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "invalid_request", q.Get("error"))
}
