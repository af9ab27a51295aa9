package e2e

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refreshForm(clientID, clientSecret, rt string) url.Values {
	return url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"refresh_token": {rt},
	}
}

func TestRefreshRotation(t *testing.T) {
	e := newEnv(t)
	clientID, clientSecret := e.createClient(t, "Acme Dashboard", redirectURI)
	e.registerVerifiedUser(t, "rotate@example.com", "correct horse battery")

	resp, sess := e.login(t, "rotate@example.com", "correct horse battery", clientID, "openid profile")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	oldAccess := str(sess, "access_token")
	oldRefresh := str(sess, "refresh_token")
	require.NotEmpty(t, oldRefresh)

	resp, tok := e.postForm(t, "/oauth2/token", refreshForm(clientID, clientSecret, oldRefresh))
	require.Equal(t, http.StatusOK, resp.StatusCode, "refresh: %v", tok)
	newAccess := str(tok, "access_token")
	newRefresh := str(tok, "refresh_token")
	assert.NotEmpty(t, newAccess)
	assert.NotEqual(t, oldAccess, newAccess)
	assert.NotEqual(t, oldRefresh, newRefresh)
	// el scope viaja con el refresh token, no se pide de nuevo
	assert.Equal(t, "openid profile", str(tok, "scope"))

	// el refresh viejo quedó revocado por la rotación
	resp, body := e.postForm(t, "/oauth2/token", refreshForm(clientID, clientSecret, oldRefresh))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_grant", str(body, "error"))

	// el nuevo sigue una cadena válida
	resp, tok2 := e.postForm(t, "/oauth2/token", refreshForm(clientID, clientSecret, newRefresh))
	require.Equal(t, http.StatusOK, resp.StatusCode, "second refresh: %v", tok2)
	assert.Equal(t, "openid profile", str(tok2, "scope"))

	// el access rotado alcanza para userinfo (scope openid preservado)
	resp, ui := e.do(t, http.MethodGet, "/oauth2/userinfo", str(tok2, "access_token"))
	require.Equal(t, http.StatusOK, resp.StatusCode, "userinfo: %v", ui)
	assert.NotEmpty(t, str(ui, "sub"))
}

func TestRefreshRejectsForeignClient(t *testing.T) {
	e := newEnv(t)
	clientID, _ := e.createClient(t, "Acme Dashboard", redirectURI)
	otherID, otherSecret := e.createClient(t, "Other App", "")
	e.registerVerifiedUser(t, "foreign@example.com", "correct horse battery")

	resp, sess := e.login(t, "foreign@example.com", "correct horse battery", clientID, "openid")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// otro cliente no puede refrescar un token ajeno
	resp, body := e.postForm(t, "/oauth2/token", refreshForm(otherID, otherSecret, str(sess, "refresh_token")))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_grant", str(body, "error"))
}

func TestRefreshUnknownToken(t *testing.T) {
	e := newEnv(t)
	clientID, clientSecret := e.createClient(t, "Acme Dashboard", redirectURI)

	resp, body := e.postForm(t, "/oauth2/token", refreshForm(clientID, clientSecret, "never-issued"))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_grant", str(body, "error"))
}
