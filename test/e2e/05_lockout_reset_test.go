package e2e

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockoutAndPasswordReset(t *testing.T) {
	e := newEnv(t)
	e.registerVerifiedUser(t, "locked@example.com", "correct horse battery")

	// cinco fallos seguidos disparan el lock
	for i := 0; i < 5; i++ {
		resp, _ := e.login(t, "locked@example.com", "wrong password!!", "", "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	// con la cuenta lockeada ni la password correcta entra
	resp, body := e.login(t, "locked@example.com", "correct horse battery", "", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "account locked", str(body, "error_description"))

	// forgot manda el reset token por email
	resp, _ = e.postJSON(t, "/v1/credentials/forgot", "", map[string]any{"email": "locked@example.com"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	msg := e.rec.Last()
	require.NotNil(t, msg)
	resetToken := msg.Code

	// password corta se rechaza sin quemar el token
	resp, _ = e.postJSON(t, "/v1/credentials/reset", "", map[string]any{
		"token": resetToken, "password": "short",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.postJSON(t, "/v1/credentials/reset", "", map[string]any{
		"token": resetToken, "password": "battery staple horse",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// el reset limpia el lockout y la password vieja deja de valer
	resp, sess := e.login(t, "locked@example.com", "battery staple horse", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, "login after reset: %v", sess)
	assert.NotEmpty(t, str(sess, "access_token"))

	resp, _ = e.login(t, "locked@example.com", "correct horse battery", "", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// el reset token es single-use
	resp, _ = e.postJSON(t, "/v1/credentials/reset", "", map[string]any{
		"token": resetToken, "password": "yet another passphrase",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestForgotPasswordEdgeCases(t *testing.T) {
	e := newEnv(t)

	// email desconocido
	resp, body := e.postJSON(t, "/v1/credentials/forgot", "", map[string]any{"email": "ghost@example.com"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", str(body, "error"))

	// registro sin confirmar no puede resetear
	resp, _ = e.postJSON(t, "/v1/credentials/register", "", map[string]any{
		"email": "pending@example.com", "password": "correct horse battery",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, body = e.postJSON(t, "/v1/credentials/forgot", "", map[string]any{"email": "pending@example.com"})
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "method_not_allowed", str(body, "error"))
}

func TestRegisterValidation(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.postJSON(t, "/v1/credentials/register", "", map[string]any{
		"email": "not-an-email", "password": "correct horse battery",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.postJSON(t, "/v1/credentials/register", "", map[string]any{
		"email": "short@example.com", "password": "seven77",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// duplicado
	e.registerVerifiedUser(t, "dup@example.com", "correct horse battery")
	resp, _ = e.postJSON(t, "/v1/credentials/register", "", map[string]any{
		"email": "dup@example.com", "password": "correct horse battery",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestConfirmCodeSingleUse(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.postJSON(t, "/v1/credentials/register", "", map[string]any{
		"email": "once@example.com", "password": "correct horse battery",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	code := e.rec.Last().Code

	resp, _ = e.postJSON(t, "/v1/credentials/confirm", "", map[string]any{"code": code})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.postJSON(t, "/v1/credentials/confirm", "", map[string]any{"code": code})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
