package e2e

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/veridian/internal/security/password"
	"github.com/dropDatabas3/veridian/internal/store/core"
)

// probeKey valida una API key autenticando un endpoint cualquiera que exige
// identidad.
func probeKey(t *testing.T, e *env, rawKey string) int {
	t.Helper()
	resp, _ := e.do(t, http.MethodGet, "/v1/mfa/authenticators", rawKey)
	return resp.StatusCode
}

func TestAPIKeyLifecycle(t *testing.T) {
	e := newEnv(t)
	userID := e.registerVerifiedUser(t, "keys@example.com", "correct horse battery")
	_, sess := e.login(t, "keys@example.com", "correct horse battery", "", "")
	bearer := str(sess, "access_token")

	resp, body := e.postJSON(t, "/v1/apikeys", bearer, map[string]any{})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "create: %v", body)
	key1 := str(body, "key")
	require.NotEmpty(t, key1)
	assert.Equal(t, userID, str(body, "owner_id"))
	assert.Equal(t, "api_key", str(body, "kind"))
	require.Equal(t, http.StatusOK, probeKey(t, e, key1))

	// crear otra supersede la anterior del mismo owner
	resp, body = e.postJSON(t, "/v1/apikeys", bearer, map[string]any{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	key2, key2ID := str(body, "key"), str(body, "id")
	assert.Equal(t, http.StatusUnauthorized, probeKey(t, e, key1))
	require.Equal(t, http.StatusOK, probeKey(t, e, key2))

	// solo el owner puede borrar
	e.registerVerifiedUser(t, "intruder@example.com", "correct horse battery")
	_, other := e.login(t, "intruder@example.com", "correct horse battery", "", "")
	resp, _ = e.do(t, http.MethodDelete, "/v1/apikeys/"+key2ID, str(other, "access_token"))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = e.do(t, http.MethodDelete, "/v1/apikeys/"+key2ID, bearer)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, probeKey(t, e, key2))
}

func TestAnonymousAPIKey(t *testing.T) {
	e := newEnv(t)

	resp, body := e.postJSON(t, "/v1/apikeys", "", map[string]any{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, core.AnonymousUserID, str(body, "owner_id"))
	require.Equal(t, http.StatusOK, probeKey(t, e, str(body, "key")))
}

func TestMachineCredentialIsolatedFromAPIKeys(t *testing.T) {
	e := newEnv(t)
	e.registerVerifiedUser(t, "machine@example.com", "correct horse battery")
	_, sess := e.login(t, "machine@example.com", "correct horse battery", "", "")
	bearer := str(sess, "access_token")

	_, apiKey := e.postJSON(t, "/v1/apikeys", bearer, map[string]any{})
	resp, machine := e.postJSON(t, "/v1/credentials/machine", bearer, map[string]any{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "machine", str(machine, "kind"))

	// la supersesión es por kind: la machine credential no pisa la API key
	assert.Equal(t, http.StatusOK, probeKey(t, e, str(apiKey, "key")))
	assert.Equal(t, http.StatusOK, probeKey(t, e, str(machine, "key")))
}

func TestExpiredAPIKeyRejected(t *testing.T) {
	e := newEnv(t)
	resp, body := e.postJSON(t, "/v1/apikeys", "", map[string]any{"expires_in": -60})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, probeKey(t, e, str(body, "key")))
}

func seedOperator(t *testing.T, e *env, email string) {
	t.Helper()
	hash, err := password.Hash("correct horse battery")
	require.NoError(t, err)
	require.NoError(t, e.c.Store.CreateUser(context.Background(), &core.User{
		ID:            uuid.NewString(),
		Email:         email,
		EmailVerified: true,
		Roles:         []string{"operator"},
		CreatedAt:     time.Now().UTC(),
	}, hash))
}

func TestOperatorRevokesAPIKey(t *testing.T) {
	e := newEnv(t)
	e.registerVerifiedUser(t, "victim@example.com", "correct horse battery")
	_, sess := e.login(t, "victim@example.com", "correct horse battery", "", "")
	_, body := e.postJSON(t, "/v1/apikeys", str(sess, "access_token"), map[string]any{})
	rawKey, keyID := str(body, "key"), str(body, "id")
	require.Equal(t, http.StatusOK, probeKey(t, e, rawKey))

	// sin rol operator el revoke se rechaza
	resp, _ := e.postJSON(t, "/v1/apikeys/"+keyID+"/revoke", str(sess, "access_token"), map[string]any{})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	seedOperator(t, e, "ops@example.com")
	_, opSess := e.login(t, "ops@example.com", "correct horse battery", "", "")
	opBearer := str(opSess, "access_token")
	require.NotEmpty(t, opBearer)

	resp, _ = e.postJSON(t, "/v1/apikeys/"+keyID+"/revoke", opBearer, map[string]any{})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, probeKey(t, e, rawKey))
}
