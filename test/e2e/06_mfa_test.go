package e2e

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/veridian/internal/security/totp"
)

// enrollTOTP deja al usuario con TOTP activo vía sesión completa y devuelve
// el secret crudo más los recovery codes en claro.
func enrollTOTP(t *testing.T, e *env, email string) (secretRaw []byte, recovery []string) {
	t.Helper()
	e.registerVerifiedUser(t, email, "correct horse battery")
	resp, sess := e.login(t, email, "correct horse battery", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bearer := str(sess, "access_token")

	resp, body := e.postJSON(t, "/v1/mfa/associate", bearer, map[string]any{
		"authenticator_type": "totp",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "associate: %v", body)
	require.NotEmpty(t, str(body, "provisioning_uri"))
	secretRaw, err := totp.DecodeSecret(str(body, "secret"))
	require.NoError(t, err)

	// primera enrolación: los recovery codes se muestran aquí y nunca más
	rcs, ok := body["recovery_codes"].([]any)
	require.True(t, ok)
	require.Len(t, rcs, 10)
	for _, rc := range rcs {
		recovery = append(recovery, rc.(string))
	}

	resp, body = e.postJSON(t, "/v1/mfa/confirm", bearer, map[string]any{
		"authenticator_type": "totp",
		"confirmation_code":  totp.Code(secretRaw, time.Now()),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "confirm: %v", body)
	// sesión plena: la respuesta es la lista, no tokens
	require.NotContains(t, body, "access_token")
	list, ok := body["authenticators"].([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	// recovery codes siempre primero
	firstType := list[0].(map[string]any)["authenticator_type"]
	assert.Equal(t, "recovery-codes", firstType)
	return secretRaw, recovery
}

func TestMFAGatingWithTOTP(t *testing.T) {
	e := newEnv(t)
	secretRaw, _ := enrollTOTP(t, e, "totp@example.com")

	// con MFA habilitado la password sola no alcanza
	resp, body := e.login(t, "totp@example.com", "correct horse battery", "", "openid")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "mfa_required", str(body, "error"))
	assert.NotContains(t, body, "access_token")
	mfaToken := str(body, "mfa_token")
	require.NotEmpty(t, mfaToken)

	// código falso no abre la puerta
	resp, body = e.postJSON(t, "/v1/mfa/verify", "", map[string]any{
		"authenticator_type": "totp",
		"code":               "000000",
		"mfa_token":          mfaToken,
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// un step adelante porque el confirm ya consumió el counter actual
	resp, sess := e.postJSON(t, "/v1/mfa/verify", "", map[string]any{
		"authenticator_type": "totp",
		"code":               totp.Code(secretRaw, time.Now().Add(totp.Period*time.Second)),
		"mfa_token":          mfaToken,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "verify: %v", sess)
	assert.NotEmpty(t, str(sess, "access_token"))
	assert.NotEmpty(t, str(sess, "refresh_token"))

	// el continuance token se consumió con el verify exitoso
	resp, _ = e.postJSON(t, "/v1/mfa/verify", "", map[string]any{
		"authenticator_type": "totp",
		"code":               totp.Code(secretRaw, time.Now().Add(2*totp.Period*time.Second)),
		"mfa_token":          mfaToken,
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMFAConfirmViaContinuanceIssuesSession(t *testing.T) {
	e := newEnv(t)
	e.registerVerifiedUser(t, "fresh@example.com", "correct horse battery")

	// habilitar MFA a mano para forzar el gate sin factores confirmados
	require.NoError(t, e.c.Store.SetMFAEnabled(context.Background(), userIDByEmail(t, e, "fresh@example.com"), true))

	resp, body := e.login(t, "fresh@example.com", "correct horse battery", "", "openid")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	mfaToken := str(body, "mfa_token")
	require.NotEmpty(t, mfaToken)

	resp, body = e.postJSON(t, "/v1/mfa/associate", "", map[string]any{
		"authenticator_type": "totp",
		"mfa_token":          mfaToken,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "associate: %v", body)
	raw, err := totp.DecodeSecret(str(body, "secret"))
	require.NoError(t, err)

	// primer confirm por continuance: la respuesta trae la sesión completa
	resp, sess := e.postJSON(t, "/v1/mfa/confirm", "", map[string]any{
		"authenticator_type": "totp",
		"confirmation_code":  totp.Code(raw, time.Now()),
		"mfa_token":          mfaToken,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "confirm: %v", sess)
	assert.NotEmpty(t, str(sess, "access_token"))
	assert.NotEmpty(t, str(sess, "refresh_token"))
}

func TestMFARecoveryCodeSingleUse(t *testing.T) {
	e := newEnv(t)
	_, recovery := enrollTOTP(t, e, "recovery@example.com")
	require.NotEmpty(t, recovery)

	_, body := e.login(t, "recovery@example.com", "correct horse battery", "", "")
	tok1 := str(body, "mfa_token")
	require.NotEmpty(t, tok1)

	resp, sess := e.postJSON(t, "/v1/mfa/verify", "", map[string]any{
		"authenticator_type": "recovery-codes",
		"code":               recovery[0],
		"mfa_token":          tok1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "recovery verify: %v", sess)
	assert.NotEmpty(t, str(sess, "access_token"))

	// el mismo código no vale dos veces
	_, body = e.login(t, "recovery@example.com", "correct horse battery", "", "")
	tok2 := str(body, "mfa_token")
	resp, _ = e.postJSON(t, "/v1/mfa/verify", "", map[string]any{
		"authenticator_type": "recovery-codes",
		"code":               recovery[0],
		"mfa_token":          tok2,
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// uno fresco sí
	resp, _ = e.postJSON(t, "/v1/mfa/verify", "", map[string]any{
		"authenticator_type": "recovery-codes",
		"code":               recovery[1],
		"mfa_token":          tok2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMFAOOBEmailFlow(t *testing.T) {
	e := newEnv(t)
	e.registerVerifiedUser(t, "oob@example.com", "correct horse battery")
	_, sess := e.login(t, "oob@example.com", "correct horse battery", "", "")
	bearer := str(sess, "access_token")

	resp, body := e.postJSON(t, "/v1/mfa/associate", bearer, map[string]any{
		"authenticator_type": "oob-email",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "associate: %v", body)
	oobCode := str(body, "oob_code")
	require.NotEmpty(t, oobCode)
	msg := e.rec.Last()
	require.NotNil(t, msg)
	assert.Equal(t, "oob@example.com", msg.Recipient)

	resp, body = e.postJSON(t, "/v1/mfa/confirm", bearer, map[string]any{
		"authenticator_type": "oob-email",
		"oob_code":           oobCode,
		"confirmation_code":  msg.Code,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "confirm: %v", body)

	// segundo login: gate + challenge que despacha un código nuevo
	_, body = e.login(t, "oob@example.com", "correct horse battery", "", "")
	mfaToken := str(body, "mfa_token")
	require.NotEmpty(t, mfaToken)

	// la lista acepta el continuance token como bearer
	resp, body = e.do(t, http.MethodGet, "/v1/mfa/authenticators", mfaToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var oobID string
	for _, raw := range body["authenticators"].([]any) {
		a := raw.(map[string]any)
		if a["authenticator_type"] == "oob-email" {
			oobID = a["id"].(string)
		}
	}
	require.NotEmpty(t, oobID)

	resp, body = e.postJSON(t, "/v1/mfa/challenge", "", map[string]any{
		"authenticator_id": oobID,
		"mfa_token":        mfaToken,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "challenge: %v", body)
	assert.Equal(t, "oob", str(body, "challenge_type"))
	freshOOB := str(body, "oob_code")
	require.NotEmpty(t, freshOOB)
	freshCode := e.rec.Last().Code

	resp, sess = e.postJSON(t, "/v1/mfa/verify", "", map[string]any{
		"authenticator_type": "oob-email",
		"oob_code":           freshOOB,
		"code":               freshCode,
		"mfa_token":          mfaToken,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "verify: %v", sess)
	assert.NotEmpty(t, str(sess, "access_token"))
}

func TestMFAPendingSlotOverHTTP(t *testing.T) {
	e := newEnv(t)
	e.registerVerifiedUser(t, "slot@example.com", "correct horse battery")
	_, sess := e.login(t, "slot@example.com", "correct horse battery", "", "")
	bearer := str(sess, "access_token")

	resp, _ := e.postJSON(t, "/v1/mfa/associate", bearer, map[string]any{
		"authenticator_type": "totp",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// con sesión plena un pending de otro tipo bloquea la asociación
	resp, body := e.postJSON(t, "/v1/mfa/associate", bearer, map[string]any{
		"authenticator_type": "oob-email",
	})
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "method_not_allowed", str(body, "error"))
}

func TestMFADisableOverHTTP(t *testing.T) {
	e := newEnv(t)
	secretRaw, _ := enrollTOTP(t, e, "disable@example.com")

	_, body := e.login(t, "disable@example.com", "correct horse battery", "", "")
	mfaToken := str(body, "mfa_token")
	resp, sess := e.postJSON(t, "/v1/mfa/verify", "", map[string]any{
		"authenticator_type": "totp",
		"code":               totp.Code(secretRaw, time.Now().Add(totp.Period*time.Second)),
		"mfa_token":          mfaToken,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "verify: %v", sess)
	bearer := str(sess, "access_token")

	resp, _ = e.postJSON(t, "/v1/mfa/disable", bearer, map[string]any{})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// sin factores el login vuelve a ser directo
	resp, sess = e.login(t, "disable@example.com", "correct horse battery", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, str(sess, "access_token"))
}

func TestMFAOperatorForceReset(t *testing.T) {
	e := newEnv(t)
	enrollTOTP(t, e, "locked-out@example.com")

	// gate activo: password sola devuelve mfa_required
	resp, _ := e.login(t, "locked-out@example.com", "correct horse battery", "", "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	userID := userIDByEmail(t, e, "locked-out@example.com")

	// sin rol operator el reset se rechaza
	e.registerVerifiedUser(t, "bystander@example.com", "correct horse battery")
	_, sess := e.login(t, "bystander@example.com", "correct horse battery", "", "")
	resp, _ = e.postJSON(t, "/v1/mfa/reset/"+userID, str(sess, "access_token"), map[string]any{})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	seedOperator(t, e, "ops@example.com")
	_, opSess := e.login(t, "ops@example.com", "correct horse battery", "", "")
	resp, _ = e.postJSON(t, "/v1/mfa/reset/"+userID, str(opSess, "access_token"), map[string]any{})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// el usuario vuelve a entrar solo con password
	resp, sess = e.login(t, "locked-out@example.com", "correct horse battery", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bearer := str(sess, "access_token")
	require.NotEmpty(t, bearer)

	resp, body := e.do(t, http.MethodGet, "/v1/mfa/authenticators", bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list, _ := body["authenticators"].([]any)
	assert.Empty(t, list)
}

func userIDByEmail(t *testing.T, e *env, email string) string {
	t.Helper()
	u, err := e.c.Store.GetUserByEmail(context.Background(), email)
	require.NoError(t, err)
	return u.ID
}
