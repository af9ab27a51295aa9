package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/veridian/internal/app"
	httpx "github.com/dropDatabas3/veridian/internal/httpx"
	"github.com/dropDatabas3/veridian/internal/metrics"
	"github.com/dropDatabas3/veridian/internal/mfa"
	"github.com/dropDatabas3/veridian/internal/store/core"
)

// mfaCaller es la identidad resuelta para los endpoints MFA: sesión completa
// o continuance de primer factor (MfaToken como bearer o en el body).
type mfaCaller struct {
	UserID         string
	ViaContinuance bool
	Session        *mfaSession
	RawToken       string
}

func resolveMFACaller(c *app.Container, r *http.Request, bodyToken string) *mfaCaller {
	if id := httpx.Authenticate(c, r); id != nil {
		return &mfaCaller{UserID: id.UserID}
	}
	raw := bodyToken
	if raw == "" {
		raw = httpx.BearerToken(r)
	}
	if sess, ok := lookupMFAToken(r.Context(), c, raw); ok {
		return &mfaCaller{UserID: sess.UserID, ViaContinuance: true, Session: sess, RawToken: raw}
	}
	return nil
}

func writeMFAError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mfa.ErrMethodNotAllowed):
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "association conflicts with a pending authenticator", 2701)
	case errors.Is(err, mfa.ErrInvalidCode):
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "invalid confirmation code", 2702)
	case errors.Is(err, mfa.ErrValidation):
		httpx.WriteError(w, http.StatusBadRequest, "validation", "invalid mfa request", 2703)
	case errors.Is(err, core.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "authenticator not found", 2704)
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "store_error", "mfa operation failed", 2705)
	}
}

// NewMFAListHandler implementa GET /v1/mfa/authenticators. Recovery codes
// siempre primero.
func NewMFAListHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := resolveMFACaller(c, r, "")
		if caller == nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "bearer or mfa_token required", 2700)
			return
		}
		list, err := c.Store.ListAuthenticators(r.Context(), caller.UserID)
		if err != nil {
			writeMFAError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"authenticators": list})
	}
}

type mfaAssociateRequest struct {
	AuthenticatorType string `json:"authenticator_type"`
	PhoneNumber       string `json:"phone_number"`
	MFAToken          string `json:"mfa_token"`
}

// NewMFAAssociateHandler implementa POST /v1/mfa/associate. TOTP devuelve
// provisioning URI; OOB despacha el código por el notificador; la primera
// enrolación trae los recovery codes en claro (única vez).
func NewMFAAssociateHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req mfaAssociateRequest
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		caller := resolveMFACaller(c, r, req.MFAToken)
		if caller == nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "bearer or mfa_token required", 2700)
			return
		}
		u, err := c.Store.GetUserByID(r.Context(), caller.UserID)
		if err != nil {
			writeMFAError(w, err)
			return
		}

		res, err := c.MFA.Associate(r.Context(), u,
			core.AuthenticatorType(strings.TrimSpace(req.AuthenticatorType)),
			req.PhoneNumber, caller.ViaContinuance)
		if err != nil {
			writeMFAError(w, err)
			return
		}

		out := map[string]any{"authenticator": res.Authenticator}
		if res.ProvisioningURI != "" {
			out["provisioning_uri"] = res.ProvisioningURI
			out["secret"] = res.Authenticator.SecretB32
		}
		if res.OOBCode != "" {
			out["oob_code"] = res.OOBCode
		}
		if len(res.RecoveryCodes) > 0 {
			out["recovery_codes"] = res.RecoveryCodes
		}
		httpx.WriteJSON(w, http.StatusCreated, out)
	}
}

type mfaConfirmRequest struct {
	AuthenticatorType string `json:"authenticator_type"`
	OOBCode           string `json:"oob_code"`
	ConfirmationCode  string `json:"confirmation_code"`
	MFAToken          string `json:"mfa_token"`
}

// NewMFAConfirmHandler implementa POST /v1/mfa/confirm. Si el caller venía
// por continuance y este es el primer autenticador confirmado, la respuesta
// trae tokens de sesión completa; con sesión plena solo la lista
// actualizada.
func NewMFAConfirmHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req mfaConfirmRequest
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		caller := resolveMFACaller(c, r, req.MFAToken)
		if caller == nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "bearer or mfa_token required", 2700)
			return
		}
		ctx := r.Context()
		typ := core.AuthenticatorType(strings.TrimSpace(req.AuthenticatorType))

		res, err := c.MFA.Confirm(ctx, caller.UserID, typ, req.OOBCode, req.ConfirmationCode)
		if err != nil {
			metrics.MFAVerifications.WithLabelValues(string(typ), "fail").Inc()
			writeMFAError(w, err)
			return
		}
		metrics.MFAVerifications.WithLabelValues(string(typ), "ok").Inc()

		if caller.ViaContinuance && res.FirstConfirm {
			sess, err := issueSession(ctx, c, caller.UserID, caller.Session.ClientID, caller.Session.Scope, []string{"pwd", "mfa"})
			if err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, "issue_failed", "could not issue tokens", 2706)
				return
			}
			c.Cache.Delete(ctx, mfaTokenKey(caller.RawToken))
			noStore(w)
			httpx.WriteJSON(w, http.StatusOK, sess)
			return
		}

		list, err := c.Store.ListAuthenticators(ctx, caller.UserID)
		if err != nil {
			writeMFAError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"authenticators": list})
	}
}

type mfaChallengeRequest struct {
	AuthenticatorID string `json:"authenticator_id"`
	MFAToken        string `json:"mfa_token"`
}

// NewMFAChallengeHandler implementa POST /v1/mfa/challenge. TOTP devuelve
// un descriptor sin OOB code; OOB despacha uno nuevo.
func NewMFAChallengeHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req mfaChallengeRequest
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		caller := resolveMFACaller(c, r, req.MFAToken)
		if caller == nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "bearer or mfa_token required", 2700)
			return
		}
		res, err := c.MFA.Challenge(r.Context(), caller.UserID, strings.TrimSpace(req.AuthenticatorID))
		if err != nil {
			writeMFAError(w, err)
			return
		}
		out := map[string]any{"challenge_type": res.ChallengeType}
		if res.OOBCode != "" {
			out["oob_code"] = res.OOBCode
		}
		httpx.WriteJSON(w, http.StatusOK, out)
	}
}

type mfaVerifyRequest struct {
	AuthenticatorType string `json:"authenticator_type"`
	OOBCode           string `json:"oob_code"`
	Code              string `json:"code"`
	MFAToken          string `json:"mfa_token"`
}

// NewMFAVerifyHandler implementa POST /v1/mfa/verify: segundo factor
// correcto -> tokens de sesión completa. Recovery codes son single-use.
func NewMFAVerifyHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req mfaVerifyRequest
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		caller := resolveMFACaller(c, r, req.MFAToken)
		if caller == nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "bearer or mfa_token required", 2700)
			return
		}
		ctx := r.Context()
		typ := core.AuthenticatorType(strings.TrimSpace(req.AuthenticatorType))

		if err := c.MFA.Verify(ctx, caller.UserID, typ, req.OOBCode, req.Code); err != nil {
			metrics.MFAVerifications.WithLabelValues(string(typ), "fail").Inc()
			writeMFAError(w, err)
			return
		}
		metrics.MFAVerifications.WithLabelValues(string(typ), "ok").Inc()

		clientID, scope := "", ""
		if caller.Session != nil {
			clientID, scope = caller.Session.ClientID, caller.Session.Scope
		}
		sess, err := issueSession(ctx, c, caller.UserID, clientID, scope, []string{"pwd", "mfa"})
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "issue_failed", "could not issue tokens", 2706)
			return
		}
		if caller.ViaContinuance {
			c.Cache.Delete(ctx, mfaTokenKey(caller.RawToken))
		}
		noStore(w)
		httpx.WriteJSON(w, http.StatusOK, sess)
	}
}

// NewMFADisassociateHandler implementa DELETE /v1/mfa/authenticators/{id}.
// Exige sesión completa; borrar el último factor activo arrastra los
// recovery codes.
func NewMFADisassociateHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := httpx.IdentityFrom(r.Context())
		if err := c.MFA.Disassociate(r.Context(), id.UserID, chi.URLParam(r, "id")); err != nil {
			writeMFAError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// NewMFADisableHandler implementa POST /v1/mfa/disable: borra todos los
// autenticadores y apaga el flag. Re-habilitar arranca de cero.
func NewMFADisableHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := httpx.IdentityFrom(r.Context())
		if err := c.MFA.Disable(r.Context(), id.UserID); err != nil {
			writeMFAError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// NewMFAResetHandler implementa POST /v1/mfa/reset/{user_id}: reset forzado
// por operador, sin importar la sesión del usuario. 202.
func NewMFAResetHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.MFA.Disable(r.Context(), chi.URLParam(r, "user_id")); err != nil {
			writeMFAError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}
