package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/veridian/internal/app"
	httpx "github.com/dropDatabas3/veridian/internal/httpx"
	"github.com/dropDatabas3/veridian/internal/metrics"
	"github.com/dropDatabas3/veridian/internal/notify"
	"github.com/dropDatabas3/veridian/internal/security/password"
	tokens "github.com/dropDatabas3/veridian/internal/security/token"
	"github.com/dropDatabas3/veridian/internal/store/core"
)

func regCodeKey(code string) string   { return "reg:code:" + tokens.SHA256Base64URL(code) }
func resetTokenKey(tok string) string { return "reset:token:" + tokens.SHA256Base64URL(tok) }

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Name        string `json:"name"`
	GivenName   string `json:"given_name"`
	FamilyName  string `json:"family_name"`
	PhoneNumber string `json:"phone_number"`
}

// NewRegisterHandler implementa POST /v1/credentials/register: crea usuario
// + credencial password con email_verified=false y despacha el código de
// verificación por el notificador (best-effort).
func NewRegisterHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		email := strings.ToLower(strings.TrimSpace(req.Email))
		if email == "" || !strings.Contains(email, "@") {
			httpx.WriteError(w, http.StatusBadRequest, "validation", "valid email required", 2501)
			return
		}
		if len(req.Password) < 8 {
			httpx.WriteError(w, http.StatusBadRequest, "validation", "password too short (min 8)", 2502)
			return
		}
		if _, err := c.Store.GetUserByEmail(r.Context(), email); err == nil {
			httpx.WriteError(w, http.StatusConflict, "conflict", "email already registered", 2503)
			return
		}

		hash, err := password.Hash(req.Password)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "hash_failed", "could not hash password", 2504)
			return
		}
		u := &core.User{
			ID:          uuid.NewString(),
			Email:       email,
			Name:        strings.TrimSpace(req.Name),
			GivenName:   strings.TrimSpace(req.GivenName),
			FamilyName:  strings.TrimSpace(req.FamilyName),
			PhoneNumber: strings.TrimSpace(req.PhoneNumber),
			CreatedAt:   time.Now().UTC(),
		}
		if err := c.Store.CreateUser(r.Context(), u, hash); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "store_error", "could not persist user", 2505)
			return
		}

		code, err := tokens.GenerateNumericCode(6)
		if err == nil {
			b, _ := json.Marshal(map[string]string{"user_id": u.ID})
			c.Cache.Set(r.Context(), regCodeKey(code), b, c.ResetTTL)
			if err := c.Sender.Send(r.Context(), email, code, notify.ChannelEmail); err != nil {
				log.Printf("register: verification send failed for %s: %v", email, err)
			}
		}
		httpx.WriteJSON(w, http.StatusCreated, u)
	}
}

// NewConfirmRegistrationHandler implementa POST /v1/credentials/confirm
// {code}: marca el email como verificado. El código es single-use.
func NewConfirmRegistrationHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Code string `json:"code"`
		}
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		code := strings.TrimSpace(req.Code)
		b, ok := c.Cache.Get(r.Context(), regCodeKey(code))
		if !ok {
			httpx.WriteError(w, http.StatusBadRequest, "validation", "invalid or expired verification code", 2506)
			return
		}
		var payload struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(b, &payload); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "validation", "invalid or expired verification code", 2506)
			return
		}
		c.Cache.Delete(r.Context(), regCodeKey(code))
		if err := c.Store.SetEmailVerified(r.Context(), payload.UserID); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "store_error", "could not verify email", 2507)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"email_verified": true})
	}
}

type authenticateRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
}

// NewAuthenticateHandler implementa POST /v1/credentials/authenticate.
// Éxito con mfa_enabled NO devuelve sesión: 403 mfa_required con un
// MfaToken de continuance como extensión del error.
func NewAuthenticateHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authenticateRequest
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		ctx := r.Context()
		email := strings.ToLower(strings.TrimSpace(req.Email))

		u, err := c.Store.GetUserByEmail(ctx, email)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "invalid credentials", 2510)
			return
		}
		cred, err := c.Store.GetCredential(ctx, u.ID)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "invalid credentials", 2510)
			return
		}
		now := time.Now()
		if cred.LockedUntil != nil && now.Before(*cred.LockedUntil) {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "account locked", 2511)
			return
		}

		if !password.Verify(req.Password, cred.PasswordHash) {
			after, ferr := c.Store.RecordAuthFailure(ctx, u.ID, c.LockoutMax, c.LockoutWindow)
			if ferr == nil && after.LockedUntil != nil && now.Before(*after.LockedUntil) {
				metrics.Lockouts.Inc()
			}
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "invalid credentials", 2510)
			return
		}
		_ = c.Store.ResetAuthFailures(ctx, u.ID)

		if cred.MFAEnabled {
			mfaTok, err := mintMFAToken(ctx, c, mfaSession{
				UserID:   u.ID,
				ClientID: req.ClientID,
				Scope:    req.Scope,
			})
			if err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, "token_gen_failed", "could not mint mfa token", 2512)
				return
			}
			httpx.WriteErrorExt(w, http.StatusForbidden, "mfa_required",
				"multi-factor authentication required", 2513,
				map[string]any{"mfa_token": mfaTok})
			return
		}

		sess, err := issueSession(ctx, c, u.ID, req.ClientID, req.Scope, []string{"pwd"})
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "issue_failed", "could not issue tokens", 2514)
			return
		}
		noStore(w)
		httpx.WriteJSON(w, http.StatusOK, sess)
	}
}

// NewForgotPasswordHandler implementa POST /v1/credentials/forgot {email}:
// emite un reset token single-use y lo manda por email. Registro sin
// verificar -> 405.
func NewForgotPasswordHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email string `json:"email"`
		}
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		ctx := r.Context()
		email := strings.ToLower(strings.TrimSpace(req.Email))

		u, err := c.Store.GetUserByEmail(ctx, email)
		if err != nil {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "unknown email", 2520)
			return
		}
		if !u.EmailVerified {
			httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "registration not verified", 2521)
			return
		}

		tok, err := tokens.GenerateOpaque(32)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "token_gen_failed", "could not mint reset token", 2522)
			return
		}
		b, _ := json.Marshal(map[string]string{"user_id": u.ID})
		c.Cache.Set(ctx, resetTokenKey(tok), b, c.ResetTTL)
		if err := c.Sender.Send(ctx, email, tok, notify.ChannelEmail); err != nil {
			log.Printf("forgot: reset send failed for %s: %v", email, err)
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

// NewResetPasswordHandler implementa POST /v1/credentials/reset
// {token, password}: fija el hash nuevo y limpia lockout + contador.
func NewResetPasswordHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token    string `json:"token"`
			Password string `json:"password"`
		}
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		if len(req.Password) < 8 {
			httpx.WriteError(w, http.StatusBadRequest, "validation", "password too short (min 8)", 2502)
			return
		}
		ctx := r.Context()

		userID, ok := consumeResetToken(ctx, c, strings.TrimSpace(req.Token))
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "invalid or expired reset token", 2523)
			return
		}
		hash, err := password.Hash(req.Password)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "hash_failed", "could not hash password", 2504)
			return
		}
		if err := c.Store.SetPasswordHash(ctx, userID, hash); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "store_error", "could not persist password", 2524)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func consumeResetToken(ctx context.Context, c *app.Container, tok string) (string, bool) {
	if tok == "" {
		return "", false
	}
	b, ok := c.Cache.Get(ctx, resetTokenKey(tok))
	if !ok {
		return "", false
	}
	c.Cache.Delete(ctx, resetTokenKey(tok))
	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(b, &payload); err != nil || payload.UserID == "" {
		return "", false
	}
	return payload.UserID, true
}
