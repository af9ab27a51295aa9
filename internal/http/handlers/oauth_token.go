package handlers

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/veridian/internal/app"
	httpx "github.com/dropDatabas3/veridian/internal/httpx"
	"github.com/dropDatabas3/veridian/internal/metrics"
	"github.com/dropDatabas3/veridian/internal/security/password"
	tokens "github.com/dropDatabas3/veridian/internal/security/token"
	"github.com/dropDatabas3/veridian/internal/store/core"
)

func b64urlSHA256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// pkceMatches valida el code_verifier contra el challenge guardado.
func pkceMatches(method, challenge, verifier string) bool {
	switch {
	case method == "plain":
		return challenge == verifier
	case strings.EqualFold(method, "S256"):
		return challenge == b64urlSHA256(verifier)
	default:
		return false
	}
}

// authenticateClient valida client_id + client_secret contra el hash
// registrado, incluyendo la expiración del secret.
func authenticateClient(c *app.Container, r *http.Request, clientID, clientSecret string) (*core.Client, error) {
	cl, err := c.Store.GetClient(r.Context(), clientID)
	if err != nil {
		return nil, err
	}
	if cl.SecretExpiresAt != nil && !time.Now().Before(*cl.SecretExpiresAt) {
		return nil, core.ErrExpired
	}
	if !password.Verify(clientSecret, cl.SecretHash) {
		return nil, core.ErrInvalid
	}
	return cl, nil
}

// NewOAuthTokenHandler implementa POST /oauth2/token para
// grant_type=authorization_code | refresh_token.
func NewOAuthTokenHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only", 1000)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
		if err := r.ParseForm(); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed form", 2201)
			return
		}

		grantType := strings.TrimSpace(r.PostForm.Get("grant_type"))
		clientID := strings.TrimSpace(r.PostForm.Get("client_id"))
		clientSecret := strings.TrimSpace(r.PostForm.Get("client_secret"))

		cl, err := authenticateClient(c, r, clientID, clientSecret)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed", 2202)
			return
		}

		switch grantType {
		case "authorization_code":
			handleCodeGrant(c, w, r, cl)
		case "refresh_token":
			handleRefreshGrant(c, w, r, cl)
		default:
			httpx.WriteError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant_type", 2203)
		}
	}
}

func handleCodeGrant(c *app.Container, w http.ResponseWriter, r *http.Request, cl *core.Client) {
	code := strings.TrimSpace(r.PostForm.Get("code"))
	redirectURI := strings.TrimSpace(r.PostForm.Get("redirect_uri"))
	codeVerifier := strings.TrimSpace(r.PostForm.Get("code_verifier"))

	if code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code required", 2210)
		return
	}

	ctx := r.Context()

	// Se valida todo antes de consumir: un exchange rechazado no quema el
	// code. Solo el camino feliz lo consume, y el consumo sigue siendo
	// exactly-once en carrera (el perdedor recibe ErrNotFound).
	codeHash := tokens.SHA256Base64URL(code)
	ac, err := c.Store.GetAuthCode(ctx, codeHash)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_grant", "unknown or already used authorization code", 2212)
		return
	}
	if !time.Now().Before(ac.ExpiresAt) {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_grant", "authorization code expired", 2211)
		return
	}
	if ac.ClientID != cl.ID {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_grant", "code was not issued to this client", 2213)
		return
	}
	if ac.RedirectURI != redirectURI {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch", 2214)
		return
	}
	if ac.CodeChallenge != "" {
		if codeVerifier == "" {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code_verifier required", 2215)
			return
		}
		if !pkceMatches(ac.ChallengeMethod, ac.CodeChallenge, codeVerifier) {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed", 2216)
			return
		}
	} else if codeVerifier != "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code_verifier provided without challenge", 2217)
		return
	}

	if _, err := c.Store.ConsumeAuthCode(ctx, codeHash); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_grant", "unknown or already used authorization code", 2212)
		return
	}

	sess, err := issueSession(ctx, c, ac.UserID, cl.ID, ac.Scope, []string{"pwd"})
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "issue_failed", "could not issue tokens", 2218)
		return
	}

	u, err := c.Store.GetUserByID(ctx, ac.UserID)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "issue_failed", "subject not found", 2219)
		return
	}
	idToken, err := c.Issuer.IssueIDToken(u, cl.ID, ac.Scope, ac.Nonce)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "issue_failed", "could not issue id_token", 2220)
		return
	}
	metrics.TokensIssued.WithLabelValues("id").Inc()

	noStore(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"token_type":    "Bearer",
		"expires_in":    sess.ExpiresIn,
		"access_token":  sess.AccessToken,
		"refresh_token": sess.RefreshToken,
		"id_token":      idToken,
		"scope":         ac.Scope,
	})
}

func handleRefreshGrant(c *app.Container, w http.ResponseWriter, r *http.Request, cl *core.Client) {
	refreshToken := strings.TrimSpace(r.PostForm.Get("refresh_token"))
	if refreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token required", 2230)
		return
	}

	ctx := r.Context()
	rt, err := c.Store.GetRefreshTokenByHash(ctx, tokens.SHA256Base64URL(refreshToken))
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_grant", "unknown refresh token", 2231)
		return
	}
	now := time.Now()
	if rt.RevokedAt != nil || !now.Before(rt.ExpiresAt) || rt.ClientID != cl.ID {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_grant", "refresh token revoked, expired or client mismatch", 2232)
		return
	}

	// rotación: el viejo queda inutilizable atómicamente con la creación del
	// nuevo par
	rawRT, err := tokens.GenerateOpaque(32)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "token_gen_failed", "could not generate refresh token", 2233)
		return
	}
	newRT := &core.RefreshToken{
		ID:          uuid.NewString(),
		UserID:      rt.UserID,
		ClientID:    cl.ID,
		Scope:       rt.Scope,
		TokenHash:   tokens.SHA256Base64URL(rawRT),
		IssuedAt:    now.UTC(),
		ExpiresAt:   now.Add(c.RefreshTTL).UTC(),
		RotatedFrom: &rt.ID,
	}
	if err := c.Store.RotateRefreshToken(ctx, rt.ID, newRT); err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_grant", "refresh token already rotated", 2234)
		return
	}

	var roles []string
	if u, err := c.Store.GetUserByID(ctx, rt.UserID); err == nil {
		roles = u.Roles
	}
	access, exp, err := c.Issuer.IssueAccess(rt.UserID, cl.ID, rt.Scope, []string{"refresh"}, roles)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "issue_failed", "could not issue access token", 2235)
		return
	}
	metrics.TokensIssued.WithLabelValues("access").Inc()
	metrics.TokensIssued.WithLabelValues("refresh").Inc()

	noStore(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"token_type":    "Bearer",
		"expires_in":    int64(time.Until(exp).Seconds()),
		"access_token":  access,
		"refresh_token": rawRT,
		"scope":         rt.Scope,
	})
}
