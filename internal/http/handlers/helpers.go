package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/veridian/internal/app"
	"github.com/dropDatabas3/veridian/internal/metrics"
	tokens "github.com/dropDatabas3/veridian/internal/security/token"
	"github.com/dropDatabas3/veridian/internal/store/core"
)

// mfaSession es el payload del continuance token: primer factor válido,
// falta el segundo. Vive en cache con TTL corto y se chequea la expiración
// en cada consumo.
type mfaSession struct {
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expires_at"`
}

func mfaTokenKey(raw string) string { return "mfa:token:" + tokens.SHA256Base64URL(raw) }

// mintMFAToken emite un continuance token y lo cachea.
func mintMFAToken(ctx context.Context, c *app.Container, sess mfaSession) (string, error) {
	raw, err := tokens.GenerateOpaque(32)
	if err != nil {
		return "", err
	}
	sess.ExpiresAt = time.Now().Add(c.MFATTL)
	b, _ := json.Marshal(sess)
	c.Cache.Set(ctx, mfaTokenKey(raw), b, c.MFATTL)
	return raw, nil
}

// lookupMFAToken valida un continuance token sin consumirlo.
func lookupMFAToken(ctx context.Context, c *app.Container, raw string) (*mfaSession, bool) {
	if raw == "" {
		return nil, false
	}
	b, ok := c.Cache.Get(ctx, mfaTokenKey(raw))
	if !ok {
		return nil, false
	}
	var sess mfaSession
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, false
	}
	if time.Now().After(sess.ExpiresAt) {
		c.Cache.Delete(ctx, mfaTokenKey(raw))
		return nil, false
	}
	return &sess, true
}

// sessionResponse es el par de tokens de una sesión completa.
type sessionResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// issueSession emite access + refresh para un usuario ya autenticado.
func issueSession(ctx context.Context, c *app.Container, userID, clientID, scope string, amr []string) (*sessionResponse, error) {
	var roles []string
	if u, err := c.Store.GetUserByID(ctx, userID); err == nil {
		roles = u.Roles
	}
	access, exp, err := c.Issuer.IssueAccess(userID, clientID, scope, amr, roles)
	if err != nil {
		return nil, err
	}
	rawRT, err := tokens.GenerateOpaque(32)
	if err != nil {
		return nil, err
	}
	rt := &core.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		ClientID:  clientID,
		Scope:     scope,
		TokenHash: tokens.SHA256Base64URL(rawRT),
		IssuedAt:  time.Now().UTC(),
		ExpiresAt: time.Now().Add(c.RefreshTTL).UTC(),
	}
	if err := c.Store.CreateRefreshToken(ctx, rt); err != nil {
		return nil, err
	}
	metrics.TokensIssued.WithLabelValues("access").Inc()
	metrics.TokensIssued.WithLabelValues("refresh").Inc()
	return &sessionResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(exp).Seconds()),
		RefreshToken: rawRT,
	}, nil
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}
