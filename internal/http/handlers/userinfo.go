package handlers

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/veridian/internal/app"
	httpx "github.com/dropDatabas3/veridian/internal/httpx"
	jwtx "github.com/dropDatabas3/veridian/internal/jwt"
)

// NewUserInfoHandler implementa GET /oauth2/userinfo. Exige un access token
// emitido por el flujo OIDC (scope openid); los claims de perfil se gatean
// por el scope concedido, con las mismas reglas que el ID token.
func NewUserInfoHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := httpx.IdentityFrom(r.Context())
		if id == nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "bearer access token required", 2301)
			return
		}
		if !hasScope(id.Scope, "openid") {
			httpx.WriteError(w, http.StatusForbidden, "forbidden", "token lacks openid scope", 2302)
			return
		}

		u, err := c.Store.GetUserByID(r.Context(), id.UserID)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "subject no longer exists", 2303)
			return
		}

		out := map[string]any{"sub": u.ID}
		for k, v := range jwtx.ScopedClaims(u, id.Scope) {
			out[k] = v
		}
		httpx.WriteJSON(w, http.StatusOK, out)
	}
}

func hasScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}
